package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/pipeline"
	"voicebridge/internal/streamtoken"
	"voicebridge/internal/telephony"
	"voicebridge/internal/webhook"
	"voicebridge/pkg/logger"
)

// Handlers groups webhook handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, respond.
//
// Response policy: 200 whenever any durable progress was made (even partial);
// 4xx only for authentication failures and malformed requests; 5xx when
// nothing was persisted so the provider retries.
type Handlers struct {
	Cfg        *config.Config
	Tracker    *calls.Tracker
	Pipeline   *pipeline.Pipeline
	Tokens     *streamtoken.Manager
	Deliveries webhook.DeliveryLog

	clock func() time.Time
}

// Voice answers a connecting call with TwiML that bridges it onto the
// media-stream relay. Scenario and user travel via query params set when the
// call was placed; inbound calls get the defaults.
func (h *Handlers) Voice(c *gin.Context) {
	log := logger.FromGin(c)

	p, err := telephony.ParseCallStatus(c.Request)
	if err != nil || p.CallSid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed voice webhook"})
		return
	}

	scenarioKey := c.Query("scenario")
	userID := c.Query("user_id")

	if _, err := h.Tracker.RecordStatus(c.Request.Context(), calls.StatusEvent{
		ExternalID:        p.CallSid,
		Status:            calls.StatusRinging,
		Direction:         p.TrackedDirection(),
		CounterpartNumber: p.CounterpartNumber(),
		Scenario:          scenarioKey,
		UserID:            userID,
	}); err != nil {
		log.Error("voice webhook: call registration failed", "call_sid", p.CallSid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	token, err := h.Tokens.Issue(h.now(), p.CallSid, userID, scenarioKey)
	if err != nil {
		log.Error("voice webhook: token issue failed", "call_sid", p.CallSid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	xml, err := telephony.StreamAnswer(h.Cfg.MediaStreamURL(token))
	if err != nil {
		log.Error("voice webhook: twiml build failed", "call_sid", p.CallSid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "answer build failed"})
		return
	}

	h.logDelivery(c, "voice", p.CallSid, "")
	c.Data(http.StatusOK, "text/xml", []byte(xml))
}

// CallStatus applies one status observation.
func (h *Handlers) CallStatus(c *gin.Context) {
	p, err := telephony.ParseCallStatus(c.Request)
	if err != nil || p.CallSid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed status webhook"})
		return
	}
	if !p.Status().Known() {
		logger.FromGin(c).Warn("unknown call status ignored", "call_sid", p.CallSid, "status", p.CallStatus)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if _, err := h.Tracker.RecordStatus(c.Request.Context(), calls.StatusEvent{
		ExternalID:        p.CallSid,
		Status:            p.Status(),
		Direction:         p.TrackedDirection(),
		CounterpartNumber: p.CounterpartNumber(),
	}); err != nil {
		logger.FromGin(c).Error("status webhook failed", "call_sid", p.CallSid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}

	h.logDelivery(c, "call-status", p.CallSid, "")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RecordingStatus attaches a recording artifact to its call.
func (h *Handlers) RecordingStatus(c *gin.Context) {
	p, err := telephony.ParseRecordingStatus(c.Request)
	if err != nil || p.RecordingSid == "" || p.CallSid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed recording webhook"})
		return
	}

	if err := h.Tracker.AttachRecording(c.Request.Context(), p.CallSid, p.RecordingSid, p.RecordingStatus); err != nil {
		logger.FromGin(c).Error("recording webhook failed",
			"call_sid", p.CallSid, "recording_sid", p.RecordingSid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recording attach failed"})
		return
	}

	h.logDelivery(c, "recording-status", p.CallSid, p.RecordingSid)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TranscriptReady kicks off post-call processing. Partial progress still
// acknowledges with 200; only a transcript fetch exhaustion earns a 502 so
// the provider redelivers.
func (h *Handlers) TranscriptReady(c *gin.Context) {
	p, err := telephony.ParseTranscriptReady(c.Request)
	if err != nil || p.TranscriptSid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed transcript webhook"})
		return
	}

	res, err := h.Pipeline.ProcessTranscript(c.Request.Context(), p.TranscriptSid, p.CallSid)
	if err != nil {
		logger.FromGin(c).Error("transcript pipeline failed", "transcript_sid", p.TranscriptSid, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "transcript fetch failed"})
		return
	}

	h.logDelivery(c, "transcript-ready", p.CallSid, p.TranscriptSid)
	c.JSON(http.StatusOK, gin.H{
		"transcript_persisted":   res.TranscriptPersisted,
		"calendar_event_created": res.CalendarEventCreated,
		"detail":                 res.Detail,
	})
}

// Healthz reports liveness.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": h.now().UTC().Format(time.RFC3339)})
}

// logDelivery appends to the webhook delivery log; best effort only.
func (h *Handlers) logDelivery(c *gin.Context, endpoint, callSID, resourceID string) {
	if h.Deliveries == nil {
		return
	}
	if err := h.Deliveries.Append(c.Request.Context(), webhook.Delivery{
		Endpoint:   endpoint,
		CallSID:    callSID,
		ResourceID: resourceID,
	}); err != nil {
		logger.FromGin(c).Warn("delivery log append failed", "endpoint", endpoint, "err", err)
	}
}

func (h *Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}
