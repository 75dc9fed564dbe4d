package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/scenario"
	"voicebridge/internal/streamtoken"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/utils"
)

const speechDialTimeout = 10 * time.Second

// Handler upgrades media-stream requests and runs one relay session per
// accepted call.
type Handler struct {
	tokens    *streamtoken.Manager
	dialer    SpeechDialer
	tracker   *calls.Tracker
	scenarios *scenario.Registry
	speech    config.SpeechConfig
	stream    config.StreamConfig

	// rdb caps concurrent sessions per user. Nil disables the cap (tests,
	// single-tenant deployments).
	rdb *redis.Client

	upgrader websocket.Upgrader
	clock    func() time.Time
}

func NewHandler(
	tokens *streamtoken.Manager,
	dialer SpeechDialer,
	tracker *calls.Tracker,
	scenarios *scenario.Registry,
	speech config.SpeechConfig,
	stream config.StreamConfig,
	rdb *redis.Client,
) *Handler {
	return &Handler{
		tokens:    tokens,
		dialer:    dialer,
		tracker:   tracker,
		scenarios: scenarios,
		speech:    speech,
		stream:    stream,
		rdb:       rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider sends no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clock: time.Now,
	}
}

// HandleMediaStream verifies the stream token, upgrades the socket and runs
// the session to completion. The HTTP handler returns only when the call
// ends.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	log := logger.FromGin(c)

	claims, err := h.tokens.Verify(c.Query("token"), h.clock())
	if err != nil {
		log.Warn("media-stream token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid stream token"})
		return
	}
	log = log.With("call_sid", claims.CallSID)

	release, err := h.acquireSlot(c.Request.Context(), claims.UserID)
	if err != nil {
		log.Warn("relay session rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "session limit reached"})
		return
	}
	defer release()

	telephonyConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Error("media-stream upgrade failed", "err", err)
		return
	}

	dialCtx, cancel := context.WithTimeout(c.Request.Context(), speechDialTimeout)
	speechConn, err := h.dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		log.Error("speech leg dial failed", "err", err)
		_ = telephonyConn.Close()
		return
	}

	if h.tracker != nil {
		if _, err := h.tracker.RecordStatus(c.Request.Context(), calls.StatusEvent{
			ExternalID: claims.CallSID,
			Status:     calls.StatusInProgress,
			UserID:     claims.UserID,
			Scenario:   claims.Scenario,
		}); err != nil {
			log.Warn("status update on stream open failed", "err", err)
		}
	}

	persona := h.scenarios.Resolve(claims.Scenario)
	session := NewSession(telephonyConn, Config{
		CallSID:           claims.CallSID,
		Instructions:      persona.Instructions,
		Voice:             h.speech.Voice,
		InputAudioFormat:  h.speech.InputAudioFormat,
		OutputAudioFormat: h.speech.OutputAudioFormat,
		TurnDetectionType: h.speech.TurnDetectionType,
		TurnThreshold:     h.speech.TurnThreshold,
		PrefixPaddingMs:   h.speech.PrefixPaddingMs,
		SilenceDurationMs: h.speech.SilenceDurationMs,
		Temperature:       h.speech.Temperature,
	}, log)

	if err := session.Run(speechConn); err != nil {
		log.Error("relay session ended with error", "err", err, "state", session.State().String())
		return
	}
	log.Info("relay session ended", "state", session.State().String())
}

// acquireSlot enforces the per-user concurrent session cap. The returned
// release func is always safe to call.
func (h *Handler) acquireSlot(ctx context.Context, userID string) (func(), error) {
	if h.rdb == nil || userID == "" {
		return func() {}, nil
	}
	key := fmt.Sprintf("relay:sessions:%s", userID)
	ttl := h.stream.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	ok, err := utils.AcquireSessionSlot(ctx, h.rdb, key, h.stream.MaxSessionsPerUser, ttl)
	if err != nil {
		return func() {}, fmt.Errorf("relay: session slot: %w", err)
	}
	if !ok {
		return func() {}, fmt.Errorf("relay: user %s at session limit", userID)
	}
	return func() {
		// Release is best effort; the TTL reclaims leaked slots.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseSessionSlot(releaseCtx, h.rdb, key)
	}, nil
}
