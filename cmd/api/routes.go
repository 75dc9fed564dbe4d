package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"voicebridge/internal/relay"
	"voicebridge/internal/webhook"
	"voicebridge/pkg/logger"
)

// newRouter wires all HTTP routes. Every webhook endpoint sits behind
// signature verification; the media-stream endpoint authenticates with its
// own stream token instead.
func newRouter(log *slog.Logger, h *Handlers, relayHandler *relay.Handler, verifier *webhook.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	r.GET("/healthz", h.Healthz)

	hooks := r.Group("/webhooks")
	{
		hooks.POST("/voice", webhook.Middleware(verifier, webhook.ModeForm), h.Voice)
		hooks.POST("/call-status", webhook.Middleware(verifier, webhook.ModeForm), h.CallStatus)
		hooks.POST("/recording-status", webhook.Middleware(verifier, webhook.ModeForm), h.RecordingStatus)
		hooks.POST("/transcript-ready", webhook.Middleware(verifier, webhook.ModeJSON), h.TranscriptReady)
	}

	r.GET("/media-stream", relayHandler.HandleMediaStream)

	return r
}
