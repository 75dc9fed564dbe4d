package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voicebridge/internal/calendar"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/pipeline"
	"voicebridge/internal/relay"
	"voicebridge/internal/scenario"
	"voicebridge/internal/scheduler"
	"voicebridge/internal/streamtoken"
	"voicebridge/internal/telephony"
	"voicebridge/internal/webhook"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/retry"
	"voicebridge/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors include a missing webhook signing secret outside
		// local/dev; refusing to start beats running unverified.
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres open failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis open failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// All collaborators are constructed here and passed by reference; no
	// package-level clients anywhere.
	store := calls.NewPostgresStore(db)
	tracker := calls.NewTracker(store)
	deliveries := webhook.NewPostgresDeliveryLog(db)
	provider, err := telephony.NewTwilioProvider(cfg.Telephony)
	if err != nil {
		log.Error("telephony provider init failed", "err", err)
		os.Exit(1)
	}

	tokens, err := streamtoken.NewManager(cfg.Stream)
	if err != nil {
		log.Error("stream token manager init failed", "err", err)
		os.Exit(1)
	}

	var calendars calendar.Factory
	if cfg.Calendar.TokenKey != "" {
		tokenCipher, err := calendar.NewTokenCipher(cfg.Calendar.TokenKey)
		if err != nil {
			log.Error("calendar token key invalid", "err", err)
			os.Exit(1)
		}
		creds := calendar.NewPostgresCredentialStore(db, tokenCipher)
		calendars = calendar.NewGoogleFactory(creds, cfg.Calendar.CalendarID)
	} else {
		log.Warn("calendar token key absent; calendar features disabled")
		calendars = noCredentialFactory{}
	}

	scenarios := scenario.NewRegistry()
	proc := pipeline.New(
		provider,
		tracker,
		store,
		calendars,
		pipeline.NewPhraseIntentDetector(),
		pipeline.NewHeuristicExtractor(time.Local),
		retry.DefaultPolicy(),
	)

	verifier := webhook.NewVerifier(cfg.Telephony.AuthToken, cfg.IsDevelopment())
	relayHandler := relay.NewHandler(
		tokens,
		relay.NewWebsocketSpeechDialer(cfg.Speech),
		tracker,
		scenarios,
		cfg.Speech,
		cfg.Stream,
		rdb,
	)

	h := &Handlers{
		Cfg:        &cfg,
		Tracker:    tracker,
		Pipeline:   proc,
		Tokens:     tokens,
		Deliveries: deliveries,
	}

	dialer := scheduler.NewProviderDialer(provider, tracker, cfg.App.PublicBaseURL+"/webhooks/voice")
	orch := scheduler.New(store, dialer, cfg.Scheduler.Interval, log)
	orch.Start(ctx)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(log, h, relayHandler, verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "env", cfg.App.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
	orch.Stop()
	log.Info("shutdown complete")
}

// noCredentialFactory disables calendar processing when no token key is
// configured (allowed outside production only).
type noCredentialFactory struct{}

func (noCredentialFactory) ClientFor(context.Context, string) (calendar.Client, error) {
	return nil, calendar.ErrNoCredential
}
