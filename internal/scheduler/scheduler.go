// Package scheduler dispatches pre-scheduled outbound calls on a fixed
// interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/telephony"
)

// Dialer starts one outbound call for a scheduled row.
type Dialer interface {
	DialScheduled(ctx context.Context, sc calls.ScheduledCall) (telephony.PlacedCall, error)
}

// Orchestrator runs one pass per interval. Passes are strictly serialized: a
// slow pass delays the next wake-up, it never overlaps it.
type Orchestrator struct {
	store    calls.Store
	dialer   Dialer
	interval time.Duration
	log      *slog.Logger
	clock    func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(store calls.Store, dialer Dialer, interval time.Duration, log *slog.Logger) *Orchestrator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Orchestrator{
		store:    store,
		dialer:   dialer,
		interval: interval,
		log:      log,
		clock:    time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Safe to call once; returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		go o.loop(ctx)
	})
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.done
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			o.RunPass(ctx)
		}
	}
}

// RunPass dispatches every due row once. A failing row is left in place for
// the next pass and never blocks its siblings. Deletion happens only after a
// successful dispatch, giving at-most-once dialing per row.
func (o *Orchestrator) RunPass(ctx context.Context) {
	now := o.clock().UTC()

	due, err := o.store.DueScheduledCalls(ctx, now)
	if err != nil {
		o.log.Error("scheduled call query failed", "err", err)
		return
	}
	if len(due) == 0 {
		return
	}
	o.log.Info("dispatching scheduled calls", "due", len(due))

	for _, sc := range due {
		placed, err := o.dialer.DialScheduled(ctx, sc)
		if err != nil {
			o.log.Error("scheduled call dispatch failed",
				"scheduled_id", sc.ID, "to", sc.ToNumber, "err", err)
			continue
		}
		if err := o.store.DeleteScheduledCall(ctx, sc.ID); err != nil {
			// Row survives and may be dialed again on the next pass.
			o.log.Error("scheduled call delete failed after dispatch",
				"scheduled_id", sc.ID, "call_sid", placed.CallID, "err", err)
			continue
		}
		o.log.Info("scheduled call dispatched",
			"scheduled_id", sc.ID, "call_sid", placed.CallID)
	}
}
