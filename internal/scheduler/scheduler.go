// Package scheduler drives periodic automation sweeps. On each tick it
// lists the open cases and publishes one sweep message per case; the
// worker package picks them up.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/robfig/cron/v3"
)

// CaseLister returns the cases eligible for automation.
type CaseLister interface {
	ListOpenCases(ctx context.Context) ([]*domain.Case, error)
}

// Scheduler owns the cron that fans sweeps out over the event bus.
type Scheduler struct {
	cron     *cron.Cron
	cases    CaseLister
	bus      domain.EventBus
	schedule string
	timeout  time.Duration
}

// New creates a scheduler. An empty schedule disables it.
func New(cases CaseLister, bus domain.EventBus, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:     c,
		cases:    cases,
		bus:      bus,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

// Start registers the sweep job and starts the cron.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		slog.Info("automation sweep disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("automation sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %v", domain.ErrInvalidArgument, s.schedule, err)
	}

	s.cron.Start()
	slog.Info("scheduled automation sweep", "schedule", s.schedule)
	return nil
}

// Stop stops the cron. The returned context is done once a running sweep
// has returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep publishes one sweep request per open case and returns how many
// were published. A failed publish is logged and the rest still go out.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	cases, err := s.cases.ListOpenCases(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open cases: %w", err)
	}

	traceID := uuid.New().String()
	published := 0
	for _, c := range cases {
		payload, err := json.Marshal(domain.SweepRequest{CaseID: c.ID, TraceID: traceID})
		if err != nil {
			return published, err
		}
		if err := s.bus.Publish(ctx, domain.TopicAutomationSweep, payload); err != nil {
			slog.Warn("failed to publish sweep",
				"case_id", c.ID,
				"trace_id", traceID,
				"error", err,
			)
			continue
		}
		published++
	}

	slog.Info("automation sweep published",
		"trace_id", traceID,
		"cases", len(cases),
		"published", published,
	)
	return published, nil
}
