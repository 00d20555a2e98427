// Package worker runs automation sweeps delivered over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/domain"
)

// Automator runs the automation pass of one case.
type Automator interface {
	ProcessAutomation(ctx context.Context, caseID string) (*automation.Result, error)
}

// Worker consumes automation sweep messages. Sweeps for different cases run
// concurrently; a second sweep for a case that is still running is skipped.
type Worker struct {
	bus       domain.EventBus
	automator Automator

	mu            sync.Mutex
	inFlight      map[string]struct{}
	subscriptions []domain.Subscription
	slots         chan struct{}
	timeout       time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds the number of concurrent sweeps.
	WorkerCount int

	// SweepTimeout caps a single case sweep.
	SweepTimeout time.Duration
}

// NewWorker creates a new sweep worker.
func NewWorker(bus domain.EventBus, automator Automator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		automator: automator,
		inFlight:  make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the automation sweep topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = time.Minute
	}
	w.slots = make(chan struct{}, cfg.WorkerCount)
	w.timeout = cfg.SweepTimeout

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAutomationSweep, w.handleSweep)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("sweep worker started",
		"topic", domain.TopicAutomationSweep,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleSweep claims the case and hands it to a goroutine so the bus
// subscription keeps draining.
func (w *Worker) handleSweep(ctx context.Context, msg *domain.Message) error {
	var req domain.SweepRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse sweep message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.CaseID == "" {
		slog.Warn("sweep message without case", "message_id", msg.ID)
		return nil
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.Metadata["trace_id"]
	}
	if traceID == "" {
		traceID = msg.ID
	}

	if !w.claim(req.CaseID) {
		slog.Debug("sweep already running",
			"case_id", req.CaseID,
			"trace_id", traceID,
		)
		return nil
	}

	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
		w.release(req.CaseID)
		return w.ctx.Err()
	}
	if w.ctx.Err() != nil {
		<-w.slots
		w.release(req.CaseID)
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		defer w.release(req.CaseID)
		w.sweep(req.CaseID, traceID)
	}()
	return nil
}

func (w *Worker) sweep(caseID, traceID string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	res, err := w.automator.ProcessAutomation(ctx, caseID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		slog.Debug("sweep skipped, case not configured",
			"case_id", caseID,
			"trace_id", traceID,
		)
	case err != nil:
		slog.Error("automation sweep failed",
			"case_id", caseID,
			"trace_id", traceID,
			"error", err,
		)
	default:
		slog.Info("automation sweep processed",
			"case_id", caseID,
			"trace_id", traceID,
			"tier", res.Tier,
			"processed", res.Processed,
			"errors", len(res.Errors),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (w *Worker) claim(caseID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[caseID]; busy {
		return false
	}
	w.inFlight[caseID] = struct{}{}
	return true
}

func (w *Worker) release(caseID string) {
	w.mu.Lock()
	delete(w.inFlight, caseID)
	w.mu.Unlock()
}

// Stop unsubscribes and waits for running sweeps to finish.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("sweep worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.inFlight),
	}
}
