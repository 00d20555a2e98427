package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/bus"
	"github.com/opensource-finance/docket/internal/domain"
)

// fakeAutomator records sweeps; a case listed in block waits for release.
type fakeAutomator struct {
	mu      sync.Mutex
	calls   map[string]int
	block   map[string]chan struct{}
	started chan string
}

func newFakeAutomator() *fakeAutomator {
	return &fakeAutomator{
		calls:   make(map[string]int),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (f *fakeAutomator) ProcessAutomation(ctx context.Context, caseID string) (*automation.Result, error) {
	f.mu.Lock()
	f.calls[caseID]++
	gate := f.block[caseID]
	f.mu.Unlock()

	f.started <- caseID
	if gate != nil {
		<-gate
	}
	if caseID == "unconfigured" {
		return nil, fmt.Errorf("%w: configuration", domain.ErrNotFound)
	}
	return &automation.Result{Tier: domain.TierAutomated, Processed: 1}, nil
}

func (f *fakeAutomator) count(caseID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[caseID]
}

func publishSweep(t *testing.T, b domain.EventBus, caseID string) {
	t.Helper()
	payload, _ := json.Marshal(domain.SweepRequest{CaseID: caseID})
	if err := b.Publish(context.Background(), domain.TopicAutomationSweep, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitStarted(t *testing.T, f *fakeAutomator, want string) {
	t.Helper()
	select {
	case got := <-f.started:
		if got != want {
			t.Fatalf("expected sweep for %s, got %s", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for sweep of %s", want)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newFakeAutomator())
		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicAutomationSweep {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("RunsSweep", func(t *testing.T) {
		auto := newFakeAutomator()
		w := NewWorker(eventBus, auto)
		w.Start(Config{})
		defer w.Stop()

		publishSweep(t, eventBus, "case-1")
		waitStarted(t, auto, "case-1")

		if auto.count("case-1") != 1 {
			t.Errorf("expected one sweep, got %d", auto.count("case-1"))
		}
	})

	t.Run("SkipsCaseAlreadyRunning", func(t *testing.T) {
		auto := newFakeAutomator()
		gate := make(chan struct{})
		auto.block["case-busy"] = gate

		w := NewWorker(eventBus, auto)
		w.Start(Config{WorkerCount: 2})
		defer w.Stop()

		publishSweep(t, eventBus, "case-busy")
		waitStarted(t, auto, "case-busy")

		publishSweep(t, eventBus, "case-busy")
		publishSweep(t, eventBus, "case-other")
		waitStarted(t, auto, "case-other")

		close(gate)
		if n := auto.count("case-busy"); n != 1 {
			t.Errorf("expected the overlapping sweep to be skipped, got %d runs", n)
		}
	})

	t.Run("NotConfiguredIsQuiet", func(t *testing.T) {
		auto := newFakeAutomator()
		w := NewWorker(eventBus, auto)
		w.Start(Config{})
		defer w.Stop()

		publishSweep(t, eventBus, "unconfigured")
		waitStarted(t, auto, "unconfigured")
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		w := NewWorker(eventBus, newFakeAutomator())
		err := w.handleSweep(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{")})
		if err == nil {
			t.Error("expected parse error")
		}
	})
}
