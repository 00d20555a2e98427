// Package notify delivers deadline reminders over the event bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/docket/internal/domain"
)

// DefaultThrottleWindow allows one reminder per node and user per day.
const DefaultThrottleWindow = 24 * time.Hour

// BusSink implements domain.NotificationSink by publishing reminder.due
// messages. Repeated reminders inside the throttle window are dropped.
type BusSink struct {
	bus    domain.EventBus
	cache  domain.Cache
	window time.Duration
}

// NewBusSink creates a sink. A nil cache disables throttling.
func NewBusSink(bus domain.EventBus, cache domain.Cache, window time.Duration) *BusSink {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &BusSink{
		bus:    bus,
		cache:  cache,
		window: window,
	}
}

// Remind publishes the reminder unless one already went out for the same
// node and user in the current window.
func (s *BusSink) Remind(ctx context.Context, r domain.Reminder) error {
	if s.cache != nil {
		n, err := s.cache.IncrementCounter(ctx, throttleKey(r), s.window)
		if err != nil {
			return fmt.Errorf("reminder throttle: %w", err)
		}
		if n > 1 {
			slog.Debug("reminder throttled",
				"case_id", r.CaseID,
				"node_id", r.NodeID,
				"user_id", r.UserID,
				"count", n,
			)
			return nil
		}
	}

	payload, err := json.Marshal(r)
	if err != nil {
		s.release(ctx, r)
		return fmt.Errorf("marshal reminder: %w", err)
	}
	if err := s.bus.Publish(ctx, domain.TopicReminderDue, payload); err != nil {
		s.release(ctx, r)
		return fmt.Errorf("publish reminder: %w", err)
	}

	slog.Info("reminder sent",
		"case_id", r.CaseID,
		"node_id", r.NodeID,
		"user_id", r.UserID,
		"due_date", r.DueDate.Format(time.DateOnly),
	)
	return nil
}

// release frees the throttle slot of a reminder that was never delivered so
// the next attempt is not dropped.
func (s *BusSink) release(ctx context.Context, r domain.Reminder) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(context.WithoutCancel(ctx), throttleKey(r)); err != nil {
		slog.Warn("failed to release reminder throttle",
			"node_id", r.NodeID,
			"user_id", r.UserID,
			"error", err,
		)
	}
}

func throttleKey(r domain.Reminder) string {
	return "reminder:" + r.NodeID + ":" + r.UserID
}
