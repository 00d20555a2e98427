package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"natsUrl"`
	NATSToken         string `mapstructure:"natsToken"`
	NATSMaxReconnects int    `mapstructure:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"natsReconnectWait"` // seconds

	// NATSQueueGroup load-balances subscriptions across instances.
	NATSQueueGroup string `mapstructure:"natsQueueGroup"`
}

// Standard topic names for billing events.
const (
	TopicMilestoneCompleted = "docket.milestone.completed"
	TopicMilestoneTriggered = "docket.milestone.triggered"
	TopicInvoiceIssued      = "docket.invoice.issued"
	TopicReminderDue        = "docket.reminder.due"
	TopicPhaseAdvanced      = "docket.phase.advanced"
	TopicAutomationSweep    = "docket.automation.sweep"
)

// SweepRequest is the payload of an automation sweep message.
type SweepRequest struct {
	CaseID  string `json:"caseId"`
	TraceID string `json:"traceId,omitempty"`
}

// MilestoneEvent is the payload of milestone and trigger messages.
type MilestoneEvent struct {
	CaseID      string `json:"caseId"`
	NodeID      string `json:"nodeId"`
	Name        string `json:"name"`
	Phase       Phase  `json:"phase"`
	Trigger     string `json:"trigger,omitempty"`
	CompletedAt string `json:"completedAt"`
	InvoiceID   string `json:"invoiceId,omitempty"`
}

// PhaseEvent is the payload of a phase advancement message.
type PhaseEvent struct {
	CaseID string `json:"caseId"`
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
}
