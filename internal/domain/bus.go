package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for the first reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

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
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`

	// ReplyTo is set on messages sent with Request.
	ReplyTo string `json:"replyTo,omitempty"`
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
	Type string `koanf:"type" validate:"oneof=channel nats"`

	// Channel settings (Community tier)
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the analysis pipeline.
const (
	TopicDatasetSubmitted = "fraudlens.dataset.submitted"
	TopicRunCompleted     = "fraudlens.run.completed"
	TopicRunFailed        = "fraudlens.run.failed"
	TopicAlert            = "fraudlens.alert"

	// TopicRunStatus is answered by workers holding the queried run.
	TopicRunStatus = "fraudlens.run.status"
)

// Live states of a run held by a worker.
const (
	RunStateQueued  = "queued"
	RunStateRunning = "running"
)

// AlertEvent is published once per flagged transaction of a finished run.
type AlertEvent struct {
	RunID            string   `json:"runId"`
	TenantID         string   `json:"tenantId"`
	TransactionID    string   `json:"transactionId"`
	Amount           float64  `json:"amount"`
	AnomalyScore     float64  `json:"anomalyScore"`
	FraudProbability float64  `json:"fraudProbability"`
	Reasons          []string `json:"reasons,omitempty"`
}

// DispatchTenant is the bus tenant key analysis jobs are queued under.
// The owning tenant travels in the job itself.
const DispatchTenant = "_dispatch"

// DatasetJob asks a worker to analyse an uploaded dataset.
type DatasetJob struct {
	RunID       string    `json:"runId"`
	TenantID    string    `json:"tenantId"`
	Source      string    `json:"source,omitempty"`
	Delimiter   string    `json:"delimiter,omitempty"`
	Data        []byte    `json:"data"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// RunEvent reports the outcome of an analysis run.
type RunEvent struct {
	RunID    string      `json:"runId"`
	TenantID string      `json:"tenantId"`
	Status   string      `json:"status"`
	Summary  *RunSummary `json:"summary,omitempty"`
	Kind     string      `json:"kind,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// RunStatusQuery asks workers about a run they have accepted.
type RunStatusQuery struct {
	RunID    string `json:"runId"`
	TenantID string `json:"tenantId"`
}

// RunProgress is a worker's answer to a RunStatusQuery.
type RunProgress struct {
	RunID       string     `json:"runId"`
	TenantID    string     `json:"tenantId"`
	State       string     `json:"state"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
}
