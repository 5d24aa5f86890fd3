package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Call record stream defaults.
const (
	DefaultCallStream  = "BRAINDUMP_LLM_CALLS"
	callSubjectPrefix  = "braindump.llm.calls"
	defaultCallMaxAge  = 24 * time.Hour
	callPublishTimeout = 5 * time.Second
)

// CallRecord describes a single model call.
// Prompt and response text are not recorded, only their sizes.
type CallRecord struct {
	RequestID        string    `json:"request_id"`
	Capability       string    `json:"capability"`
	Model            string    `json:"model,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	MessagesCount    int       `json:"messages_count"`
	ResponseChars    int       `json:"response_chars,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMs       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
	Retries          int       `json:"retries"`
	FallbacksUsed    []string  `json:"fallbacks_used,omitempty"`
}

// CallStore publishes call records to a JetStream stream.
type CallStore struct {
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithStream sets the stream name.
func WithStream(name string) CallStoreOption {
	return func(s *CallStore) {
		s.stream = name
	}
}

// WithStoreLogger sets the logger for the call store.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		s.logger = logger
	}
}

// NewCallStore creates the call stream if needed and returns a store
// publishing to it.
func NewCallStore(ctx context.Context, js jetstream.JetStream, opts ...CallStoreOption) (*CallStore, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}

	s := &CallStore{
		js:     js,
		stream: DefaultCallStream,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.stream,
		Description: "Model call records",
		Subjects:    []string{callSubjectPrefix + ".>"},
		MaxAge:      defaultCallMaxAge,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure call stream: %w", err)
	}

	return s, nil
}

// Subject returns the subject a record for capability is published on.
func Subject(capability string) string {
	if capability == "" {
		capability = "unknown"
	}
	return callSubjectPrefix + "." + capability
}

// Store publishes a call record.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if record.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, callPublishTimeout)
	defer cancel()

	if _, err := s.js.Publish(pubCtx, Subject(record.Capability), data, jetstream.WithMsgID(record.RequestID)); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}

	s.logger.Debug("Published model call record",
		"request_id", record.RequestID,
		"capability", record.Capability,
		"duration_ms", record.DurationMs)

	return nil
}
