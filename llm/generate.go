package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Prompt is a system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Messages converts the prompt to chat messages.
func (p Prompt) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	return append(msgs, Message{Role: "user", Content: p.User})
}

// Completer is anything that can answer a completion request.
// *Client implements it; tests and demo mode substitute their own.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Observer receives generation outcomes, typically for metrics.
type Observer interface {
	ObserveAttempt(capability, outcome string)
	ObserveGeneration(capability string, t Telemetry, err error)
}

// Attempt outcomes reported to the Observer.
const (
	OutcomeSuccess         = "success"
	OutcomeParseFailed     = "parse_failed"
	OutcomeValidationFail  = "validation_failed"
	OutcomeTransportFailed = "transport_failed"
)

// GenerationConfig controls the validated generation loop.
type GenerationConfig struct {
	// CorrectiveRetries is K: a run makes at most K+1 model calls.
	CorrectiveRetries int `yaml:"corrective_retries"`

	// BackoffBase is the delay before the second attempt; it doubles after each attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// Temperature is sent with every request. nil uses the endpoint default.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps response length. 0 uses the endpoint default.
	MaxTokens int `yaml:"max_tokens"`

	// Pricing feeds the cost estimate.
	Pricing Pricing `yaml:"pricing"`
}

// DefaultGenerationConfig returns one corrective retry with a 500ms base backoff.
func DefaultGenerationConfig() GenerationConfig {
	temp := 0.3
	return GenerationConfig{
		CorrectiveRetries: 1,
		BackoffBase:       500 * time.Millisecond,
		Temperature:       &temp,
		MaxTokens:         4096,
	}
}

// Validator turns an extracted JSON document into a typed value.
type Validator[T any] func(raw []byte) (T, error)

// CorrectionFunc builds the corrective prompt from the rejected output and
// the validation error that rejected it.
type CorrectionFunc func(previousOutput string, validationErr error) Prompt

// Job describes one validated generation.
type Job[T any] struct {
	Capability string
	Prompt     Prompt
	Validate   Validator[T]
	Correct    CorrectionFunc

	// MaxTokens overrides GenerationConfig.MaxTokens when non-zero.
	MaxTokens int
}

// Result is a successful generation.
type Result[T any] struct {
	Value     T
	Raw       string
	Telemetry Telemetry
}

// Generator runs the call → extract → validate → correct loop.
type Generator struct {
	client   Completer
	config   GenerationConfig
	logger   *slog.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) GeneratorOption {
	return func(g *Generator) {
		g.observer = o
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GeneratorOption {
	return func(g *Generator) {
		g.sleep = sleep
	}
}

// NewGenerator creates a Generator over the given completer.
func NewGenerator(client Completer, cfg GenerationConfig, opts ...GeneratorOption) *Generator {
	if cfg.CorrectiveRetries < 0 {
		cfg.CorrectiveRetries = 0
	}
	g := &Generator{
		client: client,
		config: cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxAttempts returns K+1.
func (g *Generator) MaxAttempts() int {
	return g.config.CorrectiveRetries + 1
}

// Backoff returns the delay after the given attempt: base * 2^(attempt-1).
func (g *Generator) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return g.config.BackoffBase * time.Duration(1<<(attempt-1))
}

// loopState is the position of a run in its state machine.
type loopState int

const (
	stateAttempting loopState = iota
	stateParseFailed
	stateValidationFailed
)

func (s loopState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateParseFailed:
		return "parse_failed"
	case stateValidationFailed:
		return "validation_failed"
	}
	return "unknown"
}

// Run executes job against g.
//
//	Attempting → ParseFailed      → Attempting (same prompt) | Exhausted
//	Attempting → ValidationFailed → Attempting (corrective prompt) | Exhausted
//	Attempting → Succeeded
//
// A transport failure ends the run immediately with *ModelTransportError.
// Exhaustion after a parse failure returns the *ModelParseError; after a
// validation failure it returns *ValidationExhaustedError.
func Run[T any](ctx context.Context, g *Generator, job Job[T]) (*Result[T], error) {
	if job.Validate == nil {
		return nil, errors.New("validator is required")
	}

	started := g.now()
	maxAttempts := g.MaxAttempts()
	prompt := job.Prompt
	telemetry := Telemetry{}
	var (
		state   loopState
		lastErr error
	)

	finish := func(err error) {
		telemetry.DurationMs = g.now().Sub(started).Milliseconds()
		if g.observer != nil {
			g.observer.ObserveGeneration(job.Capability, telemetry, err)
		}
	}

	for attempt := 1; ; attempt++ {
		telemetry.Attempts = attempt
		state = stateAttempting

		resp, err := g.client.Complete(ctx, Request{
			Capability:  job.Capability,
			Messages:    prompt.Messages(),
			Temperature: g.config.Temperature,
			MaxTokens:   g.maxTokens(job.MaxTokens),
		})
		if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
			err = errors.New("empty response body")
		}
		if err != nil {
			g.observe(job.Capability, OutcomeTransportFailed)
			transportErr := &ModelTransportError{Attempt: attempt, Err: err}
			finish(transportErr)
			return nil, transportErr
		}

		telemetry.add(prompt, resp.Content, g.config.Pricing)
		telemetry.Model = resp.Model

		raw, parseErr := Extract(resp.Content)
		if parseErr != nil {
			state = stateParseFailed
			lastErr = parseErr
			g.observe(job.Capability, OutcomeParseFailed)
		} else {
			value, validationErr := job.Validate([]byte(raw))
			if validationErr == nil {
				g.observe(job.Capability, OutcomeSuccess)
				finish(nil)
				g.logger.Debug("Generation succeeded",
					"capability", job.Capability,
					"attempts", attempt,
					"corrections", telemetry.Corrections)
				return &Result[T]{Value: value, Raw: raw, Telemetry: telemetry}, nil
			}
			state = stateValidationFailed
			lastErr = validationErr
			g.observe(job.Capability, OutcomeValidationFail)
		}

		if attempt >= maxAttempts {
			g.logger.Warn("Generation exhausted",
				"capability", job.Capability,
				"attempts", attempt,
				"last_state", state.String(),
				"error", lastErr)

			var terminal error
			if errors.As(lastErr, new(*ModelParseError)) {
				terminal = lastErr
			} else {
				terminal = &ValidationExhaustedError{Attempts: attempt, LastErr: lastErr}
			}
			finish(terminal)
			return nil, terminal
		}

		if state == stateValidationFailed && job.Correct != nil {
			prompt = job.Correct(raw, lastErr)
			telemetry.Corrections++
		}

		backoff := g.Backoff(attempt)
		g.logger.Info("Generation attempt failed, retrying",
			"capability", job.Capability,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"state", state.String(),
			"backoff", backoff,
			"error", lastErr)

		if err := g.sleep(ctx, backoff); err != nil {
			finish(err)
			return nil, fmt.Errorf("generation cancelled: %w", err)
		}
	}
}

func (g *Generator) maxTokens(override int) int {
	if override > 0 {
		return override
	}
	return g.config.MaxTokens
}

func (g *Generator) observe(capability, outcome string) {
	if g.observer != nil {
		g.observer.ObserveAttempt(capability, outcome)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
