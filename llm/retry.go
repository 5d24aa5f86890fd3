package llm

import "time"

// RetryConfig holds transport retry configuration for a single endpoint.
// This is separate from the generation loop: a generation run never retries
// a failed call itself, it only sees the outcome of the whole fallback chain.
type RetryConfig struct {
	// MaxAttempts counts the first call. 1 means no retry before moving on to
	// the next endpoint in the chain.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the wait before the second attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMultiplier grows the wait after every failed attempt.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxBackoff bounds a single wait.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultRetryConfig makes a single attempt per endpoint.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
