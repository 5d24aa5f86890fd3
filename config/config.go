// Package config provides configuration loading and management for braindump.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/model"
	"github.com/c360studio/braindump/storage"
	"github.com/c360studio/braindump/synthesis"
	"github.com/c360studio/braindump/templates"
	"github.com/c360studio/braindump/transcribe"
)

// Storage backends.
const (
	BackendNATS = "nats"
	BackendFile = "file"
)

// Config represents the complete braindump configuration
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Generation    GenerationConfig      `yaml:"generation"`
	Models        *model.RegistryConfig `yaml:"models,omitempty"`
	Storage       StorageConfig         `yaml:"storage"`
	NATS          NATSConfig            `yaml:"nats"`
	Transcription TranscriptionConfig   `yaml:"transcription"`
	Templates     TemplatesConfig       `yaml:"templates"`
	DemoMode      bool                  `yaml:"demo_mode"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps JSON request bodies
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// MaxConnections caps concurrent connections (0 = unlimited)
	MaxConnections int `yaml:"max_connections"`
}

// GenerationConfig configures the generation loop and the synthesis service
type GenerationConfig struct {
	Loop      llm.GenerationConfig `yaml:",inline"`
	Synthesis synthesis.Config     `yaml:",inline"`
}

// StorageConfig selects the project store
type StorageConfig struct {
	// Backend is "nats" (JetStream KV) or "file"
	Backend string `yaml:"backend"`
	// Bucket is the KV bucket for the nats backend
	Bucket string `yaml:"bucket"`
	// Dir is the data directory for the file backend
	Dir string `yaml:"dir"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir is the JetStream directory of the embedded server (empty = temp dir)
	StoreDir string `yaml:"store_dir"`
}

// TranscriptionConfig configures the realtime audio bridge
type TranscriptionConfig struct {
	Engine     transcribe.RealtimeConfig `yaml:",inline"`
	SampleRate int                       `yaml:"sample_rate"`
	// QueueSize > 0 buffers audio frames instead of the lossy single slot
	QueueSize int `yaml:"queue_size"`
}

// AudioFormat returns the PCM format clients are expected to send.
func (t TranscriptionConfig) AudioFormat() transcribe.AudioFormat {
	f := transcribe.DefaultAudioFormat()
	if t.SampleRate > 0 {
		f.SampleRate = t.SampleRate
	}
	return f
}

// TemplatesConfig configures starter templates
type TemplatesConfig struct {
	// Dir adds templates to the built-in set (empty = built-ins only)
	Dir   string        `yaml:"dir"`
	TTL   time.Duration `yaml:"ttl"`
	Watch bool          `yaml:"watch"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			MaxConnections:  256,
		},
		Generation: GenerationConfig{
			Loop:      llm.DefaultGenerationConfig(),
			Synthesis: synthesis.DefaultConfig(),
		},
		Storage: StorageConfig{
			Backend: BackendNATS,
			Bucket:  storage.DefaultBucket,
			Dir:     "data",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Transcription: TranscriptionConfig{
			Engine:     transcribe.DefaultRealtimeConfig(),
			SampleRate: 16000,
		},
		Templates: TemplatesConfig{
			TTL: templates.DefaultTTL,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Generation.Loop.CorrectiveRetries < 0 {
		return fmt.Errorf("generation.corrective_retries must not be negative")
	}
	if c.Generation.Loop.BackoffBase < 0 {
		return fmt.Errorf("generation.backoff_base must not be negative")
	}
	if t := c.Generation.Loop.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("generation.temperature must be between 0 and 2")
	}
	switch c.Storage.Backend {
	case BackendNATS:
		if c.NATS.URL == "" && !c.NATS.Embedded {
			return fmt.Errorf("storage.backend nats needs nats.url or nats.embedded")
		}
	case BackendFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendNATS, BackendFile, c.Storage.Backend)
	}
	if c.Transcription.SampleRate <= 0 {
		return fmt.Errorf("transcription.sample_rate must be positive")
	}
	if c.Transcription.QueueSize < 0 {
		return fmt.Errorf("transcription.queue_size must not be negative")
	}
	if c.Templates.TTL < 0 {
		return fmt.Errorf("templates.ttl must not be negative")
	}
	if c.Models != nil {
		if err := c.Models.Validate(); err != nil {
			return fmt.Errorf("models: %w", err)
		}
	}
	return nil
}

// Registry builds the model registry: the configured one, or the default.
func (c *Config) Registry() *model.Registry {
	if c.Models == nil {
		return model.NewDefaultRegistry()
	}
	return model.FromConfig(c.Models)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := decodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

func decodeFile(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	mergeString(&c.Server.Addr, other.Server.Addr)
	mergeValue(&c.Server.ReadTimeout, other.Server.ReadTimeout)
	mergeValue(&c.Server.WriteTimeout, other.Server.WriteTimeout)
	mergeValue(&c.Server.ShutdownTimeout, other.Server.ShutdownTimeout)
	mergeValue(&c.Server.MaxBodyBytes, other.Server.MaxBodyBytes)
	mergeValue(&c.Server.MaxConnections, other.Server.MaxConnections)

	// Generation
	loop, o := &c.Generation.Loop, other.Generation.Loop
	mergeValue(&loop.CorrectiveRetries, o.CorrectiveRetries)
	mergeValue(&loop.BackoffBase, o.BackoffBase)
	if o.Temperature != nil {
		t := *o.Temperature
		loop.Temperature = &t
	}
	mergeValue(&loop.MaxTokens, o.MaxTokens)
	mergeValue(&loop.Pricing.InputPerToken, o.Pricing.InputPerToken)
	mergeValue(&loop.Pricing.OutputPerToken, o.Pricing.OutputPerToken)

	syn, osyn := &c.Generation.Synthesis, other.Generation.Synthesis
	mergeString(&syn.StructuringCapability, osyn.StructuringCapability)
	mergeString(&syn.RevisingCapability, osyn.RevisingCapability)
	mergeString(&syn.ClarifyingCapability, osyn.ClarifyingCapability)
	mergeValue(&syn.ClarifyMaxTokens, osyn.ClarifyMaxTokens)
	mergeValue(&syn.MinTextLength, osyn.MinTextLength)
	mergeString(&syn.DefaultOwner, osyn.DefaultOwner)

	// Models
	if other.Models != nil {
		c.Models = other.Models
	}

	// Storage
	mergeString(&c.Storage.Backend, other.Storage.Backend)
	mergeString(&c.Storage.Bucket, other.Storage.Bucket)
	mergeString(&c.Storage.Dir, other.Storage.Dir)

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	mergeString(&c.NATS.StoreDir, other.NATS.StoreDir)

	// Transcription
	eng, oe := &c.Transcription.Engine, other.Transcription.Engine
	mergeString(&eng.URL, oe.URL)
	mergeString(&eng.Model, oe.Model)
	mergeString(&eng.APIKey, oe.APIKey)
	mergeValue(&eng.DialAttempts, oe.DialAttempts)
	mergeValue(&eng.DialBackoff, oe.DialBackoff)
	mergeValue(&c.Transcription.SampleRate, other.Transcription.SampleRate)
	mergeValue(&c.Transcription.QueueSize, other.Transcription.QueueSize)

	// Templates
	mergeString(&c.Templates.Dir, other.Templates.Dir)
	mergeValue(&c.Templates.TTL, other.Templates.TTL)
	if other.Templates.Watch {
		c.Templates.Watch = true
	}

	if other.DemoMode {
		c.DemoMode = true
	}
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeValue[T int | int64 | float64 | time.Duration](dst *T, src T) {
	if src != 0 {
		*dst = src
	}
}
