package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Storage.Backend != BackendNATS {
		t.Errorf("expected default backend nats, got %s", cfg.Storage.Backend)
	}
	if cfg.Generation.Loop.CorrectiveRetries != 1 {
		t.Errorf("expected 1 corrective retry, got %d", cfg.Generation.Loop.CorrectiveRetries)
	}
	if cfg.Generation.Synthesis.ClarifyMaxTokens != 256 {
		t.Errorf("expected clarify max tokens 256, got %d", cfg.Generation.Synthesis.ClarifyMaxTokens)
	}
	if cfg.Transcription.AudioFormat().SampleRate != 16000 {
		t.Errorf("expected 16 kHz audio, got %d", cfg.Transcription.AudioFormat().SampleRate)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing addr",
			modify:  func(c *Config) { c.Server.Addr = "" },
			wantErr: true,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Generation.Loop.CorrectiveRetries = -1 },
			wantErr: true,
		},
		{
			name: "temperature too high",
			modify: func(c *Config) {
				temp := 2.5
				c.Generation.Loop.Temperature = &temp
			},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Storage.Backend = "s3" },
			wantErr: true,
		},
		{
			name: "file backend without dir",
			modify: func(c *Config) {
				c.Storage.Backend = BackendFile
				c.Storage.Dir = ""
			},
			wantErr: true,
		},
		{
			name: "nats backend without server",
			modify: func(c *Config) {
				c.NATS.Embedded = false
				c.NATS.URL = ""
			},
			wantErr: true,
		},
		{
			name:    "negative queue size",
			modify:  func(c *Config) { c.Transcription.QueueSize = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "braindump.yaml")

	content := `
server:
  addr: ":9090"
  max_connections: 10
generation:
  corrective_retries: 2
  backoff_base: 250ms
  structuring_capability: fast
  pricing:
    input_per_token: 0.000002
storage:
  backend: file
  dir: /var/lib/braindump
nats:
  url: "nats://test:4222"
transcription:
  model: voxtral-test
  dial_attempts: 5
  queue_size: 8
templates:
  dir: ./templates
  ttl: 1m
  watch: true
demo_mode: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("expected default max body to survive, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Generation.Loop.CorrectiveRetries != 2 {
		t.Errorf("expected 2 retries, got %d", cfg.Generation.Loop.CorrectiveRetries)
	}
	if cfg.Generation.Loop.BackoffBase != 250*time.Millisecond {
		t.Errorf("expected backoff 250ms, got %v", cfg.Generation.Loop.BackoffBase)
	}
	if cfg.Generation.Synthesis.StructuringCapability != "fast" {
		t.Errorf("expected structuring capability fast, got %s", cfg.Generation.Synthesis.StructuringCapability)
	}
	if cfg.Generation.Synthesis.RevisingCapability != "revising" {
		t.Errorf("expected default revising capability, got %s", cfg.Generation.Synthesis.RevisingCapability)
	}
	if cfg.Generation.Loop.Pricing.InputPerToken != 0.000002 {
		t.Errorf("expected input price, got %v", cfg.Generation.Loop.Pricing.InputPerToken)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Storage.Dir != "/var/lib/braindump" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Transcription.Engine.Model != "voxtral-test" || cfg.Transcription.Engine.DialAttempts != 5 {
		t.Errorf("unexpected transcription engine %+v", cfg.Transcription.Engine)
	}
	if cfg.Transcription.QueueSize != 8 {
		t.Errorf("expected queue size 8, got %d", cfg.Transcription.QueueSize)
	}
	if cfg.Templates.TTL != time.Minute || !cfg.Templates.Watch {
		t.Errorf("unexpected templates %+v", cfg.Templates)
	}
	if !cfg.DemoMode {
		t.Error("expected demo mode")
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Server:  ServerConfig{Addr: ":7000"},
		Storage: StorageConfig{Backend: BackendFile},
		NATS:    NATSConfig{URL: "nats://remote:4222"},
	}

	base.Merge(override)

	if base.Server.Addr != ":7000" {
		t.Errorf("expected addr :7000, got %s", base.Server.Addr)
	}
	// Timeouts should remain from base since override didn't set them
	if base.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout to remain default, got %v", base.Server.ReadTimeout)
	}
	if base.Storage.Bucket == "" {
		t.Error("expected bucket to remain default")
	}
	if base.NATS.Embedded {
		t.Error("expected a NATS URL to disable the embedded server")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":1234"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Server.Addr != ":1234" {
		t.Errorf("expected addr :1234, got %s", loaded.Server.Addr)
	}
	if loaded.Transcription.Engine.APIKey != "" {
		t.Error("API key must never be written to disk")
	}
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoaderLayers(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	userCfg := filepath.Join(home, UserConfigDir, UserConfigFile)
	if err := os.MkdirAll(filepath.Dir(userCfg), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, userCfg, "server:\n  addr: \":7001\"\n  max_connections: 5\ndemo_mode: true\n")
	writeFile(t, filepath.Join(project, ProjectConfigFile), "server:\n  addr: \":7002\"\n")

	loader := NewLoader(nil,
		WithHomeDir(home),
		WithWorkDir(nested),
		WithEnv(envMap(map[string]string{
			EnvNATSURL: "nats://env:4222",
			EnvAPIKey:  "secret",
		})),
	)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":7002" {
		t.Errorf("project config should win over user config, got %s", cfg.Server.Addr)
	}
	if cfg.Server.MaxConnections != 5 {
		t.Errorf("user value not overridden by project should survive, got %d", cfg.Server.MaxConnections)
	}
	if !cfg.DemoMode {
		t.Error("expected demo mode from user config")
	}
	if cfg.NATS.URL != "nats://env:4222" || cfg.NATS.Embedded {
		t.Errorf("expected env NATS URL, got %+v", cfg.NATS)
	}
	if cfg.Transcription.Engine.APIKey != "secret" {
		t.Error("expected API key from environment")
	}
}

func TestLoaderEnvOverrides(t *testing.T) {
	loader := NewLoader(nil,
		WithHomeDir(t.TempDir()),
		WithWorkDir(t.TempDir()),
		WithEnv(envMap(map[string]string{
			EnvHTTPAddr: "127.0.0.1:9999",
			EnvDemoMode: "1",
		})),
	)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" || !cfg.DemoMode {
		t.Errorf("env overrides not applied: addr=%s demo=%v", cfg.Server.Addr, cfg.DemoMode)
	}

	bad := NewLoader(nil,
		WithHomeDir(t.TempDir()),
		WithWorkDir(t.TempDir()),
		WithEnv(envMap(map[string]string{EnvDemoMode: "sometimes"})),
	)
	if _, err := bad.Load(); err == nil {
		t.Error("expected error for unparseable demo mode")
	}
}

func TestLoaderExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "storage:\n  backend: file\n  dir: /tmp/bd\n")

	cfg, err := NewLoader(nil, WithConfigPath(path), WithHomeDir(t.TempDir()), WithEnv(envMap(nil))).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("expected file backend, got %s", cfg.Storage.Backend)
	}

	missing := NewLoader(nil, WithConfigPath(filepath.Join(dir, "nope.yaml")), WithEnv(envMap(nil)))
	if _, err := missing.Load(); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestEnsureUserConfig(t *testing.T) {
	home := t.TempDir()
	loader := NewLoader(nil, WithHomeDir(home))

	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, UserConfigDir, UserConfigFile)); err != nil {
		t.Errorf("user config not created: %v", err)
	}
	if err := loader.EnsureUserConfig(); err != nil {
		t.Errorf("second EnsureUserConfig() error = %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
