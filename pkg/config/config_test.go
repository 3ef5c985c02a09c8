package config

import (
	"strings"
	"testing"
)

// validConfig возвращает минимальную проходящую валидацию конфигурацию
func validConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "ai-sorter"
	cfg.AI.Endpoint = "https://api.x.ai/v1/chat/completions"
	cfg.Server.ListenAddr = "0.0.0.0:8000"
	cfg.Server.RequestDeadlineMS = 45000
	cfg.Server.ShutdownGraceMS = 30000
	cfg.Limits.MaxBatchSize = 100
	cfg.Limits.MaxConcurrentRequests = 10
	cfg.RateLimit.Capacity = 60
	cfg.RateLimit.WindowSeconds = 60
	cfg.RateLimit.Backend = "memory"
	cfg.Retry.MaxRetries = 3
	cfg.Retry.BackoffMultiplier = 2.0
	cfg.Circuit.FailureThreshold = 5
	cfg.Circuit.ResetMS = 60000
	cfg.Log.Level = "info"
	return cfg
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_MissingEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Endpoint = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail without endpoint")
	}
	if !strings.Contains(err.Error(), "AI_API_ENDPOINT") {
		t.Errorf("error should mention the env var: %v", err)
	}
}

func TestValidate_BadEndpointURL(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Endpoint = "not a url"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject a relative endpoint")
	}
}

func TestValidate_OutOfRange(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Limits.MaxBatchSize = 0 },
		func(c *Config) { c.Limits.MaxConcurrentRequests = -1 },
		func(c *Config) { c.RateLimit.Capacity = 0 },
		func(c *Config) { c.RateLimit.WindowSeconds = 0 },
		func(c *Config) { c.RateLimit.Backend = "etcd" },
		func(c *Config) { c.Retry.MaxRetries = 0 },
		func(c *Config) { c.Retry.BackoffMultiplier = 0.5 },
		func(c *Config) { c.Circuit.FailureThreshold = 0 },
		func(c *Config) { c.Circuit.ResetMS = 0 },
		func(c *Config) { c.Server.RequestDeadlineMS = 0 },
		func(c *Config) { c.Log.Level = "verbose" },
	}

	for i, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: Validate() should fail", i)
		}
	}
}

func TestReady(t *testing.T) {
	cfg := validConfig()

	if cfg.Ready() {
		t.Error("Ready() without API key should be false")
	}

	cfg.AI.APIKey = "xai-secret"
	if !cfg.Ready() {
		t.Error("Ready() with API key should be true")
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.WaitMS = 5000
	cfg.Retry.InitialBackoffMS = 1000

	if cfg.RateLimit.Wait().Seconds() != 5 {
		t.Errorf("Wait() = %v", cfg.RateLimit.Wait())
	}
	if cfg.RateLimit.Window().Seconds() != 60 {
		t.Errorf("Window() = %v", cfg.RateLimit.Window())
	}
	if cfg.Retry.InitialBackoff().Seconds() != 1 {
		t.Errorf("InitialBackoff() = %v", cfg.Retry.InitialBackoff())
	}
	if cfg.Server.ShutdownGrace().Seconds() != 30 {
		t.Errorf("ShutdownGrace() = %v", cfg.Server.ShutdownGrace())
	}
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := validConfig()

	cfg.App.Environment = "development"
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Error("development flags wrong")
	}

	cfg.App.Environment = "production"
	if cfg.IsDevelopment() || !cfg.IsProduction() {
		t.Error("production flags wrong")
	}
}
