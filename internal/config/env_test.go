package config

import (
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "SERVER_ROUTE_PREFIX is normalized",
			envVars: map[string]string{
				"SERVER_ROUTE_PREFIX": "api/",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name: "ADMIN_API_KEY override",
			envVars: map[string]string{
				"ADMIN_API_KEY": "super-secret",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.AdminAPIKey != "super-secret" {
					t.Errorf("expected super-secret, got %s", cfg.Server.AdminAPIKey)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_DispatchSeconds(t *testing.T) {
	defer os.Clearenv()

	t.Setenv("DISPATCH_TIMEOUT_SECONDS", "2.5")
	t.Setenv("RETRY_INITIAL_DELAY_SECONDS", "1.0")
	t.Setenv("RETRY_MAX_DELAY_SECONDS", "30")
	t.Setenv("RETRY_MAX_ATTEMPTS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.Timeout.Duration != 2500*time.Millisecond {
		t.Errorf("expected 2.5s timeout, got %v", cfg.Dispatch.Timeout.Duration)
	}
	if cfg.Dispatch.RetryInitialDelay.Duration != 1*time.Second {
		t.Errorf("expected 1s initial delay, got %v", cfg.Dispatch.RetryInitialDelay.Duration)
	}
	if cfg.Dispatch.RetryMaxDelay.Duration != 30*time.Second {
		t.Errorf("expected 30s max delay, got %v", cfg.Dispatch.RetryMaxDelay.Duration)
	}
	if cfg.Dispatch.RetryMaxAttempts != 7 {
		t.Errorf("expected 7 retry attempts, got %d", cfg.Dispatch.RetryMaxAttempts)
	}
}

func TestEnvOverrides_DLQ(t *testing.T) {
	defer os.Clearenv()

	t.Setenv("DLQ_ENABLED", "false")
	t.Setenv("DLQ_MAX_RETRIES", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DLQ.Enabled {
		t.Error("expected DLQ_ENABLED=false to disable the DLQ")
	}
	if cfg.DLQ.MaxRetries != 5 {
		t.Errorf("expected 5 max retries, got %d", cfg.DLQ.MaxRetries)
	}
}

func TestEnvOverrides_WebhookSecretScanner(t *testing.T) {
	defer os.Clearenv()

	t.Setenv("WEBHOOK_FORM_SECRET", "form-secret")
	t.Setenv("WEBHOOK_PAYMENT_SECRET", "payment-secret")
	t.Setenv("WEBHOOK_VIDEO_SECRET", "")          // empty value must be ignored
	t.Setenv("WEBHOOK_SECRET", "malformed")       // no provider segment, must be ignored
	t.Setenv("SOME_OTHER_VAR", "irrelevant")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if secret, ok := cfg.Secret("form"); !ok || secret != "form-secret" {
		t.Errorf("expected form secret to be set, got %q ok=%v", secret, ok)
	}
	if secret, ok := cfg.Secret("payment"); !ok || secret != "payment-secret" {
		t.Errorf("expected payment secret to be set, got %q ok=%v", secret, ok)
	}
	if _, ok := cfg.Secret("video"); ok {
		t.Error("expected empty WEBHOOK_VIDEO_SECRET to not register a secret")
	}
	if _, ok := cfg.Secret(""); ok {
		t.Error("expected malformed WEBHOOK_SECRET to not register an empty-name secret")
	}
}

func TestEnvOverrides_WebhookSecretScannerIsCaseInsensitive(t *testing.T) {
	defer os.Clearenv()

	t.Setenv("WEBHOOK_Form_SECRET", "mixed-case-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if secret, ok := cfg.Secret("form"); !ok || secret != "mixed-case-secret" {
		t.Errorf("expected lowercase lookup to find secret set via mixed-case env var, got %q ok=%v", secret, ok)
	}
}

func TestDuration_UnmarshalYAML_StringAndNumeric(t *testing.T) {
	type holder struct {
		D Duration `yaml:"d"`
	}

	cases := []struct {
		yamlVal string
		want    time.Duration
	}{
		{"d: 10s", 10 * time.Second},
		{"d: 5", 5 * time.Second},
		{"d: 2.5", 2500 * time.Millisecond},
	}

	for _, c := range cases {
		var h holder
		if err := yaml.Unmarshal([]byte(c.yamlVal), &h); err != nil {
			t.Fatalf("unmarshal %q: %v", c.yamlVal, err)
		}
		if h.D.Duration != c.want {
			t.Errorf("yaml %q: expected %v, got %v", c.yamlVal, c.want, h.D.Duration)
		}
	}
}
