package config

import (
	"testing"
	"time"
)

func TestBackendConfigured(t *testing.T) {
	tests := []struct {
		name string
		b    BackendConfig
		want bool
	}{
		{"empty", BackendConfig{}, false},
		{"placeholders", BackendConfig{URL: "YOUR_SUPABASE_URL", AnonKey: "YOUR_SUPABASE_ANON_KEY", DatabaseURL: "postgres://x"}, false},
		{"no database", BackendConfig{URL: "https://x.supabase.co", AnonKey: "k"}, false},
		{"real", BackendConfig{URL: "https://x.supabase.co", AnonKey: "k", DatabaseURL: "postgres://x"}, true},
	}
	for _, tt := range tests {
		c := &Config{Backend: tt.b}
		if got := c.BackendConfigured(); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBuildDefaults(t *testing.T) {
	cfg := build(defaults())
	if cfg.RequestTimeout != 12*time.Second {
		t.Errorf("request timeout %v", cfg.RequestTimeout)
	}
	if cfg.HistoryLimit != 50 || cfg.Upload.MaxFiles != 4 || cfg.Upload.MaxFileSize != 5<<20 {
		t.Errorf("limits: history=%d files=%d size=%d", cfg.HistoryLimit, cfg.Upload.MaxFiles, cfg.Upload.MaxFileSize)
	}
	if cfg.Realtime.Source != "postgres" {
		t.Errorf("realtime source %q", cfg.Realtime.Source)
	}
	if cfg.DBMaxConnections() != 8 {
		t.Errorf("db max %d", cfg.DBMaxConnections())
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	yc := defaults()
	if err := parseYAML([]byte("history_limit: 20\nrealtime:\n  source: redis\nbackend:\n  url: https://yaml.example\n"), &yc); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUPABASE_URL", "https://env.example/")
	t.Setenv("REQUEST_TIMEOUT_MS", "500")
	t.Setenv("UPLOAD_ALLOWED_TYPES", "image/png, image/jpeg")
	cfg := build(yc)
	if cfg.HistoryLimit != 20 || cfg.Realtime.Source != "redis" {
		t.Errorf("yaml not applied: %d %q", cfg.HistoryLimit, cfg.Realtime.Source)
	}
	if cfg.Backend.URL != "https://env.example" {
		t.Errorf("env url %q", cfg.Backend.URL)
	}
	if cfg.RequestTimeout != 500*time.Millisecond {
		t.Errorf("timeout %v", cfg.RequestTimeout)
	}
	if len(cfg.Upload.AllowedTypes) != 2 || cfg.Upload.AllowedTypes[1] != "image/jpeg" {
		t.Errorf("types %v", cfg.Upload.AllowedTypes)
	}
}
