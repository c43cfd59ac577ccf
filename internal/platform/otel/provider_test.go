package otel_test

import (
	"context"
	"testing"

	"github.com/etle/vtrack/internal/platform/otel"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("VTRACK_OTEL_ENDPOINT", "")
	t.Setenv("VTRACK_OTEL_ENABLED", "")
	t.Setenv("VTRACK_OTEL_SAMPLE_RATIO", "")

	cfg, err := otel.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Endpoint != "" || !cfg.Enabled || cfg.SampleRatio != 1 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalidSampleRatio(t *testing.T) {
	for _, raw := range []string{"abc", "-0.1", "1.5"} {
		t.Setenv("VTRACK_OTEL_SAMPLE_RATIO", raw)
		if _, err := otel.LoadConfig(); err == nil {
			t.Fatalf("sample ratio %q: expected error", raw)
		}
	}
}

func TestSetupWithConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  otel.Config
	}{
		{name: "no endpoint", cfg: otel.Config{Enabled: true, SampleRatio: 1}},
		{name: "disabled", cfg: otel.Config{Endpoint: "http://localhost:4318", SampleRatio: 1}},
		// Non-routable address: nothing is exported.
		{name: "enabled", cfg: otel.Config{Endpoint: "http://192.0.2.1:4318", Enabled: true, SampleRatio: 0.25}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			shutdown, err := otel.SetupWithConfig(context.Background(), "tracker-test", tc.cfg)
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestSetupNoopShutdownIgnoresCancelledContext(t *testing.T) {
	t.Setenv("VTRACK_OTEL_ENDPOINT", "")

	shutdown, err := otel.Setup(context.Background(), "tracker-test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}
