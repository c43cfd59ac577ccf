package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	platformgrpc "github.com/etle/vtrack/internal/platform/grpc"
	"github.com/etle/vtrack/internal/services/tracker/scheduler"
)

func testConfig(t *testing.T) RuntimeConfig {
	t.Helper()
	dir := t.TempDir()
	return RuntimeConfig{
		HTTPAddr:        "127.0.0.1:0",
		HealthAddr:      "127.0.0.1:0",
		DBPath:          filepath.Join(dir, "db", "tracker.db"),
		ReviewThreshold: 0.4,
		EvidenceDir:     filepath.Join(dir, "evidence"),
	}
}

func startRuntime(t *testing.T, cfg RuntimeConfig) (*Runtime, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rt, err := New(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("new runtime: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()
	return rt, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("runtime did not stop")
		}
		rt.Close()
	}
}

func postStatus(t *testing.T, rt *Runtime, path string) scheduler.State {
	t.Helper()
	url := fmt.Sprintf("http://%s%s", rt.HTTPAddr(), path)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post %s status = %d", path, resp.StatusCode)
	}
	var state scheduler.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func TestRuntimeServesHealthAndAPI(t *testing.T) {
	rt, stop := startRuntime(t, testConfig(t))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := platformgrpc.Probe(ctx, rt.HealthAddr().String(), HealthRuntime, nil); err != nil {
		t.Fatalf("probe runtime: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancelShort()
	if err := platformgrpc.Probe(short, rt.HealthAddr().String(), HealthDetection, nil); err == nil {
		t.Fatal("detection reported serving before start")
	}

	if state := postStatus(t, rt, "/api/detection/start"); !state.Running {
		t.Fatalf("state = %+v, want running", state)
	}
	if err := platformgrpc.Probe(ctx, rt.HealthAddr().String(), HealthDetection, nil); err != nil {
		t.Fatalf("probe detection: %v", err)
	}
	if state := postStatus(t, rt, "/api/detection/stop"); state.Running {
		t.Fatalf("state = %+v, want stopped", state)
	}
}

func TestRuntimeAutostart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Autostart = true
	rt, stop := startRuntime(t, cfg)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := platformgrpc.Probe(ctx, rt.HealthAddr().String(), HealthDetection, nil); err != nil {
		t.Fatalf("probe detection: %v", err)
	}
}

func TestNewFailsOnBadSiteFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SiteFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing site file")
	}
}

func TestNormalizedDefaults(t *testing.T) {
	cfg := RuntimeConfig{}.normalized()
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.HealthAddr != defaultHealthAddr || cfg.DBPath != defaultDBPath {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Budget != 30*time.Minute {
		t.Fatalf("budget = %v, want 30m", cfg.Budget)
	}
	if cfg.MQTT.Topic == "" || cfg.MQTT.ClientID == "" {
		t.Fatalf("mqtt defaults = %+v", cfg.MQTT)
	}
}
