// Package app assembles the tracker runtime: storage, the journey state
// machine, the checkpoint scheduler and its capture task, the timeout
// watcher, the notification bus and the HTTP and health servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformgrpc "github.com/etle/vtrack/internal/platform/grpc"
	"github.com/etle/vtrack/internal/platform/timeouts"
	"github.com/etle/vtrack/internal/services/tracker/api/httpapi"
	"github.com/etle/vtrack/internal/services/tracker/capture"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/evidence"
	"github.com/etle/vtrack/internal/services/tracker/journey"
	"github.com/etle/vtrack/internal/services/tracker/metrics"
	"github.com/etle/vtrack/internal/services/tracker/notify"
	"github.com/etle/vtrack/internal/services/tracker/platereader"
	"github.com/etle/vtrack/internal/services/tracker/route"
	"github.com/etle/vtrack/internal/services/tracker/scheduler"
	"github.com/etle/vtrack/internal/services/tracker/storage/sqlite"
	"golang.org/x/sync/errgroup"
)

// Health service names reported by the gRPC health server.
const (
	HealthRuntime   = "tracker.runtime"
	HealthDetection = "tracker.detection"
)

const (
	defaultHTTPAddr   = ":8094"
	defaultHealthAddr = ":8095"
	defaultDBPath     = "data/tracker.db"
)

// RuntimeConfig controls tracker startup and loop behavior.
type RuntimeConfig struct {
	HTTPAddr        string
	HealthAddr      string
	DBPath          string
	SiteFile        string
	Budget          time.Duration
	ReviewThreshold float64
	SampleInterval  time.Duration
	PollInterval    time.Duration
	WatchInterval   time.Duration
	EvidenceDir     string
	ALPRBinary      string
	ALPRCountry     string
	Locale          string
	NotifyCapacity  int
	MQTT            notify.MQTTConfig
	// Autostart enables detection as soon as the runtime is up.
	Autostart bool
}

// Runtime is a fully wired tracker.
type Runtime struct {
	cfg      RuntimeConfig
	store    *sqlite.Store
	sched    *scheduler.Scheduler
	machine  *journey.Machine
	watcher  *journey.Watcher
	health   *platformgrpc.HealthServer
	httpSrv  *http.Server
	httpLis  net.Listener
	mqttSink *notify.MQTTSink
	closers  []func()
	logf     func(string, ...any)
}

// Run starts the tracker and blocks until ctx ends or a server fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.Serve(ctx)
}

// New opens storage and listeners and wires every component. Detection
// tasks started later live as long as ctx.
func New(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	cfg = cfg.normalized()
	rt := &Runtime{cfg: cfg, logf: log.Printf}
	if err := rt.build(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = defaultHealthAddr
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 30 * time.Minute
	}
	if strings.TrimSpace(cfg.MQTT.Topic) == "" {
		cfg.MQTT.Topic = "vtrack/notifications"
	}
	if strings.TrimSpace(cfg.MQTT.ClientID) == "" {
		cfg.MQTT.ClientID = "vtrack-tracker"
	}
	return cfg
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg := rt.cfg
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create tracker storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open tracker sqlite store: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, func() {
		if closeErr := store.Close(); closeErr != nil {
			rt.logf("close tracker sqlite store: %v", closeErr)
		}
	})

	routes, err := route.LoadSite(cfg.SiteFile)
	if err != nil {
		return fmt.Errorf("load site: %w", err)
	}
	m := metrics.New()

	var sinks []notify.Sink
	if strings.TrimSpace(cfg.MQTT.Broker) != "" {
		sink, disconnect, err := notify.DialMQTT(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		rt.mqttSink = sink
		rt.closers = append(rt.closers, disconnect)
		sinks = append(sinks, sink)
		rt.logf("mirroring notifications broker=%s topic=%s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
	bus := notify.NewBus(cfg.NotifyCapacity, sinks...)
	render := notify.NewRenderer(cfg.Locale, nil)

	healthLis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen on health addr %s: %w", cfg.HealthAddr, err)
	}
	rt.health = platformgrpc.NewHealthServer(healthLis)
	rt.closers = append(rt.closers, func() { _ = healthLis.Close() })
	rt.health.SetServing(HealthRuntime, true)
	rt.health.SetServing(HealthDetection, false)

	// The capture task needs the matcher, which needs the machine, which
	// needs the scheduler; the task resolves the detector when it runs.
	var detector *scheduler.Detector
	rt.sched = scheduler.New(func(taskCtx context.Context, cp domain.CheckpointID) {
		detector.Run(taskCtx, cp)
	}, scheduler.WithObserver(func(st scheduler.State) {
		rt.health.SetServing(HealthDetection, st.Running)
		m.ActiveCheckpoint(int(st.Active))
	}))

	rt.machine, err = journey.NewMachine(journey.Config{
		Store:     store,
		Routes:    routes,
		Rules:     domain.Rules{Budget: cfg.Budget, ReviewThreshold: cfg.ReviewThreshold},
		Scheduler: rt.sched,
		Bus:       bus,
		Renderer:  render,
		Metrics:   m,
	})
	if err != nil {
		return fmt.Errorf("build journey machine: %w", err)
	}
	matcher := journey.NewMatcher(store, rt.machine, bus, render, m, nil)
	rt.watcher = journey.NewWatcher(store, rt.machine, cfg.WatchInterval, nil)

	var evidenceDir scheduler.EvidenceWriter
	if strings.TrimSpace(cfg.EvidenceDir) != "" {
		dir, err := evidence.NewDir(cfg.EvidenceDir)
		if err != nil {
			return err
		}
		evidenceDir = dir
	}
	detector, err = scheduler.NewDetector(scheduler.DetectorConfig{
		Sources:  capture.NewHTTPSnapshot(routes, nil),
		Reader:   platereader.New(platereader.Config{Binary: cfg.ALPRBinary, Country: cfg.ALPRCountry}),
		Evidence: evidenceDir,
		Handle: func(ctx context.Context, read domain.PlateRead) error {
			_, err := matcher.HandleRead(ctx, read)
			return err
		},
		Metrics:        m,
		Notices:        bus,
		Renderer:       render,
		SampleInterval: cfg.SampleInterval,
		PollInterval:   cfg.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("build detector: %w", err)
	}

	api, err := httpapi.New(httpapi.Config{
		Context:   ctx,
		Store:     store,
		Routes:    routes,
		Journeys:  rt.machine,
		Reads:     matcher,
		Detection: rt.sched,
		Feed:      bus,
		Metrics:   m,
	})
	if err != nil {
		return fmt.Errorf("build control api: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}
	rt.httpLis = httpLis
	rt.closers = append(rt.closers, func() { _ = httpLis.Close() })
	rt.httpSrv = httpapi.NewHTTPServer(cfg.HTTPAddr, api, timeouts.ReadHeader)
	return nil
}

// HTTPAddr is the bound control API address.
func (rt *Runtime) HTTPAddr() net.Addr {
	return rt.httpLis.Addr()
}

// HealthAddr is the bound gRPC health address.
func (rt *Runtime) HealthAddr() net.Addr {
	return rt.health.Addr()
}

// Serve runs every server and loop until ctx ends, then stops detection
// and waits for capture tasks to exit.
func (rt *Runtime) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if rt.cfg.Autostart {
		rt.sched.Start(ctx)
		rt.machine.Reschedule(gctx)
	}

	g.Go(func() error {
		rt.logf("tracker http listening at %v", rt.httpLis.Addr())
		if err := rt.httpSrv.Serve(rt.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rt.logf("tracker health listening at %v", rt.health.Addr())
		return rt.health.Serve(gctx)
	})
	g.Go(func() error {
		return rt.watcher.Run(gctx)
	})
	if rt.mqttSink != nil {
		g.Go(func() error {
			return rt.mqttSink.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeouts.Shutdown)
		defer cancel()
		if err := rt.httpSrv.Shutdown(shutdownCtx); err != nil {
			rt.logf("shutdown http server: %v", err)
		}
		rt.sched.Stop()
		rt.sched.Wait()
		return nil
	})
	return g.Wait()
}

// Close releases storage and broker connections. It is safe after a failed
// New.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
