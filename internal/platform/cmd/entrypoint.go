// Package cmd holds the startup plumbing shared by tracker commands:
// env-then-flag configuration loading and the telemetry lifecycle around a
// service run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/etle/vtrack/internal/platform/otel"
)

// ServiceTracker names the tracker in telemetry and logs.
const ServiceTracker = "tracker"

const telemetryFlushTimeout = 5 * time.Second

// Load fills a T from env tags (with their envDefault values), lets bind
// register flags seeded from those values, then parses args. Flags win over
// env.
func Load[T any](fs *flag.FlagSet, args []string, bind func(fs *flag.FlagSet, cfg *T)) (T, error) {
	var cfg T
	if err := ParseConfig(&cfg); err != nil {
		return cfg, err
	}
	if fs == nil {
		return cfg, errors.New("flag parser is required")
	}
	if bind != nil {
		bind(fs, &cfg)
	}
	if err := ParseArgs(fs, args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseConfig loads env tags into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs tracing for service, runs run, and flushes
// pending spans on the way out even when run fails.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("otel shutdown service=%s: %v", service, err)
		}
	}()
	return run(ctx)
}
