// Package tracker parses tracker command flags and launches the tracker
// runtime.
package tracker

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	entrypoint "github.com/etle/vtrack/internal/platform/cmd"
	platformgrpc "github.com/etle/vtrack/internal/platform/grpc"
	"github.com/etle/vtrack/internal/services/tracker/app"
	"github.com/etle/vtrack/internal/services/tracker/notify"
)

// Config holds tracker command configuration.
type Config struct {
	HTTPAddr        string        `env:"VTRACK_TRACKER_HTTP_ADDR" envDefault:":8094"`
	HealthAddr      string        `env:"VTRACK_TRACKER_HEALTH_ADDR" envDefault:":8095"`
	DBPath          string        `env:"VTRACK_TRACKER_DB_PATH" envDefault:"data/tracker.db"`
	SiteFile        string        `env:"VTRACK_TRACKER_SITE_FILE"`
	Budget          time.Duration `env:"VTRACK_TRACKER_TIME_BUDGET" envDefault:"30m"`
	ReviewThreshold float64       `env:"VTRACK_TRACKER_REVIEW_THRESHOLD" envDefault:"0.4"`
	SampleInterval  time.Duration `env:"VTRACK_TRACKER_SAMPLE_INTERVAL" envDefault:"3s"`
	PollInterval    time.Duration `env:"VTRACK_TRACKER_POLL_INTERVAL" envDefault:"50ms"`
	WatchInterval   time.Duration `env:"VTRACK_TRACKER_WATCH_INTERVAL" envDefault:"30s"`
	EvidenceDir     string        `env:"VTRACK_TRACKER_EVIDENCE_DIR" envDefault:"data/evidence"`
	ALPRBinary      string        `env:"VTRACK_TRACKER_ALPR_BINARY" envDefault:"alpr"`
	ALPRCountry     string        `env:"VTRACK_TRACKER_ALPR_COUNTRY" envDefault:"eu"`
	Locale          string        `env:"VTRACK_TRACKER_LOCALE" envDefault:"en"`
	NotifyCapacity  int           `env:"VTRACK_TRACKER_NOTIFY_CAPACITY" envDefault:"500"`
	MQTTBroker      string        `env:"VTRACK_TRACKER_MQTT_BROKER"`
	MQTTTopic       string        `env:"VTRACK_TRACKER_MQTT_TOPIC" envDefault:"vtrack/notifications"`
	MQTTClientID    string        `env:"VTRACK_TRACKER_MQTT_CLIENT_ID" envDefault:"vtrack-tracker"`
	Autostart       bool          `env:"VTRACK_TRACKER_AUTOSTART" envDefault:"false"`

	// Probe checks a running tracker's health endpoint and exits.
	Probe bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, err := entrypoint.Load(fs, args, bindFlags)
	if err != nil {
		return Config{}, err
	}
	if cfg.ReviewThreshold < 0 || cfg.ReviewThreshold > 1 {
		return Config{}, fmt.Errorf("review threshold must be within [0, 1], got %v", cfg.ReviewThreshold)
	}
	return cfg, nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "Control API listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The tracker SQLite database path")
	fs.StringVar(&cfg.SiteFile, "site", cfg.SiteFile, "YAML file with routes and checkpoint cameras")
	fs.DurationVar(&cfg.Budget, "time-budget", cfg.Budget, "Time allowed between journey progress events")
	fs.Float64Var(&cfg.ReviewThreshold, "review-threshold", cfg.ReviewThreshold, "Confidence below which a journey needs manual review")
	fs.DurationVar(&cfg.SampleInterval, "sample-interval", cfg.SampleInterval, "Minimum time between plate reads per checkpoint")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Capture loop poll interval")
	fs.DurationVar(&cfg.WatchInterval, "watch-interval", cfg.WatchInterval, "Timeout sweep interval")
	fs.StringVar(&cfg.EvidenceDir, "evidence-dir", cfg.EvidenceDir, "Directory for detection evidence frames")
	fs.StringVar(&cfg.ALPRBinary, "alpr", cfg.ALPRBinary, "OpenALPR binary")
	fs.StringVar(&cfg.ALPRCountry, "alpr-country", cfg.ALPRCountry, "OpenALPR country code")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Notification locale (en, id)")
	fs.IntVar(&cfg.NotifyCapacity, "notify-capacity", cfg.NotifyCapacity, "Undrained notifications kept before the oldest is dropped")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL for mirroring notifications")
	fs.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic for notifications")
	fs.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client id")
	fs.BoolVar(&cfg.Autostart, "autostart", cfg.Autostart, "Start detection on boot")
	fs.BoolVar(&cfg.Probe, "probe", false, "Check the health endpoint and exit")
}

// Run starts the tracker runtime, or probes a running one.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Probe {
		return probe(ctx, cfg.HealthAddr)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTracker, func(ctx context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			HTTPAddr:        cfg.HTTPAddr,
			HealthAddr:      cfg.HealthAddr,
			DBPath:          cfg.DBPath,
			SiteFile:        cfg.SiteFile,
			Budget:          cfg.Budget,
			ReviewThreshold: cfg.ReviewThreshold,
			SampleInterval:  cfg.SampleInterval,
			PollInterval:    cfg.PollInterval,
			WatchInterval:   cfg.WatchInterval,
			EvidenceDir:     cfg.EvidenceDir,
			ALPRBinary:      cfg.ALPRBinary,
			ALPRCountry:     cfg.ALPRCountry,
			Locale:          cfg.Locale,
			NotifyCapacity:  cfg.NotifyCapacity,
			MQTT: notify.MQTTConfig{
				Broker:   cfg.MQTTBroker,
				Topic:    cfg.MQTTTopic,
				ClientID: cfg.MQTTClientID,
			},
			Autostart: cfg.Autostart,
		})
	})
}

const probeTimeout = 3 * time.Second

func probe(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := platformgrpc.Probe(ctx, probeAddr(addr), app.HealthRuntime, log.Printf); err != nil {
		return fmt.Errorf("tracker unhealthy: %w", err)
	}
	return nil
}

// probeAddr turns a bare ":port" listen address into a dialable one.
func probeAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
