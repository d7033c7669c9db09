package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" default:"/app/data"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8111"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN" default:""`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPath   string `envconfig:"LOG_PATH" default:""`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Reconciliation
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"60s"`
	ReconcileWorkers  int           `envconfig:"RECONCILE_WORKERS" default:"10"`
	OpenTimeout       time.Duration `envconfig:"OPEN_TIMEOUT" default:"30s"`
	ProbeTimeout      time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s"`
	CloseTimeout      time.Duration `envconfig:"CLOSE_TIMEOUT" default:"5s"`
	CommandTimeout    time.Duration `envconfig:"COMMAND_TIMEOUT" default:"60s"`
	ResolveHostnames  bool          `envconfig:"RESOLVE_HOSTNAMES" default:"true"`
	// Consecutive authentication failures before passes back off a device.
	AuthFailureThreshold int `envconfig:"AUTH_FAILURE_THRESHOLD" default:"3"`

	SSHKnownHosts string `envconfig:"SSH_KNOWN_HOSTS" default:""`
	SSHPrivateKey string `envconfig:"SSH_PRIVATE_KEY" default:""` // optional PEM key file offered before password auth
	APIToken      string `envconfig:"API_TOKEN" default:""`

	NATSURL     string `envconfig:"NATS_URL" default:""`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"devsync.events"`

	OTelMetricsEndpoint string `envconfig:"OTEL_METRICS_ENDPOINT" default:""`
	OTelInsecure        bool   `envconfig:"OTEL_INSECURE" default:"false"`

	InventoryPath string `envconfig:"INVENTORY_PATH" default:""`
}

var Cfg Settings

func Load() error {
	if err := envconfig.Process("DEVSYNC", &Cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if Cfg.ReconcileWorkers <= 0 {
		Cfg.ReconcileWorkers = 10
	}
	return nil
}

// DatabasePath returns the sqlite file used when no DSN is configured.
func (s Settings) DatabasePath() string {
	if s.DatabaseDSN != "" {
		return s.DatabaseDSN
	}
	return filepath.Join(s.DataPath, "devsync.db")
}
