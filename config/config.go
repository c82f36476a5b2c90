/*
config.go - waqfd configuration

PURPOSE:
  Loads the process configuration from an optional JSON file, then lets
  WAQF_* environment variables override it, then fills defaults.

PRECEDENCE:
  defaults < waqf.json < environment

EXAMPLE waqf.json:
  {
    "server": {"port": "8080", "allowed_origins": ["https://admin.example.org"]},
    "data_source": {"dsn": "./data/waqf.db"},
    "redis": {"addr": "localhost:6379"},
    "sweeper": {"enabled": true, "interval_seconds": 3600},
    "engine": {"minimum_principal": "100"}
  }

SEE ALSO:
  - cmd/waqfd: Reads the config once at startup
*/
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPort            = "8080"
	DefaultDSN             = "./data/waqf.db"
	DefaultSweepInterval   = 3600
	DefaultMaxRetries      = 5
	DefaultRetryIntervalMs = 20
	DefaultLockTTLSeconds  = 10
)

var configStore atomic.Value

type ServerConfig struct {
	Port           string   `json:"port" envconfig:"WAQF_SERVER_PORT"`
	AllowedOrigins []string `json:"allowed_origins" envconfig:"WAQF_SERVER_ALLOWED_ORIGINS"`
}

type DataSourceConfig struct {
	DSN string `json:"dsn" envconfig:"WAQF_DATA_SOURCE_DSN"`
}

// RedisConfig is optional. An empty address disables distributed locking.
type RedisConfig struct {
	Addr           string `json:"addr" envconfig:"WAQF_REDIS_ADDR"`
	LockTTLSeconds int    `json:"lock_ttl_seconds" envconfig:"WAQF_REDIS_LOCK_TTL_SECONDS"`
}

type SweeperConfig struct {
	Enabled         bool `json:"enabled" envconfig:"WAQF_SWEEPER_ENABLED"`
	IntervalSeconds int  `json:"interval_seconds" envconfig:"WAQF_SWEEPER_INTERVAL_SECONDS"`
}

type RetryConfig struct {
	MaxRetries        uint64 `json:"max_retries" envconfig:"WAQF_RETRY_MAX_RETRIES"`
	InitialIntervalMs int    `json:"initial_interval_ms" envconfig:"WAQF_RETRY_INITIAL_INTERVAL_MS"`
}

type EngineConfig struct {
	MinimumPrincipal string `json:"minimum_principal" envconfig:"WAQF_ENGINE_MINIMUM_PRINCIPAL"`
}

type Configuration struct {
	Server     ServerConfig     `json:"server"`
	DataSource DataSourceConfig `json:"data_source"`
	Redis      RedisConfig      `json:"redis"`
	Sweeper    SweeperConfig    `json:"sweeper"`
	Retry      RetryConfig      `json:"retry"`
	Engine     EngineConfig     `json:"engine"`
}

// Load reads file if it exists and applies environment overrides. It does
// not touch the process-wide store; InitConfig does.
func Load(file string) (*Configuration, error) {
	var cnf Configuration
	if file != "" {
		f, err := os.Open(file)
		switch {
		case err == nil:
			defer f.Close()
			if err := json.NewDecoder(f).Decode(&cnf); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", file, err)
			}
		case errors.Is(err, os.ErrNotExist):
			logrus.Infof("config file %s not found, using environment variables", file)
		default:
			return nil, err
		}
	}

	if err := envconfig.Process("waqf", &cnf); err != nil {
		return nil, err
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return &cnf, nil
}

func InitConfig(file string) error {
	cnf, err := Load(file)
	if err != nil {
		return err
	}
	configStore.Store(cnf)
	return nil
}

func Fetch() (*Configuration, error) {
	c, ok := configStore.Load().(*Configuration)
	if !ok || c == nil {
		return nil, errors.New("config not loaded, call InitConfig first")
	}
	return c, nil
}

func MockConfig(mockConfig *Configuration) {
	configStore.Store(mockConfig)
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.DSN = strings.TrimSpace(cnf.DataSource.DSN)
	cnf.Redis.Addr = strings.TrimSpace(cnf.Redis.Addr)
	cnf.Engine.MinimumPrincipal = strings.TrimSpace(cnf.Engine.MinimumPrincipal)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DefaultPort
		logrus.Warnf("port not specified, using default %s", DefaultPort)
	}
	if len(cnf.Server.AllowedOrigins) == 0 {
		cnf.Server.AllowedOrigins = []string{"*"}
	}
	if cnf.DataSource.DSN == "" {
		cnf.DataSource.DSN = DefaultDSN
	}
	if cnf.Redis.LockTTLSeconds <= 0 {
		cnf.Redis.LockTTLSeconds = DefaultLockTTLSeconds
	}
	if cnf.Sweeper.IntervalSeconds < 0 {
		return fmt.Errorf("sweeper interval must not be negative, got %d", cnf.Sweeper.IntervalSeconds)
	}
	if cnf.Sweeper.IntervalSeconds == 0 {
		cnf.Sweeper.IntervalSeconds = DefaultSweepInterval
	}
	if cnf.Retry.MaxRetries == 0 {
		cnf.Retry.MaxRetries = DefaultMaxRetries
	}
	if cnf.Retry.InitialIntervalMs <= 0 {
		cnf.Retry.InitialIntervalMs = DefaultRetryIntervalMs
	}
	if cnf.Engine.MinimumPrincipal != "" {
		floor, err := decimal.NewFromString(cnf.Engine.MinimumPrincipal)
		if err != nil {
			return fmt.Errorf("invalid minimum principal %q: %w", cnf.Engine.MinimumPrincipal, err)
		}
		if floor.IsNegative() {
			return fmt.Errorf("minimum principal must not be negative, got %s", floor)
		}
	}
	return nil
}

// SweepInterval is the sweeper period as a duration.
func (cnf *Configuration) SweepInterval() time.Duration {
	return time.Duration(cnf.Sweeper.IntervalSeconds) * time.Second
}

func (cnf *Configuration) RetryInterval() time.Duration {
	return time.Duration(cnf.Retry.InitialIntervalMs) * time.Millisecond
}

func (cnf *Configuration) LockTTL() time.Duration {
	return time.Duration(cnf.Redis.LockTTLSeconds) * time.Second
}

// MinimumPrincipal is zero when unset. validateAndAddDefaults already
// rejected unparsable values.
func (cnf *Configuration) MinimumPrincipal() decimal.Decimal {
	if cnf.Engine.MinimumPrincipal == "" {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(cnf.Engine.MinimumPrincipal)
	return d
}
