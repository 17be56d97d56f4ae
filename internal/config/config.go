package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/risklab/signalgate/internal/confidence"
	"github.com/risklab/signalgate/internal/exits"
	"github.com/risklab/signalgate/internal/guards"
	"github.com/risklab/signalgate/internal/portfolio"
	"github.com/risklab/signalgate/internal/regime"
)

// EngineConfig tunes the run loop.
type EngineConfig struct {
	RegimeInterval time.Duration `yaml:"regime_interval" default:"30s"`

	// AutoCloseOnExit flattens any open positions when the run loop stops.
	AutoCloseOnExit bool `yaml:"auto_close_on_exit" default:"true"`
}

// ServerConfig is the read-only status HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host" default:"127.0.0.1"`
	Port         int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
}

// FeedConfig is the websocket ingest endpoint collaborators push into.
type FeedConfig struct {
	Host      string  `yaml:"host" default:"127.0.0.1"`
	Port      int     `yaml:"port" default:"8081" validate:"min=1,max=65535"`
	Path      string  `yaml:"path" default:"/feed"`
	RateLimit float64 `yaml:"rate_limit" default:"200"` // messages/sec per connection
	RateBurst int     `yaml:"rate_burst" default:"50"`
}

// SnapshotConfig is the optional Redis status publisher.
type SnapshotConfig struct {
	Enabled bool          `yaml:"enabled" default:"false"`
	Addr    string        `yaml:"addr" default:"localhost:6379"`
	DB      int           `yaml:"db" default:"0"`
	Prefix  string        `yaml:"prefix" default:"signalgate"`
	TTL     time.Duration `yaml:"ttl" default:"2m"`
}

// JournalConfig is the optional Postgres closed-position journal.
type JournalConfig struct {
	Enabled bool          `yaml:"enabled" default:"false"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout" default:"5s"`
}

// Config is the full external configuration surface.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`

	Engine   EngineConfig   `yaml:"engine"`
	Server   ServerConfig   `yaml:"server"`
	Feed     FeedConfig     `yaml:"feed"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Journal  JournalConfig  `yaml:"journal"`

	Regime     regime.Config     `yaml:"regime"`
	Confidence confidence.Config `yaml:"confidence"`
	Guards     guards.Config     `yaml:"guards"`
	Portfolio  portfolio.Config  `yaml:"portfolio"`
	Exits      exits.Config      `yaml:"exits"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	fillTables(cfg)
	return cfg, nil
}

// Load reads a yaml file over the built-in defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	fillTables(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillTables installs the built-in lookup tables the defaults tags cannot
// express.
func fillTables(cfg *Config) {
	if cfg.Regime.Thresholds == nil {
		cfg.Regime.Thresholds = regime.DefaultThresholds()
	}
	if cfg.Portfolio.ExposureCapPct == nil {
		cfg.Portfolio.ExposureCapPct = portfolio.DefaultExposureCaps()
	}
	if cfg.Portfolio.Correlations == nil {
		cfg.Portfolio.Correlations = portfolio.DefaultCorrelations()
	}
	if cfg.Exits.AdverseShifts == nil {
		cfg.Exits.AdverseShifts = exits.DefaultAdverseShifts()
	}
}

// Validate applies struct tags plus the cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if sum := c.Confidence.Weights.Sum(); math.Abs(sum-100) > 1e-6 {
		return fmt.Errorf("config validation: confidence weights sum to %.2f, want 100", sum)
	}
	if c.Portfolio.CorrelationSoftCap >= c.Portfolio.CorrelationHardCap {
		return fmt.Errorf("config validation: correlation soft cap %.2f must be below hard cap %.2f",
			c.Portfolio.CorrelationSoftCap, c.Portfolio.CorrelationHardCap)
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("config validation: journal enabled without dsn")
	}
	return nil
}
