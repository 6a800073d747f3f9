package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration. It is loaded once in main and
// passed explicitly to every component; there is no package-level
// singleton.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Prover   ProverConfig   `yaml:"prover"`
	NATS     NATSConfig     `yaml:"nats"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig is the HTTP API listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the commitment store backend settings. When DSN is
// empty the file store is used with Dir as its root.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
	Dir string `yaml:"dir"`
}

// GatewayConfig points at the ledger gateway sidecar (RPC endpoint plus
// wallet signing channel).
type GatewayConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// ProverConfig points at the proof backend service. Proof generation is
// long-running; the timeout bounds a single proof request.
type ProverConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds
}

// NATSConfig configures the optional event publisher.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// ProtocolConfig carries the fixed oracle prices and per-action health
// minimums. Raw prices are the 1e6-scaled values passed as public inputs;
// unit prices feed the local health evaluation.
type ProtocolConfig struct {
	BtcPriceRaw        string `yaml:"btcPriceRaw"`
	UsdcPriceRaw       string `yaml:"usdcPriceRaw"`
	BtcPrice           int64  `yaml:"btcPrice"`
	UsdcPrice          int64  `yaml:"usdcPrice"`
	MinHealthBorrowPct int64  `yaml:"minHealthBorrowPct"`
	MinHealthExitPct   int64  `yaml:"minHealthExitPct"`
	StatsInterval      int    `yaml:"statsInterval"` // seconds
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML configuration at path and applies defaults. An
// empty path yields the pure default configuration.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Run on defaults and env overrides when no file is present.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if v := os.Getenv("VESTAZK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VESTAZK_GATEWAY_ENDPOINT"); v != "" {
		cfg.Gateway.Endpoint = v
	}
	if v := os.Getenv("VESTAZK_PROVER_URL"); v != "" {
		cfg.Prover.BaseURL = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Dir: "data/commitments",
		},
		Gateway: GatewayConfig{
			Endpoint: "http://localhost:9545",
			Timeout:  30,
		},
		Prover: ProverConfig{
			BaseURL: "http://localhost:3030",
			Timeout: 120,
		},
		NATS: NATSConfig{URL: "nats://localhost:4222"},
		Protocol: ProtocolConfig{
			BtcPriceRaw:        "65000000000",
			UsdcPriceRaw:       "1000000",
			BtcPrice:           65000,
			UsdcPrice:          1,
			MinHealthBorrowPct: 110,
			MinHealthExitPct:   150,
			StatsInterval:      60,
		},
		Log: LogConfig{Level: "info"},
	}
}

func (c *Config) validate() error {
	if c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway endpoint is required")
	}
	if c.Prover.BaseURL == "" {
		return fmt.Errorf("prover base URL is required")
	}
	if c.Protocol.MinHealthBorrowPct <= 100 {
		return fmt.Errorf("borrow health minimum must exceed 100%%")
	}
	if c.Protocol.MinHealthExitPct < c.Protocol.MinHealthBorrowPct {
		return fmt.Errorf("exit health minimum must not be below the borrow minimum")
	}
	return nil
}

// GatewayTimeout returns the gateway call timeout as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeout) * time.Second
}

// ProverTimeout returns the proof generation timeout as a duration.
func (c *Config) ProverTimeout() time.Duration {
	return time.Duration(c.Prover.Timeout) * time.Second
}

// StatsInterval returns the pool stats polling interval as a duration.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Protocol.StatsInterval) * time.Second
}
