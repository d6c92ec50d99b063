package recoverymon

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for recoverymon.
type Config struct {
	ListenAddress string                     `yaml:"listen"`
	Environment   string                     `yaml:"environment"`
	PollInterval  Duration                   `yaml:"poll_interval"`
	Concurrency   int                        `yaml:"concurrency"`
	RPC           RPCConfig                  `yaml:"rpc"`
	Indexer       IndexerConfig              `yaml:"indexer"`
	Deployments   string                     `yaml:"deployments"`
	Wallets       []WalletConfig             `yaml:"wallets"`
	Auth          AuthConfig                 `yaml:"auth"`
	RateLimits    map[string]RateLimitConfig `yaml:"rate_limits"`
	Logging       LoggingConfig              `yaml:"logging"`
	Telemetry     TelemetryConfig            `yaml:"telemetry"`
}

// RPCConfig points at the chain the monitored wallets live on.
type RPCConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	EndpointEnv string   `yaml:"endpoint_env"`
	ChainID     uint64   `yaml:"chain_id"`
	Timeout     Duration `yaml:"timeout"`
	RateLimit   float64  `yaml:"rate_limit"`
	Burst       int      `yaml:"burst"`
}

// IndexerConfig locates the transaction indexer that reports wallet creation.
type IndexerConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// WalletConfig names one wallet and the Delay module guarding it.
type WalletConfig struct {
	Address string `yaml:"address"`
	Module  string `yaml:"module"`
	Version string `yaml:"version"`
}

// AuthConfig secures the recovery API with HMAC-signed bearer tokens.
type AuthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	HMACSecret     string `yaml:"hmac_secret"`
	HMACSecretFile string `yaml:"hmac_secret_file"`
	HMACSecretEnv  string `yaml:"hmac_secret_env"`
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
}

// RateLimitConfig configures one API bucket.
type RateLimitConfig struct {
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	Tokens        map[string]int `yaml:"tokens"`
}

// LoggingConfig controls the optional rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Target is a validated wallet entry.
type Target struct {
	Wallet  common.Address
	Module  common.Address
	Version string
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.RPC.normalise(); err != nil {
		return cfg, fmt.Errorf("rpc: %w", err)
	}
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if env := strings.TrimSpace(os.Getenv("RECOVERYMON_ENV")); env != "" {
		cfg.Environment = env
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RPC.Timeout.Duration == 0 {
		cfg.RPC.Timeout.Duration = 30 * time.Second
	}
	if cfg.RPC.Burst <= 0 {
		cfg.RPC.Burst = 10
	}
	if cfg.Indexer.Timeout.Duration == 0 {
		cfg.Indexer.Timeout.Duration = 15 * time.Second
	}
	for i := range cfg.Wallets {
		if strings.TrimSpace(cfg.Wallets[i].Version) == "" {
			cfg.Wallets[i].Version = "1.3.0"
		}
	}
}

func validateConfig(cfg Config) error {
	if cfg.RPC.ChainID == 0 {
		return fmt.Errorf("rpc chain_id must be configured")
	}
	if strings.TrimSpace(cfg.Indexer.URL) == "" {
		return fmt.Errorf("indexer url must be configured")
	}
	if len(cfg.Wallets) == 0 {
		return fmt.Errorf("at least one wallet must be configured")
	}
	if _, err := cfg.Targets(); err != nil {
		return err
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth enabled without hmac_secret")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0, 1]")
	}
	return nil
}

// Targets parses the configured wallets.
func (c Config) Targets() ([]Target, error) {
	targets := make([]Target, 0, len(c.Wallets))
	seen := make(map[common.Address]struct{}, len(c.Wallets))
	for i, w := range c.Wallets {
		wallet, module := strings.TrimSpace(w.Address), strings.TrimSpace(w.Module)
		if !common.IsHexAddress(wallet) {
			return nil, fmt.Errorf("wallets[%d]: invalid address %q", i, w.Address)
		}
		if !common.IsHexAddress(module) {
			return nil, fmt.Errorf("wallets[%d]: invalid module %q", i, w.Module)
		}
		target := Target{
			Wallet:  common.HexToAddress(wallet),
			Module:  common.HexToAddress(module),
			Version: strings.TrimSpace(w.Version),
		}
		if _, dup := seen[target.Wallet]; dup {
			return nil, fmt.Errorf("wallets[%d]: %s listed twice", i, target.Wallet.Hex())
		}
		seen[target.Wallet] = struct{}{}
		targets = append(targets, target)
	}
	return targets, nil
}

func (r *RPCConfig) normalise() error {
	r.Endpoint = strings.TrimSpace(r.Endpoint)
	r.EndpointEnv = strings.TrimSpace(r.EndpointEnv)
	if r.Endpoint != "" {
		return nil
	}
	if r.EndpointEnv == "" {
		return fmt.Errorf("endpoint is required")
	}
	value := strings.TrimSpace(os.Getenv(r.EndpointEnv))
	if value == "" {
		return fmt.Errorf("endpoint_env %s is empty", r.EndpointEnv)
	}
	r.Endpoint = value
	return nil
}

func (a *AuthConfig) normalise() error {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	a.HMACSecretEnv = strings.TrimSpace(a.HMACSecretEnv)
	a.HMACSecretFile = strings.TrimSpace(a.HMACSecretFile)
	if a.HMACSecret != "" {
		return nil
	}
	switch {
	case a.HMACSecretEnv != "":
		value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	case a.HMACSecretFile != "":
		contents, err := os.ReadFile(a.HMACSecretFile)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	}
	return nil
}
