// Package config loads daemon configuration: defaults, then an optional
// yaml file, then CVLT_* environment overrides, in that order.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	APIToken     string        `yaml:"apiToken"`
	RateRPS      float64       `yaml:"rateRps"`
	RateBurst    int           `yaml:"rateBurst"`
	RateIdleTTL  time.Duration `yaml:"rateIdleTtl"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

type LedgerConfig struct {
	// ProgramSeed names the deployment; the program address derives from it.
	ProgramSeed  string `yaml:"programSeed"`
	SnapshotPath string `yaml:"snapshotPath"`
	RecordsDir   string `yaml:"recordsDir"`
	// Passphrase encrypts snapshots at rest; empty writes plaintext. It is
	// env-only on purpose and has no yaml tag.
	Passphrase string `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:       "127.0.0.1:8547",
			RateRPS:      20,
			RateBurst:    40,
			RateIdleTTL:  10 * time.Minute,
			MaxBodyBytes: 1 << 20,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			ProgramSeed: "chainvault-main",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromPath reads the config file at configPath, or the first default
// candidate that exists when configPath is empty. A missing or malformed
// file falls back to defaults; env overrides always apply last.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src Config) {
	if src.Server.Listen != "" {
		dst.Server.Listen = src.Server.Listen
	}
	if src.Server.APIToken != "" {
		dst.Server.APIToken = src.Server.APIToken
	}
	if src.Server.RateRPS != 0 {
		dst.Server.RateRPS = src.Server.RateRPS
	}
	if src.Server.RateBurst != 0 {
		dst.Server.RateBurst = src.Server.RateBurst
	}
	if src.Server.RateIdleTTL != 0 {
		dst.Server.RateIdleTTL = src.Server.RateIdleTTL
	}
	if src.Server.MaxBodyBytes != 0 {
		dst.Server.MaxBodyBytes = src.Server.MaxBodyBytes
	}
	if src.Server.ReadTimeout != 0 {
		dst.Server.ReadTimeout = src.Server.ReadTimeout
	}
	if src.Server.WriteTimeout != 0 {
		dst.Server.WriteTimeout = src.Server.WriteTimeout
	}
	if src.Ledger.ProgramSeed != "" {
		dst.Ledger.ProgramSeed = src.Ledger.ProgramSeed
	}
	if src.Ledger.SnapshotPath != "" {
		dst.Ledger.SnapshotPath = src.Ledger.SnapshotPath
	}
	if src.Ledger.RecordsDir != "" {
		dst.Ledger.RecordsDir = src.Ledger.RecordsDir
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CVLT_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("CVLT_API_TOKEN")); v != "" {
		cfg.Server.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CVLT_RATE_RPS")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.Server.RateRPS = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CVLT_SNAPSHOT_PATH")); v != "" {
		cfg.Ledger.SnapshotPath = v
	}
	if v := strings.TrimSpace(os.Getenv("CVLT_RECORDS_DIR")); v != "" {
		cfg.Ledger.RecordsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CVLT_PASSPHRASE")); v != "" {
		cfg.Ledger.Passphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("CVLT_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// LogLevel maps the configured level name onto a slog level.
func (c LoggingConfig) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
