package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the daemon's runtime configuration.
type Config struct {
	ListenAddress     string  `toml:"ListenAddress"`
	DataDir           string  `toml:"DataDir"`
	ServiceName       string  `toml:"ServiceName"`
	Environment       string  `toml:"Environment"`
	LogFile           string  `toml:"LogFile,omitempty"`
	LogFileMaxSizeMB  int     `toml:"LogFileMaxSizeMB,omitempty"`
	LogFileMaxBackups int     `toml:"LogFileMaxBackups,omitempty"`
	OpsRatePerMinute  float64 `toml:"OpsRatePerMinute"`
	OpsBurst          int     `toml:"OpsBurst"`
	JournalCapacity   int     `toml:"JournalCapacity"`
}

// Load loads the configuration from the given path, writing a default file on
// first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.OpsRatePerMinute <= 0 {
		return fmt.Errorf("config: OpsRatePerMinute must be positive")
	}
	if c.OpsBurst <= 0 {
		return fmt.Errorf("config: OpsBurst must be positive")
	}
	if c.JournalCapacity <= 0 {
		return fmt.Errorf("config: JournalCapacity must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "modpayd"
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8646"
	}
	if cfg.OpsRatePerMinute == 0 {
		cfg.OpsRatePerMinute = 600
	}
	if cfg.OpsBurst == 0 {
		cfg.OpsBurst = 20
	}
	if cfg.JournalCapacity == 0 {
		cfg.JournalCapacity = 4096
	}
	if cfg.LogFileMaxSizeMB == 0 {
		cfg.LogFileMaxSizeMB = 64
	}
	if cfg.LogFileMaxBackups == 0 {
		cfg.LogFileMaxBackups = 4
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8646",
		DataDir:       "./modpay-data",
		ServiceName:   "modpayd",
		Environment:   "local",
	}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
