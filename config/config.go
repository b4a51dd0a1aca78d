package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"nftyield/crypto"
)

// Config is the daemon configuration. Addresses are bech32 strings; they are
// decoded during Validate so a bad address fails at startup, not mid-claim.
type Config struct {
	DataDir        string `toml:"DataDir"`
	VaultID        string `toml:"VaultID"`
	ChainID        uint64 `toml:"ChainID"`
	SigningDomain  string `toml:"SigningDomain"`
	BatchSigner    string `toml:"BatchSigner"`
	EpochDuration  string `toml:"EpochDuration"`
	MetricsAddress string `toml:"MetricsAddress"`
	LogFile        string `toml:"LogFile"`
	LogMaxSizeMB   int    `toml:"LogMaxSizeMB"`
	LogMaxBackups  int    `toml:"LogMaxBackups"`
	Environment    string `toml:"Environment"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./yielddata"
	}
	if strings.TrimSpace(c.VaultID) == "" {
		c.VaultID = "vault-main"
	}
	if c.ChainID == 0 {
		c.ChainID = 1
	}
	if strings.TrimSpace(c.SigningDomain) == "" {
		c.SigningDomain = "NFTYIELD_BALANCE_V1"
	}
	if strings.TrimSpace(c.EpochDuration) == "" {
		c.EpochDuration = "168h"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9464"
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 128
	}
	if c.LogMaxBackups <= 0 {
		c.LogMaxBackups = 3
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
}

// Validate checks the configuration for values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.ParsedEpochDuration(); err != nil {
		return err
	}
	if strings.TrimSpace(c.BatchSigner) != "" {
		if _, err := crypto.DecodeAddress(c.BatchSigner); err != nil {
			return fmt.Errorf("config: invalid BatchSigner: %w", err)
		}
	}
	return nil
}

// ParsedEpochDuration returns the epoch duration as a time.Duration.
func (c *Config) ParsedEpochDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.EpochDuration)
	if err != nil {
		return 0, fmt.Errorf("config: invalid EpochDuration %q: %w", c.EpochDuration, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: EpochDuration must be positive")
	}
	return d, nil
}

// SignerAddress decodes the configured batch signer. The zero address is
// returned when unset.
func (c *Config) SignerAddress() (crypto.Address, error) {
	if strings.TrimSpace(c.BatchSigner) == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(c.BatchSigner)
}
