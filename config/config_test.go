package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/bech32"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.VaultID != "vault-main" {
		t.Fatalf("unexpected default vault: %q", cfg.VaultID)
	}
	if cfg.ChainID != 1 {
		t.Fatalf("unexpected default chain: %d", cfg.ChainID)
	}
	d, err := cfg.ParsedEpochDuration()
	if err != nil {
		t.Fatalf("parse duration: %v", err)
	}
	if d != 168*time.Hour {
		t.Fatalf("unexpected default epoch duration: %s", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
DataDir = "/var/lib/yield"
VaultID = "vault-west"
ChainID = 42
SigningDomain = "NFTYIELD_TESTNET"
EpochDuration = "24h"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VaultID != "vault-west" || cfg.ChainID != 42 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// Unset fields still pick up defaults.
	if cfg.MetricsAddress != ":9464" {
		t.Fatalf("missing default metrics address: %q", cfg.MetricsAddress)
	}
	d, err := cfg.ParsedEpochDuration()
	if err != nil {
		t.Fatalf("parse duration: %v", err)
	}
	if d != 24*time.Hour {
		t.Fatalf("unexpected duration: %s", d)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	cfg.EpochDuration = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duration rejection")
	}

	cfg.EpochDuration = "-1h"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative duration rejection")
	}

	cfg.EpochDuration = "1h"
	cfg.BatchSigner = "not-bech32"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected signer rejection")
	}

	// Well-formed bech32 over a short payload must fail validation, not panic.
	conv, err := bech32.ConvertBits(make([]byte, 10), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	short, err := bech32.Encode("nfy", conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cfg.BatchSigner = short
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected short-payload signer rejection")
	}
}

func TestSignerAddressOptional(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	signer, err := cfg.SignerAddress()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if !signer.IsZero() {
		t.Fatalf("expected zero signer when unset")
	}
}
