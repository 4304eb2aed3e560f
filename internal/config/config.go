package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the hosting application's view of the signing core. Everything
// has a working default; a YAML file and RECALL254_* env vars override it.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Keyring  KeyringConfig  `yaml:"keyring"`
	Receipts ReceiptsConfig `yaml:"receipts"`
}

type StoreConfig struct {
	// Backend selects "memory" or "badger".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type KeyringConfig struct {
	// Directory holds the keyring state snapshot; empty selects the
	// in-memory store.
	Directory string `yaml:"directory"`
}

type ReceiptsConfig struct {
	ValidityDays       int     `yaml:"validityDays"`
	VerifyPerMinute    float64 `yaml:"verifyPerMinute"`
	VerifyBurst        int     `yaml:"verifyBurst"`
	VerifyIdleTTLHours int     `yaml:"verifyIdleTTLHours"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend: "badger",
			Path:    "data/signing-store",
		},
		Keyring: KeyringConfig{
			Directory: "data/keyring",
		},
		Receipts: ReceiptsConfig{
			ValidityDays:    60,
			VerifyPerMinute: 10,
			VerifyBurst:     5,
		},
	}
}

// LoadFromPath reads the first readable candidate config and applies env
// overrides. An unreadable or unparsable file falls back to defaults rather
// than failing the host.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/recall254.yaml",
			"recall254.yaml",
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
	if src.Store.Backend != "" {
		dst.Store.Backend = src.Store.Backend
	}
	if src.Store.Path != "" {
		dst.Store.Path = src.Store.Path
	}
	if src.Keyring.Directory != "" {
		dst.Keyring.Directory = src.Keyring.Directory
	}
	if src.Receipts.ValidityDays > 0 {
		dst.Receipts.ValidityDays = src.Receipts.ValidityDays
	}
	if src.Receipts.VerifyPerMinute > 0 {
		dst.Receipts.VerifyPerMinute = src.Receipts.VerifyPerMinute
	}
	if src.Receipts.VerifyBurst > 0 {
		dst.Receipts.VerifyBurst = src.Receipts.VerifyBurst
	}
	if src.Receipts.VerifyIdleTTLHours > 0 {
		dst.Receipts.VerifyIdleTTLHours = src.Receipts.VerifyIdleTTLHours
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RECALL254_STORE_BACKEND")); v != "" {
		cfg.Store.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("RECALL254_STORE_PATH")); v != "" {
		cfg.Store.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("RECALL254_KEYRING_DIR")); v != "" {
		cfg.Keyring.Directory = v
	}
	if v := strings.TrimSpace(os.Getenv("RECALL254_RECEIPT_VALIDITY_DAYS")); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Receipts.ValidityDays = days
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECALL254_RECEIPT_VERIFY_PER_MINUTE")); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate > 0 {
			cfg.Receipts.VerifyPerMinute = rate
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECALL254_RECEIPT_VERIFY_BURST")); v != "" {
		if burst, err := strconv.Atoi(v); err == nil && burst > 0 {
			cfg.Receipts.VerifyBurst = burst
		}
	}
}
