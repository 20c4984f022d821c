// Package config holds the oracle daemon configuration: a JSON file overlaid
// with ORACLE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/storage"
)

// LogConfig configures the zap logger.
type LogConfig struct {
	Level             string `json:"level"`    // debug, info, warn, error
	Encoding          string `json:"encoding"` // json or console
	Development       bool   `json:"development"`
	DisableCaller     bool   `json:"disable_caller"`
	DisableStacktrace bool   `json:"disable_stacktrace"`
	Sampling          bool   `json:"sampling"`
}

// GenesisConfig describes the ledger's initial state.
type GenesisConfig struct {
	ChainID   string            `json:"chain_id"`
	Alloc     map[string]uint64 `json:"alloc"`     // pubkey hex → initial balance
	Admins    []string          `json:"admins"`    // protocol admin pubkey hexes
	Resolvers []string          `json:"resolvers"` // initial dispute resolver set
}

// Config holds all daemon configuration.
type Config struct {
	NodeID       string        `json:"node_id"`
	DataDir      string        `json:"data_dir"`
	Backend      string        `json:"backend"` // leveldb or bolt
	RPCAddr      string        `json:"rpc_addr"`
	RPCAuthToken string        `json:"rpc_auth_token,omitempty"`
	Log          LogConfig     `json:"log"`
	Params       core.Params   `json:"params"`
	Genesis      GenesisConfig `json:"genesis"`
}

// envOverlay lists the settings that may come from the environment.
type envOverlay struct {
	NodeID       string `env:"ORACLE_NODE_ID"`
	DataDir      string `env:"ORACLE_DATA_DIR"`
	Backend      string `env:"ORACLE_BACKEND"`
	RPCAddr      string `env:"ORACLE_RPC_ADDR"`
	RPCAuthToken string `env:"ORACLE_RPC_AUTH_TOKEN"`
	LogLevel     string `env:"ORACLE_LOG_LEVEL"`
	LogEncoding  string `env:"ORACLE_LOG_ENCODING"`
	ChainID      string `env:"ORACLE_CHAIN_ID"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:  "oracle0",
		DataDir: "./data",
		Backend: storage.BackendLevelDB,
		RPCAddr: ":8545",
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Params: core.DefaultParams(),
		Genesis: GenesisConfig{
			ChainID: "gameoracle-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to DefaultConfig when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv overrides cfg with any ORACLE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	var o envOverlay
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.NodeID, o.NodeID)
	set(&cfg.DataDir, o.DataDir)
	set(&cfg.Backend, o.Backend)
	set(&cfg.RPCAddr, o.RPCAddr)
	set(&cfg.RPCAuthToken, o.RPCAuthToken)
	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Encoding, o.LogEncoding)
	set(&cfg.Genesis.ChainID, o.ChainID)
	return nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id is required")
	}
	p := c.Params
	if p.DeveloperShareBps+p.DisputerShareBps > 10_000 {
		return fmt.Errorf("revenue shares exceed 10000 bps")
	}
	if p.FirstOffenseSlashPct > 100 || p.RepeatOffenseSlashPct > 100 {
		return fmt.Errorf("slash percentages must be <= 100")
	}
	if p.MaxBatchQuery <= 0 {
		return fmt.Errorf("max_batch_query must be > 0")
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
