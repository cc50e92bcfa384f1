package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChainConfig describes one supported chain and the stablecoin contract
// payments are made in on that chain.
type ChainConfig struct {
	RPCUrl        string `json:"rpcUrl" validate:"required,url"`
	TokenAddress  string `json:"tokenAddress" validate:"required,len=42,startswith=0x"`
	TokenDecimals int32  `json:"tokenDecimals" validate:"gte=0,lte=36"`
}

// Config is the engine configuration. Zero durations and counts are
// replaced by defaults in ApplyDefaults.
type Config struct {
	// Chains maps a chain identifier (e.g. "base", "polygon") to its
	// provider and token. The set is small and fixed for the process
	// lifetime.
	Chains map[string]ChainConfig `json:"chains" validate:"required,min=1,dive"`

	// RPCTimeout bounds every provider call. A timeout surfaces as
	// CHAIN_UNAVAILABLE, never as an invalid verdict.
	RPCTimeout time.Duration `json:"rpcTimeout,omitempty"`

	// CacheTTL bounds how long a definitive verification verdict is
	// reused without a fresh RPC round-trip.
	CacheTTL time.Duration `json:"cacheTtl,omitempty"`

	// CacheSweepInterval is how often expired cache entries are purged.
	CacheSweepInterval time.Duration `json:"cacheSweepInterval,omitempty"`

	// FreshnessWindow is the trust-recent-writes policy for access
	// checks: a payment row younger than this grants access without
	// re-verification on chain.
	FreshnessWindow time.Duration `json:"freshnessWindow,omitempty"`

	// LookbackBlocks is the default scan range when the caller omits
	// block bounds.
	LookbackBlocks uint64 `json:"lookbackBlocks,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`
}

// Defaults.
const (
	DefaultRPCTimeout         = 30 * time.Second
	DefaultCacheTTL           = 10 * time.Minute
	DefaultCacheSweepInterval = time.Minute
	DefaultFreshnessWindow    = 5 * time.Minute
	DefaultLookbackBlocks     = 10_000
)

// ApplyDefaults fills unset tuning fields.
func (c *Config) ApplyDefaults() {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheSweepInterval <= 0 {
		c.CacheSweepInterval = DefaultCacheSweepInterval
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = DefaultLookbackBlocks
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &Error{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	return nil
}

// ParseConfig parses and validates a Config from JSON.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
