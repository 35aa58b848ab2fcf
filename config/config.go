// Package config loads gatekeeper settings from flags, environment and an
// optional gatekeeper.yaml file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "gatekeeper"

	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	// MinSecretLength matches the session sealer's key requirement
	MinSecretLength = 32
)

// Network carries the defaults selected by the network mode
type Network struct {
	ChainID        int64
	RPCURL         string
	CommentManager string
}

var networks = map[string]Network{
	NetworkMainnet: {
		ChainID:        8453,
		RPCURL:         "https://mainnet.base.org",
		CommentManager: "0xb262C9278fBcac384Ef59Fc49E24d800152E19b1",
	},
	NetworkTestnet: {
		ChainID:        84532,
		RPCURL:         "https://sepolia.base.org",
		CommentManager: "0xb262C9278fBcac384Ef59Fc49E24d800152E19b1",
	},
}

// NetworkDefaults returns the defaults for a network mode
func NetworkDefaults(mode string) (Network, error) {
	n, ok := networks[strings.ToLower(mode)]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q, want %s or %s", mode, NetworkMainnet, NetworkTestnet)
	}
	return n, nil
}

type Config struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`
	Network  string `mapstructure:"network"`
	Upstream string `mapstructure:"upstream"`

	Session SessionConfig `mapstructure:"session"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Gate    GateConfig    `mapstructure:"gate"`
	Docs    DocsConfig    `mapstructure:"docs"`
}

type SessionConfig struct {
	Secret       string        `mapstructure:"secret"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieDomain string        `mapstructure:"cookie_domain"`
	Secure       bool          `mapstructure:"secure"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	Domain   string        `mapstructure:"domain"`
	NonceTTL time.Duration `mapstructure:"nonce_ttl"`
	ChainIDs []int64       `mapstructure:"chain_ids"`
}

// RelayConfig holds the gasless relay identities. An empty signer key turns
// the relay off; an empty submitter key reuses the signer key.
type RelayConfig struct {
	SignerKey      string        `mapstructure:"signer_key"`
	SubmitterKey   string        `mapstructure:"submitter_key"`
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	CommentManager string        `mapstructure:"comment_manager"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type GateConfig struct {
	Prefixes  []string `mapstructure:"prefixes"`
	LoginPath string   `mapstructure:"login_path"`
}

type DocsConfig struct {
	Prefix  string   `mapstructure:"prefix"`
	Locales []string `mapstructure:"locales"`
}

// Defaults lists every key so that environment variables are picked up on unmarshal.
func Defaults() map[string]any {
	return map[string]any{
		"listen":                ":9000",
		"log_level":             "info",
		"network":               NetworkMainnet,
		"upstream":              "",
		"session.secret":        "",
		"session.cookie_name":   "gatekeeper_session",
		"session.cookie_domain": "",
		"session.secure":        true,
		"session.ttl":           "168h",
		"auth.domain":           "",
		"auth.nonce_ttl":        "60s",
		"auth.chain_ids":        []int64{},
		"relay.signer_key":      "",
		"relay.submitter_key":   "",
		"relay.rpc_url":         "",
		"relay.chain_id":        0,
		"relay.comment_manager": "",
		"relay.timeout":         "30s",
		"redis.url":             "",
		"gate.prefixes":         []string{"/bookmarks", "/notifications", "/settings", "/compose"},
		"gate.login_path":       "/login",
		"docs.prefix":           "/docs",
		"docs.locales":          []string{"en"},
	}
}

// Load resolves the configuration. Precedence, highest first: flags bound on
// cmd, GATEKEEPER_* environment variables, the config file, Defaults.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("gatekeeper")
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.AddConfigPath("/etc/gatekeeper")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := c.applyNetwork(); err != nil {
		return c, err
	}

	return c, nil
}

// applyNetwork fills relay and auth settings left empty from the network mode
func (c *Config) applyNetwork() error {
	n, err := NetworkDefaults(c.Network)
	if err != nil {
		return err
	}

	if c.Relay.ChainID == 0 {
		c.Relay.ChainID = n.ChainID
	}
	if c.Relay.RPCURL == "" {
		c.Relay.RPCURL = n.RPCURL
	}
	if c.Relay.CommentManager == "" {
		c.Relay.CommentManager = n.CommentManager
	}
	if len(c.Auth.ChainIDs) == 0 {
		c.Auth.ChainIDs = []int64{c.Relay.ChainID}
	}

	return nil
}

// Enabled reports whether a signer key is configured
func (r RelayConfig) Enabled() bool {
	return strings.TrimSpace(r.SignerKey) != ""
}

// RelayEnabled reports whether a signer key is configured
func (c *Config) RelayEnabled() bool {
	return c.Relay.Enabled()
}

// Validate checks the settings a server cannot start without
func (c *Config) Validate() error {
	var errs []error

	if len(c.Session.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("session.secret must be at least %d bytes", MinSecretLength))
	}
	if _, err := NetworkDefaults(c.Network); err != nil {
		errs = append(errs, err)
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Auth.NonceTTL <= 0 {
		errs = append(errs, errors.New("auth.nonce_ttl must be positive"))
	}
	if c.RelayEnabled() && !common.IsHexAddress(c.Relay.CommentManager) {
		errs = append(errs, fmt.Errorf("relay.comment_manager %q is not an address", c.Relay.CommentManager))
	}
	for _, prefix := range c.Gate.Prefixes {
		if !strings.HasPrefix(prefix, "/") {
			errs = append(errs, fmt.Errorf("gate prefix %q must start with /", prefix))
		}
	}

	return errors.Join(errs...)
}
