// Package config loads the relay gateway's runtime configuration.
//
// A single Config struct is resolved once at boot (env vars layered over
// an optional relay.toml) and handed by reference to every component
// constructor. Nothing in the gateway re-reads viper after Load returns.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/agenthq/relay/errors"
)

// defaultConfigPermissions keeps a generated config file owner-readable
// only, since a hand-edited relay.toml may end up holding an api_key.
const defaultConfigPermissions = 0o600

// Config is the immutable, fully-resolved runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type VaultConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	SessionExpiry time.Duration `mapstructure:"session_expiry"`
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
}

type ChatConfig struct {
	DefaultModel     string `mapstructure:"default_model"`
	OpenRouterAPIKey string `mapstructure:"openrouter_api_key"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
}

type QueueConfig struct {
	StaleLockTimeout time.Duration `mapstructure:"stale_lock_timeout"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
}

type UpstreamConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ArmingTimeout    time.Duration `mapstructure:"arming_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// Load resolves configuration from an optional relay.toml at configPath
// (empty skips the file entirely) layered under environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("vault.path", "")
	v.SetDefault("auth.session_expiry", 24*time.Hour)
	v.SetDefault("chat.default_model", "gpt-4o-mini")
	v.SetDefault("queue.stale_lock_timeout", 30*time.Second)
	v.SetDefault("queue.debounce_interval", 100*time.Millisecond)
	v.SetDefault("upstream.host", "127.0.0.1")
	v.SetDefault("upstream.port", 8899)
	v.SetDefault("upstream.arming_timeout", 30*time.Second)
	v.SetDefault("upstream.dial_timeout", 3*time.Second)
	v.SetDefault("upstream.reconnect_backoff", 5*time.Second)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	v.SetEnvPrefix("AGENTHQ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind the documented environment variables explicitly, since their
	// names don't all follow the AGENTHQ_<SECTION>_<FIELD> convention.
	bindings := map[string]string{
		"auth.api_key":              "AGENTHQ_API_KEY",
		"vault.path":                "VAULT_PATH",
		"chat.default_model":        "DEFAULT_MODEL",
		"chat.openrouter_api_key":   "OPENROUTER_API_KEY",
		"chat.embedding_model":      "EMBEDDING_MODEL",
		"upstream.port":             "AGENT_WS_PORT",
		"upstream.host":             "AGENT_WS_HOST",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "failed to bind env var %s", env)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if cfg.Vault.Path == "" {
		return nil, errors.New("vault path is required (set VAULT_PATH or vault.path)")
	}

	return &cfg, nil
}

// WriteDefault writes a starter relay.toml to path, encoded directly with
// BurntSushi/toml rather than routed through viper, since this is a
// one-shot write rather than a read/bind cycle. It refuses to overwrite
// an existing file.
func WriteDefault(path, vaultPath string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists", path)
	}

	doc := map[string]any{
		"server": map[string]any{
			"host": "0.0.0.0",
			"port": 8787,
		},
		"vault": map[string]any{
			"path": vaultPath,
		},
		"auth": map[string]any{
			"session_expiry": "24h",
		},
		"chat": map[string]any{
			"default_model": "gpt-4o-mini",
		},
		"queue": map[string]any{
			"stale_lock_timeout": "30s",
			"debounce_interval":  "100ms",
		},
		"upstream": map[string]any{
			"host":           "127.0.0.1",
			"port":           8899,
			"arming_timeout": "30s",
		},
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultConfigPermissions)
	if err != nil {
		return errors.Wrapf(err, "failed to create config file %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return errors.Wrapf(err, "failed to encode default config")
	}
	return nil
}
