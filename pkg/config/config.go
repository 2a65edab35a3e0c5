package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"peer-sync/pkg/model"
)

// Config is the daemon/agent configuration. Values come from defaults, an optional
// YAML file, .env and PEERSYNC_* environment variables, in increasing priority.
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		Token     string `mapstructure:"token"` // static bearer token accepted besides JWTs
		JWTSecret string `mapstructure:"jwt_secret"`
		TLSCert   string `mapstructure:"tls_cert"`
		TLSKey    string `mapstructure:"tls_key"`
		ClientCA  string `mapstructure:"client_ca"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logs"`

	Cloud struct {
		Driver string `mapstructure:"driver"` // mysql|postgres|sqlite
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"cloud"`

	Local struct {
		BaseURL string `mapstructure:"base_url"` // empty means not configured
		Secret  string `mapstructure:"secret"`
		Timeout string `mapstructure:"timeout"`
		TLSCA   string `mapstructure:"tls_ca"` // extra CA for an https agent
	} `mapstructure:"local"`

	State struct {
		Backend    string `mapstructure:"backend"` // memory|sqlite|consul
		Path       string `mapstructure:"path"`
		ConsulAddr string `mapstructure:"consul_addr"`
	} `mapstructure:"state"`

	Sync struct {
		Enabled            bool   `mapstructure:"enabled"`
		Interval           int    `mapstructure:"interval"`
		Direction          string `mapstructure:"direction"`
		ConflictResolution string `mapstructure:"conflict_resolution"`
	} `mapstructure:"sync"`

	Agent struct {
		Addr      string `mapstructure:"addr"`
		Secret    string `mapstructure:"secret"`
		DB        string `mapstructure:"db"` // memory|sqlite
		DBPath    string `mapstructure:"db_path"`
		Interface string `mapstructure:"interface"` // wireguard device for runtime stats
	} `mapstructure:"agent"`
}

// Load reads configuration from file (optional), .env and environment.
// file may be empty, in which case ./config.yaml and /etc/peer-sync are searched.
func Load(file string) (*Config, error) {
	_ = loadDotEnv()
	v := viper.New()
	v.SetEnvPrefix("PEERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.token", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.client_ca", "")
	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("cloud.driver", "sqlite")
	v.SetDefault("cloud.dsn", "/var/lib/peer-sync/cloud.db")
	v.SetDefault("local.base_url", "")
	v.SetDefault("local.secret", "")
	v.SetDefault("local.timeout", "30s")
	v.SetDefault("local.tls_ca", "")
	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.path", "/var/lib/peer-sync/state.db")
	v.SetDefault("state.consul_addr", "127.0.0.1:8500")

	def := model.DefaultSyncConfig()
	v.SetDefault("sync.enabled", def.Enabled)
	v.SetDefault("sync.interval", def.Interval)
	v.SetDefault("sync.direction", string(def.Direction))
	v.SetDefault("sync.conflict_resolution", string(def.ConflictResolution))

	v.SetDefault("agent.addr", ":8090")
	v.SetDefault("agent.secret", "")
	v.SetDefault("agent.db", "sqlite")
	v.SetDefault("agent.db_path", "/var/lib/peer-sync/agent.db")
	v.SetDefault("agent.interface", "")

	if file == "" {
		file = os.Getenv("PEERSYNC_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/peer-sync")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SyncConfig converts the sync section into the engine's typed configuration,
// rejecting unknown direction or conflict values.
func (c *Config) SyncConfig() (model.SyncConfig, error) {
	dir, err := model.ParseDirection(c.Sync.Direction)
	if err != nil {
		return model.SyncConfig{}, err
	}
	pol, err := model.ParseConflictPolicy(c.Sync.ConflictResolution)
	if err != nil {
		return model.SyncConfig{}, err
	}
	sc := model.SyncConfig{
		Enabled:            c.Sync.Enabled,
		Interval:           c.Sync.Interval,
		Direction:          dir,
		ConflictResolution: pol,
	}
	return sc, sc.Validate()
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}
	switch c.State.Backend {
	case "memory", "sqlite", "consul":
	default:
		return fmt.Errorf("state.backend must be memory, sqlite or consul (got %q)", c.State.Backend)
	}
	switch c.Agent.DB {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("agent.db must be memory or sqlite (got %q)", c.Agent.DB)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if _, err := c.SyncConfig(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
