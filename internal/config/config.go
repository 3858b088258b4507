// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zoravur/materialize-live/internal/mzclient"
	"github.com/zoravur/materialize-live/internal/target"
)

const envPrefix = "MZLIVE_"

type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Log         LogConfig          `yaml:"log"`
	Query       QueryConfig        `yaml:"query"`
	Changefeed  ChangefeedConfig   `yaml:"changefeed"`
	Datasources []DatasourceConfig `yaml:"datasources"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type QueryConfig struct {
	// Concurrency bounds the snapshot queries of one request run at once.
	Concurrency int `yaml:"concurrency"`
}

type ChangefeedConfig struct {
	Statement        string `yaml:"statement"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
}

type DatasourceConfig struct {
	UID                   string `yaml:"uid"`
	Kind                  string `yaml:"kind"`
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Database              string `yaml:"database"`
	SSLMode               string `yaml:"sslmode"`
	ReplicationSlotPrefix string `yaml:"replication_slot_prefix"`
	// Schemas limits the relations listed for a postgres datasource.
	Schemas []string `yaml:"schemas"`
}

// Settings returns the connection settings of d.
func (d DatasourceConfig) Settings() mzclient.Settings {
	return mzclient.Settings{
		Host:     d.Host,
		Port:     d.Port,
		Username: d.Username,
		Password: d.Password,
		Database: d.Database,
		SSLMode:  d.SSLMode,
	}
}

// Load reads path, applies defaults then environment overrides, and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Query.Concurrency == 0 {
		cfg.Query.Concurrency = 8
	}
	if cfg.Changefeed.Statement == "" {
		cfg.Changefeed.Statement = string(target.Subscribe)
	}
	if cfg.Changefeed.SubscriberBuffer == 0 {
		cfg.Changefeed.SubscriberBuffer = 256
	}
	for i := range cfg.Datasources {
		ds := &cfg.Datasources[i]
		if ds.Kind == "" {
			ds.Kind = "materialize"
		}
		if ds.Port == 0 {
			if ds.Kind == "postgres" {
				ds.Port = 5432
			} else {
				ds.Port = 6875
			}
		}
		if ds.SSLMode == "" {
			ds.SSLMode = "disable"
		}
		if ds.ReplicationSlotPrefix == "" {
			ds.ReplicationSlotPrefix = "mzlive"
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Listen, envPrefix+"SERVER_LISTEN")
	setDuration(&cfg.Server.ShutdownTimeout, envPrefix+"SERVER_SHUTDOWN_TIMEOUT")
	setString(&cfg.Log.Level, envPrefix+"LOG_LEVEL")
	setBool(&cfg.Log.Development, envPrefix+"LOG_DEVELOPMENT")
	setInt(&cfg.Query.Concurrency, envPrefix+"QUERY_CONCURRENCY")
	setString(&cfg.Changefeed.Statement, envPrefix+"CHANGEFEED_STATEMENT")
	setInt(&cfg.Changefeed.SubscriberBuffer, envPrefix+"CHANGEFEED_SUBSCRIBER_BUFFER")

	for i := range cfg.Datasources {
		ds := &cfg.Datasources[i]
		setString(&ds.Password, datasourceEnv(ds.UID, "PASSWORD"))
	}
}

// datasourceEnv names a per-datasource variable, e.g.
// MZLIVE_DATASOURCE_PROD_MZ_PASSWORD for uid "prod-mz".
func datasourceEnv(uid, field string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, uid)
	return envPrefix + "DATASOURCE_" + key + "_" + field
}

func (c Config) Validate() error {
	if len(c.Datasources) == 0 {
		return fmt.Errorf("at least one datasource is required")
	}
	if _, err := target.ParseStatement(c.Changefeed.Statement); err != nil {
		return fmt.Errorf("changefeed.statement: %w", err)
	}
	if c.Changefeed.SubscriberBuffer < 0 {
		return fmt.Errorf("changefeed.subscriber_buffer must not be negative")
	}
	if c.Query.Concurrency < 0 {
		return fmt.Errorf("query.concurrency must not be negative")
	}

	seen := make(map[string]bool, len(c.Datasources))
	for i, ds := range c.Datasources {
		if ds.UID == "" {
			return fmt.Errorf("datasources[%d]: uid is required", i)
		}
		if seen[ds.UID] {
			return fmt.Errorf("datasources[%d]: duplicate uid %q", i, ds.UID)
		}
		seen[ds.UID] = true

		switch ds.Kind {
		case "materialize", "postgres":
		default:
			return fmt.Errorf("datasource %s: unknown kind %q", ds.UID, ds.Kind)
		}
		if err := ds.Settings().Validate(); err != nil {
			return fmt.Errorf("datasource %s: %w", ds.UID, err)
		}
		for _, schema := range ds.Schemas {
			if strings.TrimSpace(schema) == "" {
				return fmt.Errorf("datasource %s: blank schema name", ds.UID)
			}
		}
	}
	return nil
}

// Datasource looks up a datasource by uid.
func (c Config) Datasource(uid string) (DatasourceConfig, bool) {
	for _, ds := range c.Datasources {
		if ds.UID == uid {
			return ds, true
		}
	}
	return DatasourceConfig{}, false
}

func setString(dst *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*dst = val
	}
}

func setInt(dst *int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.Atoi(val)
		if err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := time.ParseDuration(val)
		if err == nil {
			*dst = parsed
		}
	}
}
