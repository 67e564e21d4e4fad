// Package config loads engine configuration with viper.
//
// Sources, lowest precedence first: built-in defaults, the YAML config
// file, and SCRIPTENGINE_* environment variables (dots become
// underscores, so engine.workers is SCRIPTENGINE_ENGINE_WORKERS).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/roach88/scriptengine/internal/state"
)

// DefaultPath is the config file read when no path is given. It may be
// absent.
const DefaultPath = "config/scriptengine.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCRIPTENGINE"

// Config is the complete engine configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	State   StateConfig   `mapstructure:"state"`
	Logging LoggingConfig `mapstructure:"logging"`
	Feed    FeedConfig    `mapstructure:"feed"`
}

// EngineConfig tunes script execution.
type EngineConfig struct {
	Workers         int           `mapstructure:"workers"`
	MaxScriptQueue  int           `mapstructure:"max_script_queue"`
	MinEventDelay   time.Duration `mapstructure:"min_event_delay"`
	KillTimeout     time.Duration `mapstructure:"kill_timeout"`
	CoopTermination bool          `mapstructure:"coop_termination"`
	SaveInterval    time.Duration `mapstructure:"save_interval"`
	MaxErrorLength  int           `mapstructure:"max_error_length"`
	TimerResolution time.Duration `mapstructure:"timer_resolution"`
	RegionID        string        `mapstructure:"region_id"`
}

// StateConfig selects where script states are persisted.
type StateConfig struct {
	Backend     string `mapstructure:"backend"`
	DataDir     string `mapstructure:"data_dir"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FeedConfig configures the websocket chat feed.
type FeedConfig struct {
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.max_script_queue", 300)
	v.SetDefault("engine.min_event_delay", time.Duration(0))
	v.SetDefault("engine.kill_timeout", 3*time.Second)
	v.SetDefault("engine.coop_termination", false)
	v.SetDefault("engine.save_interval", 2*time.Minute)
	v.SetDefault("engine.max_error_length", 1000)
	v.SetDefault("engine.timer_resolution", 50*time.Millisecond)
	v.SetDefault("engine.region_id", "")

	v.SetDefault("state.backend", state.BackendFile)
	v.SetDefault("state.data_dir", "data/states")
	v.SetDefault("state.sqlite_path", "data/states.db")
	v.SetDefault("state.postgres_dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("feed.address", "127.0.0.1:8765")
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads configuration from path. An empty path reads DefaultPath if
// it exists; an explicit path must exist. The result is validated.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	e := c.Engine
	switch {
	case e.Workers <= 0:
		return fmt.Errorf("engine.workers must be positive, got %d", e.Workers)
	case e.MaxScriptQueue < 1:
		return fmt.Errorf("engine.max_script_queue must be at least 1, got %d", e.MaxScriptQueue)
	case e.MaxErrorLength < 1:
		return fmt.Errorf("engine.max_error_length must be at least 1, got %d", e.MaxErrorLength)
	case e.MinEventDelay < 0:
		return fmt.Errorf("engine.min_event_delay must not be negative")
	case e.KillTimeout < 0:
		return fmt.Errorf("engine.kill_timeout must not be negative")
	case e.SaveInterval < 0:
		return fmt.Errorf("engine.save_interval must not be negative")
	case e.TimerResolution <= 0:
		return fmt.Errorf("engine.timer_resolution must be positive")
	}
	if e.RegionID != "" {
		if _, err := uuid.Parse(e.RegionID); err != nil {
			return fmt.Errorf("engine.region_id: %w", err)
		}
	}

	s := c.State
	switch s.Backend {
	case state.BackendFile:
		if s.DataDir == "" {
			return fmt.Errorf("state.data_dir is required for the file backend")
		}
	case state.BackendSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("state.sqlite_path is required for the sqlite backend")
		}
	case state.BackendPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("state.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not one of file, sqlite, postgres", s.Backend)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// StateOptions converts the state section for state.Open.
func (c Config) StateOptions() state.Options {
	return state.Options{
		Backend:     c.State.Backend,
		DataDir:     c.State.DataDir,
		SQLitePath:  c.State.SQLitePath,
		PostgresDSN: c.State.PostgresDSN,
	}
}

// RegionID returns the configured region, or uuid.Nil.
func (c Config) RegionID() uuid.UUID {
	id, err := uuid.Parse(c.Engine.RegionID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
