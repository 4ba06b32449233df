package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Network   NetworkConfig   `toml:"network"`
	Abilities AbilitiesConfig `toml:"abilities"`
	Logging   LoggingConfig   `toml:"logging"`
	Players   []PlayerConfig  `toml:"players"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	PeerID    uint32 `toml:"peer_id"`
	StartTime int64  // set at boot, not from config
}

// DatabaseConfig configures durable ability storage. An empty DSN disables it.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type NetworkConfig struct {
	BindAddress  string        `toml:"bind_address"`
	TickRate     time.Duration `toml:"tick_rate"`
	InQueueSize  int           `toml:"in_queue_size"`
	OutQueueSize int           `toml:"out_queue_size"`

	MaxMessagesPerTick int     `toml:"max_messages_per_tick"` // per remote session
	MessagesPerSecond  int     `toml:"messages_per_second"`   // 0 = unlimited
	UnreliableDropRate float64 `toml:"unreliable_drop_rate"`  // chance (0.0-1.0) a mirror message is lost
}

type AbilitiesConfig struct {
	CatalogPath      string  `toml:"catalog_path"`
	ScriptsDir       string  `toml:"scripts_dir"`
	ChargeRegenRate  float32 `toml:"charge_regen_rate"` // progress per second
	TimeScale        float32 `toml:"time_scale"`
	VerboseLag       bool    `toml:"verbose_lag"`
	AutosaveInterval int     `toml:"autosave_interval"` // ticks
	Locale           string  `toml:"locale"`            // number formatting of UI parameters
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// PlayerConfig spawns an owned player entity at boot.
type PlayerConfig struct {
	Name  string             `toml:"name"`
	Build string             `toml:"build"`
	Stats map[string]float64 `toml:"stats"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Defaults returns the configuration used when no file overrides a value.
func Defaults() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:   "abilityd",
			PeerID: 1,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Network: NetworkConfig{
			BindAddress:  "0.0.0.0:7101",
			TickRate:     50 * time.Millisecond,
			InQueueSize:  128,
			OutQueueSize: 256,

			MaxMessagesPerTick: 64,
			MessagesPerSecond:  400,
		},
		Abilities: AbilitiesConfig{
			CatalogPath:      "data/yaml/abilities.yaml",
			ScriptsDir:       "scripts",
			ChargeRegenRate:  1,
			TimeScale:        1,
			AutosaveInterval: 6000, // 5 minutes at 50ms
			Locale:           "en",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
