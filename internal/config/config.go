// Package config loads the session configuration document: defaults, then
// an optional TOML file, then environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the top-level session configuration document.
type Config struct {
	Addr             string   `toml:"addr" json:"addr" env:"ORBFALL_ADDR"`
	TickRate         int      `toml:"tick_rate" json:"tickRate" env:"ORBFALL_TICK_RATE"`
	CatchupMaxTicks  int      `toml:"catchup_max_ticks" json:"catchupMaxTicks" env:"ORBFALL_CATCHUP_MAX_TICKS"`
	CommandCapacity  int      `toml:"command_capacity" json:"commandCapacity" env:"ORBFALL_COMMAND_CAPACITY"`
	HeartbeatTimeout Duration `toml:"heartbeat_timeout" json:"heartbeatTimeout" env:"ORBFALL_HEARTBEAT_TIMEOUT"`

	World   World   `toml:"world" json:"world"`
	Policy  Policy  `toml:"policy" json:"policy"`
	Logging Logging `toml:"logging" json:"logging"`
}

// World tunes the playfield the avatars and the shared orb move in.
type World struct {
	Width     float64 `toml:"width" json:"width" env:"ORBFALL_WORLD_WIDTH"`
	Height    float64 `toml:"height" json:"height" env:"ORBFALL_WORLD_HEIGHT"`
	MoveSpeed float64 `toml:"move_speed" json:"moveSpeed" env:"ORBFALL_MOVE_SPEED"`
	SpawnX    float64 `toml:"spawn_x" json:"spawnX"`
	SpawnY    float64 `toml:"spawn_y" json:"spawnY"`
	OrbX      float64 `toml:"orb_x" json:"orbX"`
	OrbY      float64 `toml:"orb_y" json:"orbY"`
	OrbDriftY float64 `toml:"orb_drift_y" json:"orbDriftY"`
}

// Policy tunes the proximity authority handoff.
type Policy struct {
	Radius        float64 `toml:"radius" json:"radius" env:"ORBFALL_POLICY_RADIUS"`
	IntervalTicks uint64  `toml:"interval_ticks" json:"intervalTicks" env:"ORBFALL_POLICY_INTERVAL_TICKS"`
}

// Logging selects sinks for the event router.
type Logging struct {
	Sinks    []string `toml:"sinks" json:"sinks" env:"ORBFALL_LOG_SINKS" envSeparator:","`
	JSONPath string   `toml:"json_path" json:"jsonPath" env:"ORBFALL_LOG_JSON_PATH"`
	UseColor bool     `toml:"use_color" json:"useColor" env:"ORBFALL_LOG_COLOR"`
}

// Duration wraps time.Duration so TOML documents can spell "6s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML and env.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:             ":8080",
		TickRate:         15,
		CatchupMaxTicks:  4,
		CommandCapacity:  1024,
		HeartbeatTimeout: Duration{6 * time.Second},
		World: World{
			Width:     800,
			Height:    600,
			MoveSpeed: 160,
			SpawnX:    80,
			SpawnY:    80,
			OrbX:      300,
			OrbY:      300,
			OrbDriftY: 30,
		},
		Policy: Policy{
			Radius:        100,
			IntervalTicks: 5,
		},
		Logging: Logging{
			Sinks:    []string{"console"},
			UseColor: true,
		},
	}
}

// Load resolves the configuration: defaults, the optional TOML document at
// path, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalized(), nil
}

// normalized applies floors so a sparse document still yields a runnable
// configuration.
func (c Config) normalized() Config {
	normalized := c
	if normalized.Addr == "" {
		normalized.Addr = ":8080"
	}
	if normalized.TickRate <= 0 {
		normalized.TickRate = 15
	}
	if normalized.CatchupMaxTicks < 1 {
		normalized.CatchupMaxTicks = 1
	}
	if normalized.CommandCapacity < 16 {
		normalized.CommandCapacity = 16
	}
	if normalized.HeartbeatTimeout.Duration <= 0 {
		normalized.HeartbeatTimeout = Duration{6 * time.Second}
	}
	if normalized.World.Width <= 0 {
		normalized.World.Width = 800
	}
	if normalized.World.Height <= 0 {
		normalized.World.Height = 600
	}
	if normalized.World.MoveSpeed <= 0 {
		normalized.World.MoveSpeed = 160
	}
	if normalized.Policy.Radius <= 0 {
		normalized.Policy.Radius = 100
	}
	if normalized.Policy.IntervalTicks == 0 {
		normalized.Policy.IntervalTicks = 1
	}
	if len(normalized.Logging.Sinks) == 0 {
		normalized.Logging.Sinks = []string{"console"}
	}
	return normalized
}
