// Package config loads the dltd configuration file: engine settings plus
// the daemon's transport, admin and persistence settings. Keys absent from
// the file keep the engine defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/edgedlt/internal/engine"
	"github.com/danmuck/edgedlt/internal/protocol"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the full dltd configuration.
type Config struct {
	Engine engine.Config
	Daemon Daemon
}

// Daemon holds the settings that live outside the engine.
type Daemon struct {
	// SessionID is the session the daemon registers its own contexts with.
	SessionID       protocol.SessionID
	ListenAddr      string
	AdminAddr       string
	CyclePeriod     time.Duration
	CorsOrigins     []string
	PersistencePath string
	// AdminToken guards the admin API's mutating routes when set.
	AdminToken string
}

func Default() Config {
	return Config{
		Engine: engine.DefaultConfig(),
		Daemon: Daemon{
			SessionID:   1,
			ListenAddr:  ":3490",
			AdminAddr:   "127.0.0.1:7090",
			CyclePeriod: 10 * time.Millisecond,
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads path as TOML or YAML, chosen by extension, and overlays every
// defined key onto Default.
func Load(path string) (Config, error) {
	var (
		raw     fileConfig
		defined func(key string) bool
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load dltd config: %w", err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load dltd config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("load dltd config (%s): %w", path, err)
		}
		var keys map[string]any
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Config{}, fmt.Errorf("load dltd config (%s): %w", path, err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	cfg, err := raw.overlay(Default(), defined)
	if err != nil {
		return Config{}, fmt.Errorf("load dltd config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := cfg.Engine.Validate(); err != nil {
		return err
	}
	d := cfg.Daemon
	if strings.TrimSpace(d.ListenAddr) == "" {
		return fmt.Errorf("dltd config missing listen_addr")
	}
	if d.CyclePeriod <= 0 {
		return fmt.Errorf("dltd config cycle_period must be positive, got %s", d.CyclePeriod)
	}
	if d.SessionID <= cfg.Engine.ReservedSessionID {
		return fmt.Errorf("dltd config session_id %d is reserved", d.SessionID)
	}
	return nil
}
