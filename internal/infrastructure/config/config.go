// Package config loads kernel configuration from environment variables
// (12-factor, envconfig) and the board description from a TOML file. The
// environment covers the ambient surfaces: logging, the inspection API,
// snapshots. The board file covers everything fixed at link time on real
// hardware: memory ranges, process table capacity, restart policy.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all ambient configuration.
type Config struct {
	Server   ServerConfig
	Logging  LogConfig
	Snapshot SnapshotConfig
	Board    BoardPathConfig
}

// ServerConfig holds inspection API configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" default:"8090"`
	Host    string `envconfig:"HOST" default:"127.0.0.1"`
	Enabled bool   `envconfig:"API_ENABLED" default:"true"`

	RateLimitRPS   int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	RateLimit      bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// SnapshotConfig holds postmortem snapshot configuration.
type SnapshotConfig struct {
	Dir     string `envconfig:"SNAPSHOT_DIR" default:"snapshots"`
	Enabled bool   `envconfig:"SNAPSHOT_ENABLED" default:"true"`
}

// BoardPathConfig points at the board description file.
type BoardPathConfig struct {
	Path string `envconfig:"BOARD_FILE" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8090",
			Host:           "127.0.0.1",
			Enabled:        true,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			RateLimit:      true,
		},
		Logging:  LogConfig{Level: "info"},
		Snapshot: SnapshotConfig{Dir: "snapshots", Enabled: true},
	}
}

// Board is the board description: document counterparts of the linker
// symbols and boot-time constants a physical build fixes ahead of time.
type Board struct {
	Flash     FlashConfig     `toml:"flash"`
	RAM       RAMConfig       `toml:"ram"`
	Processes ProcessesConfig `toml:"processes"`
	Policy    PolicyConfig    `toml:"policy"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// FlashConfig describes the flash address map.
type FlashConfig struct {
	KernelBase uint32 `toml:"kernel_base"`
	KernelSize uint32 `toml:"kernel_size"`
	AppBase    uint32 `toml:"app_base"`
	AppSize    uint32 `toml:"app_size"`
}

// RAMConfig describes the application RAM range.
type RAMConfig struct {
	AppBase uint32 `toml:"app_base"`
	AppSize uint32 `toml:"app_size"`
}

// ProcessesConfig sizes the process table and per-process partitions.
type ProcessesConfig struct {
	Capacity           int    `toml:"capacity"`
	StackSize          uint32 `toml:"stack_size"`
	MinRAMSize         uint32 `toml:"min_ram_size"`
	UpcallCapacity     int    `toml:"upcall_capacity"`
	RequireCredentials bool   `toml:"require_credentials"`
}

// PolicyConfig selects the fault/restart policy.
type PolicyConfig struct {
	// Restart is one of "always", "upto", "stop".
	Restart     string `toml:"restart"`
	MaxRestarts int    `toml:"max_restarts"`
	// PreserveGrants keeps grant arena layout across a restart instead of
	// the default full re-layout.
	PreserveGrants bool `toml:"preserve_grants"`
}

// SchedulerConfig tunes the cooperative continuation budget.
type SchedulerConfig struct {
	// Budget is the number of syscalls one activation may issue before the
	// scheduler moves to the next candidate.
	Budget int `toml:"budget"`
}

// DefaultBoard returns the reference simulated board.
func DefaultBoard() *Board {
	return &Board{
		Flash: FlashConfig{
			KernelBase: 0x00000000,
			KernelSize: 0x00020000,
			AppBase:    0x00040000,
			AppSize:    0x00040000,
		},
		RAM: RAMConfig{
			AppBase: 0x20004000,
			AppSize: 0x0001C000,
		},
		Processes: ProcessesConfig{
			Capacity:       4,
			StackSize:      2048,
			MinRAMSize:     8192,
			UpcallCapacity: 16,
		},
		Policy:    PolicyConfig{Restart: "upto", MaxRestarts: 3},
		Scheduler: SchedulerConfig{Budget: 32},
	}
}

// LoadBoard reads a board description file, or the default board when the
// path is empty.
func LoadBoard(path string) (*Board, error) {
	if path == "" {
		return DefaultBoard(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board file: %w", err)
	}
	board := DefaultBoard()
	if err := toml.Unmarshal(raw, board); err != nil {
		return nil, fmt.Errorf("parse board file %s: %w", path, err)
	}
	if err := board.Validate(); err != nil {
		return nil, fmt.Errorf("board file %s: %w", path, err)
	}
	return board, nil
}

// Validate rejects board descriptions no kernel could boot with.
func (b *Board) Validate() error {
	if b.Flash.AppSize == 0 || b.RAM.AppSize == 0 {
		return fmt.Errorf("empty application flash or RAM range")
	}
	if b.Processes.Capacity <= 0 {
		return fmt.Errorf("process capacity must be positive")
	}
	switch b.Policy.Restart {
	case "always", "stop":
	case "upto":
		if b.Policy.MaxRestarts <= 0 {
			return fmt.Errorf("upto policy needs max_restarts > 0")
		}
	default:
		return fmt.Errorf("unknown restart policy %q", b.Policy.Restart)
	}
	return nil
}
