package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var (
	cfgMux  sync.RWMutex
	Micebot *MicebotCfg
	Version = "dev"
)

const DefaultPath = "micebot.yaml"

type MicebotCfg struct {
	Debug struct {
		Log bool `yaml:"log" env:"MICEBOT_DEBUG_LOG"`
	} `yaml:"debug"`
	LogSaveDirectory string `yaml:"logSaveDirectory" env:"MICEBOT_LOG_DIR"`

	// Relay listen surface. Both game clients connect to HostAddress, the
	// controller's client through the port named by ControllerRole and the
	// bot account through the other.
	HostAddress   string `yaml:"hostAddress" env:"MICEBOT_HOST"`
	MainPort      int    `yaml:"mainPort" env:"MICEBOT_MAIN_PORT"`
	SatellitePort int    `yaml:"satellitePort" env:"MICEBOT_SATELLITE_PORT"`

	// ControllerUsername is the only account allowed to issue commands.
	// ControllerRole declares which endpoint its client connects through.
	ControllerUsername string `yaml:"controllerUsername" env:"MICEBOT_CONTROLLER"`
	ControllerRole     string `yaml:"controllerRole"`

	// Title substrings used to recognize game client windows.
	WindowSignatures []string `yaml:"windowSignatures"`

	Movement struct {
		PixelsPerSecond int `yaml:"pixelsPerSecond"`
		MinHoldMs       int `yaml:"minHoldMs"`
		JumpHoldMs      int `yaml:"jumpHoldMs"`
		SpamDelayMs     int `yaml:"spamDelayMs"`
		ComboDelayMs    int `yaml:"comboDelayMs"`
	} `yaml:"movement"`

	AI struct {
		// BrowserBin optionally points at a Chromium binary; empty means
		// auto-detect.
		BrowserBin     string `yaml:"browserBin"`
		Headless       bool   `yaml:"headless" env:"MICEBOT_HEADLESS"`
		UserDataDir    string `yaml:"userDataDir"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"ai"`

	Server struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"server"`

	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`

	Telegram struct {
		Enabled bool   `yaml:"enabled"`
		ChatID  int64  `yaml:"chatId"`
		Token   string `yaml:"token"`
	} `yaml:"telegram"`

	Discord struct {
		Enabled   bool     `yaml:"enabled"`
		ChannelID string   `yaml:"channelId"`
		Token     string   `yaml:"token"`
		BotAdmins []string `yaml:"botAdmins"`
	} `yaml:"discord"`
}

const (
	RoleMain      = "main"
	RoleSatellite = "satellite"
)

func defaults() *MicebotCfg {
	cfg := &MicebotCfg{}
	cfg.LogSaveDirectory = "logs"
	cfg.HostAddress = "127.0.0.1"
	cfg.MainPort = 11801
	cfg.SatellitePort = 12801
	cfg.ControllerRole = RoleMain
	cfg.WindowSignatures = []string{"transformice", "adobe flash player", "flash player", "tfm"}
	cfg.Movement.PixelsPerSecond = 100
	cfg.Movement.MinHoldMs = 100
	cfg.Movement.JumpHoldMs = 200
	cfg.Movement.SpamDelayMs = 100
	cfg.Movement.ComboDelayMs = 200
	cfg.AI.TimeoutSeconds = 45
	cfg.Server.Enabled = true
	cfg.Server.Port = 8087
	cfg.History.Enabled = true
	cfg.History.Path = "micebot.db"
	return cfg
}

// Load reads the yaml config at path (writing a default file on first run)
// and overlays MICEBOT_* environment variables. The result is stored in the
// package-level Micebot variable.
func Load(path string) error {
	cfgMux.Lock()
	defer cfgMux.Unlock()

	if path == "" {
		path = DefaultPath
	}

	cfg := defaults()

	r, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := save(cfg, path); err != nil {
			return fmt.Errorf("error writing default config: %w", err)
		}
	case err != nil:
		return fmt.Errorf("error reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(r, cfg); err != nil {
			return fmt.Errorf("error parsing config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("error reading environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return err
	}

	Micebot = cfg

	return nil
}

func validate(cfg *MicebotCfg) error {
	if cfg.MainPort <= 0 || cfg.MainPort > 65535 {
		return fmt.Errorf("invalid main port %d", cfg.MainPort)
	}
	if cfg.SatellitePort <= 0 || cfg.SatellitePort > 65535 {
		return fmt.Errorf("invalid satellite port %d", cfg.SatellitePort)
	}
	if cfg.MainPort == cfg.SatellitePort {
		return fmt.Errorf("main and satellite ports must differ, both are %d", cfg.MainPort)
	}
	switch strings.ToLower(cfg.ControllerRole) {
	case RoleMain, RoleSatellite:
		cfg.ControllerRole = strings.ToLower(cfg.ControllerRole)
	default:
		return fmt.Errorf("controllerRole must be %q or %q, got %q", RoleMain, RoleSatellite, cfg.ControllerRole)
	}
	if len(cfg.WindowSignatures) == 0 {
		return errors.New("at least one window signature is required")
	}
	return nil
}

// ValidateAndSave persists cfg to path and makes it the active config.
func ValidateAndSave(cfg MicebotCfg, path string) error {
	cfgMux.Lock()
	defer cfgMux.Unlock()

	if path == "" {
		path = DefaultPath
	}
	if err := validate(&cfg); err != nil {
		return err
	}
	if err := save(&cfg, path); err != nil {
		return err
	}
	Micebot = &cfg

	return nil
}

func save(cfg *MicebotCfg, path string) error {
	d, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, d, 0o644)
}
