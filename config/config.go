// Package config holds the two configuration layers of the service: the
// application configuration (addresses, device ids, timeout budgets) and the
// UI detection documents (sample areas, color ranges, thresholds).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the service. Fields may be loaded
// from a config file and overridden by JNJ_-prefixed environment variables.
type Config struct {
	Debug bool `mapstructure:"debug"`

	Server ServerConfig `mapstructure:"server"`

	Device     DeviceConfig     `mapstructure:"device"`
	Compositor CompositorConfig `mapstructure:"compositor"`
	Session    SessionConfig    `mapstructure:"session"`
	Game       GameConfig       `mapstructure:"game"`
	Ready      ReadyConfig      `mapstructure:"ready"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`

	// UIConfigDir is the directory holding the UI detection documents.
	UIConfigDir string `mapstructure:"ui_config_dir"`
}

// ServerConfig controls the HTTP control layer.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DeviceConfig identifies the adb endpoint of the container.
type DeviceConfig struct {
	ID             string `mapstructure:"id"`
	ADBPath        string `mapstructure:"adb_path"`
	ShellTimeoutMs int    `mapstructure:"shell_timeout_ms"`
}

// CompositorConfig controls the compositor supervisor.
type CompositorConfig struct {
	// WindowTitle is the substring that identifies the compositor window in
	// the X11 window tree.
	WindowTitle     string `mapstructure:"window_title"`
	ProcessName     string `mapstructure:"process_name"`
	StartCommand    string `mapstructure:"start_command"`
	StartTimeoutSec int    `mapstructure:"start_timeout_sec"`
}

// SessionConfig controls the container session supervisor.
type SessionConfig struct {
	ProcessPattern  string `mapstructure:"process_pattern"`
	StartScript     string `mapstructure:"start_script"`
	StartTimeoutSec int    `mapstructure:"start_timeout_sec"`
	// StartGraceSec is the settle time after the session reports RUNNING.
	StartGraceSec int `mapstructure:"start_grace_sec"`
}

// GameConfig identifies the target app.
type GameConfig struct {
	Package         string `mapstructure:"package"`
	MainActivity    string `mapstructure:"main_activity"`
	StartTimeoutSec int    `mapstructure:"start_timeout_sec"`
}

// ReadyConfig bounds the readiness orchestration.
type ReadyConfig struct {
	// BudgetSec is the overall wall-clock budget of one EnsureReady run.
	BudgetSec int `mapstructure:"budget_sec"`
	// LoadWaitSec bounds the Loading→Loaded poll.
	LoadWaitSec int `mapstructure:"load_wait_sec"`
	// TapCheckpointsSec is the elapsed-time tap schedule of the startup
	// bypass. Empirically tuned; the loop exits early on confirmation.
	TapCheckpointsSec []int `mapstructure:"tap_checkpoints_sec"`
	// OverlayChecks and OverlayIntervalSec bound the notification-panel watch.
	OverlayChecks      int `mapstructure:"overlay_checks"`
	OverlayIntervalSec int `mapstructure:"overlay_interval_sec"`
}

// RecorderConfig controls the debug frame recorder.
type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Keep    int    `mapstructure:"keep"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:  false,
		Server: ServerConfig{Addr: ":8000"},
		Device: DeviceConfig{
			ID:             "192.168.240.112:5555",
			ADBPath:        "adb",
			ShellTimeoutMs: 30000,
		},
		Compositor: CompositorConfig{
			WindowTitle:     "Weston Compositor",
			ProcessName:     "weston",
			StartCommand:    "weston --backend=x11-backend.so",
			StartTimeoutSec: 10,
		},
		Session: SessionConfig{
			ProcessPattern:  "waydroid",
			StartScript:     "~/.local/bin/start-waydroid.sh",
			StartTimeoutSec: 60,
			StartGraceSec:   5,
		},
		Game: GameConfig{
			Package:         "com.lilithgames.rok.gpkr",
			MainActivity:    "com.harry.engine.MainActivity",
			StartTimeoutSec: 30,
		},
		Ready: ReadyConfig{
			BudgetSec:          300,
			LoadWaitSec:        60,
			TapCheckpointsSec:  []int{20, 30, 40, 50, 60, 70, 80},
			OverlayChecks:      18,
			OverlayIntervalSec: 5,
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Dir:     "frames",
			Keep:    20,
		},
		UIConfigDir: "database/json",
	}
}

// Validate clamps/normalizes values to safe ranges.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Device.ADBPath == "" {
		c.Device.ADBPath = def.Device.ADBPath
	}
	if c.Device.ShellTimeoutMs <= 0 {
		c.Device.ShellTimeoutMs = def.Device.ShellTimeoutMs
	}
	if c.Compositor.WindowTitle == "" {
		c.Compositor.WindowTitle = def.Compositor.WindowTitle
	}
	if c.Compositor.ProcessName == "" {
		c.Compositor.ProcessName = def.Compositor.ProcessName
	}
	if c.Compositor.StartTimeoutSec <= 0 {
		c.Compositor.StartTimeoutSec = def.Compositor.StartTimeoutSec
	}
	if c.Session.ProcessPattern == "" {
		c.Session.ProcessPattern = def.Session.ProcessPattern
	}
	if c.Session.StartTimeoutSec <= 0 {
		c.Session.StartTimeoutSec = def.Session.StartTimeoutSec
	}
	if c.Session.StartGraceSec < 0 {
		c.Session.StartGraceSec = def.Session.StartGraceSec
	}
	if c.Game.Package == "" {
		c.Game.Package = def.Game.Package
	}
	if c.Game.StartTimeoutSec <= 0 {
		c.Game.StartTimeoutSec = def.Game.StartTimeoutSec
	}
	if c.Ready.BudgetSec <= 0 {
		c.Ready.BudgetSec = def.Ready.BudgetSec
	}
	if c.Ready.LoadWaitSec <= 0 {
		c.Ready.LoadWaitSec = def.Ready.LoadWaitSec
	}
	if len(c.Ready.TapCheckpointsSec) == 0 {
		c.Ready.TapCheckpointsSec = def.Ready.TapCheckpointsSec
	}
	if c.Ready.OverlayChecks <= 0 {
		c.Ready.OverlayChecks = def.Ready.OverlayChecks
	}
	if c.Ready.OverlayIntervalSec <= 0 {
		c.Ready.OverlayIntervalSec = def.Ready.OverlayIntervalSec
	}
	if c.Recorder.Keep <= 0 {
		c.Recorder.Keep = def.Recorder.Keep
	}
	if c.UIConfigDir == "" {
		c.UIConfigDir = def.UIConfigDir
	}
	return nil
}

// ShellTimeout returns the adb shell timeout as a duration.
func (c *Config) ShellTimeout() time.Duration {
	return time.Duration(c.Device.ShellTimeoutMs) * time.Millisecond
}

// ReadyBudget returns the overall EnsureReady budget as a duration.
func (c *Config) ReadyBudget() time.Duration {
	return time.Duration(c.Ready.BudgetSec) * time.Second
}

// Load reads configuration from the given file path with environment
// overrides. An empty path searches the standard locations; a missing file
// yields defaults, a malformed file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JNJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jnj-android")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/jnj-android")
	}

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		// No file anywhere: defaults plus env overrides.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			_ = cfg.Validate()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	_ = cfg.Validate()
	return cfg, nil
}
