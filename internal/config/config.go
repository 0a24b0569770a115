// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are exported and
// read-only after Load; commands receive the struct, not a getter interface.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Form    FormConfig    `mapstructure:"form" yaml:"form"`
	Timing  TimingConfig  `mapstructure:"timing" yaml:"timing"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chrome instance the driver attaches to.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

// FormConfig pins the hosted-form product surfaces: the parent document origin
// and the widget iframe origin pattern the bridge will accept messages from.
type FormConfig struct {
	URL                 string   `mapstructure:"url" yaml:"url"`
	ParentOrigins       []string `mapstructure:"parent_origins" yaml:"parent_origins"`
	WidgetOrigins       []string `mapstructure:"widget_origins" yaml:"widget_origins"`
	WidgetFrameSrcHints []string `mapstructure:"widget_frame_src_hints" yaml:"widget_frame_src_hints"`
}

// TimingConfig carries every wait budget in the system. All loops and waits
// derive their deadlines from these values; nothing sleeps unboundedly.
type TimingConfig struct {
	Tick             time.Duration `mapstructure:"tick" yaml:"tick"`
	Settle           time.Duration `mapstructure:"settle" yaml:"settle"`
	NextWait         time.Duration `mapstructure:"next_wait" yaml:"next_wait"`
	RailTimeout      time.Duration `mapstructure:"rail_timeout" yaml:"rail_timeout"`
	CardCleanTimeout time.Duration `mapstructure:"card_clean_timeout" yaml:"card_clean_timeout"`
	ErrorsWaitMax    time.Duration `mapstructure:"errors_wait_max" yaml:"errors_wait_max"`
	CardSwitch       time.Duration `mapstructure:"card_switch" yaml:"card_switch"`
	StallAfter       time.Duration `mapstructure:"stall_after" yaml:"stall_after"`
	HardResetAfter   int           `mapstructure:"hard_reset_after" yaml:"hard_reset_after"`
	MaxErrorPasses   int           `mapstructure:"max_error_passes" yaml:"max_error_passes"`
	FrameAppear      time.Duration `mapstructure:"frame_appear" yaml:"frame_appear"`
	PingInterval     time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	Handshake        time.Duration `mapstructure:"handshake" yaml:"handshake"`
	WidgetReply      time.Duration `mapstructure:"widget_reply" yaml:"widget_reply"`
}

// ControlConfig configures the HTTP control surface.
type ControlConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults registers the default value for every knob so a bare environment
// still produces a runnable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "cardpilot")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1365)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", 90*time.Second)

	v.SetDefault("form.parent_origins", []string{"https://form.jotform.com"})
	v.SetDefault("form.widget_origins", []string{"https://*.jotform.io"})
	v.SetDefault("form.widget_frame_src_hints", []string{"app-widgets.jotform.io"})

	v.SetDefault("timing.tick", 120*time.Millisecond)
	v.SetDefault("timing.settle", 30*time.Millisecond)
	v.SetDefault("timing.next_wait", 320*time.Millisecond)
	v.SetDefault("timing.rail_timeout", 2200*time.Millisecond)
	v.SetDefault("timing.card_clean_timeout", 1800*time.Millisecond)
	v.SetDefault("timing.errors_wait_max", 4500*time.Millisecond)
	v.SetDefault("timing.card_switch", 600*time.Millisecond)
	v.SetDefault("timing.stall_after", 4500*time.Millisecond)
	v.SetDefault("timing.hard_reset_after", 3)
	v.SetDefault("timing.max_error_passes", 6)
	v.SetDefault("timing.frame_appear", 8*time.Second)
	v.SetDefault("timing.ping_interval", 250*time.Millisecond)
	v.SetDefault("timing.handshake", 3*time.Second)
	v.SetDefault("timing.widget_reply", 4*time.Second)

	v.SetDefault("control.listen", "127.0.0.1:8787")
	v.SetDefault("control.shutdown_timeout", 5*time.Second)
}

// Validate rejects configurations the rest of the system cannot run with.
func (c *Config) Validate() error {
	if c.Timing.Tick <= 0 {
		return fmt.Errorf("timing.tick must be positive, got %s", c.Timing.Tick)
	}
	if c.Timing.HardResetAfter < 1 {
		return fmt.Errorf("timing.hard_reset_after must be at least 1, got %d", c.Timing.HardResetAfter)
	}
	if c.Timing.MaxErrorPasses < 1 {
		return fmt.Errorf("timing.max_error_passes must be at least 1, got %d", c.Timing.MaxErrorPasses)
	}
	if len(c.Form.ParentOrigins) == 0 {
		return fmt.Errorf("form.parent_origins must not be empty")
	}
	if len(c.Form.WidgetOrigins) == 0 {
		return fmt.Errorf("form.widget_origins must not be empty")
	}
	return nil
}
