package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// LoggingConfig holds logging configuration.
//
// Level and Format apply to every output. An output's own Level or Format,
// when set, overrides them for that output only.
type LoggingConfig struct {
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
	// DedupWindow suppresses identical warn/error records written to
	// errors.log within the window. Negative disables suppression.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// RotationConfig is handed to lumberjack for livesync.log and errors.log.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log destination (stdout or the log files).
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// LevelOr returns the output's level, or fallback when it has none.
func (o OutputConfig) LevelOr(fallback string) string {
	if o.Level == "" {
		return fallback
	}
	return o.Level
}

// FormatOr returns the output's format, or fallback when it has none.
func (o OutputConfig) FormatOr(fallback string) string {
	if o.Format == "" {
		return fallback
	}
	return o.Format
}

func (o *OutputConfig) inherit(level, format string) {
	o.Level = o.LevelOr(level)
	o.Format = o.FormatOr(format)
}

func (o OutputConfig) validate(name string) error {
	if !o.Enabled {
		return nil
	}
	if o.Level != "" && !slices.Contains(logLevels, o.Level) {
		return fmt.Errorf("invalid %s log level: %s", name, o.Level)
	}
	if o.Format != "" && !slices.Contains(logFormats, o.Format) {
		return fmt.Errorf("invalid %s log format: %s", name, o.Format)
	}
	return nil
}

// DefaultLoggingConfig leaves the per-output level and format empty so they
// follow Level and Format after the config file is merged.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console:     OutputConfig{Enabled: true},
		File:        OutputConfig{Enabled: true},
		DedupWindow: 10 * time.Second,
	}
}

// ApplyDefaults fills unset fields and resolves per-output overrides.
func (c *LoggingConfig) ApplyDefaults() {
	def := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = def.Level
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.Dir == "" {
		c.Dir = def.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = def.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = def.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = def.Rotation.MaxAge
	}
	// Compress stays false unless set; the zero value can't be told apart
	// from an explicit false.
	if c.DedupWindow == 0 {
		c.DedupWindow = def.DedupWindow
	}

	// An output section left out entirely is enabled.
	if c.Console == (OutputConfig{}) {
		c.Console.Enabled = true
	}
	if c.File == (OutputConfig{}) {
		c.File.Enabled = true
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

// ApplyEnvOverrides applies LIVESYNC_LOG_LEVEL (all outputs) and LIVESYNC_LOG_DIR.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if val := os.Getenv("LIVESYNC_LOG_LEVEL"); val != "" {
		c.Level = val
		c.Console.Level = val
		c.File.Level = val
	}
	if val := os.Getenv("LIVESYNC_LOG_DIR"); val != "" {
		c.Dir = val
	}
}

// ResolvePaths makes Dir absolute. "../x" is taken relative to configDir,
// anything else relative to its parent so logs/ sits next to config/.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Clean(filepath.Join(base, c.Dir))
}

func (c *LoggingConfig) Validate() error {
	if !slices.Contains(logLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (must be %s)", c.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (must be %s)", c.Format, strings.Join(logFormats, " or "))
	}
	if c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if err := c.Console.validate("console"); err != nil {
		return err
	}
	return c.File.validate("file")
}
