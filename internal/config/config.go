package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all zapbuild configuration
type Config struct {
	Parser  ParserConfig  `mapstructure:"parser"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ParserConfig controls how often the growing buffer is re-parsed
type ParserConfig struct {
	// ThrottleMs coalesces chunks arriving within this window into one parse
	// pass. 0 parses on every chunk.
	ThrottleMs int `mapstructure:"throttle_ms"`
}

// DriverConfig controls how parsed steps are executed
type DriverConfig struct {
	// OptimisticWrites mounts the file currently being streamed before its
	// closing tag arrives (default: true)
	OptimisticWrites bool `mapstructure:"optimistic_writes"`
	// Shell runs each script as `<shell> -c <code>` (default: "sh")
	Shell string `mapstructure:"shell"`
	// ServerCommands are glob patterns for long-running commands that are
	// started detached instead of awaited
	ServerCommands []string `mapstructure:"server_commands"`
	// ScriptTimeoutMinutes kills an awaited script after this long. 0 disables.
	ScriptTimeoutMinutes int `mapstructure:"script_timeout_minutes"`
}

// RuntimeConfig selects and configures the execution runtime
type RuntimeConfig struct {
	// Kind is one of "memory", "local", "docker" (default: "local")
	Kind string `mapstructure:"kind"`
	// Workdir is the host directory used by the local runtime
	Workdir string `mapstructure:"workdir"`
	// UsePTY runs local processes under a pseudo-terminal
	UsePTY bool         `mapstructure:"use_pty"`
	Docker DockerConfig `mapstructure:"docker"`
}

// DockerConfig configures the container runtime
type DockerConfig struct {
	Image         string `mapstructure:"image"`
	ContainerName string `mapstructure:"container_name"`
	// ProjectDir is the directory inside the container that receives the tree
	ProjectDir string `mapstructure:"project_dir"`
	// Ports are published to localhost; empty uses host networking
	Ports []int `mapstructure:"ports"`
}

// StreamConfig controls how transcripts are chunked when replayed
type StreamConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkDelayMs int `mapstructure:"chunk_delay_ms"`
}

// OutputConfig controls CLI rendering
type OutputConfig struct {
	// Color is "auto", "always" or "never" (default: "auto")
	Color string `mapstructure:"color"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Level is one of "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir holds zapbuild.log. Empty means <config dir>/logs.
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Runtime kinds
const (
	RuntimeMemory = "memory"
	RuntimeLocal  = "local"
	RuntimeDocker = "docker"
)

// DefaultServerCommands are the commands treated as long-running dev servers
func DefaultServerCommands() []string {
	return []string{"npm run dev*", "npm start*", "npx vite*", "vite*", "pnpm dev*", "yarn dev*"}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Parser: ParserConfig{
			ThrottleMs: 50,
		},
		Driver: DriverConfig{
			OptimisticWrites:     true,
			Shell:                "sh",
			ServerCommands:       DefaultServerCommands(),
			ScriptTimeoutMinutes: 0,
		},
		Runtime: RuntimeConfig{
			Kind:    RuntimeLocal,
			Workdir: "./zapbuild-project",
			UsePTY:  false,
			Docker: DockerConfig{
				Image:         "node:20-alpine",
				ContainerName: "zapbuild-runtime",
				ProjectDir:    "/home/project",
			},
		},
		Stream: StreamConfig{
			ChunkSize:    64,
			ChunkDelayMs: 0,
		},
		Output: OutputConfig{
			Color: "auto",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Throttle returns the parse throttle window
func (c *ParserConfig) Throttle() time.Duration {
	return time.Duration(c.ThrottleMs) * time.Millisecond
}

// ScriptTimeout returns the awaited-script timeout; 0 means none
func (c *DriverConfig) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMinutes) * time.Minute
}

// ChunkDelay returns the pause between replayed chunks
func (c *StreamConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMs) * time.Millisecond
}

// ResolveDir returns the directory that receives log files
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("parser.throttle_ms", defaults.Parser.ThrottleMs)

	viper.SetDefault("driver.optimistic_writes", defaults.Driver.OptimisticWrites)
	viper.SetDefault("driver.shell", defaults.Driver.Shell)
	viper.SetDefault("driver.server_commands", defaults.Driver.ServerCommands)
	viper.SetDefault("driver.script_timeout_minutes", defaults.Driver.ScriptTimeoutMinutes)

	viper.SetDefault("runtime.kind", defaults.Runtime.Kind)
	viper.SetDefault("runtime.workdir", defaults.Runtime.Workdir)
	viper.SetDefault("runtime.use_pty", defaults.Runtime.UsePTY)
	viper.SetDefault("runtime.docker.image", defaults.Runtime.Docker.Image)
	viper.SetDefault("runtime.docker.container_name", defaults.Runtime.Docker.ContainerName)
	viper.SetDefault("runtime.docker.project_dir", defaults.Runtime.Docker.ProjectDir)
	viper.SetDefault("runtime.docker.ports", defaults.Runtime.Docker.Ports)

	viper.SetDefault("stream.chunk_size", defaults.Stream.ChunkSize)
	viper.SetDefault("stream.chunk_delay_ms", defaults.Stream.ChunkDelayMs)

	viper.SetDefault("output.color", defaults.Output.Color)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is unusable
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the zapbuild configuration directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zapbuild")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zapbuild"
	}
	return filepath.Join(home, ".config", "zapbuild")
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
