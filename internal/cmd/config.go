package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zapbuilder/zapbuild/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify zapbuild configuration",
	Long: `View or modify zapbuild configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  zapbuild config set runtime.kind docker
  zapbuild config set parser.throttle_ms 100
  zapbuild config set driver.server_commands "npm run dev*,npm start*"

List values are comma separated. Run 'zapbuild config show' to see every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/zapbuild/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKeys maps every settable key to its value kind.
var configKeys = map[string]string{
	"parser.throttle_ms":            "int",
	"driver.optimistic_writes":      "bool",
	"driver.shell":                  "string",
	"driver.server_commands":        "list",
	"driver.script_timeout_minutes": "int",
	"runtime.kind":                  "string",
	"runtime.workdir":               "string",
	"runtime.use_pty":               "bool",
	"runtime.docker.image":          "string",
	"runtime.docker.container_name": "string",
	"runtime.docker.project_dir":    "string",
	"runtime.docker.ports":          "intlist",
	"stream.chunk_size":             "int",
	"stream.chunk_delay_ms":         "int",
	"output.color":                  "string",
	"logging.enabled":               "bool",
	"logging.level":                 "string",
	"logging.dir":                   "string",
	"logging.max_size_mb":           "int",
	"logging.max_backups":           "int",
	"logging.compress":              "bool",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func parseConfigValue(key, value string) (any, error) {
	keyType, ok := configKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'zapbuild config show' to see valid keys", key)
	}

	switch keyType {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "intlist":
		var ports []int
		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item == "" {
				continue
			}
			n, err := strconv.Atoi(item)
			if err != nil || n < 1 || n > 65535 {
				return nil, fmt.Errorf("invalid value for %s: %q is not a port", key, item)
			}
			ports = append(ports, n)
		}
		return ports, nil
	case "list":
		var items []string
		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}

	switch key {
	case "runtime.kind":
		if !slices.Contains(config.ValidRuntimeKinds(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidRuntimeKinds(), ", "))
		}
	case "output.color":
		if !slices.Contains(config.ValidColorModes(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidColorModes(), ", "))
		}
	case "logging.level":
		if !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}

	// Edit the file on its own so that defaults, flags and environment
	// values of this process are not written out.
	file := viper.New()
	file.SetConfigFile(configFile)
	if err := file.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	file.Set(key, typedValue)
	if err := file.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigContent = `# zapbuild configuration

parser:
  # Coalesce chunks arriving within this window into one parse pass (0 = every chunk)
  throttle_ms: 50

driver:
  # Write the file currently streaming before its closing tag arrives
  optimistic_writes: true
  # Scripts run as "<shell> -c <command>"
  shell: sh
  # Long-running commands that are started without waiting for them to exit
  server_commands:
    - "npm run dev*"
    - "npm start*"
    - "npx vite*"
    - "vite*"
    - "pnpm dev*"
    - "yarn dev*"
  # Kill an awaited script after this many minutes (0 = never)
  script_timeout_minutes: 0

runtime:
  # memory, local or docker
  kind: local
  # Directory the local runtime builds into
  workdir: ./zapbuild-project
  # Run local processes under a pseudo-terminal
  use_pty: false
  docker:
    image: node:20-alpine
    container_name: zapbuild-runtime
    project_dir: /home/project
    # Dev server ports to publish on localhost; empty shares the host network
    ports: []

# How transcripts are replayed
stream:
  chunk_size: 64
  chunk_delay_ms: 0

output:
  # auto, always or never
  color: auto

logging:
  enabled: true
  # debug, info, warn or error
  level: info
  # Empty means ~/.config/zapbuild/logs
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'zapbuild config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: ZAPBUILD_* (e.g., ZAPBUILD_RUNTIME_KIND)")
	return nil
}
