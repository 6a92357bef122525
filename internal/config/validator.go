package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "driver.shell")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidRuntimeKinds returns the list of supported runtime adapters
func ValidRuntimeKinds() []string {
	return []string{RuntimeMemory, RuntimeLocal, RuntimeDocker}
}

// ValidColorModes returns the list of valid output.color values
func ValidColorModes() []string {
	return []string{"auto", "always", "never"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateParser()...)
	errors = append(errors, c.validateDriver()...)
	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateStream()...)
	errors = append(errors, c.validateOutput()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateParser() []ValidationError {
	var errors []ValidationError

	const maxThrottleMs = 10_000
	if c.Parser.ThrottleMs < 0 || c.Parser.ThrottleMs > maxThrottleMs {
		errors = append(errors, ValidationError{
			Field:   "parser.throttle_ms",
			Value:   c.Parser.ThrottleMs,
			Message: fmt.Sprintf("must be between 0 and %d", maxThrottleMs),
		})
	}
	return errors
}

func (c *Config) validateDriver() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Driver.Shell) == "" {
		errors = append(errors, ValidationError{
			Field:   "driver.shell",
			Value:   c.Driver.Shell,
			Message: "must not be empty",
		})
	}

	for i, pattern := range c.Driver.ServerCommands {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("driver.server_commands[%d]", i),
				Value:   pattern,
				Message: "must not be empty",
			})
			continue
		}
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("driver.server_commands[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	if c.Driver.ScriptTimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "driver.script_timeout_minutes",
			Value:   c.Driver.ScriptTimeoutMinutes,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateRuntime() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidRuntimeKinds(), c.Runtime.Kind) {
		errors = append(errors, ValidationError{
			Field:   "runtime.kind",
			Value:   c.Runtime.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRuntimeKinds(), ", ")),
		})
	}

	switch c.Runtime.Kind {
	case RuntimeLocal:
		if strings.TrimSpace(c.Runtime.Workdir) == "" {
			errors = append(errors, ValidationError{
				Field:   "runtime.workdir",
				Value:   c.Runtime.Workdir,
				Message: "is required for the local runtime",
			})
		}
	case RuntimeDocker:
		if c.Runtime.Docker.Image == "" {
			errors = append(errors, ValidationError{
				Field:   "runtime.docker.image",
				Value:   c.Runtime.Docker.Image,
				Message: "is required for the docker runtime",
			})
		}
		if c.Runtime.Docker.ContainerName == "" {
			errors = append(errors, ValidationError{
				Field:   "runtime.docker.container_name",
				Value:   c.Runtime.Docker.ContainerName,
				Message: "is required for the docker runtime",
			})
		}
		if !strings.HasPrefix(c.Runtime.Docker.ProjectDir, "/") {
			errors = append(errors, ValidationError{
				Field:   "runtime.docker.project_dir",
				Value:   c.Runtime.Docker.ProjectDir,
				Message: "must be an absolute path",
			})
		}
		for _, p := range c.Runtime.Docker.Ports {
			if p < 1 || p > 65535 {
				errors = append(errors, ValidationError{
					Field:   "runtime.docker.ports",
					Value:   p,
					Message: "must be between 1 and 65535",
				})
			}
		}
	}
	return errors
}

func (c *Config) validateStream() []ValidationError {
	var errors []ValidationError

	if c.Stream.ChunkSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.chunk_size",
			Value:   c.Stream.ChunkSize,
			Message: "must be positive",
		})
	}
	if c.Stream.ChunkDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.chunk_delay_ms",
			Value:   c.Stream.ChunkDelayMs,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateOutput() []ValidationError {
	if c.Output.Color == "" || slices.Contains(ValidColorModes(), c.Output.Color) {
		return nil
	}
	return []ValidationError{{
		Field:   "output.color",
		Value:   c.Output.Color,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidColorModes(), ", ")),
	}}
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	} else if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errors
}
