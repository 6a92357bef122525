package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"negative throttle", func(c *Config) { c.Parser.ThrottleMs = -1 }, "parser.throttle_ms"},
		{"huge throttle", func(c *Config) { c.Parser.ThrottleMs = 60_000 }, "parser.throttle_ms"},
		{"empty shell", func(c *Config) { c.Driver.Shell = "  " }, "driver.shell"},
		{"empty server pattern", func(c *Config) { c.Driver.ServerCommands = []string{""} }, "driver.server_commands[0]"},
		{"bad server glob", func(c *Config) { c.Driver.ServerCommands = []string{"npm run dev*", "[abc"} }, "driver.server_commands[1]"},
		{"negative script timeout", func(c *Config) { c.Driver.ScriptTimeoutMinutes = -5 }, "driver.script_timeout_minutes"},
		{"unknown runtime", func(c *Config) { c.Runtime.Kind = "vm" }, "runtime.kind"},
		{"local without workdir", func(c *Config) { c.Runtime.Workdir = "" }, "runtime.workdir"},
		{"docker without image", func(c *Config) {
			c.Runtime.Kind = RuntimeDocker
			c.Runtime.Docker.Image = ""
		}, "runtime.docker.image"},
		{"docker relative project dir", func(c *Config) {
			c.Runtime.Kind = RuntimeDocker
			c.Runtime.Docker.ProjectDir = "project"
		}, "runtime.docker.project_dir"},
		{"docker port out of range", func(c *Config) {
			c.Runtime.Kind = RuntimeDocker
			c.Runtime.Docker.Ports = []int{5173, 70000}
		}, "runtime.docker.ports"},
		{"zero chunk size", func(c *Config) { c.Stream.ChunkSize = 0 }, "stream.chunk_size"},
		{"negative chunk delay", func(c *Config) { c.Stream.ChunkDelayMs = -1 }, "stream.chunk_delay_ms"},
		{"bad color", func(c *Config) { c.Output.Color = "rainbow" }, "output.color"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidate_MemoryRuntimeIgnoresWorkdir(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Kind = RuntimeMemory
	cfg.Runtime.Workdir = ""

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		errs ValidationErrors
		want string
	}{
		{"empty", nil, ""},
		{
			"single",
			ValidationErrors{{Field: "driver.shell", Value: "", Message: "must not be empty"}},
			"driver.shell: must not be empty (got: )",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.errs.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "x"},
		{Field: "b", Value: 2, Message: "y"},
	}
	got := multi.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "  2. b: y (got: 2)") {
		t.Errorf("multi Error() = %q", got)
	}
}
