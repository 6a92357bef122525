package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapbuilder/zapbuild/internal/config"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/logging"
	"github.com/zapbuilder/zapbuild/internal/stream"
	"github.com/zapbuilder/zapbuild/internal/styles"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View build logs",
	Long: `View and filter the zapbuild log file.

Examples:
  # Show the last 50 entries
  zapbuild logs

  # Everything from one session
  zapbuild logs -s 3f2a9c -n 0

  # Follow new entries
  zapbuild logs -f

  # Only warnings and errors from the driver
  zapbuild logs --level warn --component driver

  # Entries from the last hour mentioning npm
  zapbuild logs --since 1h --grep npm

  # Export one session as CSV
  zapbuild logs -s 3f2a9c --export session.csv --export-format csv`,
	RunE: runLogs,
}

var (
	logsSessionID    string
	logsComponent    string
	logsTail         int
	logsFollow       bool
	logsLevel        string
	logsSince        string
	logsGrep         string
	logsExport       string
	logsExportFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only entries from this session (ID prefix)")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (e.g. driver, session, runtime.local)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter entries matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to this file instead of printing them")
	logsCmd.Flags().StringVar(&logsExportFormat, "export-format", "json", "Export format: json, text or csv")
}

func levelStyle(level string) string {
	tag := "[" + strings.ToUpper(level) + "]"
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return styles.Muted.Render(tag)
	case logging.LevelInfo:
		return styles.Info.Render(tag)
	case logging.LevelWarn:
		return styles.Warning.Render(tag)
	case logging.LevelError:
		return styles.Error.Render(tag)
	default:
		return tag
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(e logging.LogEntry) string {
	var sb strings.Builder
	sb.WriteString(styles.Muted.Render("[" + e.Timestamp.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle(e.Level))
	sb.WriteString(" ")
	if e.Component != "" {
		sb.WriteString(styles.Primary.Render(e.Component) + " ")
	}
	sb.WriteString(e.Message)

	if e.StepID != "" {
		sb.WriteString(" " + styles.Muted.Render("step_id=") + e.StepID)
	}
	for _, k := range e.AttrKeys() {
		sb.WriteString(" " + styles.Muted.Render(k+"=") + fmt.Sprint(e.Attrs[k]))
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := styles.ConfigureColor(cfg.Output.Color, os.Stdout.Fd()); err != nil {
		return err
	}

	filter, err := newLogFilter()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	logPath := filepath.Join(cfg.Logging.ResolveDir(), logging.LogFileName)

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)
		return followLogs(ctx, out, logPath, filter)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No logs found at %s\n", logPath)
		return nil
	}
	if logsExport != "" {
		return exportLogs(out, logPath, logsExport, logsExportFormat, filter)
	}
	return displayLogs(out, logPath, logsTail, filter)
}

func newLogFilter() (logging.LogFilter, error) {
	f := logging.LogFilter{SessionPrefix: logsSessionID, Component: logsComponent}
	if logsLevel != "" {
		f.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.Since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.Pattern = re
	}
	return f, nil
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(out io.Writer, logPath string, tail int, filter logging.LogFilter) error {
	entries, skipped, err := logging.ReadLogFile(logPath, filter)
	if err != nil {
		return err
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, e := range entries {
		fmt.Fprintln(out, formatLogEntry(e))
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	if skipped > 0 {
		fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("(%d lines that are not JSON were skipped)", skipped)))
	}
	return nil
}

// exportLogs writes every entry matching filter to path.
func exportLogs(out io.Writer, logPath, path, format string, filter logging.LogFilter) error {
	if !slices.Contains(logging.ExportFormats(), strings.ToLower(format)) {
		return errors.NewValidationError("unsupported export format").WithField("export-format").WithValue(format)
	}
	entries, _, err := logging.ReadLogFile(logPath, filter)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create export file")
	}
	if err := logging.ExportLogEntries(file, entries, format); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintln(out, styles.SuccessMsg("exported %d entries to %s", len(entries), path))
	return nil
}

// followLogs prints filtered entries as they are appended, starting with
// what is already in the file.
func followLogs(ctx context.Context, out io.Writer, logPath string, filter logging.LogFilter) error {
	f, err := stream.NewFollower(logPath, 0, 32*1024)
	if err != nil {
		return err
	}
	defer f.Close()

	var pending string
	for {
		chunk, err := f.Next(ctx)
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		pending += chunk
		for {
			i := strings.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(pending[:i])
			pending = pending[i+1:]
			entry, err := logging.ParseEntry(line)
			if err != nil || !filter.Match(entry) {
				continue
			}
			fmt.Fprintln(out, formatLogEntry(entry))
		}
	}
}
