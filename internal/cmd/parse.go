package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zapbuilder/zapbuild/internal/artifact"
	"github.com/zapbuilder/zapbuild/internal/config"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/filetree"
	"github.com/zapbuilder/zapbuild/internal/runtime"
	"github.com/zapbuilder/zapbuild/internal/step"
	"github.com/zapbuilder/zapbuild/internal/styles"
	"github.com/zapbuilder/zapbuild/internal/util"
)

var parseCmd = &cobra.Command{
	Use:   "parse [transcript]",
	Short: "Show the build steps in a transcript without running them",
	Long: `Parse extracts the artifact from a transcript and prints its steps.

Use --bytes to parse only a prefix, which shows what a build would have
seen at that point of the stream: open actions are reported as
in_progress and a shell command cut short is marked as not executable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

var (
	parseFormat string
	parseBytes  int
	parseFiles  bool
)

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVarP(&parseFormat, "format", "o", "table", "Output format: table, json or yaml")
	parseCmd.Flags().IntVar(&parseBytes, "bytes", 0, "Parse only the first N bytes (0 for all)")
	parseCmd.Flags().BoolVar(&parseFiles, "files", false, "Also list the project files and the mount tree the steps produce")
}

// parseReport is the machine-readable output of the parse command.
type parseReport struct {
	Found     bool                `json:"found" yaml:"found"`
	Bytes     int                 `json:"bytes" yaml:"bytes"`
	Steps     []step.BuildStep    `json:"steps" yaml:"steps"`
	Anomalies []artifact.Anomaly  `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Files     []filetree.FileItem `json:"files,omitempty" yaml:"files,omitempty"`
	Tree      runtime.Tree        `json:"tree,omitempty" yaml:"tree,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := styles.ConfigureColor(cfg.Output.Color, os.Stdout.Fd()); err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open transcript %s", args[0])
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrap(err, "failed to read transcript")
	}
	if parseBytes < 0 {
		return errors.NewValidationError("--bytes must not be negative").WithField("bytes").WithValue(parseBytes)
	}
	if parseBytes > 0 && parseBytes < len(data) {
		data = data[:parseBytes]
	}

	res := artifact.Parse(string(data))
	report := parseReport{
		Found:     res.Found,
		Bytes:     len(data),
		Steps:     res.Steps,
		Anomalies: res.Anomalies,
	}
	if report.Steps == nil {
		report.Steps = []step.BuildStep{}
	}
	if parseFiles {
		ptrs := make([]*step.BuildStep, len(res.Steps))
		for i := range res.Steps {
			ptrs[i] = &res.Steps[i]
		}
		report.Files = filetree.FromSteps(ptrs)
		report.Tree = filetree.Tree(report.Files)
	}

	out := cmd.OutOrStdout()
	switch parseFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		printReport(out, report)
		return nil
	}
	return errors.NewValidationError("unknown output format").WithField("format").WithValue(parseFormat)
}

func printReport(out io.Writer, report parseReport) {
	if !report.Found {
		fmt.Fprintln(out, styles.WarnMsg("%s (%d bytes)", errors.ErrProtocolMismatch, report.Bytes))
		return
	}

	rows := make([][]string, 0, len(report.Steps))
	for i, s := range report.Steps {
		target := s.Path
		switch s.Type {
		case step.RunScript:
			target = util.FirstLine(s.Code)
			if !s.ShouldExecute {
				target += " " + styles.Warning.Render("(truncated, skipped)")
			}
		case step.ArtifactHeader:
			target = s.Title
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(s.Type),
			styles.StatusText(s.ParseStatus),
			target,
		})
	}
	fmt.Fprintln(out, styles.Table([]string{"#", "STEP", "PARSE", "TARGET"}, rows))

	for _, a := range report.Anomalies {
		fmt.Fprintln(out, styles.WarnMsg("%s", a))
	}

	if len(report.Files) > 0 {
		fileRows := make([][]string, 0, len(report.Files))
		for _, f := range report.Files {
			size := ""
			if f.Type == filetree.File {
				size = strconv.Itoa(len(f.Content))
			}
			fileRows = append(fileRows, []string{f.Path, string(f.Type), size})
		}
		fmt.Fprintln(out, styles.Table([]string{"PATH", "TYPE", "BYTES"}, fileRows))
	}
}
