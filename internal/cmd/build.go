package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/zapbuilder/zapbuild/internal/config"
	"github.com/zapbuilder/zapbuild/internal/driver"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/event"
	"github.com/zapbuilder/zapbuild/internal/session"
	"github.com/zapbuilder/zapbuild/internal/step"
	"github.com/zapbuilder/zapbuild/internal/stream"
	"github.com/zapbuilder/zapbuild/internal/styles"
	"github.com/zapbuilder/zapbuild/internal/util"
)

var buildCmd = &cobra.Command{
	Use:   "build [transcript]",
	Short: "Build a project from a model transcript",
	Long: `Build reads a model transcript, from a file or from stdin when the
argument is omitted or "-", and applies its artifact to the configured
runtime while the text is still arriving.

Examples:
  # Replay a saved answer into ./zapbuild-project
  zapbuild build answer.txt

  # Pipe a live stream in
  my-llm-client --stream | zapbuild build

  # Tail a file another process is writing
  zapbuild build --follow answer.txt

  # Dry run in memory
  zapbuild build --runtime memory answer.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

var (
	buildFollow  bool
	buildIdle    time.Duration
	buildClean   bool
	buildServe   bool
	buildVerbose bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVarP(&buildFollow, "follow", "f", false, "Keep reading the transcript file as it grows")
	buildCmd.Flags().DurationVar(&buildIdle, "idle", 5*time.Second, "With --follow, stop once the file has not grown for this long")
	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Reset the runtime before building, removing earlier files")
	buildCmd.Flags().BoolVar(&buildServe, "serve", true, "Keep background servers running until interrupted")
	buildCmd.Flags().BoolVarP(&buildVerbose, "verbose", "v", false, "Show every step transition and partial write")

	buildCmd.Flags().String("runtime", "", "Runtime: memory, local or docker")
	_ = viper.BindPFlag("runtime.kind", buildCmd.Flags().Lookup("runtime"))
	buildCmd.Flags().String("workdir", "", "Project directory for the local runtime")
	_ = viper.BindPFlag("runtime.workdir", buildCmd.Flags().Lookup("workdir"))
	buildCmd.Flags().Int("chunk-size", 0, "Bytes per chunk when replaying a transcript")
	_ = viper.BindPFlag("stream.chunk_size", buildCmd.Flags().Lookup("chunk-size"))
	buildCmd.Flags().Int("delay-ms", 0, "Pause between replayed chunks in milliseconds")
	_ = viper.BindPFlag("stream.chunk_delay_ms", buildCmd.Flags().Lookup("delay-ms"))
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := styles.ConfigureColor(cfg.Output.Color, os.Stdout.Fd()); err != nil {
		return err
	}

	src, closeSrc, err := openSource(cmd, args, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	logger := CreateLogger(cfg)
	defer func() { _ = logger.Close() }()
	defer func() {
		if err != nil && !errors.Is(err, errors.ErrCanceled) {
			logger.Error("build failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to release runtime", "error", err)
		}
	}()

	if buildClean {
		if err := rt.Reset(ctx); err != nil {
			return errors.Wrap(err, "failed to reset runtime")
		}
	}

	out := cmd.OutOrStdout()
	p := newPrinter(out, terminalWidth(), buildVerbose)
	bus := event.NewBus(logger)
	p.Attach(bus)

	sess, err := session.New(session.Options{
		Throttle: cfg.Parser.Throttle(),
		Driver: driver.Config{
			OptimisticWrites: cfg.Driver.OptimisticWrites,
			Shell:            cfg.Driver.Shell,
			ServerCommands:   cfg.Driver.ServerCommands,
			ScriptTimeout:    cfg.Driver.ScriptTimeout(),
		},
		DriverOptions: []driver.Option{driver.WithOutput(p)},
		Bus:           bus,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer sess.Stop()
	defer p.Unsubscribe()

	fmt.Fprintln(out, styles.Muted.Render("runtime: "+rt.Description))
	sess.AttachRuntime(rt)

	if _, err := stream.Pump(ctx, src, sess); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, styles.WarnMsg("interrupted"))
			return errors.ErrCanceled
		}
		return errors.Wrap(err, "failed to read transcript")
	}

	buildErr := sess.Wait(ctx)
	if ctx.Err() != nil {
		fmt.Fprintln(out, styles.WarnMsg("interrupted"))
		return errors.ErrCanceled
	}

	printSummary(out, sess)
	if buildErr != nil {
		return buildErr
	}

	if buildServe && p.Detached() > 0 && cfg.Runtime.Kind != config.RuntimeMemory {
		fmt.Fprintln(out, styles.InfoMsg("servers are running, press Ctrl-C to stop"))
		<-ctx.Done()
	}
	return nil
}

// openSource picks the transcript source for args.
func openSource(cmd *cobra.Command, args []string, cfg *config.Config) (stream.Source, func(), error) {
	nop := func() {}
	if len(args) == 0 || args[0] == "-" {
		if buildFollow {
			return nil, nop, errors.NewValidationError("--follow needs a file").WithField("follow")
		}
		return stream.NewReaderSource(cmd.InOrStdin(), cfg.Stream.ChunkSize, cfg.Stream.ChunkDelay()), nop, nil
	}

	path := args[0]
	if buildFollow {
		f, err := stream.NewFollower(path, buildIdle, cfg.Stream.ChunkSize)
		if err != nil {
			return nil, nop, err
		}
		return f, func() { _ = f.Close() }, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nop, errors.Wrapf(err, "failed to open transcript %s", path)
	}
	return stream.NewReaderSource(f, cfg.Stream.ChunkSize, cfg.Stream.ChunkDelay()), func() { _ = f.Close() }, nil
}

func printSummary(out io.Writer, sess *session.Session) {
	steps := sess.Steps()
	if len(steps) == 0 {
		return
	}

	var rows [][]string
	completed, failed := 0, 0
	for _, s := range steps {
		if s.Type == step.ArtifactHeader {
			continue
		}
		st := s.Status()
		switch st {
		case step.Completed:
			completed++
		case step.Failed:
			failed++
		}
		target := s.Path
		if s.Type == step.RunScript {
			target = util.FirstLine(s.Code)
		}
		rows = append(rows, []string{styles.StatusIcon(st), string(s.Type), target})
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Table([]string{"", "STEP", "TARGET"}, rows))
	summary := fmt.Sprintf("%d of %d steps completed", completed, len(rows))
	if failed > 0 {
		fmt.Fprintln(out, styles.ErrorMsg("%s, %d failed", summary, failed))
	} else {
		fmt.Fprintln(out, styles.SuccessMsg("%s", summary))
	}
	if url := sess.ServerURL(); url != "" {
		fmt.Fprintln(out, styles.InfoMsg("preview: %s", url))
	}
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}
