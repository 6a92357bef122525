// Package driver executes reconciled build steps against a runtime.
//
// The driver walks the step list in order. Closed CreateFile steps are
// staged and flushed to the runtime in one mount; a RunScript step first
// flushes everything staged before it and then spawns its command, and
// nothing after it runs until the command exits. Steps whose closing tag
// has not arrived stop the walk, except that the file currently streaming
// may be written early in partial form.
//
// The driver is not safe for concurrent use. A session calls Advance and
// HandleExit from a single goroutine; script completions arrive on the
// Exits channel.
package driver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gobwas/glob"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/event"
	"github.com/zapbuilder/zapbuild/internal/filetree"
	"github.com/zapbuilder/zapbuild/internal/logging"
	"github.com/zapbuilder/zapbuild/internal/runtime"
	"github.com/zapbuilder/zapbuild/internal/step"
)

// TracerName identifies the driver's spans.
const TracerName = "zapbuild/driver"

// Config controls execution behavior.
type Config struct {
	// OptimisticWrites mounts the file currently streaming before its
	// closing tag arrives.
	OptimisticWrites bool
	// Shell runs scripts as `<Shell> -c <code>`.
	Shell string
	// ServerCommands are glob patterns for commands started detached.
	ServerCommands []string
	// ScriptTimeout kills an awaited script after this long. Zero disables.
	ScriptTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{OptimisticWrites: true, Shell: "sh"}
}

// ScriptExit reports the end of an awaited script.
type ScriptExit struct {
	StepID   string
	Code     int
	Err      error
	Duration time.Duration
}

// Option customizes a Driver.
type Option func(*Driver)

// WithOutput copies all process output to w.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) {
		d.output = w
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) {
		d.tracer = t
	}
}

// WithBus publishes step, file and script events to bus.
func WithBus(bus *event.Bus) Option {
	return func(d *Driver) {
		d.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// staged is a closed file waiting for the next flush.
type staged struct {
	step *step.BuildStep
	code string
}

// Driver is the execution state machine of one build session.
type Driver struct {
	cfg       Config
	sessionID string
	servers   []glob.Glob

	bus    *event.Bus
	logger *logging.Logger
	tracer trace.Tracer
	output io.Writer

	rt      runtime.Adapter
	staged  []staged
	written map[string]int

	running  *step.BuildStep
	stopRun  context.CancelFunc
	detached []runtime.Process
	exits    chan ScriptExit
	scripts  conc.WaitGroup

	halted  bool
	stopped bool
	err     error
}

// New creates a driver for the session. Invalid server patterns are
// rejected.
func New(sessionID string, cfg Config, opts ...Option) (*Driver, error) {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	d := &Driver{
		cfg:       cfg,
		sessionID: sessionID,
		output:    io.Discard,
		written:   make(map[string]int),
		exits:     make(chan ScriptExit, 1),
	}
	for _, pattern := range cfg.ServerCommands {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.NewValidationError("invalid server command pattern").
				WithField("server_commands").
				WithValue(pattern)
		}
		d.servers = append(d.servers, g)
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.NopLogger()
	}
	d.logger = d.logger.WithSession(sessionID).WithComponent("driver")
	if d.tracer == nil {
		d.tracer = otel.Tracer(TracerName)
	}
	return d, nil
}

// Attach sets the runtime. Steps seen before the runtime was attached are
// executed on the next Advance.
func (d *Driver) Attach(rt runtime.Adapter) {
	d.rt = rt
}

// Attached reports whether a runtime is set.
func (d *Driver) Attached() bool {
	return d.rt != nil
}

// Exits delivers the outcome of awaited scripts. Pass each value to
// HandleExit.
func (d *Driver) Exits() <-chan ScriptExit {
	return d.exits
}

// Running reports whether an awaited script is in flight.
func (d *Driver) Running() bool {
	return d.running != nil
}

// Halted reports whether a failure stopped the driver.
func (d *Driver) Halted() bool {
	return d.halted
}

// Err returns the failure that halted the driver.
func (d *Driver) Err() error {
	return d.err
}

// Advance executes every step that is ready, in list order. It returns the
// error that halted the driver, if this call halted it. Without a runtime
// it does nothing.
//
// Nothing listed after an awaited script runs before that script exits,
// files included, so a running script never sees later writes.
func (d *Driver) Advance(ctx context.Context, steps []*step.BuildStep) error {
	if d.halted || d.stopped || d.rt == nil || d.running != nil {
		return nil
	}

	for i, s := range steps {
		if s.Type == step.ArtifactHeader || !s.ShouldExecute {
			continue
		}
		if s.ExecStatus.IsTerminal() {
			continue
		}

		if !s.Closed() {
			if err := d.flush(ctx); err != nil {
				return err
			}
			if s.Type == step.CreateFile && d.cfg.OptimisticWrites && lastOpenFile(steps, i) {
				return d.writePartial(ctx, s)
			}
			return nil
		}

		switch s.Type {
		case step.CreateFile:
			d.stage(s)
		case step.RunScript:
			if err := d.flush(ctx); err != nil {
				return err
			}
			awaited, err := d.startScript(ctx, s)
			if err != nil || awaited {
				return err
			}
		}
	}
	return d.flush(ctx)
}

// lastOpenFile reports whether steps[i] is the last CreateFile in the list
// that is still open, which makes it the one currently streaming.
func lastOpenFile(steps []*step.BuildStep, i int) bool {
	for _, s := range steps[i+1:] {
		if s.Type == step.CreateFile && !s.Closed() {
			return false
		}
	}
	return true
}

func (d *Driver) stage(s *step.BuildStep) {
	d.setStatus(s, step.InProgress, "")
	d.staged = append(d.staged, staged{step: s, code: s.Code})
}

// flush mounts every staged file in one delta tree. A mount failure fails
// the whole batch and halts the driver.
func (d *Driver) flush(ctx context.Context) error {
	if len(d.staged) == 0 {
		return nil
	}
	batch := d.staged
	d.staged = nil

	files := make(map[string]string, len(batch))
	for _, f := range batch {
		files[f.step.Path] = f.code
	}

	ctx, span := d.tracer.Start(ctx, "driver.mount", trace.WithAttributes(
		attribute.String("session.id", d.sessionID),
		attribute.Int("files", len(files)),
	))
	defer span.End()

	if err := d.rt.Mount(ctx, filetree.Delta(files)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var first error
		for _, f := range batch {
			execErr := errors.NewExecutionError("mount failed", fmt.Errorf("%w: %w", errors.ErrMountFailed, err)).
				WithStep(f.step.ID, string(f.step.Type)).
				WithPath(f.step.Path)
			d.setStatus(f.step, step.Failed, execErr.Error())
			if first == nil {
				first = execErr
			}
		}
		d.halt(batch[0].step, first)
		return first
	}

	for _, f := range batch {
		d.written[f.step.Path] = len(f.code)
		d.publish(event.NewFileWrittenEvent(d.sessionID, f.step.Path, len(f.code), false))
		d.setStatus(f.step, step.Completed, "")
	}
	d.logger.Info("files mounted", "count", len(files))
	return nil
}

// writePartial mounts the streaming file when it grew past what was last
// written for its path.
func (d *Driver) writePartial(ctx context.Context, s *step.BuildStep) error {
	if s.Code == "" {
		return nil
	}
	if n, ok := d.written[s.Path]; ok && len(s.Code) <= n {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "driver.mount", trace.WithAttributes(
		attribute.String("session.id", d.sessionID),
		attribute.Int("files", 1),
		attribute.Bool("partial", true),
	))
	defer span.End()

	if err := d.rt.Mount(ctx, filetree.Delta(map[string]string{s.Path: s.Code})); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		execErr := errors.NewExecutionError("partial write failed", fmt.Errorf("%w: %w", errors.ErrMountFailed, err)).
			WithStep(s.ID, string(s.Type)).
			WithPath(s.Path)
		d.setStatus(s, step.Failed, execErr.Error())
		d.halt(s, execErr)
		return execErr
	}
	d.written[s.Path] = len(s.Code)
	d.publish(event.NewFileWrittenEvent(d.sessionID, s.Path, len(s.Code), true))
	d.logger.Debug("partial file written", "path", s.Path, "bytes", len(s.Code))
	return nil
}

func (d *Driver) isServer(code string) bool {
	for _, g := range d.servers {
		if g.Match(code) {
			return true
		}
	}
	return false
}

// startScript spawns s. It reports whether the script is awaited, in which
// case the walk must stop until HandleExit.
func (d *Driver) startScript(ctx context.Context, s *step.BuildStep) (bool, error) {
	detached := d.isServer(s.Code)
	d.setStatus(s, step.InProgress, "")

	_, span := d.tracer.Start(ctx, "driver.script", trace.WithAttributes(
		attribute.String("session.id", d.sessionID),
		attribute.String("step.id", s.ID),
		attribute.String("command", s.Code),
		attribute.Bool("detached", detached),
	))

	proc, err := d.rt.Spawn(ctx, d.cfg.Shell, "-c", s.Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		execErr := errors.NewExecutionError("spawn failed", fmt.Errorf("%w: %w", errors.ErrSpawnFailed, err)).
			WithStep(s.ID, string(s.Type)).
			WithCommand(s.Code)
		d.setStatus(s, step.Failed, execErr.Error())
		d.halt(s, execErr)
		return false, execErr
	}

	d.publish(event.NewScriptStartedEvent(d.sessionID, s.ID, s.Code, detached))
	log := d.logger.WithStep(s.ID)

	if detached {
		d.detached = append(d.detached, proc)
		out := proc.Output()
		d.scripts.Go(func() {
			_, _ = io.Copy(d.output, out)
		})
		span.End()
		d.setStatus(s, step.Completed, "")
		log.Info("server started", "command", s.Code)
		return false, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if d.cfg.ScriptTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), d.cfg.ScriptTimeout)
	}
	d.running = s
	d.stopRun = cancel
	log.Info("script started", "command", s.Code)

	id := s.ID
	timeout := d.cfg.ScriptTimeout
	d.scripts.Go(func() {
		d.exits <- await(runCtx, proc, d.output, id, timeout, span)
	})
	return true, nil
}

// await drains proc's output and waits for it to exit. The process is
// killed when ctx ends first.
func await(ctx context.Context, proc runtime.Process, output io.Writer, stepID string, timeout time.Duration, span trace.Span) ScriptExit {
	defer span.End()
	start := time.Now()

	var drain conc.WaitGroup
	out := proc.Output()
	drain.Go(func() {
		_, _ = io.Copy(output, out)
	})

	code, err := proc.Wait(ctx)
	if err != nil {
		_ = proc.Kill()
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = errors.NewTimeoutError("script", timeout).WithCause(err)
		case errors.Is(ctx.Err(), context.Canceled):
			err = errors.ErrCanceled
		}
		// Reap after the kill so that the drain can finish.
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if c, werr := proc.Wait(waitCtx); werr == nil {
			code = c
		}
		cancel()
	}
	drain.Wait()

	span.SetAttributes(attribute.Int("exit_code", code))
	if err == nil && code != 0 {
		err = fmt.Errorf("%w: %d", errors.ErrNonZeroExit, code)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ScriptExit{StepID: stepID, Code: code, Err: err, Duration: time.Since(start)}
}

// HandleExit records the outcome of the running script. A failure marks
// the step Failed and halts the driver; the returned error is the halt
// reason. Exits for scripts that are no longer running are ignored.
func (d *Driver) HandleExit(ex ScriptExit) error {
	s := d.running
	if s == nil || s.ID != ex.StepID {
		return nil
	}
	d.running = nil
	if d.stopRun != nil {
		d.stopRun()
		d.stopRun = nil
	}

	errMsg := ""
	if ex.Err != nil {
		errMsg = ex.Err.Error()
	}
	d.publish(event.NewScriptExitedEvent(d.sessionID, s.ID, ex.Code, ex.Duration, errMsg))
	log := d.logger.WithStep(s.ID)

	if ex.Err == nil {
		d.setStatus(s, step.Completed, "")
		log.Info("script finished", "exit_code", ex.Code, "duration", ex.Duration)
		return nil
	}

	execErr := errors.NewExecutionError("script failed", ex.Err).
		WithStep(s.ID, string(s.Type)).
		WithCommand(s.Code).
		WithExitCode(ex.Code)
	d.setStatus(s, step.Failed, execErr.Error())
	d.halt(s, execErr)
	return execErr
}

func (d *Driver) halt(s *step.BuildStep, err error) {
	d.halted = true
	d.err = fmt.Errorf("%w at step %s: %w", errors.ErrDriverHalted, s.ID, err)
	d.logger.Error("driver halted", "step_id", s.ID, "error", err)
	d.publish(event.NewSessionHaltedEvent(d.sessionID, s.ID, err.Error()))
}

// Stop cancels the running script, kills detached servers and waits for
// every script goroutine. The driver does nothing afterwards.
func (d *Driver) Stop() {
	d.stopped = true
	if d.stopRun != nil {
		d.stopRun()
		d.stopRun = nil
	}
	for _, p := range d.detached {
		_ = p.Kill()
	}
	d.detached = nil

	// An awaited script's final send must not block the wait below.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-d.exits:
			case <-done:
				return
			}
		}
	}()
	d.scripts.Wait()
	close(done)
	d.running = nil
}

func (d *Driver) setStatus(s *step.BuildStep, to step.Status, errMsg string) {
	from := s.Status()
	s.ExecStatus = to
	s.Error = errMsg
	if from != s.Status() {
		d.publish(event.NewStepStatusEvent(d.sessionID, s.ID, string(from), string(s.Status()), errMsg))
	}
}

func (d *Driver) publish(e event.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}
