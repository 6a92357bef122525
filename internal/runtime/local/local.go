// Package local runs the generated project in a directory on the host.
// Files are written through an afero base-path file system and commands
// run as child processes, optionally on a pseudo-terminal so that dev
// servers keep their colored, interactive output.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/logging"
	"github.com/zapbuilder/zapbuild/internal/runtime"
)

// Options configures an Adapter.
type Options struct {
	// Dir is the project directory. It is created if missing.
	Dir string
	// UsePTY runs commands on a pseudo-terminal.
	UsePTY bool
	// GracePeriod bounds how long Kill waits after SIGTERM. Zero means
	// DefaultGracePeriod.
	GracePeriod time.Duration
	// Env is appended to the inherited environment of every command.
	Env    []string
	Logger *logging.Logger
}

// Adapter is a runtime.Adapter over a host directory.
type Adapter struct {
	dir      string
	fs       afero.Fs
	opts     Options
	logger   *logging.Logger
	detector *runtime.ReadyDetector

	mu    sync.Mutex
	procs map[*process]struct{}
	lock  *DirLock
}

var _ runtime.Adapter = (*Adapter)(nil)

// New prepares dir and returns an adapter rooted there.
func New(opts Options) (*Adapter, error) {
	if opts.Dir == "" {
		return nil, errors.NewValidationError("project directory is required").WithField("dir")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewRuntimeError("create project directory", err).WithAdapter("local").WithOperation("boot")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	lock, err := AcquireDirLock(dir, logger)
	if err != nil {
		return nil, errors.NewRuntimeError("lock project directory", err).WithAdapter("local").WithOperation("boot").WithRetryable(false)
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	return &Adapter{
		dir:      dir,
		fs:       afero.NewBasePathFs(afero.NewOsFs(), dir),
		opts:     opts,
		logger:   logger.WithComponent("runtime.local"),
		detector: runtime.NewReadyDetector(),
		procs:    make(map[*process]struct{}),
		lock:     lock,
	}, nil
}

// Dir returns the absolute project directory.
func (a *Adapter) Dir() string {
	return a.dir
}

// Mount implements runtime.Adapter.
func (a *Adapter) Mount(ctx context.Context, tree runtime.Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := runtime.WriteTree(a.fs, "/", tree); err != nil {
		return errors.NewRuntimeError("write tree", err).WithAdapter("local").WithOperation("mount")
	}
	a.logger.Debug("mounted tree", "files", tree.Files(), "dir", a.dir)
	return nil
}

// Spawn implements runtime.Adapter. The process outlives ctx; use Kill or
// Reset to stop it.
func (a *Adapter) Spawn(ctx context.Context, command string, args ...string) (runtime.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(command, args...)
	cmd.Dir = a.dir
	cmd.Env = append(os.Environ(), a.opts.Env...)
	cmd.WaitDelay = a.opts.GracePeriod

	var (
		p   *process
		err error
	)
	if a.opts.UsePTY {
		p, err = a.startPTY(cmd)
	} else {
		p, err = a.startPiped(cmd)
	}
	if err != nil {
		return nil, errors.NewRuntimeError("start "+command, err).WithAdapter("local").WithOperation("spawn").WithRetryable(false)
	}

	a.mu.Lock()
	a.procs[p] = struct{}{}
	a.mu.Unlock()

	go func() {
		<-p.done
		a.mu.Lock()
		delete(a.procs, p)
		a.mu.Unlock()
	}()

	a.logger.Debug("spawned process", "command", command, "pid", cmd.Process.Pid, "pty", a.opts.UsePTY)
	return p, nil
}

func (a *Adapter) startPiped(cmd *exec.Cmd) (*process, error) {
	pr, pw := io.Pipe()
	out := io.MultiWriter(pw, a.detector)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, err
	}

	p := newProcess(cmd, pr, a.opts.GracePeriod)
	var wg conc.WaitGroup
	wg.Go(func() {
		_ = cmd.Wait()
		_ = pw.Close()
	})
	go p.finish(&wg, nil)
	return p, nil
}

func (a *Adapter) startPTY(cmd *exec.Cmd) (*process, error) {
	// pty.Start puts the child in a new session, which also makes it the
	// leader of its process group.
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	p := newProcess(cmd, pr, a.opts.GracePeriod)

	var wg conc.WaitGroup
	wg.Go(func() {
		// Reads fail with EIO once the slave side is gone.
		_, _ = io.Copy(io.MultiWriter(pw, a.detector), master)
		_ = pw.Close()
	})
	wg.Go(func() {
		_ = cmd.Wait()
	})
	go p.finish(&wg, master)
	return p, nil
}

// OnServerReady implements runtime.Adapter.
func (a *Adapter) OnServerReady(fn func(port int, url string)) {
	a.detector.OnReady(fn)
}

// Reset implements runtime.Adapter.
func (a *Adapter) Reset(ctx context.Context) error {
	a.mu.Lock()
	procs := make([]*process, 0, len(a.procs))
	for p := range a.procs {
		procs = append(procs, p)
	}
	a.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
	for _, p := range procs {
		if _, err := p.Wait(ctx); err != nil {
			return errors.NewRuntimeError("stop processes", err).WithAdapter("local").WithOperation("reset")
		}
	}

	if err := runtime.ClearDir(a.fs, "/"); err != nil {
		return errors.NewRuntimeError("clear project directory", err).WithAdapter("local").WithOperation("reset")
	}
	a.detector.Rearm()
	a.logger.Info("runtime reset", "dir", a.dir, "killed", len(procs))
	return nil
}

// Close kills running processes and releases the directory lock. The
// project files are left in place.
func (a *Adapter) Close() error {
	a.mu.Lock()
	procs := make([]*process, 0, len(a.procs))
	for p := range a.procs {
		procs = append(procs, p)
	}
	a.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
	return a.lock.Release()
}

type process struct {
	cmd   *exec.Cmd
	out   io.Reader
	grace time.Duration
	done  chan struct{}

	mu   sync.Mutex
	code int
}

func newProcess(cmd *exec.Cmd, out io.Reader, grace time.Duration) *process {
	return &process{cmd: cmd, out: out, grace: grace, done: make(chan struct{})}
}

// finish waits for the command and its output pump, then publishes the
// exit code.
func (p *process) finish(wg *conc.WaitGroup, master *os.File) {
	wg.Wait()
	if master != nil {
		_ = master.Close()
	}
	p.mu.Lock()
	p.code = exitCode(p.cmd)
	p.mu.Unlock()
	close(p.done)
}

func (p *process) Output() io.Reader { return p.out }

func (p *process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	stopTree(p.cmd.Process.Pid, p.grace)
	return nil
}
