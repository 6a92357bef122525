// Package memory provides an in-process runtime adapter backed by an afero
// memory file system. Commands are served by scripted handlers instead of
// real processes, which makes it the runtime of choice for tests and for
// dry runs of a transcript.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/zapbuilder/zapbuild/internal/runtime"
)

// Root is the directory mounts are written below.
const Root = "/project"

// Env is what a scripted command sees while it runs.
type Env struct {
	// FS is the adapter file system rooted at Root.
	FS afero.Fs
	// Out receives the command's combined output.
	Out io.Writer
	// Line is the command line, without the shell wrapper.
	Line string
}

// Handler serves a scripted command and returns its exit code. It should
// return promptly once ctx is done; ctx is canceled when the process is
// killed.
type Handler func(ctx context.Context, env Env) int

// Spawn records one Spawn call.
type Spawn struct {
	Command string
	Args    []string
	Line    string
	// Files is the mounted tree at the moment of the call.
	Files runtime.Tree
}

type script struct {
	pattern glob.Glob
	handler Handler
}

// Adapter is an in-memory runtime.Adapter. The zero value is not usable;
// call New.
type Adapter struct {
	mu        sync.Mutex
	fs        afero.Fs
	scripts   []script
	spawns    []Spawn
	procs     []*process
	mountErr  error
	spawnErr  error
	mounts    int
	resets    int
	detector  *runtime.ReadyDetector
	mountHook func(runtime.Tree)
}

var _ runtime.Adapter = (*Adapter)(nil)

// New returns an empty adapter. Unscripted commands exit 0 silently.
func New() *Adapter {
	return &Adapter{
		fs:       afero.NewMemMapFs(),
		detector: runtime.NewReadyDetector(),
	}
}

// Script serves every command line matching pattern (a glob) with h.
// Earlier registrations win.
func (a *Adapter) Script(pattern string, h Handler) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile script pattern %q: %w", pattern, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts = append(a.scripts, script{pattern: g, handler: h})
	return nil
}

// FailMounts makes every following Mount return err. Pass nil to recover.
func (a *Adapter) FailMounts(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mountErr = err
}

// FailSpawns makes every following Spawn return err. Pass nil to recover.
func (a *Adapter) FailSpawns(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spawnErr = err
}

// OnMount registers fn to observe every successful mount.
func (a *Adapter) OnMount(fn func(runtime.Tree)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mountHook = fn
}

// Mount implements runtime.Adapter.
func (a *Adapter) Mount(ctx context.Context, tree runtime.Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.mountErr != nil {
		err := a.mountErr
		a.mu.Unlock()
		return err
	}
	err := runtime.WriteTree(a.fs, Root, tree)
	if err == nil {
		a.mounts++
	}
	hook := a.mountHook
	a.mu.Unlock()

	if err == nil && hook != nil {
		hook(tree)
	}
	return err
}

// Spawn implements runtime.Adapter.
func (a *Adapter) Spawn(ctx context.Context, command string, args ...string) (runtime.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := CommandLine(command, args)

	a.mu.Lock()
	if a.spawnErr != nil {
		err := a.spawnErr
		a.mu.Unlock()
		return nil, err
	}
	files, err := runtime.ReadTree(a.fs, Root)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.spawns = append(a.spawns, Spawn{
		Command: command,
		Args:    append([]string(nil), args...),
		Line:    line,
		Files:   files,
	})
	handler := a.handlerFor(line)
	p := newProcess()
	a.procs = append(a.procs, p)
	fs := afero.NewBasePathFs(a.fs, Root)
	a.mu.Unlock()

	go p.run(handler, Env{FS: fs, Out: io.MultiWriter(p.out, a.detector), Line: line})
	return p, nil
}

// OnServerReady implements runtime.Adapter.
func (a *Adapter) OnServerReady(fn func(port int, url string)) {
	a.detector.OnReady(fn)
}

// EmitServerReady fires the server-ready callbacks as if a dev server had
// started listening.
func (a *Adapter) EmitServerReady(port int, url string) {
	a.detector.Fire(port, url)
}

// Reset implements runtime.Adapter.
func (a *Adapter) Reset(ctx context.Context) error {
	a.mu.Lock()
	procs := a.procs
	a.procs = nil
	a.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
	for _, p := range procs {
		if _, err := p.Wait(ctx); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := runtime.ClearDir(a.fs, Root); err != nil {
		return err
	}
	a.detector.Rearm()
	a.resets++
	return nil
}

// Spawns returns the recorded Spawn calls.
func (a *Adapter) Spawns() []Spawn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Spawn(nil), a.spawns...)
}

// Lines returns the command lines spawned so far.
func (a *Adapter) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	lines := make([]string, len(a.spawns))
	for i, s := range a.spawns {
		lines[i] = s.Line
	}
	return lines
}

// File returns the mounted contents at path.
func (a *Adapter) File(path string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := afero.ReadFile(a.fs, Root+"/"+strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Files returns the mounted tree.
func (a *Adapter) Files() runtime.Tree {
	a.mu.Lock()
	defer a.mu.Unlock()
	tree, err := runtime.ReadTree(a.fs, Root)
	if err != nil {
		return runtime.Tree{}
	}
	return tree
}

// Mounts returns the number of successful Mount calls.
func (a *Adapter) Mounts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mounts
}

// Resets returns the number of successful Reset calls.
func (a *Adapter) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

// Running returns the number of spawned processes that have not exited.
func (a *Adapter) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, p := range a.procs {
		if !p.exited() {
			n++
		}
	}
	return n
}

func (a *Adapter) handlerFor(line string) Handler {
	for _, s := range a.scripts {
		if s.pattern.Match(line) {
			return s.handler
		}
	}
	return nil
}

// CommandLine renders a spawn call as a single line, unwrapping
// "<shell> -c <script>" to the script itself.
func CommandLine(command string, args []string) string {
	if len(args) == 2 && args[0] == "-c" {
		return args[1]
	}
	return strings.TrimSpace(command + " " + strings.Join(args, " "))
}
