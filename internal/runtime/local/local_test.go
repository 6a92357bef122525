package local

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zapbuilder/zapbuild/internal/runtime"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newAdapter(t *testing.T, usePTY bool) *Adapter {
	t.Helper()
	a, err := New(Options{Dir: filepath.Join(t.TempDir(), "project"), UsePTY: usePTY})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Reset(ctx)
		_ = a.Close()
	})
	return a
}

func run(t *testing.T, a *Adapter, script string) (string, int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := a.Spawn(ctx, "sh", "-c", script)
	if err != nil {
		t.Fatalf("Spawn(%q) error = %v", script, err)
	}
	out, err := io.ReadAll(p.Output())
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	code, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return string(out), code
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() with empty dir should fail")
	}
}

func TestNewLocksDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	a, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := New(Options{Dir: dir}); err == nil {
		t.Error("a second adapter on the same directory should fail")
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	b, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("New() after Close error = %v", err)
	}
	_ = b.Close()
}

func TestMountWritesIntoDir(t *testing.T) {
	a := newAdapter(t, false)
	tree := runtime.Tree{}
	tree.Insert("src/index.html", "<html></html>")

	if err := a.Mount(context.Background(), tree); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(a.Dir(), "src", "index.html"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("contents = %q", data)
	}
}

func TestSpawnSeesMountedFiles(t *testing.T) {
	requireShell(t)
	a := newAdapter(t, false)
	tree := runtime.Tree{}
	tree.Insert("a.txt", "alpha")
	tree.Insert("b.txt", "beta")
	if err := a.Mount(context.Background(), tree); err != nil {
		t.Fatal(err)
	}

	out, code := run(t, a, "cat a.txt b.txt")
	if code != 0 {
		t.Fatalf("exit code = %d, output %q", code, out)
	}
	if out != "alphabeta" {
		t.Errorf("output = %q, want %q", out, "alphabeta")
	}
}

func TestSpawnExitCodes(t *testing.T) {
	requireShell(t)
	a := newAdapter(t, false)

	tests := []struct {
		name   string
		script string
		want   int
	}{
		{"success", "true", 0},
		{"failure", "exit 3", 3},
		{"stderr merged", "echo oops >&2; exit 1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, code := run(t, a, tt.script)
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestStderrIsCaptured(t *testing.T) {
	requireShell(t)
	a := newAdapter(t, false)
	out, _ := run(t, a, "echo oops >&2")
	if strings.TrimSpace(out) != "oops" {
		t.Errorf("output = %q, want stderr text", out)
	}
}

func TestPTYOutput(t *testing.T) {
	requireShell(t)
	a := newAdapter(t, true)
	out, code := run(t, a, "echo hello")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output = %q, want it to contain hello", out)
	}
}

func TestServerReadyAndKill(t *testing.T) {
	requireShell(t)
	a := newAdapter(t, false)

	var port atomic.Int32
	a.OnServerReady(func(p int, _ string) { port.Store(int32(p)) })

	p, err := a.Spawn(context.Background(), "sh", "-c", "echo 'Local: http://localhost:4321/'; sleep 30")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _, _ = io.Copy(io.Discard, p.Output()) }()

	deadline := time.Now().Add(5 * time.Second)
	for port.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if port.Load() != 4321 {
		t.Fatalf("server ready port = %d, want 4321", port.Load())
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() after kill error = %v", err)
	}
	if code == 0 {
		t.Error("killed process should not report success")
	}
}

func TestResetClearsDirectory(t *testing.T) {
	a := newAdapter(t, false)
	tree := runtime.Tree{}
	tree.Insert("keep/me.txt", "x")
	if err := a.Mount(context.Background(), tree); err != nil {
		t.Fatal(err)
	}
	if err := a.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	entries, err := os.ReadDir(a.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Reset left %d entries", len(entries))
	}
}

func TestExitCodeSignal(t *testing.T) {
	requireShell(t)
	a := newAdapter(t, false)
	_, code := run(t, a, "kill -9 $$")
	if code != 137 {
		t.Errorf("exit code = %d, want 137", code)
	}
}
