package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/zapbuilder/zapbuild/internal/driver"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/runtime"
	"github.com/zapbuilder/zapbuild/internal/runtime/memory"
	"github.com/zapbuilder/zapbuild/internal/testutil"
)

func TestManagerStartResetsPrevious(t *testing.T) {
	rt := memory.New()
	m := NewManager(rt, Options{Driver: driver.DefaultConfig(), ID: "ignored"})
	ctx := context.Background()

	if _, err := m.Current(); !errors.Is(err, errors.ErrSessionNotStarted) {
		t.Errorf("Current() error = %v, want ErrSessionNotStarted", err)
	}

	first, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	feedAll(t, first, testutil.DemoTranscript, 32)
	first.CloseStream()
	if err := waitSession(t, first); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if _, ok := rt.File("src/index.html"); !ok {
		t.Fatal("first session should have mounted index.html")
	}

	second, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if second.ID() == first.ID() || second.ID() == "ignored" {
		t.Errorf("session IDs %q and %q should be fresh and distinct", first.ID(), second.ID())
	}
	if rt.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", rt.Resets())
	}
	if _, ok := rt.File("src/index.html"); ok {
		t.Error("files from the first session should be gone")
	}
	if cur, _ := m.Current(); cur != second {
		t.Error("Current() should return the second session")
	}

	feedAll(t, second, testutil.TwoFilesThenShell, 32)
	second.CloseStream()
	if err := waitSession(t, second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got, _ := rt.File("b.txt"); got != "beta" {
		t.Errorf("b.txt = %q, want beta", got)
	}

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if rt.Resets() != 2 {
		t.Errorf("Resets() = %d after Close, want 2", rt.Resets())
	}
	if err := m.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestManagerStartKillsRunningScript(t *testing.T) {
	rt := memory.New()
	started := make(chan struct{})
	killed := make(chan struct{})
	_ = rt.Script("npm install", func(ctx context.Context, env memory.Env) int {
		close(started)
		<-ctx.Done()
		close(killed)
		// A dying process may still touch the file system.
		_ = afero.WriteFile(env.FS, "/late.txt", []byte("late"), 0644)
		return 1
	})

	m := NewManager(rt, Options{Driver: driver.DefaultConfig()})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	ctx := context.Background()

	first, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	feedAll(t, first, testutil.DemoTranscript, 32)
	first.CloseStream()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("npm install never started")
	}
	if rt.Running() != 1 {
		t.Fatalf("Running() = %d, want the blocked script", rt.Running())
	}

	second, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	select {
	case <-killed:
	default:
		t.Error("the running script should have been killed")
	}
	if rt.Running() != 0 {
		t.Errorf("Running() = %d after Start, want 0", rt.Running())
	}
	if rt.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", rt.Resets())
	}
	if _, ok := rt.File("late.txt"); ok {
		t.Error("a write from the killed script survived the reset")
	}

	feedAll(t, second, testutil.TwoFilesThenShell, 32)
	second.CloseStream()
	if err := waitSession(t, second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	var paths []string
	_ = runtime.Walk(rt.Files(), func(p, _ string) error {
		paths = append(paths, p)
		return nil
	})
	if got := strings.Join(paths, ","); got != "a.txt,b.txt" {
		t.Errorf("files after the second session = %s, want a.txt,b.txt", got)
	}
	if lines := rt.Lines(); len(lines) != 2 || lines[1] != "cat a.txt b.txt" {
		t.Errorf("spawned %v, want npm install then cat", lines)
	}
}
