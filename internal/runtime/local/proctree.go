package local

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a process group gets after SIGTERM
// before it is force-killed.
const DefaultGracePeriod = 500 * time.Millisecond

// descendantPIDs returns all descendants of pid, children before
// grandchildren. Processes that left the group with setsid are still
// found this way.
func descendantPIDs(pid int) []int {
	if pid <= 0 {
		return nil
	}
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		child, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		pids = append(pids, child)
		pids = append(pids, descendantPIDs(child)...)
	}
	return pids
}

// isAlive reports whether pid exists, using signal 0. EPERM means the
// process exists but belongs to another user.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// waitForExit polls until pid exits or timeout elapses.
func waitForExit(pid int, timeout time.Duration) bool {
	if !isAlive(pid) {
		return true
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !isAlive(pid)
		case <-ticker.C:
			if !isAlive(pid) {
				return true
			}
		}
	}
}

// stopTree asks the group led by pid to terminate, then SIGKILLs the group
// and every descendant still alive after grace, deepest first.
func stopTree(pid int, grace time.Duration) {
	if pid <= 0 {
		return
	}
	descendants := descendantPIDs(pid)

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	if waitForExit(pid, grace) && !anyAlive(descendants) {
		return
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	for i := len(descendants) - 1; i >= 0; i-- {
		if isAlive(descendants[i]) {
			_ = syscall.Kill(descendants[i], syscall.SIGKILL)
		}
	}
	if isAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		if isAlive(pid) {
			return true
		}
	}
	return false
}

// exitCode maps a finished command to a shell-style exit code, reporting
// death by signal as 128+signal.
func exitCode(cmd *exec.Cmd) int {
	state := cmd.ProcessState
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
