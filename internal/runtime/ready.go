package runtime

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"

	"github.com/zapbuilder/zapbuild/internal/util"
)

// serverURL matches the address a dev server prints once it listens.
var serverURL = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]|[A-Za-z0-9.-]+):(\d{2,5})\b/?`)

// maxPending bounds the unterminated line buffered between writes.
const maxPending = 4096

// ReadyDetector is an io.Writer that scans process output for a listening
// URL and notifies handlers once per boot. Adapters tee process output into
// it.
type ReadyDetector struct {
	mu       sync.Mutex
	handlers []func(port int, url string)
	fired    bool
	pending  []byte
}

// NewReadyDetector returns an armed detector.
func NewReadyDetector() *ReadyDetector {
	return &ReadyDetector{}
}

// OnReady registers fn.
func (d *ReadyDetector) OnReady(fn func(port int, url string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// Write scans complete lines of p. It never fails.
func (d *ReadyDetector) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.fired {
		d.mu.Unlock()
		return len(p), nil
	}
	d.pending = append(d.pending, p...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, d.pending[:i])
		d.pending = d.pending[i+1:]
	}
	if len(d.pending) > maxPending {
		d.pending = d.pending[len(d.pending)-maxPending:]
	}
	d.mu.Unlock()

	for _, line := range lines {
		if port, url, ok := parseServerLine(string(line)); ok {
			d.Fire(port, url)
			break
		}
	}
	return len(p), nil
}

// Fire notifies handlers unless the detector already fired since the last
// Rearm.
func (d *ReadyDetector) Fire(port int, url string) {
	d.mu.Lock()
	if d.fired {
		d.mu.Unlock()
		return
	}
	d.fired = true
	d.pending = nil
	handlers := append([]func(int, string){}, d.handlers...)
	d.mu.Unlock()

	for _, fn := range handlers {
		fn(port, url)
	}
}

// Rearm allows the next boot to fire again.
func (d *ReadyDetector) Rearm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = false
	d.pending = nil
}

// Fired reports whether the detector fired since the last Rearm.
func (d *ReadyDetector) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

func parseServerLine(line string) (int, string, bool) {
	m := serverURL.FindStringSubmatch(util.StripANSI(line))
	if m == nil {
		return 0, "", false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return 0, "", false
	}
	return port, m[0], true
}
