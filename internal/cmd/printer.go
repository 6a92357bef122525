package cmd

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/zapbuilder/zapbuild/internal/event"
	"github.com/zapbuilder/zapbuild/internal/step"
	"github.com/zapbuilder/zapbuild/internal/styles"
	"github.com/zapbuilder/zapbuild/internal/util"
)

type stepInfo struct {
	typ   step.Type
	title string
	path  string
}

// printer renders session events and script output as a running log.
// Bus handlers and script output arrive on different goroutines.
type printer struct {
	mu       sync.Mutex
	out      io.Writer
	width    int
	verbose  bool
	steps    map[string]stepInfo
	detached int
	pending  []byte
	bus      *event.Bus
	subID    string
}

func newPrinter(out io.Writer, width int, verbose bool) *printer {
	return &printer{out: out, width: width, verbose: verbose, steps: make(map[string]stepInfo)}
}

// Attach subscribes the printer to every event on bus.
func (p *printer) Attach(bus *event.Bus) {
	p.bus = bus
	p.subID = bus.SubscribeAll(p.handle)
}

// Unsubscribe stops printing events. Events published while the session
// shuts down would otherwise land below the summary.
func (p *printer) Unsubscribe() {
	if p.bus != nil {
		p.bus.Unsubscribe(p.subID)
		p.bus = nil
	}
}

func (p *printer) println(s string) {
	if p.width > 0 {
		s = util.TruncateANSI(s, p.width)
	}
	fmt.Fprintln(p.out, s)
}

func (p *printer) label(id string) string {
	info, ok := p.steps[id]
	if !ok {
		return id
	}
	if info.typ == step.CreateFile {
		return info.path
	}
	return info.title
}

func (p *printer) handle(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case event.StepAddedEvent:
		p.steps[ev.StepID] = stepInfo{typ: step.Type(ev.Type), title: ev.Title, path: ev.Path}
		if step.Type(ev.Type) == step.ArtifactHeader {
			p.println(styles.Title.Render(ev.Title))
		}

	case event.StepStatusEvent:
		info := p.steps[ev.StepID]
		switch step.Status(ev.To) {
		case step.Completed:
			// Files are reported from FileWrittenEvent, once the mount happened.
			if p.verbose && info.typ == step.RunScript {
				p.println(styles.SuccessMsg("%s", p.label(ev.StepID)))
			}
		case step.Failed:
			p.println(styles.ErrorMsg("%s: %s", p.label(ev.StepID), ev.Error))
		}

	case event.FileWrittenEvent:
		switch {
		case !ev.Partial:
			p.println(styles.SuccessMsg("wrote %s", ev.Path))
		case p.verbose:
			p.println(styles.Muted.Render(fmt.Sprintf("  streaming %s (%d bytes)", ev.Path, ev.Bytes)))
		}

	case event.ScriptStartedEvent:
		if ev.Detached {
			p.detached++
			p.println(styles.InfoMsg("$ %s %s", util.FirstLine(ev.Command), styles.Muted.Render("(background)")))
		} else {
			p.println(styles.InfoMsg("$ %s", util.FirstLine(ev.Command)))
		}

	case event.ScriptExitedEvent:
		p.flushOutput()
		if ev.ExitCode == 0 && ev.Error == "" {
			p.println(styles.Muted.Render(fmt.Sprintf("  done in %s", ev.Duration.Round(time.Millisecond))))
		}

	case event.ServerReadyEvent:
		p.println(styles.SuccessMsg("dev server ready at %s", styles.Primary.Render(ev.URL)))

	case event.SessionHaltedEvent:
		p.println(styles.ErrorMsg("build halted: %s", ev.Reason))

	case event.ProtocolMismatchEvent:
		p.println(styles.WarnMsg("no artifact found in %d bytes of output; nothing to build", ev.Bytes))

	case event.SessionResetEvent:
		if p.verbose {
			p.println(styles.Muted.Render("runtime reset: " + ev.Reason))
		}
	}
}

// Write receives script output and prints it line by line.
func (p *printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, b...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		p.printOutput(string(p.pending[:i]))
		p.pending = p.pending[i+1:]
	}
	return len(b), nil
}

func (p *printer) flushOutput() {
	if len(p.pending) > 0 {
		p.printOutput(string(p.pending))
		p.pending = nil
	}
}

func (p *printer) printOutput(line string) {
	line = strings.TrimRight(line, "\r")
	p.println(styles.Output.String() + " " + line)
}

// Detached returns how many background servers were started.
func (p *printer) Detached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detached
}
