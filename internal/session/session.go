// Package session owns one streaming build: it accumulates text chunks,
// re-parses the buffer, reconciles the step list and drives execution.
//
// All mutation happens on a single loop goroutine. Callers interact
// through Feed, CloseStream and AttachRuntime, and read consistent
// snapshots through Steps, Files and ServerURL.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zapbuilder/zapbuild/internal/artifact"
	"github.com/zapbuilder/zapbuild/internal/driver"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/event"
	"github.com/zapbuilder/zapbuild/internal/filetree"
	"github.com/zapbuilder/zapbuild/internal/logging"
	"github.com/zapbuilder/zapbuild/internal/runtime"
	"github.com/zapbuilder/zapbuild/internal/step"
)

// State is the lifecycle state of a session.
type State string

const (
	Streaming State = "streaming"
	Finished  State = "finished"
	Aborted   State = "aborted"
)

// Options configures a session.
type Options struct {
	// ID defaults to a random UUID.
	ID string
	// Throttle coalesces chunks arriving within the window into one parse
	// pass. Zero parses on every chunk.
	Throttle time.Duration
	Driver   driver.Config
	// DriverOptions are passed to driver.New after the session's own.
	DriverOptions []driver.Option
	Bus           *event.Bus
	Logger        *logging.Logger
}

type anomalyKey struct {
	kind   artifact.AnomalyKind
	offset int
}

// Session is one build session.
type Session struct {
	id       string
	throttle time.Duration
	bus      *event.Bus
	logger   *logging.Logger
	drv      *driver.Driver

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	chunks     chan string
	attach     chan runtime.Adapter
	end        chan struct{}
	endOnce    sync.Once
	closed     atomic.Bool
	attachOnce sync.Once
	stopOnce   sync.Once
	abortOnce  sync.Once

	// Owned by the loop goroutine.
	buffer strings.Builder
	steps  []*step.BuildStep
	seen   map[anomalyKey]bool

	mu        sync.Mutex
	snapshot  []*step.BuildStep
	files     []filetree.FileItem
	anomalies []artifact.Anomaly
	found     bool
	state     State
	serverURL string
	rt        runtime.Adapter
	err       error
}

// New creates a session and starts its loop.
func New(opts Options) (*Session, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus(logger)
	}

	driverOpts := append([]driver.Option{driver.WithBus(bus), driver.WithLogger(logger)}, opts.DriverOptions...)
	drv, err := driver.New(id, opts.Driver, driverOpts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		throttle: opts.Throttle,
		bus:      bus,
		logger:   logger.WithSession(id).WithComponent("session"),
		drv:      drv,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		chunks:   make(chan string, 64),
		attach:   make(chan runtime.Adapter, 1),
		end:      make(chan struct{}),
		seen:     make(map[anomalyKey]bool),
		state:    Streaming,
	}
	go s.loop()
	s.logger.Info("session started", "throttle", s.throttle)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Bus returns the bus the session publishes to.
func (s *Session) Bus() *event.Bus {
	return s.bus
}

// Feed appends a chunk of model output. It blocks while the loop is busy
// and fails once the stream is closed or the session is over.
func (s *Session) Feed(ctx context.Context, chunk string) error {
	if s.closed.Load() {
		return errors.NewSessionError("feed rejected", errors.ErrStreamClosed).WithSessionID(s.id)
	}
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.done:
		return errors.NewSessionError("feed rejected", errors.ErrSessionAborted).WithSessionID(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseStream marks the end of model output. Chunks already fed are
// parsed before the session acts on the end of the stream.
func (s *Session) CloseStream() {
	s.endOnce.Do(func() {
		s.closed.Store(true)
		close(s.end)
	})
}

// AttachRuntime hands the runtime to the driver. Steps that arrived
// earlier run once it is attached. Only the first call has an effect.
func (s *Session) AttachRuntime(rt runtime.Adapter) {
	s.attachOnce.Do(func() {
		rt.OnServerReady(func(port int, url string) {
			if s.ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.serverURL = url
			s.mu.Unlock()
			s.logger.Info("server ready", "port", port, "url", url)
			s.bus.Publish(event.NewServerReadyEvent(s.id, port, url))
		})
		s.attach <- rt
	})
}

// Wait blocks until the session finishes or ctx is done. It returns the
// failure that halted execution, if any.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Aborted {
		return errors.NewSessionError("session aborted", errors.ErrSessionAborted).WithSessionID(s.id)
	}
	return s.err
}

// Done is closed when the loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Abort stops the session and resets the runtime so that nothing from
// this session leaks into the next one. It is safe to call after the
// session finished and more than once.
func (s *Session) Abort(ctx context.Context, reason string) error {
	var err error
	s.abortOnce.Do(func() {
		s.Stop()

		s.mu.Lock()
		rt := s.rt
		s.mu.Unlock()

		if rt != nil {
			if rerr := rt.Reset(ctx); rerr != nil {
				err = errors.NewSessionError("reset runtime", rerr).WithSessionID(s.id)
			}
		}
		s.logger.Info("session aborted", "reason", reason)
		s.bus.Publish(event.NewSessionResetEvent(s.id, reason))
	})
	return err
}

// Stop ends the session and kills its scripts and detached servers but
// leaves the runtime's files alone. A session stopped while streaming is
// aborted.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.CloseStream()
		s.cancel()
		<-s.done
		s.drv.Stop()

		s.mu.Lock()
		if s.state == Streaming {
			s.state = Aborted
		}
		s.mu.Unlock()
	})
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Steps returns a copy of the current step list.
func (s *Session) Steps() []*step.BuildStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return step.CloneAll(s.snapshot)
}

// Step returns a copy of the step with the given ID.
func (s *Session) Step(id string) (*step.BuildStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.snapshot {
		if st.ID == id {
			return st.Clone(), nil
		}
	}
	return nil, errors.NewNotFoundError("step", id).WithCause(errors.ErrStepNotFound)
}

// Files returns the flat project listing derived from the steps.
func (s *Session) Files() []filetree.FileItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]filetree.FileItem(nil), s.files...)
}

// Anomalies returns the parse anomalies seen so far, once each.
func (s *Session) Anomalies() []artifact.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Anomaly(nil), s.anomalies...)
}

// Found reports whether an artifact tag has been seen.
func (s *Session) Found() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.found
}

// ServerURL returns the dev-server URL once the runtime reported one.
func (s *Session) ServerURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverURL
}

// Err returns the failure that halted execution.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) loop() {
	defer close(s.done)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		dirty   bool
		ended   bool
		end     = s.end
		attach  = s.attach
		exits   = s.drv.Exits()
		advance = func() {
			if err := s.drv.Advance(s.ctx, s.steps); err != nil {
				s.logger.Warn("execution halted", "error", err)
			}
			s.publishSnapshot()
		}
	)

	for {
		select {
		case <-s.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case chunk := <-s.chunks:
			s.buffer.WriteString(chunk)
			dirty = true
			if s.throttle <= 0 {
				s.process()
				dirty = false
			} else if timer == nil {
				timer = time.NewTimer(s.throttle)
				timerC = timer.C
			}

		case <-timerC:
			timer, timerC = nil, nil
			if dirty {
				s.process()
				dirty = false
			}

		case <-end:
			end = nil
			ended = true
			// Chunks fed before CloseStream are still queued.
			for drained := false; !drained; {
				select {
				case chunk := <-s.chunks:
					s.buffer.WriteString(chunk)
					dirty = true
				default:
					drained = true
				}
			}
			if timer != nil {
				timer.Stop()
				timer, timerC = nil, nil
			}
			if dirty {
				s.process()
				dirty = false
			} else {
				advance()
			}

		case rt := <-attach:
			attach = nil
			s.mu.Lock()
			s.rt = rt
			s.mu.Unlock()
			s.drv.Attach(rt)
			s.logger.Info("runtime attached")
			advance()

		case ex := <-exits:
			if err := s.drv.HandleExit(ex); err != nil {
				s.logger.Warn("script failed", "step_id", ex.StepID, "error", err)
			}
			advance()
		}

		if ended && s.finished() {
			s.finish()
			return
		}
	}
}

// process re-parses the whole buffer, reconciles and advances the driver.
func (s *Session) process() {
	res := artifact.Parse(s.buffer.String())

	var changes []step.Change
	s.steps, changes = step.Reconcile(s.steps, res.Steps)
	for _, c := range changes {
		switch c.Kind {
		case step.Added:
			s.bus.Publish(event.NewStepAddedEvent(s.id, c.Step.ID, string(c.Step.Type), c.Step.Title, c.Step.Path))
		case step.ContentUpdated:
			s.bus.Publish(event.NewStepUpdatedEvent(s.id, c.Step.ID, len(c.Step.Code)))
		case step.Closed:
			s.bus.Publish(event.NewStepStatusEvent(s.id, c.Step.ID, string(c.Before), string(c.Step.Status()), ""))
		}
	}

	var fresh []artifact.Anomaly
	for _, a := range res.Anomalies {
		k := anomalyKey{a.Kind, a.Offset}
		if s.seen[k] {
			continue
		}
		s.seen[k] = true
		fresh = append(fresh, a)
		s.logger.Warn("parse anomaly", "kind", string(a.Kind), "offset", a.Offset, "detail", a.Detail)
	}

	s.logger.Debug("parse pass", "bytes", s.buffer.Len(), "steps", len(s.steps), "changes", len(changes))

	if err := s.drv.Advance(s.ctx, s.steps); err != nil {
		s.logger.Warn("execution halted", "error", err)
	}

	s.mu.Lock()
	s.found = res.Found
	s.anomalies = append(s.anomalies, fresh...)
	s.mu.Unlock()
	s.publishSnapshot()
}

func (s *Session) publishSnapshot() {
	snapshot := step.CloneAll(s.steps)
	files := filetree.FromSteps(s.steps)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.files = files
	if s.drv.Halted() {
		s.err = s.drv.Err()
	}
}

// finished reports whether nothing more can happen once the stream ended:
// no script is running and either the runtime is attached, the driver
// halted, or there is nothing to execute.
func (s *Session) finished() bool {
	if s.drv.Running() {
		return false
	}
	if s.drv.Attached() || s.drv.Halted() {
		return true
	}
	for _, st := range s.steps {
		if st.ShouldExecute {
			return false
		}
	}
	return true
}

// finish publishes the outcome. A stream without any artifact is reported
// as a protocol mismatch event; it does not fail the session.
func (s *Session) finish() {
	s.mu.Lock()
	s.state = Finished
	found := s.found
	failed := s.err != nil
	s.mu.Unlock()

	if !found {
		s.logger.Warn("no artifact in model output", "bytes", s.buffer.Len())
		s.bus.Publish(event.NewProtocolMismatchEvent(s.id, s.buffer.Len()))
	}

	s.logger.Info("session finished", "steps", len(s.steps), "failed", failed)
	s.bus.Publish(event.NewSessionFinishedEvent(s.id, len(s.steps), failed))
}
