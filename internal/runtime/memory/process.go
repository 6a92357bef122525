package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// killedExitCode mirrors a shell reporting SIGKILL.
const killedExitCode = 137

type process struct {
	out    *buffer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	code   int
	killed bool
}

func newProcess() *process {
	ctx, cancel := context.WithCancel(context.Background())
	return &process{
		out:    newBuffer(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (p *process) run(h Handler, env Env) {
	code := 0
	if h != nil {
		code = h(p.ctx, env)
	}
	p.mu.Lock()
	if p.killed {
		code = killedExitCode
	}
	p.code = code
	p.mu.Unlock()
	close(p.done)
	p.out.Close()
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
	p.mu.Lock()
	select {
	case <-p.done:
	default:
		p.killed = true
	}
	p.mu.Unlock()
	p.cancel()
	return nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// buffer is an unbounded pipe: writes never block, reads block until data
// arrives or the buffer is closed.
type buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   bytes.Buffer
	closed bool
}

func newBuffer() *buffer {
	b := &buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := b.data.Write(p)
	b.cond.Broadcast()
	return n, nil
}

func (b *buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.data.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.data.Len() == 0 {
		return 0, io.EOF
	}
	return b.data.Read(p)
}

func (b *buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
