// Package bridge satisfies blocking input() calls made by interpreter code
// with values delivered asynchronously by the host.
package bridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/message"
)

//go:embed input_shim.py
var shim string

var ErrInputPending = errors.New("input request already pending")

// State is the bridge's request state.
type State int

const (
	Idle State = iota
	Waiting
)

func (s State) String() string {
	if s == Waiting {
		return "waiting"
	}
	return "idle"
}

// PostFunc delivers an input request to the host.
type PostFunc func(message.InputRequest) error

// Bridge is a single-consumer FIFO mailbox between the host and the
// interpreter. Values delivered while no request is outstanding are kept
// for the next request.
type Bridge struct {
	post PostFunc
	log  *zap.SugaredLogger

	mu    sync.Mutex
	state State
	queue []string
	wake  chan struct{}
}

// New returns an idle bridge that posts requests with post.
func New(post PostFunc, log *zap.SugaredLogger) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bridge{
		post: post,
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Request returns the next delivered value. A retained value is returned
// immediately without posting; otherwise an input request is posted and
// Request blocks until Deliver or ctx is done.
func (b *Bridge) Request(ctx context.Context, prompt string) (string, error) {
	b.mu.Lock()
	if v, ok := b.popLocked(); ok {
		b.mu.Unlock()
		return v, nil
	}
	if b.state == Waiting {
		b.mu.Unlock()
		return "", ErrInputPending
	}
	b.state = Waiting
	b.mu.Unlock()

	b.log.Debugw("input requested", "prompt", prompt)
	if b.post != nil {
		if err := b.post(message.NewInputRequest(prompt)); err != nil {
			b.setIdle()
			return "", fmt.Errorf("post input request: %w", err)
		}
	}

	for {
		select {
		case <-b.wake:
			b.mu.Lock()
			v, ok := b.popLocked()
			if ok {
				b.state = Idle
			}
			b.mu.Unlock()
			if ok {
				return v, nil
			}
		case <-ctx.Done():
			b.setIdle()
			return "", ctx.Err()
		}
	}
}

// Deliver enqueues a value for the waiting or the next requester.
func (b *Bridge) Deliver(value string) {
	b.mu.Lock()
	b.queue = append(b.queue, value)
	waiting := b.state == Waiting
	b.mu.Unlock()

	if !waiting {
		b.log.Debugw("input retained", "queued", b.Pending())
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// State returns the current request state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pending returns the number of retained values.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Input returns the bridge as an interpreter input function.
func (b *Bridge) Input() interp.InputFunc {
	return b.Request
}

// Install overrides the interpreter's input builtins so they call back into
// the host.
func (b *Bridge) Install(ctx context.Context, in interp.Interpreter) error {
	if _, err := in.EvaluateAsync(ctx, shim); err != nil {
		return fmt.Errorf("install input bridge: %w", err)
	}
	return nil
}

func (b *Bridge) popLocked() (string, bool) {
	if len(b.queue) == 0 {
		return "", false
	}
	v := b.queue[0]
	b.queue = b.queue[1:]
	return v, true
}

func (b *Bridge) setIdle() {
	b.mu.Lock()
	b.state = Idle
	b.mu.Unlock()
}
