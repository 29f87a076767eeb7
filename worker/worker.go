// Package worker drives a persistent Python interpreter on behalf of a
// host. A Worker owns one interpreter session, accepts execute requests
// and input replies, and answers each request with exactly one response.
package worker

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/bridge"
	"github.com/caffeineduck/pyworker/installer"
	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/message"
)

var ErrNoFactory = errors.New("worker: interpreter factory required")

// Poster delivers worker messages to the host. Messages are
// message.Response, message.InputRequest and message.FatalError values.
type Poster interface {
	Post(v any) error
}

// PostFunc adapts a function to Poster.
type PostFunc func(v any) error

func (f PostFunc) Post(v any) error { return f(v) }

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// WithDefaultTimeout sets the timeout for requests that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithMountPath sets the interpreter path of the working directory.
func WithMountPath(path string) Option {
	return func(w *Worker) {
		w.mountPath = path
	}
}

// WithID overrides the generated worker id.
func WithID(id string) Option {
	return func(w *Worker) {
		w.id = id
	}
}

type Worker struct {
	id        string
	factory   interp.Factory
	poster    Poster
	log       *zap.SugaredLogger
	timeout   time.Duration
	mountPath string

	session   *Session
	bridge    *bridge.Bridge
	installer *installer.Installer

	initSem chan struct{}
	loop    loopState
}

// New returns a worker that builds its interpreter with factory and sends
// messages through poster.
func New(factory interp.Factory, poster Poster, opts ...Option) (*Worker, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}
	w := &Worker{
		id:        uuid.NewString(),
		factory:   factory,
		poster:    poster,
		log:       zap.NewNop().Sugar(),
		timeout:   message.DefaultTimeout,
		mountPath: "/mnt",
		session:   newSession(),
		initSem:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = zap.NewNop().Sugar()
	}
	w.log = w.log.With("worker", w.id)
	w.bridge = bridge.New(w.postInputRequest, w.log.Named("bridge"))
	w.installer = installer.New(w.log.Named("installer"))
	return w, nil
}

func (w *Worker) ID() string { return w.id }

// Session exposes the worker's session state.
func (w *Worker) Session() *Session { return w.session }

// Bridge exposes the worker's input bridge.
func (w *Worker) Bridge() *bridge.Bridge { return w.bridge }

// Close waits for in-flight executions to be answered, then closes the
// interpreter.
func (w *Worker) Close() error {
	w.loop.wg.Wait()
	return w.session.close()
}

func (w *Worker) post(v any) {
	if w.poster == nil {
		return
	}
	if err := w.poster.Post(v); err != nil {
		w.log.Errorw("post message failed", "error", err)
	}
}

func (w *Worker) postInputRequest(req message.InputRequest) error {
	if w.poster == nil {
		return errors.New("no host connected")
	}
	return w.poster.Post(req)
}

func (w *Worker) postFatal(errorType, msg string) {
	w.log.Errorw("worker fault", "errorType", errorType, "error", msg)
	w.post(message.FatalError{
		Error:       msg,
		ErrorType:   errorType,
		Suggestions: []string{"Restart the worker if the problem persists"},
	})
}
