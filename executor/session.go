package executor

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/hostfunc"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSessionExited  = errors.New("interpreter exited")
	ErrSessionStarted = errors.New("session already started")
)

// packagesMount is where WithPackages exposes its directory.
const packagesMount = "/packages"

// Session is one long-lived interpreter instance. Commands are numbered;
// each Eval waits for the completion carrying its own number, so an
// abandoned command finishing late never resolves a newer one. The
// interpreter starts on the first Eval, after all mounts are known.
type Session struct {
	exec     *Executor
	lang     Language
	cfg      sessionConfig
	registry *hostfunc.Registry
	http     *hostfunc.HTTP
	packages *hostfunc.Packages
	log      *zap.SugaredLogger

	mu          sync.Mutex
	started     bool
	closed      bool
	startErr    error
	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	protocol    *sessionProtocol
	cancel      context.CancelFunc

	exited  chan struct{}
	exitErr error

	// sem holds one token while a command is inside the interpreter. It is
	// released when the command completes, not when its caller gives up.
	sem chan struct{}

	wmu     sync.Mutex
	seq     uint64
	waiters map[uint64]chan completion
	callCtx context.Context
}

func (e *Executor) NewSession(lang Language, opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		exec:     e,
		lang:     lang,
		cfg:      cfg,
		registry: e.registry.Merge(nil),
		log:      e.log.Named("session").With("language", lang.Name()),
		exited:   make(chan struct{}),
		sem:      make(chan struct{}, 1),
		waiters:  make(map[uint64]chan completion),
	}

	s.registry.Register("time_now", hostfunc.TimeNow)
	s.registry.Register("input", hostfunc.NewInput(cfg.input))

	s.http = hostfunc.NewHTTP(hostfunc.HTTPConfig{
		AllowedHosts:   cfg.allowedHosts,
		MaxBodySize:    cfg.httpMaxBodySize,
		RequestTimeout: cfg.httpTimeout,
	})
	s.registry.Register("http_request", s.http.Request)

	if cfg.packagesDir != "" {
		if err := os.MkdirAll(cfg.packagesDir, 0o755); err != nil {
			return nil, fmt.Errorf("create package dir: %w", err)
		}
		s.packages = hostfunc.NewPackages(hostfunc.PkgConfig{
			PackageDir: cfg.packagesDir,
			Fetcher:    cfg.fetcher,
		})
		s.registry.Register("install_pkg", s.packages.Call)
		s.cfg.mounts = append(s.cfg.mounts, mount{guest: packagesMount, host: cfg.packagesDir, readOnly: true})
		s.cfg.env["PYTHONPATH"] = packagesMount
	}

	return s, nil
}

// Mount exposes hostPath at guestPath. Mounts must be added before the
// first Eval.
func (s *Session) Mount(guestPath, hostPath string, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrSessionStarted
	}
	s.cfg.mounts = append(s.cfg.mounts, mount{guest: guestPath, host: hostPath, readOnly: readOnly})
	return nil
}

// Start launches the interpreter if it is not running yet.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return s.startErr
	}
	s.started = true
	s.startErr = s.launch(ctx)
	return s.startErr
}

func (s *Session) launch(ctx context.Context) error {
	compiled, err := s.exec.getCompiled(ctx, s.lang)
	if err != nil {
		return err
	}

	s.stdinReader, s.stdin = io.Pipe()
	s.protocol = newSessionProtocol(s.registry, s.stdin, s.cfg.stderr, s.callContext, s.complete, s.log)

	fsConfig := wazero.NewFSConfig()
	for _, m := range s.cfg.mounts {
		if m.readOnly {
			fsConfig = fsConfig.WithReadOnlyDirMount(m.host, m.guest)
		} else {
			fsConfig = fsConfig.WithDirMount(m.host, m.guest)
		}
	}

	stdout := s.cfg.stdout
	if stdout == nil {
		stdout = io.Discard
	}

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(stdout).
		WithStderr(s.protocol).
		WithStdin(s.stdinReader).
		WithArgs(s.lang.Args(s.lang.Prelude())...).
		WithFSConfig(fsConfig).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		WithName("")

	for _, k := range slices.Sorted(maps.Keys(s.cfg.env)) {
		moduleConfig = moduleConfig.WithEnv(k, s.cfg.env[k])
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		mod, err := s.exec.runtime.InstantiateModule(runCtx, compiled, moduleConfig)
		if mod != nil {
			mod.Close(context.Background())
		}
		s.exit(err)
	}()

	timer := time.NewTimer(s.cfg.startTimeout)
	defer timer.Stop()

	select {
	case <-s.protocol.Ready():
		s.log.Debugw("session started", "mounts", len(s.cfg.mounts))
		return nil
	case <-s.exited:
		return fmt.Errorf("start session: %w", s.exitErr)
	case <-timer.C:
		cancel()
		return errors.New("session start timeout")
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// exit records why the module stopped and fails every waiting command.
func (s *Session) exit(err error) {
	if err == nil {
		err = ErrSessionExited
	} else {
		err = fmt.Errorf("%w: %w", ErrSessionExited, err)
	}
	s.exitErr = err
	close(s.exited)
	s.stdinReader.CloseWithError(ErrSessionExited)

	s.wmu.Lock()
	waiters := s.waiters
	s.waiters = make(map[uint64]chan completion)
	s.wmu.Unlock()
	for _, ch := range waiters {
		ch <- completion{err: err}
	}
	s.log.Debugw("session exited", "error", err)
}

type execCommand struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
	Code string `json:"code,omitempty"`
}

// Eval runs code and returns the JSON encoding of its trailing expression.
// If ctx ends first Eval returns ctx.Err(); the command keeps running and
// later commands wait for it to finish.
func (s *Session) Eval(ctx context.Context, code string) (json.RawMessage, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.exited:
		return nil, s.exitErr
	}

	ch := make(chan completion, 1)
	s.wmu.Lock()
	s.seq++
	seq := s.seq
	s.waiters[seq] = ch
	s.callCtx = ctx
	s.wmu.Unlock()

	cmd, _ := json.Marshal(execCommand{Type: "exec", Seq: seq, Code: code})
	if err := s.protocol.send(cmd); err != nil {
		s.complete(seq, completion{})
		return nil, fmt.Errorf("write command: %w", err)
	}

	select {
	case c := <-ch:
		return c.value, c.err
	case <-ctx.Done():
		s.log.Debugw("abandoning command", "seq", seq, "error", ctx.Err())
		return nil, ctx.Err()
	case <-s.exited:
		return nil, s.exitErr
	}
}

// WaitIdle blocks until no command is inside the interpreter, including
// commands whose callers have given up.
func (s *Session) WaitIdle(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		<-s.sem
		return nil
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete resolves command seq and frees the interpreter for the next one.
func (s *Session) complete(seq uint64, c completion) {
	s.wmu.Lock()
	ch, ok := s.waiters[seq]
	delete(s.waiters, seq)
	s.wmu.Unlock()
	if !ok {
		s.log.Warnw("completion for unknown command", "seq", seq)
		return
	}
	ch <- c
	<-s.sem
}

// callContext is the context host calls run under: that of the command
// most recently sent.
func (s *Session) callContext() context.Context {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.callCtx == nil {
		return context.Background()
	}
	return s.callCtx
}

// Close stops the interpreter. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started, cancel, stdin := s.started, s.cancel, s.stdin
	s.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cancel != nil {
		cancel()
	}
	if started && cancel != nil {
		select {
		case <-s.exited:
		case <-time.After(5 * time.Second):
			return errors.New("session did not stop")
		}
	}
	return nil
}
