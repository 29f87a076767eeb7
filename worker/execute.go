package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/message"
	"github.com/caffeineduck/pyworker/preprocess"
	"github.com/caffeineduck/pyworker/translate"
)

// State is the lifecycle state of one execute request.
type State int

const (
	Pending State = iota
	Initializing
	Preprocessing
	Running
	Succeeded
	Failed
	TimedOut
)

var stateNames = [...]string{"pending", "initializing", "preprocessing", "running", "succeeded", "failed", "timed_out"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

func (s State) terminal() bool {
	return s >= Succeeded
}

// execution tracks one request. Only Execute moves it to a terminal
// state, so the first terminal state wins and a late outcome is dropped.
type execution struct {
	mu    sync.Mutex
	state State
}

func (e *execution) advance(to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.terminal() {
		return false
	}
	e.state = to
	return true
}

func (e *execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// outcome is what run produced: a terminal state and its response.
type outcome struct {
	state State
	resp  message.Response
}

// Execute runs one request to completion and returns its single response.
// When the timeout fires first, Execute returns a TimeoutError response
// immediately; the interpreter call is left running and its eventual
// outcome is dropped.
func (w *Worker) Execute(ctx context.Context, req *message.ExecuteRequest) message.Response {
	timeout := w.timeout
	if req.TimeoutMs > 0 {
		timeout = req.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := w.session.begin(req.Context)
	exec := &execution{}
	w.log.Debugw("execute request received", "id", req.ID.String(), "timeout", timeout, "packages", req.Packages)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("unhandled panic during execution: %v", r)
				w.postFatal(message.ErrorTypeUnhandledRejection, msg)
				done <- w.failure(req.ID, out, message.ErrorTypeUnhandledRejection, msg, nil, "")
			}
		}()
		done <- w.run(ctx, exec, req, out)
	}()

	select {
	case out := <-done:
		exec.advance(out.state)
		if out.state != TimedOut {
			return out.resp
		}
	case <-ctx.Done():
		exec.advance(TimedOut)
	}
	w.session.router.detach(out)

	w.log.Warnw("execution timed out", "id", req.ID.String(), "timeout", timeout)
	return message.Response{
		ID:        req.ID,
		Error:     "Code execution timeout (" + formatSeconds(timeout) + ")",
		ErrorType: message.ErrorTypeTimeout,
		Stdout:    out.stdout.String(),
		Stderr:    out.stderr.String(),
		Installed: w.session.Installed(),
	}
}

var timedOut = outcome{state: TimedOut}

func (w *Worker) run(ctx context.Context, exec *execution, req *message.ExecuteRequest, out *output) outcome {
	s := w.session

	// An earlier request that timed out may still be evaluating.
	if err := w.awaitIdle(ctx); err != nil || !s.router.attach(ctx, out) {
		return timedOut
	}

	exec.advance(Initializing)
	if err := w.ensureInitialized(ctx, req.Packages, req.ProxyConfig); err != nil {
		if ctx.Err() != nil {
			return timedOut
		}
		w.log.Errorw("interpreter initialization failed", "id", req.ID.String(), "error", err)
		return w.failure(req.ID, out, message.ErrorTypeInitialization,
			"Interpreter initialization failed: "+err.Error(),
			[]string{"Retry the request; initialization is attempted again from scratch"}, "")
	}

	if !exec.advance(Preprocessing) {
		return timedOut
	}
	neutralized := preprocess.Neutralize(req.Code)
	for _, warning := range preprocess.Lint(neutralized) {
		w.log.Warnw("lint warning", "id", req.ID.String(), "warning", warning.String())
	}
	if preprocess.IsBlank(neutralized) {
		return w.failure(req.ID, out, message.ErrorTypeValidation, "Empty code provided",
			[]string{"Provide Python code to execute"}, "")
	}
	code := preprocess.Wrap(neutralized)

	in := s.interpreter()
	if err := w.injectScope(ctx, in, req.Context); err != nil {
		if ctx.Err() != nil {
			return timedOut
		}
		c := translate.Classify(err)
		return w.failure(req.ID, out, c.ErrorType, c.Message, c.Suggestions, err.Error())
	}

	if !exec.advance(Running) {
		return timedOut
	}
	start := time.Now()
	raw, err := in.EvaluateAsync(ctx, code)
	elapsed := time.Since(start)
	if ctx.Err() != nil || exec.State().terminal() {
		return timedOut
	}
	if err != nil {
		c := translate.Classify(err)
		w.log.Infow("execution failed", "id", req.ID.String(), "errorType", c.ErrorType, "elapsed", elapsed)
		return w.failure(req.ID, out, c.ErrorType, c.Message, c.Suggestions, err.Error())
	}

	s.setLastResult(raw)
	w.log.Infow("execution succeeded", "id", req.ID.String(), "elapsed", elapsed)
	return outcome{state: Succeeded, resp: message.Response{
		ID:          req.ID,
		Success:     true,
		Result:      translate.Value(raw),
		ExecutionMs: float64(elapsed.Microseconds()) / 1e3,
		Stdout:      out.stdout.String(),
		Stderr:      out.stderr.String(),
		Installed:   s.Installed(),
	}}
}

// awaitIdle waits until the interpreter has no evaluation in progress.
func (w *Worker) awaitIdle(ctx context.Context) error {
	idler, ok := w.session.interpreter().(interp.Idler)
	if !ok {
		return nil
	}
	return idler.WaitIdle(ctx)
}

// failure builds a failed outcome. stderrFallback is reported when the
// interpreter wrote nothing to stderr.
func (w *Worker) failure(id message.ID, out *output, errorType, msg string, suggestions []string, stderrFallback string) outcome {
	stderr := out.stderr.String()
	if stderr == "" {
		stderr = stderrFallback
	}
	return outcome{state: Failed, resp: message.Response{
		ID:          id,
		Error:       msg,
		ErrorType:   errorType,
		Suggestions: suggestions,
		Stdout:      out.stdout.String(),
		Stderr:      stderr,
		Installed:   w.session.Installed(),
	}}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
