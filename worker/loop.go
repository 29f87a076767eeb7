package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/caffeineduck/pyworker/message"
)

var ErrBusy = errors.New("worker busy: another execution is in progress")

type loopState struct {
	busy atomic.Bool
	wg   sync.WaitGroup
}

// Busy reports whether an execution is in flight.
func (w *Worker) Busy() bool {
	return w.loop.busy.Load()
}

// Handle dispatches one raw host message. Execute requests run on their
// own goroutine so input replies can still be handled while code runs; a
// second execute while one is in flight is answered with BusyError.
func (w *Worker) Handle(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			w.postFatal(message.ErrorTypeWorker, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	msg, err := message.Decode(data)
	var invalid *message.InvalidRequestError
	if errors.As(err, &invalid) && len(invalid.ID) > 0 {
		w.log.Warnw("rejecting invalid execute request", "id", invalid.ID.String(), "error", invalid.Err)
		w.post(message.Response{
			ID:          invalid.ID,
			Error:       "Invalid request: " + invalid.Err.Error(),
			ErrorType:   message.ErrorTypeValidation,
			Suggestions: []string{"Check the field types of the execute request"},
			Installed:   w.session.Installed(),
		})
		return
	}
	if err != nil {
		w.log.Warnw("dropping message", "error", err)
		return
	}

	switch m := msg.(type) {
	case *message.InputReply:
		w.bridge.Deliver(m.Value)
	case *message.ExecuteRequest:
		w.dispatch(ctx, m)
	}
}

func (w *Worker) dispatch(ctx context.Context, req *message.ExecuteRequest) {
	if !w.loop.busy.CompareAndSwap(false, true) {
		w.log.Warnw("rejecting execute while busy", "id", req.ID.String())
		w.post(message.Response{
			ID:          req.ID,
			Error:       ErrBusy.Error(),
			ErrorType:   message.ErrorTypeBusy,
			Suggestions: []string{"Wait for the current execution to finish before sending another"},
			Installed:   w.session.Installed(),
		})
		return
	}

	w.loop.wg.Add(1)
	go func() {
		defer w.loop.wg.Done()
		resp := w.executeRecovered(ctx, req)
		w.loop.busy.Store(false)
		w.post(resp)
	}()
}

// executeRecovered runs Execute, turning a panic into a fatal message and
// a failed response.
func (w *Worker) executeRecovered(ctx context.Context, req *message.ExecuteRequest) (resp message.Response) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unhandled panic: %v", r)
			w.postFatal(message.ErrorTypeUnhandledRejection, msg)
			resp = w.failure(req.ID, w.session.lastOutput(), message.ErrorTypeUnhandledRejection, msg, nil, "").resp
		}
	}()
	return w.Execute(ctx, req)
}

// Serve handles messages from in until it is closed or ctx is done, then
// waits for in-flight executions to be answered.
func (w *Worker) Serve(ctx context.Context, in <-chan []byte) error {
	defer w.loop.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-in:
			if !ok {
				return nil
			}
			w.Handle(ctx, data)
		}
	}
}
