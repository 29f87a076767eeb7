package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/message"
	"github.com/caffeineduck/pyworker/worker"
)

var errExecutionFailed = errors.New("execution failed")

// inputFunc answers an input request typed at the terminal. ok is false
// when no more input is available.
type inputFunc func(prompt string) (value string, ok bool)

// localSession drives an in-process worker for the run and repl commands.
type localSession struct {
	wk     *worker.Worker
	resps  chan message.Response
	input  inputFunc
	errOut io.Writer
	seq    atomic.Int64
}

func newLocalSession(a *app, factory interp.Factory, errOut io.Writer, input inputFunc) (*localSession, error) {
	s := &localSession{
		resps:  make(chan message.Response, 1),
		input:  input,
		errOut: errOut,
	}
	opts := append([]worker.Option{worker.WithLogger(a.log)}, a.workerOptions()...)
	wk, err := worker.New(factory, worker.PostFunc(s.post), opts...)
	if err != nil {
		return nil, err
	}
	s.wk = wk
	return s, nil
}

func (s *localSession) post(v any) error {
	switch m := v.(type) {
	case message.Response:
		s.resps <- m
	case message.InputRequest:
		go s.answer(m.Prompt)
	case message.FatalError:
		fmt.Fprintf(s.errOut, "worker error: %s\n", m.Error)
	default:
		return fmt.Errorf("unexpected message %T", v)
	}
	return nil
}

func (s *localSession) answer(prompt string) {
	value, ok := "", false
	if s.input != nil {
		value, ok = s.input(prompt)
	}
	if !ok {
		fmt.Fprintln(s.errOut, "\n(no input available, sending an empty line)")
	}
	data, _ := json.Marshal(message.InputReply{Type: message.TypeInputReply, Value: value})
	s.wk.Handle(context.Background(), data)
}

// execute sends req and waits for its response.
func (s *localSession) execute(ctx context.Context, req message.ExecuteRequest) (message.Response, error) {
	req.Type = message.TypeExecute
	req.ID = message.IntID(s.seq.Add(1))
	data, err := json.Marshal(req)
	if err != nil {
		return message.Response{}, err
	}
	s.wk.Handle(ctx, data)

	select {
	case resp := <-s.resps:
		return resp, nil
	case <-ctx.Done():
		return message.Response{}, ctx.Err()
	}
}

func (s *localSession) close() error {
	return s.wk.Close()
}

// printResponse writes captured output followed by the result or error.
func printResponse(out, errOut io.Writer, resp message.Response) {
	io.WriteString(out, resp.Stdout)
	io.WriteString(errOut, resp.Stderr)
	if resp.Stderr != "" && !strings.HasSuffix(resp.Stderr, "\n") {
		io.WriteString(errOut, "\n")
	}

	if !resp.Success {
		fmt.Fprintf(errOut, "%s: %s\n", resp.ErrorType, resp.Error)
		return
	}
	if resp.Result == nil {
		return
	}
	switch v := resp.Result.(type) {
	case string:
		fmt.Fprintln(out, v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(out, "%v\n", v)
			return
		}
		fmt.Fprintln(out, string(data))
	}
}
