package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/hostfunc"
	"github.com/caffeineduck/pyworker/interp"
)

// The interpreter talks to the host through NUL-delimited frames on
// stderr; everything outside a frame is ordinary stderr output.
//
//	\x00GORU:{"fn":...,"args":...}\x00    host function call, answered on stdin
//	\x00GORU_READY\x00                     command loop is listening
//	\x00GORU_RESULT:<seq>:<json>\x00       command <seq> returned <json>
//	\x00GORU_ERROR:<seq>:<json>\x00        command <seq> raised
const (
	frameMarker  = "GORU"
	callPrefix   = "GORU:"
	readyFrame   = "GORU_READY"
	resultPrefix = "GORU_RESULT:"
	errorPrefix  = "GORU_ERROR:"
)

type frameKind int

const (
	frameUnknown frameKind = iota
	frameCall
	frameReady
	frameResult
	frameError
)

type frame struct {
	kind    frameKind
	seq     uint64
	payload string
}

// parseFrame decodes the text between a frame's NUL delimiters.
func parseFrame(s string) (frame, error) {
	switch {
	case s == readyFrame:
		return frame{kind: frameReady}, nil
	case strings.HasPrefix(s, callPrefix):
		return frame{kind: frameCall, payload: s[len(callPrefix):]}, nil
	case strings.HasPrefix(s, resultPrefix):
		return parseSeqFrame(frameResult, s[len(resultPrefix):])
	case strings.HasPrefix(s, errorPrefix):
		return parseSeqFrame(frameError, s[len(errorPrefix):])
	}
	return frame{}, fmt.Errorf("unknown frame %q", s)
}

func parseSeqFrame(kind frameKind, s string) (frame, error) {
	num, payload, ok := strings.Cut(s, ":")
	if !ok {
		return frame{}, errors.New("frame missing sequence number")
	}
	seq, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return frame{}, fmt.Errorf("bad sequence number %q", num)
	}
	return frame{kind: kind, seq: seq, payload: payload}, nil
}

type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// pyError is the payload of an error frame.
type pyError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// completion is the outcome of one sequenced command.
type completion struct {
	value json.RawMessage
	err   error
}

// sessionProtocol is the interpreter's stderr. It forwards plain output,
// answers host calls and reports command completions.
type sessionProtocol struct {
	registry *hostfunc.Registry
	stdin    io.Writer
	stderr   io.Writer
	callCtx  func() context.Context
	complete func(seq uint64, c completion)
	log      *zap.SugaredLogger

	mu  sync.Mutex
	buf bytes.Buffer

	readyOnce sync.Once
	readyCh   chan struct{}

	writeMu sync.Mutex
}

func newSessionProtocol(registry *hostfunc.Registry, stdin, stderr io.Writer, callCtx func() context.Context, complete func(uint64, completion), log *zap.SugaredLogger) *sessionProtocol {
	if stderr == nil {
		stderr = io.Discard
	}
	return &sessionProtocol{
		registry: registry,
		stdin:    stdin,
		stderr:   stderr,
		callCtx:  callCtx,
		complete: complete,
		log:      log,
		readyCh:  make(chan struct{}),
	}
}

func (p *sessionProtocol) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for {
		content := p.buf.String()
		start := strings.IndexByte(content, 0)
		if start == -1 {
			p.passthrough(content)
			p.buf.Reset()
			break
		}
		p.passthrough(content[:start])
		rest := content[start:]

		end := strings.IndexByte(rest[1:], 0)
		if end == -1 {
			p.buf.Reset()
			if maybeFrame(rest[1:]) {
				p.buf.WriteString(rest)
			} else {
				p.passthrough(rest)
			}
			break
		}

		body := rest[1 : end+1]
		p.buf.Reset()
		if !strings.HasPrefix(body, frameMarker) {
			p.passthrough(rest[:end+1])
			p.buf.WriteString(rest[end+1:])
			continue
		}
		p.buf.WriteString(rest[end+2:])
		p.dispatch(body)
	}

	return len(data), nil
}

// maybeFrame reports whether an unterminated chunk could still become a
// frame once more bytes arrive.
func maybeFrame(s string) bool {
	if len(s) < len(frameMarker) {
		return strings.HasPrefix(frameMarker, s)
	}
	return strings.HasPrefix(s, frameMarker)
}

func (p *sessionProtocol) passthrough(s string) {
	if s == "" {
		return
	}
	if _, err := io.WriteString(p.stderr, s); err != nil {
		p.log.Warnw("forward stderr", "error", err)
	}
}

func (p *sessionProtocol) dispatch(body string) {
	f, err := parseFrame(body)
	if err != nil {
		p.log.Warnw("dropping frame", "error", err)
		return
	}

	switch f.kind {
	case frameReady:
		p.readyOnce.Do(func() { close(p.readyCh) })
	case frameCall:
		var req callRequest
		if err := json.Unmarshal([]byte(f.payload), &req); err != nil {
			go p.respond(callResponse{Error: "invalid call format"})
			return
		}
		// Calls such as input() block; Write must return so the
		// interpreter can go on to read the answer.
		ctx := p.callCtx()
		go p.respond(p.executeCall(ctx, req))
	case frameResult:
		p.complete(f.seq, completion{value: json.RawMessage(f.payload)})
	case frameError:
		var pe pyError
		if err := json.Unmarshal([]byte(f.payload), &pe); err != nil {
			p.complete(f.seq, completion{err: fmt.Errorf("decode error frame: %w", err)})
			return
		}
		p.complete(f.seq, completion{err: &interp.Error{
			TypeName:  pe.Type,
			Message:   pe.Message,
			Traceback: pe.Traceback,
		}})
	}
}

func (p *sessionProtocol) executeCall(ctx context.Context, req callRequest) callResponse {
	fn, ok := p.registry.Get(req.Fn)
	if !ok {
		return callResponse{Error: "unknown function: " + req.Fn}
	}

	result, err := fn(ctx, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

func (p *sessionProtocol) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}
	if err := p.send(data); err != nil {
		p.log.Warnw("answer host call", "error", err)
	}
}

// send writes one line to the interpreter's stdin.
func (p *sessionProtocol) send(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.stdin.Write(append(line, '\n'))
	return err
}

func (p *sessionProtocol) Ready() <-chan struct{} {
	return p.readyCh
}
