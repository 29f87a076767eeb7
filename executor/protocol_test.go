package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/caffeineduck/pyworker/hostfunc"
	"github.com/caffeineduck/pyworker/interp"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    frame
		wantErr bool
	}{
		{"ready", "GORU_READY", frame{kind: frameReady}, false},
		{"call", `GORU:{"fn":"time_now"}`, frame{kind: frameCall, payload: `{"fn":"time_now"}`}, false},
		{"result", "GORU_RESULT:7:[1,2]", frame{kind: frameResult, seq: 7, payload: "[1,2]"}, false},
		{"result with colon in payload", `GORU_RESULT:2:"a:b"`, frame{kind: frameResult, seq: 2, payload: `"a:b"`}, false},
		{"error", `GORU_ERROR:3:{"type":"KeyError"}`, frame{kind: frameError, seq: 3, payload: `{"type":"KeyError"}`}, false},
		{"missing seq", "GORU_RESULT:null", frame{}, true},
		{"bad seq", "GORU_ERROR:x:{}", frame{}, true},
		{"unknown", "GORU_FLUSH:1", frame{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFrame(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("frame = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMaybeFrame(t *testing.T) {
	tests := []struct {
		chunk string
		want  bool
	}{
		{"", true},
		{"GO", true},
		{"GORU_RES", true},
		{"GX", false},
		{"hello", false},
	}
	for _, tt := range tests {
		if got := maybeFrame(tt.chunk); got != tt.want {
			t.Errorf("maybeFrame(%q) = %v, want %v", tt.chunk, got, tt.want)
		}
	}
}

// lineWriter collects lines written to the interpreter's stdin.
type lineWriter struct {
	lines chan string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.lines <- strings.TrimSuffix(string(p), "\n")
	return len(p), nil
}

type protocolHarness struct {
	p      *sessionProtocol
	stdin  *lineWriter
	stderr *bytes.Buffer

	mu          sync.Mutex
	completions map[uint64]completion
	ctx         context.Context
}

func newProtocolHarness(t *testing.T, registry *hostfunc.Registry) *protocolHarness {
	h := &protocolHarness{
		stdin:       &lineWriter{lines: make(chan string, 8)},
		stderr:      &bytes.Buffer{},
		completions: make(map[uint64]completion),
		ctx:         context.Background(),
	}
	h.p = newSessionProtocol(registry, h.stdin, h.stderr,
		func() context.Context { return h.ctx },
		func(seq uint64, c completion) {
			h.mu.Lock()
			h.completions[seq] = c
			h.mu.Unlock()
		},
		zaptest.NewLogger(t).Sugar())
	return h
}

func (h *protocolHarness) completion(seq uint64) (completion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.completions[seq]
	return c, ok
}

func (h *protocolHarness) reply(t *testing.T) callResponse {
	t.Helper()
	select {
	case line := <-h.stdin.lines:
		var resp callResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response %q: %v", line, err)
		}
		return resp
	case <-time.After(time.Second):
		t.Fatal("no response written")
		return callResponse{}
	}
}

func TestProtocolPassesPlainStderr(t *testing.T) {
	h := newProtocolHarness(t, hostfunc.NewRegistry())
	h.p.Write([]byte("warning: "))
	h.p.Write([]byte("something\n"))
	if got := h.stderr.String(); got != "warning: something\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestProtocolReadySplitAcrossWrites(t *testing.T) {
	h := newProtocolHarness(t, hostfunc.NewRegistry())
	h.p.Write([]byte("boot\x00GO"))
	select {
	case <-h.p.Ready():
		t.Fatal("ready before frame complete")
	default:
	}
	h.p.Write([]byte("RU_READY\x00tail"))

	select {
	case <-h.p.Ready():
	default:
		t.Fatal("ready not signalled")
	}
	if got := h.stderr.String(); got != "boottail" {
		t.Errorf("stderr = %q, want frames stripped", got)
	}
}

func TestProtocolNonFrameNUL(t *testing.T) {
	h := newProtocolHarness(t, hostfunc.NewRegistry())
	h.p.Write([]byte("a\x00b\x00GORU_RESULT:1:1\x00"))
	if got := h.stderr.String(); got != "a\x00b" {
		t.Errorf("stderr = %q", got)
	}
	if _, ok := h.completion(1); !ok {
		t.Error("frame after stray NUL not handled")
	}
}

func TestProtocolCompletions(t *testing.T) {
	h := newProtocolHarness(t, hostfunc.NewRegistry())
	h.p.Write([]byte("\x00GORU_RESULT:1:{\"a\":1}\x00"))
	h.p.Write([]byte("\x00GORU_ERROR:2:" + `{"type":"IndexError","message":"IndexError: list index out of range","traceback":"tb"}` + "\x00"))

	c, ok := h.completion(1)
	if !ok || c.err != nil || string(c.value) != `{"a":1}` {
		t.Errorf("completion 1 = %+v, %v", c, ok)
	}

	c, ok = h.completion(2)
	if !ok {
		t.Fatal("completion 2 missing")
	}
	var pyErr *interp.Error
	if !errors.As(c.err, &pyErr) {
		t.Fatalf("expected *interp.Error, got %v", c.err)
	}
	if pyErr.TypeName != "IndexError" || pyErr.Message != "IndexError: list index out of range" || pyErr.Traceback != "tb" {
		t.Errorf("unexpected error %+v", pyErr)
	}
}

func TestProtocolHostCall(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
		return "Hello, " + args["name"].(string) + "!", nil
	})
	registry.Register("fail", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("nope")
	})
	h := newProtocolHarness(t, registry)

	h.p.Write([]byte("\x00GORU:" + `{"fn":"greet","args":{"name":"World"}}` + "\x00"))
	if resp := h.reply(t); resp.Data != "Hello, World!" || resp.Error != "" {
		t.Errorf("greet = %+v", resp)
	}

	h.p.Write([]byte("\x00GORU:" + `{"fn":"fail","args":{}}` + "\x00"))
	if resp := h.reply(t); resp.Error != "nope" {
		t.Errorf("fail = %+v", resp)
	}

	h.p.Write([]byte("\x00GORU:" + `{"fn":"missing"}` + "\x00"))
	if resp := h.reply(t); resp.Error != "unknown function: missing" {
		t.Errorf("missing = %+v", resp)
	}

	h.p.Write([]byte("\x00GORU:{bad json\x00"))
	if resp := h.reply(t); resp.Error != "invalid call format" {
		t.Errorf("bad json = %+v", resp)
	}
}

func TestProtocolHostCallUsesCallContext(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("input", hostfunc.NewInput(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	h := newProtocolHarness(t, registry)
	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	cancel()

	h.p.Write([]byte("\x00GORU:" + `{"fn":"input","args":{"prompt":"?"}}` + "\x00"))
	if resp := h.reply(t); resp.Error != context.Canceled.Error() {
		t.Errorf("expected cancellation, got %+v", resp)
	}
}
