package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/caffeineduck/pyworker/interp/interptest"
	"github.com/caffeineduck/pyworker/message"
)

func TestLinesSkipsBlank(t *testing.T) {
	in := strings.NewReader("one\n\n  \r\ntwo\r\nthree")
	var got []string
	for line := range Lines(context.Background(), in, zaptest.NewLogger(t).Sugar()) {
		got = append(got, string(line))
	}
	want := []string{"one", "two", "three"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestLinesStopsOnContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	lines := Lines(ctx, pr, nil)

	go pw.Write([]byte("first\nsecond\n"))
	if line := <-lines; string(line) != "first" {
		t.Fatalf("line = %q", line)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case line, ok := <-lines:
		if ok {
			t.Errorf("received %q after cancel", line)
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestPosterConcurrent(t *testing.T) {
	var buf strings.Builder
	var mu sync.Mutex
	p := NewPoster(writerFunc(func(b []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(b)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Post(message.NewInputRequest("<prompt & more>"))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines", len(lines))
	}
	for _, line := range lines {
		var req message.InputRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		if req.Prompt != "<prompt & more>" {
			t.Errorf("prompt = %q", req.Prompt)
		}
	}
	if strings.Contains(buf.String(), `\u003c`) {
		t.Error("html characters should not be escaped")
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

func decodeOutput(t *testing.T, out string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad output line %q: %v", sc.Text(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestServe(t *testing.T) {
	fake := interptest.New(func(env *interptest.Env, src string) (any, error) {
		if strings.Contains(src, "input()") {
			return env.Input("")
		}
		return nil, nil
	})

	in := strings.NewReader(`{"type":"input_reply","value":"Ada"}` + "\n" +
		`{"type":"execute","id":7,"code":"input()"}` + "\n")
	var out strings.Builder

	err := Serve(context.Background(), fake.Factory(), in, &out, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}

	msgs := decodeOutput(t, out.String())
	if len(msgs) != 1 {
		t.Fatalf("expected one response, got %v", msgs)
	}
	resp := msgs[0]
	if resp["id"] != 7.0 || resp["success"] != true || resp["result"] != "Ada" {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestServeDropsMalformedLines(t *testing.T) {
	fake := interptest.New(nil)
	in := strings.NewReader("not json\n" + `{"type":"execute","id":"x","code":"pass"}` + "\n")
	var out strings.Builder

	if err := Serve(context.Background(), fake.Factory(), in, &out, nil); err != nil {
		t.Fatal(err)
	}
	msgs := decodeOutput(t, out.String())
	if len(msgs) != 1 || msgs[0]["id"] != "x" || msgs[0]["success"] != true {
		t.Errorf("unexpected output %v", msgs)
	}
}

func TestServeRequiresFactory(t *testing.T) {
	if err := Serve(context.Background(), nil, strings.NewReader(""), io.Discard, nil); err == nil {
		t.Error("expected error without a factory")
	}
}
