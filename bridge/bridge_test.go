package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/interp/interptest"
	"github.com/caffeineduck/pyworker/message"
)

type recorder struct {
	mu   sync.Mutex
	reqs []message.InputRequest
	sent chan struct{}
}

func newRecorder() *recorder {
	return &recorder{sent: make(chan struct{}, 8)}
}

func (r *recorder) post(req message.InputRequest) error {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func TestRequestThenDeliver(t *testing.T) {
	rec := newRecorder()
	b := New(rec.post, zaptest.NewLogger(t).Sugar())

	done := make(chan string)
	go func() {
		v, err := b.Request(context.Background(), "Name? ")
		if err != nil {
			t.Errorf("Request: %v", err)
		}
		done <- v
	}()

	<-rec.sent
	if b.State() != Waiting {
		t.Fatalf("expected Waiting, got %s", b.State())
	}
	if rec.reqs[0].Type != message.TypeInputRequest || rec.reqs[0].Prompt != "Name? " {
		t.Errorf("unexpected request %+v", rec.reqs[0])
	}

	b.Deliver("Ada")
	select {
	case v := <-done:
		if v != "Ada" {
			t.Errorf("got %q, want Ada", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Request did not resume")
	}
	if b.State() != Idle {
		t.Errorf("expected Idle after delivery, got %s", b.State())
	}
}

func TestDeliverBeforeRequestIsRetained(t *testing.T) {
	rec := newRecorder()
	b := New(rec.post, nil)

	b.Deliver("first")
	b.Deliver("second")
	if b.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", b.Pending())
	}

	for _, want := range []string{"first", "second"} {
		v, err := b.Request(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if v != want {
			t.Errorf("got %q, want %q", v, want)
		}
	}
	if rec.count() != 0 {
		t.Errorf("retained values should not post requests, posted %d", rec.count())
	}
}

func TestSecondRequestWhileWaiting(t *testing.T) {
	rec := newRecorder()
	b := New(rec.post, nil)

	go b.Request(context.Background(), "a")
	<-rec.sent

	_, err := b.Request(context.Background(), "b")
	if !errors.Is(err, ErrInputPending) {
		t.Errorf("expected ErrInputPending, got %v", err)
	}
	b.Deliver("x")
}

func TestRequestCancelled(t *testing.T) {
	rec := newRecorder()
	b := New(rec.post, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		_, err := b.Request(ctx, "")
		errc <- err
	}()
	<-rec.sent
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if b.State() != Idle {
		t.Errorf("expected Idle after cancel, got %s", b.State())
	}

	b.Deliver("late")
	v, err := b.Request(context.Background(), "")
	if err != nil || v != "late" {
		t.Errorf("late value should be retained, got %q, %v", v, err)
	}
}

func TestPostFailure(t *testing.T) {
	b := New(func(message.InputRequest) error { return errors.New("closed") }, nil)
	if _, err := b.Request(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
	if b.State() != Idle {
		t.Errorf("expected Idle after post failure, got %s", b.State())
	}
}

func TestInstallEvaluatesShim(t *testing.T) {
	fake := interptest.New(nil)
	in, err := fake.Factory()(context.Background(), interp.Config{})
	if err != nil {
		t.Fatal(err)
	}

	b := New(nil, nil)
	if err := b.Install(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if fake.EvaluatedContaining("builtins.input = _pyworker_input") != 1 {
		t.Errorf("shim not evaluated: %v", fake.Evaluated())
	}
	if !strings.Contains(shim, "_input_history") {
		t.Error("shim should keep input history")
	}
}
