// Package stdio connects a worker to its host over newline-delimited JSON:
// host messages arrive one per line on a reader and worker messages are
// written one per line to a writer.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/internal/logging"
	"github.com/caffeineduck/pyworker/worker"
)

// MaxLineSize bounds one host message. Submitted code travels inline.
const MaxLineSize = 16 << 20

// Poster writes each message as one JSON line. It is safe for concurrent
// use; output, input requests and responses may be posted from different
// goroutines.
type Poster struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewPoster(w io.Writer) *Poster {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Poster{enc: enc}
}

func (p *Poster) Post(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(v); err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return nil
}

// Lines reads r line by line and sends each non-blank line on the returned
// channel. The channel is closed at EOF, on a read error or when ctx ends.
func Lines(ctx context.Context, r io.Reader, log *zap.SugaredLogger) <-chan []byte {
	log = logging.OrNop(log)
	out := make(chan []byte)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for sc.Scan() {
			line := sc.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			log.Errorw("read host messages", "error", err)
		}
	}()
	return out
}

// Serve runs a worker reading host messages from r and writing worker
// messages to w until r is exhausted or ctx ends. In-flight executions are
// answered before the worker is closed.
func Serve(ctx context.Context, factory interp.Factory, r io.Reader, w io.Writer, log *zap.SugaredLogger, opts ...worker.Option) error {
	log = logging.OrNop(log)
	opts = append([]worker.Option{worker.WithLogger(log)}, opts...)
	wk, err := worker.New(factory, NewPoster(w), opts...)
	if err != nil {
		return err
	}
	log.Infow("serving over stdio", "worker", wk.ID())

	serveErr := wk.Serve(ctx, Lines(ctx, r, log))
	if err := wk.Close(); err != nil {
		log.Warnw("close worker", "error", err)
	}
	return serveErr
}
