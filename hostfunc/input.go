package hostfunc

import (
	"context"
	"errors"
	"time"

	"github.com/caffeineduck/pyworker/interp"
)

// NewInput returns the input function backing Python's input(). It blocks
// until fn yields a line or ctx is done.
func NewInput(fn interp.InputFunc) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if fn == nil {
			return nil, errors.New("input not available")
		}
		var req InputRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return fn(ctx, req.Prompt)
	}
}

// TimeNow returns the host wall clock in fractional Unix seconds.
func TimeNow(ctx context.Context, args map[string]any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}
