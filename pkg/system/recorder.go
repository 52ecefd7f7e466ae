package system

import (
	"context"
	"errors"
	"sync"

	"github.com/psaab/routershell/pkg/delta"
)

// ErrInjected is the default failure returned by a Recorder.
var ErrInjected = errors.New("injected failure")

// Recorder is a backend that logs every operation it is asked to apply.
// It stands in for the OS in tests and in config-only mode.
type Recorder struct {
	mu  sync.Mutex
	ops []delta.Op

	// FailAt makes the n-th call (1-based) fail. Zero never fails.
	FailAt int
	// FailOn, when set, is consulted for every call and may fail it.
	FailOn func(n int, op delta.Op) error
	// Err is returned for FailAt failures; ErrInjected when nil.
	Err error
}

// Apply records op and applies the configured failures.
func (r *Recorder) Apply(ctx context.Context, op delta.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	n := len(r.ops)
	if r.FailOn != nil {
		if err := r.FailOn(n, op); err != nil {
			return err
		}
	}
	if r.FailAt > 0 && n == r.FailAt {
		if r.Err != nil {
			return r.Err
		}
		return ErrInjected
	}
	return ctx.Err()
}

// Ops returns every attempted operation in call order.
func (r *Recorder) Ops() []delta.Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delta.Op(nil), r.ops...)
}

// Live returns the attempted operations that have an OS effect.
func (r *Recorder) Live() []delta.Op {
	var out []delta.Op
	for _, op := range r.Ops() {
		if !op.StoreOnly() {
			out = append(out, op)
		}
	}
	return out
}

// Reset forgets recorded operations and injected failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
	r.FailAt = 0
	r.FailOn = nil
	r.Err = nil
}
