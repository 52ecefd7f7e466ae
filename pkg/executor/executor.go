// Package executor applies configuration deltas to the live system with
// best-effort rollback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/psaab/routershell/pkg/delta"
)

// Timeout bounds for a single operation.
const (
	MinTimeout     = 5 * time.Second
	MaxTimeout     = 10 * time.Second
	DefaultTimeout = 8 * time.Second
)

// ErrTimeout is reported when an operation exceeds its deadline.
var ErrTimeout = errors.New("operation timed out")

// Backend performs one operation on the live system.
type Backend interface {
	Apply(ctx context.Context, op delta.Op) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, op delta.Op) error

func (f BackendFunc) Apply(ctx context.Context, op delta.Op) error { return f(ctx, op) }

// ExecutionError reports a failed delta. Step is 1-based.
type ExecutionError struct {
	Step         int
	Op           delta.Op
	Err          error
	State        delta.State
	Reversed     int
	RollbackErrs []error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d (%s) failed: %v", e.Step, e.Op, e.Err)
	switch e.State {
	case delta.RolledBack:
		fmt.Fprintf(&b, "; rolled back %d step(s)", e.Reversed)
	case delta.RollbackFailed:
		fmt.Fprintf(&b, "; rollback failed for %d of %d step(s), manual reconciliation required",
			len(e.RollbackErrs), e.Reversed)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NeedsReconciliation reports whether the live system may differ from the
// store after the failure.
func (e *ExecutionError) NeedsReconciliation() bool {
	return e.State == delta.RollbackFailed || e.State == delta.Partial
}

// Stats counts executor activity since start.
type Stats struct {
	Deltas         uint64
	Ops            uint64
	Failures       uint64
	RolledBack     uint64
	RollbackFailed uint64
	Timeouts       uint64
	ByKind         map[delta.Kind]uint64 // applied operations
}

// Executor runs deltas against a Backend. It is not safe for concurrent
// Apply calls; the shell runs one command at a time.
type Executor struct {
	backend Backend
	timeout time.Duration
	dryRun  bool
	log     *slog.Logger

	deltas, ops, failures, rolledBack, rollbackFailed, timeouts atomic.Uint64

	byKind []atomic.Uint64 // indexed by delta.Kind
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the per-operation timeout, clamped to [MinTimeout, MaxTimeout].
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = ClampTimeout(d) }
}

// WithDryRun logs operations instead of applying them.
func WithDryRun(on bool) Option {
	return func(e *Executor) { e.dryRun = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// ClampTimeout bounds d to the accepted range. Zero selects the default.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// New creates an Executor.
func New(b Backend, opts ...Option) *Executor {
	e := &Executor{
		backend: b,
		timeout: DefaultTimeout,
		log:     slog.Default(),
		byKind:  make([]atomic.Uint64, len(delta.Kinds())+1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stats returns a snapshot of the counters.
func (e *Executor) Stats() Stats {
	byKind := make(map[delta.Kind]uint64)
	for _, k := range delta.Kinds() {
		if n := e.byKind[k].Load(); n > 0 {
			byKind[k] = n
		}
	}
	return Stats{
		ByKind:         byKind,
		Deltas:         e.deltas.Load(),
		Ops:            e.ops.Load(),
		Failures:       e.failures.Load(),
		RolledBack:     e.rolledBack.Load(),
		RollbackFailed: e.rollbackFailed.Load(),
		Timeouts:       e.timeouts.Load(),
	}
}

// Apply runs every operation of d in order. When operation k fails the
// k-1 applied operations are reversed in reverse order, each retried once,
// and an *ExecutionError is returned. d.State tracks progress.
func (e *Executor) Apply(ctx context.Context, d *delta.Delta) error {
	if d.Empty() {
		if d != nil {
			d.State = delta.Applied
		}
		return nil
	}
	e.deltas.Add(1)
	d.State = delta.Applying
	for i, op := range d.Ops {
		if err := e.run(ctx, op); err != nil {
			e.failures.Add(1)
			e.log.Warn("operation failed", "step", i+1, "op", op.String(), "err", err)
			xerr := &ExecutionError{Step: i + 1, Op: op, Err: err}
			d.State = delta.RollingBack
			xerr.Reversed, xerr.RollbackErrs = e.rollback(ctx, d.Ops[:i])
			if len(xerr.RollbackErrs) > 0 {
				d.State = delta.RollbackFailed
				e.rollbackFailed.Add(1)
			} else {
				d.State = delta.RolledBack
				e.rolledBack.Add(1)
			}
			xerr.State = d.State
			return xerr
		}
		e.ops.Add(1)
		if int(op.Kind) < len(e.byKind) {
			e.byKind[op.Kind].Add(1)
		}
	}
	d.State = delta.Applied
	return nil
}

// ApplyAll runs every operation of d without rollback. A failed operation
// is logged and skipped; the rest still run. It suits deltas made only of
// ensures of existing state, where reversing a step would tear down live
// configuration. The returned errors are *ExecutionError values in step
// order.
func (e *Executor) ApplyAll(ctx context.Context, d *delta.Delta) []error {
	if d.Empty() {
		if d != nil {
			d.State = delta.Applied
		}
		return nil
	}
	e.deltas.Add(1)
	d.State = delta.Applying
	var errs []error
	for i, op := range d.Ops {
		if ctx.Err() != nil {
			errs = append(errs, &ExecutionError{Step: i + 1, Op: op, Err: ctx.Err(), State: delta.Partial})
			break
		}
		if err := e.run(ctx, op); err != nil {
			e.failures.Add(1)
			e.log.Warn("operation failed", "step", i+1, "op", op.String(), "err", err)
			errs = append(errs, &ExecutionError{Step: i + 1, Op: op, Err: err, State: delta.Partial})
			continue
		}
		e.ops.Add(1)
		if int(op.Kind) < len(e.byKind) {
			e.byKind[op.Kind].Add(1)
		}
	}
	if len(errs) > 0 {
		d.State = delta.Partial
	} else {
		d.State = delta.Applied
	}
	return errs
}

// rollback reverses applied in reverse order. Every reversal is attempted
// even when an earlier one fails. Ensures of pre-existing state are left
// alone.
func (e *Executor) rollback(ctx context.Context, applied []delta.Op) (int, []error) {
	var errs []error
	n := 0
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i].Existing {
			continue
		}
		inv := applied[i].Inverse()
		n++
		err := e.run(ctx, inv)
		if err != nil {
			e.log.Debug("retrying reversal", "step", i+1, "op", inv.String(), "err", err)
			err = e.run(ctx, inv)
		}
		if err != nil {
			e.log.Error("reversal failed", "step", i+1, "op", inv.String(), "err", err)
			errs = append(errs, fmt.Errorf("undo step %d (%s): %w", i+1, applied[i], err))
		}
	}
	return n, errs
}

func (e *Executor) run(ctx context.Context, op delta.Op) error {
	if e.dryRun {
		e.log.Info("dry run", "op", op.String())
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.backend.Apply(ctx, op) }()
	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			e.timeouts.Add(1)
			return fmt.Errorf("%w after %s: %v", ErrTimeout, e.timeout, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.timeouts.Add(1)
			return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return ctx.Err()
	}
}
