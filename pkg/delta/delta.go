package delta

import (
	"fmt"
	"strings"

	"github.com/psaab/routershell/pkg/config"
)

// State is the lifecycle of a delta inside the executor.
type State int

const (
	Pending State = iota
	Applying
	Applied
	RollingBack
	RolledBack
	RollbackFailed
	Partial // some operations failed and were skipped
)

var stateNames = map[State]string{
	Pending:        "PENDING",
	Applying:       "APPLYING",
	Applied:        "APPLIED",
	RollingBack:    "ROLLING_BACK",
	RolledBack:     "ROLLED_BACK",
	RollbackFailed: "ROLLBACK_FAILED",
	Partial:        "PARTIAL",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Delta is the ordered list of operations computed from one command.
type Delta struct {
	Ops   []Op
	State State

	// Command is the input line that produced the delta.
	Command string
	// Warnings are non-fatal notes from resolution.
	Warnings []string
}

// New returns an empty pending delta.
func New() *Delta {
	return &Delta{}
}

// Add appends operations.
func (d *Delta) Add(ops ...Op) {
	d.Ops = append(d.Ops, ops...)
}

// Len returns the number of operations.
func (d *Delta) Len() int {
	return len(d.Ops)
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return d == nil || len(d.Ops) == 0
}

// Warn records a warning.
func (d *Delta) Warn(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// String lists the operations one per line, numbered from 1.
func (d *Delta) String() string {
	var b strings.Builder
	for i, op := range d.Ops {
		fmt.Fprintf(&b, "%d: %s\n", i+1, op)
	}
	return b.String()
}

// ApplyTo applies every operation to cfg in order.
func (d *Delta) ApplyTo(cfg *config.Config) error {
	for i, op := range d.Ops {
		if err := Apply(cfg, op); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, op, err)
		}
	}
	return nil
}
