package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/configstore"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/executor"
	"github.com/psaab/routershell/pkg/resolver"
)

// ErrExit is returned by Dispatch when the line ends the session.
var ErrExit = errors.New("exit")

var errPipeNotAllowed = errors.New("output modifiers apply to show commands only")

// ReconcileError lists the operations that failed while the stored
// configuration was reapplied. The remaining operations took effect.
type ReconcileError struct {
	Applied, Total int
	Errs           []error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile: %d of %d operation(s) failed: %v", len(e.Errs), e.Total, errors.Join(e.Errs...))
}

func (e *ReconcileError) Unwrap() []error { return e.Errs }

// RenderError writes err the way IOS reports a failed line. prompt is
// whatever precedes line on the terminal; when it is empty the line is
// echoed so the caret has something to point at.
func RenderError(w io.Writer, prompt, line string, err error) {
	var (
		ce *ReconcileError
		pe *cmdtree.ParseError
		re *resolver.Error
		xe *executor.ExecutionError
		se *configstore.StoreError
	)
	switch {
	case errors.As(err, &ce):
		fmt.Fprintf(w, "%% Reconcile applied %d of %d operation(s):\n", ce.Applied, ce.Total)
		for _, e := range ce.Errs {
			fmt.Fprintf(w, "%%   %v\n", e)
		}
	case errors.As(err, &pe):
		renderParseError(w, prompt, line, pe)
	case errors.As(err, &xe):
		fmt.Fprintf(w, "%% Execution failed at step %d (%s): %v\n", xe.Step, xe.Op, xe.Err)
		switch xe.State {
		case delta.RolledBack:
			fmt.Fprintf(w, "%% Rolled back %d step(s), configuration unchanged.\n", xe.Reversed)
		case delta.RollbackFailed:
			fmt.Fprintf(w, "%% Rollback failed, manual reconciliation required:\n")
			for _, rerr := range xe.RollbackErrs {
				fmt.Fprintf(w, "%%   %v\n", rerr)
			}
		}
	case errors.As(err, &re):
		fmt.Fprintf(w, "%% %s\n", re)
	case errors.As(err, &se):
		fmt.Fprintf(w, "%% Configuration store error: %v\n", err)
	default:
		fmt.Fprintf(w, "%% %v\n", err)
	}
}

func renderParseError(w io.Writer, prompt, line string, pe *cmdtree.ParseError) {
	switch pe.Kind {
	case cmdtree.Ambiguous:
		fmt.Fprintf(w, "%% Ambiguous command: %q\n", pe.Word)
	case cmdtree.Incomplete:
		fmt.Fprintln(w, "% Incomplete command.")
	default:
		if prompt == "" {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "%s^\n", strings.Repeat(" ", len(prompt)+wordColumn(line, pe.Pos)))
		fmt.Fprintln(w, "% Invalid input detected at '^' marker.")
	}
}

// wordColumn returns the byte offset of word pos in line, or the end of
// the line when pos is past the last word.
func wordColumn(line string, pos int) int {
	n := 0
	inWord := false
	for i, r := range line {
		if r == ' ' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			if n == pos {
				return i
			}
			n++
			inWord = true
		}
	}
	return len(line)
}
