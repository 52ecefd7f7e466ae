package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/psaab/routershell/pkg/mode"
)

// Load runs configuration lines from r as if typed in Configure mode, the
// format written by "show running-config". Failed lines are reported to
// errw and counted; loading carries on with the next line. The session is
// left in Privileged mode.
func (s *Session) Load(ctx context.Context, r io.Reader, errw io.Writer) (failed int, err error) {
	s.stack.Reset()
	s.stack.Push(mode.New(mode.Privileged, ""))
	s.stack.Push(mode.New(mode.Configure, ""))
	defer func() {
		s.stack.Reset()
		s.stack.Push(mode.New(mode.Privileged, ""))
	}()

	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		n++
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.EqualFold(line, "end") {
			// End of a running-config dump.
			break
		}
		if err := s.Dispatch(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				break
			}
			failed++
			s.log.Warn("load line failed", "line", n, "text", line, "err", err)
			prefix := fmt.Sprintf("line %d: ", n)
			fmt.Fprintf(errw, "%s%s\n", prefix, line)
			RenderError(errw, prefix, line, err)
		}
		// Keep the depth at Configure or below so a stray "exit" cannot
		// drop the rest of the file into Privileged mode.
		if !s.stack.Top().IsConfig() {
			s.stack.Push(mode.New(mode.Configure, ""))
		}
	}
	if err := sc.Err(); err != nil {
		return failed, fmt.Errorf("read config: %w", err)
	}
	return failed, nil
}
