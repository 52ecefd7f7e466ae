// Package cli implements the IOS-style interactive shell: per-mode command
// tables, dispatch into the resolver and executor, show rendering and the
// readline front end.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/psaab/routershell/pkg/cmdtree"
)

// Shell is the interactive front end of a Session.
type Shell struct {
	session     *Session
	rl          *readline.Instance
	historyFile string
}

// NewShell wraps session. historyFile keeps typed lines between runs; an
// empty path disables it.
func NewShell(session *Session, historyFile string) *Shell {
	return &Shell{session: session, historyFile: historyFile}
}

// Run reads and dispatches lines until exit, end of input or ctx is done.
func (sh *Shell) Run(ctx context.Context) error {
	var err error
	sh.rl, err = readline.NewEx(&readline.Config{
		Prompt:          sh.session.Prompt(),
		HistoryFile:     sh.historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &completer{sh: sh},
		Listener:        readline.FuncListener(sh.help),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer sh.rl.Close()
	sh.session.SetOutput(sh.rl.Stdout())

	if banner := sh.session.Banner(ctx); banner != "" {
		fmt.Fprintln(sh.rl.Stdout(), banner)
		fmt.Fprintln(sh.rl.Stdout())
	}

	for ctx.Err() == nil {
		prompt := sh.session.Prompt()
		sh.rl.SetPrompt(prompt)
		line, err := sh.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				// Ctrl-D leaves configuration mode first, then the shell.
				if sh.session.Mode().IsConfig() {
					sh.session.Stack().ToConfigure()
					sh.session.Stack().End()
					continue
				}
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := sh.session.Dispatch(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			RenderError(sh.rl.Stderr(), prompt, line, err)
		}
	}
	return ctx.Err()
}

// help answers '?' with the candidates for the text before the cursor.
func (sh *Shell) help(line []rune, pos int, key rune) ([]rune, int, bool) {
	if key != '?' || pos < 1 {
		return line, pos, false
	}
	// Strip the '?' that readline already inserted.
	clean := make([]rune, 0, len(line)-1)
	clean = append(clean, line[:pos-1]...)
	clean = append(clean, line[pos:]...)
	text := string(clean[:pos-1])

	candidates := sh.session.Complete(context.Background(), text)
	if len(candidates) == 0 {
		fmt.Fprintln(sh.rl.Stdout(), "% Unrecognized command")
		return clean, pos - 1, true
	}
	cmdtree.WriteHelp(sh.rl.Stdout(), candidates)
	return clean, pos - 1, true
}

type completer struct {
	sh *Shell
}

// Do completes the unique candidate, or lists the candidates and extends
// the word to their common prefix.
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	partial := partialWord(text)
	candidates := c.sh.session.Complete(context.Background(), text)

	var names []string
	for _, n := range cmdtree.Names(candidates) {
		if strings.HasPrefix(strings.ToLower(n), strings.ToLower(partial)) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, 0
	}
	if len(names) == 1 {
		suffix := names[0][len(partial):]
		return [][]rune{[]rune(suffix + " ")}, len(partial)
	}

	cmdtree.WriteHelp(c.sh.rl.Stdout(), candidates)
	cp := cmdtree.CommonPrefix(names)
	if len(cp) <= len(partial) {
		return nil, 0
	}
	return [][]rune{[]rune(cp[len(partial):])}, len(partial)
}

// partialWord is the word under the cursor, empty after a space.
func partialWord(text string) string {
	if idx := strings.LastIndex(text, "|"); idx >= 0 {
		text = text[idx+1:]
	}
	if text == "" || strings.HasSuffix(text, " ") {
		return ""
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}
