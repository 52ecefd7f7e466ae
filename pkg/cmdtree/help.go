package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Candidate holds a completion name and its description for display.
type Candidate struct {
	Name string
	Desc string
}

// EndOfCommand marks a position where the command may be submitted.
const EndOfCommand = "<cr>"

// DynamicFunc returns configured names for a completion key such as
// "bridge" or "interface".
type DynamicFunc func(key string) []string

// Complete returns the candidates for the word under the cursor at the end
// of line. A trailing space means a new word is being started.
func Complete(templates []Template, line string, dyn DynamicFunc) []Candidate {
	words := strings.Fields(line)
	partial := ""
	if len(words) > 0 && !strings.HasSuffix(line, " ") {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	negate := false
	if len(words) > 0 && strings.ToLower(words[0]) == NegateWord {
		negate = true
		words = words[1:]
	}

	alive := start(templates, negate)
	for pos, w := range words {
		var err error
		alive, err = advance(alive, pos, w)
		if err != nil || len(alive) == 0 {
			return nil
		}
	}
	out := nextCandidates(alive, partial, dyn)

	if !negate && len(words) == 0 && strings.HasPrefix(NegateWord, strings.ToLower(partial)) {
		for _, t := range templates {
			if t.Negatable {
				out = append(out, Candidate{Name: NegateWord, Desc: "Negate a command or set its defaults"})
				break
			}
		}
		sortCandidates(out)
	}
	return out
}

// nextCandidates lists what may come next for any alive candidate.
func nextCandidates(alive []candidate, partial string, dyn DynamicFunc) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	add := func(name, desc string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Candidate{Name: name, Desc: desc})
	}
	lp := strings.ToLower(partial)
	for _, c := range alive {
		if c.at.accept {
			if partial == "" {
				add(EndOfCommand, "")
			}
			continue
		}
		tok := c.at.tok
		switch tok.Kind {
		case Literal:
			if strings.HasPrefix(tok.Word, lp) {
				add(tok.Word, tok.Desc)
			}
		case Variable:
			if tok.Type == Enum {
				for _, v := range tok.Values {
					if strings.HasPrefix(strings.ToLower(v), lp) {
						add(v, tok.Desc)
					}
				}
				continue
			}
			if tok.Dynamic != "" && dyn != nil {
				for _, name := range FilterPrefix(dyn(tok.Dynamic), partial) {
					add(name, "(configured)")
				}
			}
			if partial == "" {
				add(tok.placeholder(), tok.Desc)
			}
		}
	}
	sortCandidates(out)
	return out
}

// Names returns the candidate names that can be inserted into the line,
// leaving out placeholders such as <name> and <cr>.
func Names(candidates []Candidate) []string {
	var names []string
	for _, c := range candidates {
		if strings.HasPrefix(c.Name, "<") {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		// <cr> always last, as on IOS.
		if c[i].Name == EndOfCommand || c[j].Name == EndOfCommand {
			return c[j].Name == EndOfCommand && c[i].Name != EndOfCommand
		}
		return c[i].Name < c[j].Name
	})
}

// WriteHelp prints aligned completion candidates to w.
// The entire output is built as a single string and written in one call
// so that readline's wrapWriter triggers only one Refresh cycle.
func WriteHelp(w io.Writer, candidates []Candidate) {
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among the given strings.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// FilterPrefix returns only items that start with the given prefix.
func FilterPrefix(items []string, prefix string) []string {
	if prefix == "" {
		return items
	}
	var result []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
