package cli

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/psaab/routershell/pkg/cmdtree"
)

// pipeFilters are the output modifiers accepted after "|".
var pipeFilters = []cmdtree.Candidate{
	{Name: "begin", Desc: "Begin with the line that matches"},
	{Name: "count", Desc: "Count number of lines"},
	{Name: "exclude", Desc: "Exclude lines that match"},
	{Name: "include", Desc: "Include lines that match"},
}

// completePipeFilter returns pipe filter candidates matching the partial
// prefix. handled is false when the line has no pipe.
func completePipeFilter(text string) (candidates []cmdtree.Candidate, handled bool) {
	idx := strings.LastIndex(text, "|")
	if idx < 0 {
		return nil, false
	}
	after := strings.TrimSpace(text[idx+1:])
	trailingSpace := len(text) > 0 && text[len(text)-1] == ' '

	if after == "" {
		return pipeFilters, true
	}
	// A complete filter name is followed by a free-form pattern.
	if trailingSpace || strings.Contains(after, " ") {
		if strings.Fields(after)[0] == "count" {
			return []cmdtree.Candidate{{Name: cmdtree.EndOfCommand}}, true
		}
		return []cmdtree.Candidate{{Name: "<pattern>", Desc: "Regular expression"}}, true
	}
	for _, f := range pipeFilters {
		if strings.HasPrefix(f.Name, after) {
			candidates = append(candidates, f)
		}
	}
	return candidates, true
}

// pipeFilter post-processes show output.
type pipeFilter struct {
	kind string
	re   *regexp.Regexp
}

// splitPipe separates an output modifier from a show line. Lines that do
// not start with show or do are returned untouched, so "|" can appear in
// descriptions.
func splitPipe(line string) (string, *pipeFilter, error) {
	idx := strings.Index(line, "|")
	if idx < 0 {
		return line, nil, nil
	}
	first := strings.ToLower(strings.Fields(line)[0])
	if first != "do" && (len(first) < 2 || !strings.HasPrefix("show", first)) {
		return line, nil, nil
	}
	cmd := strings.TrimSpace(line[:idx])
	words := strings.Fields(line[idx+1:])
	if len(words) == 0 {
		return "", nil, fmt.Errorf("missing output modifier")
	}
	var kind string
	for _, f := range pipeFilters {
		if strings.HasPrefix(f.Name, strings.ToLower(words[0])) {
			if kind != "" {
				return "", nil, fmt.Errorf("ambiguous output modifier %q", words[0])
			}
			kind = f.Name
		}
	}
	if kind == "" {
		return "", nil, fmt.Errorf("invalid output modifier %q", words[0])
	}
	f := &pipeFilter{kind: kind}
	if kind == "count" {
		return cmd, f, nil
	}
	if len(words) < 2 {
		return "", nil, fmt.Errorf("%s needs a pattern", kind)
	}
	re, err := regexp.Compile(strings.Join(words[1:], " "))
	if err != nil {
		return "", nil, fmt.Errorf("bad pattern: %w", err)
	}
	f.re = re
	return cmd, f, nil
}

// apply copies the lines of out that pass the filter to w.
func (f *pipeFilter) apply(w io.Writer, out []byte) {
	lines := strings.SplitAfter(string(out), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	count := 0
	started := false
	for _, l := range lines {
		text := strings.TrimRight(l, "\n")
		switch f.kind {
		case "include":
			if !f.re.MatchString(text) {
				continue
			}
		case "exclude":
			if f.re.MatchString(text) {
				continue
			}
		case "begin":
			if !started && !f.re.MatchString(text) {
				continue
			}
			started = true
		case "count":
			count++
			continue
		}
		io.WriteString(w, text+"\n")
	}
	if f.kind == "count" {
		fmt.Fprintf(w, "Count: %d lines\n", count)
	}
}

// filtered runs fn into a buffer and writes the filtered result.
func (s *Session) filtered(f *pipeFilter, fn func(w io.Writer) error) error {
	var buf bytes.Buffer
	err := fn(&buf)
	f.apply(s.out, buf.Bytes())
	return err
}
