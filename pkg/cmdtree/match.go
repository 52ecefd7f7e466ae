package cmdtree

import (
	"fmt"
	"sort"
	"strings"
)

// NegateWord is the prefix that turns a command into its removal form.
const NegateWord = "no"

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	NoMatch ErrorKind = iota
	Ambiguous
	Incomplete
)

func (k ErrorKind) String() string {
	switch k {
	case NoMatch:
		return "no match"
	case Ambiguous:
		return "ambiguous"
	case Incomplete:
		return "incomplete"
	}
	return "unknown"
}

// ParseError is the structured failure of Match. Candidates lists what
// could have been typed at Pos; it is empty for NoMatch.
type ParseError struct {
	Kind       ErrorKind
	Pos        int
	Word       string
	Candidates []Candidate
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case Ambiguous:
		return fmt.Sprintf("ambiguous command: %q", e.Word)
	case Incomplete:
		return "incomplete command"
	}
	if e.Word == "" {
		return "invalid input"
	}
	return fmt.Sprintf("invalid input at %q", e.Word)
}

// Match is a unique template match.
type Match struct {
	Index  int
	Args   Args
	Negate bool
}

// node is a position in a compiled template. A step node consumes one word
// with tok; the others fan out to alts, in order of preference, without
// consuming anything.
type node struct {
	tok    *Token
	next   *node
	alts   []edge
	accept bool
}

type edge struct {
	to   *node
	skip bool // leaves an optional group out
}

// compile links tokens into a graph that continues at next and returns
// its entry. Repeated groups become loops, so the graph stays the size of
// the template however long the input is.
func compile(tokens []Token, next *node) *node {
	cur := next
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := &tokens[i]
		switch tok.Kind {
		case Optional:
			cur = &node{alts: []edge{{to: compile(tok.Group, cur)}, {to: cur, skip: true}}}
		case Repeated:
			loop := &node{}
			if nullable(tok.Group) {
				// a group that can match nothing would loop forever
				loop.alts = []edge{{to: compile(tok.Group, cur)}, {to: cur}}
			} else {
				loop.alts = []edge{{to: compile(tok.Group, loop)}, {to: cur}}
			}
			cur = loop
		case Choice:
			split := &node{}
			for _, alt := range tok.Alts {
				split.alts = append(split.alts, edge{to: compile(alt, cur)})
			}
			cur = split
		default:
			cur = &node{tok: tok, next: cur}
		}
	}
	return cur
}

// nullable reports whether tokens can match an empty input.
func nullable(tokens []Token) bool {
	for _, tok := range tokens {
		switch tok.Kind {
		case Optional, Repeated:
		case Choice:
			ok := false
			for _, alt := range tok.Alts {
				if nullable(alt) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// binding records one consumed word, newest first.
type binding struct {
	tok  *Token
	word string
	prev *binding
}

// candidate is one way of reading the input so far within a template.
type candidate struct {
	tmpl     int
	at       *node
	trail    *binding
	skipped  int // optional groups left out
	literals int
	prefixed int
}

// outranks orders candidates: fewer skipped optionals, then more
// keywords, then fewer abbreviated keywords.
func (c candidate) outranks(o candidate) bool {
	if c.skipped != o.skipped {
		return c.skipped < o.skipped
	}
	if c.literals != o.literals {
		return c.literals > o.literals
	}
	return c.prefixed < o.prefixed
}

// frontier holds the candidates waiting on the next word. Two candidates
// at the same node of the same template have the same future, so only
// the better ranked one is kept; on a tie the first, which is the greedy
// reading, stays.
type frontier struct {
	list  []candidate
	index map[frontierKey]int
}

type frontierKey struct {
	tmpl int
	at   *node
}

func newFrontier() *frontier {
	return &frontier{index: make(map[frontierKey]int)}
}

// settle follows the non-consuming edges from n and keeps every step or
// accept node reached.
func (f *frontier) settle(c candidate, n *node) {
	if n.tok != nil || n.accept {
		c.at = n
		k := frontierKey{c.tmpl, n}
		if i, ok := f.index[k]; ok {
			if c.outranks(f.list[i]) {
				f.list[i] = c
			}
			return
		}
		f.index[k] = len(f.list)
		f.list = append(f.list, c)
		return
	}
	for _, e := range n.alts {
		next := c
		if e.skip {
			next.skipped++
		}
		f.settle(next, e.to)
	}
}

// start compiles every eligible template and positions it before the
// first word.
func start(templates []Template, negate bool) []candidate {
	f := newFrontier()
	for i, t := range templates {
		toks := t.Tokens
		if negate {
			if !t.Negatable {
				continue
			}
			if t.NoTokens != nil {
				toks = t.NoTokens
			}
		}
		f.settle(candidate{tmpl: i}, compile(toks, &node{accept: true}))
	}
	return f.list
}

// advance consumes word at pos. An exact keyword beats abbreviations of
// other keywords; two different keywords sharing the abbreviation is an
// ambiguity.
func advance(alive []candidate, pos int, word string) ([]candidate, error) {
	var exact, prefix, vars []candidate
	prefixWords := make(map[string]string)
	lw := strings.ToLower(word)
	for _, c := range alive {
		tok := c.at.tok
		if tok == nil {
			continue
		}
		c.trail = &binding{tok: tok, word: word, prev: c.trail}
		switch tok.Kind {
		case Literal:
			if tok.Word == lw {
				c.literals++
				exact = append(exact, c)
			} else if strings.HasPrefix(tok.Word, lw) {
				c.literals++
				c.prefixed++
				prefixWords[tok.Word] = tok.Desc
				prefix = append(prefix, c)
			}
		case Variable:
			if _, ok := tok.accept(word); ok {
				vars = append(vars, c)
			}
		}
	}
	moved := exact
	if len(exact) == 0 {
		if len(prefixWords) > 1 {
			err := &ParseError{Kind: Ambiguous, Pos: pos, Word: word}
			for w, d := range prefixWords {
				err.Candidates = append(err.Candidates, Candidate{Name: w, Desc: d})
			}
			sortCandidates(err.Candidates)
			return nil, err
		}
		moved = prefix
	}
	f := newFrontier()
	for _, c := range append(moved, vars...) {
		f.settle(c, c.at.next)
	}
	return f.list, nil
}

// MatchLine splits line on whitespace and calls MatchWords.
func MatchLine(templates []Template, line string) (*Match, error) {
	return MatchWords(templates, strings.Fields(line))
}

// MatchWords finds the unique template matching words. A leading "no"
// re-matches the remainder against the negatable templates.
func MatchWords(templates []Template, words []string) (*Match, error) {
	negate := false
	if len(words) > 0 && strings.ToLower(words[0]) == NegateWord {
		negate = true
		words = words[1:]
	}
	if len(words) == 0 {
		if negate {
			return nil, &ParseError{Kind: Incomplete, Pos: 1, Candidates: nextCandidates(start(templates, true), "", nil)}
		}
		return nil, &ParseError{Kind: NoMatch}
	}
	offset := 0
	if negate {
		offset = 1
	}

	alive := start(templates, negate)
	for pos, w := range words {
		var err error
		alive, err = advance(alive, pos, w)
		if err != nil {
			err.(*ParseError).Pos += offset
			return nil, err
		}
		if len(alive) == 0 {
			return nil, &ParseError{Kind: NoMatch, Pos: pos + offset, Word: w}
		}
	}

	var complete []candidate
	for _, c := range alive {
		if c.at.accept {
			complete = append(complete, c)
		}
	}
	if len(complete) == 0 {
		return nil, &ParseError{
			Kind:       Incomplete,
			Pos:        len(words) + offset,
			Candidates: nextCandidates(alive, "", nil),
		}
	}

	sort.SliceStable(complete, func(i, j int) bool {
		a, b := complete[i], complete[j]
		if a.outranks(b) || b.outranks(a) {
			return a.outranks(b)
		}
		return a.tmpl < b.tmpl
	})
	best := complete[0]
	for _, c := range complete[1:] {
		if !best.outranks(c) {
			return nil, &ParseError{
				Kind: Ambiguous,
				Pos:  offset,
				Word: strings.Join(words, " "),
			}
		}
		break
	}

	return &Match{
		Index:  best.tmpl,
		Args:   bind(best.trail),
		Negate: negate,
	}, nil
}

func bind(trail *binding) Args {
	var steps []*binding
	for b := trail; b != nil; b = b.prev {
		steps = append(steps, b)
	}
	args := NewArgs(nil)
	for i := len(steps) - 1; i >= 0; i-- {
		tok := steps[i].tok
		switch tok.Kind {
		case Literal:
			args.keywords[tok.Word] = true
		case Variable:
			v, _ := tok.accept(steps[i].word)
			args.values[tok.Name] = append(args.values[tok.Name], v)
		}
	}
	return args
}
