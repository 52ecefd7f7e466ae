// Package cmdtree is the grammar engine for the router shell.
//
// A command is described by a Template: an ordered list of token specs
// (keywords, typed variables, optional groups, repeated groups and choice
// sets). The same templates drive dispatch (Match), tab completion and
// '?' help (Complete), so a command added to a mode table automatically
// appears in all three.
package cmdtree

import (
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a token spec.
type Kind int

const (
	Literal Kind = iota
	Variable
	Optional
	Repeated
	Choice
)

// ValueType selects the validator of a Variable token.
type ValueType int

const (
	String ValueType = iota
	Int
	IPv4
	IPv6
	IP
	IPv4Prefix
	IPv6Prefix
	IPPrefix
	MAC
	Enum
)

var typeNames = map[ValueType]string{
	String:     "WORD",
	Int:        "<number>",
	IPv4:       "A.B.C.D",
	IPv6:       "X:X:X:X::X",
	IP:         "A.B.C.D|X:X::X",
	IPv4Prefix: "A.B.C.D/nn",
	IPv6Prefix: "X:X::X/nn",
	IPPrefix:   "A.B.C.D/nn|X:X::X/nn",
	MAC:        "H:H:H:H:H:H",
	Enum:       "<choice>",
}

func (v ValueType) String() string { return typeNames[v] }

// Token is a single element of a command template.
type Token struct {
	Kind Kind

	// Literal
	Word string

	// Variable
	Name     string
	Type     ValueType
	Min, Max int
	Values   []string
	Pattern  *regexp.Regexp
	Exclude  []string
	Dynamic  string // completion source key, resolved by the caller of Complete

	Desc string

	Group []Token   // Optional, Repeated
	Alts  [][]Token // Choice
}

// Template is one command form within a mode.
type Template struct {
	Tokens []Token
	// NoTokens is the grammar accepted after a leading "no". Nil means Tokens.
	NoTokens  []Token
	Negatable bool
}

// Kw returns a keyword token.
func Kw(word, desc string) Token {
	return Token{Kind: Literal, Word: word, Desc: desc}
}

// Var returns a typed variable token bound to name.
func Var(name string, t ValueType, desc string) Token {
	return Token{Kind: Variable, Name: name, Type: t, Desc: desc}
}

// IntVar returns an integer variable limited to [min, max].
func IntVar(name string, min, max int, desc string) Token {
	return Token{Kind: Variable, Name: name, Type: Int, Min: min, Max: max, Desc: desc}
}

// EnumVar returns a variable that accepts one of values.
func EnumVar(name, desc string, values ...string) Token {
	return Token{Kind: Variable, Name: name, Type: Enum, Values: values, Desc: desc}
}

// PatternVar returns a free-string variable constrained by a regular expression.
func PatternVar(name, pattern, desc string) Token {
	return Token{Kind: Variable, Name: name, Type: String, Pattern: regexp.MustCompile(pattern), Desc: desc}
}

// Opt returns a zero-or-one group.
func Opt(tokens ...Token) Token {
	return Token{Kind: Optional, Group: tokens}
}

// Rep returns a zero-or-more group.
func Rep(tokens ...Token) Token {
	return Token{Kind: Repeated, Group: tokens}
}

// OneOf returns a choice between alternative token sequences.
func OneOf(alts ...[]Token) Token {
	return Token{Kind: Choice, Alts: alts}
}

// Seq is shorthand for a token slice, mostly used with OneOf.
func Seq(tokens ...Token) []Token { return tokens }

// Suggest sets the dynamic completion key of a variable token.
func (t Token) Suggest(key string) Token {
	t.Dynamic = key
	return t
}

// Excluding makes a variable reject the given words.
func (t Token) Excluding(words ...string) Token {
	t.Exclude = append(append([]string(nil), t.Exclude...), words...)
	return t
}

// accept validates word against a variable token and returns its
// canonical form.
func (t Token) accept(word string) (string, bool) {
	if word == "" {
		return "", false
	}
	for _, x := range t.Exclude {
		if strings.EqualFold(x, word) {
			return "", false
		}
	}
	switch t.Type {
	case String:
		if t.Pattern != nil && !t.Pattern.MatchString(word) {
			return "", false
		}
		return word, true
	case Int:
		n, err := strconv.Atoi(word)
		if err != nil || n < t.Min || n > t.Max {
			return "", false
		}
		return strconv.Itoa(n), true
	case IPv4, IPv6, IP:
		a, err := netip.ParseAddr(word)
		if err != nil || a.Zone() != "" {
			return "", false
		}
		if (t.Type == IPv4 && !a.Is4()) || (t.Type == IPv6 && (!a.Is6() || a.Is4In6())) {
			return "", false
		}
		return a.String(), true
	case IPv4Prefix, IPv6Prefix, IPPrefix:
		p, err := netip.ParsePrefix(word)
		if err != nil {
			return "", false
		}
		a := p.Addr()
		if (t.Type == IPv4Prefix && !a.Is4()) || (t.Type == IPv6Prefix && (!a.Is6() || a.Is4In6())) {
			return "", false
		}
		return p.String(), true
	case MAC:
		hw, err := net.ParseMAC(word)
		if err != nil || len(hw) != 6 {
			return "", false
		}
		return hw.String(), true
	case Enum:
		var hit string
		for _, v := range t.Values {
			if strings.EqualFold(v, word) {
				return v, true
			}
			if strings.HasPrefix(strings.ToLower(v), strings.ToLower(word)) {
				if hit != "" {
					return "", false
				}
				hit = v
			}
		}
		return hit, hit != ""
	}
	return "", false
}

// placeholder is how a variable appears in completion lists.
func (t Token) placeholder() string {
	if t.Type == Int && t.Max > 0 {
		return "<" + strconv.Itoa(t.Min) + "-" + strconv.Itoa(t.Max) + ">"
	}
	return "<" + t.Name + ">"
}

// Args holds the values bound by a successful match.
type Args struct {
	values   map[string][]string
	keywords map[string]bool
}

// Get returns the first value bound to name, or "".
func (a Args) Get(name string) string {
	if v := a.values[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// All returns every value bound to name (repeated groups bind several).
func (a Args) All(name string) []string {
	return a.values[name]
}

// Int returns the value bound to name as an integer. Int variables are
// validated during matching, so a conversion failure yields 0.
func (a Args) Int(name string) int {
	n, _ := strconv.Atoi(a.Get(name))
	return n
}

// Has reports whether the keyword was present in the matched input.
func (a Args) Has(keyword string) bool {
	return a.keywords[keyword]
}

// Text joins all values of name with single spaces.
func (a Args) Text(name string) string {
	return strings.Join(a.values[name], " ")
}

// NewArgs builds Args directly. It is used by callers that synthesize
// invocations without parsing a line.
func NewArgs(values map[string][]string, keywords ...string) Args {
	a := Args{values: values, keywords: make(map[string]bool)}
	if a.values == nil {
		a.values = make(map[string][]string)
	}
	for _, k := range keywords {
		a.keywords[k] = true
	}
	return a
}
