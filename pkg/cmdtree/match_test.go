package cmdtree

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testTable() []Template {
	return []Template{
		{Tokens: Seq(Kw("show", "Show running system information"), Kw("interfaces", "Interface status"), Opt(Var("name", String, "Interface name")))},
		{Tokens: Seq(Kw("shutdown", "Shutdown the selected interface")), Negatable: true},
		{Tokens: Seq(Kw("ip", "IPv4 settings"), Kw("address", "Set an IPv4 address"), Var("cidr", IPv4Prefix, "Address/prefix"), Opt(Kw("secondary", "Secondary address"))), Negatable: true},
		{Tokens: Seq(Kw("ipv6", "IPv6 settings"), Kw("address", "Set an IPv6 address"), Var("cidr", IPv6Prefix, "Address/prefix"))},
		{Tokens: Seq(Kw("vlan", "VLAN configuration"), IntVar("id", 1, 4094, "VLAN ID"), Opt(Kw("name", "VLAN name"), Var("vname", String, "Name")))},
		{Tokens: Seq(Kw("description", "Description"), Var("text", String, "Text"), Rep(Var("text", String, "Text")))},
		{Tokens: Seq(Kw("duplex", "Duplex mode"), EnumVar("mode", "Duplex", "auto", "half", "full"))},
		{Tokens: Seq(Kw("bridge", "Bridge membership"), OneOf(Seq(Kw("group", "Join a bridge group")), Seq()), Var("bridge", String, "Bridge name").Suggest("bridge"))},
	}
}

func TestMatchExactKeyword(t *testing.T) {
	m, err := MatchLine(testTable(), "ip address 10.0.0.1/24")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.Index != 2 {
		t.Fatalf("index = %d, want 2", m.Index)
	}
	if got := m.Args.Get("cidr"); got != "10.0.0.1/24" {
		t.Errorf("cidr = %q", got)
	}
	if m.Args.Has("secondary") {
		t.Error("secondary should not be set")
	}
}

func TestMatchAbbreviation(t *testing.T) {
	m, err := MatchLine(testTable(), "sho int Gig1")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.Index != 0 || m.Args.Get("name") != "Gig1" {
		t.Errorf("got index %d name %q", m.Index, m.Args.Get("name"))
	}

	m, err = MatchLine(testTable(), "ip add 10.0.0.1/24 sec")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !m.Args.Has("secondary") {
		t.Error("secondary keyword not bound")
	}
}

func TestMatchAmbiguousPrefix(t *testing.T) {
	_, err := MatchLine(testTable(), "sh")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Kind != Ambiguous {
		t.Fatalf("kind = %v, want ambiguous", pe.Kind)
	}
	names := Names(pe.Candidates)
	if !reflect.DeepEqual(names, []string{"show", "shutdown"}) {
		t.Errorf("candidates = %v", names)
	}
}

func TestMatchExactBeatsLongerKeyword(t *testing.T) {
	// "ip" is both a full keyword and a prefix of "ipv6".
	m, err := MatchLine(testTable(), "ip address 192.168.1.1/24")
	if err != nil {
		t.Fatal(err)
	}
	if m.Index != 2 {
		t.Errorf("index = %d, want ip template", m.Index)
	}
}

func TestMatchVariableValidation(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
	}{
		{"vlan 1000", true},
		{"vlan 0", false},
		{"vlan 4095", false},
		{"vlan abc", false},
		{"ip address 10.0.0.1", false},
		{"ip address fd00::1/64", false},
		{"ipv6 address fd00::1/64", true},
		{"duplex full", true},
		{"duplex fu", true},
		{"duplex quarter", false},
	}
	for _, tt := range tests {
		_, err := MatchLine(testTable(), tt.line)
		if (err == nil) != tt.ok {
			t.Errorf("%q: err = %v, want ok=%v", tt.line, err, tt.ok)
		}
	}
}

func TestMatchEnumCanonical(t *testing.T) {
	m, err := MatchLine(testTable(), "duplex FULL")
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Args.Get("mode"); got != "full" {
		t.Errorf("mode = %q, want full", got)
	}
}

func TestMatchIncomplete(t *testing.T) {
	_, err := MatchLine(testTable(), "ip address")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != Incomplete {
		t.Fatalf("expected incomplete, got %v", err)
	}
	if len(pe.Candidates) != 1 || pe.Candidates[0].Name != "<cidr>" {
		t.Errorf("candidates = %+v", pe.Candidates)
	}
}

func TestMatchNoMatchPosition(t *testing.T) {
	_, err := MatchLine(testTable(), "show interfaces Gig1 extra")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != NoMatch {
		t.Fatalf("expected no match, got %v", err)
	}
	if pe.Pos != 3 || pe.Word != "extra" {
		t.Errorf("pos = %d word = %q", pe.Pos, pe.Word)
	}
}

func TestMatchNegation(t *testing.T) {
	m, err := MatchLine(testTable(), "no shutdown")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Negate || m.Index != 1 {
		t.Errorf("negate = %v index = %d", m.Negate, m.Index)
	}

	// vlan is not negatable in this table.
	if _, err := MatchLine(testTable(), "no vlan 10"); err == nil {
		t.Error("expected failure negating non-negatable command")
	}
}

func TestMatchNoTokens(t *testing.T) {
	table := []Template{{
		Tokens:    Seq(Kw("mac", "MAC"), Kw("address", "Address"), Var("mac", MAC, "MAC")),
		NoTokens:  Seq(Kw("mac", "MAC"), Kw("address", "Address")),
		Negatable: true,
	}}
	if _, err := MatchLine(table, "no mac address"); err != nil {
		t.Errorf("negated short form: %v", err)
	}
	if _, err := MatchLine(table, "mac address"); err == nil {
		t.Error("positive form requires a MAC")
	}
	m, err := MatchLine(table, "mac address AA:BB:CC:00:11:22")
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Args.Get("mac"); got != "aa:bb:cc:00:11:22" {
		t.Errorf("mac = %q", got)
	}
}

func TestMatchRepeated(t *testing.T) {
	m, err := MatchLine(testTable(), "description uplink to core switch")
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Args.Text("text"); got != "uplink to core switch" {
		t.Errorf("text = %q", got)
	}
	if _, err := MatchLine(testTable(), "description"); err == nil {
		t.Error("description needs at least one word")
	}
}

func TestMatchLongRepeatedLine(t *testing.T) {
	table := append(testTable(),
		Template{Tokens: Seq(Kw("banner", ""), Kw("motd", ""), Rep(Var("text", String, "")))},
		Template{Tokens: Seq(Kw("do", ""), Var("cmd", String, ""), Rep(Var("args", String, "")))},
		Template{Tokens: Seq(Kw("option", ""), Var("name", String, ""), Rep(Var("value", String, "")))},
	)
	words := []string{"banner", "motd"}
	for i := 0; i < 1000; i++ {
		words = append(words, "word")
	}
	begin := time.Now()
	m, err := MatchWords(table, words)
	elapsed := time.Since(begin)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.Args.All("text")); got != 1000 {
		t.Errorf("bound %d words, want 1000", got)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("matching 1002 words took %s", elapsed)
	}

	// a line no template accepts fails just as fast
	words[0] = "nosuch"
	begin = time.Now()
	if _, err := MatchWords(table, words); err == nil {
		t.Error("unknown command matched")
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("rejecting 1002 words took %s", elapsed)
	}
}

func TestMatchRepeatedOptionalGroup(t *testing.T) {
	table := []Template{{Tokens: Seq(Kw("set", ""), Rep(Opt(Kw("flag", ""))), Var("v", String, ""))}}
	m, err := MatchLine(table, "set flag value")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Args.Has("flag") || m.Args.Get("v") != "value" {
		t.Errorf("args = %+v", m.Args)
	}
	if _, err := MatchLine(table, "set value"); err != nil {
		t.Errorf("empty repetition: %v", err)
	}
}

func TestMatchRepeatedGroupOrder(t *testing.T) {
	table := []Template{{Tokens: Seq(Kw("permit", ""), Rep(Kw("port", ""), IntVar("n", 1, 65535, "")))}}
	m, err := MatchLine(table, "permit port 22 port 80 port 443")
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Args.All("n"); !reflect.DeepEqual(got, []string{"22", "80", "443"}) {
		t.Errorf("n = %v", got)
	}
	var pe *ParseError
	if _, err := MatchLine(table, "permit port 22 port"); !errors.As(err, &pe) || pe.Kind != Incomplete {
		t.Errorf("err = %v, want incomplete", err)
	}
}

func TestMatchPrefersFewerSkippedOptionals(t *testing.T) {
	table := []Template{
		{Tokens: Seq(Kw("set", ""), Opt(Kw("force", "")), Var("v", String, ""))},
		{Tokens: Seq(Kw("set", ""), Var("v", String, ""))},
	}
	m, err := MatchLine(table, "set foo")
	if err != nil {
		t.Fatal(err)
	}
	if m.Index != 1 {
		t.Errorf("index = %d, want the template without skipped optionals", m.Index)
	}

	m, err = MatchLine(table, "set force foo")
	if err != nil {
		t.Fatal(err)
	}
	if m.Index != 0 || m.Args.Get("v") != "foo" {
		t.Errorf("index = %d v = %q", m.Index, m.Args.Get("v"))
	}
}

func TestMatchAmbiguousTemplates(t *testing.T) {
	table := []Template{
		{Tokens: Seq(Kw("set", ""), Var("a", String, ""))},
		{Tokens: Seq(Kw("set", ""), Var("b", String, ""))},
	}
	_, err := MatchLine(table, "set x")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != Ambiguous {
		t.Fatalf("expected ambiguous, got %v", err)
	}
}

func TestMatchChoice(t *testing.T) {
	for _, line := range []string{"bridge group brlan0", "bridge brlan0"} {
		m, err := MatchLine(testTable(), line)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		if m.Args.Get("bridge") != "brlan0" {
			t.Errorf("%q: bridge = %q", line, m.Args.Get("bridge"))
		}
	}
}

func TestMatchExcluding(t *testing.T) {
	table := []Template{
		{Tokens: Seq(Kw("interface", ""), Var("name", String, "").Excluding("loopback"))},
		{Tokens: Seq(Kw("interface", ""), Kw("loopback", ""), IntVar("n", 0, 1024, ""))},
	}
	if _, err := MatchLine(table, "interface loopback"); err == nil {
		t.Error("excluded word should not bind to the name variable")
	}
	m, err := MatchLine(table, "interface loopback 3")
	if err != nil || m.Index != 1 {
		t.Fatalf("got %+v, %v", m, err)
	}
}

func TestMatchDeterministic(t *testing.T) {
	lines := []string{"show interfaces", "ip address 10.1.1.1/24 secondary", "no shutdown", "vlan 10 name users"}
	for _, line := range lines {
		first, err1 := MatchLine(testTable(), line)
		for i := 0; i < 20; i++ {
			again, err2 := MatchLine(testTable(), line)
			if !reflect.DeepEqual(first, again) || (err1 == nil) != (err2 == nil) {
				t.Fatalf("%q: result changed on iteration %d", line, i)
			}
		}
	}
}

func TestComplete(t *testing.T) {
	dyn := func(key string) []string {
		if key == "bridge" {
			return []string{"brlan0", "brwan0"}
		}
		return nil
	}
	tests := []struct {
		line string
		want []string
	}{
		{"sh", []string{"show", "shutdown"}},
		{"show ", []string{"interfaces"}},
		{"show interfaces ", []string{"<name>", "<cr>"}},
		{"duplex ", []string{"auto", "full", "half"}},
		{"bridge group brl", []string{"brlan0"}},
		{"no ", []string{"ip", "shutdown"}},
		{"vlan 5000 ", nil},
	}
	for _, tt := range tests {
		var got []string
		for _, c := range Complete(testTable(), tt.line, dyn) {
			got = append(got, c.Name)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Complete(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestCompleteOffersNo(t *testing.T) {
	got := Complete(testTable(), "n", nil)
	if len(got) != 1 || got[0].Name != "no" {
		t.Errorf("got %+v", got)
	}
}

func TestWriteHelp(t *testing.T) {
	var sb strings.Builder
	WriteHelp(&sb, []Candidate{{Name: "shutdown", Desc: "Shutdown the selected interface"}, {Name: "<cr>"}})
	out := sb.String()
	if !strings.HasPrefix(out, "Possible completions:\n") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "  shutdown") || !strings.Contains(out, "Shutdown the selected interface") {
		t.Errorf("missing candidate: %q", out)
	}
}

func TestCommonPrefix(t *testing.T) {
	if got := CommonPrefix([]string{"interface", "interfaces", "inter"}); got != "inter" {
		t.Errorf("got %q", got)
	}
	if got := CommonPrefix(nil); got != "" {
		t.Errorf("got %q", got)
	}
}
