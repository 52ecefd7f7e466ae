package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/configstore"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/dhcpclient"
	"github.com/psaab/routershell/pkg/executor"
	"github.com/psaab/routershell/pkg/mode"
	"github.com/psaab/routershell/pkg/resolver"
	"github.com/psaab/routershell/pkg/system"
)

type testShell struct {
	s     *Session
	rec   *system.Recorder
	store *configstore.Store
	out   *bytes.Buffer
}

func newTestShell(t *testing.T) *testShell {
	t.Helper()
	store, err := configstore.Open(filepath.Join(t.TempDir(), "routershell.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	rec := &system.Recorder{}
	out := &bytes.Buffer{}
	s, err := NewSession(context.Background(), Options{
		Store:    store,
		Resolver: resolver.New(),
		Executor: executor.New(rec),
		Out:      out,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return &testShell{s: s, rec: rec, store: store, out: out}
}

// run dispatches lines and fails the test on the first error.
func (ts *testShell) run(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if err := ts.s.Dispatch(context.Background(), l); err != nil {
			t.Fatalf("%q: %v", l, err)
		}
	}
}

// configure moves the session to Configure mode and forgets the ops that
// took it there.
func (ts *testShell) configure(t *testing.T) {
	t.Helper()
	ts.run(t, "enable", "configure terminal")
	ts.rec.Reset()
	ts.out.Reset()
}

func liveKinds(ops []delta.Op) []delta.Kind {
	var out []delta.Kind
	for _, op := range ops {
		if !op.StoreOnly() {
			out = append(out, op.Kind)
		}
	}
	return out
}

func TestModeTransitions(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()
	steps := []struct {
		line   string
		prompt string
	}{
		{"enable", "Router# "},
		{"configure terminal", "Router(config)# "},
		{"bridge brlan0", "Router(config-br)# "},
		{"interface Gig1", "Router(config-if)# "},
		{"exit", "Router(config)# "},
		{"vlan 10", "Router(config-vlan)# "},
		{"end", "Router(config)# "},
		{"end", "Router# "},
		{"disable", "Router> "},
	}
	for _, st := range steps {
		if err := ts.s.Dispatch(ctx, st.line); err != nil {
			t.Fatalf("%q: %v", st.line, err)
		}
		if got := ts.s.Prompt(); got != st.prompt {
			t.Fatalf("after %q prompt = %q, want %q", st.line, got, st.prompt)
		}
	}
	if err := ts.s.Dispatch(ctx, "exit"); !errors.Is(err, ErrExit) {
		t.Errorf("exit at global: err = %v, want ErrExit", err)
	}
}

func TestHostnameChangesPrompt(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "hostname edge1")
	if got := ts.s.Prompt(); got != "edge1(config)# " {
		t.Errorf("prompt = %q", got)
	}
	ts.run(t, "no hostname")
	if got := ts.s.Prompt(); got != "Router(config)# " {
		t.Errorf("prompt after negation = %q", got)
	}
}

func TestBridgeMembershipOps(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t,
		"bridge brlan0",
		"no shutdown",
		"end",
		"interface Gig1",
		"bridge group brlan0",
		"no shutdown",
	)
	want := []delta.Kind{delta.SetBridgeState, delta.AttachBridge, delta.SetLinkState}
	got := liveKinds(ts.rec.Ops())
	if len(got) != len(want) {
		t.Fatalf("live ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("live op %d = %s, want %s (all %v)", i, got[i], want[i], got)
		}
	}

	cfg, err := ts.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bridges["brlan0"].Shutdown {
		t.Error("bridge still shut down")
	}
	if ifc := cfg.Interfaces["Gig1"]; ifc == nil || ifc.Bridge != "brlan0" || ifc.Shutdown {
		t.Errorf("Gig1 = %+v", ifc)
	}
}

func TestVlanIDConflict(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "vlan 1000", "name vlan1000", "end")

	err := ts.s.Dispatch(context.Background(), "vlan 1000 name other")
	if !errors.Is(err, resolver.ErrInvariantViolation) {
		t.Fatalf("err = %v, want invariant violation", err)
	}
	var re *resolver.Error
	if !errors.As(err, &re) || re.Rule != "vlan-id-unique" {
		t.Errorf("rule = %v", err)
	}
	cfg, _ := ts.store.Load(context.Background())
	if got := cfg.Vlans[1000].Name; got != "vlan1000" {
		t.Errorf("name = %q, overwritten", got)
	}
	if ts.s.Mode().Kind != mode.Configure {
		t.Errorf("mode = %s after failed command", ts.s.Mode().Name())
	}
}

func TestNatDirectionConflict(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "nat pool office-nat", "interface Gig1", "nat inside pool office-nat")

	err := ts.s.Dispatch(context.Background(), "nat outside pool office-nat")
	if !errors.Is(err, resolver.ErrInvariantViolation) {
		t.Fatalf("err = %v, want invariant violation", err)
	}

	// negating the inside role first frees the interface
	ts.run(t, "no nat inside pool office-nat", "nat outside pool office-nat")
	cfg, _ := ts.store.Load(context.Background())
	if n := cfg.Interfaces["Gig1"].Nat; n == nil || n.Direction != "outside" {
		t.Errorf("nat binding = %+v", n)
	}
}

func TestDhcpV6PoolShowsMode(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "dhcp lan6", "subnet fd00:abcd:1234::0/64")
	ts.out.Reset()
	ts.run(t, "do show dhcp pool lan6")

	out := ts.out.String()
	if !strings.Contains(out, "Subnet: fd00:abcd:1234::/64") {
		t.Errorf("missing subnet:\n%s", out)
	}
	if !strings.Contains(out, "IPv6 mode: slaac") {
		t.Errorf("missing derived mode:\n%s", out)
	}
}

type fakeClients []dhcpclient.Lease

func (f fakeClients) Leases() []dhcpclient.Lease { return f }

func TestDhcpClientCommands(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "interface Gig2", "ip dhcp-client", "ipv6 dhcp-client")

	var started []string
	for _, op := range ts.rec.Ops() {
		if op.Kind == delta.SetInterfaceAttr && op.Value == delta.On {
			started = append(started, op.Field)
		}
	}
	if len(started) != 2 || started[0] != delta.AttrDhcpClient || started[1] != delta.AttrDhcpClient6 {
		t.Errorf("client ops = %v", started)
	}
	if cfg := runningConfig(t, ts); !strings.Contains(cfg, " ip dhcp-client\n ipv6 dhcp-client\n") {
		t.Errorf("running-config:\n%s", cfg)
	}

	ts.s.clients = fakeClients{{
		Interface: "Gig2",
		Address:   netip.MustParsePrefix("192.0.2.50/24"),
		Gateway:   netip.MustParseAddr("192.0.2.1"),
		LeaseTime: time.Hour,
		Obtained:  time.Now(),
	}}
	ts.out.Reset()
	ts.run(t, "do show dhcp client")
	out := ts.out.String()
	if !strings.Contains(out, "192.0.2.50/24") || !strings.Contains(out, "requesting") {
		t.Errorf("show dhcp client:\n%s", out)
	}

	ts.rec.Reset()
	ts.run(t, "no ipv6 dhcp-client")
	if ops := ts.rec.Ops(); len(ops) != 1 || ops[0].Field != delta.AttrDhcpClient6 || ops[0].Value != delta.Off {
		t.Errorf("ops = %v", ops)
	}

	ts.run(t, "exit", "interface loopback 0")
	if err := ts.s.Dispatch(context.Background(), "ip dhcp-client"); err == nil {
		t.Error("dhcp client accepted on a loopback")
	}
}

func TestExecutionFailureRollsBack(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t,
		"bridge brlan0",
		"description lan",
		"no shutdown",
		"interface Gig1",
		"bridge-group brlan0",
		"exit",
	)

	// detach, clear description, shut down, delete
	ts.rec.Reset()
	ts.rec.FailAt = 2
	err := ts.s.Dispatch(context.Background(), "no bridge brlan0")

	var xe *executor.ExecutionError
	if !errors.As(err, &xe) {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
	if xe.Step != 2 || xe.State != delta.RolledBack || xe.Reversed != 1 {
		t.Errorf("error = %+v", xe)
	}
	ops := ts.rec.Ops()
	if len(ops) != 3 {
		t.Fatalf("backend saw %d ops, want 2 forward and 1 reversal: %v", len(ops), ops)
	}
	if ops[0].Kind != delta.DetachBridge || ops[2].Kind != delta.AttachBridge {
		t.Errorf("ops = %v", ops)
	}
	for _, op := range ops {
		if op.Kind == delta.SetBridgeState || op.Kind == delta.DeleteBridge {
			t.Errorf("step after the failure was attempted: %s", op)
		}
	}

	cfg, _ := ts.store.Load(context.Background())
	if cfg.Bridges["brlan0"] == nil || cfg.Interfaces["Gig1"].Bridge != "brlan0" {
		t.Error("store changed after a rolled back command")
	}

	var buf bytes.Buffer
	RenderError(&buf, ts.s.Prompt(), "no bridge brlan0", err)
	if !strings.Contains(buf.String(), "Execution failed at step 2") || !strings.Contains(buf.String(), "Rolled back 1 step(s)") {
		t.Errorf("rendered:\n%s", buf.String())
	}
}

func TestNegateAbsentWarns(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "no bridge nosuch")
	if !strings.Contains(ts.out.String(), "% Warning:") {
		t.Errorf("output = %q", ts.out.String())
	}
	if n := len(ts.rec.Ops()); n != 0 {
		t.Errorf("backend saw %d ops", n)
	}
}

func TestSubmodeFallsBackToConfigure(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "interface Gig1", "hostname core")
	if ts.s.Mode().Kind != mode.ConfigInterface {
		t.Errorf("mode = %s, want interface mode kept", ts.s.Mode().Name())
	}
	ts.run(t, "vlan 20")
	if m := ts.s.Mode(); m.Kind != mode.ConfigVlan || m.Param != "20" {
		t.Errorf("mode = %s", m.Name())
	}
	if p, _ := ts.s.Stack().Parent(); p.Kind != mode.Configure {
		t.Errorf("parent = %s", p.Name())
	}
}

func TestDeletedObjectLeavesSubmode(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "bridge br0", "no bridge br0")
	if ts.s.Mode().Kind != mode.Configure {
		t.Errorf("mode = %s", ts.s.Mode().Name())
	}
}

func TestDoRunsShow(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "hostname edge1")
	ts.out.Reset()
	ts.run(t, "do show running-config | include hostname")
	if got := ts.out.String(); got != "hostname edge1\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPipeRejectedOnConfigCommands(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	if err := ts.s.Dispatch(context.Background(), "do show version | bogus x"); err == nil {
		t.Error("unknown modifier accepted")
	}
	// "|" outside show lines is an ordinary character
	ts.run(t, "banner motd a|b")
	cfg, _ := ts.store.Load(context.Background())
	if cfg.Banner != "a|b" {
		t.Errorf("banner = %q", cfg.Banner)
	}
}

func TestArpCommands(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "arp timeout 120", "arp proxy", "arp drop-gratuitous")
	live := ts.rec.Live()
	if len(live) != 3 {
		t.Fatalf("live ops = %v", live)
	}
	for i, field := range []string{delta.SysArpTimeout, delta.SysArpProxy, delta.SysArpDropGratuitous} {
		if live[i].Kind != delta.SetSystemAttr || live[i].Field != field {
			t.Errorf("op %d = %s", i, live[i])
		}
	}
	cfg, _ := ts.store.Load(context.Background())
	if want := (config.Arp{Timeout: 120, Proxy: true, DropGratuitous: true}); cfg.Arp != want {
		t.Errorf("arp = %+v", cfg.Arp)
	}

	ts.run(t, "no arp timeout", "no arp proxy")
	cfg, _ = ts.store.Load(context.Background())
	if cfg.Arp.Timeout != 0 || cfg.Arp.Proxy || !cfg.Arp.DropGratuitous {
		t.Errorf("arp after negation = %+v", cfg.Arp)
	}
	ts.out.Reset()
	ts.run(t, "no arp proxy")
	if !strings.Contains(ts.out.String(), "% Warning:") {
		t.Errorf("clearing an unset setting: output = %q", ts.out.String())
	}
	if err := ts.s.Dispatch(context.Background(), "arp timeout 0"); err == nil {
		t.Error("zero timeout accepted")
	}
}

func TestLongBannerLine(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	text := strings.TrimSpace(strings.Repeat("authorised ", 1000))
	begin := time.Now()
	ts.run(t, "banner motd "+text)
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("dispatch took %s", elapsed)
	}
	cfg, _ := ts.store.Load(context.Background())
	if cfg.Banner != text {
		t.Errorf("banner has %d bytes, want %d", len(cfg.Banner), len(text))
	}
}

func TestShowHistory(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "hostname h1", "hostname h2")
	ts.out.Reset()
	ts.run(t, "do show configuration history")
	out := ts.out.String()
	if !strings.Contains(out, "hostname h2") || !strings.Contains(out, "configure") {
		t.Errorf("history:\n%s", out)
	}
	if strings.Index(out, "hostname h2") > strings.Index(out, "hostname h1") {
		t.Errorf("history not newest first:\n%s", out)
	}

	latest := ts.store.History().Recent(1)[0]
	ts.out.Reset()
	ts.run(t, fmt.Sprintf("do show configuration history %d", latest.ID))
	out = ts.out.String()
	if !strings.Contains(out, "hostname h2") || strings.Contains(out, "hostname h1") {
		t.Errorf("single entry:\n%s", out)
	}
	if err := ts.s.Dispatch(context.Background(), fmt.Sprintf("do show configuration history %d", latest.ID+100)); !errors.Is(err, configstore.ErrNotFound) {
		t.Errorf("unknown commit: err = %v", err)
	}
}

func TestClosedStoreFailsCommand(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.store.Close()
	err := ts.s.Dispatch(context.Background(), "interface loopback 1")
	var se *configstore.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StoreError", err)
	}
	if n := len(ts.rec.Ops()); n != 0 {
		t.Errorf("backend saw %d ops", n)
	}
}

func TestReconcileReappliesStore(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t, "interface loopback 0", "ip address 10.0.0.1/32", "end", "end")
	ts.rec.Reset()
	ts.out.Reset()
	ts.run(t, "copy startup-config running-config")
	if !strings.Contains(ts.out.String(), "[OK]") {
		t.Errorf("output = %q", ts.out.String())
	}
	var sawAddr bool
	for _, op := range ts.rec.Ops() {
		if op.Kind == delta.AddAddress && op.Iface == "loopback0" {
			sawAddr = true
		}
	}
	if !sawAddr {
		t.Errorf("address not reapplied: %v", ts.rec.Ops())
	}
}

// A failing step during reconcile is reported but nothing already on the
// host is torn down and later steps still run.
func TestReconcileFailureKeepsLiveConfig(t *testing.T) {
	ts := newTestShell(t)
	ts.configure(t)
	ts.run(t,
		"bridge brlan0",
		"no shutdown",
		"interface Gig2",
		"bridge-group brlan0",
		"no shutdown",
		"interface Gig1",
		"ip address 10.0.0.1/24",
		"no shutdown",
		"exit",
		"ip route 192.0.2.0/24 10.0.0.254",
		"end",
	)
	ts.rec.Reset()
	ts.out.Reset()
	ts.rec.FailOn = func(_ int, op delta.Op) error {
		if op.Kind == delta.AttachBridge {
			return system.ErrInjected
		}
		return nil
	}
	n, err := ts.s.Reconcile(context.Background())

	var ce *ReconcileError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ReconcileError", err)
	}
	if len(ce.Errs) != 1 || ce.Applied != n || ce.Total != n+1 {
		t.Errorf("reconcile error = %+v (n=%d)", ce, n)
	}
	if !errors.Is(err, system.ErrInjected) {
		t.Errorf("cause not wrapped: %v", err)
	}
	var sawRoute bool
	for _, op := range ts.rec.Ops() {
		switch op.Kind {
		case delta.DetachBridge, delta.RemoveAddress, delta.RemoveRoute, delta.DestroyInterface:
			t.Errorf("teardown attempted: %s", op)
		case delta.SetLinkState, delta.SetBridgeState:
			if !op.Up {
				t.Errorf("link taken down: %s", op)
			}
		case delta.AddRoute:
			sawRoute = true
		}
	}
	if !sawRoute {
		t.Error("steps after the failure were skipped")
	}

	var buf bytes.Buffer
	RenderError(&buf, "", "", err)
	if !strings.Contains(buf.String(), "Reconcile applied") {
		t.Errorf("rendered = %q", buf.String())
	}
}

func TestCompletion(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	names := cmdtree.Names(ts.s.Complete(ctx, ""))
	for _, want := range []string{"enable", "exit", "show"} {
		if !contains(names, want) {
			t.Errorf("global candidates %v missing %q", names, want)
		}
	}

	ts.configure(t)
	ts.run(t, "bridge brlan0", "interface Gig1")
	names = cmdtree.Names(ts.s.Complete(ctx, "bridge-group "))
	if !contains(names, "brlan0") {
		t.Errorf("bridge-group candidates = %v", names)
	}
	names = cmdtree.Names(ts.s.Complete(ctx, "do show ru"))
	if !contains(names, "running-config") {
		t.Errorf("do candidates = %v", names)
	}
	names = cmdtree.Names(ts.s.Complete(ctx, "do show running-config | in"))
	if len(names) != 1 || names[0] != "include" {
		t.Errorf("pipe candidates = %v", names)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestRenderParseErrors(t *testing.T) {
	ts := newTestShell(t)
	ts.run(t, "enable")
	ctx := context.Background()
	prompt := ts.s.Prompt()

	tests := []struct {
		line string
		want string
	}{
		{"co", `% Ambiguous command: "co"`},
		{"show", "% Incomplete command."},
		{"show bogus", strings.Repeat(" ", len(prompt)+5) + "^\n% Invalid input detected at '^' marker."},
	}
	for _, tt := range tests {
		err := ts.s.Dispatch(ctx, tt.line)
		if err == nil {
			t.Errorf("%q: no error", tt.line)
			continue
		}
		var buf bytes.Buffer
		RenderError(&buf, prompt, tt.line, err)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%q rendered:\n%s\nwant %q", tt.line, buf.String(), tt.want)
		}
	}
}

func TestWordColumn(t *testing.T) {
	tests := []struct {
		line string
		pos  int
		want int
	}{
		{"show bogus", 0, 0},
		{"show bogus", 1, 5},
		{"show  ip  x", 2, 10},
		{"show", 3, 4},
	}
	for _, tt := range tests {
		if got := wordColumn(tt.line, tt.pos); got != tt.want {
			t.Errorf("wordColumn(%q, %d) = %d, want %d", tt.line, tt.pos, got, tt.want)
		}
	}
}
