package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/mode"
)

const sampleConfig = `hostname edge1
banner motd authorised use only
arp timeout 300
arp proxy
!
vlan 10
 name users
!
bridge brlan0
 description lan side
 no shutdown
!
nat pool office-nat
 translation snat 198.51.100.7
!
dhcp lan
 subnet 192.168.10.0/24
 pool 192.168.10.100 192.168.10.199
 reservation hw-address 00:11:22:33:44:55 ip-address 192.168.10.5
!
interface Gig1
 bridge-group brlan0
 no shutdown
!
interface Gig2
 ip address 198.51.100.2/24
 nat outside pool office-nat
 no shutdown
!
interface Gig3
 ip dhcp-client
 no shutdown
!
interface loopback 0
 ip address 10.255.0.1/32
!
ip route 0.0.0.0/0 198.51.100.1
!
end
`

func runningConfig(t *testing.T, ts *testShell) string {
	t.Helper()
	var buf bytes.Buffer
	cfg, err := ts.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	WriteRunningConfig(&buf, cfg)
	return buf.String()
}

func TestLoadRunningConfig(t *testing.T) {
	ts := newTestShell(t)
	var errs bytes.Buffer
	failed, err := ts.s.Load(context.Background(), strings.NewReader(sampleConfig), &errs)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 0 {
		t.Fatalf("%d lines failed:\n%s", failed, errs.String())
	}
	if m := ts.s.Mode(); m.Kind != mode.Privileged {
		t.Errorf("mode after load = %s", m.Name())
	}

	first := runningConfig(t, ts)
	for _, want := range []string{
		"hostname edge1",
		"arp timeout 300\narp proxy\n!",
		" name users",
		" translation snat 198.51.100.7",
		" reservation hw-address 00:11:22:33:44:55 ip-address 192.168.10.5",
		"interface loopback 0",
		" nat outside pool office-nat",
		"interface Gig3\n ip dhcp-client\n",
		"ip route 0.0.0.0/0 198.51.100.1",
	} {
		if !strings.Contains(first, want) {
			t.Errorf("running-config missing %q:\n%s", want, first)
		}
	}

	// the rendered configuration loads into an empty store unchanged
	other := newTestShell(t)
	failed, err = other.s.Load(context.Background(), strings.NewReader(first), &errs)
	if err != nil || failed != 0 {
		t.Fatalf("reload: failed=%d err=%v\n%s", failed, err, errs.String())
	}
	if second := runningConfig(t, other); second != first {
		t.Errorf("round trip differs:\n--- first\n%s\n--- second\n%s", first, second)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	ts := newTestShell(t)
	var errs bytes.Buffer
	if _, err := ts.s.Load(context.Background(), strings.NewReader(sampleConfig), &errs); err != nil {
		t.Fatal(err)
	}
	before := runningConfig(t, ts)
	ts.rec.Reset()

	failed, err := ts.s.Load(context.Background(), strings.NewReader(sampleConfig), &errs)
	if err != nil || failed != 0 {
		t.Fatalf("second load: failed=%d err=%v\n%s", failed, err, errs.String())
	}
	if after := runningConfig(t, ts); after != before {
		t.Errorf("second load changed the configuration:\n%s", after)
	}
	// ensures are replayed, never creations of new objects
	for _, op := range ts.rec.Ops() {
		if op.Kind == delta.CreateBridge || op.Kind == delta.CreateVlan || op.Kind == delta.CreateNatPool {
			t.Errorf("second load recreated an object: %s", op)
		}
	}
}

func TestLoadReportsBadLines(t *testing.T) {
	ts := newTestShell(t)
	input := strings.Join([]string{
		"hostname ok",
		"bogus command",
		"interface Gig1",
		" nat inside pool missing",
		" description still applied",
	}, "\n")
	var errs bytes.Buffer
	failed, err := ts.s.Load(context.Background(), strings.NewReader(input), &errs)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 2 {
		t.Errorf("failed = %d, want 2\n%s", failed, errs.String())
	}
	out := errs.String()
	if !strings.Contains(out, "line 2: bogus command") || !strings.Contains(out, "line 4: ") {
		t.Errorf("errors:\n%s", out)
	}
	cfg, _ := ts.store.Load(context.Background())
	if cfg.Hostname != "ok" || cfg.Interfaces["Gig1"].Description != "still applied" {
		t.Errorf("good lines not applied: hostname=%q", cfg.Hostname)
	}
}
