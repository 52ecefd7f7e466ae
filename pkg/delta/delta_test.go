package delta

import (
	"net/netip"
	"reflect"
	"testing"

	"github.com/psaab/routershell/pkg/config"
)

func TestInverseIsInvolution(t *testing.T) {
	ops := []Op{
		{Kind: CreateInterface, Iface: "loopback1", IfType: config.Loopback, Up: true},
		{Kind: SetLinkState, Iface: "Gig1", Up: true, PrevUp: false},
		{Kind: SetInterfaceAttr, Iface: "Gig1", Field: AttrDescription, Value: "uplink", Prev: "old"},
		{Kind: AttachBridge, Iface: "Gig1", Bridge: "brlan0"},
		{Kind: SetDhcpSubnet, Pool: "lan", Prefix: netip.MustParsePrefix("10.0.0.0/24")},
		{Kind: BindNat, Iface: "Gig1", Field: config.NatInside, Pool: "office"},
	}
	for _, op := range ops {
		if got := op.Inverse().Inverse(); !reflect.DeepEqual(got, op) {
			t.Errorf("%s: inverse twice = %+v", op, got)
		}
	}
}

func TestSystemAttrs(t *testing.T) {
	cfg := config.New()
	ops := []Op{
		{Kind: SetSystemAttr, Field: SysArpTimeout, Value: "300"},
		{Kind: SetSystemAttr, Field: SysArpProxy, Value: On},
		{Kind: SetSystemAttr, Field: SysArpDropGratuitous, Value: On},
	}
	for _, op := range ops {
		if err := Apply(cfg, op); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
	}
	want := config.Arp{Timeout: 300, Proxy: true, DropGratuitous: true}
	if cfg.Arp != want {
		t.Errorf("arp = %+v, want %+v", cfg.Arp, want)
	}
	for i := len(ops) - 1; i >= 0; i-- {
		if err := Apply(cfg, ops[i].Inverse()); err != nil {
			t.Fatal(err)
		}
	}
	if cfg.Arp != (config.Arp{}) {
		t.Errorf("arp after inverse = %+v", cfg.Arp)
	}
	if err := Apply(cfg, Op{Kind: SetSystemAttr, Field: "bogus", Value: On}); err == nil {
		t.Error("unknown attribute accepted")
	}
	if err := Apply(cfg, Op{Kind: SetSystemAttr, Field: SysArpTimeout, Value: "soon"}); err == nil {
		t.Error("non-numeric timeout accepted")
	}
}

func TestInverseKinds(t *testing.T) {
	for _, k := range Kinds() {
		op := Op{Kind: k}
		inv := op.Inverse()
		if _, paired := inverseKinds[k]; paired && inv.Kind == k {
			t.Errorf("%v: inverse kind unchanged", k)
		}
		if kindNames[inv.Kind] == "" {
			t.Errorf("%v: inverse has no name", k)
		}
	}
}

func TestApplyIdempotent(t *testing.T) {
	d := New()
	d.Add(
		Op{Kind: CreateBridge, Bridge: "brlan0"},
		Op{Kind: SetBridgeState, Bridge: "brlan0", Up: true},
		Op{Kind: CreateInterface, Iface: "Gig1", IfType: config.Ethernet},
		Op{Kind: AttachBridge, Iface: "Gig1", Bridge: "brlan0"},
		Op{Kind: AddAddress, Iface: "Gig1", Prefix: netip.MustParsePrefix("192.168.1.1/24")},
		Op{Kind: CreateVlan, VlanID: 1000, Value: "vlan1000"},
		Op{Kind: BindVlan, VlanID: 1000, Field: BindBridge, Iface: "brlan0"},
		Op{Kind: CreateDhcpPool, Pool: "lan"},
		Op{Kind: SetDhcpOption, Pool: "lan", Field: "domain-name", Value: "lan.example"},
		Op{Kind: CreateFirewallPolicy, Pool: "edge"},
		Op{Kind: AddFirewallRule, Pool: "edge", Rule: config.FirewallRule{Seq: 10, Action: "allow", Proto: "tcp", Src: "any", Dst: "any", DstPort: 22}},
	)
	once := config.New()
	if err := d.ApplyTo(once); err != nil {
		t.Fatal(err)
	}
	twice := once.Clone()
	if err := d.ApplyTo(twice); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Error("applying the delta twice changed the result")
	}
	if len(twice.Interfaces["Gig1"].Addresses) != 1 {
		t.Errorf("addresses duplicated: %v", twice.Interfaces["Gig1"].Addresses)
	}
	if len(twice.Vlans[1000].Bindings) != 1 {
		t.Errorf("bindings duplicated: %v", twice.Vlans[1000].Bindings)
	}
}

func TestApplyMissingParent(t *testing.T) {
	cfg := config.New()
	if err := Apply(cfg, Op{Kind: AttachBridge, Iface: "Gig9", Bridge: "br0"}); err == nil {
		t.Error("expected error for unknown interface")
	}
	if err := Apply(cfg, Op{Kind: SetBridgeState, Bridge: "br0", Up: true}); err == nil {
		t.Error("expected error for unknown bridge")
	}
}

func TestApplyInverseRestores(t *testing.T) {
	cfg := config.New()
	cfg.Interfaces["Gig1"] = &config.Interface{Name: "Gig1", Type: config.Ethernet, Shutdown: true}
	before := cfg.Clone()

	d := New()
	d.Add(
		Op{Kind: SetLinkState, Iface: "Gig1", Up: true, PrevUp: false},
		Op{Kind: AddAddress, Iface: "Gig1", Prefix: netip.MustParsePrefix("10.1.1.1/24")},
		Op{Kind: SetInterfaceAttr, Iface: "Gig1", Field: AttrProxyArp, Value: On, Prev: Off},
	)
	if err := d.ApplyTo(cfg); err != nil {
		t.Fatal(err)
	}
	for i := len(d.Ops) - 1; i >= 0; i-- {
		if err := Apply(cfg, d.Ops[i].Inverse()); err != nil {
			t.Fatal(err)
		}
	}
	if !reflect.DeepEqual(cfg, before) {
		t.Errorf("inverse did not restore state:\n got %+v\nwant %+v", cfg.Interfaces["Gig1"], before.Interfaces["Gig1"])
	}
}

func TestStateString(t *testing.T) {
	if RollbackFailed.String() != "ROLLBACK_FAILED" {
		t.Errorf("got %s", RollbackFailed)
	}
}
