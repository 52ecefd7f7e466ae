package configstore

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "routershell.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDelta(cmd string, ops ...delta.Op) *delta.Delta {
	d := delta.New()
	d.Command = cmd
	d.Add(ops...)
	return d
}

func mustLoad(t *testing.T, s *Store) *config.Config {
	t.Helper()
	cfg, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

// fullConfigOps touches every table.
func fullConfigOps() []delta.Op {
	pfx := netip.MustParsePrefix
	addr := netip.MustParseAddr
	return []delta.Op{
		{Kind: delta.SetHostname, Value: "R1"},
		{Kind: delta.SetBanner, Value: "authorized access only"},
		{Kind: delta.SetSystemAttr, Field: delta.SysArpTimeout, Value: "120"},
		{Kind: delta.SetSystemAttr, Field: delta.SysArpDropGratuitous, Value: delta.On},
		{Kind: delta.AddRename, Rename: config.Rename{BusInfo: "0000:00:03.0", Alias: "Gig1", Original: "enp0s3"}},
		{Kind: delta.CreateBridge, Bridge: "brlan0"},
		{Kind: delta.SetBridgeState, Bridge: "brlan0", Up: true},
		{Kind: delta.SetBridgeAttr, Bridge: "brlan0", Field: delta.AttrDescription, Value: "lan"},
		{Kind: delta.CreateInterface, Iface: "Gig1", IfType: config.Ethernet},
		{Kind: delta.AttachBridge, Iface: "Gig1", Bridge: "brlan0"},
		{Kind: delta.SetLinkState, Iface: "Gig1", Up: true},
		{Kind: delta.CreateInterface, Iface: "Gig2", IfType: config.Ethernet, Up: true},
		{Kind: delta.AddAddress, Iface: "Gig2", Prefix: pfx("198.51.100.2/24")},
		{Kind: delta.AddAddress, Iface: "Gig2", Prefix: pfx("198.51.101.2/24"), Secondary: true},
		{Kind: delta.AddAddress, Iface: "Gig2", Prefix: pfx("2001:db8::2/64")},
		{Kind: delta.AddStaticArp, Iface: "Gig2", Addr: addr("198.51.100.9"), Value: "00:11:22:33:44:55"},
		{Kind: delta.SetInterfaceAttr, Iface: "Gig2", Field: delta.AttrDescription, Value: "uplink"},
		{Kind: delta.SetInterfaceAttr, Iface: "Gig2", Field: delta.AttrProxyArp, Value: delta.On},
		{Kind: delta.SetInterfaceAttr, Iface: "Gig2", Field: delta.AttrSpeed, Value: "1000"},
		{Kind: delta.CreateNatPool, Pool: "wan"},
		{Kind: delta.SetNatPoolAttr, Pool: "wan", Field: delta.AttrTranslation, Value: "snat:198.51.100.2"},
		{Kind: delta.BindNat, Iface: "Gig2", Field: config.NatOutside, Pool: "wan"},
		{Kind: delta.CreateVlan, VlanID: 100, Value: "VLAN0100"},
		{Kind: delta.SetVlanAttr, VlanID: 100, Field: delta.AttrDescription, Value: "guests"},
		{Kind: delta.BindVlan, VlanID: 100, Field: delta.BindBridge, Iface: "brlan0"},
		{Kind: delta.CreateInterface, Iface: "brlan0.100", IfType: config.VlanIf, Up: true},
		{Kind: delta.CreateDhcpPool, Pool: "lan"},
		{Kind: delta.SetDhcpSubnet, Pool: "lan", Prefix: pfx("192.168.1.0/24")},
		{Kind: delta.AddDhcpRange, Pool: "lan", Range: config.DhcpRange{Start: addr("192.168.1.100"), End: addr("192.168.1.199")}},
		{Kind: delta.AddDhcpReservation, Pool: "lan", Value: "00:aa:bb:cc:dd:ee", Addr: addr("192.168.1.10")},
		{Kind: delta.SetDhcpOption, Pool: "lan", Field: "routers", Value: "192.168.1.1"},
		{Kind: delta.SetDhcpOption, Pool: "lan", Field: "domain-name-servers", Value: "192.168.1.1,9.9.9.9"},
		{Kind: delta.AttachDhcp, Iface: "Gig1", Pool: "lan"},
		{Kind: delta.CreateWifiPolicy, Pool: "home"},
		{Kind: delta.SetWifiAttr, Pool: "home", Field: delta.AttrSSID, Value: "homenet"},
		{Kind: delta.SetWifiAttr, Pool: "home", Field: delta.AttrPassphrase, Value: "correct horse"},
		{Kind: delta.SetWifiAttr, Pool: "home", Field: delta.AttrChannel, Value: "11"},
		{Kind: delta.CreateInterface, Iface: "wlan0", IfType: config.WirelessWifi},
		{Kind: delta.AttachWifi, Iface: "wlan0", Pool: "home"},
		{Kind: delta.SetWifiOverride, Iface: "wlan0", Field: delta.AttrHwMode, Value: "a"},
		{Kind: delta.CreateFirewallPolicy, Pool: "web"},
		{Kind: delta.AddFirewallRule, Pool: "web", Rule: config.FirewallRule{Seq: 20, Action: "deny", Proto: "ip", Src: "any", Dst: "any"}},
		{Kind: delta.AddFirewallRule, Pool: "web", Rule: config.FirewallRule{Seq: 10, Action: "allow", Proto: "tcp", Src: "any", Dst: "192.168.1.0/24", DstPort: 443}},
		{Kind: delta.BindFirewall, Iface: "Gig2", Field: config.Inbound, Pool: "web"},
		{Kind: delta.AddRoute, Route: config.StaticRoute{Prefix: pfx("0.0.0.0/0"), Gateway: addr("198.51.100.1"), Iface: "Gig2"}},
		{Kind: delta.SyncDhcp},
	}
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routershell.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewMigrator(s.db).Version()
	if err != nil {
		t.Fatal(err)
	}
	if want := migrations[len(migrations)-1].Version; v != want {
		t.Errorf("schema version = %d, want %d", v, want)
	}
	s.Close()

	// reopening applies nothing and keeps data
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if cfg := mustLoad(t, s); cfg.Hostname != "Router" || len(cfg.Interfaces) != 0 {
		t.Errorf("fresh store = %+v", cfg)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	s := newTestStore(t)
	d := newDelta("load", fullConfigOps()...)

	want := config.New()
	if err := d.ApplyTo(want); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(context.Background(), d, "config"); err != nil {
		t.Fatal(err)
	}
	got := mustLoad(t, s)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("loaded config differs from in-memory application\n got: %+v\nwant: %+v", got, want)
	}

	// replaying the same delta changes nothing
	if err := s.Commit(context.Background(), d, "config"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again := mustLoad(t, s); !reflect.DeepEqual(again, want) {
		t.Error("replay changed the stored configuration")
	}
}

func TestCommitSpotChecks(t *testing.T) {
	s := newTestStore(t)
	if err := s.Commit(context.Background(), newDelta("load", fullConfigOps()...), "config"); err != nil {
		t.Fatal(err)
	}
	cfg := mustLoad(t, s)

	gig2 := cfg.Interfaces["Gig2"]
	if gig2 == nil {
		t.Fatal("Gig2 missing")
	}
	if len(gig2.Addresses) != 3 || gig2.Addresses[0].Prefix.String() != "198.51.100.2/24" || !gig2.Addresses[1].Secondary {
		t.Errorf("addresses = %v", gig2.Addresses)
	}
	if gig2.Nat == nil || gig2.Nat.Direction != config.NatOutside || gig2.Nat.Pool != "wan" {
		t.Errorf("nat = %+v", gig2.Nat)
	}
	if pool := cfg.NatPools["wan"]; pool.Translation != config.TranslateSNAT || pool.SnatAddress.String() != "198.51.100.2" {
		t.Errorf("nat pool = %+v", pool)
	}
	if rules := cfg.FirewallPolicies["web"].Rules; len(rules) != 2 || rules[0].Seq != 10 {
		t.Errorf("rules not ordered by seq: %v", rules)
	}
	if v := cfg.Vlans[100]; len(v.Bindings) != 1 || v.Bindings[0].Bridge != "brlan0" {
		t.Errorf("vlan = %+v", v)
	}
	if members := cfg.BridgeMembers("brlan0"); len(members) != 1 || members[0] != "Gig1" {
		t.Errorf("bridge members = %v", members)
	}
}

func TestCommitIsAtomic(t *testing.T) {
	s := newTestStore(t)
	d := newDelta("interface Gig1",
		delta.Op{Kind: delta.CreateInterface, Iface: "Gig1", IfType: config.Ethernet},
		delta.Op{Kind: delta.SetLinkState, Iface: "Gig9", Up: true},
	)
	err := s.Commit(context.Background(), d, "config-if")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var serr *StoreError
	if !errors.As(err, &serr) || serr.Op != "commit" {
		t.Errorf("err = %#v, want *StoreError", err)
	}
	if cfg := mustLoad(t, s); len(cfg.Interfaces) != 0 {
		t.Errorf("partial commit persisted: %v", config.SortedKeys(cfg.Interfaces))
	}
	if s.History().Len() != 0 {
		t.Error("failed commit recorded in history")
	}
}

func TestConstraintViolations(t *testing.T) {
	base := []delta.Op{
		{Kind: delta.CreateBridge, Bridge: "br0"},
		{Kind: delta.CreateInterface, Iface: "eth0", IfType: config.Ethernet},
		{Kind: delta.CreateInterface, Iface: "eth1", IfType: config.Ethernet},
		{Kind: delta.AttachBridge, Iface: "eth0", Bridge: "br0"},
		{Kind: delta.CreateVlan, VlanID: 10, Value: "VLAN0010"},
		{Kind: delta.CreateVlan, VlanID: 20, Value: "VLAN0020"},
		{Kind: delta.BindVlan, VlanID: 10, Field: delta.BindInterface, Iface: "eth1"},
	}
	tests := []struct {
		name string
		op   delta.Op
	}{
		{"bridge with members", delta.Op{Kind: delta.DeleteBridge, Bridge: "br0"}},
		{"duplicate vlan name", delta.Op{Kind: delta.CreateVlan, VlanID: 30, Value: "VLAN0010"}},
		{"rename vlan onto another", delta.Op{Kind: delta.SetVlanAttr, VlanID: 20, Field: delta.AttrName, Value: "VLAN0010"}},
		{"second vlan on parent", delta.Op{Kind: delta.BindVlan, VlanID: 20, Field: delta.BindInterface, Iface: "eth1"}},
		{"nat pool missing", delta.Op{Kind: delta.BindNat, Iface: "eth1", Field: config.NatInside, Pool: "nope"}},
		{"bridge missing", delta.Op{Kind: delta.AttachBridge, Iface: "eth1", Bridge: "nope"}},
		{"interface carries vlan", delta.Op{Kind: delta.DestroyInterface, Iface: "eth1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if err := s.Commit(context.Background(), newDelta("setup", base...), "config"); err != nil {
				t.Fatal(err)
			}
			err := s.Commit(context.Background(), newDelta(tt.name, tt.op), "config")
			if !errors.Is(err, ErrConstraint) {
				t.Errorf("err = %v, want ErrConstraint", err)
			}
		})
	}
}

func TestOwnedRowsCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Commit(ctx, newDelta("load", fullConfigOps()...), "config"); err != nil {
		t.Fatal(err)
	}
	teardown := newDelta("no firewall web",
		delta.Op{Kind: delta.UnbindFirewall, Iface: "Gig2", Field: config.Inbound, Pool: "web"},
		delta.Op{Kind: delta.DeleteFirewallPolicy, Pool: "web"},
		delta.Op{Kind: delta.DetachDhcp, Iface: "Gig1", Pool: "lan"},
		delta.Op{Kind: delta.DeleteDhcpPool, Pool: "lan"},
	)
	if err := s.Commit(ctx, teardown, "config"); err != nil {
		t.Fatal(err)
	}
	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["firewall_rules"] != 0 || counts["dhcp_reservations"] != 0 || counts["dhcp_pools"] != 0 {
		t.Errorf("orphaned rows remain: %v", counts)
	}
	if counts["interfaces"] != 4 || counts["commit_log"] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRemoveOpsRestoreState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setup := newDelta("setup",
		delta.Op{Kind: delta.CreateInterface, Iface: "eth0", IfType: config.Ethernet},
		delta.Op{Kind: delta.AddAddress, Iface: "eth0", Prefix: netip.MustParsePrefix("10.0.0.1/24")},
	)
	if err := s.Commit(ctx, setup, "config"); err != nil {
		t.Fatal(err)
	}
	before := mustLoad(t, s)

	ops := []delta.Op{
		{Kind: delta.SetInterfaceAttr, Iface: "eth0", Field: delta.AttrDescription, Value: "x"},
		{Kind: delta.AddStaticArp, Iface: "eth0", Addr: netip.MustParseAddr("10.0.0.5"), Value: "00:00:5e:00:53:01"},
		{Kind: delta.SetInterfaceAttr, Iface: "eth0", Field: delta.AttrDropGratuitousArp, Value: delta.On},
		{Kind: delta.SetSystemAttr, Field: delta.SysArpProxy, Value: delta.On},
		{Kind: delta.SetSystemAttr, Field: delta.SysArpTimeout, Value: "300"},
	}
	if err := s.Commit(ctx, newDelta("apply", ops...), "config-if"); err != nil {
		t.Fatal(err)
	}
	undo := delta.New()
	for i := len(ops) - 1; i >= 0; i-- {
		undo.Add(ops[i].Inverse())
	}
	if err := s.Commit(ctx, undo, "config-if"); err != nil {
		t.Fatal(err)
	}
	if after := mustLoad(t, s); !reflect.DeepEqual(after, before) {
		t.Errorf("inverse ops did not restore state\n got: %+v\nwant: %+v", after.Interfaces["eth0"], before.Interfaces["eth0"])
	}
}

func TestHistoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routershell.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, name := range []string{"R1", "R2", "R3"} {
		d := newDelta("hostname "+name, delta.Op{Kind: delta.SetHostname, Value: name})
		if err := s.Commit(ctx, d, "config"); err != nil {
			t.Fatal(err)
		}
	}
	// empty deltas are not commits
	if err := s.Commit(ctx, newDelta("hostname R3"), "config"); err != nil {
		t.Fatal(err)
	}
	if s.History().Len() != 3 {
		t.Fatalf("history len = %d, want 3", s.History().Len())
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	list := s.History().Recent(0)
	if len(list) != 3 || list[0].Command != "hostname R3" || list[2].Command != "hostname R1" {
		t.Fatalf("reloaded history = %+v", list)
	}
	if list[0].ID == 0 || list[0].Mode != "config" || list[0].Ops != 1 || list[0].Timestamp.IsZero() {
		t.Errorf("entry = %+v", list[0])
	}
	if got := mustLoad(t, s).Hostname; got != "R3" {
		t.Errorf("hostname = %q", got)
	}

	// IDs survive the reload and keep counting up
	first, err := s.History().Get(list[2].ID)
	if err != nil || first.Command != "hostname R1" {
		t.Errorf("Get(%d) = %+v, %v", list[2].ID, first, err)
	}
	if err := s.Commit(ctx, newDelta("hostname R4", delta.Op{Kind: delta.SetHostname, Value: "R4"}), "config"); err != nil {
		t.Fatal(err)
	}
	if latest := s.History().Recent(1); len(latest) != 1 || latest[0].ID <= list[0].ID {
		t.Errorf("latest = %+v after %d", latest, list[0].ID)
	}
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	for id := int64(1); id <= 5; id++ {
		h.Record(&HistoryEntry{ID: id * 10, Ops: int(id)})
	}
	if h.Len() != 3 || h.Cap() != 3 {
		t.Fatalf("len = %d cap = %d", h.Len(), h.Cap())
	}
	var ids []int64
	for _, e := range h.Recent(0) {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []int64{50, 40, 30}) {
		t.Errorf("recent = %v", ids)
	}
	if got := h.Recent(2); len(got) != 2 || got[1].ID != 40 {
		t.Errorf("Recent(2) = %+v", got)
	}

	tests := []struct {
		id  int64
		ops int
		ok  bool
	}{
		{50, 5, true},
		{30, 3, true},
		{40, 4, true},
		{20, 0, false}, // evicted
		{35, 0, false},
		{60, 0, false},
	}
	for _, tt := range tests {
		e, err := h.Get(tt.id)
		if !tt.ok {
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(%d) err = %v", tt.id, err)
			}
			continue
		}
		if err != nil || e.Ops != tt.ops {
			t.Errorf("Get(%d) = %+v, %v", tt.id, e, err)
		}
	}

	if _, err := NewHistory(2).Get(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty history: err = %v", err)
	}
}

func TestDestroy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routershell.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := Destroy(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("store still present: %v", err)
	}
	if err := Destroy(path); err != nil {
		t.Errorf("destroying twice: %v", err)
	}
}
