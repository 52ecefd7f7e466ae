package netops

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vishvananda/netlink"

	"github.com/psaab/routershell/pkg/config"
)

func TestLinkType(t *testing.T) {
	tests := []struct {
		name     string
		link     netlink.Link
		wireless bool
		want     config.IfType
	}{
		{"vlan", &netlink.Vlan{VlanId: 10}, false, config.VlanIf},
		{"dummy", &netlink.Dummy{}, false, config.Dummy},
		{"loopback", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Flags: net.FlagLoopback}}, false, config.Loopback},
		{"wifi", &netlink.Device{}, true, config.WirelessWifi},
		{"ethernet", &netlink.Device{}, false, config.Ethernet},
	}
	for _, tt := range tests {
		if got := linkType(tt.link, tt.wireless); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestSetSysctl(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proc/sys/net/ipv4/conf/eth0")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	m := &Manager{SysRoot: root}
	if err := m.SetSysctl("eth0", SysctlProxyArp, true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, SysctlProxyArp))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1\n" {
		t.Errorf("proxy_arp = %q", data)
	}
	if err := m.SetSysctl("eth9", SysctlProxyArp, true); err == nil {
		t.Error("expected error for missing interface")
	}
}

func TestSetArpStaleTime(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proc/sys/net/ipv4/neigh/default")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	m := &Manager{SysRoot: root}
	if err := m.SetArpStaleTime(300); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "gc_stale_time"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "300\n" {
		t.Errorf("gc_stale_time = %q", data)
	}
	if err := (&Manager{SysRoot: t.TempDir()}).SetArpStaleTime(60); err == nil {
		t.Error("expected error without a neighbour table")
	}
}

func TestBusInfo(t *testing.T) {
	root := t.TempDir()
	dev := filepath.Join(root, "sys/devices/pci0000:00/0000:00:03.0")
	netDir := filepath.Join(root, "sys/class/net/eth0")
	for _, d := range []string{dev, netDir, filepath.Join(root, "sys/class/net/lo")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(dev, filepath.Join(netDir, "device")); err != nil {
		t.Fatal(err)
	}
	m := &Manager{SysRoot: root}
	bus, err := m.BusInfo("eth0")
	if err != nil {
		t.Fatal(err)
	}
	if bus != "0000:00:03.0" {
		t.Errorf("bus = %q", bus)
	}
	if _, err := m.BusInfo("lo"); err == nil {
		t.Error("virtual link should have no bus info")
	}
	name, err := m.LinkByBus("0000:00:03.0")
	if err != nil || name != "eth0" {
		t.Errorf("LinkByBus = %q, %v", name, err)
	}
}

func TestFormatRoutes(t *testing.T) {
	out := FormatRoutes([]RouteEntry{
		{Destination: "192.168.1.0/24", Interface: "brlan0", Protocol: "connected"},
		{Destination: "0.0.0.0/0", NextHop: "203.0.113.1", Interface: "Gig0", Protocol: "static"},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[2], "S   0.0.0.0/0 via 203.0.113.1, Gig0") {
		t.Errorf("default route line = %q", lines[2])
	}
	if !strings.Contains(lines[3], "is directly connected, brlan0") {
		t.Errorf("connected line = %q", lines[3])
	}
}

func TestNeighState(t *testing.T) {
	if got := neighState(netlink.NUD_PERMANENT); got != "static" {
		t.Errorf("permanent = %s", got)
	}
	if got := neighState(netlink.NUD_STALE); got != "stale" {
		t.Errorf("stale = %s", got)
	}
}
