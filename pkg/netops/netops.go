// Package netops manages links, addresses, neighbours and routes via netlink.
package netops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/psaab/routershell/pkg/config"
)

// Manager performs link-level operations on the host.
type Manager struct {
	nlHandle *netlink.Handle

	// SysRoot is prefixed to /proc and /sys paths. Empty in production.
	SysRoot string
}

// New creates a netlink Manager.
func New() (*Manager, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return &Manager{nlHandle: h}, nil
}

// Close releases the netlink handle.
func (m *Manager) Close() error {
	if m.nlHandle != nil {
		m.nlHandle.Close()
	}
	return nil
}

func (m *Manager) link(name string) (netlink.Link, error) {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", name, err)
	}
	return link, nil
}

func notFound(err error) bool {
	var lnf netlink.LinkNotFoundError
	return errors.As(err, &lnf) || errors.Is(err, unix.ENODEV)
}

func (m *Manager) setState(link netlink.Link, up bool) error {
	if up {
		return m.nlHandle.LinkSetUp(link)
	}
	return m.nlHandle.LinkSetDown(link)
}

// CreateLink ensures a loopback or dummy interface exists in the given state.
// Linux has a single "lo", so configured loopbacks are dummy devices.
func (m *Manager) CreateLink(name string, kind config.IfType, up bool) error {
	if kind != config.Loopback && kind != config.Dummy {
		return fmt.Errorf("cannot create %s interface %s", kind, name)
	}
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		if err := m.nlHandle.LinkAdd(&netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name}}); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if link, err = m.link(name); err != nil {
			return err
		}
		slog.Info("interface created", "name", name, "type", kind)
	}
	if err := m.setState(link, up); err != nil {
		return fmt.Errorf("set %s state: %w", name, err)
	}
	return nil
}

// DeleteLink removes a link. A missing link is not an error.
func (m *Manager) DeleteLink(name string) error {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	if err := m.nlHandle.LinkDel(link); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	slog.Info("interface removed", "name", name)
	return nil
}

// SetLinkState sets a link administratively up or down.
func (m *Manager) SetLinkState(name string, up bool) error {
	link, err := m.link(name)
	if err != nil {
		return err
	}
	if err := m.setState(link, up); err != nil {
		return fmt.Errorf("set %s state: %w", name, err)
	}
	return nil
}

// EnsureBridge creates a bridge when absent and sets its state.
func (m *Manager) EnsureBridge(name string, up bool) error {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
		if err := m.nlHandle.LinkAdd(br); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("create bridge %s: %w", name, err)
		}
		if link, err = m.link(name); err != nil {
			return err
		}
		slog.Info("bridge created", "name", name)
	} else if _, ok := link.(*netlink.Bridge); !ok {
		return fmt.Errorf("%s exists and is not a bridge", name)
	}
	return m.setState(link, up)
}

// Enslave attaches an interface to a bridge, creating the bridge (down)
// when it does not exist yet.
func (m *Manager) Enslave(name, bridge string) error {
	br, err := m.nlHandle.LinkByName(bridge)
	if err != nil {
		if err := m.EnsureBridge(bridge, false); err != nil {
			return err
		}
		if br, err = m.link(bridge); err != nil {
			return err
		}
	}
	link, err := m.link(name)
	if err != nil {
		return err
	}
	if link.Attrs().MasterIndex == br.Attrs().Index {
		return nil
	}
	if err := m.nlHandle.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("attach %s to bridge %s: %w", name, bridge, err)
	}
	slog.Info("bridge member added", "bridge", bridge, "member", name)
	return nil
}

// Release detaches an interface from its bridge.
func (m *Manager) Release(name string) error {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	if link.Attrs().MasterIndex == 0 {
		return nil
	}
	if err := m.nlHandle.LinkSetNoMaster(link); err != nil {
		return fmt.Errorf("detach %s: %w", name, err)
	}
	return nil
}

// EnsureVlan creates the 802.1Q sub-interface parent.id and brings it up.
func (m *Manager) EnsureVlan(parent string, id int) error {
	name := config.VlanSubinterface(parent, id)
	if link, err := m.nlHandle.LinkByName(name); err == nil {
		return m.nlHandle.LinkSetUp(link)
	}
	pl, err := m.link(parent)
	if err != nil {
		return err
	}
	vl := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{Name: name, ParentIndex: pl.Attrs().Index},
		VlanId:    id,
	}
	if err := m.nlHandle.LinkAdd(vl); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("create vlan %s: %w", name, err)
	}
	link, err := m.link(name)
	if err != nil {
		return err
	}
	slog.Info("vlan sub-interface created", "name", name, "vlan", id)
	return m.nlHandle.LinkSetUp(link)
}

func ipNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   p.Addr().AsSlice(),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

// AddAddress ensures the link carries the address.
func (m *Manager) AddAddress(name string, p netip.Prefix) error {
	link, err := m.link(name)
	if err != nil {
		return err
	}
	if err := m.nlHandle.AddrReplace(link, &netlink.Addr{IPNet: ipNet(p)}); err != nil {
		return fmt.Errorf("add %s to %s: %w", p, name, err)
	}
	return nil
}

// RemoveAddress ensures the link does not carry the address.
func (m *Manager) RemoveAddress(name string, p netip.Prefix) error {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	err = m.nlHandle.AddrDel(link, &netlink.Addr{IPNet: ipNet(p)})
	if err != nil && !errors.Is(err, unix.EADDRNOTAVAIL) {
		return fmt.Errorf("remove %s from %s: %w", p, name, err)
	}
	return nil
}

// SetNeighbor installs a permanent neighbour entry.
func (m *Manager) SetNeighbor(name string, ip netip.Addr, mac string) error {
	link, err := m.link(name)
	if err != nil {
		return err
	}
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return err
	}
	n := &netlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		Family:       netlink.FAMILY_V4,
		State:        netlink.NUD_PERMANENT,
		IP:           ip.AsSlice(),
		HardwareAddr: hw,
	}
	if err := m.nlHandle.NeighSet(n); err != nil {
		return fmt.Errorf("static arp %s on %s: %w", ip, name, err)
	}
	return nil
}

// DelNeighbor removes a neighbour entry.
func (m *Manager) DelNeighbor(name string, ip netip.Addr) error {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	n := &netlink.Neigh{LinkIndex: link.Attrs().Index, Family: netlink.FAMILY_V4, IP: ip.AsSlice()}
	if err := m.nlHandle.NeighDel(n); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("remove arp %s on %s: %w", ip, name, err)
	}
	return nil
}

func (m *Manager) route(rt config.StaticRoute) (*netlink.Route, error) {
	r := &netlink.Route{
		Dst:      ipNet(rt.Prefix),
		Gw:       rt.Gateway.AsSlice(),
		Protocol: unix.RTPROT_STATIC,
	}
	if rt.Iface != "" {
		link, err := m.link(rt.Iface)
		if err != nil {
			return nil, err
		}
		r.LinkIndex = link.Attrs().Index
	}
	return r, nil
}

// AddRoute ensures a static route is installed.
func (m *Manager) AddRoute(rt config.StaticRoute) error {
	r, err := m.route(rt)
	if err != nil {
		return err
	}
	if err := m.nlHandle.RouteReplace(r); err != nil {
		return fmt.Errorf("route %s via %s: %w", rt.Prefix, rt.Gateway, err)
	}
	return nil
}

// DelRoute removes a static route.
func (m *Manager) DelRoute(rt config.StaticRoute) error {
	r, err := m.route(rt)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	if err := m.nlHandle.RouteDel(r); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("delete route %s: %w", rt.Prefix, err)
	}
	return nil
}

// SetHardwareAddr sets the link MAC. An empty mac restores the permanent
// address.
func (m *Manager) SetHardwareAddr(ctx context.Context, name, mac string) error {
	link, err := m.link(name)
	if err != nil {
		return err
	}
	if mac == "" {
		if mac, err = PermanentAddr(ctx, name); err != nil {
			return err
		}
	}
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return err
	}
	if link.Attrs().HardwareAddr.String() == hw.String() {
		return nil
	}
	if err := m.nlHandle.LinkSetHardwareAddr(link, hw); err != nil {
		return fmt.Errorf("set %s mac %s: %w", name, mac, err)
	}
	return nil
}

// PermanentAddr returns the burned-in MAC address reported by ethtool.
func PermanentAddr(ctx context.Context, name string) (string, error) {
	out, err := exec.CommandContext(ctx, "ethtool", "-P", name).Output()
	if err != nil {
		return "", fmt.Errorf("ethtool -P %s: %w", name, err)
	}
	_, mac, ok := strings.Cut(strings.TrimSpace(string(out)), ": ")
	if !ok {
		return "", fmt.Errorf("unexpected ethtool output %q", out)
	}
	return mac, nil
}

// SetSpeedDuplex sets link speed and duplex with ethtool. "auto" or empty
// values re-enable autonegotiation.
func SetSpeedDuplex(ctx context.Context, name, speed, duplex string) error {
	args := []string{"-s", name}
	if (speed == "" || speed == "auto") && (duplex == "" || duplex == "auto") {
		args = append(args, "autoneg", "on")
	} else {
		args = append(args, "autoneg", "off")
		if speed != "" && speed != "auto" {
			args = append(args, "speed", speed)
		}
		if duplex != "" && duplex != "auto" {
			args = append(args, "duplex", duplex)
		}
	}
	if out, err := exec.CommandContext(ctx, "ethtool", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("ethtool %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Per-interface IPv4 sysctl knobs.
const (
	SysctlProxyArp          = "proxy_arp"
	SysctlDropGratuitousArp = "drop_gratuitous_arp"
)

// SetSysctl writes an IPv4 per-interface sysctl.
func (m *Manager) SetSysctl(name, key string, on bool) error {
	path := filepath.Join(m.SysRoot, "/proc/sys/net/ipv4/conf", name, key)
	v := "0\n"
	if on {
		v = "1\n"
	}
	if err := os.WriteFile(path, []byte(v), 0644); err != nil {
		return fmt.Errorf("sysctl %s: %w", path, err)
	}
	return nil
}

// SetArpStaleTime sets how long, in seconds, an unused neighbour entry is
// kept before it is considered stale.
func (m *Manager) SetArpStaleTime(seconds int) error {
	path := filepath.Join(m.SysRoot, "/proc/sys/net/ipv4/neigh/default/gc_stale_time")
	if err := os.WriteFile(path, []byte(strconv.Itoa(seconds)+"\n"), 0644); err != nil {
		return fmt.Errorf("sysctl %s: %w", path, err)
	}
	return nil
}

// Rename changes the kernel name of a link. The link is briefly taken down.
func (m *Manager) Rename(from, to string) error {
	if _, err := m.nlHandle.LinkByName(to); err == nil {
		return nil
	}
	link, err := m.link(from)
	if err != nil {
		return err
	}
	up := link.Attrs().Flags&net.FlagUp != 0
	if up {
		m.nlHandle.LinkSetDown(link)
	}
	if err := m.nlHandle.LinkSetName(link, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	if up {
		m.nlHandle.LinkSetUp(link)
	}
	slog.Info("interface renamed", "from", from, "to", to)
	return nil
}

// LinkType reports the configuration type of a live link.
func (m *Manager) LinkType(name string) (config.IfType, bool) {
	link, err := m.nlHandle.LinkByName(name)
	if err != nil {
		return "", false
	}
	return linkType(link, m.isWireless(name)), true
}

func linkType(link netlink.Link, wireless bool) config.IfType {
	switch link.(type) {
	case *netlink.Vlan:
		return config.VlanIf
	case *netlink.Dummy:
		return config.Dummy
	}
	switch {
	case link.Attrs().Flags&net.FlagLoopback != 0:
		return config.Loopback
	case wireless:
		return config.WirelessWifi
	case link.Type() == "wwan":
		return config.WirelessCell
	}
	return config.Ethernet
}

func (m *Manager) isWireless(name string) bool {
	_, err := os.Stat(filepath.Join(m.SysRoot, "/sys/class/net", name, "wireless"))
	return err == nil
}

// BusInfo returns the bus address of the device behind a link, for
// example "0000:00:03.0".
func (m *Manager) BusInfo(name string) (string, error) {
	target, err := os.Readlink(filepath.Join(m.SysRoot, "/sys/class/net", name, "device"))
	if err != nil {
		return "", fmt.Errorf("no device for %s: %w", name, err)
	}
	return filepath.Base(target), nil
}

// LinkByBus returns the current kernel name of the device at bus.
func (m *Manager) LinkByBus(bus string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(m.SysRoot, "/sys/class/net"))
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if b, err := m.BusInfo(e.Name()); err == nil && b == bus {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("no interface at %s", bus)
}
