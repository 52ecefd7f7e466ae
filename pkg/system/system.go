// Package system applies primitive configuration operations to the host by
// dispatching them to the netlink, iptables and daemon collaborators.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/dhcpclient"
	"github.com/psaab/routershell/pkg/dhcpserver"
	"github.com/psaab/routershell/pkg/hostapd"
	"github.com/psaab/routershell/pkg/nat"
	"github.com/psaab/routershell/pkg/netops"
	"github.com/psaab/routershell/pkg/networkd"
	"github.com/psaab/routershell/pkg/radvd"
)

// Noop accepts every operation without touching the host.
type Noop struct{}

func (Noop) Apply(ctx context.Context, op delta.Op) error { return ctx.Err() }

// Options locates the files written by the collaborators. Empty values
// select each collaborator's standard location.
type Options struct {
	SysRoot      string
	DhcpBackend  dhcpserver.Backend
	DhcpDir      string
	DhcpStateDir string // DHCPv6 client identifiers
	RadvdConf    string
	WirelessDir  string
	NetworkdDir  string
}

// Linux is the production backend.
type Linux struct {
	sysRoot  string
	net      *netops.Manager
	nat      *nat.Manager
	dhcp     *dhcpserver.Manager
	clients  *dhcpclient.Manager
	ra       *radvd.Manager
	ap       *hostapd.Manager
	networkd *networkd.Manager
}

// NewLinux opens the netlink and iptables handles.
func NewLinux(opts Options) (*Linux, error) {
	nm, err := netops.New()
	if err != nil {
		return nil, err
	}
	nm.SysRoot = opts.SysRoot
	fw, err := nat.New()
	if err != nil {
		nm.Close()
		return nil, err
	}
	stateDir := opts.DhcpStateDir
	if stateDir == "" {
		stateDir = "/var/lib/routershell/dhcp-client"
	}
	dc, err := dhcpclient.New(stateDir)
	if err != nil {
		nm.Close()
		return nil, err
	}
	return &Linux{
		sysRoot:  opts.SysRoot,
		net:      nm,
		nat:      fw,
		dhcp:     dhcpserver.New(opts.DhcpBackend, opts.DhcpDir),
		clients:  dc,
		ra:       radvd.New(opts.RadvdConf),
		ap:       hostapd.New(opts.WirelessDir),
		networkd: networkd.New(opts.NetworkdDir),
	}, nil
}

// Close stops the DHCP clients and releases the netlink handles.
func (l *Linux) Close() error {
	l.clients.Close()
	return l.net.Close()
}

// Net exposes the netlink collaborator for inventory and show commands.
func (l *Linux) Net() *netops.Manager { return l.net }

// Dhcp exposes the DHCP collaborator for lease display.
func (l *Linux) Dhcp() *dhcpserver.Manager { return l.dhcp }

// Clients exposes the interface DHCP clients.
func (l *Linux) Clients() *dhcpclient.Manager { return l.clients }

// Networkd exposes the rename persistence collaborator.
func (l *Linux) Networkd() *networkd.Manager { return l.networkd }

// Apply performs op on the host. Operations without a host effect succeed
// immediately.
func (l *Linux) Apply(ctx context.Context, op delta.Op) error {
	if op.StoreOnly() {
		return nil
	}
	slog.Debug("system apply", "op", op.String())
	switch op.Kind {
	case delta.SetHostname:
		return l.setHostname(op.Value)
	case delta.SetSystemAttr:
		return l.setSystemAttr(op)

	case delta.CreateInterface:
		return l.net.CreateLink(op.Iface, op.IfType, op.Up)
	case delta.DestroyInterface:
		return l.net.DeleteLink(op.Iface)
	case delta.SetLinkState:
		return l.net.SetLinkState(op.Iface, op.Up)
	case delta.SetInterfaceAttr:
		return l.setAttr(ctx, op)
	case delta.AddAddress:
		return l.net.AddAddress(op.Iface, op.Prefix)
	case delta.RemoveAddress:
		return l.net.RemoveAddress(op.Iface, op.Prefix)
	case delta.AddStaticArp:
		return l.net.SetNeighbor(op.Iface, op.Addr, op.Value)
	case delta.RemoveStaticArp:
		return l.net.DelNeighbor(op.Iface, op.Addr)
	case delta.AddRename:
		return l.addRename(op.Rename)
	case delta.RemoveRename:
		return l.removeRename(op.Rename)

	case delta.SetBridgeState:
		return l.net.EnsureBridge(op.Bridge, op.Up)
	case delta.DeleteBridge:
		return l.net.DeleteLink(op.Bridge)
	case delta.AttachBridge:
		return l.net.Enslave(op.Iface, op.Bridge)
	case delta.DetachBridge:
		return l.net.Release(op.Iface)

	case delta.BindVlan:
		return l.net.EnsureVlan(op.Iface, op.VlanID)
	case delta.UnbindVlan:
		return l.net.DeleteLink(config.VlanSubinterface(op.Iface, op.VlanID))

	case delta.BindNat:
		return l.nat.Bind(op.Iface, op.Field, op.Pool, op.Value)
	case delta.UnbindNat:
		return l.nat.Unbind(op.Iface, op.Field, op.Pool, op.Value)

	case delta.SyncDhcp:
		if err := l.dhcp.Apply(op.Dhcp); err != nil {
			return err
		}
		return l.ra.Apply(radvd.FromServices(op.Dhcp))

	case delta.SyncWifi:
		return l.ap.Apply(op.Iface, op.Wifi)

	case delta.CreateFirewallPolicy:
		return l.nat.CreatePolicy(op.Pool)
	case delta.DeleteFirewallPolicy:
		return l.nat.DeletePolicy(op.Pool)
	case delta.SyncFirewall:
		return l.nat.SyncPolicy(op.Pool, op.Rules)
	case delta.BindFirewall:
		return l.nat.BindPolicy(op.Iface, op.Pool, op.Field)
	case delta.UnbindFirewall:
		return l.nat.UnbindPolicy(op.Iface, op.Pool, op.Field)

	case delta.AddRoute:
		return l.net.AddRoute(op.Route)
	case delta.RemoveRoute:
		return l.net.DelRoute(op.Route)
	}
	return fmt.Errorf("no system action for %s", op.Kind)
}

// setSystemAttr applies the global ARP settings through the "all"
// sysctl tree and the default neighbour table.
func (l *Linux) setSystemAttr(op delta.Op) error {
	switch op.Field {
	case delta.SysArpTimeout:
		n := config.DefaultArpTimeout
		if op.Value != delta.Off {
			v, err := strconv.Atoi(op.Value)
			if err != nil {
				return fmt.Errorf("arp timeout %q: %w", op.Value, err)
			}
			n = v
		}
		return l.net.SetArpStaleTime(n)
	case delta.SysArpProxy:
		return l.net.SetSysctl("all", netops.SysctlProxyArp, op.Value == delta.On)
	case delta.SysArpDropGratuitous:
		return l.net.SetSysctl("all", netops.SysctlDropGratuitousArp, op.Value == delta.On)
	}
	return fmt.Errorf("unknown system attribute %q", op.Field)
}

func (l *Linux) setHostname(name string) error {
	if err := unix.Sethostname([]byte(name)); err != nil {
		return fmt.Errorf("sethostname: %w", err)
	}
	path := filepath.Join(l.sysRoot, "/etc/hostname")
	if err := os.WriteFile(path, []byte(name+"\n"), 0644); err != nil {
		slog.Warn("hostname not persisted", "path", path, "err", err)
	}
	return nil
}

func (l *Linux) setAttr(ctx context.Context, op delta.Op) error {
	switch op.Field {
	case delta.AttrMAC:
		return l.net.SetHardwareAddr(ctx, op.Iface, op.Value)
	case delta.AttrSpeed:
		return netops.SetSpeedDuplex(ctx, op.Iface, op.Value, "")
	case delta.AttrDuplex:
		return netops.SetSpeedDuplex(ctx, op.Iface, "", op.Value)
	case delta.AttrProxyArp:
		return l.net.SetSysctl(op.Iface, netops.SysctlProxyArp, op.Value == delta.On)
	case delta.AttrDropGratuitousArp:
		return l.net.SetSysctl(op.Iface, netops.SysctlDropGratuitousArp, op.Value == delta.On)
	case delta.AttrDhcpClient, delta.AttrDhcpClient6:
		v6 := op.Field == delta.AttrDhcpClient6
		if op.Value == delta.On {
			l.clients.Start(op.Iface, v6)
		} else {
			l.clients.Stop(op.Iface, v6)
		}
	}
	return nil
}

// currentName finds the kernel name of the device a rename refers to.
func (l *Linux) currentName(r config.Rename) string {
	if name, err := l.net.LinkByBus(r.BusInfo); err == nil {
		return name
	}
	return r.Original
}

func (l *Linux) addRename(r config.Rename) error {
	if from := l.currentName(r); from != "" && from != r.Alias {
		if err := l.net.Rename(from, r.Alias); err != nil {
			return err
		}
	}
	return l.networkd.Add(r)
}

func (l *Linux) removeRename(r config.Rename) error {
	if from := l.currentName(r); from == r.Alias && r.Original != "" {
		if err := l.net.Rename(r.Alias, r.Original); err != nil {
			return err
		}
	} else if r.Original != "" {
		// device not found by bus: try the alias directly
		if _, ok := l.net.LinkType(r.Alias); ok {
			if err := l.net.Rename(r.Alias, r.Original); err != nil {
				return err
			}
		}
	}
	return l.networkd.Remove(r.Alias)
}
