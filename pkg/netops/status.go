package netops

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// LinkStatus is the live state of one link.
type LinkStatus struct {
	Name      string
	Kind      string
	AdminUp   bool
	OperUp    bool
	MAC       string
	MTU       int
	Master    string
	Addresses []string
}

// Links returns the state of every link, sorted by name.
func (m *Manager) Links() ([]LinkStatus, error) {
	links, err := m.nlHandle.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	byIndex := make(map[int]string, len(links))
	for _, l := range links {
		byIndex[l.Attrs().Index] = l.Attrs().Name
	}
	out := make([]LinkStatus, 0, len(links))
	for _, l := range links {
		a := l.Attrs()
		st := LinkStatus{
			Name:    a.Name,
			Kind:    l.Type(),
			AdminUp: a.Flags&net.FlagUp != 0,
			OperUp:  a.OperState == netlink.OperUp || (a.Flags&net.FlagLoopback != 0 && a.Flags&net.FlagUp != 0),
			MAC:     a.HardwareAddr.String(),
			MTU:     a.MTU,
			Master:  byIndex[a.MasterIndex],
		}
		if addrs, err := m.nlHandle.AddrList(l, netlink.FAMILY_ALL); err == nil {
			for _, ad := range addrs {
				st.Addresses = append(st.Addresses, ad.IPNet.String())
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Neighbor is an ARP table entry.
type Neighbor struct {
	IP        string
	MAC       string
	Interface string
	State     string
}

// Neighbors returns the IPv4 neighbour table.
func (m *Manager) Neighbors() ([]Neighbor, error) {
	neighs, err := m.nlHandle.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list neighbours: %w", err)
	}
	var out []Neighbor
	for _, n := range neighs {
		if n.HardwareAddr == nil {
			continue
		}
		name := strconv.Itoa(n.LinkIndex)
		if link, err := m.nlHandle.LinkByIndex(n.LinkIndex); err == nil {
			name = link.Attrs().Name
		}
		out = append(out, Neighbor{
			IP:        n.IP.String(),
			MAC:       n.HardwareAddr.String(),
			Interface: name,
			State:     neighState(n.State),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func neighState(s int) string {
	switch {
	case s&netlink.NUD_PERMANENT != 0:
		return "static"
	case s&netlink.NUD_REACHABLE != 0:
		return "reachable"
	case s&netlink.NUD_STALE != 0:
		return "stale"
	case s&netlink.NUD_FAILED != 0:
		return "incomplete"
	}
	return "dynamic"
}

// RouteEntry represents a kernel routing table entry.
type RouteEntry struct {
	Destination string
	NextHop     string
	Interface   string
	Protocol    string
	Metric      int
}

// Routes reads the main kernel routing table.
func (m *Manager) Routes() ([]RouteEntry, error) {
	var entries []RouteEntry
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := m.nlHandle.RouteList(nil, family)
		if err != nil {
			continue
		}
		for _, r := range routes {
			entries = append(entries, m.routeToEntry(r, family))
		}
	}
	return entries, nil
}

func (m *Manager) routeToEntry(r netlink.Route, family int) RouteEntry {
	entry := RouteEntry{
		Metric:   r.Priority,
		Protocol: rtProtoName(r.Protocol),
	}
	switch {
	case r.Dst != nil:
		entry.Destination = r.Dst.String()
	case family == netlink.FAMILY_V6:
		entry.Destination = "::/0"
	default:
		entry.Destination = "0.0.0.0/0"
	}
	if r.Gw != nil {
		entry.NextHop = r.Gw.String()
	}
	if r.LinkIndex > 0 {
		if link, err := m.nlHandle.LinkByIndex(r.LinkIndex); err == nil {
			entry.Interface = link.Attrs().Name
		} else {
			entry.Interface = strconv.Itoa(r.LinkIndex)
		}
	}
	return entry
}

func rtProtoName(p netlink.RouteProtocol) string {
	switch int(p) {
	case unix.RTPROT_KERNEL:
		return "connected"
	case unix.RTPROT_BOOT:
		return "boot"
	case unix.RTPROT_STATIC:
		return "static"
	case unix.RTPROT_DHCP:
		return "dhcp"
	case unix.RTPROT_RA:
		return "ra"
	}
	return strconv.Itoa(int(p))
}

// protoCode returns the IOS route source code.
func protoCode(proto string) string {
	switch proto {
	case "connected":
		return "C"
	case "static":
		return "S"
	case "dhcp", "boot":
		return "D"
	case "ra":
		return "ND"
	}
	return "?"
}

// FormatRoutes renders entries in the style of "show ip route".
func FormatRoutes(entries []RouteEntry) string {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Destination < entries[j].Destination
	})
	var b strings.Builder
	b.WriteString("Codes: C - connected, S - static, D - dhcp, ND - router advertisement\n\n")
	for _, e := range entries {
		code := protoCode(e.Protocol)
		switch {
		case e.NextHop != "":
			fmt.Fprintf(&b, "%-3s %s via %s", code, e.Destination, e.NextHop)
			if e.Interface != "" {
				fmt.Fprintf(&b, ", %s", e.Interface)
			}
		default:
			fmt.Fprintf(&b, "%-3s %s is directly connected, %s", code, e.Destination, e.Interface)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
