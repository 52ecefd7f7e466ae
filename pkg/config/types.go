// Package config holds the typed in-memory model of the router
// configuration. The persisted store loads into a Config and the resolver
// computes deltas against one.
package config

import (
	"net/netip"
	"sort"
)

// IfType is the kind of an interface.
type IfType string

const (
	Ethernet     IfType = "ethernet"
	Loopback     IfType = "loopback"
	WirelessWifi IfType = "wireless-wifi"
	WirelessCell IfType = "wireless-cell"
	VlanIf       IfType = "vlan"
	Dummy        IfType = "dummy"
)

// Virtual reports whether the shell creates and destroys the link itself.
func (t IfType) Virtual() bool {
	return t == Loopback || t == Dummy || t == VlanIf
}

// Wireless reports whether the interface is a radio.
func (t IfType) Wireless() bool {
	return t == WirelessWifi || t == WirelessCell
}

// Valid reports whether t is a known type.
func (t IfType) Valid() bool {
	switch t {
	case Ethernet, Loopback, WirelessWifi, WirelessCell, VlanIf, Dummy:
		return true
	}
	return false
}

// Directions.
const (
	NatInside  = "inside"
	NatOutside = "outside"

	Inbound  = "inbound"
	Outbound = "outbound"
)

// NAT translation modes.
const (
	TranslateMasquerade = "masquerade"
	TranslateSNAT       = "snat"
)

// DHCPv6 modes.
const (
	ModeSLAAC    = "slaac"
	ModeStateful = "stateful"
)

// Config is the complete router configuration.
type Config struct {
	Hostname string
	Banner   string
	Arp      Arp

	Interfaces       map[string]*Interface
	Bridges          map[string]*Bridge
	Vlans            map[int]*Vlan
	NatPools         map[string]*NatPool
	DhcpPools        map[string]*DhcpPool
	WifiPolicies     map[string]*WifiPolicy
	FirewallPolicies map[string]*FirewallPolicy
	Renames          map[string]*Rename // keyed by alias
	Routes           []StaticRoute
}

// DefaultArpTimeout is the kernel's neighbour stale time in seconds.
const DefaultArpTimeout = 60

// Arp holds the global ARP behaviour applied to every interface. Zero
// values leave the kernel defaults in place.
type Arp struct {
	Timeout        int // seconds
	Proxy          bool
	DropGratuitous bool
}

// Address is an interface address.
type Address struct {
	Prefix    netip.Prefix
	Secondary bool
}

// StaticArp is a permanent neighbour entry.
type StaticArp struct {
	IP  netip.Addr
	MAC string
}

// NatBinding is the NAT role of an interface.
type NatBinding struct {
	Direction string // inside|outside
	Pool      string
}

// Interface is a network interface known to the shell.
type Interface struct {
	Name              string
	Type              IfType
	Shutdown          bool
	Description       string
	MAC               string // empty = burned-in address
	Duplex            string // auto|half|full, empty = unset
	Speed             string // 10|100|1000|10000|auto, empty = unset
	ProxyArp          bool
	DropGratuitousArp bool
	DhcpClient        bool // address obtained by DHCPv4
	DhcpClient6       bool // address obtained by DHCPv6
	Addresses         []Address
	StaticArps        []StaticArp

	Bridge   string            // bridge group membership
	Nat      *NatBinding       // at most one direction
	DhcpPool string            // DHCP server pool served on this interface
	Firewall map[string]string // direction -> policy

	WifiPolicy  string
	WifiChannel int    // override, 0 = policy default
	WifiHwMode  string // override, empty = policy default
}

// Bridge is a Linux bridge. Members are Interfaces whose Bridge field names it.
type Bridge struct {
	Name        string
	Shutdown    bool
	Description string
}

// VlanBinding attaches a VLAN to a parent link. Exactly one of
// Interface and Bridge is set.
type VlanBinding struct {
	Interface string
	Bridge    string
}

// Parent returns the parent link name.
func (b VlanBinding) Parent() string {
	if b.Interface != "" {
		return b.Interface
	}
	return b.Bridge
}

// Vlan is an 802.1Q VLAN.
type Vlan struct {
	ID          int
	Name        string
	Description string
	Bindings    []VlanBinding
}

// NatPool groups a translation policy.
type NatPool struct {
	Name        string
	Description string
	Translation string     // masquerade|snat
	SnatAddress netip.Addr // set when Translation is snat
}

// DhcpRange is an address range within a pool's subnet.
type DhcpRange struct {
	Start netip.Addr
	End   netip.Addr
}

// DhcpReservation is a static MAC to IP binding.
type DhcpReservation struct {
	MAC string
	IP  netip.Addr
}

// DhcpOption is a named option with its value list.
type DhcpOption struct {
	Name  string
	Value string // comma separated
}

// DhcpPool is a DHCP server pool.
type DhcpPool struct {
	Name         string
	Subnet       netip.Prefix // invalid until configured
	V6Mode       string       // slaac|stateful, set for IPv6 subnets only
	Ranges       []DhcpRange
	Reservations []DhcpReservation
	Options      []DhcpOption
}

// IPv6 reports whether the pool serves an IPv6 subnet.
func (p *DhcpPool) IPv6() bool {
	return p.Subnet.IsValid() && p.Subnet.Addr().Is6()
}

// WifiPolicy is a wireless security policy.
type WifiPolicy struct {
	Name       string
	SSID       string
	Passphrase string
	WpaMode    string // WPA|WPA2|WPA3
	HwMode     string // a|b|g|ad|ax|any
	Channel    int
}

// FirewallRule is one entry of a policy, ordered by Seq.
type FirewallRule struct {
	Seq     int
	Action  string // allow|deny
	Proto   string // ip|tcp|udp|icmp
	Src     string // CIDR or "any"
	Dst     string
	SrcPort int
	DstPort int
}

// FirewallPolicy is an ordered rule list.
type FirewallPolicy struct {
	Name  string
	Rules []FirewallRule
}

// Rename maps a bus-stable device identifier to an alias.
type Rename struct {
	BusInfo  string
	Alias    string
	Original string // kernel name when the rename was configured
}

// StaticRoute is a static route.
type StaticRoute struct {
	Prefix  netip.Prefix
	Gateway netip.Addr
	Iface   string
}

// New returns an empty configuration.
func New() *Config {
	return &Config{
		Hostname:         "Router",
		Interfaces:       make(map[string]*Interface),
		Bridges:          make(map[string]*Bridge),
		Vlans:            make(map[int]*Vlan),
		NatPools:         make(map[string]*NatPool),
		DhcpPools:        make(map[string]*DhcpPool),
		WifiPolicies:     make(map[string]*WifiPolicy),
		FirewallPolicies: make(map[string]*FirewallPolicy),
		Renames:          make(map[string]*Rename),
	}
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VlanIDs returns the configured VLAN IDs in ascending order.
func (c *Config) VlanIDs() []int {
	ids := make([]int, 0, len(c.Vlans))
	for id := range c.Vlans {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// VlanByName returns the VLAN carrying name.
func (c *Config) VlanByName(name string) *Vlan {
	for _, v := range c.Vlans {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// VlanOf returns the VLAN bound to the parent link, or nil.
func (c *Config) VlanOf(parent string) *Vlan {
	for _, id := range c.VlanIDs() {
		for _, b := range c.Vlans[id].Bindings {
			if b.Parent() == parent {
				return c.Vlans[id]
			}
		}
	}
	return nil
}

// BridgeMembers returns the interfaces in bridge group name, sorted.
func (c *Config) BridgeMembers(name string) []string {
	var out []string
	for _, n := range SortedKeys(c.Interfaces) {
		if c.Interfaces[n].Bridge == name {
			out = append(out, n)
		}
	}
	return out
}

// InterfacesWhere returns the sorted names of interfaces matching fn.
func (c *Config) InterfacesWhere(fn func(*Interface) bool) []string {
	var out []string
	for _, n := range SortedKeys(c.Interfaces) {
		if fn(c.Interfaces[n]) {
			out = append(out, n)
		}
	}
	return out
}

// RenameByBus returns the rename record for a bus identifier.
func (c *Config) RenameByBus(bus string) *Rename {
	for _, r := range c.Renames {
		if r.BusInfo == bus {
			return r
		}
	}
	return nil
}

// PrimaryAddress returns the primary address of the given family.
func (ifc *Interface) PrimaryAddress(v6 bool) (Address, bool) {
	for _, a := range ifc.Addresses {
		if !a.Secondary && a.Prefix.Addr().Is6() == v6 {
			return a, true
		}
	}
	return Address{}, false
}

// HasAddress reports whether p is configured on the interface.
func (ifc *Interface) HasAddress(p netip.Prefix) (Address, bool) {
	for _, a := range ifc.Addresses {
		if a.Prefix == p {
			return a, true
		}
	}
	return Address{}, false
}

// Rule returns the rule with the given sequence number.
func (p *FirewallPolicy) Rule(seq int) (FirewallRule, bool) {
	for _, r := range p.Rules {
		if r.Seq == seq {
			return r, true
		}
	}
	return FirewallRule{}, false
}

// Option returns the value of a named DHCP option.
func (p *DhcpPool) Option(name string) (string, bool) {
	for _, o := range p.Options {
		if o.Name == name {
			return o.Value, true
		}
	}
	return "", false
}
