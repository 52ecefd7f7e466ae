package config

import (
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{
		Hostname:         c.Hostname,
		Banner:           c.Banner,
		Arp:              c.Arp,
		Interfaces:       make(map[string]*Interface, len(c.Interfaces)),
		Bridges:          make(map[string]*Bridge, len(c.Bridges)),
		Vlans:            make(map[int]*Vlan, len(c.Vlans)),
		NatPools:         make(map[string]*NatPool, len(c.NatPools)),
		DhcpPools:        make(map[string]*DhcpPool, len(c.DhcpPools)),
		WifiPolicies:     make(map[string]*WifiPolicy, len(c.WifiPolicies)),
		FirewallPolicies: make(map[string]*FirewallPolicy, len(c.FirewallPolicies)),
		Renames:          make(map[string]*Rename, len(c.Renames)),
		Routes:           slices.Clone(c.Routes),
	}
	for k, v := range c.Interfaces {
		ifc := *v
		ifc.Addresses = slices.Clone(v.Addresses)
		ifc.StaticArps = slices.Clone(v.StaticArps)
		if v.Nat != nil {
			nat := *v.Nat
			ifc.Nat = &nat
		}
		if v.Firewall != nil {
			ifc.Firewall = make(map[string]string, len(v.Firewall))
			for d, p := range v.Firewall {
				ifc.Firewall[d] = p
			}
		}
		out.Interfaces[k] = &ifc
	}
	for k, v := range c.Bridges {
		b := *v
		out.Bridges[k] = &b
	}
	for k, v := range c.Vlans {
		vl := *v
		vl.Bindings = slices.Clone(v.Bindings)
		out.Vlans[k] = &vl
	}
	for k, v := range c.NatPools {
		p := *v
		out.NatPools[k] = &p
	}
	for k, v := range c.DhcpPools {
		p := v.clone()
		out.DhcpPools[k] = &p
	}
	for k, v := range c.WifiPolicies {
		p := *v
		out.WifiPolicies[k] = &p
	}
	for k, v := range c.FirewallPolicies {
		p := *v
		p.Rules = slices.Clone(v.Rules)
		out.FirewallPolicies[k] = &p
	}
	for k, v := range c.Renames {
		r := *v
		out.Renames[k] = &r
	}
	return out
}

func (p *DhcpPool) clone() DhcpPool {
	out := *p
	out.Ranges = slices.Clone(p.Ranges)
	out.Reservations = slices.Clone(p.Reservations)
	out.Options = slices.Clone(p.Options)
	return out
}

// GuessType infers an interface type from a kernel-style name. It is used
// when no live inventory is available.
func GuessType(name string) IfType {
	switch {
	case strings.HasPrefix(name, "loopback"), name == "lo":
		return Loopback
	case strings.HasPrefix(name, "dummy"):
		return Dummy
	case strings.HasPrefix(name, "wlan"), strings.HasPrefix(name, "wlp"):
		return WirelessWifi
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "wwp"):
		return WirelessCell
	case strings.Contains(name, "."):
		return VlanIf
	}
	return Ethernet
}

// DhcpService is a pool as it is served: the pool and the interfaces it
// is attached to.
type DhcpService struct {
	Pool       DhcpPool
	Interfaces []string
}

// DhcpServices returns every pool that has a subnet and at least one
// interface, ordered by pool name.
func (c *Config) DhcpServices() []DhcpService {
	var out []DhcpService
	for _, name := range SortedKeys(c.DhcpPools) {
		p := c.DhcpPools[name]
		if !p.Subnet.IsValid() {
			continue
		}
		ifaces := c.InterfacesWhere(func(ifc *Interface) bool { return ifc.DhcpPool == name })
		if len(ifaces) == 0 {
			continue
		}
		out = append(out, DhcpService{Pool: p.clone(), Interfaces: ifaces})
	}
	return out
}

// WifiSettings is the effective access point configuration of one
// wireless interface.
type WifiSettings struct {
	Interface  string
	Bridge     string
	SSID       string
	Passphrase string
	WpaMode    string
	HwMode     string
	Channel    int
}

// Defaults applied when neither policy nor interface sets a value.
const (
	DefaultWpaMode = "WPA2"
	DefaultHwMode  = "g"
)

// WifiSettingsFor resolves the policy of a wireless interface with its
// per-interface overrides. It returns nil when the interface has no policy
// or the policy has no SSID yet.
func (c *Config) WifiSettingsFor(name string) *WifiSettings {
	ifc, ok := c.Interfaces[name]
	if !ok || ifc.WifiPolicy == "" {
		return nil
	}
	pol, ok := c.WifiPolicies[ifc.WifiPolicy]
	if !ok || pol.SSID == "" {
		return nil
	}
	ws := &WifiSettings{
		Interface:  name,
		Bridge:     ifc.Bridge,
		SSID:       pol.SSID,
		Passphrase: pol.Passphrase,
		WpaMode:    pol.WpaMode,
		HwMode:     pol.HwMode,
		Channel:    pol.Channel,
	}
	if ws.WpaMode == "" {
		ws.WpaMode = DefaultWpaMode
	}
	if ws.HwMode == "" {
		ws.HwMode = DefaultHwMode
	}
	if ifc.WifiHwMode != "" {
		ws.HwMode = ifc.WifiHwMode
	}
	if ifc.WifiChannel != 0 {
		ws.Channel = ifc.WifiChannel
	}
	return ws
}

// TranslationSpec encodes the pool's translation as "masquerade" or
// "snat:<address>".
func (p *NatPool) TranslationSpec() string {
	if p.Translation == TranslateSNAT && p.SnatAddress.IsValid() {
		return TranslateSNAT + ":" + p.SnatAddress.String()
	}
	return TranslateMasquerade
}

// ParseTranslation decodes a TranslationSpec value.
func ParseTranslation(spec string) (string, netip.Addr) {
	if rest, ok := strings.CutPrefix(spec, TranslateSNAT+":"); ok {
		if a, err := netip.ParseAddr(rest); err == nil {
			return TranslateSNAT, a
		}
	}
	return TranslateMasquerade, netip.Addr{}
}

// VlanSubinterface returns the name of the VLAN sub-interface of parent.
func VlanSubinterface(parent string, id int) string {
	return parent + "." + strconv.Itoa(id)
}
