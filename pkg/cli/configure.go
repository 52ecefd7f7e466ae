package cli

import (
	"net/netip"
	"strconv"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/mode"
	"github.com/psaab/routershell/pkg/resolver"
)

// Interface mode variants.
const (
	variantEthernet = "ethernet"
	variantWireless = "wireless"
	variantLoopback = "loopback"
	variantDummy    = "dummy"
	variantVlan     = "vlan"
)

// variantOf maps an interface type onto its command table.
func variantOf(t config.IfType) string {
	switch t {
	case config.Loopback:
		return variantLoopback
	case config.Dummy:
		return variantDummy
	case config.VlanIf:
		return variantVlan
	case config.WirelessWifi, config.WirelessCell:
		return variantWireless
	}
	return variantEthernet
}

// natKeyword accepts both "nat" and "ip nat".
func natKeyword() cmdtree.Token {
	return cmdtree.OneOf(
		cmdtree.Seq(cmdtree.Kw("nat", "Network address translation")),
		cmdtree.Seq(cmdtree.Kw("ip", "Internet Protocol config commands"), cmdtree.Kw("nat", "Network address translation")),
	)
}

func configureCommands() []Command {
	return []Command{
		{
			Tokens: tokens(cmdtree.Kw("hostname", "Set system's network name"),
				cmdtree.PatternVar("name", hostnamePattern, "This system's network name")),
			NoTokens: tokens(cmdtree.Kw("hostname", "Set system's network name"),
				cmdtree.Opt(cmdtree.PatternVar("name", hostnamePattern, "This system's network name"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetHostname(config.New().Hostname)
				}
				return p.SetHostname(inv.Args.Get("name"))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("banner", "Define a login banner"),
				cmdtree.Kw("motd", "Set Message of the Day banner"),
				textTokens("Banner text")),
			NoTokens: tokens(cmdtree.Kw("banner", "Define a login banner"),
				cmdtree.Kw("motd", "Set Message of the Day banner")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetBanner("")
				}
				return p.SetBanner(inv.Args.Text("text"))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("interface", "Select an interface to configure"),
				ifNameVar("name", "Interface name").Excluding("loopback", "dummy")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				return selectInterface(p, inv.Args.Get("name"), "", inv.Negate)
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("interface", "Select an interface to configure"),
				cmdtree.Kw("loopback", "Loopback interface"),
				cmdtree.IntVar("number", 0, 9999, "Loopback interface number")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				return selectInterface(p, "loopback"+inv.Args.Get("number"), config.Loopback, inv.Negate)
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("interface", "Select an interface to configure"),
				cmdtree.Kw("dummy", "Dummy interface"),
				cmdtree.IntVar("number", 0, 9999, "Dummy interface number")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				return selectInterface(p, "dummy"+inv.Args.Get("number"), config.Dummy, inv.Negate)
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("bridge", "Configure a bridge"),
				ifNameVar("name", "Bridge name").Suggest("bridge")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				name := inv.Args.Get("name")
				if inv.Negate {
					return nil, p.DeleteBridge(name)
				}
				if err := p.EnsureBridge(name); err != nil {
					return nil, err
				}
				return enter(mode.New(mode.ConfigBridge, name))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("vlan", "Configure a VLAN"),
				vlanIDVar("VLAN ID"),
				cmdtree.Opt(cmdtree.Kw("name", "VLAN name"), cmdtree.PatternVar("name", objectPattern, "VLAN name"))),
			NoTokens:  tokens(cmdtree.Kw("vlan", "Configure a VLAN"), vlanIDVar("VLAN ID")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				id := inv.Args.Int("id")
				if inv.Negate {
					return nil, p.DeleteVlan(id)
				}
				if err := p.EnsureVlan(id, inv.Args.Get("name")); err != nil {
					return nil, err
				}
				return enter(mode.New(mode.ConfigVlan, strconv.Itoa(id)))
			},
		},
		{
			Tokens: tokens(natKeyword(),
				cmdtree.Kw("pool", "Define a NAT pool"),
				objectVar("name", "Pool name", "nat-pool")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				name := inv.Args.Get("name")
				if inv.Negate {
					return nil, p.DeleteNatPool(name)
				}
				if err := p.EnsureNatPool(name); err != nil {
					return nil, err
				}
				return enter(mode.New(mode.ConfigNAT, name))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("dhcp", "Configure a DHCP server pool"),
				objectVar("name", "Pool name", "dhcp-pool")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				name := inv.Args.Get("name")
				if inv.Negate {
					return nil, p.DeleteDhcpPool(name)
				}
				if err := p.EnsureDhcpPool(name); err != nil {
					return nil, err
				}
				return enter(mode.New(mode.ConfigDHCP, name))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("wireless", "Wireless configuration"),
				cmdtree.Kw("wifi", "Configure a wireless security policy"),
				objectVar("name", "Policy name", "wifi-policy")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				name := inv.Args.Get("name")
				if inv.Negate {
					return nil, p.DeleteWifiPolicy(name)
				}
				if err := p.EnsureWifiPolicy(name); err != nil {
					return nil, err
				}
				return enter(mode.New(mode.ConfigWireless, name))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("firewall", "Configure a firewall policy"),
				objectVar("name", "Policy name", "firewall-policy")),
			Negatable: true,
			Enter: func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error) {
				name := inv.Args.Get("name")
				if inv.Negate {
					return nil, p.DeleteFirewallPolicy(name)
				}
				if err := p.EnsureFirewallPolicy(name); err != nil {
					return nil, err
				}
				return enter(mode.New(mode.ConfigFirewall, name))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("rename", "Give an interface a persistent name"),
				cmdtree.Kw("if", "Interface to rename"),
				ifNameVar("name", "Current interface name"),
				cmdtree.Kw("if-alias", "New name"),
				cmdtree.PatternVar("alias", ifNamePattern, "New interface name").Suggest("alias")),
			NoTokens: tokens(cmdtree.Kw("rename", "Give an interface a persistent name"),
				cmdtree.Opt(cmdtree.Kw("if", "Interface to rename"), ifNameVar("name", "Current interface name")),
				cmdtree.Kw("if-alias", "New name"),
				cmdtree.PatternVar("alias", ifNamePattern, "New interface name").Suggest("alias")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.RemoveRename(inv.Args.Get("alias"))
				}
				return p.AddRename(inv.Args.Get("name"), inv.Args.Get("alias"))
			},
		},
		{
			Tokens: tokens(arpKw,
				cmdtree.Kw("timeout", "Set the ARP cache timeout"),
				cmdtree.IntVar("seconds", 1, resolver.MaxArpTimeout, "Seconds before an unused entry goes stale")),
			NoTokens: tokens(arpKw,
				cmdtree.Kw("timeout", "Set the ARP cache timeout"),
				cmdtree.Opt(cmdtree.IntVar("seconds", 1, resolver.MaxArpTimeout, "Seconds"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetSystemAttr(delta.SysArpTimeout, delta.Off)
				}
				return p.SetSystemAttr(delta.SysArpTimeout, inv.Args.Get("seconds"))
			},
		},
		{
			Tokens:    tokens(arpKw, cmdtree.Kw("proxy", "Answer ARP requests on behalf of routed hosts")),
			Negatable: true,
			Apply:     setSystemFlag(delta.SysArpProxy),
		},
		{
			Tokens:    tokens(arpKw, cmdtree.Kw("drop-gratuitous", "Drop gratuitous ARP frames")),
			Negatable: true,
			Apply:     setSystemFlag(delta.SysArpDropGratuitous),
		},
		{
			Tokens: tokens(cmdtree.Kw("ip", "Internet Protocol config commands"),
				cmdtree.Kw("route", "Establish static routes"),
				cmdtree.Var("prefix", cmdtree.IPPrefix, "Destination prefix"),
				cmdtree.Var("gateway", cmdtree.IP, "Forwarding router's address"),
				cmdtree.Opt(ifNameVar("iface", "Outgoing interface"))),
			NoTokens: tokens(cmdtree.Kw("ip", "Internet Protocol config commands"),
				cmdtree.Kw("route", "Establish static routes"),
				cmdtree.Var("prefix", cmdtree.IPPrefix, "Destination prefix"),
				cmdtree.Opt(cmdtree.Var("gateway", cmdtree.IP, "Forwarding router's address"),
					cmdtree.Opt(ifNameVar("iface", "Outgoing interface")))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				pfx := netip.MustParsePrefix(inv.Args.Get("prefix"))
				var gw netip.Addr
				if g := inv.Args.Get("gateway"); g != "" {
					gw = netip.MustParseAddr(g)
				}
				if inv.Negate {
					return p.RemoveRoute(pfx, gw)
				}
				return p.AddRoute(config.StaticRoute{Prefix: pfx, Gateway: gw, Iface: inv.Args.Get("iface")})
			},
		},
	}
}

// selectInterface enters interface mode for name, creating the record on
// first use. With negate it removes a virtual interface instead.
func selectInterface(p *resolver.Plan, name string, kind config.IfType, negate bool) (*mode.Mode, error) {
	if negate {
		return nil, p.DestroyInterface(name)
	}
	t, err := p.EnsureInterface(name, kind)
	if err != nil {
		return nil, err
	}
	return enter(mode.Interface(name, variantOf(t)))
}

var arpKw = cmdtree.Kw("arp", "Global ARP settings")

// setSystemFlag turns a global on/off setting on; negation turns it off.
func setSystemFlag(field string) func(p *resolver.Plan, inv *Invocation) error {
	return func(p *resolver.Plan, inv *Invocation) error {
		if inv.Negate {
			return p.SetSystemAttr(field, delta.Off)
		}
		return p.SetSystemAttr(field, delta.On)
	}
}
