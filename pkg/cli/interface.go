package cli

import (
	"net/netip"
	"strconv"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/resolver"
)

var hwModes = []string{"a", "b", "g", "ad", "ax", "any"}

func descriptionCommand(set func(p *resolver.Plan, param, text string) error) Command {
	return Command{
		Tokens:    tokens(cmdtree.Kw("description", "Description text"), textTokens("Up to 240 characters describing this object")),
		NoTokens:  tokens(cmdtree.Kw("description", "Description text")),
		Negatable: true,
		Apply: func(p *resolver.Plan, inv *Invocation) error {
			if inv.Negate {
				return set(p, inv.Mode.Param, "")
			}
			return set(p, inv.Mode.Param, inv.Args.Text("text"))
		},
	}
}

func shutdownCommand(set func(p *resolver.Plan, param string, down bool) error) Command {
	return Command{
		Tokens:    tokens(cmdtree.Kw("shutdown", "Shutdown the selected object")),
		Negatable: true,
		Apply: func(p *resolver.Plan, inv *Invocation) error {
			return set(p, inv.Mode.Param, !inv.Negate)
		},
	}
}

func accessVlanCommand() Command {
	return Command{
		Tokens: tokens(cmdtree.Kw("switchport", "Set switching mode characteristics"),
			cmdtree.Kw("access-vlan", "Set VLAN when interface is in access mode"),
			vlanIDVar("VLAN ID of the VLAN when this port is in access mode")),
		NoTokens: tokens(cmdtree.Kw("switchport", "Set switching mode characteristics"),
			cmdtree.Kw("access-vlan", "Set VLAN when interface is in access mode"),
			cmdtree.Opt(vlanIDVar("VLAN ID"))),
		Negatable: true,
		Apply: func(p *resolver.Plan, inv *Invocation) error {
			if inv.Negate {
				return p.ClearAccessVlan(inv.Mode.Param, inv.Args.Int("id"))
			}
			return p.SetAccessVlan(inv.Mode.Param, inv.Args.Int("id"))
		},
	}
}

// setAttr sets a flag or value attribute; negation clears it.
func setAttr(field string, value func(inv *Invocation) string) func(p *resolver.Plan, inv *Invocation) error {
	return func(p *resolver.Plan, inv *Invocation) error {
		if inv.Negate {
			return p.SetAttr(inv.Mode.Param, field, delta.Off)
		}
		return p.SetAttr(inv.Mode.Param, field, value(inv))
	}
}

func on(*Invocation) string { return delta.On }

func dhcpClientCommands(ipKw cmdtree.Token) []Command {
	return []Command{
		{
			Tokens:    tokens(ipKw, cmdtree.Kw("dhcp-client", "Obtain an address with DHCP")),
			Negatable: true,
			Apply:     setAttr(delta.AttrDhcpClient, on),
		},
		{
			Tokens: tokens(cmdtree.Kw("ipv6", "IPv6 interface subcommands"),
				cmdtree.Kw("dhcp-client", "Obtain an address with DHCPv6")),
			Negatable: true,
			Apply:     setAttr(delta.AttrDhcpClient6, on),
		},
	}
}

// interfaceCommands returns the Configure-Interface table for a variant.
// Loopback, dummy and VLAN sub-interfaces have no physical layer and cannot
// be bridged or tagged.
func interfaceCommands(variant string) []Command {
	physical := variant == variantEthernet || variant == variantWireless
	ipKw := cmdtree.Kw("ip", "Interface Internet Protocol config commands")

	cmds := []Command{
		descriptionCommand(func(p *resolver.Plan, name, text string) error {
			return p.SetAttr(name, delta.AttrDescription, text)
		}),
		shutdownCommand(func(p *resolver.Plan, name string, down bool) error {
			return p.SetShutdown(name, down)
		}),
		{
			Tokens: tokens(ipKw,
				cmdtree.Kw("address", "Set the IP address of an interface"),
				cmdtree.Var("prefix", cmdtree.IPv4Prefix, "IP address and prefix length"),
				cmdtree.Opt(cmdtree.Kw("secondary", "Make this IP address a secondary address"))),
			NoTokens: tokens(ipKw,
				cmdtree.Kw("address", "Set the IP address of an interface"),
				cmdtree.Opt(cmdtree.Var("prefix", cmdtree.IPv4Prefix, "IP address and prefix length"),
					cmdtree.Opt(cmdtree.Kw("secondary", "Make this IP address a secondary address")))),
			Negatable: true,
			Apply:     addressHandler(false),
		},
		{
			Tokens: tokens(cmdtree.Kw("ipv6", "IPv6 interface subcommands"),
				cmdtree.Kw("address", "Configure IPv6 address on interface"),
				cmdtree.Var("prefix", cmdtree.IPv6Prefix, "IPv6 address and prefix length"),
				cmdtree.Opt(cmdtree.Kw("secondary", "Make this IPv6 address a secondary address"))),
			NoTokens: tokens(cmdtree.Kw("ipv6", "IPv6 interface subcommands"),
				cmdtree.Kw("address", "Configure IPv6 address on interface"),
				cmdtree.Opt(cmdtree.Var("prefix", cmdtree.IPv6Prefix, "IPv6 address and prefix length"),
					cmdtree.Opt(cmdtree.Kw("secondary", "Make this IPv6 address a secondary address")))),
			Negatable: true,
			Apply:     addressHandler(true),
		},
		{
			Tokens:    tokens(ipKw, cmdtree.Kw("proxy-arp", "Enable proxy ARP")),
			Negatable: true,
			Apply:     setAttr(delta.AttrProxyArp, on),
		},
		{
			Tokens:    tokens(ipKw, cmdtree.Kw("drop-gratuitous-arp", "Drop gratuitous ARP frames")),
			Negatable: true,
			Apply:     setAttr(delta.AttrDropGratuitousArp, on),
		},
		{
			Tokens: tokens(ipKw,
				cmdtree.Kw("static-arp", "Add a permanent ARP entry"),
				cmdtree.Var("ip", cmdtree.IPv4, "IP address of the neighbour"),
				cmdtree.Var("mac", cmdtree.MAC, "48-bit hardware address"),
				cmdtree.Opt(cmdtree.Kw("arpa", "ARPA encapsulation"))),
			NoTokens: tokens(ipKw,
				cmdtree.Kw("static-arp", "Add a permanent ARP entry"),
				cmdtree.Var("ip", cmdtree.IPv4, "IP address of the neighbour"),
				cmdtree.Opt(cmdtree.Var("mac", cmdtree.MAC, "48-bit hardware address"),
					cmdtree.Opt(cmdtree.Kw("arpa", "ARPA encapsulation")))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				ip := netip.MustParseAddr(inv.Args.Get("ip"))
				if inv.Negate {
					return p.RemoveStaticArp(inv.Mode.Param, ip)
				}
				return p.AddStaticArp(inv.Mode.Param, ip, inv.Args.Get("mac"))
			},
		},
		{
			Tokens: tokens(natKeyword(),
				cmdtree.EnumVar("direction", "NAT role of the interface", config.NatInside, config.NatOutside),
				cmdtree.Kw("pool", "NAT pool"),
				objectVar("pool", "Pool name", "nat-pool")),
			NoTokens: tokens(natKeyword(),
				cmdtree.EnumVar("direction", "NAT role of the interface", config.NatInside, config.NatOutside),
				cmdtree.Opt(cmdtree.Kw("pool", "NAT pool"), objectVar("pool", "Pool name", "nat-pool"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				dir, pool := inv.Args.Get("direction"), inv.Args.Get("pool")
				if inv.Negate {
					return p.UnbindNat(inv.Mode.Param, dir, pool)
				}
				return p.BindNat(inv.Mode.Param, dir, pool)
			},
		},
		{
			Tokens: tokens(ipKw,
				cmdtree.Kw("dhcp-server", "Serve DHCP on this interface"),
				cmdtree.Kw("pool", "DHCP pool"),
				objectVar("pool", "Pool name", "dhcp-pool")),
			NoTokens: tokens(ipKw,
				cmdtree.Kw("dhcp-server", "Serve DHCP on this interface"),
				cmdtree.Opt(cmdtree.Kw("pool", "DHCP pool"), objectVar("pool", "Pool name", "dhcp-pool"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.DetachDhcp(inv.Mode.Param, inv.Args.Get("pool"))
				}
				return p.AttachDhcp(inv.Mode.Param, inv.Args.Get("pool"))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("firewall", "Apply a firewall policy"),
				objectVar("policy", "Policy name", "firewall-policy").Excluding(config.Inbound, config.Outbound),
				cmdtree.EnumVar("direction", "Traffic direction", config.Inbound, config.Outbound)),
			NoTokens: tokens(cmdtree.Kw("firewall", "Apply a firewall policy"),
				cmdtree.Opt(objectVar("policy", "Policy name", "firewall-policy").Excluding(config.Inbound, config.Outbound)),
				cmdtree.EnumVar("direction", "Traffic direction", config.Inbound, config.Outbound)),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				policy, dir := inv.Args.Get("policy"), inv.Args.Get("direction")
				if inv.Negate {
					return p.UnbindFirewall(inv.Mode.Param, policy, dir)
				}
				return p.BindFirewall(inv.Mode.Param, policy, dir)
			},
		},
	}
	if physical || variant == variantVlan {
		cmds = append(cmds, dhcpClientCommands(ipKw)...)
	}
	if !physical {
		return cmds
	}

	cmds = append(cmds,
		Command{
			Tokens: tokens(cmdtree.Kw("mac", "MAC configuration"),
				cmdtree.Kw("address", "Manually set interface MAC address"),
				cmdtree.OneOf(
					cmdtree.Seq(cmdtree.Var("mac", cmdtree.MAC, "48-bit hardware address")),
					cmdtree.Seq(cmdtree.Kw("auto", "Use the burned-in address")))),
			NoTokens: tokens(cmdtree.Kw("mac", "MAC configuration"),
				cmdtree.Kw("address", "Manually set interface MAC address")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate || inv.Args.Has("auto") {
					return p.SetAttr(inv.Mode.Param, delta.AttrMAC, "")
				}
				return p.SetAttr(inv.Mode.Param, delta.AttrMAC, inv.Args.Get("mac"))
			},
		},
		Command{
			Tokens: tokens(cmdtree.Kw("duplex", "Configure duplex operation"),
				cmdtree.EnumVar("duplex", "Duplex mode", "auto", "half", "full")),
			NoTokens:  tokens(cmdtree.Kw("duplex", "Configure duplex operation")),
			Negatable: true,
			Apply:     setAttr(delta.AttrDuplex, func(inv *Invocation) string { return inv.Args.Get("duplex") }),
		},
		Command{
			Tokens: tokens(cmdtree.Kw("speed", "Configure speed operation"),
				cmdtree.EnumVar("speed", "Speed in Mbps", "10", "100", "1000", "10000", "auto")),
			NoTokens:  tokens(cmdtree.Kw("speed", "Configure speed operation")),
			Negatable: true,
			Apply:     setAttr(delta.AttrSpeed, func(inv *Invocation) string { return inv.Args.Get("speed") }),
		},
		Command{
			Tokens: tokens(
				cmdtree.OneOf(
					cmdtree.Seq(cmdtree.Kw("bridge", "Bridging"), cmdtree.Kw("group", "Join a bridge group")),
					cmdtree.Seq(cmdtree.Kw("bridge-group", "Join a bridge group"))),
				ifNameVar("bridge", "Bridge name").Suggest("bridge")),
			NoTokens: tokens(
				cmdtree.OneOf(
					cmdtree.Seq(cmdtree.Kw("bridge", "Bridging"), cmdtree.Kw("group", "Join a bridge group")),
					cmdtree.Seq(cmdtree.Kw("bridge-group", "Join a bridge group"))),
				cmdtree.Opt(ifNameVar("bridge", "Bridge name").Suggest("bridge"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.LeaveBridge(inv.Mode.Param, inv.Args.Get("bridge"))
				}
				return p.JoinBridge(inv.Mode.Param, inv.Args.Get("bridge"))
			},
		},
		accessVlanCommand(),
	)
	if variant != variantWireless {
		return cmds
	}

	wirelessKw := cmdtree.Kw("wireless", "Wireless radio settings")
	return append(cmds,
		Command{
			Tokens: tokens(wirelessKw,
				cmdtree.Kw("wifi", "Apply a wireless security policy"),
				objectVar("policy", "Policy name", "wifi-policy")),
			NoTokens: tokens(wirelessKw,
				cmdtree.Kw("wifi", "Apply a wireless security policy"),
				cmdtree.Opt(objectVar("policy", "Policy name", "wifi-policy"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.DetachWifi(inv.Mode.Param, inv.Args.Get("policy"))
				}
				return p.AttachWifi(inv.Mode.Param, inv.Args.Get("policy"))
			},
		},
		Command{
			Tokens: tokens(wirelessKw,
				cmdtree.Kw("channel", "Override the policy channel"),
				cmdtree.IntVar("channel", 1, 196, "Channel number")),
			NoTokens:  tokens(wirelessKw, cmdtree.Kw("channel", "Override the policy channel")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetWifiOverride(inv.Mode.Param, delta.AttrChannel, "")
				}
				return p.SetWifiOverride(inv.Mode.Param, delta.AttrChannel, strconv.Itoa(inv.Args.Int("channel")))
			},
		},
		Command{
			Tokens: tokens(wirelessKw,
				cmdtree.Kw("hardware-mode", "Override the policy hardware mode"),
				cmdtree.EnumVar("hwmode", "802.11 mode", hwModes...)),
			NoTokens:  tokens(wirelessKw, cmdtree.Kw("hardware-mode", "Override the policy hardware mode")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetWifiOverride(inv.Mode.Param, delta.AttrHwMode, "")
				}
				return p.SetWifiOverride(inv.Mode.Param, delta.AttrHwMode, inv.Args.Get("hwmode"))
			},
		},
	)
}

// addressHandler adds or removes an interface address of one family. A
// bare negation removes every address of the family.
func addressHandler(v6 bool) func(p *resolver.Plan, inv *Invocation) error {
	return func(p *resolver.Plan, inv *Invocation) error {
		name := inv.Mode.Param
		raw := inv.Args.Get("prefix")
		if inv.Negate {
			if raw == "" {
				return p.RemoveAddresses(name, v6)
			}
			return p.RemoveAddress(name, netip.MustParsePrefix(raw))
		}
		return p.AddAddress(name, netip.MustParsePrefix(raw), inv.Args.Has("secondary"))
	}
}
