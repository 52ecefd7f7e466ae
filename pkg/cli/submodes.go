package cli

import (
	"net/netip"
	"strconv"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/resolver"
)

func bridgeCommands() []Command {
	return []Command{
		shutdownCommand(func(p *resolver.Plan, name string, down bool) error {
			return p.SetBridgeShutdown(name, down)
		}),
		descriptionCommand(func(p *resolver.Plan, name, text string) error {
			return p.SetBridgeDescription(name, text)
		}),
		accessVlanCommand(),
	}
}

// vlanID is the VLAN of a Configure-VLAN mode.
func vlanID(inv *Invocation) int {
	id, _ := strconv.Atoi(inv.Mode.Param)
	return id
}

func vlanCommands() []Command {
	return []Command{
		{
			Tokens:    tokens(cmdtree.Kw("name", "Ascii name of the VLAN"), cmdtree.PatternVar("name", objectPattern, "The ascii name for the VLAN")),
			NoTokens:  tokens(cmdtree.Kw("name", "Ascii name of the VLAN")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetVlanName(vlanID(inv), "")
				}
				return p.SetVlanName(vlanID(inv), inv.Args.Get("name"))
			},
		},
		descriptionCommand(func(p *resolver.Plan, param, text string) error {
			id, _ := strconv.Atoi(param)
			return p.SetVlanDescription(id, text)
		}),
	}
}

func natCommands() []Command {
	return []Command{
		descriptionCommand(func(p *resolver.Plan, name, text string) error {
			return p.SetNatDescription(name, text)
		}),
		{
			Tokens: tokens(cmdtree.Kw("translation", "How outside interfaces translate"),
				cmdtree.OneOf(
					cmdtree.Seq(cmdtree.Kw(config.TranslateMasquerade, "Use the outside interface address")),
					cmdtree.Seq(cmdtree.Kw(config.TranslateSNAT, "Use a fixed source address"),
						cmdtree.Var("address", cmdtree.IPv4, "Source address")))),
			NoTokens:  tokens(cmdtree.Kw("translation", "How outside interfaces translate")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate || inv.Args.Has(config.TranslateMasquerade) {
					return p.SetNatTranslation(inv.Mode.Param, config.TranslateMasquerade, netip.Addr{})
				}
				return p.SetNatTranslation(inv.Mode.Param, config.TranslateSNAT, netip.MustParseAddr(inv.Args.Get("address")))
			},
		},
	}
}

func dhcpCommands() []Command {
	return []Command{
		{
			Tokens:    tokens(cmdtree.Kw("subnet", "Network served by the pool"), cmdtree.Var("subnet", cmdtree.IPPrefix, "Network prefix")),
			NoTokens:  tokens(cmdtree.Kw("subnet", "Network served by the pool"), cmdtree.Opt(cmdtree.Var("subnet", cmdtree.IPPrefix, "Network prefix"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.ClearDhcpSubnet(inv.Mode.Param)
				}
				return p.SetDhcpSubnet(inv.Mode.Param, netip.MustParsePrefix(inv.Args.Get("subnet")))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("pool", "Address range to lease from"),
				cmdtree.Var("start", cmdtree.IP, "First address"),
				cmdtree.Var("end", cmdtree.IP, "Last address")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				start := netip.MustParseAddr(inv.Args.Get("start"))
				end := netip.MustParseAddr(inv.Args.Get("end"))
				if inv.Negate {
					return p.RemoveDhcpRange(inv.Mode.Param, start, end)
				}
				return p.AddDhcpRange(inv.Mode.Param, start, end)
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("reservation", "Static lease"),
				cmdtree.Kw("hw-address", "Client hardware address"),
				cmdtree.Var("mac", cmdtree.MAC, "48-bit hardware address"),
				cmdtree.Kw("ip-address", "Reserved address"),
				cmdtree.Var("ip", cmdtree.IP, "Address to lease")),
			NoTokens: tokens(cmdtree.Kw("reservation", "Static lease"),
				cmdtree.Kw("hw-address", "Client hardware address"),
				cmdtree.Var("mac", cmdtree.MAC, "48-bit hardware address"),
				cmdtree.Opt(cmdtree.Kw("ip-address", "Reserved address"), cmdtree.Var("ip", cmdtree.IP, "Address to lease"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.RemoveDhcpReservation(inv.Mode.Param, inv.Args.Get("mac"))
				}
				return p.AddDhcpReservation(inv.Mode.Param, inv.Args.Get("mac"), netip.MustParseAddr(inv.Args.Get("ip")))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("option", "Pool option"),
				cmdtree.Var("option", cmdtree.String, "Option name").Suggest("dhcp-option"),
				cmdtree.Var("value", cmdtree.String, "Option value"),
				cmdtree.Rep(cmdtree.Var("value", cmdtree.String, "Option value"))),
			NoTokens: tokens(cmdtree.Kw("option", "Pool option"),
				cmdtree.Var("option", cmdtree.String, "Option name").Suggest("dhcp-option"),
				cmdtree.Rep(cmdtree.Var("value", cmdtree.String, "Option value"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.ClearDhcpOption(inv.Mode.Param, inv.Args.Get("option"))
				}
				return p.SetDhcpOption(inv.Mode.Param, inv.Args.Get("option"), inv.Args.All("value"))
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("mode", "IPv6 address assignment"),
				cmdtree.EnumVar("mode", "Assignment mode", config.ModeSLAAC, config.ModeStateful)),
			NoTokens:  tokens(cmdtree.Kw("mode", "IPv6 address assignment")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetDhcpMode(inv.Mode.Param, config.ModeSLAAC)
				}
				return p.SetDhcpMode(inv.Mode.Param, inv.Args.Get("mode"))
			},
		},
	}
}

func wirelessCommands() []Command {
	return []Command{
		{
			Tokens: tokens(cmdtree.Kw("ssid", "Network name"),
				cmdtree.Var("ssid", cmdtree.String, "Up to 32 characters"),
				cmdtree.Kw("pass-phrase", "WPA pre-shared key"),
				cmdtree.Var("passphrase", cmdtree.String, "8 to 63 characters"),
				cmdtree.Opt(cmdtree.Kw("wpa-mode", "WPA version"),
					cmdtree.EnumVar("wpa", "WPA version", "WPA", "WPA2", "WPA3"))),
			NoTokens:  tokens(cmdtree.Kw("ssid", "Network name"), cmdtree.Rep(cmdtree.Var("ignored", cmdtree.String, "Ignored"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.ClearWifiSecurity(inv.Mode.Param)
				}
				return p.SetWifiSecurity(inv.Mode.Param, inv.Args.Get("ssid"), inv.Args.Get("passphrase"), inv.Args.Get("wpa"))
			},
		},
		{
			Tokens:    tokens(cmdtree.Kw("channel", "Radio channel"), cmdtree.IntVar("channel", 1, 196, "Channel number")),
			NoTokens:  tokens(cmdtree.Kw("channel", "Radio channel")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetWifiAttr(inv.Mode.Param, delta.AttrChannel, "")
				}
				return p.SetWifiAttr(inv.Mode.Param, delta.AttrChannel, inv.Args.Get("channel"))
			},
		},
		{
			Tokens:    tokens(cmdtree.Kw("hardware-mode", "802.11 mode"), cmdtree.EnumVar("hwmode", "802.11 mode", hwModes...)),
			NoTokens:  tokens(cmdtree.Kw("hardware-mode", "802.11 mode")),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.SetWifiAttr(inv.Mode.Param, delta.AttrHwMode, "")
				}
				return p.SetWifiAttr(inv.Mode.Param, delta.AttrHwMode, inv.Args.Get("hwmode"))
			},
		},
	}
}

// endpoint accepts a prefix or "any"; the resolver checks the prefix.
const endpointPattern = `^(any|[0-9A-Fa-f:.]+/[0-9]{1,3})$`

func firewallCommands() []Command {
	seq := cmdtree.IntVar("seq", 1, 65535, "Sequence number")
	return []Command{
		{
			Tokens: tokens(cmdtree.Kw("rule", "Add a rule"),
				seq,
				cmdtree.EnumVar("action", "Rule action", "allow", "deny"),
				cmdtree.EnumVar("proto", "Protocol", "ip", "tcp", "udp", "icmp"),
				cmdtree.PatternVar("src", endpointPattern, "Source prefix or any"),
				cmdtree.PatternVar("dst", endpointPattern, "Destination prefix or any"),
				cmdtree.Opt(cmdtree.Kw("src-port", "Match source port"), cmdtree.IntVar("sport", 1, 65535, "Port")),
				cmdtree.Opt(cmdtree.Kw("dst-port", "Match destination port"), cmdtree.IntVar("dport", 1, 65535, "Port"))),
			NoTokens:  tokens(cmdtree.Kw("rule", "Remove a rule"), seq, cmdtree.Rep(cmdtree.Var("ignored", cmdtree.String, "Rest of the rule, ignored"))),
			Negatable: true,
			Apply: func(p *resolver.Plan, inv *Invocation) error {
				if inv.Negate {
					return p.RemoveFirewallRule(inv.Mode.Param, inv.Args.Int("seq"))
				}
				return p.AddFirewallRule(inv.Mode.Param, config.FirewallRule{
					Seq:     inv.Args.Int("seq"),
					Action:  inv.Args.Get("action"),
					Proto:   inv.Args.Get("proto"),
					Src:     inv.Args.Get("src"),
					Dst:     inv.Args.Get("dst"),
					SrcPort: inv.Args.Int("sport"),
					DstPort: inv.Args.Int("dport"),
				})
			},
		},
	}
}
