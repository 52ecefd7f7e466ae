package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/resolver"
)

// WriteRunningConfig renders cfg as the command lines that rebuild it.
// Objects come before the interfaces that reference them so the output can
// be loaded back in order.
func WriteRunningConfig(w io.Writer, cfg *config.Config) {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("hostname %s", cfg.Hostname)
	if cfg.Banner != "" {
		line("banner motd %s", cfg.Banner)
	}
	if cfg.Arp.Timeout > 0 {
		line("arp timeout %d", cfg.Arp.Timeout)
	}
	if cfg.Arp.Proxy {
		line("arp proxy")
	}
	if cfg.Arp.DropGratuitous {
		line("arp drop-gratuitous")
	}
	line("!")

	for _, alias := range config.SortedKeys(cfg.Renames) {
		line("rename if %s if-alias %s", cfg.Renames[alias].Original, alias)
	}
	if len(cfg.Renames) > 0 {
		line("!")
	}

	for _, id := range cfg.VlanIDs() {
		v := cfg.Vlans[id]
		line("vlan %d", id)
		if v.Name != resolver.DefaultVlanName(id) {
			line(" name %s", v.Name)
		}
		if v.Description != "" {
			line(" description %s", v.Description)
		}
		line("!")
	}

	for _, name := range config.SortedKeys(cfg.Bridges) {
		br := cfg.Bridges[name]
		line("bridge %s", name)
		if br.Description != "" {
			line(" description %s", br.Description)
		}
		if v := cfg.VlanOf(name); v != nil {
			line(" switchport access-vlan %d", v.ID)
		}
		line(" %s", shutdownLine(br.Shutdown))
		line("!")
	}

	for _, name := range config.SortedKeys(cfg.NatPools) {
		pool := cfg.NatPools[name]
		line("nat pool %s", name)
		if pool.Description != "" {
			line(" description %s", pool.Description)
		}
		if pool.Translation == config.TranslateSNAT && pool.SnatAddress.IsValid() {
			line(" translation snat %s", pool.SnatAddress)
		}
		line("!")
	}

	for _, name := range config.SortedKeys(cfg.DhcpPools) {
		writeDhcpPool(line, cfg.DhcpPools[name])
		line("!")
	}

	for _, name := range config.SortedKeys(cfg.WifiPolicies) {
		pol := cfg.WifiPolicies[name]
		line("wireless wifi %s", name)
		if pol.SSID != "" {
			line(" ssid %s pass-phrase %s wpa-mode %s", pol.SSID, pol.Passphrase, pol.WpaMode)
		}
		if pol.Channel != 0 {
			line(" channel %d", pol.Channel)
		}
		if pol.HwMode != "" {
			line(" hardware-mode %s", pol.HwMode)
		}
		line("!")
	}

	for _, name := range config.SortedKeys(cfg.FirewallPolicies) {
		line("firewall %s", name)
		for _, r := range cfg.FirewallPolicies[name].Rules {
			line(" rule %s", ruleText(r))
		}
		line("!")
	}

	// VLAN sub-interfaces exist only once their parent carries the VLAN.
	names := config.SortedKeys(cfg.Interfaces)
	sort.SliceStable(names, func(i, j int) bool {
		return cfg.Interfaces[names[i]].Type != config.VlanIf && cfg.Interfaces[names[j]].Type == config.VlanIf
	})
	for _, name := range names {
		writeInterface(line, cfg, cfg.Interfaces[name])
		line("!")
	}

	for _, rt := range cfg.Routes {
		if rt.Iface != "" {
			line("ip route %s %s %s", rt.Prefix, rt.Gateway, rt.Iface)
		} else {
			line("ip route %s %s", rt.Prefix, rt.Gateway)
		}
	}
	if len(cfg.Routes) > 0 {
		line("!")
	}
	line("end")
	io.WriteString(w, b.String())
}

func shutdownLine(down bool) string {
	if down {
		return "shutdown"
	}
	return "no shutdown"
}

// interfaceHeader is the line that selects ifc in Configure mode.
func interfaceHeader(ifc *config.Interface) string {
	switch ifc.Type {
	case config.Loopback:
		if n, ok := strings.CutPrefix(ifc.Name, "loopback"); ok {
			if _, err := strconv.Atoi(n); err == nil {
				return "interface loopback " + n
			}
		}
	case config.Dummy:
		if n, ok := strings.CutPrefix(ifc.Name, "dummy"); ok {
			if _, err := strconv.Atoi(n); err == nil {
				return "interface dummy " + n
			}
		}
	}
	return "interface " + ifc.Name
}

func writeInterface(line func(string, ...any), cfg *config.Config, ifc *config.Interface) {
	line("%s", interfaceHeader(ifc))
	if ifc.Description != "" {
		line(" description %s", ifc.Description)
	}
	if ifc.MAC != "" {
		line(" mac address %s", ifc.MAC)
	}
	if ifc.Duplex != "" {
		line(" duplex %s", ifc.Duplex)
	}
	if ifc.Speed != "" {
		line(" speed %s", ifc.Speed)
	}
	for _, v6 := range []bool{false, true} {
		kw := "ip"
		if v6 {
			kw = "ipv6"
		}
		for _, a := range ifc.Addresses {
			if a.Prefix.Addr().Is6() != v6 {
				continue
			}
			if a.Secondary {
				line(" %s address %s secondary", kw, a.Prefix)
			} else {
				line(" %s address %s", kw, a.Prefix)
			}
		}
	}
	if ifc.ProxyArp {
		line(" ip proxy-arp")
	}
	if ifc.DropGratuitousArp {
		line(" ip drop-gratuitous-arp")
	}
	if ifc.DhcpClient {
		line(" ip dhcp-client")
	}
	if ifc.DhcpClient6 {
		line(" ipv6 dhcp-client")
	}
	for _, a := range ifc.StaticArps {
		line(" ip static-arp %s %s arpa", a.IP, a.MAC)
	}
	if ifc.Bridge != "" {
		line(" bridge-group %s", ifc.Bridge)
	}
	if v := cfg.VlanOf(ifc.Name); v != nil {
		line(" switchport access-vlan %d", v.ID)
	}
	if ifc.Nat != nil {
		line(" nat %s pool %s", ifc.Nat.Direction, ifc.Nat.Pool)
	}
	if ifc.DhcpPool != "" {
		line(" ip dhcp-server pool %s", ifc.DhcpPool)
	}
	for _, dir := range []string{config.Inbound, config.Outbound} {
		if pol, ok := ifc.Firewall[dir]; ok {
			line(" firewall %s %s", pol, dir)
		}
	}
	if ifc.WifiPolicy != "" {
		line(" wireless wifi %s", ifc.WifiPolicy)
	}
	if ifc.WifiChannel != 0 {
		line(" wireless channel %d", ifc.WifiChannel)
	}
	if ifc.WifiHwMode != "" {
		line(" wireless hardware-mode %s", ifc.WifiHwMode)
	}
	line(" %s", shutdownLine(ifc.Shutdown))
}

func writeDhcpPool(line func(string, ...any), p *config.DhcpPool) {
	line("dhcp %s", p.Name)
	if !p.Subnet.IsValid() {
		return
	}
	line(" subnet %s", p.Subnet)
	if p.IPv6() && p.V6Mode == config.ModeStateful {
		line(" mode %s", p.V6Mode)
	}
	for _, r := range p.Ranges {
		line(" pool %s %s", r.Start, r.End)
	}
	for _, r := range p.Reservations {
		line(" reservation hw-address %s ip-address %s", r.MAC, r.IP)
	}
	for _, o := range p.Options {
		line(" option %s %s", o.Name, strings.ReplaceAll(o.Value, ",", " "))
	}
}

// ruleText renders a firewall rule as its command arguments.
func ruleText(r config.FirewallRule) string {
	s := fmt.Sprintf("%d %s %s %s %s", r.Seq, r.Action, r.Proto, r.Src, r.Dst)
	if r.SrcPort != 0 {
		s += fmt.Sprintf(" src-port %d", r.SrcPort)
	}
	if r.DstPort != 0 {
		s += fmt.Sprintf(" dst-port %d", r.DstPort)
	}
	return s
}
