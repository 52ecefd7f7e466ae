package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/configstore"
	"github.com/psaab/routershell/pkg/dhcpclient"
	"github.com/psaab/routershell/pkg/netops"
)

func showKw() cmdtree.Token {
	return cmdtree.Kw("show", "Show running system information")
}

func showCommands() []Command {
	ipKw := cmdtree.Kw("ip", "IP information")
	return []Command{
		{Tokens: tokens(showKw(), cmdtree.Kw("running-config", "Current operating configuration")), Show: showRunningConfig},
		{
			Tokens: tokens(showKw(), cmdtree.Kw("interfaces", "Interface status and configuration"),
				cmdtree.Opt(ifNameVar("name", "Interface name"))),
			Show: showInterfaces,
		},
		{
			Tokens: tokens(showKw(), ipKw, cmdtree.Kw("interface", "IP interface status and configuration"),
				cmdtree.Kw("brief", "Brief summary of IP status and configuration")),
			Show: showIPInterfaceBrief,
		},
		{Tokens: tokens(showKw(), cmdtree.Kw("bridge", "Bridge groups")), Show: showBridges},
		{Tokens: tokens(showKw(), cmdtree.Kw("vlan", "VLAN status")), Show: showVlans},
		{Tokens: tokens(showKw(), cmdtree.Kw("nat", "NAT pools and bindings")), Show: showNat},
		{
			Tokens: tokens(showKw(), cmdtree.Kw("dhcp", "DHCP server information"),
				cmdtree.Kw("pool", "DHCP pools"), cmdtree.Opt(objectVar("name", "Pool name", "dhcp-pool"))),
			Show: showDhcpPools,
		},
		{
			Tokens: tokens(showKw(), cmdtree.Kw("dhcp", "DHCP server information"),
				cmdtree.Kw("leases", "Active leases")),
			Show: showDhcpLeases,
		},
		{
			Tokens: tokens(showKw(), cmdtree.Kw("dhcp", "DHCP server information"),
				cmdtree.Kw("client", "Addresses obtained by interface DHCP clients")),
			Show: showDhcpClient,
		},
		{Tokens: tokens(showKw(), cmdtree.Kw("wireless", "Wireless policies")), Show: showWireless},
		{Tokens: tokens(showKw(), cmdtree.Kw("firewall", "Firewall policies")), Show: showFirewall},
		{Tokens: tokens(showKw(), cmdtree.Kw("arp", "ARP table")), Show: showArp},
		{Tokens: tokens(showKw(), ipKw, cmdtree.Kw("route", "IP routing table")), Show: showIPRoute},
		{Tokens: tokens(showKw(), cmdtree.Kw("rename", "Persistent interface names")), Show: showRenames},
		{Tokens: tokens(showKw(), cmdtree.Kw("version", "System software status")), Show: showVersion},
		{Tokens: tokens(showKw(), cmdtree.Kw("history", "Display the session command history")), Show: showHistory},
		{
			Tokens: tokens(showKw(), cmdtree.Kw("configuration", "Configuration information"),
				cmdtree.Kw("history", "Committed configuration changes"),
				cmdtree.Opt(cmdtree.IntVar("id", 1, math.MaxInt32, "Commit ID"))),
			Show: showConfigHistory,
		},
	}
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// liveLinks returns the host links by name, or nil without host access.
func (s *Session) liveLinks() map[string]netops.LinkStatus {
	if s.live == nil {
		return nil
	}
	links, err := s.live.Links()
	if err != nil {
		s.log.Warn("read links", "err", err)
		return nil
	}
	out := make(map[string]netops.LinkStatus, len(links))
	for _, l := range links {
		out[l.Name] = l
	}
	return out
}

func showRunningConfig(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "!")
	WriteRunningConfig(w, cfg)
	return nil
}

// ifStatus renders the admin and protocol state of an interface. Without
// host access the protocol follows the admin state.
func ifStatus(down bool, live netops.LinkStatus, haveLive bool) (string, string) {
	status := "up"
	if down {
		status = "administratively down"
	}
	proto := "down"
	switch {
	case haveLive && live.OperUp:
		proto = "up"
	case !haveLive && !down:
		proto = "up"
	}
	return status, proto
}

func showInterfaces(ctx context.Context, s *Session, w io.Writer, inv *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	names := config.SortedKeys(cfg.Interfaces)
	if name := inv.Args.Get("name"); name != "" {
		if _, ok := cfg.Interfaces[name]; !ok {
			return fmt.Errorf("interface %s is not configured", name)
		}
		names = []string{name}
	}
	links := s.liveLinks()
	for _, name := range names {
		ifc := cfg.Interfaces[name]
		live, haveLive := links[name]
		status, proto := ifStatus(ifc.Shutdown, live, haveLive)
		fmt.Fprintf(w, "%s is %s, line protocol is %s\n", name, status, proto)
		mac := ifc.MAC
		if mac == "" && haveLive {
			mac = live.MAC
		}
		fmt.Fprintf(w, "  Hardware is %s, address is %s\n", ifc.Type, orDash(mac))
		if ifc.Description != "" {
			fmt.Fprintf(w, "  Description: %s\n", ifc.Description)
		}
		for _, a := range ifc.Addresses {
			switch {
			case a.Prefix.Addr().Is6():
				fmt.Fprintf(w, "  IPv6 address is %s\n", a.Prefix)
			case a.Secondary:
				fmt.Fprintf(w, "  Secondary address %s\n", a.Prefix)
			default:
				fmt.Fprintf(w, "  Internet address is %s\n", a.Prefix)
			}
		}
		if haveLive {
			fmt.Fprintf(w, "  MTU %d bytes\n", live.MTU)
		}
		if ifc.Duplex != "" || ifc.Speed != "" {
			fmt.Fprintf(w, "  Duplex %s, speed %s\n", orDash(ifc.Duplex), orDash(ifc.Speed))
		}
		if ifc.Bridge != "" {
			fmt.Fprintf(w, "  Member of bridge %s\n", ifc.Bridge)
		}
		if v := cfg.VlanOf(name); v != nil {
			fmt.Fprintf(w, "  Access VLAN %d (%s)\n", v.ID, v.Name)
		}
		if ifc.Nat != nil {
			fmt.Fprintf(w, "  NAT %s, pool %s\n", ifc.Nat.Direction, ifc.Nat.Pool)
		}
		if ifc.DhcpPool != "" {
			fmt.Fprintf(w, "  DHCP server pool %s\n", ifc.DhcpPool)
		}
		for _, dir := range []string{config.Inbound, config.Outbound} {
			if pol, ok := ifc.Firewall[dir]; ok {
				fmt.Fprintf(w, "  Firewall policy %s %s\n", pol, dir)
			}
		}
		if ifc.WifiPolicy != "" {
			fmt.Fprintf(w, "  Wireless policy %s\n", ifc.WifiPolicy)
		}
	}
	return nil
}

func showIPInterfaceBrief(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	links := s.liveLinks()
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Interface\tIP-Address\tStatus\tProtocol")
	for _, name := range config.SortedKeys(cfg.Interfaces) {
		ifc := cfg.Interfaces[name]
		addr := "unassigned"
		if a, ok := ifc.PrimaryAddress(false); ok {
			addr = a.Prefix.String()
		}
		live, haveLive := links[name]
		status, proto := ifStatus(ifc.Shutdown, live, haveLive)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, addr, status, proto)
	}
	return tw.Flush()
}

func showBridges(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Bridge\tStatus\tVLAN\tMembers\tDescription")
	for _, name := range config.SortedKeys(cfg.Bridges) {
		br := cfg.Bridges[name]
		status := "up"
		if br.Shutdown {
			status = "down"
		}
		vlan := "-"
		if v := cfg.VlanOf(name); v != nil {
			vlan = fmt.Sprint(v.ID)
		}
		members := strings.Join(cfg.BridgeMembers(name), ",")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, status, vlan, orDash(members), br.Description)
	}
	return tw.Flush()
}

func showVlans(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "VLAN\tName\tPorts\tDescription")
	for _, id := range cfg.VlanIDs() {
		v := cfg.Vlans[id]
		var ports []string
		for _, b := range v.Bindings {
			ports = append(ports, b.Parent())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", id, v.Name, orDash(strings.Join(ports, ",")), v.Description)
	}
	return tw.Flush()
}

func showNat(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Pool\tTranslation\tInside\tOutside\tDescription")
	for _, name := range config.SortedKeys(cfg.NatPools) {
		pool := cfg.NatPools[name]
		side := func(dir string) string {
			return orDash(strings.Join(cfg.InterfacesWhere(func(ifc *config.Interface) bool {
				return ifc.Nat != nil && ifc.Nat.Pool == name && ifc.Nat.Direction == dir
			}), ","))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, pool.TranslationSpec(),
			side(config.NatInside), side(config.NatOutside), pool.Description)
	}
	return tw.Flush()
}

func showDhcpPools(ctx context.Context, s *Session, w io.Writer, inv *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	names := config.SortedKeys(cfg.DhcpPools)
	if name := inv.Args.Get("name"); name != "" {
		if _, ok := cfg.DhcpPools[name]; !ok {
			return fmt.Errorf("dhcp pool %s is not configured", name)
		}
		names = []string{name}
	}
	for _, name := range names {
		p := cfg.DhcpPools[name]
		fmt.Fprintf(w, "Pool %s\n", name)
		if !p.Subnet.IsValid() {
			fmt.Fprintln(w, "  Subnet: not configured")
			continue
		}
		fmt.Fprintf(w, "  Subnet: %s\n", p.Subnet)
		if p.IPv6() {
			fmt.Fprintf(w, "  IPv6 mode: %s\n", p.V6Mode)
		}
		for _, r := range p.Ranges {
			fmt.Fprintf(w, "  Range: %s - %s\n", r.Start, r.End)
		}
		for _, r := range p.Reservations {
			fmt.Fprintf(w, "  Reservation: %s -> %s\n", r.MAC, r.IP)
		}
		for _, o := range p.Options {
			fmt.Fprintf(w, "  Option %s: %s\n", o.Name, o.Value)
		}
		ifaces := cfg.InterfacesWhere(func(ifc *config.Interface) bool { return ifc.DhcpPool == name })
		fmt.Fprintf(w, "  Interfaces: %s\n", orDash(strings.Join(ifaces, ", ")))
	}
	return nil
}

func showDhcpLeases(_ context.Context, s *Session, w io.Writer, _ *Invocation) error {
	if s.leases == nil {
		fmt.Fprintln(w, "% DHCP lease information is not available")
		return nil
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Address\tHardware address\tHostname\tExpires")
	for _, v6 := range []bool{false, true} {
		leases, err := s.leases.Leases(v6)
		if err != nil {
			return fmt.Errorf("read leases: %w", err)
		}
		for _, l := range leases {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Address, orDash(l.HWAddress), orDash(l.Hostname), orDash(l.ExpireTime))
		}
	}
	return tw.Flush()
}

func showDhcpClient(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	held := make(map[string]dhcpclient.Lease)
	if s.clients != nil {
		for _, l := range s.clients.Leases() {
			held[fmt.Sprintf("%s/%t", l.Interface, l.V6)] = l
		}
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Interface\tFamily\tAddress\tGateway\tExpires")
	for _, name := range config.SortedKeys(cfg.Interfaces) {
		ifc := cfg.Interfaces[name]
		for _, v6 := range []bool{false, true} {
			if (v6 && !ifc.DhcpClient6) || (!v6 && !ifc.DhcpClient) {
				continue
			}
			family := "ipv4"
			if v6 {
				family = "ipv6"
			}
			l, ok := held[fmt.Sprintf("%s/%t", name, v6)]
			if !ok {
				fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\n", name, family, "requesting")
				continue
			}
			gw := "-"
			if l.Gateway.IsValid() {
				gw = l.Gateway.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, family, l.Address, gw,
				l.Expires().Format(time.DateTime))
		}
	}
	return tw.Flush()
}

func showWireless(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Policy\tSSID\tSecurity\tMode\tChannel\tInterfaces")
	for _, name := range config.SortedKeys(cfg.WifiPolicies) {
		pol := cfg.WifiPolicies[name]
		channel := "auto"
		if pol.Channel != 0 {
			channel = fmt.Sprint(pol.Channel)
		}
		ifaces := cfg.InterfacesWhere(func(ifc *config.Interface) bool { return ifc.WifiPolicy == name })
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, orDash(pol.SSID), orDash(pol.WpaMode),
			orDash(pol.HwMode), channel, orDash(strings.Join(ifaces, ",")))
	}
	return tw.Flush()
}

func showFirewall(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	for _, name := range config.SortedKeys(cfg.FirewallPolicies) {
		pol := cfg.FirewallPolicies[name]
		fmt.Fprintf(w, "Firewall policy %s\n", name)
		for _, r := range pol.Rules {
			fmt.Fprintf(w, "  rule %s\n", ruleText(r))
		}
		for _, ifname := range config.SortedKeys(cfg.Interfaces) {
			for _, dir := range []string{config.Inbound, config.Outbound} {
				if cfg.Interfaces[ifname].Firewall[dir] == name {
					fmt.Fprintf(w, "  applied %s on %s\n", dir, ifname)
				}
			}
		}
	}
	return nil
}

func showArp(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Address\tHardware Addr\tType\tInterface")
	static := make(map[string]bool)
	for _, name := range config.SortedKeys(cfg.Interfaces) {
		for _, a := range cfg.Interfaces[name].StaticArps {
			static[name+"/"+a.IP.String()] = true
			fmt.Fprintf(tw, "%s\t%s\tstatic\t%s\n", a.IP, a.MAC, name)
		}
	}
	if s.live != nil {
		neighs, err := s.live.Neighbors()
		if err != nil {
			return fmt.Errorf("read neighbours: %w", err)
		}
		for _, n := range neighs {
			if static[n.Interface+"/"+n.IP] {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.IP, orDash(n.MAC), n.State, n.Interface)
		}
	}
	return tw.Flush()
}

func showIPRoute(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	if s.live != nil {
		routes, err := s.live.Routes()
		if err != nil {
			return fmt.Errorf("read routes: %w", err)
		}
		io.WriteString(w, netops.FormatRoutes(routes))
		return nil
	}
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	var entries []netops.RouteEntry
	for _, rt := range cfg.Routes {
		entries = append(entries, netops.RouteEntry{
			Destination: rt.Prefix.String(),
			NextHop:     rt.Gateway.String(),
			Interface:   rt.Iface,
			Protocol:    "static",
		})
	}
	io.WriteString(w, netops.FormatRoutes(entries))
	return nil
}

func showRenames(ctx context.Context, s *Session, w io.Writer, _ *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "Alias\tOriginal\tBus")
	for _, alias := range config.SortedKeys(cfg.Renames) {
		r := cfg.Renames[alias]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", alias, r.Original, r.BusInfo)
	}
	return tw.Flush()
}

func showVersion(_ context.Context, s *Session, w io.Writer, _ *Invocation) error {
	version := s.version
	if version == "" {
		version = "dev"
	}
	st := s.exec.Stats()
	fmt.Fprintf(w, "routershell version %s\n", version)
	fmt.Fprintf(w, "%s uptime is %s\n", s.hostname, time.Since(s.started).Truncate(time.Second))
	fmt.Fprintf(w, "Configuration store: %s\n", s.store.Path())
	fmt.Fprintf(w, "Executor: %d change(s), %d operation(s), %d failure(s), %d rollback(s)\n",
		st.Deltas, st.Ops, st.Failures, st.RolledBack+st.RollbackFailed)
	return nil
}

func showHistory(_ context.Context, s *Session, w io.Writer, _ *Invocation) error {
	for _, line := range s.history {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}

func showConfigHistory(_ context.Context, s *Session, w io.Writer, inv *Invocation) error {
	entries := s.store.History().Recent(0)
	if inv.Args.Get("id") != "" {
		e, err := s.store.History().Get(int64(inv.Args.Int("id")))
		if err != nil {
			return err
		}
		entries = []*configstore.HistoryEntry{e}
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tTime\tMode\tOps\tCommand")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.Timestamp.Format(time.DateTime), e.Mode, e.Ops, e.Command)
	}
	return tw.Flush()
}
