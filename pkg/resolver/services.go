package resolver

import (
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

// SetHostname sets the system hostname. An empty name restores the default.
func (p *Plan) SetHostname(name string) error {
	if name == "" {
		name = config.New().Hostname
	}
	p.emit(delta.Op{Kind: delta.SetHostname, Value: name, Prev: p.work.Hostname})
	return nil
}

// MaxArpTimeout bounds the ARP cache timeout in seconds.
const MaxArpTimeout = 2147483

// SetSystemAttr sets or clears a global setting. An empty value restores
// the kernel default.
func (p *Plan) SetSystemAttr(field, value string) error {
	arp := p.work.Arp
	var prev string
	switch field {
	case delta.SysArpTimeout:
		if arp.Timeout > 0 {
			prev = strconv.Itoa(arp.Timeout)
		}
		if value != "" {
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > MaxArpTimeout {
				return violation("arp-timeout", "ARP timeout must be 1-%d seconds", MaxArpTimeout)
			}
			value = strconv.Itoa(n)
		}
	case delta.SysArpProxy:
		prev = onOff(arp.Proxy)
	case delta.SysArpDropGratuitous:
		prev = onOff(arp.DropGratuitous)
	default:
		return violation("attribute", "unknown setting %s", field)
	}
	if value == "" && prev == "" {
		return notConfigured("attribute-set", "%s is not configured", field)
	}
	op := delta.Op{Kind: delta.SetSystemAttr, Field: field, Value: value, Prev: prev}
	if value == prev {
		p.reassert(op)
		return nil
	}
	p.emit(op)
	return nil
}

// SetBanner sets or clears the login banner.
func (p *Plan) SetBanner(text string) error {
	if text == "" && p.work.Banner == "" {
		return notConfigured("banner-set", "no banner configured")
	}
	p.emit(delta.Op{Kind: delta.SetBanner, Value: text, Prev: p.work.Banner})
	return nil
}

// AddRename gives the device currently named current a persistent alias.
func (p *Plan) AddRename(current, alias string) error {
	if current == alias {
		return violation("rename-distinct", "alias must differ from the interface name")
	}
	if r, ok := p.work.Renames[alias]; ok {
		if r.Original == current {
			p.reassert(delta.Op{Kind: delta.AddRename, Rename: *r})
			return nil
		}
		return violation("alias-unique", "alias %s is already assigned to %s", alias, r.BusInfo)
	}
	if _, ok := p.work.Interfaces[alias]; ok {
		return violation("alias-unique", "%s is already an interface name", alias)
	}
	if _, ok := p.work.Interfaces[current]; ok {
		return violation("rename-unconfigured", "%s has configuration; rename it before configuring it", current)
	}
	bus := current
	if p.r.inv != nil {
		if _, ok := p.r.inv.LinkType(current); !ok {
			return notFound("interface-present", "interface %s does not exist", current)
		}
		b, err := p.r.inv.BusInfo(current)
		if err != nil {
			return notFound("bus-info", "%s has no bus information: %v", current, err)
		}
		bus = b
	}
	if r := p.work.RenameByBus(bus); r != nil {
		return violation("rename-single", "%s is already renamed to %s", current, r.Alias)
	}
	p.emit(delta.Op{Kind: delta.AddRename, Rename: config.Rename{BusInfo: bus, Alias: alias, Original: current}})
	return nil
}

// RemoveRename drops an alias, restoring the kernel name.
func (p *Plan) RemoveRename(alias string) error {
	r, ok := p.work.Renames[alias]
	if !ok {
		return notConfigured("rename-exists", "no rename to %s", alias)
	}
	if _, ok := p.work.Interfaces[alias]; ok {
		return violation("rename-unconfigured", "%s has configuration; remove it first", alias)
	}
	p.emit(delta.Op{Kind: delta.RemoveRename, Rename: *r})
	return nil
}

// EnsureNatPool selects a NAT pool, creating it when absent.
func (p *Plan) EnsureNatPool(name string) error {
	if _, ok := p.work.NatPools[name]; !ok {
		p.emit(delta.Op{Kind: delta.CreateNatPool, Pool: name})
	}
	return nil
}

// DeleteNatPool unbinds every interface of the pool and deletes it.
func (p *Plan) DeleteNatPool(name string) error {
	pool, ok := p.work.NatPools[name]
	if !ok {
		return notConfigured("nat-pool-exists", "nat pool %s is not configured", name)
	}
	for _, n := range p.work.InterfacesWhere(func(ifc *config.Interface) bool {
		return ifc.Nat != nil && ifc.Nat.Pool == name
	}) {
		p.emit(p.natOp(delta.UnbindNat, n, *p.work.Interfaces[n].Nat))
	}
	if pool.Description != "" {
		p.emit(delta.Op{Kind: delta.SetNatPoolAttr, Pool: name, Field: delta.AttrDescription, Prev: pool.Description})
	}
	if spec := pool.TranslationSpec(); spec != config.TranslateMasquerade {
		p.emit(delta.Op{Kind: delta.SetNatPoolAttr, Pool: name, Field: delta.AttrTranslation, Value: config.TranslateMasquerade, Prev: spec})
	}
	p.emit(delta.Op{Kind: delta.DeleteNatPool, Pool: name})
	return nil
}

// SetNatDescription sets or clears a NAT pool description.
func (p *Plan) SetNatDescription(name, text string) error {
	pool, ok := p.work.NatPools[name]
	if !ok {
		return notFound("nat-pool-exists", "nat pool %s does not exist", name)
	}
	if text == "" && pool.Description == "" {
		return notConfigured("attribute-set", "description is not set on nat pool %s", name)
	}
	p.emit(delta.Op{Kind: delta.SetNatPoolAttr, Pool: name, Field: delta.AttrDescription, Value: text, Prev: pool.Description})
	return nil
}

// SetNatTranslation changes how outside interfaces of the pool translate.
// Bound interfaces are re-programmed around the change.
func (p *Plan) SetNatTranslation(name, mode string, addr netip.Addr) error {
	pool, ok := p.work.NatPools[name]
	if !ok {
		return notFound("nat-pool-exists", "nat pool %s does not exist", name)
	}
	spec := config.TranslateMasquerade
	if mode == config.TranslateSNAT {
		if !addr.Is4() {
			return violation("snat-address", "snat needs an IPv4 address")
		}
		spec = config.TranslateSNAT + ":" + addr.String()
	}
	prev := pool.TranslationSpec()
	if spec == prev {
		return nil
	}
	bound := p.work.InterfacesWhere(func(ifc *config.Interface) bool {
		return ifc.Nat != nil && ifc.Nat.Pool == name
	})
	bindings := make([]config.NatBinding, len(bound))
	for i, n := range bound {
		bindings[i] = *p.work.Interfaces[n].Nat
		p.emit(p.natOp(delta.UnbindNat, n, bindings[i]))
	}
	p.emit(delta.Op{Kind: delta.SetNatPoolAttr, Pool: name, Field: delta.AttrTranslation, Value: spec, Prev: prev})
	for i, n := range bound {
		p.emit(p.natOp(delta.BindNat, n, bindings[i]))
	}
	return nil
}

// EnsureDhcpPool selects a DHCP pool, creating it when absent.
func (p *Plan) EnsureDhcpPool(name string) error {
	if _, ok := p.work.DhcpPools[name]; !ok {
		p.emit(delta.Op{Kind: delta.CreateDhcpPool, Pool: name})
	}
	return nil
}

func (p *Plan) dhcpPool(name string) (*config.DhcpPool, error) {
	dp, ok := p.work.DhcpPools[name]
	if !ok {
		return nil, notFound("dhcp-pool-exists", "dhcp pool %s does not exist", name)
	}
	return dp, nil
}

// DeleteDhcpPool detaches the pool from its interfaces, removes its
// ranges, reservations and options, and deletes it.
func (p *Plan) DeleteDhcpPool(name string) error {
	dp, ok := p.work.DhcpPools[name]
	if !ok {
		return notConfigured("dhcp-pool-exists", "dhcp pool %s is not configured", name)
	}
	for _, n := range p.work.InterfacesWhere(func(ifc *config.Interface) bool { return ifc.DhcpPool == name }) {
		p.emit(delta.Op{Kind: delta.DetachDhcp, Iface: n, Pool: name})
	}
	for _, o := range slices.Clone(dp.Options) {
		p.emit(delta.Op{Kind: delta.SetDhcpOption, Pool: name, Field: o.Name, Prev: o.Value})
	}
	for _, r := range slices.Clone(dp.Reservations) {
		p.emit(delta.Op{Kind: delta.RemoveDhcpReservation, Pool: name, Value: r.MAC, Addr: r.IP})
	}
	for _, r := range slices.Clone(dp.Ranges) {
		p.emit(delta.Op{Kind: delta.RemoveDhcpRange, Pool: name, Range: r})
	}
	if dp.V6Mode != "" {
		p.emit(delta.Op{Kind: delta.SetDhcpMode, Pool: name, Prev: dp.V6Mode})
	}
	if dp.Subnet.IsValid() {
		p.emit(delta.Op{Kind: delta.SetDhcpSubnet, Pool: name, PrevPrefix: dp.Subnet})
	}
	p.emit(delta.Op{Kind: delta.DeleteDhcpPool, Pool: name})
	return nil
}

// SetDhcpSubnet sets the pool subnet. An IPv6 subnet puts the pool in
// slaac mode unless a mode is already chosen.
func (p *Plan) SetDhcpSubnet(name string, subnet netip.Prefix) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	subnet = subnet.Masked()
	if dp.Subnet == subnet {
		return nil
	}
	if dp.Subnet.IsValid() && (len(dp.Ranges) > 0 || len(dp.Reservations) > 0) {
		return violation("subnet-in-use", "remove ranges and reservations of %s before changing its subnet", name)
	}
	p.emit(delta.Op{Kind: delta.SetDhcpSubnet, Pool: name, Prefix: subnet, PrevPrefix: dp.Subnet})
	switch v6 := subnet.Addr().Is6(); {
	case v6 && dp.V6Mode == "":
		p.emit(delta.Op{Kind: delta.SetDhcpMode, Pool: name, Value: config.ModeSLAAC})
	case !v6 && dp.V6Mode != "":
		p.emit(delta.Op{Kind: delta.SetDhcpMode, Pool: name, Prev: dp.V6Mode})
	}
	for _, o := range slices.Clone(dp.Options) {
		if _, err := p.checkOption(subnet.Addr().Is6(), o.Name, strings.Split(o.Value, ",")); err != nil {
			p.emit(delta.Op{Kind: delta.SetDhcpOption, Pool: name, Field: o.Name, Prev: o.Value})
			p.Warn("option %s dropped: not valid for %s", o.Name, family(subnet.Addr().Is6()))
		}
	}
	return nil
}

// ClearDhcpSubnet removes the pool subnet.
func (p *Plan) ClearDhcpSubnet(name string) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	if !dp.Subnet.IsValid() {
		return notConfigured("subnet-set", "dhcp pool %s has no subnet", name)
	}
	if len(dp.Ranges) > 0 || len(dp.Reservations) > 0 {
		return violation("subnet-in-use", "remove ranges and reservations of %s before its subnet", name)
	}
	if dp.V6Mode != "" {
		p.emit(delta.Op{Kind: delta.SetDhcpMode, Pool: name, Prev: dp.V6Mode})
	}
	p.emit(delta.Op{Kind: delta.SetDhcpSubnet, Pool: name, PrevPrefix: dp.Subnet})
	return nil
}

// SetDhcpMode selects slaac or stateful service for an IPv6 pool. An empty
// mode restores slaac.
func (p *Plan) SetDhcpMode(name, mode string) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	if !dp.IPv6() {
		return violation("mode-ipv6-only", "dhcp pool %s does not serve an IPv6 subnet", name)
	}
	if mode == "" {
		mode = config.ModeSLAAC
	}
	if mode == config.ModeSLAAC && len(dp.Ranges) > 0 {
		p.Warn("ranges of %s are ignored in slaac mode", name)
	}
	p.emit(delta.Op{Kind: delta.SetDhcpMode, Pool: name, Value: mode, Prev: dp.V6Mode})
	return nil
}

// AddDhcpRange adds an address range inside the pool subnet.
func (p *Plan) AddDhcpRange(name string, start, end netip.Addr) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	if !dp.Subnet.IsValid() {
		return violation("subnet-required", "dhcp pool %s has no subnet", name)
	}
	if !dp.Subnet.Contains(start) || !dp.Subnet.Contains(end) {
		return violation("range-in-subnet", "%s-%s is outside %s", start, end, dp.Subnet)
	}
	if end.Less(start) {
		return violation("range-order", "%s is after %s", start, end)
	}
	r := config.DhcpRange{Start: start, End: end}
	for _, cur := range dp.Ranges {
		if cur == r {
			return nil
		}
		if !(end.Less(cur.Start) || cur.End.Less(start)) {
			return violation("range-overlap", "%s-%s overlaps %s-%s", start, end, cur.Start, cur.End)
		}
	}
	p.emit(delta.Op{Kind: delta.AddDhcpRange, Pool: name, Range: r})
	return nil
}

// RemoveDhcpRange removes a range.
func (p *Plan) RemoveDhcpRange(name string, start, end netip.Addr) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	r := config.DhcpRange{Start: start, End: end}
	if !slices.Contains(dp.Ranges, r) {
		return notConfigured("range-exists", "range %s-%s is not configured in %s", start, end, name)
	}
	p.emit(delta.Op{Kind: delta.RemoveDhcpRange, Pool: name, Range: r})
	return nil
}

// AddDhcpReservation binds a MAC address to an IP inside the subnet.
func (p *Plan) AddDhcpReservation(name, mac string, ip netip.Addr) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	if !dp.Subnet.IsValid() {
		return violation("subnet-required", "dhcp pool %s has no subnet", name)
	}
	if !dp.Subnet.Contains(ip) {
		return violation("reservation-in-subnet", "%s is outside %s", ip, dp.Subnet)
	}
	for _, r := range dp.Reservations {
		switch {
		case r.MAC == mac && r.IP == ip:
			return nil
		case r.MAC == mac:
			return violation("reservation-mac-unique", "%s is already reserved %s", mac, r.IP)
		case r.IP == ip:
			return violation("reservation-ip-unique", "%s is already reserved for %s", ip, r.MAC)
		}
	}
	p.emit(delta.Op{Kind: delta.AddDhcpReservation, Pool: name, Value: mac, Addr: ip})
	return nil
}

// RemoveDhcpReservation removes the reservation of a MAC address.
func (p *Plan) RemoveDhcpReservation(name, mac string) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	for _, r := range dp.Reservations {
		if r.MAC == mac {
			p.emit(delta.Op{Kind: delta.RemoveDhcpReservation, Pool: name, Value: mac, Addr: r.IP})
			return nil
		}
	}
	return notConfigured("reservation-exists", "no reservation for %s in %s", mac, name)
}

func (p *Plan) checkOption(v6 bool, name string, values []string) (string, error) {
	if p.r.options == nil {
		return strings.Join(values, ","), nil
	}
	return p.r.options(v6, name, values)
}

// SetDhcpOption sets a named option. Values are validated for the pool's
// address family.
func (p *Plan) SetDhcpOption(name, option string, values []string) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	if !dp.Subnet.IsValid() {
		return violation("subnet-required", "set the subnet of %s before its options", name)
	}
	value, err := p.checkOption(dp.IPv6(), option, values)
	if err != nil {
		return violation("dhcp-option", "%v", err)
	}
	prev, _ := dp.Option(option)
	p.emit(delta.Op{Kind: delta.SetDhcpOption, Pool: name, Field: option, Value: value, Prev: prev})
	return nil
}

// ClearDhcpOption removes a named option.
func (p *Plan) ClearDhcpOption(name, option string) error {
	dp, err := p.dhcpPool(name)
	if err != nil {
		return err
	}
	prev, ok := dp.Option(option)
	if !ok {
		return notConfigured("option-set", "option %s is not set in %s", option, name)
	}
	p.emit(delta.Op{Kind: delta.SetDhcpOption, Pool: name, Field: option, Prev: prev})
	return nil
}

// EnsureWifiPolicy selects a wireless policy, creating it when absent.
func (p *Plan) EnsureWifiPolicy(name string) error {
	if _, ok := p.work.WifiPolicies[name]; !ok {
		p.emit(delta.Op{Kind: delta.CreateWifiPolicy, Pool: name})
	}
	return nil
}

// DeleteWifiPolicy detaches the policy from its radios and deletes it.
func (p *Plan) DeleteWifiPolicy(name string) error {
	pol, ok := p.work.WifiPolicies[name]
	if !ok {
		return notConfigured("wireless-policy-exists", "wireless policy %s is not configured", name)
	}
	for _, n := range p.work.InterfacesWhere(func(ifc *config.Interface) bool { return ifc.WifiPolicy == name }) {
		p.emit(delta.Op{Kind: delta.DetachWifi, Iface: n, Pool: name})
	}
	for _, f := range wifiFields(pol) {
		if f.value != "" {
			p.emit(delta.Op{Kind: delta.SetWifiAttr, Pool: name, Field: f.field, Prev: f.value})
		}
	}
	p.emit(delta.Op{Kind: delta.DeleteWifiPolicy, Pool: name})
	return nil
}

type wifiField struct{ field, value string }

func wifiFields(pol *config.WifiPolicy) []wifiField {
	ch := ""
	if pol.Channel != 0 {
		ch = strconv.Itoa(pol.Channel)
	}
	return []wifiField{
		{delta.AttrSSID, pol.SSID},
		{delta.AttrPassphrase, pol.Passphrase},
		{delta.AttrWpaMode, pol.WpaMode},
		{delta.AttrHwMode, pol.HwMode},
		{delta.AttrChannel, ch},
	}
}

func (p *Plan) wifiPolicy(name string) (*config.WifiPolicy, error) {
	pol, ok := p.work.WifiPolicies[name]
	if !ok {
		return nil, notFound("wireless-policy-exists", "wireless policy %s does not exist", name)
	}
	return pol, nil
}

// Passphrase length bounds for WPA personal.
const (
	MinPassphrase = 8
	MaxPassphrase = 63
)

// SetWifiSecurity sets the SSID, passphrase and WPA mode of a policy.
func (p *Plan) SetWifiSecurity(name, ssid, passphrase, wpaMode string) error {
	pol, err := p.wifiPolicy(name)
	if err != nil {
		return err
	}
	if len(ssid) == 0 || len(ssid) > 32 {
		return violation("ssid-length", "SSID must be 1 to 32 bytes")
	}
	if n := len(passphrase); n < MinPassphrase || n > MaxPassphrase {
		return violation("passphrase-length", "pass-phrase must be %d to %d characters", MinPassphrase, MaxPassphrase)
	}
	if wpaMode == "" {
		wpaMode = config.DefaultWpaMode
	}
	for _, f := range []wifiField{
		{delta.AttrSSID, ssid},
		{delta.AttrPassphrase, passphrase},
		{delta.AttrWpaMode, wpaMode},
	} {
		p.emit(delta.Op{Kind: delta.SetWifiAttr, Pool: name, Field: f.field, Value: f.value, Prev: wifiValue(pol, f.field)})
	}
	return nil
}

// ClearWifiSecurity removes the SSID and credentials of a policy.
func (p *Plan) ClearWifiSecurity(name string) error {
	pol, err := p.wifiPolicy(name)
	if err != nil {
		return err
	}
	if pol.SSID == "" {
		return notConfigured("ssid-set", "wireless policy %s has no SSID", name)
	}
	for _, f := range []string{delta.AttrSSID, delta.AttrPassphrase, delta.AttrWpaMode} {
		if prev := wifiValue(pol, f); prev != "" {
			p.emit(delta.Op{Kind: delta.SetWifiAttr, Pool: name, Field: f, Prev: prev})
		}
	}
	return nil
}

func wifiValue(pol *config.WifiPolicy, field string) string {
	for _, f := range wifiFields(pol) {
		if f.field == field {
			return f.value
		}
	}
	return ""
}

// SetWifiAttr sets or clears the channel or hardware mode of a policy.
func (p *Plan) SetWifiAttr(name, field, value string) error {
	pol, err := p.wifiPolicy(name)
	if err != nil {
		return err
	}
	prev := wifiValue(pol, field)
	if value == "" && prev == "" {
		return notConfigured("attribute-set", "%s is not set on wireless policy %s", field, name)
	}
	p.emit(delta.Op{Kind: delta.SetWifiAttr, Pool: name, Field: field, Value: value, Prev: prev})
	return nil
}

// EnsureFirewallPolicy selects a firewall policy, creating it when absent.
func (p *Plan) EnsureFirewallPolicy(name string) error {
	if _, ok := p.work.FirewallPolicies[name]; !ok {
		p.emit(delta.Op{Kind: delta.CreateFirewallPolicy, Pool: name})
	}
	return nil
}

// DeleteFirewallPolicy unbinds the policy everywhere, removes its rules and
// deletes it.
func (p *Plan) DeleteFirewallPolicy(name string) error {
	pol, ok := p.work.FirewallPolicies[name]
	if !ok {
		return notConfigured("firewall-policy-exists", "firewall policy %s is not configured", name)
	}
	for _, n := range config.SortedKeys(p.work.Interfaces) {
		for _, dir := range []string{config.Inbound, config.Outbound} {
			if p.work.Interfaces[n].Firewall[dir] == name {
				p.emit(delta.Op{Kind: delta.UnbindFirewall, Iface: n, Field: dir, Pool: name})
			}
		}
	}
	for _, r := range slices.Clone(pol.Rules) {
		p.emit(delta.Op{Kind: delta.RemoveFirewallRule, Pool: name, Rule: r})
	}
	p.emit(delta.Op{Kind: delta.DeleteFirewallPolicy, Pool: name})
	return nil
}

// AddFirewallRule adds a rule. A sequence number holds one rule.
func (p *Plan) AddFirewallRule(name string, rule config.FirewallRule) error {
	pol, ok := p.work.FirewallPolicies[name]
	if !ok {
		return notFound("firewall-policy-exists", "firewall policy %s does not exist", name)
	}
	if (rule.SrcPort != 0 || rule.DstPort != 0) && rule.Proto != "tcp" && rule.Proto != "udp" {
		return violation("rule-ports", "ports need protocol tcp or udp")
	}
	for _, ep := range []string{rule.Src, rule.Dst} {
		if ep == "any" {
			continue
		}
		if _, err := netip.ParsePrefix(ep); err != nil {
			return violation("rule-endpoint", "%s is not a prefix", ep)
		}
	}
	if cur, ok := pol.Rule(rule.Seq); ok {
		if cur == rule {
			return nil
		}
		return violation("rule-seq-unique", "rule %d already exists in %s", rule.Seq, name)
	}
	p.emit(delta.Op{Kind: delta.AddFirewallRule, Pool: name, Rule: rule})
	return nil
}

// RemoveFirewallRule removes the rule with a sequence number.
func (p *Plan) RemoveFirewallRule(name string, seq int) error {
	pol, ok := p.work.FirewallPolicies[name]
	if !ok {
		return notFound("firewall-policy-exists", "firewall policy %s does not exist", name)
	}
	r, ok := pol.Rule(seq)
	if !ok {
		return notConfigured("rule-exists", "rule %d is not configured in %s", seq, name)
	}
	p.emit(delta.Op{Kind: delta.RemoveFirewallRule, Pool: name, Rule: r})
	return nil
}

// AddRoute adds a static route.
func (p *Plan) AddRoute(rt config.StaticRoute) error {
	rt.Prefix = rt.Prefix.Masked()
	if rt.Prefix.Addr().Is4() != rt.Gateway.Is4() {
		return violation("route-family", "gateway %s is not in the family of %s", rt.Gateway, rt.Prefix)
	}
	if rt.Iface != "" {
		if _, ok := p.work.Interfaces[rt.Iface]; !ok {
			return notFound("interface-exists", "interface %s is not configured", rt.Iface)
		}
	}
	existing := false
	for _, cur := range p.work.Routes {
		if cur.Prefix == rt.Prefix && cur.Gateway == rt.Gateway {
			if cur.Iface != rt.Iface {
				return violation("route-unique", "route %s via %s already exists", rt.Prefix, rt.Gateway)
			}
			existing = true
		}
	}
	p.emit(delta.Op{Kind: delta.AddRoute, Route: rt, Existing: existing})
	return nil
}

// RemoveRoute removes a static route.
func (p *Plan) RemoveRoute(pfx netip.Prefix, gw netip.Addr) error {
	pfx = pfx.Masked()
	for _, cur := range p.work.Routes {
		if cur.Prefix == pfx && (!gw.IsValid() || cur.Gateway == gw) {
			p.emit(delta.Op{Kind: delta.RemoveRoute, Route: cur})
			return nil
		}
	}
	return notConfigured("route-exists", "route %s is not configured", pfx)
}
