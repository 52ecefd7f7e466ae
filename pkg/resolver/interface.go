package resolver

import (
	"net/netip"
	"slices"
	"strconv"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

func (p *Plan) iface(name string) (*config.Interface, error) {
	ifc, ok := p.work.Interfaces[name]
	if !ok {
		return nil, notFound("interface-exists", "interface %s is not configured", name)
	}
	return ifc, nil
}

// EnsureInterface selects interface name for configuration, creating its
// record when needed. kind is empty for plain "interface <name>" and set
// for the typed forms (loopback, dummy). The interface type is returned.
func (p *Plan) EnsureInterface(name string, kind config.IfType) (config.IfType, error) {
	if ifc, ok := p.work.Interfaces[name]; ok {
		if kind != "" && kind != ifc.Type {
			return "", violation("interface-type", "interface %s is %s, not %s", name, ifc.Type, kind)
		}
		return ifc.Type, nil
	}
	if _, ok := p.work.Bridges[name]; ok {
		return "", violation("name-unique", "%s is a bridge", name)
	}
	if kind == "" {
		if p.r.inv != nil {
			t, ok := p.r.inv.LinkType(name)
			if !ok {
				return "", notFound("interface-present", "interface %s does not exist", name)
			}
			kind = t
		} else {
			kind = config.GuessType(name)
		}
	}
	switch kind {
	case config.VlanIf:
		return "", violation("vlan-subinterface", "%s is a VLAN sub-interface; use switchport access-vlan on its parent", name)
	case config.Loopback, config.Dummy:
		p.emit(delta.Op{Kind: delta.CreateInterface, Iface: name, IfType: kind, Up: true})
	default:
		p.emit(delta.Op{Kind: delta.CreateInterface, Iface: name, IfType: kind})
	}
	return kind, nil
}

// DestroyInterface removes a virtual interface and everything bound to it.
func (p *Plan) DestroyInterface(name string) error {
	ifc, ok := p.work.Interfaces[name]
	if !ok {
		return notConfigured("interface-exists", "interface %s is not configured", name)
	}
	switch {
	case ifc.Type == config.VlanIf:
		return violation("vlan-subinterface", "%s belongs to a VLAN binding; use no switchport access-vlan on its parent", name)
	case !ifc.Type.Virtual():
		return violation("virtual-only", "%s is a physical interface and cannot be removed", name)
	}
	p.teardown(name)
	p.emit(delta.Op{Kind: delta.DestroyInterface, Iface: name, IfType: ifc.Type, Up: !ifc.Shutdown})
	return nil
}

// teardown removes every dependent of an interface, leaving only the bare
// interface record.
func (p *Plan) teardown(name string) {
	ifc := p.work.Interfaces[name]
	for _, dir := range []string{config.Inbound, config.Outbound} {
		if pol, ok := ifc.Firewall[dir]; ok {
			p.emit(delta.Op{Kind: delta.UnbindFirewall, Iface: name, Field: dir, Pool: pol})
		}
	}
	if ifc.Nat != nil {
		p.emit(p.natOp(delta.UnbindNat, name, *ifc.Nat))
	}
	if ifc.DhcpPool != "" {
		p.emit(delta.Op{Kind: delta.DetachDhcp, Iface: name, Pool: ifc.DhcpPool})
	}
	if ifc.WifiPolicy != "" {
		p.emit(delta.Op{Kind: delta.DetachWifi, Iface: name, Pool: ifc.WifiPolicy})
	}
	if ifc.DhcpClient {
		p.setAttr(ifc, delta.AttrDhcpClient, delta.Off, delta.On)
	}
	if ifc.DhcpClient6 {
		p.setAttr(ifc, delta.AttrDhcpClient6, delta.Off, delta.On)
	}
	if v := p.work.VlanOf(name); v != nil {
		p.unbindVlan(v, name)
	}
	if ifc.Bridge != "" {
		p.emit(delta.Op{Kind: delta.DetachBridge, Iface: name, Bridge: ifc.Bridge})
	}
	for _, rt := range slices.Clone(p.work.Routes) {
		if rt.Iface == name {
			p.emit(delta.Op{Kind: delta.RemoveRoute, Route: rt})
		}
	}
	for _, a := range slices.Clone(ifc.StaticArps) {
		p.emit(delta.Op{Kind: delta.RemoveStaticArp, Iface: name, Addr: a.IP, Value: a.MAC})
	}
	// secondaries first so a primary is never removed while they remain
	addrs := slices.Clone(ifc.Addresses)
	slices.SortStableFunc(addrs, func(a, b config.Address) int {
		switch {
		case a.Secondary == b.Secondary:
			return 0
		case a.Secondary:
			return -1
		}
		return 1
	})
	for _, a := range addrs {
		p.emit(delta.Op{Kind: delta.RemoveAddress, Iface: name, Prefix: a.Prefix, Secondary: a.Secondary})
	}
}

// SetShutdown sets the administrative state of an interface.
func (p *Plan) SetShutdown(name string, shutdown bool) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	p.emit(delta.Op{Kind: delta.SetLinkState, Iface: name, Up: !shutdown, PrevUp: !ifc.Shutdown})
	return nil
}

func (p *Plan) setAttr(ifc *config.Interface, field, value, prev string) {
	p.emit(delta.Op{Kind: delta.SetInterfaceAttr, Iface: ifc.Name, Field: field, Value: value, Prev: prev})
}

// SetAttr sets or, with an empty value, clears an interface attribute.
// Clearing an attribute that is not set is reported as NotConfigured.
func (p *Plan) SetAttr(name, field, value string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	var prev string
	switch field {
	case delta.AttrDescription:
		prev = ifc.Description
	case delta.AttrMAC:
		prev = ifc.MAC
	case delta.AttrDuplex:
		prev = ifc.Duplex
	case delta.AttrSpeed:
		prev = ifc.Speed
	case delta.AttrProxyArp:
		prev = onOff(ifc.ProxyArp)
	case delta.AttrDropGratuitousArp:
		prev = onOff(ifc.DropGratuitousArp)
	case delta.AttrDhcpClient:
		prev = onOff(ifc.DhcpClient)
	case delta.AttrDhcpClient6:
		prev = onOff(ifc.DhcpClient6)
	default:
		return violation("attribute", "unknown attribute %s", field)
	}
	if value == "" && prev == "" {
		return notConfigured("attribute-set", "%s is not set on %s", field, name)
	}
	if field == delta.AttrMAC && value != "" && ifc.Type == config.Loopback {
		return violation("mac-address", "loopback interfaces have no MAC address")
	}
	if (field == delta.AttrDhcpClient || field == delta.AttrDhcpClient6) && value != "" &&
		(ifc.Type == config.Loopback || ifc.Type == config.Dummy) {
		return violation("dhcp-client", "%s interfaces cannot run a DHCP client", ifc.Type)
	}
	p.setAttr(ifc, field, value, prev)
	return nil
}

// AddAddress assigns an address. An interface holds at most one primary
// address per family and a secondary needs a primary of its family.
func (p *Plan) AddAddress(name string, pfx netip.Prefix, secondary bool) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	v6 := pfx.Addr().Is6()
	if !v6 && pfx.Bits() == 32 && ifc.Type != config.Loopback && ifc.Type != config.Dummy {
		return violation("address-mask", "%s: a /32 is only valid on loopback interfaces", pfx)
	}
	if !v6 && pfx.Addr() == pfx.Masked().Addr() && pfx.Bits() < 31 {
		return violation("address-host", "%s is a network address", pfx)
	}
	if cur, ok := ifc.HasAddress(pfx); ok {
		if cur.Secondary == secondary {
			p.reassert(delta.Op{Kind: delta.AddAddress, Iface: name, Prefix: pfx, Secondary: secondary})
			return nil
		}
		return violation("address-role", "%s is already configured as a %s address on %s", pfx, role(cur.Secondary), name)
	}
	primary, hasPrimary := ifc.PrimaryAddress(v6)
	switch {
	case secondary && !hasPrimary:
		return violation("secondary-needs-primary", "%s has no primary %s address", name, family(v6))
	case !secondary && hasPrimary:
		return violation("primary-unique", "%s already has primary address %s", name, primary.Prefix)
	}
	for _, other := range config.SortedKeys(p.work.Interfaces) {
		for _, a := range p.work.Interfaces[other].Addresses {
			if other != name && a.Prefix.Masked() == pfx.Masked() {
				return violation("subnet-overlap", "%s overlaps with %s on %s", pfx, a.Prefix, other)
			}
		}
	}
	p.emit(delta.Op{Kind: delta.AddAddress, Iface: name, Prefix: pfx, Secondary: secondary})
	return nil
}

func role(secondary bool) string {
	if secondary {
		return "secondary"
	}
	return "primary"
}

func family(v6 bool) string {
	if v6 {
		return "IPv6"
	}
	return "IPv4"
}

// RemoveAddress removes one address. A primary cannot be removed while
// secondaries of its family remain.
func (p *Plan) RemoveAddress(name string, pfx netip.Prefix) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	cur, ok := ifc.HasAddress(pfx)
	if !ok {
		return notConfigured("address-exists", "%s is not configured on %s", pfx, name)
	}
	if !cur.Secondary {
		for _, a := range ifc.Addresses {
			if a.Secondary && a.Prefix.Addr().Is6() == pfx.Addr().Is6() {
				return violation("primary-with-secondaries", "remove secondary addresses of %s before its primary", name)
			}
		}
	}
	p.emit(delta.Op{Kind: delta.RemoveAddress, Iface: name, Prefix: pfx, Secondary: cur.Secondary})
	return nil
}

// RemoveAddresses removes every address of one family.
func (p *Plan) RemoveAddresses(name string, v6 bool) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	var primary *config.Address
	n := 0
	for _, a := range slices.Clone(ifc.Addresses) {
		if a.Prefix.Addr().Is6() != v6 {
			continue
		}
		n++
		if !a.Secondary {
			primary = &a
			continue
		}
		p.emit(delta.Op{Kind: delta.RemoveAddress, Iface: name, Prefix: a.Prefix, Secondary: true})
	}
	if n == 0 {
		return notConfigured("address-exists", "no %s address on %s", family(v6), name)
	}
	if primary != nil {
		p.emit(delta.Op{Kind: delta.RemoveAddress, Iface: name, Prefix: primary.Prefix})
	}
	return nil
}

// AddStaticArp installs a permanent neighbour entry on the interface.
func (p *Plan) AddStaticArp(name string, ip netip.Addr, mac string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if !ip.Is4() {
		return violation("static-arp", "%s is not an IPv4 address", ip)
	}
	onLink := false
	for _, a := range ifc.Addresses {
		if a.Prefix.Contains(ip) {
			onLink = true
		}
	}
	if !onLink {
		p.Warn("%s is not on a connected subnet of %s", ip, name)
	}
	p.emit(delta.Op{Kind: delta.AddStaticArp, Iface: name, Addr: ip, Value: mac})
	return nil
}

// RemoveStaticArp removes a neighbour entry.
func (p *Plan) RemoveStaticArp(name string, ip netip.Addr) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	for _, a := range ifc.StaticArps {
		if a.IP == ip {
			p.emit(delta.Op{Kind: delta.RemoveStaticArp, Iface: name, Addr: ip, Value: a.MAC})
			return nil
		}
	}
	return notConfigured("static-arp-exists", "no static arp for %s on %s", ip, name)
}

// JoinBridge makes the interface a member of a bridge group.
func (p *Plan) JoinBridge(name, bridge string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if _, ok := p.work.Bridges[bridge]; !ok {
		return notFound("bridge-exists", "bridge %s does not exist", bridge)
	}
	if ifc.Type == config.Loopback {
		return violation("bridge-member-type", "loopback interfaces cannot join a bridge")
	}
	if ifc.Bridge != "" && ifc.Bridge != bridge {
		return violation("bridge-single", "%s is already a member of bridge %s", name, ifc.Bridge)
	}
	if v := p.work.VlanOf(name); v != nil {
		return violation("bridge-or-vlan", "%s carries VLAN %d; remove it before joining a bridge", name, v.ID)
	}
	p.emit(delta.Op{Kind: delta.AttachBridge, Iface: name, Bridge: bridge})
	return nil
}

// LeaveBridge removes the interface from its bridge group. An empty bridge
// name matches any membership.
func (p *Plan) LeaveBridge(name, bridge string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if ifc.Bridge == "" || (bridge != "" && ifc.Bridge != bridge) {
		return notConfigured("bridge-member", "%s is not a member of bridge %s", name, bridge)
	}
	p.emit(delta.Op{Kind: delta.DetachBridge, Iface: name, Bridge: ifc.Bridge})
	return nil
}

// BindNat gives the interface a NAT role in a pool. An interface has at
// most one direction.
func (p *Plan) BindNat(name, dir, pool string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if _, ok := p.work.NatPools[pool]; !ok {
		return notFound("nat-pool-exists", "nat pool %s does not exist", pool)
	}
	if ifc.Nat != nil && (ifc.Nat.Direction != dir || ifc.Nat.Pool != pool) {
		return violation("nat-direction-single", "%s is already nat %s of pool %s", name, ifc.Nat.Direction, ifc.Nat.Pool)
	}
	p.emit(p.natOp(delta.BindNat, name, config.NatBinding{Direction: dir, Pool: pool}))
	return nil
}

// UnbindNat removes the interface's NAT role.
func (p *Plan) UnbindNat(name, dir, pool string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if ifc.Nat == nil || ifc.Nat.Direction != dir || (pool != "" && ifc.Nat.Pool != pool) {
		return notConfigured("nat-bound", "%s is not nat %s of pool %s", name, dir, pool)
	}
	p.emit(p.natOp(delta.UnbindNat, name, *ifc.Nat))
	return nil
}

func (p *Plan) natOp(kind delta.Kind, name string, b config.NatBinding) delta.Op {
	spec := config.TranslateMasquerade
	if pool, ok := p.work.NatPools[b.Pool]; ok {
		spec = pool.TranslationSpec()
	}
	return delta.Op{Kind: kind, Iface: name, Field: b.Direction, Pool: b.Pool, Value: spec}
}

// AttachDhcp serves a DHCP pool on the interface.
func (p *Plan) AttachDhcp(name, pool string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	dp, ok := p.work.DhcpPools[pool]
	if !ok {
		return notFound("dhcp-pool-exists", "dhcp pool %s does not exist", pool)
	}
	if ifc.DhcpPool != "" && ifc.DhcpPool != pool {
		return violation("dhcp-pool-single", "%s already serves dhcp pool %s", name, ifc.DhcpPool)
	}
	if dp.Subnet.IsValid() && !servesSubnet(ifc, dp.Subnet) {
		p.Warn("%s has no address in %s", name, dp.Subnet)
	}
	p.emit(delta.Op{Kind: delta.AttachDhcp, Iface: name, Pool: pool})
	return nil
}

func servesSubnet(ifc *config.Interface, subnet netip.Prefix) bool {
	for _, a := range ifc.Addresses {
		if subnet.Contains(a.Prefix.Addr()) {
			return true
		}
	}
	return false
}

// DetachDhcp stops serving the interface's DHCP pool.
func (p *Plan) DetachDhcp(name, pool string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if ifc.DhcpPool == "" || (pool != "" && ifc.DhcpPool != pool) {
		return notConfigured("dhcp-attached", "%s does not serve dhcp pool %s", name, pool)
	}
	p.emit(delta.Op{Kind: delta.DetachDhcp, Iface: name, Pool: ifc.DhcpPool})
	return nil
}

// AttachWifi applies a wireless policy to a radio interface.
func (p *Plan) AttachWifi(name, policy string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if ifc.Type != config.WirelessWifi {
		return violation("wireless-only", "%s is not a wireless interface", name)
	}
	if _, ok := p.work.WifiPolicies[policy]; !ok {
		return notFound("wireless-policy-exists", "wireless policy %s does not exist", policy)
	}
	if ifc.WifiPolicy != "" && ifc.WifiPolicy != policy {
		return violation("wireless-policy-single", "%s already uses wireless policy %s", name, ifc.WifiPolicy)
	}
	p.emit(delta.Op{Kind: delta.AttachWifi, Iface: name, Pool: policy})
	return nil
}

// DetachWifi removes the interface's wireless policy.
func (p *Plan) DetachWifi(name, policy string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if ifc.WifiPolicy == "" || (policy != "" && ifc.WifiPolicy != policy) {
		return notConfigured("wireless-attached", "%s does not use wireless policy %s", name, policy)
	}
	p.emit(delta.Op{Kind: delta.DetachWifi, Iface: name, Pool: ifc.WifiPolicy})
	return nil
}

// SetWifiOverride sets a per-radio channel or hardware mode. An empty value
// clears the override.
func (p *Plan) SetWifiOverride(name, field, value string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if !ifc.Type.Wireless() {
		return violation("wireless-only", "%s is not a wireless interface", name)
	}
	var prev string
	switch field {
	case delta.AttrChannel:
		if ifc.WifiChannel != 0 {
			prev = strconv.Itoa(ifc.WifiChannel)
		}
	case delta.AttrHwMode:
		prev = ifc.WifiHwMode
	}
	if value == "" && prev == "" {
		return notConfigured("wireless-override", "wireless %s is not set on %s", field, name)
	}
	p.emit(delta.Op{Kind: delta.SetWifiOverride, Iface: name, Field: field, Value: value, Prev: prev})
	return nil
}

// BindFirewall applies a firewall policy in one direction.
func (p *Plan) BindFirewall(name, policy, dir string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	if _, ok := p.work.FirewallPolicies[policy]; !ok {
		return notFound("firewall-policy-exists", "firewall policy %s does not exist", policy)
	}
	if cur, ok := ifc.Firewall[dir]; ok && cur != policy {
		return violation("firewall-direction-single", "%s already has firewall policy %s %s", name, cur, dir)
	}
	p.emit(delta.Op{Kind: delta.BindFirewall, Iface: name, Field: dir, Pool: policy})
	return nil
}

// UnbindFirewall removes the policy bound in one direction.
func (p *Plan) UnbindFirewall(name, policy, dir string) error {
	ifc, err := p.iface(name)
	if err != nil {
		return err
	}
	cur, ok := ifc.Firewall[dir]
	if !ok || (policy != "" && cur != policy) {
		return notConfigured("firewall-bound", "%s has no firewall policy %s %s", name, policy, dir)
	}
	p.emit(delta.Op{Kind: delta.UnbindFirewall, Iface: name, Field: dir, Pool: cur})
	return nil
}
