package delta

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/psaab/routershell/pkg/config"
)

// Apply performs op on the in-memory configuration. Creates and adds are
// no-ops when the entity is already present and removes are no-ops when it
// is absent; operations on a missing parent entity are errors.
func Apply(cfg *config.Config, op Op) error {
	switch op.Kind {
	case SetHostname:
		cfg.Hostname = op.Value
	case SetBanner:
		cfg.Banner = op.Value
	case SetSystemAttr:
		return applySystem(cfg, op)

	case CreateInterface:
		if _, ok := cfg.Interfaces[op.Iface]; !ok {
			cfg.Interfaces[op.Iface] = &config.Interface{Name: op.Iface, Type: op.IfType, Shutdown: !op.Up}
		}
	case DestroyInterface:
		delete(cfg.Interfaces, op.Iface)
	case SetLinkState, SetInterfaceAttr, AddAddress, RemoveAddress, AddStaticArp, RemoveStaticArp,
		AttachBridge, DetachBridge, BindNat, UnbindNat, AttachDhcp, DetachDhcp,
		AttachWifi, DetachWifi, SetWifiOverride, BindFirewall, UnbindFirewall:
		ifc, ok := cfg.Interfaces[op.Iface]
		if !ok {
			return fmt.Errorf("interface %s not configured", op.Iface)
		}
		return applyInterface(ifc, op)
	case AddRename:
		r := op.Rename
		cfg.Renames[r.Alias] = &r
	case RemoveRename:
		delete(cfg.Renames, op.Rename.Alias)

	case CreateBridge:
		if _, ok := cfg.Bridges[op.Bridge]; !ok {
			cfg.Bridges[op.Bridge] = &config.Bridge{Name: op.Bridge, Shutdown: true}
		}
	case DeleteBridge:
		delete(cfg.Bridges, op.Bridge)
	case SetBridgeState, SetBridgeAttr:
		b, ok := cfg.Bridges[op.Bridge]
		if !ok {
			return fmt.Errorf("bridge %s not configured", op.Bridge)
		}
		if op.Kind == SetBridgeState {
			b.Shutdown = !op.Up
		} else {
			b.Description = op.Value
		}

	case CreateVlan:
		if _, ok := cfg.Vlans[op.VlanID]; !ok {
			cfg.Vlans[op.VlanID] = &config.Vlan{ID: op.VlanID, Name: op.Value}
		}
	case DeleteVlan:
		delete(cfg.Vlans, op.VlanID)
	case SetVlanAttr, BindVlan, UnbindVlan:
		v, ok := cfg.Vlans[op.VlanID]
		if !ok {
			return fmt.Errorf("vlan %d not configured", op.VlanID)
		}
		applyVlan(v, op)

	case CreateNatPool:
		if _, ok := cfg.NatPools[op.Pool]; !ok {
			cfg.NatPools[op.Pool] = &config.NatPool{Name: op.Pool, Translation: config.TranslateMasquerade}
		}
	case DeleteNatPool:
		delete(cfg.NatPools, op.Pool)
	case SetNatPoolAttr:
		p, ok := cfg.NatPools[op.Pool]
		if !ok {
			return fmt.Errorf("nat pool %s not configured", op.Pool)
		}
		switch op.Field {
		case AttrDescription:
			p.Description = op.Value
		case AttrTranslation:
			p.Translation, p.SnatAddress = config.ParseTranslation(op.Value)
		}

	case CreateDhcpPool:
		if _, ok := cfg.DhcpPools[op.Pool]; !ok {
			cfg.DhcpPools[op.Pool] = &config.DhcpPool{Name: op.Pool}
		}
	case DeleteDhcpPool:
		delete(cfg.DhcpPools, op.Pool)
	case SetDhcpSubnet, SetDhcpMode, AddDhcpRange, RemoveDhcpRange,
		AddDhcpReservation, RemoveDhcpReservation, SetDhcpOption:
		p, ok := cfg.DhcpPools[op.Pool]
		if !ok {
			return fmt.Errorf("dhcp pool %s not configured", op.Pool)
		}
		applyDhcp(p, op)
	case SyncDhcp, SyncWifi, SyncFirewall:
		// live state only

	case CreateWifiPolicy:
		if _, ok := cfg.WifiPolicies[op.Pool]; !ok {
			cfg.WifiPolicies[op.Pool] = &config.WifiPolicy{Name: op.Pool}
		}
	case DeleteWifiPolicy:
		delete(cfg.WifiPolicies, op.Pool)
	case SetWifiAttr:
		p, ok := cfg.WifiPolicies[op.Pool]
		if !ok {
			return fmt.Errorf("wireless policy %s not configured", op.Pool)
		}
		switch op.Field {
		case AttrSSID:
			p.SSID = op.Value
		case AttrPassphrase:
			p.Passphrase = op.Value
		case AttrWpaMode:
			p.WpaMode = op.Value
		case AttrHwMode:
			p.HwMode = op.Value
		case AttrChannel:
			p.Channel, _ = strconv.Atoi(op.Value)
		}

	case CreateFirewallPolicy:
		if _, ok := cfg.FirewallPolicies[op.Pool]; !ok {
			cfg.FirewallPolicies[op.Pool] = &config.FirewallPolicy{Name: op.Pool}
		}
	case DeleteFirewallPolicy:
		delete(cfg.FirewallPolicies, op.Pool)
	case AddFirewallRule, RemoveFirewallRule:
		p, ok := cfg.FirewallPolicies[op.Pool]
		if !ok {
			return fmt.Errorf("firewall policy %s not configured", op.Pool)
		}
		p.Rules = without(p.Rules, func(r config.FirewallRule) bool { return r.Seq == op.Rule.Seq })
		if op.Kind == AddFirewallRule {
			p.Rules = append(p.Rules, op.Rule)
			sort.Slice(p.Rules, func(i, j int) bool { return p.Rules[i].Seq < p.Rules[j].Seq })
		}

	case AddRoute:
		if !slices.Contains(cfg.Routes, op.Route) {
			cfg.Routes = append(cfg.Routes, op.Route)
		}
	case RemoveRoute:
		cfg.Routes = without(cfg.Routes, func(r config.StaticRoute) bool {
			return r.Prefix == op.Route.Prefix && r.Gateway == op.Route.Gateway
		})
	default:
		return fmt.Errorf("unknown operation %v", op.Kind)
	}
	return nil
}

func applyInterface(ifc *config.Interface, op Op) error {
	switch op.Kind {
	case SetLinkState:
		ifc.Shutdown = !op.Up
	case SetInterfaceAttr:
		switch op.Field {
		case AttrDescription:
			ifc.Description = op.Value
		case AttrMAC:
			ifc.MAC = op.Value
		case AttrDuplex:
			ifc.Duplex = op.Value
		case AttrSpeed:
			ifc.Speed = op.Value
		case AttrProxyArp:
			ifc.ProxyArp = op.Value == On
		case AttrDropGratuitousArp:
			ifc.DropGratuitousArp = op.Value == On
		case AttrDhcpClient:
			ifc.DhcpClient = op.Value == On
		case AttrDhcpClient6:
			ifc.DhcpClient6 = op.Value == On
		default:
			return fmt.Errorf("unknown interface attribute %q", op.Field)
		}
	case AddAddress:
		for i, a := range ifc.Addresses {
			if a.Prefix == op.Prefix {
				ifc.Addresses[i].Secondary = op.Secondary
				return nil
			}
		}
		ifc.Addresses = append(ifc.Addresses, config.Address{Prefix: op.Prefix, Secondary: op.Secondary})
	case RemoveAddress:
		ifc.Addresses = without(ifc.Addresses, func(a config.Address) bool { return a.Prefix == op.Prefix })
	case AddStaticArp:
		ifc.StaticArps = without(ifc.StaticArps, func(a config.StaticArp) bool { return a.IP == op.Addr })
		ifc.StaticArps = append(ifc.StaticArps, config.StaticArp{IP: op.Addr, MAC: op.Value})
	case RemoveStaticArp:
		ifc.StaticArps = without(ifc.StaticArps, func(a config.StaticArp) bool { return a.IP == op.Addr })
	case AttachBridge:
		ifc.Bridge = op.Bridge
	case DetachBridge:
		if ifc.Bridge == op.Bridge {
			ifc.Bridge = ""
		}
	case BindNat:
		ifc.Nat = &config.NatBinding{Direction: op.Field, Pool: op.Pool}
	case UnbindNat:
		ifc.Nat = nil
	case AttachDhcp:
		ifc.DhcpPool = op.Pool
	case DetachDhcp:
		if ifc.DhcpPool == op.Pool {
			ifc.DhcpPool = ""
		}
	case AttachWifi:
		ifc.WifiPolicy = op.Pool
	case DetachWifi:
		if ifc.WifiPolicy == op.Pool {
			ifc.WifiPolicy = ""
		}
	case SetWifiOverride:
		switch op.Field {
		case AttrChannel:
			ifc.WifiChannel, _ = strconv.Atoi(op.Value)
		case AttrHwMode:
			ifc.WifiHwMode = op.Value
		}
	case BindFirewall:
		if ifc.Firewall == nil {
			ifc.Firewall = make(map[string]string)
		}
		ifc.Firewall[op.Field] = op.Pool
	case UnbindFirewall:
		delete(ifc.Firewall, op.Field)
		if len(ifc.Firewall) == 0 {
			ifc.Firewall = nil
		}
	}
	return nil
}

// VLAN binding targets carried in Op.Field.
const (
	BindInterface = "interface"
	BindBridge    = "bridge"
)

func applyVlan(v *config.Vlan, op Op) {
	switch op.Kind {
	case SetVlanAttr:
		if op.Field == AttrName {
			v.Name = op.Value
		} else {
			v.Description = op.Value
		}
	case BindVlan, UnbindVlan:
		b := config.VlanBinding{Interface: op.Iface}
		if op.Field == BindBridge {
			b = config.VlanBinding{Bridge: op.Iface}
		}
		v.Bindings = without(v.Bindings, func(x config.VlanBinding) bool { return x == b })
		if op.Kind == BindVlan {
			v.Bindings = append(v.Bindings, b)
		}
	}
}

func applyDhcp(p *config.DhcpPool, op Op) {
	switch op.Kind {
	case SetDhcpSubnet:
		p.Subnet = op.Prefix
	case SetDhcpMode:
		p.V6Mode = op.Value
	case AddDhcpRange:
		if !slices.Contains(p.Ranges, op.Range) {
			p.Ranges = append(p.Ranges, op.Range)
		}
	case RemoveDhcpRange:
		p.Ranges = without(p.Ranges, func(r config.DhcpRange) bool { return r == op.Range })
	case AddDhcpReservation:
		p.Reservations = without(p.Reservations, func(r config.DhcpReservation) bool { return r.MAC == op.Value })
		p.Reservations = append(p.Reservations, config.DhcpReservation{MAC: op.Value, IP: op.Addr})
	case RemoveDhcpReservation:
		p.Reservations = without(p.Reservations, func(r config.DhcpReservation) bool { return r.MAC == op.Value })
	case SetDhcpOption:
		p.Options = without(p.Options, func(o config.DhcpOption) bool { return o.Name == op.Field })
		if op.Value != "" {
			p.Options = append(p.Options, config.DhcpOption{Name: op.Field, Value: op.Value})
			sort.Slice(p.Options, func(i, j int) bool { return p.Options[i].Name < p.Options[j].Name })
		}
	}
}

// without deletes matching elements and normalizes an empty result to nil.
func without[S ~[]E, E any](s S, del func(E) bool) S {
	s = slices.DeleteFunc(s, del)
	if len(s) == 0 {
		return nil
	}
	return s
}

func applySystem(cfg *config.Config, op Op) error {
	switch op.Field {
	case SysArpTimeout:
		if op.Value == Off {
			cfg.Arp.Timeout = 0
			return nil
		}
		n, err := strconv.Atoi(op.Value)
		if err != nil {
			return fmt.Errorf("arp timeout %q: %w", op.Value, err)
		}
		cfg.Arp.Timeout = n
	case SysArpProxy:
		cfg.Arp.Proxy = op.Value == On
	case SysArpDropGratuitous:
		cfg.Arp.DropGratuitous = op.Value == On
	default:
		return fmt.Errorf("unknown system attribute %q", op.Field)
	}
	return nil
}
