// Package delta defines the primitive configuration operations produced by
// the resolver, applied to the OS by the executor and committed to the store.
//
// Every operation has "ensure" semantics: applying it when its effect is
// already present changes nothing, so a delta can be replayed safely.
package delta

import (
	"fmt"
	"net/netip"

	"github.com/psaab/routershell/pkg/config"
)

// Kind names a primitive operation.
type Kind int

const (
	SetHostname Kind = iota + 1
	SetBanner

	CreateInterface
	DestroyInterface
	SetLinkState
	SetInterfaceAttr
	AddAddress
	RemoveAddress
	AddStaticArp
	RemoveStaticArp
	AddRename
	RemoveRename

	CreateBridge
	DeleteBridge
	SetBridgeState
	SetBridgeAttr
	AttachBridge
	DetachBridge

	CreateVlan
	DeleteVlan
	SetVlanAttr
	BindVlan
	UnbindVlan

	CreateNatPool
	DeleteNatPool
	SetNatPoolAttr
	BindNat
	UnbindNat

	CreateDhcpPool
	DeleteDhcpPool
	SetDhcpSubnet
	SetDhcpMode
	AddDhcpRange
	RemoveDhcpRange
	AddDhcpReservation
	RemoveDhcpReservation
	SetDhcpOption
	AttachDhcp
	DetachDhcp
	SyncDhcp

	CreateWifiPolicy
	DeleteWifiPolicy
	SetWifiAttr
	AttachWifi
	DetachWifi
	SetWifiOverride
	SyncWifi

	CreateFirewallPolicy
	DeleteFirewallPolicy
	AddFirewallRule
	RemoveFirewallRule
	BindFirewall
	UnbindFirewall
	SyncFirewall

	AddRoute
	RemoveRoute

	SetSystemAttr
)

var kindNames = map[Kind]string{
	SetHostname:           "set-hostname",
	SetBanner:             "set-banner",
	CreateInterface:       "create-interface",
	DestroyInterface:      "destroy-interface",
	SetLinkState:          "set-link-state",
	SetInterfaceAttr:      "set-interface-attr",
	AddAddress:            "add-address",
	RemoveAddress:         "remove-address",
	AddStaticArp:          "add-static-arp",
	RemoveStaticArp:       "remove-static-arp",
	AddRename:             "add-rename",
	RemoveRename:          "remove-rename",
	CreateBridge:          "create-bridge",
	DeleteBridge:          "delete-bridge",
	SetBridgeState:        "set-bridge-state",
	SetBridgeAttr:         "set-bridge-attr",
	AttachBridge:          "attach-bridge",
	DetachBridge:          "detach-bridge",
	CreateVlan:            "create-vlan",
	DeleteVlan:            "delete-vlan",
	SetVlanAttr:           "set-vlan-attr",
	BindVlan:              "bind-vlan",
	UnbindVlan:            "unbind-vlan",
	CreateNatPool:         "create-nat-pool",
	DeleteNatPool:         "delete-nat-pool",
	SetNatPoolAttr:        "set-nat-pool-attr",
	BindNat:               "bind-nat",
	UnbindNat:             "unbind-nat",
	CreateDhcpPool:        "create-dhcp-pool",
	DeleteDhcpPool:        "delete-dhcp-pool",
	SetDhcpSubnet:         "set-dhcp-subnet",
	SetDhcpMode:           "set-dhcp-mode",
	AddDhcpRange:          "add-dhcp-range",
	RemoveDhcpRange:       "remove-dhcp-range",
	AddDhcpReservation:    "add-dhcp-reservation",
	RemoveDhcpReservation: "remove-dhcp-reservation",
	SetDhcpOption:         "set-dhcp-option",
	AttachDhcp:            "attach-dhcp",
	DetachDhcp:            "detach-dhcp",
	SyncDhcp:              "sync-dhcp",
	CreateWifiPolicy:      "create-wifi-policy",
	DeleteWifiPolicy:      "delete-wifi-policy",
	SetWifiAttr:           "set-wifi-attr",
	AttachWifi:            "attach-wifi",
	DetachWifi:            "detach-wifi",
	SetWifiOverride:       "set-wifi-override",
	SyncWifi:              "sync-wifi",
	CreateFirewallPolicy:  "create-firewall-policy",
	DeleteFirewallPolicy:  "delete-firewall-policy",
	AddFirewallRule:       "add-firewall-rule",
	RemoveFirewallRule:    "remove-firewall-rule",
	BindFirewall:          "bind-firewall",
	UnbindFirewall:        "unbind-firewall",
	SyncFirewall:          "sync-firewall",
	AddRoute:              "add-route",
	RemoveRoute:           "remove-route",
	SetSystemAttr:         "set-system-attr",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Kinds returns every operation kind, in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := SetHostname; k <= SetSystemAttr; k++ {
		out = append(out, k)
	}
	return out
}

// Op is one primitive operation. Only the fields relevant to Kind are set.
// Set* kinds carry the previous value in Prev/PrevUp/PrevPrefix so that
// Inverse can restore it.
type Op struct {
	Kind Kind

	Iface  string
	Bridge string
	VlanID int
	Pool   string // NAT or DHCP pool, wireless or firewall policy
	Field  string // attribute name or direction
	Value  string
	Prev   string

	Up     bool
	PrevUp bool

	Prefix     netip.Prefix
	PrevPrefix netip.Prefix
	Addr       netip.Addr
	Secondary  bool
	IfType     config.IfType

	Range  config.DhcpRange
	Rule   config.FirewallRule
	Route  config.StaticRoute
	Rename config.Rename

	Dhcp      []config.DhcpService
	PrevDhcp  []config.DhcpService
	Wifi      *config.WifiSettings
	PrevWifi  *config.WifiSettings
	Rules     []config.FirewallRule
	PrevRules []config.FirewallRule

	// Existing marks an ensure whose effect predates the delta. Rollback
	// leaves it in place.
	Existing bool
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// String describes the operation for errors and logs.
func (o Op) String() string {
	switch o.Kind {
	case SetHostname:
		return fmt.Sprintf("set hostname %q", o.Value)
	case SetBanner:
		return "set banner"
	case SetSystemAttr:
		if o.Value == Off {
			return fmt.Sprintf("clear %s", o.Field)
		}
		return fmt.Sprintf("set %s %s", o.Field, o.Value)
	case CreateInterface:
		return fmt.Sprintf("create %s interface %s", o.IfType, o.Iface)
	case DestroyInterface:
		return fmt.Sprintf("destroy interface %s", o.Iface)
	case SetLinkState:
		return fmt.Sprintf("set %s %s", o.Iface, upDown(o.Up))
	case SetInterfaceAttr:
		return fmt.Sprintf("set %s %s %q", o.Iface, o.Field, o.Value)
	case AddAddress:
		return fmt.Sprintf("ensure %s has address %s", o.Iface, o.Prefix)
	case RemoveAddress:
		return fmt.Sprintf("ensure %s lacks address %s", o.Iface, o.Prefix)
	case AddStaticArp:
		return fmt.Sprintf("add static arp %s %s on %s", o.Addr, o.Value, o.Iface)
	case RemoveStaticArp:
		return fmt.Sprintf("remove static arp %s on %s", o.Addr, o.Iface)
	case AddRename:
		return fmt.Sprintf("rename %s (%s) to %s", o.Rename.Original, o.Rename.BusInfo, o.Rename.Alias)
	case RemoveRename:
		return fmt.Sprintf("remove alias %s (%s)", o.Rename.Alias, o.Rename.BusInfo)
	case CreateBridge:
		return fmt.Sprintf("create bridge %s", o.Bridge)
	case DeleteBridge:
		return fmt.Sprintf("delete bridge %s", o.Bridge)
	case SetBridgeState:
		return fmt.Sprintf("ensure bridge %s %s", o.Bridge, upDown(o.Up))
	case SetBridgeAttr:
		return fmt.Sprintf("set bridge %s %s %q", o.Bridge, o.Field, o.Value)
	case AttachBridge:
		return fmt.Sprintf("attach %s to bridge %s", o.Iface, o.Bridge)
	case DetachBridge:
		return fmt.Sprintf("detach %s from bridge %s", o.Iface, o.Bridge)
	case CreateVlan:
		return fmt.Sprintf("create vlan %d", o.VlanID)
	case DeleteVlan:
		return fmt.Sprintf("delete vlan %d", o.VlanID)
	case SetVlanAttr:
		return fmt.Sprintf("set vlan %d %s %q", o.VlanID, o.Field, o.Value)
	case BindVlan:
		return fmt.Sprintf("bind vlan %d to %s %s", o.VlanID, o.Field, o.Iface)
	case UnbindVlan:
		return fmt.Sprintf("unbind vlan %d from %s %s", o.VlanID, o.Field, o.Iface)
	case CreateNatPool:
		return fmt.Sprintf("create nat pool %s", o.Pool)
	case DeleteNatPool:
		return fmt.Sprintf("delete nat pool %s", o.Pool)
	case SetNatPoolAttr:
		return fmt.Sprintf("set nat pool %s %s %q", o.Pool, o.Field, o.Value)
	case BindNat:
		return fmt.Sprintf("bind %s as nat %s of pool %s", o.Iface, o.Field, o.Pool)
	case UnbindNat:
		return fmt.Sprintf("unbind nat %s from %s", o.Field, o.Iface)
	case CreateDhcpPool:
		return fmt.Sprintf("create dhcp pool %s", o.Pool)
	case DeleteDhcpPool:
		return fmt.Sprintf("delete dhcp pool %s", o.Pool)
	case SetDhcpSubnet:
		return fmt.Sprintf("set dhcp pool %s subnet %s", o.Pool, o.Prefix)
	case SetDhcpMode:
		return fmt.Sprintf("set dhcp pool %s mode %s", o.Pool, o.Value)
	case AddDhcpRange:
		return fmt.Sprintf("add dhcp pool %s range %s-%s", o.Pool, o.Range.Start, o.Range.End)
	case RemoveDhcpRange:
		return fmt.Sprintf("remove dhcp pool %s range %s-%s", o.Pool, o.Range.Start, o.Range.End)
	case AddDhcpReservation:
		return fmt.Sprintf("reserve %s for %s in pool %s", o.Addr, o.Value, o.Pool)
	case RemoveDhcpReservation:
		return fmt.Sprintf("release reservation %s in pool %s", o.Value, o.Pool)
	case SetDhcpOption:
		return fmt.Sprintf("set dhcp pool %s option %s %q", o.Pool, o.Field, o.Value)
	case AttachDhcp:
		return fmt.Sprintf("serve dhcp pool %s on %s", o.Pool, o.Iface)
	case DetachDhcp:
		return fmt.Sprintf("stop serving dhcp pool %s on %s", o.Pool, o.Iface)
	case SyncDhcp:
		return fmt.Sprintf("materialize %d dhcp pool(s)", len(o.Dhcp))
	case CreateWifiPolicy:
		return fmt.Sprintf("create wireless policy %s", o.Pool)
	case DeleteWifiPolicy:
		return fmt.Sprintf("delete wireless policy %s", o.Pool)
	case SetWifiAttr:
		return fmt.Sprintf("set wireless policy %s %s", o.Pool, o.Field)
	case AttachWifi:
		return fmt.Sprintf("apply wireless policy %s to %s", o.Pool, o.Iface)
	case DetachWifi:
		return fmt.Sprintf("remove wireless policy %s from %s", o.Pool, o.Iface)
	case SetWifiOverride:
		return fmt.Sprintf("set %s wireless %s %q", o.Iface, o.Field, o.Value)
	case SyncWifi:
		if o.Wifi == nil {
			return fmt.Sprintf("stop access point on %s", o.Iface)
		}
		return fmt.Sprintf("configure access point on %s", o.Iface)
	case CreateFirewallPolicy:
		return fmt.Sprintf("create firewall policy %s", o.Pool)
	case DeleteFirewallPolicy:
		return fmt.Sprintf("delete firewall policy %s", o.Pool)
	case AddFirewallRule:
		return fmt.Sprintf("add rule %d to firewall policy %s", o.Rule.Seq, o.Pool)
	case RemoveFirewallRule:
		return fmt.Sprintf("remove rule %d from firewall policy %s", o.Rule.Seq, o.Pool)
	case BindFirewall:
		return fmt.Sprintf("bind firewall policy %s to %s %s", o.Pool, o.Iface, o.Field)
	case UnbindFirewall:
		return fmt.Sprintf("unbind firewall policy %s from %s %s", o.Pool, o.Iface, o.Field)
	case SyncFirewall:
		return fmt.Sprintf("program firewall policy %s (%d rules)", o.Pool, len(o.Rules))
	case AddRoute:
		return fmt.Sprintf("add route %s via %s", o.Route.Prefix, o.Route.Gateway)
	case RemoveRoute:
		return fmt.Sprintf("remove route %s via %s", o.Route.Prefix, o.Route.Gateway)
	}
	return o.Kind.String()
}

var inverseKinds = map[Kind]Kind{
	CreateInterface:      DestroyInterface,
	AddAddress:           RemoveAddress,
	AddStaticArp:         RemoveStaticArp,
	AddRename:            RemoveRename,
	CreateBridge:         DeleteBridge,
	AttachBridge:         DetachBridge,
	CreateVlan:           DeleteVlan,
	BindVlan:             UnbindVlan,
	CreateNatPool:        DeleteNatPool,
	BindNat:              UnbindNat,
	CreateDhcpPool:       DeleteDhcpPool,
	AddDhcpRange:         RemoveDhcpRange,
	AddDhcpReservation:   RemoveDhcpReservation,
	AttachDhcp:           DetachDhcp,
	CreateWifiPolicy:     DeleteWifiPolicy,
	AttachWifi:           DetachWifi,
	CreateFirewallPolicy: DeleteFirewallPolicy,
	AddFirewallRule:      RemoveFirewallRule,
	BindFirewall:         UnbindFirewall,
	AddRoute:             RemoveRoute,
}

func init() {
	reverse := make(map[Kind]Kind, len(inverseKinds))
	for a, b := range inverseKinds {
		reverse[b] = a
	}
	for b, a := range reverse {
		inverseKinds[b] = a
	}
}

// Inverse returns the operation that undoes o.
func (o Op) Inverse() Op {
	inv := o
	if k, ok := inverseKinds[o.Kind]; ok {
		inv.Kind = k
		return inv
	}
	// Set* and Sync* kinds swap current and previous values.
	inv.Value, inv.Prev = o.Prev, o.Value
	inv.Up, inv.PrevUp = o.PrevUp, o.Up
	inv.Prefix, inv.PrevPrefix = o.PrevPrefix, o.Prefix
	inv.Dhcp, inv.PrevDhcp = o.PrevDhcp, o.Dhcp
	inv.Wifi, inv.PrevWifi = o.PrevWifi, o.Wifi
	inv.Rules, inv.PrevRules = o.PrevRules, o.Rules
	return inv
}

// StoreOnly reports whether the operation has no live OS effect.
func (o Op) StoreOnly() bool {
	switch o.Kind {
	case SetBanner, CreateBridge, SetBridgeAttr, CreateVlan, DeleteVlan, SetVlanAttr,
		CreateNatPool, DeleteNatPool, SetNatPoolAttr,
		CreateDhcpPool, DeleteDhcpPool, SetDhcpSubnet, SetDhcpMode, AddDhcpRange, RemoveDhcpRange,
		AddDhcpReservation, RemoveDhcpReservation, SetDhcpOption, AttachDhcp, DetachDhcp,
		CreateWifiPolicy, DeleteWifiPolicy, SetWifiAttr, AttachWifi, DetachWifi, SetWifiOverride,
		AddFirewallRule, RemoveFirewallRule:
		return true
	case SetInterfaceAttr:
		return o.Field == AttrDescription
	case CreateInterface, DestroyInterface:
		return o.IfType == config.Ethernet || o.IfType.Wireless() || o.IfType == config.VlanIf
	}
	return false
}

// Interface attribute names carried in Op.Field.
const (
	AttrDescription       = "description"
	AttrMAC               = "mac-address"
	AttrDuplex            = "duplex"
	AttrSpeed             = "speed"
	AttrProxyArp          = "proxy-arp"
	AttrDropGratuitousArp = "drop-gratuitous-arp"
	AttrDhcpClient        = "dhcp-client"
	AttrDhcpClient6       = "ipv6-dhcp-client"

	AttrName        = "name"
	AttrTranslation = "translation"

	AttrSSID       = "ssid"
	AttrPassphrase = "pass-phrase"
	AttrWpaMode    = "wpa-mode"
	AttrHwMode     = "hardware-mode"
	AttrChannel    = "channel"
)

// Global attribute names carried in SetSystemAttr's Field. They are also
// the keys of the stored system settings.
const (
	SysArpTimeout        = "arp-timeout"
	SysArpProxy          = "arp-proxy"
	SysArpDropGratuitous = "arp-drop-gratuitous"
)

// Boolean attribute values.
const (
	On  = "on"
	Off = ""
)
