package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

// Columns written by attribute operations. Field names never reach SQL
// unless listed here.
var (
	interfaceColumns = map[string]string{
		delta.AttrDescription:       "description",
		delta.AttrMAC:               "mac",
		delta.AttrDuplex:            "duplex",
		delta.AttrSpeed:             "speed",
		delta.AttrProxyArp:          "proxy_arp",
		delta.AttrDropGratuitousArp: "drop_gratuitous_arp",
		delta.AttrDhcpClient:        "dhcp_client",
		delta.AttrDhcpClient6:       "dhcp_client6",
	}
	wifiColumns = map[string]string{
		delta.AttrSSID:       "ssid",
		delta.AttrPassphrase: "passphrase",
		delta.AttrWpaMode:    "wpa_mode",
		delta.AttrHwMode:     "hw_mode",
		delta.AttrChannel:    "channel",
	}
	overrideColumns = map[string]string{
		delta.AttrChannel: "wifi_channel",
		delta.AttrHwMode:  "wifi_hw_mode",
	}
)

func boolAttr(field string) bool {
	switch field {
	case delta.AttrProxyArp, delta.AttrDropGratuitousArp, delta.AttrDhcpClient, delta.AttrDhcpClient6:
		return true
	}
	return false
}

// applyOp writes one operation. Its semantics match delta.Apply on the
// in-memory model: ensures are idempotent, operations on a missing parent
// fail with ErrNotFound.
func applyOp(ctx context.Context, tx *sql.Tx, op delta.Op) error {
	w := writer{ctx: ctx, tx: tx}
	switch op.Kind {
	case delta.SetHostname:
		return w.exec("INSERT INTO system (key, value) VALUES ('hostname', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", op.Value)
	case delta.SetBanner:
		if op.Value == "" {
			return w.exec("DELETE FROM system WHERE key = 'banner'")
		}
		return w.exec("INSERT INTO system (key, value) VALUES ('banner', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", op.Value)
	case delta.SetSystemAttr:
		if op.Value == delta.Off {
			return w.exec("DELETE FROM system WHERE key = ?", op.Field)
		}
		return w.exec("INSERT INTO system (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", op.Field, op.Value)

	case delta.CreateInterface:
		return w.exec("INSERT INTO interfaces (name, type, shutdown) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING",
			op.Iface, string(op.IfType), !op.Up)
	case delta.DestroyInterface:
		return w.exec("DELETE FROM interfaces WHERE name = ?", op.Iface)
	case delta.SetLinkState, delta.SetInterfaceAttr, delta.AddAddress, delta.RemoveAddress,
		delta.AddStaticArp, delta.RemoveStaticArp, delta.AttachBridge, delta.DetachBridge,
		delta.BindNat, delta.UnbindNat, delta.AttachDhcp, delta.DetachDhcp,
		delta.AttachWifi, delta.DetachWifi, delta.SetWifiOverride, delta.BindFirewall, delta.UnbindFirewall:
		if err := w.require("interfaces", "name", op.Iface); err != nil {
			return err
		}
		return w.applyInterface(op)
	case delta.AddRename:
		r := op.Rename
		return w.exec(`INSERT INTO renames (alias, bus_info, original) VALUES (?, ?, ?)
			ON CONFLICT(alias) DO UPDATE SET bus_info = excluded.bus_info, original = excluded.original`,
			r.Alias, r.BusInfo, r.Original)
	case delta.RemoveRename:
		return w.exec("DELETE FROM renames WHERE alias = ?", op.Rename.Alias)

	case delta.CreateBridge:
		return w.exec("INSERT INTO bridges (name) VALUES (?) ON CONFLICT(name) DO NOTHING", op.Bridge)
	case delta.DeleteBridge:
		return w.exec("DELETE FROM bridges WHERE name = ?", op.Bridge)
	case delta.SetBridgeState:
		return w.update("bridges", "name", op.Bridge, "shutdown", !op.Up)
	case delta.SetBridgeAttr:
		return w.update("bridges", "name", op.Bridge, "description", op.Value)

	case delta.CreateVlan:
		return w.exec("INSERT INTO vlans (id, name) VALUES (?, ?) ON CONFLICT(id) DO NOTHING", op.VlanID, op.Value)
	case delta.DeleteVlan:
		return w.exec("DELETE FROM vlans WHERE id = ?", op.VlanID)
	case delta.SetVlanAttr:
		col := "description"
		if op.Field == delta.AttrName {
			col = "name"
		}
		return w.update("vlans", "id", op.VlanID, col, op.Value)
	case delta.BindVlan, delta.UnbindVlan:
		if err := w.require("vlans", "id", op.VlanID); err != nil {
			return err
		}
		col := "interface"
		if op.Field == delta.BindBridge {
			col = "bridge"
		}
		if err := w.exec("DELETE FROM vlan_bindings WHERE vlan_id = ? AND "+col+" = ?", op.VlanID, op.Iface); err != nil {
			return err
		}
		if op.Kind == delta.UnbindVlan {
			return nil
		}
		return w.exec("INSERT INTO vlan_bindings (vlan_id, "+col+") VALUES (?, ?)", op.VlanID, op.Iface)

	case delta.CreateNatPool:
		return w.exec("INSERT INTO nat_pools (name) VALUES (?) ON CONFLICT(name) DO NOTHING", op.Pool)
	case delta.DeleteNatPool:
		return w.exec("DELETE FROM nat_pools WHERE name = ?", op.Pool)
	case delta.SetNatPoolAttr:
		if op.Field == delta.AttrTranslation {
			mode, addr := config.ParseTranslation(op.Value)
			if err := w.require("nat_pools", "name", op.Pool); err != nil {
				return err
			}
			return w.exec("UPDATE nat_pools SET translation = ?, snat_address = ? WHERE name = ?", mode, addrString(addr), op.Pool)
		}
		return w.update("nat_pools", "name", op.Pool, "description", op.Value)

	case delta.CreateDhcpPool:
		return w.exec("INSERT INTO dhcp_pools (name) VALUES (?) ON CONFLICT(name) DO NOTHING", op.Pool)
	case delta.DeleteDhcpPool:
		return w.exec("DELETE FROM dhcp_pools WHERE name = ?", op.Pool)
	case delta.SetDhcpSubnet:
		return w.update("dhcp_pools", "name", op.Pool, "subnet", prefixString(op.Prefix))
	case delta.SetDhcpMode:
		return w.update("dhcp_pools", "name", op.Pool, "v6_mode", op.Value)
	case delta.AddDhcpRange, delta.RemoveDhcpRange, delta.AddDhcpReservation,
		delta.RemoveDhcpReservation, delta.SetDhcpOption:
		if err := w.require("dhcp_pools", "name", op.Pool); err != nil {
			return err
		}
		return w.applyDhcp(op)
	case delta.SyncDhcp, delta.SyncWifi, delta.SyncFirewall:
		return nil

	case delta.CreateWifiPolicy:
		return w.exec("INSERT INTO wifi_policies (name) VALUES (?) ON CONFLICT(name) DO NOTHING", op.Pool)
	case delta.DeleteWifiPolicy:
		return w.exec("DELETE FROM wifi_policies WHERE name = ?", op.Pool)
	case delta.SetWifiAttr:
		col, ok := wifiColumns[op.Field]
		if !ok {
			return fmt.Errorf("unknown wireless attribute %q", op.Field)
		}
		if col == "channel" {
			n, _ := strconv.Atoi(op.Value)
			return w.update("wifi_policies", "name", op.Pool, col, n)
		}
		return w.update("wifi_policies", "name", op.Pool, col, op.Value)

	case delta.CreateFirewallPolicy:
		return w.exec("INSERT INTO firewall_policies (name) VALUES (?) ON CONFLICT(name) DO NOTHING", op.Pool)
	case delta.DeleteFirewallPolicy:
		return w.exec("DELETE FROM firewall_policies WHERE name = ?", op.Pool)
	case delta.AddFirewallRule:
		if err := w.require("firewall_policies", "name", op.Pool); err != nil {
			return err
		}
		r := op.Rule
		return w.exec(`INSERT INTO firewall_rules (policy, seq, action, proto, src, dst, src_port, dst_port)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(policy, seq) DO UPDATE SET action = excluded.action, proto = excluded.proto,
				src = excluded.src, dst = excluded.dst, src_port = excluded.src_port, dst_port = excluded.dst_port`,
			op.Pool, r.Seq, r.Action, r.Proto, r.Src, r.Dst, r.SrcPort, r.DstPort)
	case delta.RemoveFirewallRule:
		if err := w.require("firewall_policies", "name", op.Pool); err != nil {
			return err
		}
		return w.exec("DELETE FROM firewall_rules WHERE policy = ? AND seq = ?", op.Pool, op.Rule.Seq)

	case delta.AddRoute:
		rt := op.Route
		return w.exec("INSERT INTO routes (prefix, gateway, interface) VALUES (?, ?, ?) ON CONFLICT(prefix, gateway) DO NOTHING",
			prefixString(rt.Prefix), addrString(rt.Gateway), nullIfEmpty(rt.Iface))
	case delta.RemoveRoute:
		return w.exec("DELETE FROM routes WHERE prefix = ? AND gateway = ?",
			prefixString(op.Route.Prefix), addrString(op.Route.Gateway))
	}
	return fmt.Errorf("unknown operation %v", op.Kind)
}

func (w writer) applyInterface(op delta.Op) error {
	name := op.Iface
	switch op.Kind {
	case delta.SetLinkState:
		return w.update("interfaces", "name", name, "shutdown", !op.Up)
	case delta.SetInterfaceAttr:
		col, ok := interfaceColumns[op.Field]
		if !ok {
			return fmt.Errorf("unknown interface attribute %q", op.Field)
		}
		if boolAttr(op.Field) {
			return w.update("interfaces", "name", name, col, op.Value == delta.On)
		}
		return w.update("interfaces", "name", name, col, op.Value)
	case delta.AddAddress:
		return w.exec(`INSERT INTO interface_addresses (interface, prefix, secondary) VALUES (?, ?, ?)
			ON CONFLICT(interface, prefix) DO UPDATE SET secondary = excluded.secondary`,
			name, op.Prefix.String(), op.Secondary)
	case delta.RemoveAddress:
		return w.exec("DELETE FROM interface_addresses WHERE interface = ? AND prefix = ?", name, op.Prefix.String())
	case delta.AddStaticArp, delta.RemoveStaticArp:
		if err := w.exec("DELETE FROM static_arps WHERE interface = ? AND ip = ?", name, op.Addr.String()); err != nil {
			return err
		}
		if op.Kind == delta.RemoveStaticArp {
			return nil
		}
		return w.exec("INSERT INTO static_arps (interface, ip, mac) VALUES (?, ?, ?)", name, op.Addr.String(), op.Value)
	case delta.AttachBridge:
		return w.update("interfaces", "name", name, "bridge", op.Bridge)
	case delta.DetachBridge:
		return w.exec("UPDATE interfaces SET bridge = NULL WHERE name = ? AND bridge = ?", name, op.Bridge)
	case delta.BindNat:
		return w.exec("UPDATE interfaces SET nat_direction = ?, nat_pool = ? WHERE name = ?", op.Field, op.Pool, name)
	case delta.UnbindNat:
		return w.exec("UPDATE interfaces SET nat_direction = NULL, nat_pool = NULL WHERE name = ?", name)
	case delta.AttachDhcp:
		return w.update("interfaces", "name", name, "dhcp_pool", op.Pool)
	case delta.DetachDhcp:
		return w.exec("UPDATE interfaces SET dhcp_pool = NULL WHERE name = ? AND dhcp_pool = ?", name, op.Pool)
	case delta.AttachWifi:
		return w.update("interfaces", "name", name, "wifi_policy", op.Pool)
	case delta.DetachWifi:
		return w.exec("UPDATE interfaces SET wifi_policy = NULL WHERE name = ? AND wifi_policy = ?", name, op.Pool)
	case delta.SetWifiOverride:
		col, ok := overrideColumns[op.Field]
		if !ok {
			return fmt.Errorf("unknown wireless override %q", op.Field)
		}
		if op.Field == delta.AttrChannel {
			n, _ := strconv.Atoi(op.Value)
			return w.update("interfaces", "name", name, col, n)
		}
		return w.update("interfaces", "name", name, col, op.Value)
	case delta.BindFirewall:
		return w.exec(`INSERT INTO interface_firewall (interface, direction, policy) VALUES (?, ?, ?)
			ON CONFLICT(interface, direction) DO UPDATE SET policy = excluded.policy`, name, op.Field, op.Pool)
	case delta.UnbindFirewall:
		return w.exec("DELETE FROM interface_firewall WHERE interface = ? AND direction = ?", name, op.Field)
	}
	return nil
}

func (w writer) applyDhcp(op delta.Op) error {
	pool := op.Pool
	switch op.Kind {
	case delta.AddDhcpRange:
		return w.exec("INSERT INTO dhcp_ranges (pool, start_ip, end_ip) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
			pool, op.Range.Start.String(), op.Range.End.String())
	case delta.RemoveDhcpRange:
		return w.exec("DELETE FROM dhcp_ranges WHERE pool = ? AND start_ip = ? AND end_ip = ?",
			pool, op.Range.Start.String(), op.Range.End.String())
	case delta.AddDhcpReservation, delta.RemoveDhcpReservation:
		if err := w.exec("DELETE FROM dhcp_reservations WHERE pool = ? AND mac = ?", pool, op.Value); err != nil {
			return err
		}
		if op.Kind == delta.RemoveDhcpReservation {
			return nil
		}
		return w.exec("INSERT INTO dhcp_reservations (pool, mac, ip) VALUES (?, ?, ?)", pool, op.Value, op.Addr.String())
	case delta.SetDhcpOption:
		if err := w.exec("DELETE FROM dhcp_options WHERE pool = ? AND name = ?", pool, op.Field); err != nil {
			return err
		}
		if op.Value == "" {
			return nil
		}
		return w.exec("INSERT INTO dhcp_options (pool, name, value) VALUES (?, ?, ?)", pool, op.Field, op.Value)
	}
	return nil
}

// writer runs statements inside the commit transaction.
type writer struct {
	ctx context.Context
	tx  *sql.Tx
}

func (w writer) exec(query string, args ...any) error {
	_, err := w.tx.ExecContext(w.ctx, query, args...)
	return err
}

// update sets one column of an existing row. table, key and col are
// constants from this package.
func (w writer) update(table, key string, id any, col string, value any) error {
	res, err := w.tx.ExecContext(w.ctx, "UPDATE "+table+" SET "+col+" = ? WHERE "+key+" = ?", value, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %v: %w", table, id, ErrNotFound)
	}
	return nil
}

func (w writer) require(table, key string, id any) error {
	var one int
	err := w.tx.QueryRowContext(w.ctx, "SELECT 1 FROM "+table+" WHERE "+key+" = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %v: %w", table, id, ErrNotFound)
	}
	return err
}

// nullIfEmpty stores an empty reference as NULL so no foreign key is
// checked for it.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func prefixString(p netip.Prefix) string {
	if !p.IsValid() {
		return ""
	}
	return p.String()
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
