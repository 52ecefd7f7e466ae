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

type loader struct {
	ctx context.Context
	tx  *sql.Tx
	cfg *config.Config
}

func load(ctx context.Context, tx *sql.Tx) (*config.Config, error) {
	l := &loader{ctx: ctx, tx: tx, cfg: config.New()}
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"system", l.system},
		{"bridges", l.bridges},
		{"interfaces", l.interfaces},
		{"interface_addresses", l.addresses},
		{"static_arps", l.staticArps},
		{"interface_firewall", l.firewallBindings},
		{"vlans", l.vlans},
		{"nat_pools", l.natPools},
		{"dhcp_pools", l.dhcpPools},
		{"wifi_policies", l.wifiPolicies},
		{"firewall_policies", l.firewallPolicies},
		{"renames", l.renames},
		{"routes", l.routes},
	} {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return l.cfg, nil
}

// each runs query and calls scan for every row.
func (l *loader) each(query string, scan func(*sql.Rows) error) error {
	rows, err := l.tx.QueryContext(l.ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (l *loader) system() error {
	return l.each("SELECT key, value FROM system", func(r *sql.Rows) error {
		var k, v string
		if err := r.Scan(&k, &v); err != nil {
			return err
		}
		switch k {
		case "hostname":
			l.cfg.Hostname = v
		case "banner":
			l.cfg.Banner = v
		case delta.SysArpTimeout:
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("system %s: %w", k, err)
			}
			l.cfg.Arp.Timeout = n
		case delta.SysArpProxy:
			l.cfg.Arp.Proxy = v == delta.On
		case delta.SysArpDropGratuitous:
			l.cfg.Arp.DropGratuitous = v == delta.On
		}
		return nil
	})
}

func (l *loader) bridges() error {
	return l.each("SELECT name, shutdown, description FROM bridges", func(r *sql.Rows) error {
		b := &config.Bridge{}
		if err := r.Scan(&b.Name, &b.Shutdown, &b.Description); err != nil {
			return err
		}
		l.cfg.Bridges[b.Name] = b
		return nil
	})
}

func (l *loader) interfaces() error {
	return l.each(`SELECT name, type, shutdown, description, mac, duplex, speed, proxy_arp,
			drop_gratuitous_arp, bridge, nat_direction, nat_pool, dhcp_pool, wifi_policy,
			wifi_channel, wifi_hw_mode, dhcp_client, dhcp_client6
		FROM interfaces`, func(r *sql.Rows) error {
		ifc := &config.Interface{}
		var typ string
		var bridge, natDir, natPool, dhcpPool, wifi sql.NullString
		if err := r.Scan(&ifc.Name, &typ, &ifc.Shutdown, &ifc.Description, &ifc.MAC, &ifc.Duplex,
			&ifc.Speed, &ifc.ProxyArp, &ifc.DropGratuitousArp, &bridge, &natDir, &natPool,
			&dhcpPool, &wifi, &ifc.WifiChannel, &ifc.WifiHwMode, &ifc.DhcpClient, &ifc.DhcpClient6); err != nil {
			return err
		}
		ifc.Type = config.IfType(typ)
		ifc.Bridge = bridge.String
		ifc.DhcpPool = dhcpPool.String
		ifc.WifiPolicy = wifi.String
		if natPool.Valid {
			ifc.Nat = &config.NatBinding{Direction: natDir.String, Pool: natPool.String}
		}
		l.cfg.Interfaces[ifc.Name] = ifc
		return nil
	})
}

func (l *loader) addresses() error {
	return l.each("SELECT interface, prefix, secondary FROM interface_addresses ORDER BY rowid", func(r *sql.Rows) error {
		var name, prefix string
		var a config.Address
		if err := r.Scan(&name, &prefix, &a.Secondary); err != nil {
			return err
		}
		p, err := netip.ParsePrefix(prefix)
		if err != nil {
			return err
		}
		a.Prefix = p
		if ifc, ok := l.cfg.Interfaces[name]; ok {
			ifc.Addresses = append(ifc.Addresses, a)
		}
		return nil
	})
}

func (l *loader) staticArps() error {
	return l.each("SELECT interface, ip, mac FROM static_arps ORDER BY rowid", func(r *sql.Rows) error {
		var name, ip string
		var a config.StaticArp
		if err := r.Scan(&name, &ip, &a.MAC); err != nil {
			return err
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return err
		}
		a.IP = addr
		if ifc, ok := l.cfg.Interfaces[name]; ok {
			ifc.StaticArps = append(ifc.StaticArps, a)
		}
		return nil
	})
}

func (l *loader) firewallBindings() error {
	return l.each("SELECT interface, direction, policy FROM interface_firewall", func(r *sql.Rows) error {
		var name, dir, pol string
		if err := r.Scan(&name, &dir, &pol); err != nil {
			return err
		}
		if ifc, ok := l.cfg.Interfaces[name]; ok {
			if ifc.Firewall == nil {
				ifc.Firewall = make(map[string]string)
			}
			ifc.Firewall[dir] = pol
		}
		return nil
	})
}

func (l *loader) vlans() error {
	err := l.each("SELECT id, name, description FROM vlans", func(r *sql.Rows) error {
		v := &config.Vlan{}
		if err := r.Scan(&v.ID, &v.Name, &v.Description); err != nil {
			return err
		}
		l.cfg.Vlans[v.ID] = v
		return nil
	})
	if err != nil {
		return err
	}
	return l.each("SELECT vlan_id, interface, bridge FROM vlan_bindings ORDER BY rowid", func(r *sql.Rows) error {
		var id int
		var ifc, br sql.NullString
		if err := r.Scan(&id, &ifc, &br); err != nil {
			return err
		}
		if v, ok := l.cfg.Vlans[id]; ok {
			v.Bindings = append(v.Bindings, config.VlanBinding{Interface: ifc.String, Bridge: br.String})
		}
		return nil
	})
}

func (l *loader) natPools() error {
	return l.each("SELECT name, description, translation, snat_address FROM nat_pools", func(r *sql.Rows) error {
		p := &config.NatPool{}
		var snat string
		if err := r.Scan(&p.Name, &p.Description, &p.Translation, &snat); err != nil {
			return err
		}
		if snat != "" {
			a, err := netip.ParseAddr(snat)
			if err != nil {
				return err
			}
			p.SnatAddress = a
		}
		l.cfg.NatPools[p.Name] = p
		return nil
	})
}

func (l *loader) dhcpPools() error {
	err := l.each("SELECT name, subnet, v6_mode FROM dhcp_pools", func(r *sql.Rows) error {
		p := &config.DhcpPool{}
		var subnet string
		if err := r.Scan(&p.Name, &subnet, &p.V6Mode); err != nil {
			return err
		}
		if subnet != "" {
			pfx, err := netip.ParsePrefix(subnet)
			if err != nil {
				return err
			}
			p.Subnet = pfx
		}
		l.cfg.DhcpPools[p.Name] = p
		return nil
	})
	if err != nil {
		return err
	}
	err = l.each("SELECT pool, start_ip, end_ip FROM dhcp_ranges ORDER BY rowid", func(r *sql.Rows) error {
		var pool, start, end string
		if err := r.Scan(&pool, &start, &end); err != nil {
			return err
		}
		var rng config.DhcpRange
		var err error
		if rng.Start, err = netip.ParseAddr(start); err != nil {
			return err
		}
		if rng.End, err = netip.ParseAddr(end); err != nil {
			return err
		}
		if p, ok := l.cfg.DhcpPools[pool]; ok {
			p.Ranges = append(p.Ranges, rng)
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = l.each("SELECT pool, mac, ip FROM dhcp_reservations ORDER BY rowid", func(r *sql.Rows) error {
		var pool, ip string
		var res config.DhcpReservation
		if err := r.Scan(&pool, &res.MAC, &ip); err != nil {
			return err
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return err
		}
		res.IP = addr
		if p, ok := l.cfg.DhcpPools[pool]; ok {
			p.Reservations = append(p.Reservations, res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return l.each("SELECT pool, name, value FROM dhcp_options ORDER BY pool, name", func(r *sql.Rows) error {
		var pool string
		var o config.DhcpOption
		if err := r.Scan(&pool, &o.Name, &o.Value); err != nil {
			return err
		}
		if p, ok := l.cfg.DhcpPools[pool]; ok {
			p.Options = append(p.Options, o)
		}
		return nil
	})
}

func (l *loader) wifiPolicies() error {
	return l.each("SELECT name, ssid, passphrase, wpa_mode, hw_mode, channel FROM wifi_policies", func(r *sql.Rows) error {
		p := &config.WifiPolicy{}
		if err := r.Scan(&p.Name, &p.SSID, &p.Passphrase, &p.WpaMode, &p.HwMode, &p.Channel); err != nil {
			return err
		}
		l.cfg.WifiPolicies[p.Name] = p
		return nil
	})
}

func (l *loader) firewallPolicies() error {
	err := l.each("SELECT name FROM firewall_policies", func(r *sql.Rows) error {
		p := &config.FirewallPolicy{}
		if err := r.Scan(&p.Name); err != nil {
			return err
		}
		l.cfg.FirewallPolicies[p.Name] = p
		return nil
	})
	if err != nil {
		return err
	}
	return l.each(`SELECT policy, seq, action, proto, src, dst, src_port, dst_port
		FROM firewall_rules ORDER BY policy, seq`, func(r *sql.Rows) error {
		var pol string
		var rule config.FirewallRule
		if err := r.Scan(&pol, &rule.Seq, &rule.Action, &rule.Proto, &rule.Src, &rule.Dst,
			&rule.SrcPort, &rule.DstPort); err != nil {
			return err
		}
		if p, ok := l.cfg.FirewallPolicies[pol]; ok {
			p.Rules = append(p.Rules, rule)
		}
		return nil
	})
}

func (l *loader) renames() error {
	return l.each("SELECT alias, bus_info, original FROM renames", func(r *sql.Rows) error {
		rn := &config.Rename{}
		if err := r.Scan(&rn.Alias, &rn.BusInfo, &rn.Original); err != nil {
			return err
		}
		l.cfg.Renames[rn.Alias] = rn
		return nil
	})
}

func (l *loader) routes() error {
	return l.each("SELECT prefix, gateway, interface FROM routes ORDER BY rowid", func(r *sql.Rows) error {
		var prefix, gw string
		var ifc sql.NullString
		if err := r.Scan(&prefix, &gw, &ifc); err != nil {
			return err
		}
		var rt config.StaticRoute
		var err error
		if rt.Prefix, err = netip.ParsePrefix(prefix); err != nil {
			return err
		}
		if gw != "" {
			if rt.Gateway, err = netip.ParseAddr(gw); err != nil {
				return err
			}
		}
		rt.Iface = ifc.String
		l.cfg.Routes = append(l.cfg.Routes, rt)
		return nil
	})
}
