package dhcpserver

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/psaab/routershell/pkg/config"
)

const dnsmasqHeader = "# routershell managed dnsmasq config - do not edit\nbind-dynamic\n"

var (
	tmplInterface   = fasttemplate.New("interface={{iface}}\n", "{{", "}}")
	tmplRange4      = fasttemplate.New("dhcp-range=set:{{tag}},{{start}},{{end}},{{mask}},{{lease}}\n", "{{", "}}")
	tmplRange6      = fasttemplate.New("dhcp-range=set:{{tag}},{{start}},{{end}},{{bits}},{{lease}}\n", "{{", "}}")
	tmplHost        = fasttemplate.New("dhcp-host=set:{{tag}},{{mac}},{{ip}}\n", "{{", "}}")
	tmplOption4     = fasttemplate.New("dhcp-option=tag:{{tag}},{{code}},{{value}}\n", "{{", "}}")
	tmplOption6     = fasttemplate.New("dhcp-option=tag:{{tag}},option6:{{code}},{{value}}\n", "{{", "}}")
	tmplPoolComment = fasttemplate.New("\n# pool {{pool}} ({{subnet}})\n", "{{", "}}")
)

func (m *Manager) applyDnsmasq(v4, v6 []config.DhcpService) error {
	services := append(append([]config.DhcpService{}, v4...), v6...)
	path := filepath.Join(m.dir, dnsmasqFile)
	if len(services) == 0 {
		if m.running4 || m.exists(dnsmasqFile) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove dnsmasq config: %w", err)
			}
			// dnsmasq may serve DNS as well, restart rather than stop
			if err := m.systemctl("restart", dnsmasqSvc); err != nil {
				slog.Warn("dnsmasq restart failed", "err", err)
			}
			m.running4, m.running6 = false, false
		}
		return nil
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", m.dir, err)
	}
	if err := os.WriteFile(path, []byte(dnsmasqConfig(services)), 0644); err != nil {
		return fmt.Errorf("write dnsmasq config: %w", err)
	}
	if err := m.systemctl("restart", dnsmasqSvc); err != nil {
		return fmt.Errorf("restart %s: %w", dnsmasqSvc, err)
	}
	m.running4, m.running6 = len(v4) > 0, len(v6) > 0
	slog.Info("dhcp server configured", "backend", m.backend, "v4_pools", len(v4), "v6_pools", len(v6))
	return nil
}

// dnsmasqConfig renders services, tagging every line with the pool name.
// Options are written by code so dnsmasq's own option names do not matter.
func dnsmasqConfig(services []config.DhcpService) string {
	var b strings.Builder
	b.WriteString(dnsmasqHeader)
	for _, svc := range services {
		p := svc.Pool
		v6 := p.IPv6()
		tag := "rsh-" + p.Name
		b.WriteString(tmplPoolComment.ExecuteString(map[string]any{"pool": p.Name, "subnet": p.Subnet.String()}))
		for _, ifname := range svc.Interfaces {
			b.WriteString(tmplInterface.ExecuteString(map[string]any{"iface": ifname}))
		}
		lease := strconv.Itoa(lifetime(&p))
		for _, r := range p.Ranges {
			vars := map[string]any{"tag": tag, "start": r.Start.String(), "end": r.End.String(), "lease": lease}
			if v6 {
				vars["bits"] = strconv.Itoa(p.Subnet.Bits())
				b.WriteString(tmplRange6.ExecuteString(vars))
				continue
			}
			vars["mask"] = net.IP(net.CIDRMask(p.Subnet.Bits(), 32)).String()
			b.WriteString(tmplRange4.ExecuteString(vars))
		}
		for _, r := range p.Reservations {
			ip := r.IP.String()
			if v6 {
				ip = "[" + ip + "]"
			}
			b.WriteString(tmplHost.ExecuteString(map[string]any{"tag": tag, "mac": r.MAC, "ip": ip}))
		}
		for _, o := range p.Options {
			opt, ok := LookupOption(v6, o.Name)
			if !ok || o.Name == LeaseTime {
				continue
			}
			vars := map[string]any{"tag": tag, "code": strconv.Itoa(int(opt.Code)), "value": dnsmasqValue(opt, o.Value)}
			if v6 {
				b.WriteString(tmplOption6.ExecuteString(vars))
			} else {
				b.WriteString(tmplOption4.ExecuteString(vars))
			}
		}
	}
	return b.String()
}

func dnsmasqValue(opt Option, value string) string {
	if !opt.V6 || opt.Kind != KindAddress {
		return value
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = "[" + p + "]"
	}
	return strings.Join(parts, ",")
}
