// Package radvd generates radvd configuration for IPv6 pools and manages
// the radvd daemon.
package radvd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/psaab/routershell/pkg/config"
)

const (
	// DefaultConfigPath is the radvd config file managed by routershell.
	DefaultConfigPath = "/etc/radvd.conf"
	// DefaultPidFile for radvd.
	DefaultPidFile = "/run/radvd.pid"
)

// Interface is the advertisement of one interface.
type Interface struct {
	Name       string
	Managed    bool // addresses come from DHCPv6
	Prefix     string
	Autonomous bool // clients form addresses with SLAAC
	DNSServers []string
	DNSSL      []string
	Lifetime   int // prefix valid lifetime, 0 = radvd default
}

// Manager handles radvd config generation and daemon lifecycle.
type Manager struct {
	configPath string
	pidFile    string
	active     bool
}

// New creates a radvd manager. An empty path selects DefaultConfigPath.
func New(configPath string) *Manager {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Manager{
		configPath: configPath,
		pidFile:    DefaultPidFile,
	}
}

// FromServices builds advertisements for the IPv6 pools among services.
// Pools in slaac mode advertise an autonomous prefix; stateful pools set
// the managed and other-config flags and leave addressing to DHCPv6.
func FromServices(services []config.DhcpService) []Interface {
	var out []Interface
	for _, svc := range services {
		p := svc.Pool
		if !p.IPv6() {
			continue
		}
		stateful := p.V6Mode == config.ModeStateful
		ra := Interface{
			Prefix:     p.Subnet.String(),
			Managed:    stateful,
			Autonomous: !stateful,
		}
		if v, ok := p.Option("dns-servers"); ok {
			ra.DNSServers = strings.Split(v, ",")
		}
		if v, ok := p.Option("domain-search"); ok {
			ra.DNSSL = strings.Split(v, ",")
		}
		if v, ok := p.Option("lease-time"); ok {
			ra.Lifetime, _ = strconv.Atoi(v)
		}
		for _, ifname := range svc.Interfaces {
			ra.Name = ifname
			out = append(out, ra)
		}
	}
	return out
}

// Apply writes radvd.conf for ifaces and reloads radvd. With no interfaces
// radvd is stopped.
func (m *Manager) Apply(ifaces []Interface) error {
	if len(ifaces) == 0 {
		if !m.active {
			if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
				return nil
			}
		}
		return m.Clear()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create radvd config dir: %w", err)
	}
	if err := os.WriteFile(m.configPath, []byte(generateConfig(ifaces)), 0644); err != nil {
		return fmt.Errorf("write radvd config: %w", err)
	}

	slog.Info("radvd config written", "path", m.configPath, "interfaces", len(ifaces))

	if err := m.reload(); err != nil {
		slog.Warn("radvd reload failed, attempting start", "err", err)
		if err := m.start(); err != nil {
			return err
		}
	}
	m.active = true
	return nil
}

// Clear stops radvd and removes the config.
func (m *Manager) Clear() error {
	m.stop()
	m.active = false
	if err := os.Remove(m.configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove radvd config: %w", err)
	}
	return nil
}

func generateConfig(ifaces []Interface) string {
	var b strings.Builder

	b.WriteString("# routershell managed radvd config - do not edit\n\n")

	for _, ra := range ifaces {
		fmt.Fprintf(&b, "interface %s\n{\n", ra.Name)
		b.WriteString("    AdvSendAdvert on;\n")

		if ra.Managed {
			b.WriteString("    AdvManagedFlag on;\n")
			b.WriteString("    AdvOtherConfigFlag on;\n")
		}

		b.WriteString("\n")

		fmt.Fprintf(&b, "    prefix %s\n    {\n", ra.Prefix)
		b.WriteString("        AdvOnLink on;\n")
		if ra.Autonomous {
			b.WriteString("        AdvAutonomous on;\n")
		} else {
			b.WriteString("        AdvAutonomous off;\n")
		}
		if ra.Lifetime > 0 {
			fmt.Fprintf(&b, "        AdvValidLifetime %d;\n", ra.Lifetime)
			fmt.Fprintf(&b, "        AdvPreferredLifetime %d;\n", ra.Lifetime/2)
		}
		b.WriteString("    };\n\n")

		if len(ra.DNSServers) > 0 {
			fmt.Fprintf(&b, "    RDNSS %s\n    {\n    };\n\n", strings.Join(ra.DNSServers, " "))
		}
		if len(ra.DNSSL) > 0 {
			fmt.Fprintf(&b, "    DNSSL %s\n    {\n    };\n\n", strings.Join(ra.DNSSL, " "))
		}

		b.WriteString("};\n\n")
	}

	return b.String()
}

func (m *Manager) start() error {
	cmd := exec.Command("radvd", "-C", m.configPath, "-p", m.pidFile)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start radvd: %w", err)
	}
	slog.Info("radvd started")
	return nil
}

func (m *Manager) reload() error {
	// Try systemctl first
	cmd := exec.Command("systemctl", "reload-or-restart", "radvd")
	if err := cmd.Run(); err == nil {
		slog.Info("radvd reloaded via systemctl")
		return nil
	}

	// Fallback: send SIGHUP via pidfile
	pidData, err := os.ReadFile(m.pidFile)
	if err != nil {
		return fmt.Errorf("radvd pidfile: %w", err)
	}
	pidStr := strings.TrimSpace(string(pidData))
	cmd = exec.Command("kill", "-HUP", pidStr)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("radvd SIGHUP: %w", err)
	}
	slog.Info("radvd reloaded via SIGHUP")
	return nil
}

func (m *Manager) stop() {
	// Try systemctl first
	cmd := exec.Command("systemctl", "stop", "radvd")
	if cmd.Run() == nil {
		slog.Info("radvd stopped via systemctl")
		return
	}

	// Fallback: kill via pidfile
	pidData, err := os.ReadFile(m.pidFile)
	if err != nil {
		return // not running
	}
	pidStr := strings.TrimSpace(string(pidData))
	exec.Command("kill", pidStr).Run()
	slog.Info("radvd stopped")
}
