// Package dhcpserver materializes DHCP pools as Kea or dnsmasq
// configuration and restarts the daemon.
package dhcpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/psaab/routershell/pkg/config"
)

// Backend selects the DHCP daemon.
type Backend string

const (
	Kea     Backend = "kea"
	Dnsmasq Backend = "dnsmasq"
)

const (
	kea4File    = "kea-dhcp4.conf"
	kea6File    = "kea-dhcp6.conf"
	kea4Svc     = "kea-dhcp4-server"
	kea6Svc     = "kea-dhcp6-server"
	dnsmasqFile = "routershell.conf"
	dnsmasqSvc  = "dnsmasq"

	// DefaultLifetime applies when a pool has no lease-time option.
	DefaultLifetime = 86400
)

// Manager manages the DHCP server processes.
type Manager struct {
	backend  Backend
	dir      string
	leaseDir string
	running4 bool
	running6 bool

	// systemctl runs "systemctl <action> <unit>".
	systemctl func(action, unit string) error
}

// New creates a DHCP server manager writing configuration into dir. An
// empty dir selects the backend's standard location.
func New(backend Backend, dir string) *Manager {
	if backend == "" {
		backend = Kea
	}
	leaseDir := "/var/lib/kea"
	if dir == "" {
		dir = "/etc/kea"
		if backend == Dnsmasq {
			dir = "/etc/dnsmasq.d"
		}
	}
	if backend == Dnsmasq {
		leaseDir = "/var/lib/misc"
	}
	return &Manager{backend: backend, dir: dir, leaseDir: leaseDir, systemctl: systemctl}
}

// Backend reports the configured daemon.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Served splits services into those handed to the DHCP daemon. IPv6 pools
// in slaac mode are served by router advertisements only.
func Served(services []config.DhcpService) (v4, v6 []config.DhcpService) {
	for _, s := range services {
		switch {
		case !s.Pool.IPv6():
			v4 = append(v4, s)
		case s.Pool.V6Mode == config.ModeStateful:
			v6 = append(v6, s)
		}
	}
	return v4, v6
}

// Apply regenerates the daemon configuration for services and restarts
// the daemon. With no services the daemon is stopped.
func (m *Manager) Apply(services []config.DhcpService) error {
	v4, v6 := Served(services)
	if m.backend == Dnsmasq {
		return m.applyDnsmasq(v4, v6)
	}

	if len(v4) > 0 {
		if err := m.writeKea(kea4File, kea4Config(v4, m.leaseDir)); err != nil {
			return fmt.Errorf("generate kea4 config: %w", err)
		}
		if err := m.systemctl("restart", kea4Svc); err != nil {
			return fmt.Errorf("restart %s: %w", kea4Svc, err)
		}
		m.running4 = true
	} else if m.running4 || m.exists(kea4File) {
		m.stop(kea4Svc, kea4File)
		m.running4 = false
	}

	if len(v6) > 0 {
		if err := m.writeKea(kea6File, kea6Config(v6, m.leaseDir)); err != nil {
			return fmt.Errorf("generate kea6 config: %w", err)
		}
		if err := m.systemctl("restart", kea6Svc); err != nil {
			return fmt.Errorf("restart %s: %w", kea6Svc, err)
		}
		m.running6 = true
	} else if m.running6 || m.exists(kea6File) {
		m.stop(kea6Svc, kea6File)
		m.running6 = false
	}
	slog.Info("dhcp server configured", "backend", m.backend, "v4_pools", len(v4), "v6_pools", len(v6))
	return nil
}

// Clear stops the daemon and removes generated configs.
func (m *Manager) Clear() {
	if m.backend == Dnsmasq {
		m.stop(dnsmasqSvc, dnsmasqFile)
		return
	}
	m.stop(kea4Svc, kea4File)
	m.stop(kea6Svc, kea6File)
	m.running4, m.running6 = false, false
}

// IsRunning returns true if any DHCP server was started.
func (m *Manager) IsRunning() bool {
	return m.running4 || m.running6
}

func (m *Manager) exists(file string) bool {
	_, err := os.Stat(filepath.Join(m.dir, file))
	return err == nil
}

func (m *Manager) stop(svc, file string) {
	if err := m.systemctl("stop", svc); err != nil {
		slog.Debug("service stop failed", "service", svc, "err", err)
	}
	if err := os.Remove(filepath.Join(m.dir, file)); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove dhcp config", "file", file, "err", err)
	}
}

func systemctl(action, unit string) error {
	out, err := exec.Command("systemctl", action, unit).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *Manager) writeKea(file string, cfg map[string]any) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", m.dir, err)
	}
	return os.WriteFile(filepath.Join(m.dir, file), data, 0644)
}

type keaPool struct {
	Pool string `json:"pool"`
}

type keaOpt struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type keaReservation struct {
	HWAddress   string   `json:"hw-address"`
	IPAddress   string   `json:"ip-address,omitempty"`
	IPAddresses []string `json:"ip-addresses,omitempty"`
}

type keaSubnet struct {
	ID            int              `json:"id"`
	Subnet        string           `json:"subnet"`
	Pools         []keaPool        `json:"pools,omitempty"`
	Interface     string           `json:"interface,omitempty"`
	OptionData    []keaOpt         `json:"option-data,omitempty"`
	Reservations  []keaReservation `json:"reservations,omitempty"`
	ValidLifetime int              `json:"valid-lifetime,omitempty"`
}

// lifetime returns the pool's lease-time option or the default.
func lifetime(p *config.DhcpPool) int {
	if v, ok := p.Option(LeaseTime); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultLifetime
}

// keaSubnets renders one Kea subnet per pool. A pool served on a single
// interface is pinned to it; otherwise Kea selects the subnet by the
// address of the receiving interface.
func keaSubnets(services []config.DhcpService, v6 bool) ([]keaSubnet, []string) {
	var subnets []keaSubnet
	var ifaces []string
	for i, svc := range services {
		p := svc.Pool
		sub := keaSubnet{
			ID:            i + 1,
			Subnet:        p.Subnet.String(),
			ValidLifetime: lifetime(&p),
		}
		if len(svc.Interfaces) == 1 {
			sub.Interface = svc.Interfaces[0]
		}
		for _, r := range p.Ranges {
			sub.Pools = append(sub.Pools, keaPool{Pool: fmt.Sprintf("%s - %s", r.Start, r.End)})
		}
		for _, o := range p.Options {
			if o.Name == LeaseTime {
				continue
			}
			sub.OptionData = append(sub.OptionData, keaOpt{
				Name: o.Name, Data: strings.ReplaceAll(o.Value, ",", ", "),
			})
		}
		for _, r := range p.Reservations {
			res := keaReservation{HWAddress: r.MAC}
			if v6 {
				res.IPAddresses = []string{r.IP.String()}
			} else {
				res.IPAddress = r.IP.String()
			}
			sub.Reservations = append(sub.Reservations, res)
		}
		subnets = append(subnets, sub)
		ifaces = append(ifaces, svc.Interfaces...)
	}
	return subnets, ifaces
}

func kea4Config(services []config.DhcpService, leaseDir string) map[string]any {
	subnets, ifaces := keaSubnets(services, false)
	return map[string]any{
		"Dhcp4": map[string]any{
			"interfaces-config": map[string]any{
				"interfaces": ifaces,
			},
			"lease-database": map[string]any{
				"type": "memfile",
				"name": filepath.Join(leaseDir, "kea-leases4.csv"),
			},
			"valid-lifetime": DefaultLifetime,
			"subnet4":        subnets,
		},
	}
}

func kea6Config(services []config.DhcpService, leaseDir string) map[string]any {
	subnets, ifaces := keaSubnets(services, true)
	return map[string]any{
		"Dhcp6": map[string]any{
			"interfaces-config": map[string]any{
				"interfaces": ifaces,
			},
			"lease-database": map[string]any{
				"type": "memfile",
				"name": filepath.Join(leaseDir, "kea-leases6.csv"),
			},
			"valid-lifetime": DefaultLifetime,
			"subnet6":        subnets,
		},
	}
}
