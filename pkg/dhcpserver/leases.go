package dhcpserver

import (
	"os"
	"path/filepath"
	"strings"
)

// Lease represents an active DHCP lease.
type Lease struct {
	Address    string
	HWAddress  string
	Hostname   string
	ValidLife  string
	ExpireTime string
	SubnetID   string
}

// Leases reads the daemon's lease database. v6 selects the DHCPv6 leases
// where the backend keeps them separately.
func (m *Manager) Leases(v6 bool) ([]Lease, error) {
	if m.backend == Dnsmasq {
		leases, err := parseDnsmasqLeases(filepath.Join(m.leaseDir, "dnsmasq.leases"))
		if err != nil {
			return nil, err
		}
		var out []Lease
		for _, l := range leases {
			if strings.Contains(l.Address, ":") == v6 {
				out = append(out, l)
			}
		}
		return out, nil
	}
	if v6 {
		return parseLeaseCSV(filepath.Join(m.leaseDir, "kea-leases6.csv"))
	}
	return parseLeaseCSV(filepath.Join(m.leaseDir, "kea-leases4.csv"))
}

func parseLeaseCSV(path string) ([]Lease, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return nil, nil
	}

	// Parse CSV header to find column indices
	header := strings.Split(lines[0], ",")
	cols := make(map[string]int)
	for i, h := range header {
		cols[h] = i
	}
	field := func(fields []string, name string) string {
		if idx, ok := cols[name]; ok && idx < len(fields) {
			return fields[idx]
		}
		return ""
	}

	var leases []Lease
	for _, line := range lines[1:] {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		l := Lease{
			Address:    field(fields, "address"),
			HWAddress:  field(fields, "hwaddr"),
			Hostname:   field(fields, "hostname"),
			ValidLife:  field(fields, "valid_lifetime"),
			ExpireTime: field(fields, "expire"),
			SubnetID:   field(fields, "subnet_id"),
		}
		if l.Address != "" {
			leases = append(leases, l)
		}
	}
	return leases, nil
}

// parseDnsmasqLeases reads "expiry mac ip hostname client-id" lines.
func parseDnsmasqLeases(path string) ([]Lease, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var leases []Lease
	for _, line := range strings.Split(string(data), "\n") {
		f := strings.Fields(line)
		// DHCPv6 leases are preceded by a "duid" line
		if len(f) < 4 || f[0] == "duid" {
			continue
		}
		l := Lease{ExpireTime: f[0], HWAddress: f[1], Address: f[2]}
		if f[3] != "*" {
			l.Hostname = f[3]
		}
		leases = append(leases, l)
	}
	return leases, nil
}
