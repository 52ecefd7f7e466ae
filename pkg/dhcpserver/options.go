package dhcpserver

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/miekg/dns"
)

// ValueKind is the type of a DHCP option value.
type ValueKind int

const (
	KindAddress ValueKind = iota
	KindUint
	KindString
	KindDomain
)

func (k ValueKind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindUint:
		return "number"
	case KindDomain:
		return "domain name"
	}
	return "string"
}

// Option describes a pool option accepted by "option <name> <value>".
type Option struct {
	Name string // CLI and Kea option name
	Code uint16
	V6   bool
	Kind ValueKind
	List bool // accepts several comma separated values
	Help string
}

// LeaseTime is handled as the pool lifetime rather than as option data.
const LeaseTime = "lease-time"

var options4 = []Option{
	{"time-offset", uint16(dhcpv4.OptionTimeOffset.Code()), false, KindUint, false, "UTC offset in seconds"},
	{"routers", uint16(dhcpv4.OptionRouter.Code()), false, KindAddress, true, "Default gateways"},
	{"time-servers", uint16(dhcpv4.OptionTimeServer.Code()), false, KindAddress, true, "Time servers"},
	{"domain-name-servers", uint16(dhcpv4.OptionDomainNameServer.Code()), false, KindAddress, true, "DNS servers"},
	{"log-servers", uint16(dhcpv4.OptionLogServer.Code()), false, KindAddress, true, "Syslog servers"},
	{"domain-name", uint16(dhcpv4.OptionDomainName.Code()), false, KindDomain, false, "Client domain name"},
	{"root-path", uint16(dhcpv4.OptionRootPath.Code()), false, KindString, false, "Root disk path"},
	{"default-ip-ttl", uint16(dhcpv4.OptionDefaultIPTTL.Code()), false, KindUint, false, "Default IP TTL"},
	{"interface-mtu", uint16(dhcpv4.OptionInterfaceMTU.Code()), false, KindUint, false, "Interface MTU"},
	{"broadcast-address", uint16(dhcpv4.OptionBroadcastAddress.Code()), false, KindAddress, false, "Broadcast address"},
	{"ntp-servers", uint16(dhcpv4.OptionNTPServers.Code()), false, KindAddress, true, "NTP servers"},
	{"netbios-name-servers", uint16(dhcpv4.OptionNetBIOSOverTCPIPNameServer.Code()), false, KindAddress, true, "WINS servers"},
	{LeaseTime, uint16(dhcpv4.OptionIPAddressLeaseTime.Code()), false, KindUint, false, "Lease lifetime in seconds"},
	{"tftp-server-name", uint16(dhcpv4.OptionTFTPServerName.Code()), false, KindString, false, "TFTP server"},
	{"boot-file-name", uint16(dhcpv4.OptionBootfileName.Code()), false, KindString, false, "Boot file"},
	{"domain-search", uint16(dhcpv4.OptionDNSDomainSearchList.Code()), false, KindDomain, true, "DNS search list"},
}

var options6 = []Option{
	{"dns-servers", uint16(dhcpv6.OptionDNSRecursiveNameServer), true, KindAddress, true, "DNS servers"},
	{"domain-search", uint16(dhcpv6.OptionDomainSearchList), true, KindDomain, true, "DNS search list"},
	{"sntp-servers", uint16(dhcpv6.OptionSNTPServerList), true, KindAddress, true, "SNTP servers"},
	{"information-refresh-time", uint16(dhcpv6.OptionInformationRefreshTime), true, KindUint, false, "Refresh time in seconds"},
	{LeaseTime, 0, true, KindUint, false, "Lease lifetime in seconds"},
}

// LookupOption finds an option by name for an address family.
func LookupOption(v6 bool, name string) (Option, bool) {
	table := options4
	if v6 {
		table = options6
	}
	for _, o := range table {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Catalog returns the options of both families sorted by name, one entry
// per name. Used for completion.
func Catalog() []Option {
	seen := make(map[string]bool)
	var out []Option
	for _, o := range append(append([]Option{}, options4...), options6...) {
		if seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckOption validates an option's values for the pool's family and
// returns the normalized comma separated value.
func CheckOption(v6 bool, name string, values []string) (string, error) {
	opt, ok := LookupOption(v6, name)
	if !ok {
		fam := "IPv4"
		if v6 {
			fam = "IPv6"
		}
		return "", fmt.Errorf("unknown %s option %q", fam, name)
	}
	var parts []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("option %s needs a value", name)
	}
	if len(parts) > 1 && !opt.List {
		return "", fmt.Errorf("option %s takes a single value", name)
	}
	for i, p := range parts {
		norm, err := checkValue(opt, v6, p)
		if err != nil {
			return "", fmt.Errorf("option %s: %w", name, err)
		}
		parts[i] = norm
	}
	return strings.Join(parts, ","), nil
}

func checkValue(opt Option, v6 bool, v string) (string, error) {
	switch opt.Kind {
	case KindAddress:
		a, err := netip.ParseAddr(v)
		if err != nil || a.Is6() != v6 {
			return "", fmt.Errorf("%q is not a valid %s", v, familyAddr(v6))
		}
		return a.String(), nil
	case KindUint:
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return "", fmt.Errorf("%q is not a number", v)
		}
		return strconv.FormatUint(n, 10), nil
	case KindDomain:
		if _, ok := dns.IsDomainName(v); !ok || strings.Contains(v, " ") {
			return "", fmt.Errorf("%q is not a domain name", v)
		}
		return strings.TrimSuffix(strings.ToLower(v), "."), nil
	}
	if strings.ContainsAny(v, "\"\n") {
		return "", fmt.Errorf("%q contains invalid characters", v)
	}
	return v, nil
}

func familyAddr(v6 bool) string {
	if v6 {
		return "IPv6 address"
	}
	return "IPv4 address"
}
