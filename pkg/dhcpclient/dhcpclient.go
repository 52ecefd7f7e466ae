// Package dhcpclient runs DHCPv4 and DHCPv6 clients on interfaces
// configured with "ip dhcp-client" or "ipv6 dhcp-client".
package dhcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/nclient6"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/vishvananda/netlink"

	"github.com/psaab/routershell/pkg/logging"
)

const (
	exchangeTimeout = 30 * time.Second
	maxBackoff      = 60 * time.Second
	minRenew        = 30 * time.Second
	defaultLease    = time.Hour
)

// Lease is an address obtained by a client.
type Lease struct {
	Interface string
	V6        bool
	Address   netip.Prefix
	Gateway   netip.Addr
	DNS       []netip.Addr
	LeaseTime time.Duration
	Obtained  time.Time
}

// Expires is when the lease runs out unless renewed.
func (l Lease) Expires() time.Time { return l.Obtained.Add(l.LeaseTime) }

type key struct {
	iface string
	v6    bool
}

type client struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the running clients.
type Manager struct {
	mu       sync.Mutex
	clients  map[key]*client
	leases   map[key]*Lease
	duids    map[string]dhcpv6.DUID
	nl       *netlink.Handle
	stateDir string
	log      *slog.Logger
}

// New returns a manager. DHCPv6 DUIDs are persisted under stateDir so a
// client keeps its identity across restarts.
func New(stateDir string) (*Manager, error) {
	nlh, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return newManager(nlh, stateDir), nil
}

func newManager(nlh *netlink.Handle, stateDir string) *Manager {
	return &Manager{
		clients:  make(map[key]*client),
		leases:   make(map[key]*Lease),
		duids:    make(map[string]dhcpv6.DUID),
		nl:       nlh,
		stateDir: stateDir,
		log:      logging.For("dhcp-client"),
	}
}

// Start launches a client on iface. Starting a running client is a no-op.
// Clients run until Stop; they are not tied to the caller's context.
func (m *Manager) Start(iface string, v6 bool) {
	k := key{iface, v6}
	m.mu.Lock()
	if _, ok := m.clients[k]; ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{cancel: cancel, done: make(chan struct{})}
	m.clients[k] = c
	m.mu.Unlock()

	go func() {
		defer close(c.done)
		m.run(ctx, k)
	}()
	m.log.Info("dhcp client started", "interface", iface, "v6", v6)
}

// Stop ends the client on iface and removes the address it obtained.
// Stopping a client that is not running is a no-op.
func (m *Manager) Stop(iface string, v6 bool) {
	k := key{iface, v6}
	m.mu.Lock()
	c, ok := m.clients[k]
	delete(m.clients, k)
	m.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	<-c.done
	m.log.Info("dhcp client stopped", "interface", iface, "v6", v6)
}

// Running reports whether a client is active on iface.
func (m *Manager) Running(iface string, v6 bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[key{iface, v6}]
	return ok
}

// Leases returns the current leases ordered by interface, v4 first.
func (m *Manager) Leases() []Lease {
	m.mu.Lock()
	out := make([]Lease, 0, len(m.leases))
	for _, l := range m.leases {
		out = append(out, *l)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interface != out[j].Interface {
			return out[i].Interface < out[j].Interface
		}
		return !out[i].V6 && out[j].V6
	})
	return out
}

// Close stops every client and releases the netlink handle. Addresses
// obtained by the clients are removed.
func (m *Manager) Close() {
	m.mu.Lock()
	keys := make([]key, 0, len(m.clients))
	for k := range m.clients {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.Stop(k.iface, k.v6)
	}
	if m.nl != nil {
		m.nl.Close()
	}
}

// run obtains a lease, installs it and renews at half its lifetime until
// ctx ends.
func (m *Manager) run(ctx context.Context, k key) {
	log := m.log.With("interface", k.iface, "v6", k.v6)
	if k.v6 {
		if err := waitForLinkLocal(ctx, k.iface, exchangeTimeout); err != nil {
			log.Warn("no link-local address, client not started", "err", err)
			return
		}
	}
	backoff := time.Second
	for ctx.Err() == nil {
		var lease *Lease
		var err error
		if k.v6 {
			lease, err = m.exchange6(ctx, k.iface)
		} else {
			lease, err = m.exchange4(ctx, k.iface)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("dhcp exchange failed, retrying", "err", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				break
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		if lease.Address.IsValid() {
			if err := m.install(k.iface, lease.Address); err != nil {
				log.Warn("lease address not installed", "address", lease.Address, "err", err)
				if !sleep(ctx, backoff) {
					break
				}
				continue
			}
		}
		m.mu.Lock()
		m.leases[k] = lease
		m.mu.Unlock()
		log.Info("lease obtained", "address", lease.Address, "gateway", lease.Gateway, "lease_time", lease.LeaseTime)

		if !sleep(ctx, max(lease.LeaseTime/2, minRenew)) {
			break
		}
		log.Debug("renewing lease")
	}

	m.mu.Lock()
	lease := m.leases[k]
	delete(m.leases, k)
	m.mu.Unlock()
	if lease != nil && lease.Address.IsValid() {
		m.uninstall(k.iface, lease.Address)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) exchange4(ctx context.Context, iface string) (*Lease, error) {
	c, err := nclient4.New(iface)
	if err != nil {
		return nil, fmt.Errorf("create DHCPv4 client: %w", err)
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	l, err := c.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("DHCPv4 request: %w", err)
	}
	return leaseFromAck(iface, l.ACK, time.Now())
}

// leaseFromAck extracts the lease carried by a DHCPACK.
func leaseFromAck(iface string, ack *dhcpv4.DHCPv4, now time.Time) (*Lease, error) {
	addr, ok := netip.AddrFromSlice(ack.YourIPAddr.To4())
	if !ok || addr.IsUnspecified() {
		return nil, fmt.Errorf("no address in DHCPACK")
	}
	bits := 24
	if mask := ack.SubnetMask(); mask != nil {
		bits, _ = mask.Size()
	}
	l := &Lease{
		Interface: iface,
		Address:   netip.PrefixFrom(addr, bits),
		LeaseTime: ack.IPAddressLeaseTime(defaultLease),
		Obtained:  now,
	}
	if routers := ack.Router(); len(routers) > 0 {
		if gw, ok := netip.AddrFromSlice(routers[0].To4()); ok {
			l.Gateway = gw
		}
	}
	for _, d := range ack.DNS() {
		if a, ok := netip.AddrFromSlice(d.To4()); ok {
			l.DNS = append(l.DNS, a)
		}
	}
	return l, nil
}

func (m *Manager) exchange6(ctx context.Context, iface string) (*Lease, error) {
	c, err := nclient6.New(iface)
	if err != nil {
		return nil, fmt.Errorf("create DHCPv6 client: %w", err)
	}
	defer c.Close()
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	duid, err := m.duid(iface, ifi.HardwareAddr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	reply, err := c.RapidSolicit(ctx, dhcpv6.WithClientID(duid))
	if err != nil {
		return nil, fmt.Errorf("DHCPv6 solicit: %w", err)
	}
	l, err := leaseFromReply(iface, reply, time.Now())
	if err != nil {
		return nil, err
	}
	l.Gateway = m.ipv6Router(iface)
	return l, nil
}

// leaseFromReply extracts the IA_NA address of a DHCPv6 reply.
func leaseFromReply(iface string, msg *dhcpv6.Message, now time.Time) (*Lease, error) {
	l := &Lease{Interface: iface, V6: true, Obtained: now}
	for _, opt := range msg.Options.Options {
		ia, ok := opt.(*dhcpv6.OptIANA)
		if !ok {
			continue
		}
		for _, sub := range ia.Options.Options {
			if a, ok := sub.(*dhcpv6.OptIAAddress); ok {
				if ip, ok := netip.AddrFromSlice(a.IPv6Addr); ok {
					l.Address = netip.PrefixFrom(ip, 128)
					l.LeaseTime = a.ValidLifetime
				}
			}
		}
	}
	if !l.Address.IsValid() {
		return nil, fmt.Errorf("no IA_NA address in DHCPv6 reply")
	}
	if l.LeaseTime == 0 {
		l.LeaseTime = defaultLease
	}
	for _, d := range msg.Options.DNS() {
		if a, ok := netip.AddrFromSlice(d); ok {
			l.DNS = append(l.DNS, a)
		}
	}
	return l, nil
}

// duid returns the DHCPv6 client identifier of iface: the persisted one,
// or a new DUID-LL built from hw.
func (m *Manager) duid(iface string, hw net.HardwareAddr) (dhcpv6.DUID, error) {
	m.mu.Lock()
	d, ok := m.duids[iface]
	m.mu.Unlock()
	if ok {
		return d, nil
	}
	path := filepath.Join(m.stateDir, "duid-"+iface)
	if data, err := os.ReadFile(path); err == nil {
		if d, err := dhcpv6.DUIDFromBytes(data); err == nil {
			m.remember(iface, d)
			return d, nil
		}
	}
	if len(hw) == 0 {
		return nil, fmt.Errorf("%s has no hardware address for a DUID", iface)
	}
	d = &dhcpv6.DUIDLL{HWType: iana.HWTypeEthernet, LinkLayerAddr: hw}
	if err := os.MkdirAll(m.stateDir, 0o755); err == nil {
		err = os.WriteFile(path, d.ToBytes(), 0o644)
		if err != nil {
			m.log.Warn("DUID not persisted", "interface", iface, "err", err)
		}
	}
	m.remember(iface, d)
	return d, nil
}

func (m *Manager) remember(iface string, d dhcpv6.DUID) {
	m.mu.Lock()
	m.duids[iface] = d
	m.mu.Unlock()
}

// ipv6Router finds a router learned from router advertisements in the
// neighbour table of iface.
func (m *Manager) ipv6Router(iface string) netip.Addr {
	link, err := m.nl.LinkByName(iface)
	if err != nil {
		return netip.Addr{}
	}
	neighs, err := m.nl.NeighList(link.Attrs().Index, netlink.FAMILY_V6)
	if err != nil {
		return netip.Addr{}
	}
	for _, n := range neighs {
		if n.Flags&netlink.NTF_ROUTER != 0 && n.IP.IsLinkLocalUnicast() {
			if a, ok := netip.AddrFromSlice(n.IP); ok {
				return a
			}
		}
	}
	return netip.Addr{}
}

func waitForLinkLocal(ctx context.Context, iface string, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout waiting for link-local on %s", iface)
		case <-tick.C:
			ifi, err := net.InterfaceByName(iface)
			if err != nil {
				continue
			}
			addrs, _ := ifi.Addrs()
			for _, a := range addrs {
				if n, ok := a.(*net.IPNet); ok && n.IP.To4() == nil && n.IP.IsLinkLocalUnicast() {
					return nil
				}
			}
		}
	}
}

func (m *Manager) install(iface string, p netip.Prefix) error {
	link, err := m.nl.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("link %s: %w", iface, err)
	}
	return m.nl.AddrReplace(link, &netlink.Addr{IPNet: ipNet(p)})
}

func (m *Manager) uninstall(iface string, p netip.Prefix) {
	link, err := m.nl.LinkByName(iface)
	if err != nil {
		return
	}
	if err := m.nl.AddrDel(link, &netlink.Addr{IPNet: ipNet(p)}); err != nil {
		m.log.Warn("lease address not removed", "interface", iface, "address", p, "err", err)
	}
}

func ipNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{IP: p.Addr().AsSlice(), Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen())}
}
