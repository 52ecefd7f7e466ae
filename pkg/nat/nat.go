// Package nat programs NAT bindings and firewall policies with iptables.
//
// All rules live in RSH-* chains hooked once into the built-in chains, so
// the shell never edits rules it did not create.
package nat

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coreos/go-iptables/iptables"

	"github.com/psaab/routershell/pkg/config"
)

// Hook chains.
const (
	ChainPostrouting = "RSH-POSTROUTING"
	ChainForward     = "RSH-FORWARD"
	ChainInput       = "RSH-INPUT"
	ChainOutput      = "RSH-OUTPUT"

	policyPrefix = "RSH-FW-"
	maxChainName = 28
)

// Tables is the subset of *iptables.IPTables used here.
type Tables interface {
	AppendUnique(table, chain string, rulespec ...string) error
	InsertUnique(table, chain string, pos int, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
	ClearChain(table, chain string) error
	ClearAndDeleteChain(table, chain string) error
	ChainExists(table, chain string) (bool, error)
}

// Manager owns the shell's iptables state.
type Manager struct {
	mu      sync.Mutex
	ipt4    Tables
	ipt6    Tables // nil when ip6tables is unavailable
	hooked  bool
	sysRoot string
}

// New creates a Manager backed by iptables and, when present, ip6tables.
func New() (*Manager, error) {
	ipt4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("iptables: %w", err)
	}
	m := &Manager{ipt4: ipt4}
	if ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6); err == nil {
		m.ipt6 = ipt6
	} else {
		slog.Debug("ip6tables not available", "err", err)
	}
	return m, nil
}

// NewWithTables creates a Manager over explicit table handles.
func NewWithTables(ipt4, ipt6 Tables, sysRoot string) *Manager {
	return &Manager{ipt4: ipt4, ipt6: ipt6, sysRoot: sysRoot}
}

func (m *Manager) families() []Tables {
	if m.ipt6 == nil {
		return []Tables{m.ipt4}
	}
	return []Tables{m.ipt4, m.ipt6}
}

var hooks = []struct{ table, builtin, chain string }{
	{"nat", "POSTROUTING", ChainPostrouting},
	{"filter", "FORWARD", ChainForward},
	{"filter", "INPUT", ChainInput},
	{"filter", "OUTPUT", ChainOutput},
}

// ensureHooks creates the RSH chains and jumps to them. Caller holds mu.
func (m *Manager) ensureHooks() error {
	if m.hooked {
		return nil
	}
	for i, ipt := range m.families() {
		for _, h := range hooks {
			if h.table == "nat" && i > 0 {
				continue
			}
			if err := ensureChain(ipt, h.table, h.chain); err != nil {
				return err
			}
			if err := ipt.InsertUnique(h.table, h.builtin, 1, "-j", h.chain); err != nil {
				return fmt.Errorf("hook %s/%s: %w", h.table, h.builtin, err)
			}
		}
	}
	m.hooked = true
	return nil
}

func ensureChain(ipt Tables, table, chain string) error {
	ok, err := ipt.ChainExists(table, chain)
	if err != nil {
		return fmt.Errorf("check chain %s: %w", chain, err)
	}
	if ok {
		return nil
	}
	// ClearChain creates a missing chain
	if err := ipt.ClearChain(table, chain); err != nil {
		return fmt.Errorf("create chain %s: %w", chain, err)
	}
	return nil
}

func comment(tag string) []string {
	return []string{"-m", "comment", "--comment", "rsh:" + tag}
}

// natRules returns the table/chain/rule triples of one binding.
func natRules(iface, dir, pool, spec string) []rule {
	tag := comment("nat:" + pool)
	switch dir {
	case config.NatOutside:
		mode, addr := config.ParseTranslation(spec)
		target := []string{"-j", "MASQUERADE"}
		if mode == config.TranslateSNAT {
			target = []string{"-j", "SNAT", "--to-source", addr.String()}
		}
		return []rule{
			{"nat", ChainPostrouting, concat([]string{"-o", iface}, tag, target)},
			{"filter", ChainForward, concat([]string{"-i", iface, "-m", "conntrack", "--ctstate", "RELATED,ESTABLISHED"}, tag, []string{"-j", "ACCEPT"})},
		}
	case config.NatInside:
		return []rule{
			{"filter", ChainForward, concat([]string{"-i", iface}, tag, []string{"-j", "ACCEPT"})},
		}
	}
	return nil
}

type rule struct {
	table, chain string
	spec         []string
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Bind installs the rules of a NAT binding and enables forwarding.
func (m *Manager) Bind(iface, dir, pool, spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureHooks(); err != nil {
		return err
	}
	for _, r := range natRules(iface, dir, pool, spec) {
		if err := m.ipt4.AppendUnique(r.table, r.chain, r.spec...); err != nil {
			return fmt.Errorf("nat %s %s: %w", dir, iface, err)
		}
	}
	if err := m.enableForwarding(); err != nil {
		return err
	}
	slog.Info("nat bound", "interface", iface, "direction", dir, "pool", pool)
	return nil
}

// Unbind removes the rules of a NAT binding.
func (m *Manager) Unbind(iface, dir, pool, spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range natRules(iface, dir, pool, spec) {
		if err := m.ipt4.DeleteIfExists(r.table, r.chain, r.spec...); err != nil {
			return fmt.Errorf("remove nat %s %s: %w", dir, iface, err)
		}
	}
	return nil
}

func (m *Manager) enableForwarding() error {
	path := filepath.Join(m.sysRoot, "/proc/sys/net/ipv4/ip_forward")
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		return fmt.Errorf("enable forwarding: %w", err)
	}
	return nil
}

// PolicyChain returns the chain holding a firewall policy's rules.
func PolicyChain(policy string) (string, error) {
	name := policyPrefix + policy
	if len(name) > maxChainName {
		return "", fmt.Errorf("firewall policy name %q is too long", policy)
	}
	return name, nil
}

// CreatePolicy ensures the policy chain exists in every family.
func (m *Manager) CreatePolicy(policy string) error {
	chain, err := PolicyChain(policy)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ipt := range m.families() {
		if err := ensureChain(ipt, "filter", chain); err != nil {
			return err
		}
	}
	return nil
}

// DeletePolicy removes the policy chain.
func (m *Manager) DeletePolicy(policy string) error {
	chain, err := PolicyChain(policy)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, ipt := range m.families() {
		ok, err := ipt.ChainExists("filter", chain)
		if err != nil || !ok {
			continue
		}
		if err := ipt.ClearAndDeleteChain("filter", chain); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncPolicy replaces the contents of a policy chain with rules.
func (m *Manager) SyncPolicy(policy string, rules []config.FirewallRule) error {
	chain, err := PolicyChain(policy)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ipt := range m.families() {
		v6 := i > 0
		if err := ipt.ClearChain("filter", chain); err != nil {
			return fmt.Errorf("flush %s: %w", chain, err)
		}
		for _, r := range rules {
			spec, ok := RuleSpec(r, v6)
			if !ok {
				continue
			}
			if err := ipt.AppendUnique("filter", chain, spec...); err != nil {
				return fmt.Errorf("%s rule %d: %w", chain, r.Seq, err)
			}
		}
	}
	slog.Info("firewall policy programmed", "policy", policy, "rules", len(rules))
	return nil
}

// RuleSpec renders one rule for a family. ok is false when the rule's
// addresses belong to the other family.
func RuleSpec(r config.FirewallRule, v6 bool) ([]string, bool) {
	var spec []string
	for _, ep := range []struct{ flag, cidr string }{{"-s", r.Src}, {"-d", r.Dst}} {
		if ep.cidr == "" || ep.cidr == "any" {
			continue
		}
		p, err := netip.ParsePrefix(ep.cidr)
		if err != nil || p.Addr().Is6() != v6 {
			return nil, false
		}
		spec = append(spec, ep.flag, p.Masked().String())
	}
	switch r.Proto {
	case "", "ip":
	case "icmp":
		if v6 {
			spec = append(spec, "-p", "ipv6-icmp")
		} else {
			spec = append(spec, "-p", "icmp")
		}
	default:
		spec = append(spec, "-p", r.Proto)
		if r.SrcPort != 0 {
			spec = append(spec, "--sport", strconv.Itoa(r.SrcPort))
		}
		if r.DstPort != 0 {
			spec = append(spec, "--dport", strconv.Itoa(r.DstPort))
		}
	}
	spec = append(spec, comment("seq:"+strconv.Itoa(r.Seq))...)
	target := "DROP"
	if r.Action == "allow" {
		target = "ACCEPT"
	}
	return append(spec, "-j", target), true
}

func bindRules(iface, dir, chain string) []rule {
	if dir == config.Inbound {
		return []rule{
			{"filter", ChainForward, []string{"-i", iface, "-j", chain}},
			{"filter", ChainInput, []string{"-i", iface, "-j", chain}},
		}
	}
	return []rule{
		{"filter", ChainForward, []string{"-o", iface, "-j", chain}},
		{"filter", ChainOutput, []string{"-o", iface, "-j", chain}},
	}
}

// BindPolicy jumps traffic of an interface direction through a policy.
func (m *Manager) BindPolicy(iface, policy, dir string) error {
	chain, err := PolicyChain(policy)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureHooks(); err != nil {
		return err
	}
	for _, ipt := range m.families() {
		if err := ensureChain(ipt, "filter", chain); err != nil {
			return err
		}
		for _, r := range bindRules(iface, dir, chain) {
			// policy jumps precede NAT accept rules
			if err := ipt.InsertUnique(r.table, r.chain, 1, r.spec...); err != nil {
				return fmt.Errorf("bind %s %s: %w", policy, iface, err)
			}
		}
	}
	return nil
}

// UnbindPolicy removes the jumps of an interface direction.
func (m *Manager) UnbindPolicy(iface, policy, dir string) error {
	chain, err := PolicyChain(policy)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ipt := range m.families() {
		for _, r := range bindRules(iface, dir, chain) {
			if err := ipt.DeleteIfExists(r.table, r.chain, r.spec...); err != nil {
				return fmt.Errorf("unbind %s %s: %w", policy, iface, err)
			}
		}
	}
	return nil
}
