// Package resolver turns parsed commands into configuration deltas.
//
// A Plan works on a private copy of the current configuration: every
// operation it emits is applied to the copy immediately, so later checks
// in the same command see earlier effects. Nothing is written anywhere
// until the caller executes and commits the finished delta.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

// ErrorKind classifies resolution failures.
type ErrorKind int

const (
	ReferenceNotFound ErrorKind = iota
	InvariantViolation
	NotConfigured
)

func (k ErrorKind) String() string {
	switch k {
	case ReferenceNotFound:
		return "ReferenceNotFound"
	case InvariantViolation:
		return "InvariantViolation"
	case NotConfigured:
		return "NotConfigured"
	}
	return "unknown"
}

// Sentinels matched by errors.Is against *Error.
var (
	ErrReferenceNotFound  = errors.New("reference not found")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrNotConfigured      = errors.New("not configured")
)

// Error is a semantic resolution failure. Rule names the violated rule.
type Error struct {
	Kind ErrorKind
	Rule string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Msg)
}

// Is maps the error onto its sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrReferenceNotFound:
		return e.Kind == ReferenceNotFound
	case ErrInvariantViolation:
		return e.Kind == InvariantViolation
	case ErrNotConfigured:
		return e.Kind == NotConfigured
	}
	return false
}

func notFound(rule, format string, args ...any) error {
	return &Error{Kind: ReferenceNotFound, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

func violation(rule, format string, args ...any) error {
	return &Error{Kind: InvariantViolation, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

func notConfigured(rule, format string, args ...any) error {
	return &Error{Kind: NotConfigured, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

// Inventory reports links present on the host.
type Inventory interface {
	// LinkType returns the type of a live link.
	LinkType(name string) (config.IfType, bool)
	// BusInfo returns the bus-stable identifier of a live link.
	BusInfo(name string) (string, error)
}

// OptionChecker validates a DHCP option name and its values for a family.
type OptionChecker func(v6 bool, name string, values []string) (string, error)

// Resolver creates plans. It holds no configuration state of its own.
type Resolver struct {
	inv     Inventory
	options OptionChecker
	log     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithInventory makes interface lookups consult the live host.
func WithInventory(inv Inventory) Option {
	return func(r *Resolver) { r.inv = inv }
}

// WithOptionChecker validates DHCP options.
func WithOptionChecker(fn OptionChecker) Option {
	return func(r *Resolver) { r.options = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New returns a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Plan accumulates the delta of one command.
type Plan struct {
	r      *Resolver
	before *config.Config
	work   *config.Config
	d      *delta.Delta
	err    error
}

// Begin starts a plan against cfg. cfg is not modified.
func (r *Resolver) Begin(cfg *config.Config) *Plan {
	return &Plan{r: r, before: cfg, work: cfg.Clone(), d: delta.New()}
}

// Config returns the configuration as it will be after the plan.
func (p *Plan) Config() *config.Config {
	return p.work
}

// Warn records a non-fatal note on the delta.
func (p *Plan) Warn(format string, args ...any) {
	p.d.Warn(format, args...)
}

func (p *Plan) emit(op delta.Op) {
	if p.err != nil {
		return
	}
	if err := delta.Apply(p.work, op); err != nil {
		p.err = fmt.Errorf("internal: %s: %w", op, err)
		return
	}
	p.d.Add(op)
}

// reassert emits an ensure for state the working config already holds.
func (p *Plan) reassert(op delta.Op) {
	op.Existing = true
	p.emit(op)
}

// Finish appends the service synchronization steps implied by the plan's
// changes and returns the delta.
func (p *Plan) Finish() (*delta.Delta, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.syncFirewall()
	p.syncWifi()
	p.syncDhcp()
	if p.err != nil {
		return nil, p.err
	}
	p.r.log.Debug("resolved", "ops", p.d.Len())
	return p.d, nil
}

func (p *Plan) syncDhcp() {
	before, after := p.before.DhcpServices(), p.work.DhcpServices()
	if reflect.DeepEqual(before, after) {
		return
	}
	p.emit(delta.Op{Kind: delta.SyncDhcp, Dhcp: after, PrevDhcp: before})
}

func (p *Plan) syncWifi() {
	seen := make(map[string]bool)
	for _, cfg := range []*config.Config{p.before, p.work} {
		for _, name := range config.SortedKeys(cfg.Interfaces) {
			if seen[name] || !cfg.Interfaces[name].Type.Wireless() {
				continue
			}
			seen[name] = true
			before, after := p.before.WifiSettingsFor(name), p.work.WifiSettingsFor(name)
			if reflect.DeepEqual(before, after) {
				continue
			}
			p.emit(delta.Op{Kind: delta.SyncWifi, Iface: name, Wifi: after, PrevWifi: before})
		}
	}
}

func (p *Plan) syncFirewall() {
	for _, name := range config.SortedKeys(p.work.FirewallPolicies) {
		after := p.work.FirewallPolicies[name].Rules
		var before []config.FirewallRule
		if pol, ok := p.before.FirewallPolicies[name]; ok {
			before = pol.Rules
		}
		if reflect.DeepEqual(before, after) {
			continue
		}
		p.emit(delta.Op{Kind: delta.SyncFirewall, Pool: name, Rules: after, PrevRules: before})
	}
}

// Reconcile returns a delta that re-asserts every configured entity on the
// host. All of its operations are ensures of stored state, so it never
// changes the store and none of them is reversed on failure.
func (r *Resolver) Reconcile(cfg *config.Config) *delta.Delta {
	d := delta.New()
	d.Command = "reconcile"
	if cfg.Hostname != "" {
		d.Add(delta.Op{Kind: delta.SetHostname, Value: cfg.Hostname, Prev: cfg.Hostname})
	}
	for _, attr := range []struct{ field, value string }{
		{delta.SysArpTimeout, arpTimeout(cfg.Arp.Timeout)},
		{delta.SysArpProxy, onOff(cfg.Arp.Proxy)},
		{delta.SysArpDropGratuitous, onOff(cfg.Arp.DropGratuitous)},
	} {
		if attr.value != "" {
			d.Add(delta.Op{Kind: delta.SetSystemAttr, Field: attr.field, Value: attr.value, Prev: attr.value})
		}
	}
	for _, alias := range config.SortedKeys(cfg.Renames) {
		d.Add(delta.Op{Kind: delta.AddRename, Rename: *cfg.Renames[alias]})
	}
	names := config.SortedKeys(cfg.Interfaces)
	for _, n := range names {
		ifc := cfg.Interfaces[n]
		if ifc.Type == config.Loopback || ifc.Type == config.Dummy {
			d.Add(delta.Op{Kind: delta.CreateInterface, Iface: n, IfType: ifc.Type, Up: !ifc.Shutdown})
		}
	}
	for _, b := range config.SortedKeys(cfg.Bridges) {
		up := !cfg.Bridges[b].Shutdown
		d.Add(delta.Op{Kind: delta.SetBridgeState, Bridge: b, Up: up, PrevUp: up})
	}
	for _, id := range cfg.VlanIDs() {
		for _, bnd := range cfg.Vlans[id].Bindings {
			field := delta.BindInterface
			if bnd.Bridge != "" {
				field = delta.BindBridge
			}
			d.Add(delta.Op{Kind: delta.BindVlan, VlanID: id, Field: field, Iface: bnd.Parent()})
		}
	}
	for _, pol := range config.SortedKeys(cfg.FirewallPolicies) {
		rules := cfg.FirewallPolicies[pol].Rules
		d.Add(delta.Op{Kind: delta.CreateFirewallPolicy, Pool: pol})
		d.Add(delta.Op{Kind: delta.SyncFirewall, Pool: pol, Rules: rules, PrevRules: rules})
	}
	for _, n := range names {
		ifc := cfg.Interfaces[n]
		for _, attr := range []struct{ field, value string }{
			{delta.AttrMAC, ifc.MAC},
			{delta.AttrDuplex, ifc.Duplex},
			{delta.AttrSpeed, ifc.Speed},
			{delta.AttrProxyArp, onOff(ifc.ProxyArp)},
			{delta.AttrDropGratuitousArp, onOff(ifc.DropGratuitousArp)},
			{delta.AttrDhcpClient, onOff(ifc.DhcpClient)},
			{delta.AttrDhcpClient6, onOff(ifc.DhcpClient6)},
		} {
			if attr.value != "" {
				d.Add(delta.Op{Kind: delta.SetInterfaceAttr, Iface: n, Field: attr.field, Value: attr.value, Prev: attr.value})
			}
		}
		for _, a := range ifc.Addresses {
			d.Add(delta.Op{Kind: delta.AddAddress, Iface: n, Prefix: a.Prefix, Secondary: a.Secondary})
		}
		for _, a := range ifc.StaticArps {
			d.Add(delta.Op{Kind: delta.AddStaticArp, Iface: n, Addr: a.IP, Value: a.MAC})
		}
		if ifc.Bridge != "" {
			d.Add(delta.Op{Kind: delta.AttachBridge, Iface: n, Bridge: ifc.Bridge})
		}
		if ifc.Nat != nil {
			spec := config.TranslateMasquerade
			if pool, ok := cfg.NatPools[ifc.Nat.Pool]; ok {
				spec = pool.TranslationSpec()
			}
			d.Add(delta.Op{Kind: delta.BindNat, Iface: n, Field: ifc.Nat.Direction, Pool: ifc.Nat.Pool, Value: spec})
		}
		for _, dir := range []string{config.Inbound, config.Outbound} {
			if pol, ok := ifc.Firewall[dir]; ok {
				d.Add(delta.Op{Kind: delta.BindFirewall, Iface: n, Field: dir, Pool: pol})
			}
		}
		d.Add(delta.Op{Kind: delta.SetLinkState, Iface: n, Up: !ifc.Shutdown, PrevUp: !ifc.Shutdown})
	}
	if svc := cfg.DhcpServices(); len(svc) > 0 {
		d.Add(delta.Op{Kind: delta.SyncDhcp, Dhcp: svc, PrevDhcp: svc})
	}
	for _, n := range names {
		if ws := cfg.WifiSettingsFor(n); ws != nil {
			d.Add(delta.Op{Kind: delta.SyncWifi, Iface: n, Wifi: ws, PrevWifi: ws})
		}
	}
	for _, rt := range cfg.Routes {
		d.Add(delta.Op{Kind: delta.AddRoute, Route: rt})
	}
	for i := range d.Ops {
		d.Ops[i].Existing = true
	}
	return d
}

func arpTimeout(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func onOff(b bool) string {
	if b {
		return delta.On
	}
	return delta.Off
}
