package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/configstore"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/dhcpclient"
	"github.com/psaab/routershell/pkg/dhcpserver"
	"github.com/psaab/routershell/pkg/executor"
	"github.com/psaab/routershell/pkg/logging"
	"github.com/psaab/routershell/pkg/mode"
	"github.com/psaab/routershell/pkg/netops"
	"github.com/psaab/routershell/pkg/resolver"
)

// historySize is how many input lines "show history" keeps.
const historySize = 20

// LiveState reads link, neighbour and route state from the host.
type LiveState interface {
	Links() ([]netops.LinkStatus, error)
	Neighbors() ([]netops.Neighbor, error)
	Routes() ([]netops.RouteEntry, error)
}

// LeaseSource reads the DHCP server's lease database.
type LeaseSource interface {
	Leases(v6 bool) ([]dhcpserver.Lease, error)
}

// ClientLeases lists the addresses held by interface DHCP clients.
type ClientLeases interface {
	Leases() []dhcpclient.Lease
}

// Options configures a Session.
type Options struct {
	Store    *configstore.Store
	Resolver *resolver.Resolver
	Executor *executor.Executor

	// Live, Leases and Clients add host state to the show commands. Any
	// may be nil.
	Live    LiveState
	Leases  LeaseSource
	Clients ClientLeases

	Out     io.Writer
	Version string
	Logger  *slog.Logger
}

// Session is one CLI session: a mode stack plus the components that turn
// lines into committed changes.
type Session struct {
	store   *configstore.Store
	res     *resolver.Resolver
	exec    *executor.Executor
	live    LiveState
	leases  LeaseSource
	clients ClientLeases
	out     io.Writer
	log     *slog.Logger
	version string
	started time.Time

	stack    *mode.Stack
	hostname string
	history  []string
}

// NewSession returns a session in Global mode.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil || opts.Resolver == nil || opts.Executor == nil {
		return nil, errors.New("cli: store, resolver and executor are required")
	}
	s := &Session{
		store:   opts.Store,
		res:     opts.Resolver,
		exec:    opts.Executor,
		live:    opts.Live,
		leases:  opts.Leases,
		clients: opts.Clients,
		out:     opts.Out,
		log:     opts.Logger,
		version: opts.Version,
		started: time.Now(),
		stack:   mode.NewStack(),
	}
	if s.out == nil {
		s.out = io.Discard
	}
	if s.log == nil {
		s.log = logging.For("cli")
	}
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.hostname = cfg.Hostname
	return s, nil
}

// Prompt is the prompt for the active mode.
func (s *Session) Prompt() string {
	return s.stack.Top().Prompt(s.hostname)
}

// Mode returns the active mode.
func (s *Session) Mode() mode.Mode {
	return s.stack.Top()
}

// Stack exposes the mode stack.
func (s *Session) Stack() *mode.Stack {
	return s.stack
}

// Out is where command output goes.
func (s *Session) Out() io.Writer {
	return s.out
}

// SetOutput redirects command output.
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

// Banner returns the stored message of the day.
func (s *Session) Banner(ctx context.Context) string {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn("load banner", "err", err)
		return ""
	}
	return cfg.Banner
}

// Dispatch runs one input line in the active mode. Resolution warnings
// and NotConfigured results are written to the session output and are not
// errors. ErrExit is returned when the line ends the session.
func (s *Session) Dispatch(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "!") {
		return nil
	}
	s.remember(line)

	cmdLine, filter, err := splitPipe(line)
	if err != nil {
		return err
	}
	words := strings.Fields(cmdLine)
	cmd, m, err := s.lookup(words)
	if err != nil {
		return err
	}
	inv := &Invocation{Args: m.Args, Negate: m.Negate, Mode: s.stack.Top(), Line: cmdLine}
	if filter != nil && cmd.Show == nil {
		return errPipeNotAllowed
	}
	s.log.Debug("dispatch", "mode", inv.Mode.Name(), "line", cmdLine)

	switch {
	case cmd.Show != nil:
		return s.show(ctx, cmd, inv, filter)
	case cmd.Session != nil:
		return cmd.Session(ctx, s, inv)
	default:
		return s.mutate(ctx, cmd, inv)
	}
}

func (s *Session) remember(line string) {
	s.history = append(s.history, line)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// lookup matches words in the active mode. A configuration sub-mode also
// accepts every Configure command, the way IOS falls back to the parent
// mode for lines the sub-mode does not know.
func (s *Session) lookup(words []string) (*Command, *cmdtree.Match, error) {
	top := s.stack.Top()
	t := tableFor(top)
	m, err := cmdtree.MatchWords(t.templates, words)
	if err == nil {
		return &t.cmds[m.Index], m, nil
	}
	if top.Kind > mode.Configure {
		parent := tableFor(mode.New(mode.Configure, ""))
		if pm, perr := cmdtree.MatchWords(parent.templates, words); perr == nil {
			return &parent.cmds[pm.Index], pm, nil
		}
	}
	return nil, nil, err
}

func (s *Session) show(ctx context.Context, cmd *Command, inv *Invocation, filter *pipeFilter) error {
	if filter == nil {
		return cmd.Show(ctx, s, s.out, inv)
	}
	return s.filtered(filter, func(w io.Writer) error {
		return cmd.Show(ctx, s, w, inv)
	})
}

// mutate resolves, executes and commits one configuration command.
func (s *Session) mutate(ctx context.Context, cmd *Command, inv *Invocation) error {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	p := s.res.Begin(cfg)
	var next *mode.Mode
	if cmd.Enter != nil {
		next, err = cmd.Enter(p, inv)
	} else {
		err = cmd.Apply(p, inv)
	}
	if err != nil {
		return s.warnNotConfigured(err)
	}
	d, err := p.Finish()
	if err != nil {
		return s.warnNotConfigured(err)
	}
	d.Command = inv.Line
	if err := s.commit(ctx, d); err != nil {
		return err
	}
	for _, w := range d.Warnings {
		fmt.Fprintf(s.out, "%% Warning: %s\n", w)
	}
	after := p.Config()
	s.hostname = after.Hostname
	s.dropStale(after)
	if next != nil {
		s.stack.Push(*next)
	}
	return nil
}

// warnNotConfigured turns a NotConfigured result into a printed warning.
func (s *Session) warnNotConfigured(err error) error {
	if errors.Is(err, resolver.ErrNotConfigured) {
		fmt.Fprintf(s.out, "%% Warning: %s\n", err)
		return nil
	}
	return err
}

// commit executes d on the host and then persists it. When persisting
// fails the executed operations are reversed so that the host matches the
// store again.
func (s *Session) commit(ctx context.Context, d *delta.Delta) error {
	if d.Empty() {
		return nil
	}
	if err := s.exec.Apply(ctx, d); err != nil {
		return err
	}
	modeName := s.stack.Top().Name()
	if err := s.store.Commit(ctx, d, modeName); err != nil {
		undo := inverse(d)
		if uerr := s.exec.Apply(ctx, undo); uerr != nil {
			s.log.Error("revert after store failure", "command", d.Command, "err", uerr)
			return fmt.Errorf("%w; reverting the host failed, manual reconciliation required: %v", err, uerr)
		}
		s.log.Warn("store commit failed, host reverted", "command", d.Command, "err", err)
		return err
	}
	s.log.Info("committed", "mode", modeName, "command", d.Command, "ops", d.Len())
	return nil
}

// inverse returns the delta that undoes d.
func inverse(d *delta.Delta) *delta.Delta {
	out := delta.New()
	out.Command = d.Command
	for i := len(d.Ops) - 1; i >= 0; i-- {
		out.Add(d.Ops[i].Inverse())
	}
	return out
}

// dropStale leaves a sub-mode whose object no longer exists.
func (s *Session) dropStale(cfg *config.Config) {
	top := s.stack.Top()
	gone := false
	switch top.Kind {
	case mode.ConfigInterface:
		gone = cfg.Interfaces[top.Param] == nil
	case mode.ConfigBridge:
		gone = cfg.Bridges[top.Param] == nil
	case mode.ConfigVlan:
		id, _ := strconv.Atoi(top.Param)
		gone = cfg.Vlans[id] == nil
	case mode.ConfigNAT:
		gone = cfg.NatPools[top.Param] == nil
	case mode.ConfigDHCP:
		gone = cfg.DhcpPools[top.Param] == nil
	case mode.ConfigWireless:
		gone = cfg.WifiPolicies[top.Param] == nil
	case mode.ConfigFirewall:
		gone = cfg.FirewallPolicies[top.Param] == nil
	}
	if gone {
		s.stack.ToConfigure()
	}
}

// Reconcile reapplies the whole stored configuration to the host. The
// store is authoritative; nothing is written back to it. A failed
// operation is reported in a *ReconcileError and the others still run.
func (s *Session) Reconcile(ctx context.Context) (int, error) {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	d := s.res.Reconcile(cfg)
	d.Command = "copy startup-config running-config"
	errs := s.exec.ApplyAll(ctx, d)
	s.hostname = cfg.Hostname
	applied := d.Len() - len(errs)
	if len(errs) > 0 {
		s.log.Warn("reconcile incomplete", "ops", d.Len(), "failed", len(errs))
		return applied, &ReconcileError{Applied: applied, Total: d.Len(), Errs: errs}
	}
	s.log.Info("reconciled", "ops", d.Len())
	return applied, nil
}

// Complete returns the completion candidates for the end of line in the
// active mode.
func (s *Session) Complete(ctx context.Context, line string) []cmdtree.Candidate {
	if cands, ok := completePipeFilter(line); ok {
		return cands
	}
	top := s.stack.Top()
	dyn := s.dynamic(ctx)
	if top.IsConfig() {
		if rest, ok := afterDo(line); ok {
			return cmdtree.Complete(showTable.templates, rest, dyn)
		}
	}
	return cmdtree.Complete(tableFor(top).templates, line, dyn)
}

// afterDo strips a leading "do " from line.
func afterDo(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	word, rest, found := strings.Cut(trimmed, " ")
	if !found || !strings.EqualFold(word, "do") {
		return "", false
	}
	return rest, true
}

// dynamic resolves completion keys against the stored configuration.
func (s *Session) dynamic(ctx context.Context) cmdtree.DynamicFunc {
	var cfg *config.Config
	return func(key string) []string {
		if cfg == nil {
			c, err := s.store.Load(ctx)
			if err != nil {
				return nil
			}
			cfg = c
		}
		switch key {
		case "interface":
			return config.SortedKeys(cfg.Interfaces)
		case "bridge":
			return config.SortedKeys(cfg.Bridges)
		case "vlan":
			var out []string
			for _, id := range cfg.VlanIDs() {
				out = append(out, strconv.Itoa(id))
			}
			return out
		case "nat-pool":
			return config.SortedKeys(cfg.NatPools)
		case "dhcp-pool":
			return config.SortedKeys(cfg.DhcpPools)
		case "wifi-policy":
			return config.SortedKeys(cfg.WifiPolicies)
		case "firewall-policy":
			return config.SortedKeys(cfg.FirewallPolicies)
		case "alias":
			return config.SortedKeys(cfg.Renames)
		case "dhcp-option":
			var out []string
			for _, o := range dhcpserver.Catalog() {
				out = append(out, o.Name)
			}
			return out
		}
		return nil
	}
}
