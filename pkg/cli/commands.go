package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/psaab/routershell/pkg/cmdtree"
	"github.com/psaab/routershell/pkg/mode"
	"github.com/psaab/routershell/pkg/resolver"
)

// Invocation is a matched input line.
type Invocation struct {
	Args   cmdtree.Args
	Negate bool
	Mode   mode.Mode
	Line   string
}

// Command binds a template to its handler. Exactly one handler is set and
// it decides how the dispatcher runs the command.
type Command struct {
	Tokens    []cmdtree.Token
	NoTokens  []cmdtree.Token
	Negatable bool

	// Show writes a report to w and changes nothing.
	Show func(ctx context.Context, s *Session, w io.Writer, inv *Invocation) error
	// Apply resolves a configuration change into p.
	Apply func(p *resolver.Plan, inv *Invocation) error
	// Enter resolves like Apply and returns the sub-mode to enter once the
	// change has been committed, or nil to stay.
	Enter func(p *resolver.Plan, inv *Invocation) (*mode.Mode, error)
	// Session acts on the session: mode changes and maintenance.
	Session func(ctx context.Context, s *Session, inv *Invocation) error
}

func (c Command) template() cmdtree.Template {
	return cmdtree.Template{Tokens: c.Tokens, NoTokens: c.NoTokens, Negatable: c.Negatable}
}

// table is the command list of one mode with its templates in the same order.
type table struct {
	cmds      []Command
	templates []cmdtree.Template
}

func newTable(groups ...[]Command) *table {
	t := &table{}
	for _, g := range groups {
		for _, c := range g {
			t.cmds = append(t.cmds, c)
			t.templates = append(t.templates, c.template())
		}
	}
	return t
}

var (
	tables    map[mode.Table]*table
	showTable *table
)

// The tables are built in init because handlers such as "do" look them up.
func init() {
	showTable = newTable(showCommands())
	tables = buildTables()
}

func buildTables() map[mode.Table]*table {
	common := configCommon()
	return map[mode.Table]*table{
		{Kind: mode.Global}:     newTable(globalCommands()),
		{Kind: mode.Privileged}: newTable(privilegedCommands(), showCommands()),
		{Kind: mode.Configure}:  newTable(configureCommands(), common),

		{Kind: mode.ConfigInterface, Variant: variantEthernet}: newTable(interfaceCommands(variantEthernet), common),
		{Kind: mode.ConfigInterface, Variant: variantWireless}: newTable(interfaceCommands(variantWireless), common),
		{Kind: mode.ConfigInterface, Variant: variantLoopback}: newTable(interfaceCommands(variantLoopback), common),
		{Kind: mode.ConfigInterface, Variant: variantDummy}:    newTable(interfaceCommands(variantDummy), common),
		{Kind: mode.ConfigInterface, Variant: variantVlan}:     newTable(interfaceCommands(variantVlan), common),

		{Kind: mode.ConfigBridge}:   newTable(bridgeCommands(), common),
		{Kind: mode.ConfigVlan}:     newTable(vlanCommands(), common),
		{Kind: mode.ConfigNAT}:      newTable(natCommands(), common),
		{Kind: mode.ConfigDHCP}:     newTable(dhcpCommands(), common),
		{Kind: mode.ConfigWireless}: newTable(wirelessCommands(), common),
		{Kind: mode.ConfigFirewall}: newTable(firewallCommands(), common),
	}
}

// tableFor returns the command table of m. Interface variants without a
// table of their own use the ethernet one.
func tableFor(m mode.Mode) *table {
	if t, ok := tables[m.Table()]; ok {
		return t
	}
	if m.Kind == mode.ConfigInterface {
		return tables[mode.Table{Kind: mode.ConfigInterface, Variant: variantEthernet}]
	}
	return tables[mode.Table{Kind: m.Kind}]
}

// Name patterns. Interface names are limited by the kernel's IFNAMSIZ.
const (
	ifNamePattern   = `^[A-Za-z][A-Za-z0-9_.:@-]{0,14}$`
	hostnamePattern = `^[A-Za-z]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`
	objectPattern   = `^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`
)

func ifNameVar(name, desc string) cmdtree.Token {
	return cmdtree.PatternVar(name, ifNamePattern, desc).Suggest("interface")
}

func objectVar(name, desc, suggest string) cmdtree.Token {
	return cmdtree.PatternVar(name, objectPattern, desc).Suggest(suggest)
}

func vlanIDVar(desc string) cmdtree.Token {
	return cmdtree.IntVar("id", 1, 4094, desc).Suggest("vlan")
}

// textTokens is a free-form text argument of one or more words.
func textTokens(desc string) []cmdtree.Token {
	return []cmdtree.Token{
		cmdtree.Var("text", cmdtree.String, desc),
		cmdtree.Rep(cmdtree.Var("text", cmdtree.String, desc)),
	}
}

func tokens(groups ...any) []cmdtree.Token {
	var out []cmdtree.Token
	for _, g := range groups {
		switch v := g.(type) {
		case cmdtree.Token:
			out = append(out, v)
		case []cmdtree.Token:
			out = append(out, v...)
		}
	}
	return out
}

func enter(m mode.Mode) (*mode.Mode, error) {
	return &m, nil
}

func globalCommands() []Command {
	return []Command{
		{
			Tokens: tokens(cmdtree.Kw("enable", "Turn on privileged commands")),
			Session: func(_ context.Context, s *Session, _ *Invocation) error {
				s.stack.Push(mode.New(mode.Privileged, ""))
				return nil
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("show", "Show running system information"),
				cmdtree.Kw("version", "System software status")),
			Show: showVersion,
		},
		{
			Tokens: tokens(cmdtree.Kw("show", "Show running system information"),
				cmdtree.Kw("history", "Display the session command history")),
			Show: showHistory,
		},
		exitCommand(),
	}
}

func privilegedCommands() []Command {
	return []Command{
		{
			Tokens: tokens(cmdtree.Kw("configure", "Enter configuration mode"),
				cmdtree.Kw("terminal", "Configure from the terminal")),
			Session: func(_ context.Context, s *Session, _ *Invocation) error {
				s.stack.Push(mode.New(mode.Configure, ""))
				fmt.Fprintln(s.out, "Enter configuration commands, one per line.  End with CNTL/Z.")
				return nil
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("disable", "Turn off privileged commands")),
			Session: func(_ context.Context, s *Session, _ *Invocation) error {
				return s.stack.Exit()
			},
		},
		{
			Tokens: tokens(cmdtree.Kw("copy", "Copy from one file to another"),
				cmdtree.Kw("startup-config", "Copy from the stored configuration"),
				cmdtree.Kw("running-config", "Reapply it to the running system")),
			Session: func(ctx context.Context, s *Session, _ *Invocation) error {
				n, err := s.Reconcile(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "[OK] %d operation(s) applied\n", n)
				return nil
			},
		},
		exitCommand(),
	}
}

// exitCommand pops one mode. At Global it ends the session.
func exitCommand() Command {
	return Command{
		Tokens: tokens(cmdtree.Kw("exit", "Exit from the current mode")),
		Session: func(_ context.Context, s *Session, _ *Invocation) error {
			if s.stack.Depth() == 1 {
				return ErrExit
			}
			return s.stack.Exit()
		},
	}
}

// configCommon is accepted in Configure and every configuration sub-mode.
func configCommon() []Command {
	return []Command{
		{
			Tokens: tokens(cmdtree.Kw("end", "Leave the sub-mode, or configuration mode")),
			Session: func(_ context.Context, s *Session, _ *Invocation) error {
				s.stack.End()
				return nil
			},
		},
		exitCommand(),
		{
			Tokens: tokens(cmdtree.Kw("do", "Run a show command"),
				cmdtree.Var("command", cmdtree.String, "Show command"),
				cmdtree.Rep(cmdtree.Var("command", cmdtree.String, "Show command"))),
			Show: runDo,
		},
	}
}

// runDo runs a privileged show command from a configuration mode.
func runDo(ctx context.Context, s *Session, w io.Writer, inv *Invocation) error {
	m, err := cmdtree.MatchWords(showTable.templates, inv.Args.All("command"))
	if err != nil {
		if pe, ok := err.(*cmdtree.ParseError); ok {
			pe.Pos++
		}
		return err
	}
	sub := &Invocation{Args: m.Args, Mode: inv.Mode, Line: inv.Line}
	return showTable.cmds[m.Index].Show(ctx, s, w, sub)
}
