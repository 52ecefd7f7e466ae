// Package mode implements the nested CLI execution contexts of the shell.
package mode

import "fmt"

// Kind identifies a mode and, with Variant, its command table.
type Kind int

const (
	Global Kind = iota
	Privileged
	Configure
	ConfigInterface
	ConfigBridge
	ConfigVlan
	ConfigDHCP
	ConfigWireless
	ConfigNAT
	ConfigFirewall
)

var kindNames = map[Kind]string{
	Global:          "global",
	Privileged:      "privileged",
	Configure:       "configure",
	ConfigInterface: "configure-interface",
	ConfigBridge:    "configure-bridge",
	ConfigVlan:      "configure-vlan",
	ConfigDHCP:      "configure-dhcp",
	ConfigWireless:  "configure-wireless",
	ConfigNAT:       "configure-nat",
	ConfigFirewall:  "configure-firewall",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(k))
}

// prompt suffixes, IOS style.
var promptSuffix = map[Kind]string{
	Global:          ">",
	Privileged:      "#",
	Configure:       "(config)#",
	ConfigInterface: "(config-if)#",
	ConfigBridge:    "(config-br)#",
	ConfigVlan:      "(config-vlan)#",
	ConfigDHCP:      "(config-dhcp)#",
	ConfigWireless:  "(config-wifi)#",
	ConfigNAT:       "(config-nat)#",
	ConfigFirewall:  "(config-fw)#",
}

// Table selects the command table for a mode. Variant distinguishes the
// interface kinds within ConfigInterface and is empty elsewhere.
type Table struct {
	Kind    Kind
	Variant string
}

// Mode is one frame of the stack. Param carries what the mode is
// configuring (interface name, bridge name, VLAN ID, pool or policy name).
type Mode struct {
	Kind    Kind
	Param   string
	Variant string
}

// New returns a mode with its parameter.
func New(kind Kind, param string) Mode {
	return Mode{Kind: kind, Param: param}
}

// Interface returns a Configure-Interface mode for name using the command
// table of the given interface kind.
func Interface(name, variant string) Mode {
	return Mode{Kind: ConfigInterface, Param: name, Variant: variant}
}

// Name is the mode's display name, including its parameter.
func (m Mode) Name() string {
	if m.Param == "" {
		return m.Kind.String()
	}
	return m.Kind.String() + " " + m.Param
}

// Prompt renders the prompt for hostname.
func (m Mode) Prompt(hostname string) string {
	return hostname + promptSuffix[m.Kind] + " "
}

// Table returns the command table key.
func (m Mode) Table() Table {
	return Table{Kind: m.Kind, Variant: m.Variant}
}

// IsConfig reports whether the mode is Configure or one of its sub-modes.
func (m Mode) IsConfig() bool {
	return m.Kind >= Configure
}
