package mode

import (
	"errors"
	"testing"
)

func configStack() *Stack {
	s := NewStack()
	s.Push(New(Privileged, ""))
	s.Push(New(Configure, ""))
	return s
}

func TestStackNeverEmpty(t *testing.T) {
	s := NewStack()
	if err := s.Exit(); !errors.Is(err, ErrBase) {
		t.Fatalf("Exit at global: got %v, want ErrBase", err)
	}
	if s.Depth() != 1 || s.Top().Kind != Global {
		t.Errorf("stack changed: depth %d top %v", s.Depth(), s.Top().Kind)
	}
	s.End()
	if s.Depth() != 1 {
		t.Errorf("End at global changed depth to %d", s.Depth())
	}
}

func TestStackExitPopsOneLevel(t *testing.T) {
	s := configStack()
	s.Push(Interface("Gig1", "ethernet"))
	if err := s.Exit(); err != nil {
		t.Fatal(err)
	}
	if s.Top().Kind != Configure {
		t.Errorf("top = %v, want configure", s.Top().Kind)
	}
	if err := s.Exit(); err != nil {
		t.Fatal(err)
	}
	if s.Top().Kind != Privileged {
		t.Errorf("top = %v, want privileged", s.Top().Kind)
	}
}

func TestStackEnd(t *testing.T) {
	s := configStack()
	s.Push(New(ConfigBridge, "brlan0"))
	s.End()
	if s.Top().Kind != Configure {
		t.Fatalf("end from sub-mode: top = %v", s.Top().Kind)
	}
	s.End()
	if s.Top().Kind != Privileged {
		t.Fatalf("end from configure: top = %v", s.Top().Kind)
	}
	s.End()
	if s.Top().Kind != Privileged {
		t.Errorf("end from privileged should be a no-op, top = %v", s.Top().Kind)
	}
}

func TestStackSiblingReplaces(t *testing.T) {
	s := configStack()
	s.Push(Interface("Gig1", "ethernet"))
	s.Push(New(ConfigBridge, "brlan0"))
	if s.Depth() != 4 {
		t.Errorf("depth = %d, want 4", s.Depth())
	}
	parent, ok := s.Parent()
	if !ok || parent.Kind != Configure {
		t.Errorf("parent = %v", parent.Kind)
	}
}

func TestModeParametersAreIndependent(t *testing.T) {
	a := configStack()
	b := configStack()
	a.Push(Interface("Gig1", "ethernet"))
	b.Push(Interface("Gig2", "wireless"))
	if a.Top().Param != "Gig1" || b.Top().Param != "Gig2" {
		t.Errorf("params leaked between stacks: %q %q", a.Top().Param, b.Top().Param)
	}
	if a.Top().Table() == b.Top().Table() {
		t.Error("interface variants should select different tables")
	}
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		m    Mode
		want string
	}{
		{New(Global, ""), "Router> "},
		{New(Privileged, ""), "Router# "},
		{New(Configure, ""), "Router(config)# "},
		{Interface("Gig1", "ethernet"), "Router(config-if)# "},
		{New(ConfigVlan, "1000"), "Router(config-vlan)# "},
		{New(ConfigDHCP, "lan"), "Router(config-dhcp)# "},
	}
	for _, tt := range tests {
		if got := tt.m.Prompt("Router"); got != tt.want {
			t.Errorf("%v: prompt = %q, want %q", tt.m.Kind, got, tt.want)
		}
	}
}
