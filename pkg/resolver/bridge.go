package resolver

import (
	"fmt"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

// EnsureBridge selects a bridge for configuration, creating it when absent.
// New bridges start shut down.
func (p *Plan) EnsureBridge(name string) error {
	if _, ok := p.work.Bridges[name]; ok {
		return nil
	}
	if _, ok := p.work.Interfaces[name]; ok {
		return violation("name-unique", "%s is an interface", name)
	}
	p.emit(delta.Op{Kind: delta.CreateBridge, Bridge: name})
	return nil
}

// DeleteBridge detaches every member, removes VLAN bindings on the bridge
// and deletes it.
func (p *Plan) DeleteBridge(name string) error {
	b, ok := p.work.Bridges[name]
	if !ok {
		return notConfigured("bridge-exists", "bridge %s is not configured", name)
	}
	for _, m := range p.work.BridgeMembers(name) {
		p.emit(delta.Op{Kind: delta.DetachBridge, Iface: m, Bridge: name})
	}
	if v := p.work.VlanOf(name); v != nil {
		p.unbindVlan(v, name)
	}
	if b.Description != "" {
		p.emit(delta.Op{Kind: delta.SetBridgeAttr, Bridge: name, Field: delta.AttrDescription, Prev: b.Description})
	}
	if !b.Shutdown {
		p.emit(delta.Op{Kind: delta.SetBridgeState, Bridge: name, Up: false, PrevUp: true})
	}
	p.emit(delta.Op{Kind: delta.DeleteBridge, Bridge: name})
	return nil
}

// SetBridgeShutdown sets the administrative state of a bridge.
func (p *Plan) SetBridgeShutdown(name string, shutdown bool) error {
	b, ok := p.work.Bridges[name]
	if !ok {
		return notFound("bridge-exists", "bridge %s does not exist", name)
	}
	p.emit(delta.Op{Kind: delta.SetBridgeState, Bridge: name, Up: !shutdown, PrevUp: !b.Shutdown})
	return nil
}

// SetBridgeDescription sets or clears the description of a bridge.
func (p *Plan) SetBridgeDescription(name, text string) error {
	b, ok := p.work.Bridges[name]
	if !ok {
		return notFound("bridge-exists", "bridge %s does not exist", name)
	}
	if text == "" && b.Description == "" {
		return notConfigured("attribute-set", "description is not set on %s", name)
	}
	p.emit(delta.Op{Kind: delta.SetBridgeAttr, Bridge: name, Field: delta.AttrDescription, Value: text, Prev: b.Description})
	return nil
}

// DefaultVlanName is the name a VLAN gets when none is given.
func DefaultVlanName(id int) string {
	return fmt.Sprintf("VLAN%04d", id)
}

// EnsureVlan selects a VLAN for configuration, creating it when absent.
// An empty name leaves an existing VLAN's name alone.
func (p *Plan) EnsureVlan(id int, name string) error {
	if v, ok := p.work.Vlans[id]; ok {
		if name != "" && name != v.Name {
			return violation("vlan-id-unique", "VLAN %d already exists with name %s", id, v.Name)
		}
		return nil
	}
	if name == "" {
		name = DefaultVlanName(id)
	}
	if other := p.work.VlanByName(name); other != nil {
		return violation("vlan-name-unique", "VLAN name %s is used by VLAN %d", name, other.ID)
	}
	p.emit(delta.Op{Kind: delta.CreateVlan, VlanID: id, Value: name})
	return nil
}

// DeleteVlan removes every binding of a VLAN and then the VLAN.
func (p *Plan) DeleteVlan(id int) error {
	v, ok := p.work.Vlans[id]
	if !ok {
		return notConfigured("vlan-exists", "VLAN %d is not configured", id)
	}
	for _, b := range append([]config.VlanBinding(nil), v.Bindings...) {
		p.unbindVlan(v, b.Parent())
	}
	if v.Description != "" {
		p.emit(delta.Op{Kind: delta.SetVlanAttr, VlanID: id, Field: delta.AttrDescription, Prev: v.Description})
	}
	p.emit(delta.Op{Kind: delta.DeleteVlan, VlanID: id, Value: v.Name})
	return nil
}

// SetVlanName renames a VLAN. An empty name restores the default.
func (p *Plan) SetVlanName(id int, name string) error {
	v, ok := p.work.Vlans[id]
	if !ok {
		return notFound("vlan-exists", "VLAN %d does not exist", id)
	}
	if name == "" {
		name = DefaultVlanName(id)
	}
	if other := p.work.VlanByName(name); other != nil && other.ID != id {
		return violation("vlan-name-unique", "VLAN name %s is used by VLAN %d", name, other.ID)
	}
	p.emit(delta.Op{Kind: delta.SetVlanAttr, VlanID: id, Field: delta.AttrName, Value: name, Prev: v.Name})
	return nil
}

// SetVlanDescription sets or clears a VLAN description.
func (p *Plan) SetVlanDescription(id int, text string) error {
	v, ok := p.work.Vlans[id]
	if !ok {
		return notFound("vlan-exists", "VLAN %d does not exist", id)
	}
	if text == "" && v.Description == "" {
		return notConfigured("attribute-set", "description is not set on VLAN %d", id)
	}
	p.emit(delta.Op{Kind: delta.SetVlanAttr, VlanID: id, Field: delta.AttrDescription, Value: text, Prev: v.Description})
	return nil
}

// SetAccessVlan binds a VLAN to a parent interface or bridge and creates
// its tagged sub-interface. A parent carries at most one VLAN.
func (p *Plan) SetAccessVlan(parent string, id int) error {
	field := delta.BindInterface
	switch {
	case p.work.Bridges[parent] != nil:
		field = delta.BindBridge
	case p.work.Interfaces[parent] != nil:
		ifc := p.work.Interfaces[parent]
		if ifc.Type == config.Loopback || ifc.Type == config.VlanIf {
			return violation("vlan-parent-type", "%s interfaces cannot carry a VLAN", ifc.Type)
		}
		if ifc.Bridge != "" {
			return violation("bridge-or-vlan", "%s is a member of bridge %s; set the VLAN on the bridge", parent, ifc.Bridge)
		}
	default:
		return notFound("interface-exists", "%s is not configured", parent)
	}
	v, ok := p.work.Vlans[id]
	if !ok {
		return notFound("vlan-exists", "VLAN %d does not exist", id)
	}
	if cur := p.work.VlanOf(parent); cur != nil && cur.ID != id {
		return violation("vlan-parent-single", "%s already carries VLAN %d", parent, cur.ID)
	}
	p.emit(delta.Op{Kind: delta.BindVlan, VlanID: v.ID, Field: field, Iface: parent})
	p.emit(delta.Op{Kind: delta.CreateInterface, Iface: config.VlanSubinterface(parent, id), IfType: config.VlanIf, Up: true})
	return nil
}

// ClearAccessVlan removes the parent's VLAN binding and sub-interface.
// id zero matches whatever VLAN is bound.
func (p *Plan) ClearAccessVlan(parent string, id int) error {
	v := p.work.VlanOf(parent)
	if v == nil || (id != 0 && v.ID != id) {
		return notConfigured("vlan-bound", "%s does not carry VLAN %d", parent, id)
	}
	p.unbindVlan(v, parent)
	return nil
}

// unbindVlan tears down the sub-interface of parent in VLAN v, destroys
// it and removes the binding.
func (p *Plan) unbindVlan(v *config.Vlan, parent string) {
	sub := config.VlanSubinterface(parent, v.ID)
	if ifc, ok := p.work.Interfaces[sub]; ok {
		p.teardown(sub)
		p.emit(delta.Op{Kind: delta.DestroyInterface, Iface: sub, IfType: config.VlanIf, Up: !ifc.Shutdown})
	}
	field := delta.BindInterface
	if _, ok := p.work.Bridges[parent]; ok {
		field = delta.BindBridge
	}
	p.emit(delta.Op{Kind: delta.UnbindVlan, VlanID: v.ID, Field: field, Iface: parent})
}
