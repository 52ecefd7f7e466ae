package system

import (
	"context"
	"errors"
	"testing"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
)

func TestRecorderFailAt(t *testing.T) {
	r := &Recorder{FailAt: 2}
	ctx := context.Background()
	ops := []delta.Op{
		{Kind: delta.SetBridgeState, Bridge: "br0", Up: true},
		{Kind: delta.AttachBridge, Iface: "Gig1", Bridge: "br0"},
		{Kind: delta.SetLinkState, Iface: "Gig1", Up: true},
	}
	var errs []error
	for _, op := range ops {
		errs = append(errs, r.Apply(ctx, op))
	}
	if errs[0] != nil || !errors.Is(errs[1], ErrInjected) || errs[2] != nil {
		t.Errorf("errors = %v", errs)
	}
	if got := len(r.Ops()); got != 3 {
		t.Errorf("recorded %d ops, want 3", got)
	}

	r.Reset()
	if len(r.Ops()) != 0 || r.FailAt != 0 {
		t.Error("reset kept state")
	}
}

func TestRecorderFailOn(t *testing.T) {
	boom := errors.New("boom")
	r := &Recorder{FailOn: func(_ int, op delta.Op) error {
		if op.Kind == delta.AddAddress {
			return boom
		}
		return nil
	}}
	if err := r.Apply(context.Background(), delta.Op{Kind: delta.AddAddress, Iface: "Gig1"}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestRecorderLiveSkipsStoreOnly(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	r.Apply(ctx, delta.Op{Kind: delta.CreateVlan, VlanID: 10, Value: "users"})
	r.Apply(ctx, delta.Op{Kind: delta.CreateInterface, Iface: "Gig1", IfType: config.Ethernet})
	r.Apply(ctx, delta.Op{Kind: delta.CreateInterface, Iface: "loopback0", IfType: config.Loopback})
	r.Apply(ctx, delta.Op{Kind: delta.SetInterfaceAttr, Iface: "Gig2", Field: delta.AttrDhcpClient, Value: delta.On})

	live := r.Live()
	if len(live) != 2 || live[0].Iface != "loopback0" || live[1].Field != delta.AttrDhcpClient {
		t.Errorf("live = %v", live)
	}
}

func TestNoopHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if err := (Noop{}).Apply(ctx, delta.Op{Kind: delta.SetHostname, Value: "r1"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := (Noop{}).Apply(ctx, delta.Op{Kind: delta.SetHostname, Value: "r1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
