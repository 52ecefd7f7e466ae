package config

import (
	"net/netip"
	"reflect"
	"testing"
)

func wifiConfig() *Config {
	c := New()
	c.WifiPolicies["home"] = &WifiPolicy{Name: "home", SSID: "HomeNet", Passphrase: "correcthorse", HwMode: "g", Channel: 6}
	c.Bridges["brlan0"] = &Bridge{Name: "brlan0"}
	c.Interfaces["wlan0"] = &Interface{Name: "wlan0", Type: WirelessWifi, WifiPolicy: "home", Bridge: "brlan0"}
	return c
}

func TestWifiSettingsFor(t *testing.T) {
	tests := []struct {
		name    string
		channel int
		hwMode  string
		want    WifiSettings
	}{
		{"policy", 0, "", WifiSettings{HwMode: "g", Channel: 6}},
		{"both overridden", 36, "a", WifiSettings{HwMode: "a", Channel: 36}},
		{"channel overridden", 11, "", WifiSettings{HwMode: "g", Channel: 11}},
		{"mode overridden", 0, "n", WifiSettings{HwMode: "n", Channel: 6}},
	}
	for _, tt := range tests {
		c := wifiConfig()
		c.Interfaces["wlan0"].WifiChannel = tt.channel
		c.Interfaces["wlan0"].WifiHwMode = tt.hwMode
		ws := c.WifiSettingsFor("wlan0")
		if ws == nil {
			t.Fatalf("%s: no settings", tt.name)
		}
		want := tt.want
		want.Interface, want.Bridge, want.SSID, want.Passphrase, want.WpaMode = "wlan0", "brlan0", "HomeNet", "correcthorse", DefaultWpaMode
		if *ws != want {
			t.Errorf("%s: got %+v, want %+v", tt.name, *ws, want)
		}
	}
}

func TestWifiSettingsOverrideCleared(t *testing.T) {
	c := wifiConfig()
	ifc := c.Interfaces["wlan0"]
	ifc.WifiChannel, ifc.WifiHwMode = 36, "a"
	if ws := c.WifiSettingsFor("wlan0"); ws.Channel != 36 || ws.HwMode != "a" {
		t.Fatalf("override ignored: %+v", ws)
	}
	ifc.WifiChannel, ifc.WifiHwMode = 0, ""
	if ws := c.WifiSettingsFor("wlan0"); ws.Channel != 6 || ws.HwMode != "g" {
		t.Errorf("cleared override did not fall back to the policy: %+v", ws)
	}

	// policy without a mode uses the default
	c.WifiPolicies["home"].HwMode = ""
	if ws := c.WifiSettingsFor("wlan0"); ws.HwMode != DefaultHwMode {
		t.Errorf("hw mode = %q", ws.HwMode)
	}
}

func TestWifiSettingsIncomplete(t *testing.T) {
	c := wifiConfig()
	c.Interfaces["wlan1"] = &Interface{Name: "wlan1", Type: WirelessWifi}
	c.Interfaces["wlan2"] = &Interface{Name: "wlan2", Type: WirelessWifi, WifiPolicy: "missing"}
	for _, name := range []string{"wlan1", "wlan2", "nosuch"} {
		if ws := c.WifiSettingsFor(name); ws != nil {
			t.Errorf("%s: got %+v", name, ws)
		}
	}
	c.WifiPolicies["home"].SSID = ""
	if ws := c.WifiSettingsFor("wlan0"); ws != nil {
		t.Errorf("policy without SSID: got %+v", ws)
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := wifiConfig()
	c.Arp = Arp{Timeout: 300, Proxy: true}
	c.Interfaces["Gig1"] = &Interface{
		Name:      "Gig1",
		Addresses: []Address{{Prefix: netip.MustParsePrefix("10.0.0.1/24")}},
		Nat:       &NatBinding{Direction: NatInside, Pool: "office"},
		Firewall:  map[string]string{Inbound: "edge"},
	}
	c.Vlans[10] = &Vlan{ID: 10, Bindings: []VlanBinding{{Bridge: "brlan0"}}}
	c.DhcpPools["lan"] = &DhcpPool{Name: "lan", Ranges: []DhcpRange{{}}, Options: []DhcpOption{{Name: "routers", Value: "10.0.0.1"}}}
	c.FirewallPolicies["edge"] = &FirewallPolicy{Name: "edge", Rules: []FirewallRule{{Seq: 10}}}
	c.Routes = []StaticRoute{{Prefix: netip.MustParsePrefix("0.0.0.0/0")}}

	out := c.Clone()
	if !reflect.DeepEqual(out, c) {
		t.Fatal("clone differs from the original")
	}
	out.Arp.Proxy = false
	g := out.Interfaces["Gig1"]
	g.Addresses[0].Secondary = true
	g.Nat.Pool = "other"
	g.Firewall[Inbound] = "other"
	out.Vlans[10].Bindings[0].Bridge = "other"
	out.DhcpPools["lan"].Options[0].Value = "other"
	out.FirewallPolicies["edge"].Rules[0].Seq = 20
	out.Routes[0].Iface = "other"
	out.WifiPolicies["home"].Channel = 1

	src := c.Interfaces["Gig1"]
	switch {
	case !c.Arp.Proxy:
		t.Error("arp shared")
	case src.Addresses[0].Secondary:
		t.Error("addresses shared")
	case src.Nat.Pool != "office":
		t.Error("nat binding shared")
	case src.Firewall[Inbound] != "edge":
		t.Error("firewall map shared")
	case c.Vlans[10].Bindings[0].Bridge != "brlan0":
		t.Error("vlan bindings shared")
	case c.DhcpPools["lan"].Options[0].Value != "10.0.0.1":
		t.Error("dhcp options shared")
	case c.FirewallPolicies["edge"].Rules[0].Seq != 10:
		t.Error("firewall rules shared")
	case c.Routes[0].Iface != "":
		t.Error("routes shared")
	case c.WifiPolicies["home"].Channel != 6:
		t.Error("wifi policy shared")
	}
	if (*Config)(nil).Clone() != nil {
		t.Error("nil clone")
	}
}

func TestDhcpServices(t *testing.T) {
	c := New()
	c.DhcpPools["lan"] = &DhcpPool{Name: "lan", Subnet: netip.MustParsePrefix("192.168.1.0/24")}
	c.DhcpPools["guest"] = &DhcpPool{Name: "guest", Subnet: netip.MustParsePrefix("192.168.2.0/24")}
	c.DhcpPools["empty"] = &DhcpPool{Name: "empty"}
	c.DhcpPools["idle"] = &DhcpPool{Name: "idle", Subnet: netip.MustParsePrefix("192.168.3.0/24")}
	c.Interfaces["Gig2"] = &Interface{Name: "Gig2", DhcpPool: "lan"}
	c.Interfaces["Gig1"] = &Interface{Name: "Gig1", DhcpPool: "lan"}
	c.Interfaces["Gig3"] = &Interface{Name: "Gig3", DhcpPool: "guest"}
	c.Interfaces["Gig4"] = &Interface{Name: "Gig4", DhcpPool: "empty"}

	svc := c.DhcpServices()
	if len(svc) != 2 {
		t.Fatalf("services = %+v", svc)
	}
	if svc[0].Pool.Name != "guest" || svc[1].Pool.Name != "lan" {
		t.Errorf("order = %s, %s", svc[0].Pool.Name, svc[1].Pool.Name)
	}
	if !reflect.DeepEqual(svc[1].Interfaces, []string{"Gig1", "Gig2"}) {
		t.Errorf("lan interfaces = %v", svc[1].Interfaces)
	}
	svc[1].Pool.Ranges = append(svc[1].Pool.Ranges, DhcpRange{})
	if len(c.DhcpPools["lan"].Ranges) != 0 {
		t.Error("service shares the pool's ranges")
	}
}

func TestGuessType(t *testing.T) {
	tests := map[string]IfType{
		"lo":        Loopback,
		"loopback0": Loopback,
		"dummy3":    Dummy,
		"wlan0":     WirelessWifi,
		"wlp2s0":    WirelessWifi,
		"wwan0":     WirelessCell,
		"wwp0s20":   WirelessCell,
		"eth0.100":  VlanIf,
		"eth0":      Ethernet,
		"enp0s3":    Ethernet,
	}
	for name, want := range tests {
		if got := GuessType(name); got != want {
			t.Errorf("GuessType(%q) = %s, want %s", name, got, want)
		}
	}
}
