package logging

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name string
		want Severity
	}{
		{"error", SeverityError},
		{"ERR", SeverityError},
		{"warning", SeverityWarning},
		{"warn", SeverityWarning},
		{"info", SeverityInfo},
		{"debug", SeverityDebug},
		{"unknown", SeverityAll},
		{"", SeverityAll},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.name); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestShouldSend(t *testing.T) {
	tests := []struct {
		min  Severity
		want [3]bool // error, warning, info
	}{
		{SeverityAll, [3]bool{true, true, true}},
		{SeverityError, [3]bool{true, false, false}},
		{SeverityWarning, [3]bool{true, true, false}},
		{SeverityInfo, [3]bool{true, true, true}},
	}
	for _, tt := range tests {
		c := &SyslogClient{MinSeverity: tt.min}
		got := [3]bool{c.ShouldSend(SeverityError), c.ShouldSend(SeverityWarning), c.ShouldSend(SeverityInfo)}
		if got != tt.want {
			t.Errorf("MinSeverity %s: got %v, want %v", tt.min, got, tt.want)
		}
	}
}

func TestFrame(t *testing.T) {
	c := &SyslogClient{Facility: FacilityLocal0, hostname: "edge1", procID: "42"}
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	got := string(c.frame(SeverityWarning, ts, "interface Gig1 down"))
	want := "<132>1 2026-03-01T08:30:00Z edge1 routershell 42 - - interface Gig1 down"
	if got != want {
		t.Errorf("frame = %q\nwant    %q", got, want)
	}

	c.Facility = 3 // daemon
	if got := string(c.frame(SeverityError, ts, "x")); !strings.HasPrefix(got, "<27>1 ") {
		t.Errorf("daemon facility = %q", got)
	}
}

// listenSyslog starts a UDP listener and returns its address and a reader.
func listenSyslog(t *testing.T) (string, func() string) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	read := func() string {
		t.Helper()
		buf := make([]byte, 4096)
		pc.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatal(err)
		}
		return string(buf[:n])
	}
	return pc.LocalAddr().String(), read
}

func TestSyslogSendReceive(t *testing.T) {
	addr, read := listenSyslog(t)
	client, err := NewSyslogClient(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Send(SeverityWarning, "test message"); err != nil {
		t.Fatal(err)
	}
	got := read()
	if !strings.HasPrefix(got, "<132>1 ") {
		t.Errorf("unexpected header: %q", got)
	}
	if !strings.Contains(got, " routershell ") || !strings.HasSuffix(got, " - - test message") {
		t.Errorf("message not framed: %q", got)
	}
}

func TestSyslogSendAfterClose(t *testing.T) {
	addr, read := listenSyslog(t)
	client, err := NewSyslogClient(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.conn.Close()
	if err := client.Send(SeverityInfo, "after redial"); err != nil {
		t.Fatal(err)
	}
	if got := read(); !strings.HasSuffix(got, "after redial") {
		t.Errorf("got %q", got)
	}
}

func TestNewSyslogClientDefaultPort(t *testing.T) {
	c, err := NewSyslogClient("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got := c.conn.RemoteAddr().String(); got != "127.0.0.1:514" {
		t.Errorf("remote = %s", got)
	}
}
