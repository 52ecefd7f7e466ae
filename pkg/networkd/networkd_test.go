package networkd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/psaab/routershell/pkg/config"
)

func newTestManager(t *testing.T) (*Manager, *int) {
	t.Helper()
	m := New(t.TempDir())
	reloads := 0
	m.reload = func() error {
		reloads++
		return nil
	}
	return m, &reloads
}

func TestGenerateLink(t *testing.T) {
	got := generateLink(config.Rename{BusInfo: "0000:00:03.0", Alias: "Gig0", Original: "enp0s3"})
	if !strings.Contains(got, "[Match]\nPath=pci-0000:00:03.0\n") {
		t.Errorf("missing Path match in:\n%s", got)
	}
	if !strings.Contains(got, "[Link]\nName=Gig0\n") {
		t.Errorf("missing Name in:\n%s", got)
	}
	if !strings.Contains(got, "Description=renamed from enp0s3\n") {
		t.Error("missing Description")
	}
}

func TestDevicePath(t *testing.T) {
	tests := []struct{ bus, want string }{
		{"0000:00:03.0", "pci-0000:00:03.0"},
		{"usb1-1.2", "*usb1-1.2"},
	}
	for _, tt := range tests {
		if got := devicePath(tt.bus); got != tt.want {
			t.Errorf("devicePath(%q) = %q, want %q", tt.bus, got, tt.want)
		}
	}
}

func TestAddAndRemove(t *testing.T) {
	m, reloads := newTestManager(t)
	r := config.Rename{BusInfo: "0000:00:03.0", Alias: "Gig0"}
	if err := m.Add(r); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(m.LinkFile("Gig0")); err != nil {
		t.Fatalf("link file: %v", err)
	}
	// unchanged content does not reload
	if err := m.Add(r); err != nil {
		t.Fatal(err)
	}
	if *reloads != 1 {
		t.Errorf("reloads = %d, want 1", *reloads)
	}
	if err := m.Remove("Gig0"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(m.LinkFile("Gig0")); !os.IsNotExist(err) {
		t.Error("link file not removed")
	}
	if err := m.Remove("Gig0"); err != nil {
		t.Errorf("removing twice: %v", err)
	}
	if *reloads != 2 {
		t.Errorf("reloads = %d, want 2", *reloads)
	}
}

func TestClearKeepsUnmanaged(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Add(config.Rename{BusInfo: "0000:00:03.0", Alias: "Gig0"}); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(m.networkDir, "99-default.link")
	if err := os.WriteFile(other, []byte("[Match]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(m.LinkFile("Gig0")); !os.IsNotExist(err) {
		t.Error("managed link file not removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unmanaged file removed: %v", err)
	}
}
