// Package networkd persists interface renames as systemd .link files so
// aliases survive a reboot.
package networkd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/psaab/routershell/pkg/config"
)

const (
	// DefaultNetworkDir is the systemd-networkd configuration directory.
	DefaultNetworkDir = "/etc/systemd/network"
	// filePrefix distinguishes routershell-managed files from manually created ones.
	filePrefix = "10-routershell-"
)

// Manager handles .link file generation.
type Manager struct {
	networkDir string

	// reload tells udev to re-read .link files.
	reload func() error
}

// New creates a networkd manager. An empty dir selects DefaultNetworkDir.
func New(dir string) *Manager {
	if dir == "" {
		dir = DefaultNetworkDir
	}
	return &Manager{networkDir: dir, reload: udevReload}
}

func udevReload() error {
	return exec.Command("udevadm", "control", "--reload").Run()
}

// LinkFile returns the path of the .link file written for alias.
func (m *Manager) LinkFile(alias string) string {
	return filepath.Join(m.networkDir, filePrefix+alias+".link")
}

// Add writes the .link file of a rename and reloads udev if it changed.
func (m *Manager) Add(r config.Rename) error {
	if err := os.MkdirAll(m.networkDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", m.networkDir, err)
	}
	if !writeIfChanged(m.LinkFile(r.Alias), generateLink(r)) {
		return nil
	}
	if err := m.reload(); err != nil {
		return fmt.Errorf("udev reload: %w", err)
	}
	return nil
}

// Remove deletes the .link file of alias.
func (m *Manager) Remove(alias string) error {
	err := os.Remove(m.LinkFile(alias))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove link file: %w", err)
	}
	slog.Info("removed link file", "alias", alias)
	if err := m.reload(); err != nil {
		return fmt.Errorf("udev reload: %w", err)
	}
	return nil
}

// Clear removes all routershell-managed link files and reloads udev.
func (m *Manager) Clear() error {
	matches, _ := filepath.Glob(filepath.Join(m.networkDir, filePrefix+"*"))
	if len(matches) == 0 {
		return nil
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove link file", "path", path, "err", err)
		}
	}
	if err := m.reload(); err != nil {
		return fmt.Errorf("udev reload: %w", err)
	}
	slog.Info("cleared routershell link files", "removed", len(matches))
	return nil
}

// devicePath converts a PCI bus id to the udev ID_PATH matched by Path=.
func devicePath(bus string) string {
	if strings.Count(bus, ":") == 2 && strings.Contains(bus, ".") {
		return "pci-" + bus
	}
	return "*" + bus
}

func generateLink(r config.Rename) string {
	var b strings.Builder
	b.WriteString("# Managed by routershell - do not edit\n")
	b.WriteString("[Match]\n")
	fmt.Fprintf(&b, "Path=%s\n", devicePath(r.BusInfo))
	b.WriteString("\n[Link]\n")
	fmt.Fprintf(&b, "Name=%s\n", r.Alias)
	if r.Original != "" {
		fmt.Fprintf(&b, "Description=renamed from %s\n", r.Original)
	}
	return b.String()
}

// writeIfChanged writes content to path only if the content differs from
// the existing file. Returns true if the file was written.
func writeIfChanged(path, content string) bool {
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == content {
		return false
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		slog.Warn("failed to write link file", "path", path, "err", err)
		return false
	}

	slog.Info("wrote link file", "path", path)
	return true
}
