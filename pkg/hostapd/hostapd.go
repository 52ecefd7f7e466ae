// Package hostapd renders per-interface hostapd configuration and manages
// the hostapd@<interface> service.
package hostapd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/psaab/routershell/pkg/config"
)

// DefaultConfigDir matches the Debian hostapd@.service unit, which reads
// /etc/hostapd/<interface>.conf.
const DefaultConfigDir = "/etc/hostapd"

const baseTemplate = `# Managed by routershell - do not edit
interface={{interface}}
driver=nl80211
ctrl_interface=/run/hostapd
ssid={{ssid}}
utf8_ssid=1
hw_mode={{hw_mode}}
channel={{channel}}
`

var (
	tmplBase   = fasttemplate.New(baseTemplate, "{{", "}}")
	tmplBridge = fasttemplate.New("bridge={{bridge}}\n", "{{", "}}")
)

// Manager writes hostapd configs and drives the per-interface service.
type Manager struct {
	dir       string
	systemctl func(action, unit string) error
}

// New creates a hostapd manager. An empty dir selects DefaultConfigDir.
func New(dir string) *Manager {
	if dir == "" {
		dir = DefaultConfigDir
	}
	return &Manager{dir: dir, systemctl: systemctl}
}

func systemctl(action, unit string) error {
	out, err := exec.Command("systemctl", action, unit).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ConfigPath returns the config file of an interface.
func (m *Manager) ConfigPath(iface string) string {
	return filepath.Join(m.dir, iface+".conf")
}

func unit(iface string) string {
	return "hostapd@" + iface + ".service"
}

// Apply starts an access point on iface with ws, or stops it when ws is nil.
func (m *Manager) Apply(iface string, ws *config.WifiSettings) error {
	if ws == nil {
		return m.Stop(iface)
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", m.dir, err)
	}
	// the file holds the passphrase
	if err := os.WriteFile(m.ConfigPath(iface), []byte(Render(ws)), 0600); err != nil {
		return fmt.Errorf("write hostapd config: %w", err)
	}
	if err := m.systemctl("restart", unit(iface)); err != nil {
		return fmt.Errorf("restart %s: %w", unit(iface), err)
	}
	slog.Info("access point configured", "interface", iface, "ssid", ws.SSID, "wpa", ws.WpaMode)
	return nil
}

// Stop stops the access point of iface and removes its config.
func (m *Manager) Stop(iface string) error {
	if _, err := os.Stat(m.ConfigPath(iface)); os.IsNotExist(err) {
		return nil
	}
	if err := m.systemctl("stop", unit(iface)); err != nil {
		slog.Debug("service stop failed", "service", unit(iface), "err", err)
	}
	if err := os.Remove(m.ConfigPath(iface)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove hostapd config: %w", err)
	}
	return nil
}

// hwMode maps a CLI hardware mode to hostapd's hw_mode and extra lines.
func hwMode(mode string) (string, []string) {
	switch mode {
	case "a", "b", "g", "ad", "any":
		if mode == "a" {
			return mode, []string{"ieee80211n=1", "ieee80211ac=1"}
		}
		if mode == "g" {
			return mode, []string{"ieee80211n=1"}
		}
		return mode, nil
	case "ax":
		return "a", []string{"ieee80211n=1", "ieee80211ac=1", "ieee80211ax=1"}
	}
	return config.DefaultHwMode, nil
}

func defaultChannel(hw string) int {
	if hw == "a" {
		return 36
	}
	return 6
}

// security returns the hostapd lines of a WPA mode.
func security(mode, passphrase string) []string {
	switch mode {
	case "WPA":
		return []string{"wpa=1", "wpa_key_mgmt=WPA-PSK", "wpa_pairwise=TKIP CCMP", "wpa_passphrase=" + passphrase}
	case "WPA3":
		return []string{"wpa=2", "wpa_key_mgmt=SAE", "rsn_pairwise=CCMP", "ieee80211w=2", "sae_password=" + passphrase}
	}
	return []string{"wpa=2", "wpa_key_mgmt=WPA-PSK", "rsn_pairwise=CCMP", "wpa_passphrase=" + passphrase}
}

// Render produces the hostapd configuration of ws.
func Render(ws *config.WifiSettings) string {
	hw, extra := hwMode(ws.HwMode)
	channel := ws.Channel
	if channel == 0 {
		channel = defaultChannel(hw)
	}
	var b strings.Builder
	b.WriteString(tmplBase.ExecuteString(map[string]any{
		"interface": ws.Interface,
		"ssid":      ws.SSID,
		"hw_mode":   hw,
		"channel":   strconv.Itoa(channel),
	}))
	if ws.Bridge != "" {
		b.WriteString(tmplBridge.ExecuteString(map[string]any{"bridge": ws.Bridge}))
	}
	for _, l := range extra {
		b.WriteString(l + "\n")
	}
	for _, l := range security(ws.WpaMode, ws.Passphrase) {
		b.WriteString(l + "\n")
	}
	return b.String()
}
