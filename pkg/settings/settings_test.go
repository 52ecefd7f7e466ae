package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSettings(t *testing.T, content string) (root, file string) {
	t.Helper()
	root = t.TempDir()
	file = DefaultFile(root)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return root, file
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.File != "" {
		t.Errorf("File = %q, want empty", s.File)
	}
	if s.Shell.Hostname != "Router" || s.Dhcp.Backend != "kea" || s.Timeout() != 8*time.Second {
		t.Errorf("defaults = %+v", s)
	}
	if want := filepath.Join(root, "data", "routershell.db"); s.Store.Path != want {
		t.Errorf("store path = %q, want %q", s.Store.Path, want)
	}
	if want := filepath.Join(root, "log", "routershell.log"); s.Log.File != want {
		t.Errorf("log file = %q, want %q", s.Log.File, want)
	}
}

func TestLoadFile(t *testing.T) {
	root, file := writeSettings(t, `
[shell]
hostname = "edge1"
banner = "lab router"

[store]
path = "/srv/routershell/config.db"

[executor]
timeout = "6s"
dry_run = true

[dhcp]
backend = "dnsmasq"
config_dir = "etc/dnsmasq.d"

[log]
level = "debug"
syslog = "192.0.2.10:514"

[log.components]
executor = "debug"
resolver = "warn"

[api]
metrics_addr = ":9100"
`)
	s, err := Load(root, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.File != file {
		t.Errorf("File = %q", s.File)
	}
	if s.Shell.Hostname != "edge1" || s.Shell.Banner != "lab router" {
		t.Errorf("shell = %+v", s.Shell)
	}
	if s.Store.Path != "/srv/routershell/config.db" {
		t.Errorf("absolute store path rewritten: %q", s.Store.Path)
	}
	if s.Timeout() != 6*time.Second || !s.Executor.DryRun {
		t.Errorf("executor = %+v", s.Executor)
	}
	if s.Dhcp.Backend != "dnsmasq" || s.Dhcp.ConfigDir != filepath.Join(root, "etc/dnsmasq.d") {
		t.Errorf("dhcp = %+v", s.Dhcp)
	}
	if s.Log.Components["resolver"] != "warn" || s.API.MetricsAddr != ":9100" {
		t.Errorf("log/api = %+v %+v", s.Log, s.API)
	}
	// untouched keys keep their defaults
	if s.Log.File != filepath.Join(root, "log", "routershell.log") {
		t.Errorf("log file = %q", s.Log.File)
	}
}

func TestLoadDecodeErrorPosition(t *testing.T) {
	root, _ := writeSettings(t, "[shell]\nhostname = \"r1\"\nbanner = \n")
	_, err := Load(root, "")
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("err = %v, want line 3", err)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	root, _ := writeSettings(t, "[shell]\nhostnme = \"r1\"\n")
	if _, err := Load(root, ""); err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Errorf("err = %v", err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"backend", "[dhcp]\nbackend = \"isc\"\n", "dhcp.backend"},
		{"timeout low", "[executor]\ntimeout = \"1s\"\n", "executor.timeout"},
		{"timeout high", "[executor]\ntimeout = \"30s\"\n", "executor.timeout"},
		{"hostname", "[shell]\nhostname = \"bad host\"\n", "shell.hostname"},
		{"component level", "[log.components]\ncli = \"loud\"\n", "log.components[cli]"},
		{"metrics addr", "[api]\nmetrics_addr = \"nope\"\n", "api.metrics_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, _ := writeSettings(t, tt.content)
			_, err := Load(root, "")
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("err = %v, want ValidationErrors", err)
			}
			if len(verrs) != 1 || verrs[0].Key != tt.key {
				t.Errorf("errors = %+v, want key %s", verrs, tt.key)
			}
		})
	}
}

func TestResolveRoot(t *testing.T) {
	t.Setenv(RootEnv, "/from/env")
	if got := ResolveRoot("/from/flag"); got != "/from/flag" {
		t.Errorf("flag ignored: %q", got)
	}
	if got := ResolveRoot(""); got != "/from/env" {
		t.Errorf("env ignored: %q", got)
	}
	t.Setenv(RootEnv, "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(RootEnv+"=/from/dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	os.Unsetenv(RootEnv)
	if got := ResolveRoot(""); got != "/from/dotenv" {
		t.Errorf("dotenv ignored: %q", got)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	s := Default("/tmp/r")
	s.Executor.Timeout = Duration(7 * time.Second)
	out, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "timeout = '7s'") && !strings.Contains(out, `timeout = "7s"`) {
		t.Errorf("encoded:\n%s", out)
	}
	if strings.Contains(out, "/tmp/r") {
		t.Error("root leaked into the file")
	}
}
