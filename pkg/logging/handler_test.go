package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, global slog.Level) (*slog.Logger, *Levels, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	levels := NewLevels(global)
	h := NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), levels)
	return slog.New(h), levels, &buf
}

func TestComponentLevels(t *testing.T) {
	log, levels, buf := newTestLogger(t, slog.LevelInfo)
	levels.Set("executor", slog.LevelDebug)
	levels.Set("resolver", slog.LevelError)

	log.With(ComponentKey, "executor").Debug("step applied")
	log.With(ComponentKey, "resolver").Warn("ignored warning")
	log.With(ComponentKey, "cli").Debug("ignored debug")
	log.With(ComponentKey, "cli").Info("shown info")

	out := buf.String()
	if !strings.Contains(out, "step applied") || !strings.Contains(out, "component=executor") {
		t.Errorf("executor debug missing:\n%s", out)
	}
	if strings.Contains(out, "ignored") {
		t.Errorf("filtered records logged:\n%s", out)
	}
	if !strings.Contains(out, "shown info") {
		t.Errorf("global level not applied:\n%s", out)
	}
}

func TestComponentInGroupIgnored(t *testing.T) {
	log, levels, buf := newTestLogger(t, slog.LevelInfo)
	levels.Set("executor", slog.LevelError)
	log.WithGroup("op").With(ComponentKey, "executor").Info("grouped")
	if !strings.Contains(buf.String(), "grouped") {
		t.Error("grouped component attribute selected a level override")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestHandlerForwardsToSyslog(t *testing.T) {
	addr, read := listenSyslog(t)
	c, err := NewSyslogClient(addr)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	h := NewHandler(slog.NewTextHandler(&buf, nil), NewLevels(slog.LevelInfo))
	h.SetClients([]*SyslogClient{c})
	defer h.Close()

	slog.New(h).With(ComponentKey, "executor").Error("rollback failed", "step", 3)
	got := read()
	if !strings.HasPrefix(got, "<131>") || !strings.Contains(got, "rollback failed component=executor step=3") {
		t.Errorf("syslog line = %q", got)
	}
}

func TestSetupWritesFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "log", "routershell.log")
	lg, err := Setup(Options{Level: "warn", File: path, Components: map[string]string{"configstore": "debug"}})
	if err != nil {
		t.Fatal(err)
	}
	For("configstore").Debug("committed")
	For("cli").Info("dropped")
	lg.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "committed") || strings.Contains(string(data), "dropped") {
		t.Errorf("log file:\n%s", data)
	}
}

func TestSetupRejectsBadLevel(t *testing.T) {
	if _, err := Setup(Options{Components: map[string]string{"cli": "chatty"}}); err == nil {
		t.Error("expected error")
	}
}
