// Package logging builds the process slog handler: a text handler writing
// to the log file or stderr, per-component level overrides and optional
// forwarding to a remote syslog server.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ComponentKey is the attribute that selects a component's level.
const ComponentKey = "component"

// For returns the default logger tagged with component.
func For(component string) *slog.Logger {
	return slog.Default().With(ComponentKey, component)
}

// ParseLevel converts a level name to an slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// Levels holds the global level and per-component overrides.
type Levels struct {
	mu         sync.RWMutex
	global     slog.Level
	components map[string]slog.Level
}

// NewLevels creates a level table.
func NewLevels(global slog.Level) *Levels {
	return &Levels{global: global, components: make(map[string]slog.Level)}
}

// Set overrides the level of one component.
func (l *Levels) Set(component string, level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.components[component] = level
}

// SetGlobal changes the level of components without an override.
func (l *Levels) SetGlobal(level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.global = level
}

// For returns the effective level of component.
func (l *Levels) For(component string) slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.components[component]; ok {
		return lvl
	}
	return l.global
}

// sinks are shared by every handler derived from one root.
type sinks struct {
	mu      sync.RWMutex
	clients []*SyslogClient
}

// Handler filters records by component level and forwards them to the
// base handler and the syslog clients.
type Handler struct {
	base      slog.Handler
	levels    *Levels
	sinks     *sinks
	component string
	attrs     []slog.Attr
	groups    []string
}

// NewHandler wraps base. base should accept every level; filtering happens
// here.
func NewHandler(base slog.Handler, levels *Levels) *Handler {
	return &Handler{base: base, levels: levels, sinks: &sinks{}}
}

// SetClients replaces the syslog clients. Old clients are closed.
func (h *Handler) SetClients(clients []*SyslogClient) {
	h.sinks.mu.Lock()
	old := h.sinks.clients
	h.sinks.clients = clients
	h.sinks.mu.Unlock()

	for _, c := range old {
		c.Close()
	}
}

// Close closes all syslog clients.
func (h *Handler) Close() {
	h.SetClients(nil)
}

// Levels returns the level table.
func (h *Handler) Levels() *Levels { return h.levels }

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.levels.For(h.component)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)

	h.sinks.mu.RLock()
	clients := h.sinks.clients
	h.sinks.mu.RUnlock()

	if len(clients) > 0 {
		severity := slogLevelToSyslog(r.Level)
		msg := formatRecord(r, h.attrs, h.groups)
		for _, c := range clients {
			if c.ShouldSend(severity) {
				c.Send(severity, msg)
			}
		}
	}
	return err
}

// WithAttrs implements slog.Handler. A top-level component attribute
// selects the level override.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.base = h.base.WithAttrs(attrs)
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	if len(h.groups) == 0 {
		for _, a := range attrs {
			if a.Key == ComponentKey {
				nh.component = a.Value.String()
			}
		}
	}
	return &nh
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.base = h.base.WithGroup(name)
	nh.groups = append(append([]string{}, h.groups...), name)
	return &nh
}

// slogLevelToSyslog maps slog levels to syslog severity values.
func slogLevelToSyslog(level slog.Level) Severity {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarning
	case level >= slog.LevelInfo:
		return SeverityInfo
	default:
		return SeverityDebug
	}
}

// formatRecord produces a compact text representation of a log record.
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.String())
		return true
	})

	return b.String()
}
