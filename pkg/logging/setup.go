package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
)

// Options configures the process logger.
type Options struct {
	Level      string            // global level, default info
	File       string            // log file; empty or Stderr writes to stderr
	Stderr     bool              // --debug: log to the terminal
	Syslog     string            // remote syslog host[:port], empty disables
	SyslogMin  string            // minimum severity forwarded to syslog
	Components map[string]string // component -> level
}

// Logger owns the process handler and its outputs.
type Logger struct {
	*Handler
	file *FileWriter
}

// Setup builds the handler described by opts and installs it as the
// slog default.
func Setup(opts Options) (*Logger, error) {
	global, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	levels := NewLevels(global)
	names := make([]string, 0, len(opts.Components))
	for name := range opts.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lvl, err := ParseLevel(opts.Components[name])
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", name, err)
		}
		levels.Set(name, lvl)
	}

	lg := &Logger{}
	var out io.Writer = os.Stderr
	if !opts.Stderr && opts.File != "" {
		fw, err := OpenFile(opts.File, 0, 0)
		if err != nil {
			return nil, err
		}
		lg.file = fw
		out = fw
	}
	base := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
	lg.Handler = NewHandler(base, levels)

	if opts.Syslog != "" {
		c, err := NewSyslogClient(opts.Syslog)
		if err != nil {
			lg.Close()
			return nil, err
		}
		c.MinSeverity = ParseSeverity(opts.SyslogMin)
		lg.SetClients([]*SyslogClient{c})
	}
	slog.SetDefault(slog.New(lg.Handler))
	return lg, nil
}

// Close detaches the syslog clients and closes the log file.
func (l *Logger) Close() error {
	if l.Handler != nil {
		l.Handler.Close()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
