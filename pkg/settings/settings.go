// Package settings loads the shell settings file and environment.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// RootEnv names the project root directory.
const RootEnv = "ROUTERSHELL_ROOT"

// DefaultRoot is used when neither the flag nor the environment names a root.
const DefaultRoot = "/var/lib/routershell"

// Duration is a time.Duration written as a string ("8s") in the file.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Settings is the decoded settings file.
type Settings struct {
	Shell    Shell    `toml:"shell"`
	Store    Store    `toml:"store"`
	Executor Executor `toml:"executor"`
	Dhcp     Dhcp     `toml:"dhcp"`
	Wireless Wireless `toml:"wireless"`
	Networkd Networkd `toml:"networkd"`
	Log      Log      `toml:"log"`
	API      API      `toml:"api"`

	// Root is the project root every relative path is resolved against.
	Root string `toml:"-"`
	// File is the settings file that was read, empty when defaults apply.
	File string `toml:"-"`
}

type Shell struct {
	Hostname    string `toml:"hostname" validate:"required,hostname"`
	HistoryFile string `toml:"history_file"`
	Banner      string `toml:"banner"`
}

type Store struct {
	Path string `toml:"path" validate:"required"`
}

type Executor struct {
	Timeout Duration `toml:"timeout" validate:"timeout"`
	DryRun  bool     `toml:"dry_run"`
}

type Dhcp struct {
	Backend   string `toml:"backend" validate:"required,oneof=kea dnsmasq"`
	ConfigDir string `toml:"config_dir"`
	RadvdConf string `toml:"radvd_conf"`
	StateDir  string `toml:"state_dir"`
}

type Wireless struct {
	ConfigDir string `toml:"config_dir"`
}

type Networkd struct {
	Dir string `toml:"dir"`
}

type Log struct {
	Level      string            `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File       string            `toml:"file"`
	Syslog     string            `toml:"syslog" validate:"omitempty,hostname_port|hostname_rfc1123|ip"`
	SyslogMin  string            `toml:"syslog_severity" validate:"omitempty,oneof=error warning info debug"`
	Components map[string]string `toml:"components" validate:"dive,oneof=debug info warn warning error"`
}

type API struct {
	MetricsAddr string `toml:"metrics_addr" validate:"omitempty,hostname_port"`
	GrpcAddr    string `toml:"grpc_addr" validate:"omitempty,hostname_port"`
}

// Default returns the settings used when no file exists.
func Default(root string) *Settings {
	return &Settings{
		Root:     root,
		Shell:    Shell{Hostname: "Router", HistoryFile: "data/history"},
		Store:    Store{Path: "data/routershell.db"},
		Executor: Executor{Timeout: Duration(8 * time.Second)},
		Dhcp:     Dhcp{Backend: "kea", StateDir: "data/dhcp-client"},
		Log:      Log{Level: "info", File: "log/routershell.log"},
	}
}

// ResolveRoot picks the project root: the flag value, then the
// environment (after reading .env from the working directory), then
// DefaultRoot.
func ResolveRoot(flag string) string {
	if flag != "" {
		return flag
	}
	// a missing .env is normal
	_ = godotenv.Load()
	if env := os.Getenv(RootEnv); env != "" {
		return env
	}
	return DefaultRoot
}

// DefaultFile returns the settings file location under root.
func DefaultFile(root string) string {
	return filepath.Join(root, "config", "routershell.toml")
}

// Load reads file (DefaultFile(root) when empty) over the defaults and
// validates the result. A missing file yields the defaults.
func Load(root, file string) (*Settings, error) {
	if file == "" {
		file = DefaultFile(root)
	}
	s := Default(root)
	content, err := os.ReadFile(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := decode(content, s); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		s.File = file
	}
	s.resolvePaths()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decode(content []byte, s *Settings) error {
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	err := dec.Decode(s)
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return fmt.Errorf("line %d, column %d: %s", row, col, derr.Error())
	}
	var serr *toml.StrictMissingError
	if errors.As(err, &serr) {
		return fmt.Errorf("unknown key:\n%s", serr.String())
	}
	return err
}

// resolvePaths anchors relative paths at the root.
func (s *Settings) resolvePaths() {
	for _, p := range []*string{
		&s.Shell.HistoryFile, &s.Store.Path, &s.Log.File,
		&s.Dhcp.ConfigDir, &s.Dhcp.RadvdConf, &s.Dhcp.StateDir, &s.Wireless.ConfigDir, &s.Networkd.Dir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(s.Root, *p)
		}
	}
}

// Timeout returns the executor timeout.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.Executor.Timeout)
}

// Encode renders the settings as TOML.
func (s *Settings) Encode() (string, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
