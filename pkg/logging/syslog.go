package logging

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Severity is a syslog severity. Lower values are more urgent.
type Severity int

// Severities forwarded by the shell. SeverityAll disables filtering.
const (
	SeverityAll     Severity = 0
	SeverityError   Severity = 3
	SeverityWarning Severity = 4
	SeverityInfo    Severity = 6
	SeverityDebug   Severity = 7
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityDebug:
		return "debug"
	case SeverityAll:
		return "all"
	}
	return strconv.Itoa(int(s))
}

// ParseSeverity maps a configured severity name. Unknown names disable
// filtering.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(name) {
	case "error", "err":
		return SeverityError
	case "warning", "warn":
		return SeverityWarning
	case "info":
		return SeverityInfo
	case "debug":
		return SeverityDebug
	}
	return SeverityAll
}

// FacilityLocal0 is the facility used unless the client overrides it.
const FacilityLocal0 = 16

// DefaultSyslogPort is used when the configured address has no port.
const DefaultSyslogPort = "514"

const appName = "routershell"

// SyslogClient forwards log lines to a remote collector over UDP using
// RFC 5424 framing.
type SyslogClient struct {
	Facility    int
	MinSeverity Severity

	mu       sync.Mutex
	addr     string
	conn     net.Conn
	hostname string
	procID   string
	now      func() time.Time
}

// NewSyslogClient dials addr, which is "host" or "host:port".
func NewSyslogClient(addr string) (*SyslogClient, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), DefaultSyslogPort)
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "-"
	}
	return &SyslogClient{
		Facility: FacilityLocal0,
		addr:     addr,
		conn:     conn,
		hostname: host,
		procID:   strconv.Itoa(os.Getpid()),
		now:      time.Now,
	}, nil
}

// ShouldSend reports whether sev passes the client's filter.
func (s *SyslogClient) ShouldSend(sev Severity) bool {
	return s.MinSeverity == SeverityAll || sev <= s.MinSeverity
}

// Send writes one message. A failed write redials once, so a collector
// restart does not silence the client.
func (s *SyslogClient) Send(sev Severity, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := s.frame(sev, s.now(), msg)
	if _, err := s.conn.Write(line); err == nil {
		return nil
	}
	conn, err := net.Dial("udp", s.addr)
	if err != nil {
		return fmt.Errorf("redial syslog %s: %w", s.addr, err)
	}
	s.conn.Close()
	s.conn = conn
	_, err = conn.Write(line)
	return err
}

// frame renders "<PRI>1 TIMESTAMP HOST APP PROCID - - MSG".
func (s *SyslogClient) frame(sev Severity, ts time.Time, msg string) []byte {
	b := make([]byte, 0, 64+len(msg))
	b = append(b, '<')
	b = strconv.AppendInt(b, int64(s.Facility*8+int(sev)), 10)
	b = append(b, ">1 "...)
	b = ts.UTC().AppendFormat(b, time.RFC3339Nano)
	b = append(b, ' ')
	b = append(b, s.hostname...)
	b = append(b, ' ')
	b = append(b, appName...)
	b = append(b, ' ')
	b = append(b, s.procID...)
	b = append(b, " - - "...)
	return append(b, msg...)
}

// Close closes the connection.
func (s *SyslogClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
