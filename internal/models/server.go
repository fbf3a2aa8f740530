package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ServerType is the role a server plays in the CVMFS distribution tree
type ServerType int

const (
	Stratum0 ServerType = iota
	Stratum1
	SyncServer
)

// String returns the string representation of ServerType
func (t ServerType) String() string {
	switch t {
	case Stratum0:
		return "Stratum0"
	case Stratum1:
		return "Stratum1"
	case SyncServer:
		return "SyncServer"
	default:
		return "Unknown"
	}
}

// ParseServerType parses a server type name, case-insensitively.
// "stratum-1" and "s1" are accepted as well as "stratum1".
func ParseServerType(s string) (ServerType, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "") {
	case "stratum0", "s0":
		return Stratum0, nil
	case "stratum1", "s1":
		return Stratum1, nil
	case "syncserver", "sync":
		return SyncServer, nil
	}
	return 0, NewError(ErrInvalidConfig, "unknown server type %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (t ServerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ServerType) UnmarshalText(b []byte) error {
	v, err := ParseServerType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// BackendType is the storage backend serving a server's repositories
type BackendType int

const (
	// AutoDetect probes repositories.json: a server that answers that it has
	// none is S3. It is only used when asked for explicitly.
	AutoDetect BackendType = iota
	BackendCVMFS
	BackendS3
)

// String returns the string representation of BackendType
func (b BackendType) String() string {
	switch b {
	case AutoDetect:
		return "AutoDetect"
	case BackendCVMFS:
		return "CVMFS"
	case BackendS3:
		return "S3"
	default:
		return "Unknown"
	}
}

// ParseBackendType parses a backend name. The empty string means CVMFS.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "autodetect":
		return AutoDetect, nil
	case "", "cvmfs":
		return BackendCVMFS, nil
	case "s3":
		return BackendS3, nil
	}
	return 0, NewError(ErrInvalidConfig, "unknown backend type %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (b BackendType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *BackendType) UnmarshalText(text []byte) error {
	v, err := ParseBackendType(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Hostname is a server host with an optional port, without scheme or path
type Hostname string

// ParseHostname validates the shape of a hostname.
func ParseHostname(s string) (Hostname, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewError(ErrInvalidConfig, "hostname is empty")
	}
	if strings.Contains(s, "://") || strings.ContainsAny(s, "/ \t?#") {
		return "", NewError(ErrInvalidConfig, "hostname %q must not contain a scheme, path or whitespace", s)
	}

	host := s
	if h, port, err := net.SplitHostPort(s); err == nil {
		p, perr := strconv.Atoi(port)
		if perr != nil || p <= 0 || p > 65535 {
			return "", NewError(ErrInvalidConfig, "hostname %q has an invalid port", s)
		}
		host = h
	}
	if host == "" {
		return "", NewError(ErrInvalidConfig, "hostname %q has no host part", s)
	}
	return Hostname(s), nil
}

// String returns the hostname as a string
func (h Hostname) String() string {
	return string(h)
}

// Server identifies a CVMFS server. It is immutable once built.
type Server struct {
	Type     ServerType
	Backend  BackendType
	Hostname Hostname
	// Scheme defaults to "http", as CVMFS servers are conventionally plain HTTP.
	Scheme string
}

// NewServer creates a server after validating its hostname
func NewServer(serverType ServerType, backend BackendType, hostname string) (Server, error) {
	h, err := ParseHostname(hostname)
	if err != nil {
		return Server{}, err
	}
	return Server{Type: serverType, Backend: backend, Hostname: h, Scheme: "http"}, nil
}

// BaseURL returns the server root URL without a trailing slash
func (s Server) BaseURL() string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Hostname)
}

// String returns a short description of the server
func (s Server) String() string {
	return fmt.Sprintf("%s (%s, %s)", s.Hostname, s.Type, s.Backend)
}
