// Package uri parses the two strings a SOCKS client is configured with: the
// proxy URI and the destination the caller wants to reach.
package uri

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/socksclient/internal/socks"
)

// DefaultPort is used when the proxy URI has no port.
const DefaultPort = 1080

// Version selects the SOCKS protocol spoken to the proxy.
type Version int

const (
	// VersionAuto is the "socks://" scheme or a URI without one. It is
	// resolved to SOCKS5 when connecting.
	VersionAuto Version = iota
	Version4
	Version5
)

func (v Version) String() string {
	switch v {
	case Version4:
		return "socks4"
	case Version5:
		return "socks5"
	default:
		return "socks"
	}
}

// Resolve returns the protocol version actually used on the wire.
func (v Version) Resolve() Version {
	if v == VersionAuto {
		return Version5
	}
	return v
}

// Credentials are SOCKS5 username/password credentials.
type Credentials struct {
	Username string
	Password string
}

// ProxyConfig is a parsed proxy URI.
type ProxyConfig struct {
	Version     Version
	Host        string
	Port        uint16
	Credentials Credentials
}

// HasCredentials reports whether username/password authentication should be
// offered.
func (c ProxyConfig) HasCredentials() bool {
	return c.Credentials.Username != ""
}

// Address returns the proxy's host:port.
func (c ProxyConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// String renders the config as a URI with the password redacted.
func (c ProxyConfig) String() string {
	u := url.URL{Scheme: c.Version.String(), Host: c.Address()}
	if c.HasCredentials() {
		u.User = url.UserPassword(c.Credentials.Username, c.Credentials.Password)
	}
	return u.Redacted()
}

// ParseProxy parses a proxy URI of the form
//
//	[socks|socks4|socks5://][user:pass@]host[:port]
//
// Credentials are only accepted for SOCKS5 (or the unversioned "socks"
// scheme, which resolves to SOCKS5); each is limited to 255 bytes.
func ParseProxy(s string) (ProxyConfig, error) {
	raw := s
	if !strings.Contains(s, "://") {
		raw = "socks://" + s
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ProxyConfig{}, fmt.Errorf("%w: %w", socks.ErrInvalidURI, err)
	}

	var cfg ProxyConfig
	switch strings.ToLower(u.Scheme) {
	case "socks":
		cfg.Version = VersionAuto
	case "socks4":
		cfg.Version = Version4
	case "socks5":
		cfg.Version = Version5
	default:
		return ProxyConfig{}, fmt.Errorf("%w: %q", socks.ErrUnsupportedVersion, u.Scheme)
	}

	if u.Opaque != "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return ProxyConfig{}, fmt.Errorf("%w: %q should only have a host and port", socks.ErrInvalidURI, s)
	}

	cfg.Host = u.Hostname()
	if cfg.Host == "" {
		return ProxyConfig{}, fmt.Errorf("%w: missing host in %q", socks.ErrInvalidURI, s)
	}

	cfg.Port = DefaultPort
	if p := u.Port(); p != "" {
		port, err := parsePort(p)
		if err != nil {
			return ProxyConfig{}, fmt.Errorf("%w: %w", socks.ErrInvalidURI, err)
		}
		cfg.Port = port
	}

	if u.User != nil {
		if cfg.Version == Version4 {
			return ProxyConfig{}, socks.ErrAuthNotAllowed
		}

		user := u.User.Username()
		pass, _ := u.User.Password()
		if user == "" {
			return ProxyConfig{}, fmt.Errorf("%w: empty username", socks.ErrInvalidURI)
		}
		if len(user) > socks.MaxFieldLen || len(pass) > socks.MaxFieldLen {
			return ProxyConfig{}, fmt.Errorf("%w: username and password are limited to %d bytes", socks.ErrInvalidURI, socks.MaxFieldLen)
		}
		cfg.Credentials = Credentials{Username: user, Password: pass}
	}

	return cfg, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}
