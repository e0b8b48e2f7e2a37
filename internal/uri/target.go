package uri

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/socksclient/internal/socks"
)

// Target is the destination requested by the caller.
//
// Path, RawQuery and Fragment are never sent to the proxy. They are handed to
// the connector as routing hints via ConnectorURI.
type Target struct {
	Host string
	Port uint16

	Path     string
	RawQuery string
	Fragment string
}

// Address returns the target's host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// ParseTarget parses host:port, optionally followed by a path, query and
// fragment, with or without a leading tcp:// scheme. The port is required and
// the host must fit in a SOCKS5 domain name field.
func ParseTarget(s string) (Target, error) {
	raw := s
	if !strings.Contains(s, "://") {
		raw = "tcp://" + s
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", socks.ErrInvalidTarget, err)
	}
	if !strings.EqualFold(u.Scheme, "tcp") {
		return Target{}, fmt.Errorf("%w: unsupported scheme %q", socks.ErrInvalidTarget, u.Scheme)
	}
	if u.User != nil {
		return Target{}, fmt.Errorf("%w: userinfo not allowed in %q", socks.ErrInvalidTarget, s)
	}

	t := Target{
		Host:     u.Hostname(),
		Path:     u.EscapedPath(),
		RawQuery: u.RawQuery,
		Fragment: u.EscapedFragment(),
	}
	if err := socks.ValidateHost(t.Host); err != nil {
		return Target{}, fmt.Errorf("%q: %w", s, err)
	}

	p := u.Port()
	if p == "" {
		return Target{}, fmt.Errorf("%w: missing port in %q", socks.ErrInvalidTarget, s)
	}
	if t.Port, err = parsePort(p); err != nil {
		return Target{}, fmt.Errorf("%w: %w", socks.ErrInvalidTarget, err)
	}

	if _, err := url.ParseQuery(t.RawQuery); err != nil {
		return Target{}, fmt.Errorf("%w: query: %w", socks.ErrInvalidTarget, err)
	}

	return t, nil
}

// ConnectorURI returns the address handed to the connector when dialing the
// proxy at proxyAddr: proxyAddr followed by the target's path, its query
// as given with hostname=<target host> appended unless the caller already
// set one, and its fragment.
func (t Target) ConnectorURI(proxyAddr string) string {
	query := t.RawQuery
	if q, _ := url.ParseQuery(query); !q.Has("hostname") {
		if query != "" {
			query += "&"
		}
		query += "hostname=" + url.QueryEscape(t.Host)
	}

	s := proxyAddr + t.Path + "?" + query
	if t.Fragment != "" {
		s += "#" + t.Fragment
	}
	return s
}

// SplitConnectorURI is the inverse of ConnectorURI for connector
// implementations: it returns the host:port to dial and the hostname hint.
func SplitConnectorURI(s string) (address, hostname string, err error) {
	u, err := url.Parse("tcp://" + s)
	if err != nil {
		return "", "", fmt.Errorf("connector uri %q: %w", s, err)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return "", "", fmt.Errorf("connector uri %q: missing host or port", s)
	}
	return u.Host, u.Query().Get("hostname"), nil
}
