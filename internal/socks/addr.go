package socks

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// MaxFieldLen is the longest value a one-byte length prefix can describe. It
// bounds SOCKS5 domain names, usernames and passwords.
const MaxFieldLen = 255

// Addr is a host and port as carried on the wire.
type Addr struct {
	Host string
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// ValidateHost reports whether host can be encoded as a SOCKS destination.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidTarget)
	}
	if len(host) > MaxFieldLen {
		return fmt.Errorf("%w: host is %d bytes, max %d", ErrInvalidTarget, len(host), MaxFieldLen)
	}
	if strings.IndexByte(host, 0) >= 0 {
		return fmt.Errorf("%w: host contains NUL", ErrInvalidTarget)
	}
	return nil
}

// parseIP returns the literal IP address in host, if it is one.
func parseIP(host string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.WithZone(""), true
}

func appendPort(b []byte, port uint16) []byte {
	return binary.BigEndian.AppendUint16(b, port)
}

func portBytes(port uint16) []byte {
	return appendPort(nil, port)
}
