package socks

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	Version5 = 0x05

	CmdConnect = txsocks5.CmdConnect

	MethodNoAuth       = txsocks5.MethodNone
	MethodUserPass     = txsocks5.MethodUsernamePassword
	MethodNoAcceptable = 0xff

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	// MethodSelectionLen and UserPassReplyLen are the sizes of the two
	// fixed-length SOCKS5 negotiation replies.
	MethodSelectionLen = 2
	UserPassReplyLen   = 2

	// ReplyPrefixLen is how much of a CONNECT reply must be read before its
	// total length is known. Every valid reply is at least this long.
	ReplyPrefixLen = 5
)

// SOCKS5 reply codes (RFC 1928 section 6).
const (
	ReplySucceeded           = txsocks5.RepSuccess
	ReplyGeneralFailure      = 0x01
	ReplyNotAllowed          = 0x02
	ReplyNetworkUnreachable  = 0x03
	ReplyHostUnreachable     = txsocks5.RepHostUnreachable
	ReplyConnectionRefused   = txsocks5.RepConnectionRefused
	ReplyTTLExpired          = 0x06
	ReplyCommandNotSupported = txsocks5.RepCommandNotSupported
	ReplyAddressNotSupported = 0x08
)

func frame(m io.WriterTo) []byte {
	var buf bytes.Buffer
	_, _ = m.WriteTo(&buf)
	return buf.Bytes()
}

// Greeting builds the version identifier/method selection message. No
// authentication is always offered; username/password is added when the
// client has credentials.
func Greeting(withPassword bool) []byte {
	methods := []byte{MethodNoAuth}
	if withPassword {
		methods = append(methods, MethodUserPass)
	}
	return frame(txsocks5.NewNegotiationRequest(methods))
}

// ParseMethodSelection validates the server's method choice. A method the
// client did not offer is treated the same as 0xFF.
func ParseMethodSelection(b []byte, withPassword bool) (byte, error) {
	if len(b) != MethodSelectionLen {
		return 0, fmt.Errorf("%w: method selection is %d bytes", ErrMalformedReply, len(b))
	}
	if b[0] != Version5 {
		return 0, fmt.Errorf("%w: method selection version 0x%02x", ErrProtocolMismatch, b[0])
	}

	switch method := b[1]; method {
	case MethodNoAuth:
		return method, nil
	case MethodUserPass:
		if !withPassword {
			return 0, fmt.Errorf("%w: server requires username/password", ErrMethodRejected)
		}
		return method, nil
	case MethodNoAcceptable:
		return 0, ErrMethodRejected
	default:
		return 0, fmt.Errorf("%w: server chose unoffered method 0x%02x", ErrMethodRejected, method)
	}
}

// UserPassRequest builds the RFC 1929 username/password sub-negotiation.
func UserPassRequest(username, password string) ([]byte, error) {
	if username == "" || len(username) > MaxFieldLen {
		return nil, fmt.Errorf("%w: username must be 1-%d bytes", ErrInvalidURI, MaxFieldLen)
	}
	if len(password) > MaxFieldLen {
		return nil, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidURI, MaxFieldLen)
	}
	return frame(txsocks5.NewUserPassNegotiationRequest([]byte(username), []byte(password))), nil
}

// ParseUserPassReply validates the sub-negotiation status. The version byte
// is not checked: servers disagree on whether it echoes 0x01 or 0x05.
func ParseUserPassReply(b []byte) error {
	if len(b) != UserPassReplyLen {
		return fmt.Errorf("%w: auth reply is %d bytes", ErrMalformedReply, len(b))
	}
	if b[1] != txsocks5.UserPassStatusSuccess {
		return fmt.Errorf("%w: status 0x%02x", ErrAuthenticationFailed, b[1])
	}
	return nil
}

// Request5 builds a CONNECT request. IPv4 and IPv6 literals are sent as
// addresses, anything else as a domain name for the proxy to resolve.
func Request5(host string, port uint16) ([]byte, error) {
	if err := ValidateHost(host); err != nil {
		return nil, err
	}

	var (
		atyp byte
		addr []byte
	)
	if ip, ok := parseIP(host); ok {
		if ip.Is4() {
			a := ip.As4()
			atyp, addr = ATYPIPv4, a[:]
		} else {
			a := ip.As16()
			atyp, addr = ATYPIPv6, a[:]
		}
	} else {
		// NewRequest adds the length prefix for domain names.
		atyp, addr = ATYPDomain, []byte(host)
	}

	return frame(txsocks5.NewRequest(CmdConnect, atyp, addr, portBytes(port))), nil
}

// ParseReplyPrefix inspects the first ReplyPrefixLen bytes of a CONNECT reply
// and returns the length of the whole frame:
//
//	+----+-----+-------+------+----------+----------+
//	|VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
//
// A non-zero RSV is malformed. A non-zero REP is returned as a *ReplyError
// without looking at the address.
func ParseReplyPrefix(p []byte) (int, error) {
	if len(p) < ReplyPrefixLen {
		return 0, fmt.Errorf("%w: reply header is %d bytes", ErrMalformedReply, len(p))
	}
	if p[0] != Version5 {
		return 0, fmt.Errorf("%w: reply version 0x%02x", ErrProtocolMismatch, p[0])
	}
	if p[2] != 0x00 {
		return 0, fmt.Errorf("%w: reserved byte 0x%02x", ErrMalformedReply, p[2])
	}
	if p[1] != ReplySucceeded {
		return 0, &ReplyError{Version: 5, Code: p[1]}
	}

	switch p[3] {
	case ATYPIPv4:
		return 4 + 4 + 2, nil
	case ATYPIPv6:
		return 4 + 16 + 2, nil
	case ATYPDomain:
		return 4 + 1 + int(p[4]) + 2, nil
	default:
		return 0, fmt.Errorf("%w: unknown address type 0x%02x", ErrMalformedReply, p[3])
	}
}

// ParseReply5 decodes a complete CONNECT reply and returns the bound address.
func ParseReply5(b []byte) (Addr, error) {
	n, err := ParseReplyPrefix(b)
	if err != nil {
		return Addr{}, err
	}
	if len(b) != n {
		return Addr{}, fmt.Errorf("%w: reply is %d bytes, want %d", ErrMalformedReply, len(b), n)
	}

	var host string
	switch b[3] {
	case ATYPIPv4:
		host = netip.AddrFrom4([4]byte(b[4:8])).String()
	case ATYPIPv6:
		host = netip.AddrFrom16([16]byte(b[4:20])).String()
	default:
		host = string(b[5 : n-2])
	}

	return Addr{Host: host, Port: binary.BigEndian.Uint16(b[n-2:])}, nil
}
