package socks

import (
	"fmt"
)

const (
	Version4 = 0x04

	// Reply4Len is the fixed size of a SOCKS4 reply.
	Reply4Len = 8

	Reply4Granted           = 0x5a
	Reply4Rejected          = 0x5b
	Reply4IdentdUnreachable = 0x5c
	Reply4IdentdMismatch    = 0x5d
)

// socks4aMarker is the invalid IP 0.0.0.1 that tells a SOCKS4a server to read
// a host name after the user id.
var socks4aMarker = [4]byte{0, 0, 0, 1}

// Request4 builds a SOCKS4 CONNECT request with an empty user id:
//
//	+----+----+----+----+----+----+----+----+----+----+....+----+
//	| VN | CD | DSTPORT |      DSTIP        | USERID       |NULL|
//	+----+----+----+----+----+----+----+----+----+----+....+----+
//
// Hosts that are not IPv4 literals use the SOCKS4a extension: DSTIP is
// 0.0.0.1 and the NUL-terminated host name follows the user id.
func Request4(host string, port uint16) ([]byte, error) {
	if err := ValidateHost(host); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 9+len(host)+1)
	b = append(b, Version4, CmdConnect)
	b = appendPort(b, port)

	if ip, ok := parseIP(host); ok && ip.Is4() {
		a := ip.As4()
		b = append(b, a[:]...)
		return append(b, 0x00), nil
	}

	b = append(b, socks4aMarker[:]...)
	b = append(b, 0x00)
	b = append(b, host...)
	return append(b, 0x00), nil
}

// ParseReply4 validates an 8-byte SOCKS4 reply. The bound address it carries
// is meaningless for CONNECT and is ignored.
func ParseReply4(b []byte) error {
	if len(b) != Reply4Len {
		return fmt.Errorf("%w: socks4 reply is %d bytes", ErrMalformedReply, len(b))
	}
	if b[0] != 0x00 {
		return fmt.Errorf("%w: socks4 reply version 0x%02x", ErrProtocolMismatch, b[0])
	}
	if b[1] != Reply4Granted {
		return &ReplyError{Version: 4, Code: b[1]}
	}
	return nil
}
