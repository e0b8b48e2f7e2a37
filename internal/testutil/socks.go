package testutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// SOCKS5Script describes how ServeSOCKS5 answers a client.
type SOCKS5Script struct {
	// RejectMethods answers the greeting with 0xFF.
	RejectMethods bool

	// Username and Password, when set, require username/password
	// authentication with exactly these credentials.
	Username string
	Password string

	// Rep is the CONNECT reply code; zero is success.
	Rep byte

	// Bound is the host:port carried in the reply. Empty means 0.0.0.0:0.
	Bound string

	// Trailer is written in the same Write as the reply, as if the
	// destination had already sent data.
	Trailer []byte
}

// ServeSOCKS5 plays the server side of one SOCKS5 handshake on conn and
// returns the client's CONNECT request.
func ServeSOCKS5(conn net.Conn, s SOCKS5Script) (*txsocks5.Request, error) {
	req, err := NegotiateSOCKS5(conn, s)
	if err != nil {
		return req, err
	}

	bound := s.Bound
	if bound == "" {
		bound = "0.0.0.0:0"
	}
	rep, err := newReply(s.Rep, bound)
	if err != nil {
		return req, err
	}

	var buf bytes.Buffer
	if _, err := rep.WriteTo(&buf); err != nil {
		return req, err
	}
	buf.Write(s.Trailer)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return req, fmt.Errorf("write reply: %w", err)
	}
	return req, nil
}

// NegotiateSOCKS5 runs method selection and authentication and reads the
// CONNECT request, leaving the reply to the caller.
func NegotiateSOCKS5(conn net.Conn, s SOCKS5Script) (*txsocks5.Request, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("negotiation request: %w", err)
	}

	switch {
	case s.RejectMethods:
		writeNoAcceptableMethods(conn)
		return nil, errors.New("methods rejected by script")
	case s.Username != "":
		if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
			writeNoAcceptableMethods(conn)
			return nil, errors.New("client does not support username/password")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("negotiation reply: %w", err)
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return nil, fmt.Errorf("read userpass: %w", err)
		}
		if string(urq.Uname) != s.Username || string(urq.Passwd) != s.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return nil, errors.New("auth failed")
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("write userpass: %w", err)
		}
	default:
		if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
			writeNoAcceptableMethods(conn)
			return nil, errors.New("client does not support no-auth")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("negotiation reply: %w", err)
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		_, _ = newZeroAddrReply(txsocks5.RepCommandNotSupported).WriteTo(conn)
		return nil, fmt.Errorf("unexpected command: %d", req.Cmd)
	}
	return req, nil
}

// SOCKS4Request is a decoded SOCKS4 or SOCKS4a CONNECT request.
type SOCKS4Request struct {
	Host   string
	Port   uint16
	UserID string
}

func (r SOCKS4Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// ServeSOCKS4 plays the server side of one SOCKS4/4a handshake on conn,
// answering with status.
func ServeSOCKS4(conn net.Conn, status byte) (SOCKS4Request, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return SOCKS4Request{}, fmt.Errorf("socks4 header: %w", err)
	}
	if hdr[0] != 0x04 || hdr[1] != 0x01 {
		return SOCKS4Request{}, fmt.Errorf("unexpected socks4 header %x", hdr[:2])
	}

	req := SOCKS4Request{Port: binary.BigEndian.Uint16(hdr[2:4])}
	var err error
	if req.UserID, err = readNulString(conn); err != nil {
		return req, err
	}

	ip := hdr[4:8]
	if ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		if req.Host, err = readNulString(conn); err != nil {
			return req, err
		}
	} else {
		req.Host = net.IP(ip).String()
	}

	if _, err := conn.Write([]byte{0x00, status, 0, 0, 0, 0, 0, 0}); err != nil {
		return req, fmt.Errorf("write socks4 reply: %w", err)
	}
	return req, nil
}

func readNulString(r io.Reader) (string, error) {
	var (
		s []byte
		b [1]byte
	)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(s), nil
		}
		s = append(s, b[0])
	}
}

func newReply(rep byte, bound string) (*txsocks5.Reply, error) {
	a, addr, port, err := txsocks5.ParseAddress(bound)
	if err != nil {
		return nil, fmt.Errorf("parse bound address %q: %w", bound, err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	return txsocks5.NewReply(rep, a, addr, port), nil
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(conn net.Conn) {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
}
