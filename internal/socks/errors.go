package socks

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is; the underlying cause, if
// any, stays in the chain.
var (
	ErrInvalidURI           = errors.New("invalid proxy uri")
	ErrInvalidTarget        = errors.New("invalid target address")
	ErrUnsupportedVersion   = errors.New("unsupported socks version")
	ErrAuthNotAllowed       = errors.New("authentication not supported by socks4")
	ErrTransport            = errors.New("proxy transport failed")
	ErrProtocolMismatch     = errors.New("unexpected socks version in reply")
	ErrMethodRejected       = errors.New("no acceptable authentication method")
	ErrAuthenticationFailed = errors.New("socks authentication failed")
	ErrConnectRejected      = errors.New("connect rejected by proxy")
	ErrMalformedReply       = errors.New("malformed socks reply")
	ErrCancelled            = errors.New("connect cancelled")
)

// ReplyError is a CONNECT request the proxy answered with a non-success
// status. It matches ErrConnectRejected.
type ReplyError struct {
	Version int
	Code    byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks%d: %s (0x%02x)", e.Version, replyText(e.Version, e.Code), e.Code)
}

func (e *ReplyError) Is(target error) bool {
	return target == ErrConnectRejected
}

func replyText(version int, code byte) string {
	if version == 4 {
		switch code {
		case Reply4Rejected:
			return "request rejected or failed"
		case Reply4IdentdUnreachable:
			return "identd unreachable"
		case Reply4IdentdMismatch:
			return "identd user mismatch"
		}
		return "unknown status"
	}

	switch code {
	case ReplyGeneralFailure:
		return "general server failure"
	case ReplyNotAllowed:
		return "connection not allowed by ruleset"
	case ReplyNetworkUnreachable:
		return "network unreachable"
	case ReplyHostUnreachable:
		return "host unreachable"
	case ReplyConnectionRefused:
		return "connection refused"
	case ReplyTTLExpired:
		return "TTL expired"
	case ReplyCommandNotSupported:
		return "command not supported"
	case ReplyAddressNotSupported:
		return "address type not supported"
	}
	return "unknown status"
}
