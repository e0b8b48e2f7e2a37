package socksclient

import "github.com/die-net/socksclient/internal/socks"

// Error kinds. Every error returned by New, Connect and DialContext matches
// exactly one of these with errors.Is.
var (
	ErrInvalidURI           = socks.ErrInvalidURI
	ErrInvalidTarget        = socks.ErrInvalidTarget
	ErrUnsupportedVersion   = socks.ErrUnsupportedVersion
	ErrAuthNotAllowed       = socks.ErrAuthNotAllowed
	ErrTransport            = socks.ErrTransport
	ErrProtocolMismatch     = socks.ErrProtocolMismatch
	ErrMethodRejected       = socks.ErrMethodRejected
	ErrAuthenticationFailed = socks.ErrAuthenticationFailed
	ErrConnectRejected      = socks.ErrConnectRejected
	ErrMalformedReply       = socks.ErrMalformedReply
	ErrCancelled            = socks.ErrCancelled
)

// ReplyError is a non-success reply to a CONNECT request. It matches
// ErrConnectRejected.
type ReplyError = socks.ReplyError
