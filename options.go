package socksclient

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger logs session progress to log. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithResolver resolves target host names locally and sends the proxy an
// address instead of a name. SOCKS4 proxies then receive an IPv4 address
// instead of a SOCKS4a host name.
func WithResolver(r Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithNegotiationTimeout bounds the SOCKS handshake once the connection to
// the proxy exists.
func WithNegotiationTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.negotiationTimeout = d
	}
}
