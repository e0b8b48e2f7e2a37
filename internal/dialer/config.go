package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect for each outbound
	// connection.
	DialTimeout time.Duration

	// NegotiationTimeout bounds TLS, HTTP CONNECT and SSH handshakes.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Mark is the SO_MARK (fwmark) applied to outbound sockets. Zero leaves
	// it unset. Linux only.
	Mark int

	SSHKeyPath        string
	SSHKnownHostsPath string

	// SSHAgentSocket is used when SSHKeyPath is "agent". Empty means
	// $SSH_AUTH_SOCK.
	SSHAgentSocket string

	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
