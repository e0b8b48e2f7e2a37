package ssh

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ClientConfig holds configuration for establishing an SSH client connection.
type ClientConfig struct {
	// Username for SSH authentication.
	Username string
	// Password for password authentication (optional if Signers is set).
	Password string
	// Signers for public key authentication (optional if Password is set).
	Signers []ssh.Signer
	// HostKeyCallback verifies the server's host key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
	// Timeout bounds the SSH handshake when HandshakeTimeout is zero.
	Timeout time.Duration
	// HandshakeTimeout is the deadline for the SSH handshake. Zero falls
	// back to Timeout.
	HandshakeTimeout time.Duration
}

// Validate reports configuration that can never authenticate.
func (c *ClientConfig) Validate() error {
	if c.Username == "" {
		return errors.New("missing username")
	}
	if c.Password == "" && len(c.Signers) == 0 {
		return errors.New("missing password or key")
	}
	return nil
}

// AuthMethods returns the ssh.AuthMethod slice for this configuration.
// Public key authentication is offered first if available, followed by password.
func (c *ClientConfig) AuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(c.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(c.Signers...))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods
}

func (c *ClientConfig) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return c.Timeout
}

// NewClient establishes an SSH client connection over the given net.Conn.
//
// The addr parameter is used for host key verification and should match the
// server's address.
//
// On error, conn is closed.
func NewClient(conn net.Conn, cfg ClientConfig, addr string) (*ssh.Client, error) {
	if err := cfg.Validate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh client: %w", err)
	}

	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // Host key checking disabled by config.
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            cfg.AuthMethods(),
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}

	timeout := cfg.handshakeTimeout()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	if timeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return ssh.NewClient(cc, chans, reqs), nil
}
