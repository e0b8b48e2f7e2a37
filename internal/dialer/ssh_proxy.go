package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/socksclient/internal/ssh"
)

// SSHProxyDialer reaches the SOCKS proxy through an SSH server.
//
// It maintains (at most) a single shared SSH transport connection (an
// *ssh.Client) per dialer instance and multiplexes many proxied TCP
// connections over it by opening one "direct-tcpip" channel per DialContext
// call.
//
// Lifecycle notes:
//   - The SSH transport is created lazily on the first DialContext call.
//   - Each DialContext call returns a net.Conn representing a single SSH channel.
//   - If opening a channel fails at the transport level, the dialer discards
//     the shared client, reconnects once, and retries the channel dial.
type SSHProxyDialer struct {
	sshAddr   string
	sshConfig internalssh.ClientConfig
	direct    Dialer
	log       *zap.Logger

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHProxyDialer constructs a dialer that forwards connections via an SSH
// server at sshAddr.
//
// Authentication can use password, private key (or SSH agent, with
// cfg.SSHKeyPath set to "agent"), or both. If both are provided, both methods
// are offered to the server.
//
// Host key checking uses cfg.SSHKnownHostsPath with trust on first use. If
// empty, host key checking is disabled.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}

	agentSocket := cfg.SSHAgentSocket
	if agentSocket == "" {
		agentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	keyCtx, cancel := context.Background(), context.CancelFunc(func() {})
	if cfg.DialTimeout > 0 {
		keyCtx, cancel = context.WithTimeout(keyCtx, cfg.DialTimeout)
	}
	signers, err := internalssh.LoadSigners(keyCtx, internalssh.KeySource{Path: cfg.SSHKeyPath, AgentSocket: agentSocket})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	sshConfig := internalssh.ClientConfig{
		Username:         username,
		Password:         password,
		Signers:          signers,
		Timeout:          cfg.DialTimeout,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}
	if err := sshConfig.Validate(); err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	log := cfg.logger().With(zap.String("via", "ssh://"+username+"@"+sshAddr))

	sshConfig.HostKeyCallback, err = internalssh.NewHostKeyCallback(cfg.SSHKnownHostsPath, log)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SSHProxyDialer{
		sshAddr:   sshAddr,
		sshConfig: sshConfig,
		direct:    direct,
		log:       log,
	}, nil
}

// DialContext opens a "direct-tcpip" channel to address over the shared SSH
// transport.
func (f *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh upstream dial %s %s: unsupported network", network, address)
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	upConn, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// OpenChannelError means the transport is healthy but the
		// destination is unreachable.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}

		f.log.Debug("ssh transport failed, reconnecting", zap.Error(err))
		f.invalidateClient(client)
		client, err2 := f.getClient(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err2)
		}
		upConn, err = client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}
	}

	return upConn, nil
}

// Close closes the shared SSH transport, if any. Open channels close with it.
func (f *SSHProxyDialer) Close() error {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// getClient returns the shared SSH client, creating it if needed.
//
// Uses singleflight so only one connection attempt runs at a time. Callers
// can bail out early if their context is canceled while the attempt
// continues for other waiters.
func (f *SSHProxyDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := f.sf.DoChan("connect", func() (any, error) {
		f.mu.Lock()
		if f.client != nil {
			c := f.client
			f.mu.Unlock()
			return c, nil
		}
		f.mu.Unlock()

		newClient, err := f.dialSSH(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.client = newClient
		f.mu.Unlock()
		return newClient, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (f *SSHProxyDialer) dialSSH(ctx context.Context) (*ssh.Client, error) {
	conn, err := f.direct.DialContext(ctx, "tcp", f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	client, err := internalssh.NewClient(conn, f.sshConfig, f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	f.log.Debug("ssh transport established")
	return client, nil
}

// invalidateClient discards the cached client if it is still old and closes
// it.
func (f *SSHProxyDialer) invalidateClient(old *ssh.Client) {
	f.mu.Lock()
	if f.client == old {
		f.client = nil
	}
	f.mu.Unlock()
	_ = old.Close()
}
