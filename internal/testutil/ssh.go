package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHServer is a loopback SSH server that only accepts "direct-tcpip"
// channels, dialing each requested destination and relaying bytes.
type SSHServer struct {
	ln      net.Listener
	hostKey ssh.Signer

	mu      sync.Mutex
	handled int
}

type directTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// GenerateKey returns a fresh Ed25519 signer.
func GenerateKey(t *testing.T) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// StartSSHServer accepts password logins for username/password until ctx is
// done or the test ends.
func StartSSHServer(t *testing.T, ctx context.Context, username, password string) *SSHServer {
	t.Helper()

	s := &SSHServer{hostKey: GenerateKey(t)}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != username || string(pass) != password {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(s.hostKey)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.ln = ln
	t.Cleanup(func() { _ = ln.Close() })
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(ctx, c, cfg)
		}
	}()

	return s
}

// Addr returns the server's listen address.
func (s *SSHServer) Addr() net.Addr {
	return s.ln.Addr()
}

// HostKey returns the server's public host key.
func (s *SSHServer) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Channels returns how many direct-tcpip channels have been opened.
func (s *SSHServer) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled
}

func (s *SSHServer) handleConn(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	stop := context.AfterFunc(ctx, func() { _ = sshConn.Close() })
	defer stop()

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}

		var p directTCPIPPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &p); err != nil {
			_ = newChan.Reject(ssh.Prohibited, "bad direct-tcpip payload")
			continue
		}

		d := net.Dialer{}
		dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, fmt.Sprint(p.Port)))
		if err != nil {
			_ = newChan.Reject(ssh.ConnectionFailed, "dial failed")
			continue
		}

		ch, chReqs, err := newChan.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)

		s.mu.Lock()
		s.handled++
		s.mu.Unlock()

		go func() {
			defer ch.Close()
			defer dst.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				_, err := io.Copy(dst, ch)
				closeWrite(dst)
				return err
			})
			g.Go(func() error {
				_, err := io.Copy(ch, dst)
				_ = ch.CloseWrite()
				return err
			})
			_ = g.Wait()
		}()
	}
}
