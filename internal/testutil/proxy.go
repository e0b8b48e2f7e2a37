package testutil

import (
	"context"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

// StartSOCKS5Proxy runs a loopback SOCKS5 proxy that authenticates per
// script, dials the requested destination and relays bytes both ways. The
// script's Rep and Bound fields are ignored; the reply reflects the real
// outbound dial.
func StartSOCKS5Proxy(t *testing.T, ctx context.Context, script SOCKS5Script) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_ = relaySOCKS5(ctx, c, script)
			}()
		}
	}()

	return ln
}

func relaySOCKS5(ctx context.Context, c net.Conn, script SOCKS5Script) error {
	req, err := NegotiateSOCKS5(c, script)
	if err != nil {
		return err
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_, _ = newZeroAddrReply(txsocks5.RepHostUnreachable).WriteTo(c)
		return nil
	}
	defer dst.Close()

	rep, err := newReply(txsocks5.RepSuccess, dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if _, err := rep.WriteTo(c); err != nil {
		return err
	}

	g := errgroup.Group{}
	g.Go(func() error {
		_, err := io.Copy(dst, c)
		closeWrite(dst)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(c, dst)
		closeWrite(c)
		return err
	})
	return g.Wait()
}

// closeWrite half-closes TCP connections and fully closes anything else.
func closeWrite(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = c.Close()
}
