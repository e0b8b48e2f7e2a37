// Package relay copies bytes between an established proxied connection and
// a local reader/writer pair such as stdin and stdout.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type closeWriter interface {
	CloseWrite() error
}

// Copy relays conn to w and r to conn until conn's read side ends. When r
// reaches EOF the write side of conn is half-closed (if it supports that)
// and Copy keeps draining conn. Canceling ctx closes conn and returns the
// context's error. conn is always closed on return.
//
// Copy does not wait for a read from r that is still blocked when conn
// ends; r is typically stdin, which cannot be interrupted.
//
// idleTimeout, if positive, is applied as a deadline on conn that is pushed
// forward whenever data moves.
func Copy(ctx context.Context, conn net.Conn, r io.Reader, w io.Writer, idleTimeout time.Duration) error {
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { _ = conn.Close() })
	}
	defer closeConn()

	var c io.ReadWriter = conn
	if idleTimeout > 0 {
		c = &idleConn{Conn: conn, timeout: idleTimeout}
		_ = conn.SetDeadline(time.Now().Add(idleTimeout))
	}

	upload := make(chan error, 1)
	go func() {
		_, err := copyBuffer(c, r)
		if err == nil {
			if cw, ok := conn.(closeWriter); ok {
				err = cw.CloseWrite()
			}
		}
		upload <- err
	}()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		_, err := copyBuffer(w, c)
		return err
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
		}
		closeConn()
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err != nil {
		return err
	}

	select {
	case err := <-upload:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	default:
	}
	return nil
}

type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return n, err
}

func (c *idleConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return n, err
}
