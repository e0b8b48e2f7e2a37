package testutil

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// CountingConn counts Close calls on the wrapped conn.
type CountingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *CountingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// Closes returns how many times Close has been called.
func (c *CountingConn) Closes() int {
	return int(c.closes.Load())
}

// Connector is an in-memory connector. Each Connect returns the client end of
// a net.Pipe wrapped in a CountingConn and runs Serve on the other end.
type Connector struct {
	// Serve plays the proxy. If nil, the proxy end reads and discards
	// everything until the client closes.
	Serve func(net.Conn)

	// Err, if set, is returned instead of a connection.
	Err error

	// Block makes Connect wait for ctx to be canceled and return its error.
	Block bool

	// BeforeReturn runs after the pipe is created and before Connect returns
	// it, e.g. to cancel the caller's context at that exact point.
	BeforeReturn func()

	mu        sync.Mutex
	uris      []string
	conns     []*CountingConn
	cancelled bool
	wg        sync.WaitGroup
}

func (c *Connector) Connect(ctx context.Context, uri string) (net.Conn, error) {
	c.mu.Lock()
	c.uris = append(c.uris, uri)
	c.mu.Unlock()

	if c.Block {
		<-ctx.Done()
		c.mu.Lock()
		c.cancelled = true
		c.mu.Unlock()
		return nil, ctx.Err()
	}
	if c.Err != nil {
		return nil, c.Err
	}

	client, server := net.Pipe()
	cc := &CountingConn{Conn: client}

	c.mu.Lock()
	c.conns = append(c.conns, cc)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer server.Close()
		if c.Serve != nil {
			c.Serve(server)
			return
		}
		buf := make([]byte, 512)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	if c.BeforeReturn != nil {
		c.BeforeReturn()
	}
	return cc, nil
}

// Calls returns the URIs Connect was called with.
func (c *Connector) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.uris...)
}

// Conns returns the connections handed out so far.
func (c *Connector) Conns() []*CountingConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*CountingConn(nil), c.conns...)
}

// Cancelled reports whether a blocked Connect observed cancellation.
func (c *Connector) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Wait waits for every Serve goroutine to return.
func (c *Connector) Wait() {
	c.wg.Wait()
}
