package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// ServeOnce listens on a loopback port, accepts a single connection and runs
// handler on it. The returned wait closes the listener and blocks until
// handler has returned; it is also registered as a test cleanup.
func ServeOnce(t *testing.T, ctx context.Context, handler func(net.Conn)) (addr string, wait func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		_ = ln.Close()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	})

	var once sync.Once
	wait = func() {
		once.Do(func() {
			_ = ln.Close()
			wg.Wait()
		})
	}
	t.Cleanup(wait)

	return ln.Addr().String(), wait
}
