package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type directDialer struct {
	cfg Config
	nd  net.Dialer
}

// NewDirectDialer returns a Dialer that connects straight to the address it
// is given.
func NewDirectDialer(cfg Config) (Dialer, error) {
	if cfg.Mark != 0 && !MarkSupported {
		return nil, errors.New("direct dialer: fwmark is not supported on this platform")
	}

	return &directDialer{
		cfg: cfg,
		nd: net.Dialer{
			Timeout: cfg.DialTimeout,
			Control: markControl(cfg.Mark),
		},
	}, nil
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := f.nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}
