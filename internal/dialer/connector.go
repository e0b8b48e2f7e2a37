package dialer

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/die-net/socksclient/internal/uri"
)

// Connector adapts a Dialer to the connector contract: it is handed the
// proxy address with the target's path, query and fragment appended, and
// dials only the address part.
type Connector struct {
	d   Dialer
	log *zap.Logger
}

// AsConnector wraps d. A nil log discards connector logging.
func AsConnector(d Dialer, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{d: d, log: log}
}

// Connect dials the proxy named by connectorURI over TCP.
func (c *Connector) Connect(ctx context.Context, connectorURI string) (net.Conn, error) {
	addr, hostname, err := uri.SplitConnectorURI(connectorURI)
	if err != nil {
		return nil, err
	}

	c.log.Debug("dialing socks proxy", zap.String("proxy", addr), zap.String("hostname", hostname))

	conn, err := c.d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}
