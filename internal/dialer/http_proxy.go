package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPProxyDialer dials outbound TCP connections via an HTTP or HTTPS proxy
// using the HTTP CONNECT method.
type HTTPProxyDialer struct {
	cfg      Config
	proxyURL *url.URL
	auth     string
	direct   Dialer
	log      *zap.Logger
}

// NewHTTPProxyDialer constructs an HTTP CONNECT dialer for proxyURL.
//
// If username is non-empty, Proxy-Authorization is set using HTTP Basic auth.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil {
		return nil, errors.New("http proxy dialer: missing proxy url")
	}
	if proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" {
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	auth := ""
	if username != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}

	return &HTTPProxyDialer{
		cfg:      cfg,
		proxyURL: proxyURL,
		auth:     auth,
		direct:   direct,
		log:      cfg.logger().With(zap.String("via", proxyURL.Redacted())),
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (f *HTTPProxyDialer) ProxyAddr() string {
	return f.proxyURL.Host
}

// DialContext establishes a TCP connection to address via the configured
// HTTP/HTTPS proxy.
//
// For HTTPS proxies, this performs a TLS handshake to the proxy before sending
// CONNECT. Canceling ctx before the CONNECT response arrives closes the
// connection.
func (f *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	raw := c
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	c, err = f.connect(ctx, c, address)
	if !stop() && err == nil {
		_ = c.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	f.log.Debug("http connect established", zap.String("address", address))
	return c, nil
}

func (f *HTTPProxyDialer) connect(ctx context.Context, c net.Conn, address string) (net.Conn, error) {
	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	if f.proxyURL.Scheme == "https" {
		tlsConn := tls.Client(c, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: f.proxyURL.Hostname()})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("http proxy connect tls handshake: %w", err)
		}
		c = tlsConn
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if f.auth != "" {
		req.Header.Set("Proxy-Authorization", f.auth)
	}

	if err := req.Write(c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect write: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect failed: %s", resp.Status)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}

	// Anything the proxy sent after the response belongs to the tunnel.
	if n := br.Buffered(); n > 0 {
		b, _ := br.Peek(n)
		return &prefixConn{Conn: c, prefix: b}, nil
	}
	return c, nil
}

// prefixConn replays bytes read ahead while parsing the CONNECT response.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
