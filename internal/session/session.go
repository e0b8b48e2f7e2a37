// Package session drives one SOCKS CONNECT handshake from connector dial to
// established stream.
//
// A Session owns the raw connection from the moment the connector returns it
// until the handshake succeeds, at which point ownership moves to the caller.
// On failure or cancellation the session closes the connection exactly once
// before returning.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/die-net/socksclient/internal/socks"
	"github.com/die-net/socksclient/internal/uri"
)

// Connector opens the raw stream to the proxy. uri is the proxy's host:port
// followed by the target's path, query and fragment (see
// uri.Target.ConnectorURI).
type Connector interface {
	Connect(ctx context.Context, uri string) (net.Conn, error)
}

// Resolver resolves target host names locally instead of letting the proxy
// do it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// Options tune a session. The zero value is usable.
type Options struct {
	Logger *zap.Logger

	// Resolver, if set, resolves domain targets before dialing the proxy.
	Resolver Resolver

	// NegotiationTimeout bounds the handshake once the connection to the
	// proxy exists. Zero means no deadline beyond ctx.
	NegotiationTimeout time.Duration
}

type Session struct {
	cfg       uri.ProxyConfig
	target    uri.Target
	connector Connector
	opts      Options

	log *zap.Logger
	fsm *fsm.FSM

	conn      net.Conn
	closeOnce sync.Once
}

// New creates a session. It does no I/O.
func New(cfg uri.ProxyConfig, target uri.Target, connector Connector, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(
		zap.String("session", uuid.NewString()),
		zap.Stringer("proxy", cfg),
		zap.String("target", target.Address()),
	)

	return &Session{
		cfg:       cfg,
		target:    target,
		connector: connector,
		opts:      opts,
		log:       log,
		fsm:       newStateMachine(log),
	}
}

// Connect runs a new session.
func Connect(ctx context.Context, cfg uri.ProxyConfig, target uri.Target, connector Connector, opts Options) (net.Conn, error) {
	return New(cfg, target, connector, opts).Connect(ctx)
}

// State returns the current handshake state.
func (s *Session) State() string {
	return s.fsm.Current()
}

// Connect dials the proxy through the connector and performs the handshake.
// It may only be called once.
//
// Canceling ctx at any point closes the held connection (if any) and returns
// an error matching socks.ErrCancelled.
func (s *Session) Connect(ctx context.Context) (net.Conn, error) {
	version := s.cfg.Version.Resolve()

	host, err := s.resolve(ctx, version)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	// Encode up front so an unencodable target never reaches the connector.
	var req []byte
	if version == uri.Version4 {
		req, err = socks.Request4(host, s.target.Port)
	} else {
		req, err = socks.Request5(host, s.target.Port)
	}
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if ctx.Err() != nil {
		return nil, s.cancel(ctx)
	}

	conn, err := s.connector.Connect(ctx, s.target.ConnectorURI(s.cfg.Address()))
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.cancel(ctx)
		}
		return nil, s.fail(ctx, fmt.Errorf("%w: %w", socks.ErrTransport, err))
	}
	s.conn = conn

	// Unblock any read or write in flight when ctx is canceled.
	stop := context.AfterFunc(ctx, s.closeConn)

	if s.opts.NegotiationTimeout > 0 {
		s.setDeadline(time.Now().Add(s.opts.NegotiationTimeout))
	}

	if version == uri.Version4 {
		err = s.handshake4(ctx, req)
	} else {
		err = s.handshake5(ctx, req)
	}

	if !stop() {
		// The AfterFunc has run or is running; closeConn waits for it.
		s.closeConn()
		return nil, s.cancel(ctx)
	}
	if err != nil {
		s.closeConn()
		return nil, s.fail(ctx, err)
	}

	if s.opts.NegotiationTimeout > 0 {
		s.setDeadline(time.Time{})
	}

	s.event(ctx, eventFinish)
	s.log.Debug("socks connect established")
	return conn, nil
}

// setDeadline applies the negotiation deadline. A conn without deadline
// support is still negotiated; only ctx bounds it then.
func (s *Session) setDeadline(t time.Time) {
	if err := s.conn.SetDeadline(t); err != nil {
		s.log.Debug("negotiation deadline not set", zap.Time("deadline", t), zap.Error(err))
	}
}

func (s *Session) handshake4(ctx context.Context, req []byte) error {
	if err := s.write(ctx, req); err != nil {
		return err
	}
	s.event(ctx, eventRequest)

	b, err := s.read(ctx, socks.Reply4Len)
	if err != nil {
		return err
	}
	if err := socks.ParseReply4(b); err != nil {
		return err
	}
	s.event(ctx, eventReply)
	return nil
}

func (s *Session) handshake5(ctx context.Context, req []byte) error {
	withPassword := s.cfg.HasCredentials()

	if err := s.write(ctx, socks.Greeting(withPassword)); err != nil {
		return err
	}
	s.event(ctx, eventGreet)

	b, err := s.read(ctx, socks.MethodSelectionLen)
	if err != nil {
		return err
	}
	method, err := socks.ParseMethodSelection(b, withPassword)
	if err != nil {
		return err
	}
	s.event(ctx, eventChooseMethod)

	if method == socks.MethodUserPass {
		auth, err := socks.UserPassRequest(s.cfg.Credentials.Username, s.cfg.Credentials.Password)
		if err != nil {
			return err
		}
		if err := s.write(ctx, auth); err != nil {
			return err
		}
		s.event(ctx, eventAuthenticate)

		b, err := s.read(ctx, socks.UserPassReplyLen)
		if err != nil {
			return err
		}
		if err := socks.ParseUserPassReply(b); err != nil {
			return err
		}
	}

	if err := s.write(ctx, req); err != nil {
		return err
	}
	s.event(ctx, eventRequest)

	prefix, err := s.read(ctx, socks.ReplyPrefixLen)
	if err != nil {
		return err
	}
	total, err := socks.ParseReplyPrefix(prefix)
	if err != nil {
		return err
	}
	rest, err := s.read(ctx, total-socks.ReplyPrefixLen)
	if err != nil {
		return err
	}
	bound, err := socks.ParseReply5(append(prefix, rest...))
	if err != nil {
		return err
	}
	s.event(ctx, eventReply)

	s.log.Debug("socks5 connect reply", zap.Stringer("bound", bound))
	return nil
}

func (s *Session) write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("%w: write: %w", socks.ErrTransport, err)
	}
	return nil
}

// read reads exactly n bytes. The connection is not buffered, so nothing past
// the reply is consumed.
func (s *Session) read(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(s.conn, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", socks.ErrMalformedReply, err)
		}
		return nil, fmt.Errorf("%w: read: %w", socks.ErrTransport, err)
	}
	return b, nil
}

// resolve returns the host to put in the CONNECT request.
func (s *Session) resolve(ctx context.Context, version uri.Version) (string, error) {
	host := s.target.Host
	if s.opts.Resolver == nil {
		return host, nil
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}

	addrs, err := s.opts.Resolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %w", socks.ErrTransport, host, err)
	}
	for _, a := range addrs {
		a = a.Unmap()
		if version == uri.Version4 && !a.Is4() {
			continue
		}
		s.log.Debug("resolved target locally", zap.Stringer("addr", a))
		return a.String(), nil
	}
	return "", fmt.Errorf("%w: no usable address for %s", socks.ErrTransport, host)
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return s.cancel(ctx)
	}
	s.event(ctx, eventFail)
	s.log.Debug("socks connect failed", zap.Error(err))
	return err
}

func (s *Session) cancel(ctx context.Context) error {
	s.event(ctx, eventCancel)
	s.log.Debug("socks connect cancelled", zap.Error(context.Cause(ctx)))
	return fmt.Errorf("%w: %w", socks.ErrCancelled, context.Cause(ctx))
}
