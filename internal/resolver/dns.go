// Package resolver resolves target host names on the client side, for
// proxies that cannot (or should not) resolve names themselves.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoAddress is returned when a name has no A or AAAA records.
var ErrNoAddress = errors.New("no address records")

// DNS queries a single DNS server for A and AAAA records.
type DNS struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
	log    *zap.Logger
}

// NewDNS returns a resolver using server (host or host:port, port 53 by
// default). timeout bounds each exchange; zero uses the dns package default.
func NewDNS(server string, timeout time.Duration, log *zap.Logger) (*DNS, error) {
	if server == "" {
		return nil, errors.New("dns resolver: missing server")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &DNS{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
		log:    log.With(zap.String("dns_server", server)),
	}, nil
}

// LookupHost returns the IPv4 addresses of host followed by its IPv6
// addresses. IP literals are returned as is.
func (r *DNS) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip.WithZone("")}, nil
	}

	var v4, v6 []netip.Addr
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v4, err = r.query(gctx, host, dns.TypeA)
		return err
	})
	g.Go(func() error {
		var err error
		v6, err = r.query(gctx, host, dns.TypeAAAA)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}

	addrs := append(v4, v6...)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddress)
	}
	r.log.Debug("resolved", zap.String("host", host), zap.Int("addrs", len(addrs)))
	return addrs, nil
}

func (r *DNS) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	in, _, err := r.udp.ExchangeContext(ctx, m, r.server)
	if err == nil && in.Truncated {
		in, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", dns.TypeToString[qtype], err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%s query: %w", dns.TypeToString[qtype], ErrNoAddress)
	default:
		return nil, fmt.Errorf("%s query: %s", dns.TypeToString[qtype], dns.RcodeToString[in.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range in.Answer {
		var ip net.IP
		switch rr := rr.(type) {
		case *dns.A:
			ip = rr.A
		case *dns.AAAA:
			ip = rr.AAAA
		default:
			continue
		}
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	return addrs, nil
}
