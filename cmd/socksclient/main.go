// Command socksclient connects to host:port through a SOCKS proxy and relays
// stdin and stdout over the connection. It works as an SSH ProxyCommand:
//
//	ssh -o ProxyCommand='socksclient --proxy socks5://127.0.0.1:1080 %h:%p' host
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksclient"
	"github.com/die-net/socksclient/internal/logging"
	"github.com/die-net/socksclient/internal/relay"
	"github.com/die-net/socksclient/internal/resolver"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "socksclient:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args, os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return connectAndRelay(ctx, cfg, log, os.Stdin, os.Stdout)
}

func connectAndRelay(ctx context.Context, cfg *config, log *zap.Logger, stdin io.Reader, stdout io.Writer) error {
	connector, err := socksclient.NewConnector(cfg.Via, socksclient.ConnectorConfig{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive,
		Mark:               cfg.Fwmark,
		SSHKeyPath:         cfg.SSHKey,
		SSHKnownHostsPath:  cfg.SSHKnownHosts,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("invalid --via: %w", err)
	}

	opts := []socksclient.Option{
		socksclient.WithLogger(log),
		socksclient.WithNegotiationTimeout(cfg.NegotiationTimeout),
	}
	if cfg.DNSServer != "" {
		r, err := resolver.NewDNS(cfg.DNSServer, cfg.DialTimeout, log)
		if err != nil {
			return fmt.Errorf("invalid --dns-server: %w", err)
		}
		opts = append(opts, socksclient.WithResolver(r))
	}

	client, err := socksclient.New(cfg.Proxy, connector, opts...)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	connectCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
	}
	conn, err := client.Connect(connectCtx, cfg.Target)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s via %s: %w", cfg.Target, client.Proxy(), err)
	}

	log.Info("connected",
		zap.String("target", cfg.Target),
		zap.String("proxy", client.Proxy()),
		zap.Stringer("local", conn.LocalAddr()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Copy(gctx, conn, stdin, stdout, cfg.IdleTimeout)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("interrupted")
		return nil
	}
	log.Debug("relay finished", zap.Error(err))
	return err
}
