// Package server implements the "serve" command: it wires together the
// voucher store, the reference local object store, the signing oracle,
// and the pass-admission layer into a long-running process, following
// the teacher's cli/server pattern of a NewCommands() []*cli.Command
// plus a graceful-shutdown context cancelled on SIGINT/SIGTERM.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	zkapconfig "github.com/privatestorage/zkapauthorizer/config"
	"github.com/privatestorage/zkapauthorizer/cli/options"
	bolt "go.etcd.io/bbolt"

	"github.com/privatestorage/zkapauthorizer/pkg/localstore"
	"github.com/privatestorage/zkapauthorizer/pkg/signing"
	"github.com/privatestorage/zkapauthorizer/pkg/spending"
	"github.com/privatestorage/zkapauthorizer/pkg/store"
	"github.com/privatestorage/zkapauthorizer/pkg/storageserver"
)

// NewCommands returns the "serve" command.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "serve",
			Usage:     "Run the pass-admission storage server",
			UsageText: "zkapauthorizer serve --config-file path",
			Action:    serve,
			Flags:     options.ConfigFlags,
		},
	}
}

// Components bundles everything a running server needs, so tests and
// other commands (e.g. the debug shell) can assemble the same
// wiring without going through the CLI.
type Components struct {
	Config     zkapconfig.Config
	Log        *zap.Logger
	Store      *store.Store
	Shares     *localstore.Store
	Server     *storageserver.Server
	Controller *spending.Controller
	Registry   *prometheus.Registry

	metricsServer *http.Server
	closers       []func() error
}

// Close releases every resource opened while building the Components,
// in reverse order of acquisition.
func (c *Components) Close() error {
	var firstErr error
	if c.metricsServer != nil {
		if err := c.metricsServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build assembles the server-side wiring described by cfg.
func Build(cfg zkapconfig.Config, log *zap.Logger) (*Components, error) {
	comps := &Components{Config: cfg, Log: log}

	voucherStore, err := store.Open(cfg.Store.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("server: opening voucher store: %w", err)
	}
	comps.Store = voucherStore
	comps.closers = append(comps.closers, voucherStore.Close)

	shares, err := localstore.Open(sharesDBPath(cfg))
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("server: opening local object store: %w", err)
	}
	comps.Shares = shares
	comps.closers = append(comps.closers, shares.Close)

	secret, err := signing.LoadOrGenerateSecret(signingSecretPath(cfg))
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("server: loading signing secret: %w", err)
	}
	oracle := signing.NewHMACOracle(secret)

	spentDB, err := bolt.Open(cfg.StorageServer.SpentPassesDBPath, 0o600, nil)
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("server: opening spent-pass database: %w", err)
	}
	comps.closers = append(comps.closers, spentDB.Close)

	srv, err := storageserver.NewServer(shares, oracle, cfg.Pass.BytesPerPass, spentDB, cfg.StorageServer.SpentPassesCacheSize, log)
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("server: building admission server: %w", err)
	}
	comps.Server = srv

	registry := prometheus.NewRegistry()
	comps.Registry = registry
	comps.Controller = spending.NewController(tokenSource(voucherStore), oracle, registry)

	if cfg.Prometheus.Enabled {
		if err := startMetricsServer(comps, cfg.Prometheus.Addresses, registry); err != nil {
			comps.Close()
			return nil, err
		}
	}

	return comps, nil
}

// tokenSource adapts (*store.Store).ExtractUnblindedTokens, which takes
// a context, to the spending.TokenSource shape the controller expects.
func tokenSource(s *store.Store) spending.TokenSource {
	return func(n int) ([][]byte, error) {
		return s.ExtractUnblindedTokens(context.Background(), n)
	}
}

func startMetricsServer(comps *Components, addresses []string, registry *prometheus.Registry) error {
	if len(addresses) == 0 {
		return fmt.Errorf("server: Prometheus.Enabled is true but Addresses is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addresses[0], Handler: mux}
	comps.metricsServer = srv

	ln, err := net.Listen("tcp", addresses[0])
	if err != nil {
		return fmt.Errorf("server: binding Prometheus listener on %s: %w", addresses[0], err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			comps.Log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

func sharesDBPath(cfg zkapconfig.Config) string {
	if cfg.StorageServer.SharesDBPath != "" {
		return cfg.StorageServer.SharesDBPath
	}
	return "shares.bolt"
}

func signingSecretPath(cfg zkapconfig.Config) string {
	if cfg.StorageServer.SigningSecretPath != "" {
		return cfg.StorageServer.SigningSecretPath
	}
	return "signing.key"
}

func serve(ctx *cli.Context) error {
	cfg, err := options.LoadConfig(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	log, err := options.NewLogger(ctx, cfg.Logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer log.Sync() //nolint:errcheck

	comps, err := Build(cfg, log)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer comps.Close()

	log.Info("zkapauthorizer storage server ready",
		zap.Int64("bytesPerPass", cfg.Pass.BytesPerPass),
		zap.String("store", cfg.Store.Path),
	)

	<-newGraceContext().Done()
	log.Info("shutting down")
	return nil
}

func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}
