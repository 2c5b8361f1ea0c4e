// Command rbnode serves one development node over a local store.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ringsaturn/rb/server"
	"github.com/ringsaturn/rb/store"
)

func main() {
	var (
		addr        = pflag.String("addr", "127.0.0.1:6380", "address to serve the node on")
		dataDir     = pflag.String("data-dir", "./data/node", "directory of the node's log")
		metricsAddr = pflag.String("metrics-addr", "", "serve /metrics on this address when set")
		syncWrites  = pflag.Bool("sync-writes", false, "fsync the log after every write")
		logLevel    = pflag.String("log-level", "info", "debug, info, warn or error")
	)
	pflag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(logger, *addr, *dataDir, *metricsAddr, *syncWrites); err != nil {
		logger.Fatal("node failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, addr, dataDir, metricsAddr string, syncWrites bool) error {
	db, err := store.Open(dataDir, store.WithLogger(logger), store.WithSyncWrites(syncWrites))
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	node := server.NewNode(db,
		server.WithNodeLogger(logger),
		server.WithNodeMetrics(server.NewNodeMetrics(reg), addr))

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- node.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-errCh:
		return err
	}
	if err := node.Close(); err != nil {
		return err
	}
	return db.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
