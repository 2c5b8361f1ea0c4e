// Command rbcli sends commands to a cluster, routing each one to the host
// that owns its keys.
//
//	rbcli --topology 127.0.0.1:50051 SET user-1 alice
//	rbcli --config cluster.toml --fill 10000
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/cluster"
	"github.com/ringsaturn/rb/topology"
)

func main() {
	var (
		configPath     = pflag.String("config", "", "toml cluster config")
		topologyAddr   = pflag.String("topology", "", "fetch the cluster from this topology server instead")
		maxConcurrency = pflag.Int("max-concurrency", 0, "commands kept in flight; 0 uses the config value")
		fill           = pflag.Int("fill", 0, "write this many keys and report the rate")
		timeout        = pflag.Duration("timeout", 30*time.Second, "overall deadline")
		logLevel       = pflag.String("log-level", "warn", "debug, info, warn or error")
	)
	pflag.Parse()

	lvl, err := zap.ParseAtomicLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg, err := loadConfig(ctx, *configPath, *topologyAddr)
	if err != nil {
		logger.Fatal("load cluster", zap.Error(err))
	}
	if *maxConcurrency > 0 {
		cfg.MaxConcurrency = *maxConcurrency
	}
	c, err := cluster.New(cfg, cluster.WithLogger(logger))
	if err != nil {
		logger.Fatal("create cluster", zap.Error(err))
	}
	defer c.Close()

	switch {
	case *fill > 0:
		err = fillKeys(ctx, c, *fill)
	case pflag.NArg() > 0:
		err = do(ctx, c, pflag.Args())
	default:
		err = errors.New("nothing to do: give a command or --fill")
	}
	if err != nil {
		logger.Error("failed", zap.Error(err))
		c.Close()
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context, path, topologyAddr string) (cluster.Config, error) {
	switch {
	case topologyAddr != "":
		return topology.Fetch(ctx, topologyAddr)
	case path != "":
		return cluster.LoadConfig(path)
	}
	return cluster.Config{}, errors.New("one of --config or --topology is required")
}

func do(ctx context.Context, c *cluster.Cluster, args []string) error {
	rc, err := c.RoutingClient()
	if err != nil {
		return err
	}
	defer rc.Close()
	pc, err := rc.Do(ctx, args...)
	if err != nil {
		return err
	}
	v, err := pc.Wait(ctx)
	if err != nil {
		return err
	}
	printReply(v)
	return nil
}

func printReply(v any) {
	switch v := v.(type) {
	case nil:
		fmt.Println("(nil)")
	case string:
		fmt.Printf("%q\n", v)
	case []any:
		for i, item := range v {
			fmt.Printf("%d) ", i+1)
			printReply(item)
		}
	default:
		fmt.Println(v)
	}
}

func fillKeys(ctx context.Context, c *cluster.Cluster, n int) error {
	start := time.Now()
	err := c.Map(ctx, func(ctx context.Context, rc *client.RoutingClient) error {
		for i := 0; i < n; i++ {
			if _, err := rc.Set(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	fmt.Printf("wrote %d keys in %s (%.0f/s)\n", n, elapsed.Round(time.Millisecond), float64(n)/elapsed.Seconds())
	return nil
}
