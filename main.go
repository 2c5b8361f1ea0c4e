package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ringsaturn/rb/client"
	"github.com/ringsaturn/rb/server"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	c := server.NewLocalCluster(5).
		WithHTTPPort(8080).
		WithDataDir("./data").
		WithMaxConcurrency(64).
		WithLogger(logger)

	if err := c.Open(); err != nil {
		logger.Fatal("open cluster", zap.Error(err))
	}
	defer c.Close()

	ctx := context.Background()
	err := c.Cluster().Map(ctx, func(ctx context.Context, rc *client.RoutingClient) error {
		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("user-%d", i)
			value := fmt.Sprintf("value-%d", i)
			if _, err := rc.Set(ctx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Fatal("write keys", zap.Error(err))
	}

	samples := []int{0, 1, 10, 123, 999}
	fmt.Println("\nReading sample keys:")
	for _, i := range samples {
		key := fmt.Sprintf("user-%d", i)
		val, found, err := c.Get(ctx, key)
		if err != nil || !found {
			fmt.Printf("Key %s not found: %v\n", key, err)
			c.Close()
			os.Exit(1)
		}
		fmt.Printf("  %s = %s\n", key, val)
	}

	if err := c.Sync(); err != nil {
		logger.Error("sync", zap.Error(err))
	}

	fmt.Println("\nData has been written to ./data/node*/wal.log")
	fmt.Printf("\nCluster running at %s, topology at %s\n", c.HTTPAddr(), c.TopologyAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
