package client

import (
	"context"
	"strconv"
)

func (c *RoutingClient) Get(ctx context.Context, key string) (*PendingCommand, error) {
	return c.Do(ctx, "GET", key)
}

func (c *RoutingClient) Set(ctx context.Context, key, value string) (*PendingCommand, error) {
	return c.Do(ctx, "SET", key, value)
}

func (c *RoutingClient) SetNX(ctx context.Context, key, value string) (*PendingCommand, error) {
	return c.Do(ctx, "SETNX", key, value)
}

func (c *RoutingClient) GetSet(ctx context.Context, key, value string) (*PendingCommand, error) {
	return c.Do(ctx, "GETSET", key, value)
}

// Del deletes keys. All keys must live on the same host.
func (c *RoutingClient) Del(ctx context.Context, keys ...string) (*PendingCommand, error) {
	return c.Do(ctx, append([]string{"DEL"}, keys...)...)
}

func (c *RoutingClient) Exists(ctx context.Context, keys ...string) (*PendingCommand, error) {
	return c.Do(ctx, append([]string{"EXISTS"}, keys...)...)
}

// MGet fetches keys. All keys must live on the same host.
func (c *RoutingClient) MGet(ctx context.Context, keys ...string) (*PendingCommand, error) {
	return c.Do(ctx, append([]string{"MGET"}, keys...)...)
}

func (c *RoutingClient) Incr(ctx context.Context, key string) (*PendingCommand, error) {
	return c.Do(ctx, "INCR", key)
}

func (c *RoutingClient) IncrBy(ctx context.Context, key string, n int64) (*PendingCommand, error) {
	return c.Do(ctx, "INCRBY", key, strconv.FormatInt(n, 10))
}

func (c *RoutingClient) Decr(ctx context.Context, key string) (*PendingCommand, error) {
	return c.Do(ctx, "DECR", key)
}

func (c *RoutingClient) Append(ctx context.Context, key, value string) (*PendingCommand, error) {
	return c.Do(ctx, "APPEND", key, value)
}

func (c *RoutingClient) StrLen(ctx context.Context, key string) (*PendingCommand, error) {
	return c.Do(ctx, "STRLEN", key)
}
