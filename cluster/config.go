package cluster

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ringsaturn/rb/router"
)

const (
	// DefaultRouter is the router kind used when the config names none.
	DefaultRouter = RouterConsistent

	// DefaultPoolSize is the number of idle connections kept per host.
	DefaultPoolSize = 8

	// DefaultDialTimeout is the timeout for dialing a host.
	DefaultDialTimeout = time.Second

	// DefaultMaxConcurrency is the in-flight limit of routing clients
	// created by the cluster. Zero means unbounded.
	DefaultMaxConcurrency = 0
)

const (
	RouterPartition  = "partition"
	RouterConsistent = "consistent"
)

// Duration is a time.Duration that decodes from strings such as "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type HostConfig struct {
	ID   router.HostID `toml:"id"`
	Addr string        `toml:"addr"`
}

// Config describes a cluster.
type Config struct {
	Hosts          []HostConfig `toml:"hosts"`
	Router         string       `toml:"router"`
	PoolSize       int          `toml:"pool-size"`
	DialTimeout    Duration     `toml:"dial-timeout"`
	ReadTimeout    Duration     `toml:"read-timeout"`
	WriteTimeout   Duration     `toml:"write-timeout"`
	MaxConcurrency int          `toml:"max-concurrency"`
}

// NewConfig returns a Config with defaults and no hosts.
func NewConfig() Config {
	return Config{
		Router:         DefaultRouter,
		PoolSize:       DefaultPoolSize,
		DialTimeout:    Duration(DefaultDialTimeout),
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

// LoadConfig reads a toml file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := NewConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load cluster config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	seen := make(map[router.HostID]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if h.Addr == "" {
			return fmt.Errorf("host %d: missing addr", h.ID)
		}
		if seen[h.ID] {
			return fmt.Errorf("host %d: duplicate id", h.ID)
		}
		seen[h.ID] = true
	}
	switch c.Router {
	case RouterPartition, RouterConsistent:
	default:
		return fmt.Errorf("unknown router %q", c.Router)
	}
	return nil
}
