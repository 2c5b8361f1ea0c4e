// Package router maps commands to the host that owns their keys.
package router

import (
	"hash/fnv"
	"slices"
	"strings"
)

// HostID identifies a backend host. It is stable for one lookup only: the
// topology may change between commands.
type HostID int

type Router interface {
	// Host returns the host owning the keys of the command, or false if no
	// single host can be determined.
	Host(command string, args []string) (HostID, bool)
}

// Func adapts a function to Router.
type Func func(command string, args []string) (HostID, bool)

func (f Func) Host(command string, args []string) (HostID, bool) {
	return f(command, args)
}

// Partition routes by fnv-32a of the key modulo the number of hosts.
type Partition struct {
	hosts []HostID
}

func NewPartition(hosts []HostID) *Partition {
	hosts = slices.Clone(hosts)
	slices.Sort(hosts)
	return &Partition{hosts: hosts}
}

func (r *Partition) Host(command string, args []string) (HostID, bool) {
	return hostForKeys(command, args, r.pickHost)
}

func (r *Partition) pickHost(key string) (HostID, bool) {
	if len(r.hosts) == 0 {
		return 0, false
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(r.hosts)))
	return r.hosts[idx], true
}

// hostForKeys resolves every key of the command and succeeds only if they
// all land on the same host.
func hostForKeys(command string, args []string, pick func(string) (HostID, bool)) (HostID, bool) {
	keys, ok := Keys(command, args)
	if !ok || len(keys) == 0 {
		return 0, false
	}
	var host HostID
	for i, key := range keys {
		h, ok := pick(key)
		if !ok {
			return 0, false
		}
		if i > 0 && h != host {
			return 0, false
		}
		host = h
	}
	return host, true
}

type keySpec int

const (
	firstKey keySpec = iota
	allKeys
	pairKeys
)

var commandKeys = map[string]keySpec{
	"GET":      firstKey,
	"SET":      firstKey,
	"SETNX":    firstKey,
	"SETEX":    firstKey,
	"PSETEX":   firstKey,
	"GETSET":   firstKey,
	"GETDEL":   firstKey,
	"APPEND":   firstKey,
	"STRLEN":   firstKey,
	"INCR":     firstKey,
	"INCRBY":   firstKey,
	"DECR":     firstKey,
	"DECRBY":   firstKey,
	"EXPIRE":   firstKey,
	"PEXPIRE":  firstKey,
	"TTL":      firstKey,
	"PTTL":     firstKey,
	"PERSIST":  firstKey,
	"TYPE":     firstKey,
	"HGET":     firstKey,
	"HSET":     firstKey,
	"HDEL":     firstKey,
	"HGETALL":  firstKey,
	"HINCRBY":  firstKey,
	"LPUSH":    firstKey,
	"RPUSH":    firstKey,
	"LPOP":     firstKey,
	"RPOP":     firstKey,
	"LRANGE":   firstKey,
	"LLEN":     firstKey,
	"SADD":     firstKey,
	"SREM":     firstKey,
	"SMEMBERS": firstKey,
	"SCARD":    firstKey,
	"ZADD":     firstKey,
	"ZSCORE":   firstKey,
	"ZRANGE":   firstKey,
	"DEL":      allKeys,
	"UNLINK":   allKeys,
	"EXISTS":   allKeys,
	"MGET":     allKeys,
	"MSET":     pairKeys,
}

// Keys extracts the keys of a command. It returns false for commands that
// carry no keys or that it does not know.
func Keys(command string, args []string) ([]string, bool) {
	kind, ok := commandKeys[strings.ToUpper(command)]
	if !ok || len(args) == 0 {
		return nil, false
	}
	switch kind {
	case firstKey:
		return args[:1], true
	case allKeys:
		return args, true
	case pairKeys:
		if len(args)%2 != 0 {
			return nil, false
		}
		keys := make([]string, 0, len(args)/2)
		for i := 0; i < len(args); i += 2 {
			keys = append(keys, args[i])
		}
		return keys, true
	}
	return nil, false
}
