package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ringsaturn/rb/store"
)

var (
	errSyntax     = errors.New("ERR syntax error")
	errNotInteger = errors.New("ERR value is not an integer or out of range")
)

type status string

const okReply status = "OK"

// A handler returns one of status, int64, string, nil or []any.
type handler func(db *store.DB, args []string) (any, error)

type command struct {
	// arity counts the command name. Negative means at least -arity.
	arity int
	fn    handler
}

var commands = map[string]command{
	"PING":   {-1, ping},
	"ECHO":   {2, echo},
	"GET":    {2, get},
	"SET":    {-3, set},
	"SETNX":  {3, setNX},
	"GETSET": {3, getSet},
	"DEL":    {-2, del},
	"EXISTS": {-2, exists},
	"INCR":   {2, incrBy(1)},
	"DECR":   {2, incrBy(-1)},
	"INCRBY": {3, incrByArg(1)},
	"DECRBY": {3, incrByArg(-1)},
	"APPEND": {3, appendValue},
	"STRLEN": {2, strLen},
	"MGET":   {-2, mget},
}

func lookup(name string, argc int) (handler, error) {
	cmd, ok := commands[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("ERR unknown command '%s'", name)
	}
	if (cmd.arity > 0 && argc != cmd.arity) || (cmd.arity < 0 && argc < -cmd.arity) {
		return nil, fmt.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
	}
	return cmd.fn, nil
}

func ping(_ *store.DB, args []string) (any, error) {
	switch len(args) {
	case 1:
		return status("PONG"), nil
	case 2:
		return args[1], nil
	}
	return nil, errors.New("ERR wrong number of arguments for 'ping' command")
}

func echo(_ *store.DB, args []string) (any, error) {
	return args[1], nil
}

func get(db *store.DB, args []string) (any, error) {
	if v, ok := db.Get(args[1]); ok {
		return v, nil
	}
	return nil, nil
}

// set handles SET key value [NX|XX].
func set(db *store.DB, args []string) (any, error) {
	var nx, xx bool
	for _, opt := range args[3:] {
		switch strings.ToUpper(opt) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		default:
			return nil, errSyntax
		}
	}
	if nx && xx {
		return nil, errSyntax
	}
	var written bool
	err := db.Update(args[1], func(_ string, exists bool) (string, bool, error) {
		written = !(nx && exists) && !(xx && !exists)
		return args[2], written, nil
	})
	if err != nil || !written {
		return nil, err
	}
	return okReply, nil
}

func setNX(db *store.DB, args []string) (any, error) {
	var written bool
	err := db.Update(args[1], func(_ string, exists bool) (string, bool, error) {
		written = !exists
		return args[2], written, nil
	})
	if err != nil {
		return nil, err
	}
	if written {
		return int64(1), nil
	}
	return int64(0), nil
}

func getSet(db *store.DB, args []string) (any, error) {
	var old any
	err := db.Update(args[1], func(v string, exists bool) (string, bool, error) {
		if exists {
			old = v
		}
		return args[2], true, nil
	})
	return old, err
}

func del(db *store.DB, args []string) (any, error) {
	var n int64
	for _, key := range args[1:] {
		ok, err := db.Delete(key)
		if err != nil {
			return nil, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func exists(db *store.DB, args []string) (any, error) {
	var n int64
	for _, key := range args[1:] {
		if _, ok := db.Get(key); ok {
			n++
		}
	}
	return n, nil
}

func incrBy(delta int64) handler {
	return func(db *store.DB, args []string) (any, error) {
		return add(db, args[1], delta)
	}
}

func incrByArg(sign int64) handler {
	return func(db *store.DB, args []string) (any, error) {
		delta, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, errNotInteger
		}
		return add(db, args[1], sign*delta)
	}
}

func add(db *store.DB, key string, delta int64) (any, error) {
	var n int64
	err := db.Update(key, func(v string, exists bool) (string, bool, error) {
		if exists {
			cur, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return "", false, errNotInteger
			}
			n = cur
		}
		if (delta > 0 && n > maxInt64-delta) || (delta < 0 && n < minInt64-delta) {
			return "", false, errors.New("ERR increment or decrement would overflow")
		}
		n += delta
		return strconv.FormatInt(n, 10), true, nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

const (
	maxInt64 = 1<<63 - 1
	minInt64 = -1 << 63
)

func appendValue(db *store.DB, args []string) (any, error) {
	var n int64
	err := db.Update(args[1], func(v string, _ bool) (string, bool, error) {
		v += args[2]
		n = int64(len(v))
		return v, true, nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func strLen(db *store.DB, args []string) (any, error) {
	v, _ := db.Get(args[1])
	return int64(len(v)), nil
}

func mget(db *store.DB, args []string) (any, error) {
	out := make([]any, 0, len(args)-1)
	for _, key := range args[1:] {
		if v, ok := db.Get(key); ok {
			out = append(out, v)
		} else {
			out = append(out, nil)
		}
	}
	return out, nil
}
