package proto

import (
	"fmt"
	"strings"
)

type replyFunc func(raw any) (any, error)

// replyRules picks how a raw reply is decoded, keyed by upper-case command
// name. Commands not listed fall back to toValue.
var replyRules = map[string]replyFunc{
	"SET":    okOrNil,
	"SETNX":  intBool,
	"EXISTS": toInt,
	"DEL":    toInt,
	"UNLINK": toInt,
	"INCR":   toInt,
	"INCRBY": toInt,
	"DECR":   toInt,
	"DECRBY": toInt,
	"APPEND": toInt,
	"STRLEN": toInt,
	"GET":    toValue,
	"GETSET": toValue,
	"MGET":   toValue,
	"PING":   toValue,
	"ECHO":   toValue,
}

// ParseReply decodes a raw reply according to the rules for command.
func ParseReply(command string, raw any) (any, error) {
	rule, ok := replyRules[strings.ToUpper(command)]
	if !ok {
		rule = toValue
	}
	return rule(raw)
}

// toValue converts bulk strings to Go strings, recursively.
func toValue(raw any) (any, error) {
	switch v := raw.(type) {
	case []byte:
		return string(v), nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			conv, err := toValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	}
	return raw, nil
}

func okOrNil(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case string:
		return v == "OK", nil
	}
	return nil, fmt.Errorf("%w: unexpected %T reply", ErrProtocol, raw)
}

func intBool(raw any) (any, error) {
	n, err := toInt(raw)
	if err != nil {
		return nil, err
	}
	return n.(int64) != 0, nil
}

func toInt(raw any) (any, error) {
	if n, ok := raw.(int64); ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: expected integer reply, got %T", ErrProtocol, raw)
}
