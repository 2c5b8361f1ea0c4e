// Package server runs development nodes speaking the wire protocol over a
// local store, and can boot a whole cluster of them in one process.
package server

import (
	"errors"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ringsaturn/rb/proto"
	"github.com/ringsaturn/rb/store"
)

type NodeOption func(*Node)

func WithNodeLogger(l *zap.Logger) NodeOption {
	return func(n *Node) { n.logger = l }
}

// WithNodeMetrics records the node's traffic under name.
func WithNodeMetrics(m *NodeMetrics, name string) NodeOption {
	return func(n *Node) {
		n.metrics = m
		n.name = name
	}
}

// Node serves one store to any number of connections. Commands on a
// connection are answered in order.
type Node struct {
	db      *store.DB
	logger  *zap.Logger
	metrics *NodeMetrics
	name    string

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewNode(db *store.DB, opts ...NodeOption) *Node {
	n := &Node{
		db:     db,
		logger: zap.NewNop(),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Serve accepts connections on ln until Close. It returns nil after Close.
func (n *Node) Serve(ln net.Listener) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ln.Close()
		return nil
	}
	n.ln = ln
	n.mu.Unlock()

	n.logger.Info("node serving", zap.String("addr", ln.Addr().String()))
	for {
		nc, err := ln.Accept()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		if !n.track(nc) {
			nc.Close()
			return nil
		}
		go n.handle(nc)
	}
}

func (n *Node) track(nc net.Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.conns[nc] = struct{}{}
	n.wg.Add(1)
	return true
}

func (n *Node) handle(nc net.Conn) {
	defer func() {
		nc.Close()
		n.mu.Lock()
		delete(n.conns, nc)
		n.mu.Unlock()
		n.metrics.connection(n.name, -1)
		n.wg.Done()
	}()
	n.metrics.connection(n.name, 1)

	rd, wr := proto.NewReader(nc), proto.NewWriter(nc)
	for {
		args, err := rd.ReadCommand()
		if err != nil {
			if errors.Is(err, proto.ErrProtocol) {
				wr.WriteError("ERR " + err.Error())
				wr.Flush()
			}
			return
		}
		if len(args) == 0 {
			continue
		}
		n.metrics.command(n.name, args[0])

		reply, err := n.exec(args)
		if err != nil {
			err = writeError(wr, err)
		} else {
			err = writeReply(wr, reply)
		}
		// Only flush once the client has nothing more queued.
		if err == nil && rd.Buffered() == 0 {
			err = wr.Flush()
		}
		if err != nil {
			n.logger.Debug("connection dropped", zap.String("remote", nc.RemoteAddr().String()), zap.Error(err))
			return
		}
	}
}

func (n *Node) exec(args []string) (any, error) {
	fn, err := lookup(args[0], len(args))
	if err != nil {
		return nil, err
	}
	return fn(n.db, args)
}

func writeError(wr *proto.Writer, err error) error {
	msg := err.Error()
	if prefix, _, _ := strings.Cut(msg, " "); prefix != strings.ToUpper(prefix) || prefix == "" {
		msg = "ERR " + msg
	}
	return wr.WriteError(msg)
}

func writeReply(wr *proto.Writer, reply any) error {
	switch v := reply.(type) {
	case nil:
		return wr.WriteBulk(nil)
	case status:
		return wr.WriteStatus(string(v))
	case int64:
		return wr.WriteInt(v)
	case string:
		return wr.WriteBulk([]byte(v))
	case []any:
		if err := wr.WriteArrayHeader(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := writeReply(wr, item); err != nil {
				return err
			}
		}
		return nil
	}
	return wr.WriteError("ERR unsupported reply")
}

// Addr is the listening address, or nil before Serve.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ln == nil {
		return nil
	}
	return n.ln.Addr()
}

// Close stops accepting, drops every connection and waits for their
// handlers. The store is left open.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	ln := n.ln
	for nc := range n.conns {
		nc.Close()
	}
	n.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	n.wg.Wait()
	return err
}
