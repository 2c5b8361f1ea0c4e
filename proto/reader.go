// Package proto implements the RESP2 wire format spoken between clients and
// nodes.
package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	StatusReply = '+'
	ErrorReply  = '-'
	IntReply    = ':'
	StringReply = '$'
	ArrayReply  = '*'
)

const (
	maxBulkLen  = 512 << 20
	maxArrayLen = 1 << 20
)

var ErrProtocol = errors.New("rb: protocol error")

// Error is an error reply sent by the server. It is a value, not a
// transport failure: the connection stays usable after receiving one.
type Error string

func (e Error) Error() string { return string(e) }

type Reader struct {
	rd *bufio.Reader
}

func NewReader(rd io.Reader) *Reader {
	return &Reader{rd: bufio.NewReader(rd)}
}

// Buffered returns the number of reply bytes already read off the socket.
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// ReadReply reads one reply. Bulk strings come back as []byte, nil bulk
// strings and nil arrays as nil, error replies as a nil value and an Error.
func (r *Reader) ReadReply() (any, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	switch line[0] {
	case StatusReply:
		return string(line[1:]), nil
	case ErrorReply:
		return nil, Error(line[1:])
	case IntReply:
		return parseInt(line[1:])
	case StringReply:
		return r.readBulk(line)
	case ArrayReply:
		n, err := parseArrayLen(line[1:])
		if err != nil || n < 0 {
			return nil, err
		}
		// Elements are appended as they arrive so a bogus length cannot
		// allocate ahead of the data.
		vals := make([]any, 0, min(n, 64))
		for range n {
			v, err := r.ReadReply()
			if err != nil {
				var perr Error
				if !errors.As(err, &perr) {
					return nil, err
				}
				v = perr
			}
			vals = append(vals, v)
		}
		return vals, nil
	}
	return nil, fmt.Errorf("%w: unexpected reply type %q", ErrProtocol, line[0])
}

// ReadCommand reads a client command: an array of bulk strings.
func (r *Reader) ReadCommand() ([]string, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	if line[0] != ArrayReply {
		return nil, fmt.Errorf("%w: expected '*', got %q", ErrProtocol, line[0])
	}
	n, err := parseArrayLen(line[1:])
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: empty command", ErrProtocol)
	}
	args := make([]string, 0, min(n, 64))
	for range n {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line[0] != StringReply {
			return nil, fmt.Errorf("%w: expected '$', got %q", ErrProtocol, line[0])
		}
		b, err := r.readBulk(line)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("%w: nil argument", ErrProtocol)
		}
		args = append(args, string(b.([]byte)))
	}
	return args, nil
}

func (r *Reader) readBulk(line []byte) (any, error) {
	n, err := parseLen(line[1:])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if n > maxBulkLen {
		return nil, fmt.Errorf("%w: bulk length %d too large", ErrProtocol, n)
	}
	b := make([]byte, n+2)
	if _, err := io.ReadFull(r.rd, b); err != nil {
		return nil, err
	}
	if b[n] != '\r' || b[n+1] != '\n' {
		return nil, fmt.Errorf("%w: bulk string not terminated", ErrProtocol)
	}
	return b[:n], nil
}

func (r *Reader) readLine() ([]byte, error) {
	line, err := r.rd.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("%w: line too long", ErrProtocol)
		}
		return nil, err
	}
	if len(line) < 3 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: invalid line %q", ErrProtocol, line)
	}
	return line[:len(line)-2], nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, b)
	}
	return n, nil
}

func parseLen(b []byte) (int, error) {
	n, err := parseInt(b)
	if err != nil {
		return 0, err
	}
	if n < -1 {
		return 0, fmt.Errorf("%w: invalid length %d", ErrProtocol, n)
	}
	return int(n), nil
}

func parseArrayLen(b []byte) (int, error) {
	n, err := parseLen(b)
	if err != nil {
		return 0, err
	}
	if n > maxArrayLen {
		return 0, fmt.Errorf("%w: array length %d too large", ErrProtocol, n)
	}
	return n, nil
}

// HeaderLen returns the length carried by a '*' or '$' header line, given
// without its CRLF, under the limits Reader enforces. -1 is the nil length.
func HeaderLen(line []byte) (int, error) {
	if len(line) < 2 {
		return 0, fmt.Errorf("%w: invalid header %q", ErrProtocol, line)
	}
	switch line[0] {
	case ArrayReply:
		return parseArrayLen(line[1:])
	case StringReply:
		n, err := parseLen(line[1:])
		if err == nil && n > maxBulkLen {
			err = fmt.Errorf("%w: bulk length %d too large", ErrProtocol, n)
		}
		return n, err
	}
	return 0, fmt.Errorf("%w: %q is not a length header", ErrProtocol, line[0])
}
