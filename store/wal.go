package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

const (
	opPut = "PUT"
	opDel = "DEL"
)

// wal is an append-only log of PUT and DEL records, one per line. Keys and
// values are Go-quoted so that any byte sequence survives a round trip.
type wal struct {
	file   *os.File
	writer *bufio.Writer
	path   string
}

func openWAL(path string) (*wal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &wal{file: file, writer: bufio.NewWriterSize(file, 64<<10), path: path}, nil
}

func (w *wal) writePut(seq uint64, key, value string) error {
	_, err := fmt.Fprintf(w.writer, "%s %d %s %s\n", opPut, seq, strconv.Quote(key), strconv.Quote(value))
	return err
}

func (w *wal) writeDel(seq uint64, key string) error {
	_, err := fmt.Fprintf(w.writer, "%s %d %s\n", opDel, seq, strconv.Quote(key))
	return err
}

func (w *wal) flush() error {
	return w.writer.Flush()
}

func (w *wal) sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *wal) close() error {
	return multierr.Append(w.sync(), w.file.Close())
}

type record struct {
	op    string
	seq   uint64
	key   string
	value string
}

func parseRecord(line string) (record, error) {
	var r record
	op, rest, ok := strings.Cut(line, " ")
	if !ok {
		return r, fmt.Errorf("malformed record %q", line)
	}
	seq, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return r, fmt.Errorf("malformed record %q", line)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return r, fmt.Errorf("bad sequence in %q: %w", line, err)
	}
	r.op, r.seq = op, n

	key, rest, err := unquotePrefix(rest)
	if err != nil {
		return r, fmt.Errorf("bad key in %q: %w", line, err)
	}
	r.key = key

	switch op {
	case opPut:
		value, rest, err := unquotePrefix(strings.TrimPrefix(rest, " "))
		if err != nil || rest != "" {
			return r, fmt.Errorf("bad value in %q", line)
		}
		r.value = value
	case opDel:
		if rest != "" {
			return r, fmt.Errorf("trailing data in %q", line)
		}
	default:
		return r, fmt.Errorf("unknown op %q", op)
	}
	return r, nil
}

func unquotePrefix(s string) (string, string, error) {
	q, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", "", err
	}
	v, err := strconv.Unquote(q)
	return v, s[len(q):], err
}

// replayWAL applies every complete record of the log at path in order. A
// partial last line, left by a crash mid-append, is cut off. It returns the
// highest sequence and the number of records applied.
func replayWAL(path string, apply func(record)) (maxSeq uint64, n int, err error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	rd := bufio.NewReader(file)
	var good int64
	for {
		line, err := rd.ReadString('\n')
		if err == io.EOF {
			if line != "" {
				return maxSeq, n, file.Truncate(good)
			}
			return maxSeq, n, nil
		}
		if err != nil {
			return maxSeq, n, err
		}
		r, err := parseRecord(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return maxSeq, n, fmt.Errorf("replay %s: %w", path, err)
		}
		apply(r)
		maxSeq = max(maxSeq, r.seq)
		n++
		good += int64(len(line))
	}
}
