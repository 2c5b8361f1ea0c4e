package proto

import (
	"bufio"
	"io"
	"strconv"
)

type Writer struct {
	wr  *bufio.Writer
	num []byte
}

func NewWriter(wr io.Writer) *Writer {
	return &Writer{wr: bufio.NewWriter(wr)}
}

func (w *Writer) Flush() error {
	return w.wr.Flush()
}

// WriteCommand buffers args as an array of bulk strings. Call Flush to send.
func (w *Writer) WriteCommand(args ...string) error {
	if err := w.writeHeader(ArrayReply, int64(len(args))); err != nil {
		return err
	}
	for _, arg := range args {
		if err := w.WriteBulk([]byte(arg)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteStatus(s string) error {
	w.wr.WriteByte(StatusReply)
	w.wr.WriteString(s)
	_, err := w.wr.WriteString("\r\n")
	return err
}

func (w *Writer) WriteError(msg string) error {
	w.wr.WriteByte(ErrorReply)
	w.wr.WriteString(msg)
	_, err := w.wr.WriteString("\r\n")
	return err
}

func (w *Writer) WriteInt(n int64) error {
	return w.writeHeader(IntReply, n)
}

// WriteBulk writes b as a bulk string; a nil slice is written as the nil bulk
// string.
func (w *Writer) WriteBulk(b []byte) error {
	if b == nil {
		return w.writeHeader(StringReply, -1)
	}
	if err := w.writeHeader(StringReply, int64(len(b))); err != nil {
		return err
	}
	w.wr.Write(b)
	_, err := w.wr.WriteString("\r\n")
	return err
}

func (w *Writer) WriteArrayHeader(n int) error {
	return w.writeHeader(ArrayReply, int64(n))
}

func (w *Writer) writeHeader(kind byte, n int64) error {
	w.wr.WriteByte(kind)
	w.num = strconv.AppendInt(w.num[:0], n, 10)
	w.wr.Write(w.num)
	_, err := w.wr.WriteString("\r\n")
	return err
}
