package proto

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCommand(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteCommand("SET", "a", "1"))
	require.NoError(t, w.Flush())
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n", buf.String())

	args, err := NewReader(&buf).ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"SET", "a", "1"}, args)
}

func TestReadReply(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    any
		wantErr error
	}{
		{name: "status", in: "+OK\r\n", want: "OK"},
		{name: "int", in: ":42\r\n", want: int64(42)},
		{name: "bulk", in: "$5\r\nhello\r\n", want: []byte("hello")},
		{name: "empty bulk", in: "$0\r\n\r\n", want: []byte{}},
		{name: "nil bulk", in: "$-1\r\n", want: nil},
		{name: "nil array", in: "*-1\r\n", want: nil},
		{name: "error", in: "-ERR boom\r\n", wantErr: Error("ERR boom")},
		{
			name: "nested array",
			in:   "*3\r\n$1\r\na\r\n$-1\r\n*1\r\n:1\r\n",
			want: []any{[]byte("a"), nil, []any{int64(1)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReader(strings.NewReader(tt.in)).ReadReply()
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadReplyMalformed(t *testing.T) {
	for _, in := range []string{
		"?\r\n",
		":abc\r\n",
		"$3\r\nabcd\r\n",
		"+OK\n",
		"$-5\r\n",
		"*1000000000000\r\n",
		"*2\r\n*1048577\r\n",
	} {
		_, err := NewReader(strings.NewReader(in)).ReadReply()
		assert.ErrorIs(t, err, ErrProtocol, in)
	}
}

func TestReadCommandMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "inline", in: "+PING\r\n"},
		{name: "empty", in: "*0\r\n"},
		{name: "huge array", in: "*1000000000000\r\n"},
		{name: "over limit", in: "*1048577\r\n$4\r\nPING\r\n"},
		{name: "nil argument", in: "*1\r\n$-1\r\n"},
		{name: "huge bulk", in: "*1\r\n$1000000000000\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.in)).ReadCommand()
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestReadCommandShortArray(t *testing.T) {
	// The header promises more arguments than arrive.
	_, err := NewReader(strings.NewReader("*1000000\r\n$4\r\nPING\r\n")).ReadCommand()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		command string
		raw     any
		want    any
	}{
		{"SET", "OK", true},
		{"set", nil, false},
		{"SETNX", int64(1), true},
		{"SETNX", int64(0), false},
		{"GET", []byte("v"), "v"},
		{"GET", nil, nil},
		{"MGET", []any{[]byte("x"), nil}, []any{"x", nil}},
		{"INCR", int64(3), int64(3)},
		{"UNKNOWN", []byte("raw"), "raw"},
	}
	for _, tt := range tests {
		got, err := ParseReply(tt.command, tt.raw)
		require.NoError(t, err, tt.command)
		assert.Equal(t, tt.want, got, tt.command)
	}

	_, err := ParseReply("INCR", "OK")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestWriterReplies(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteStatus("PONG")
	w.WriteError("ERR nope")
	w.WriteInt(-3)
	w.WriteBulk(nil)
	w.WriteArrayHeader(1)
	w.WriteBulk([]byte("x"))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	v, err := r.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, "PONG", v)
	_, err = r.ReadReply()
	assert.Equal(t, Error("ERR nope"), err)
	v, _ = r.ReadReply()
	assert.Equal(t, int64(-3), v)
	v, _ = r.ReadReply()
	assert.Nil(t, v)
	v, _ = r.ReadReply()
	assert.Equal(t, []any{[]byte("x")}, v)
}
