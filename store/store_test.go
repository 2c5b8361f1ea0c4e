package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipList(t *testing.T) {
	s := newSkipList()
	for i := 99; i >= 0; i-- {
		assert.True(t, s.Put(fmt.Sprintf("k%03d", i), strconv.Itoa(i)))
	}
	assert.False(t, s.Put("k050", "x"))
	assert.Equal(t, 100, s.Len())

	v, ok := s.Get("k050")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	assert.True(t, s.Delete("k050"))
	assert.False(t, s.Delete("k050"))
	_, ok = s.Get("k050")
	assert.False(t, ok)
	assert.Equal(t, 99, s.Len())

	var prev string
	n := 0
	s.Ascend(func(key, _ string) bool {
		assert.Less(t, prev, key)
		prev = key
		n++
		return true
	})
	assert.Equal(t, 99, n)
}

func TestParseRecord(t *testing.T) {
	r, err := parseRecord(`PUT 7 "a b" "line\nbreak"`)
	require.NoError(t, err)
	assert.Equal(t, record{op: opPut, seq: 7, key: "a b", value: "line\nbreak"}, r)

	r, err = parseRecord(`DEL 8 "a b"`)
	require.NoError(t, err)
	assert.Equal(t, record{op: opDel, seq: 8, key: "a b"}, r)

	for _, bad := range []string{"", "PUT", "PUT x \"a\" \"b\"", `PUT 1 "a"`, `DEL 1 "a" "b"`, `NOP 1 "a"`} {
		_, err := parseRecord(bad)
		assert.Error(t, err, bad)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put("a", "1"))
	require.NoError(t, db.Put("b", "with space"))
	require.NoError(t, db.Put("a", "2"))
	ok, err := db.Delete("b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.Delete("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, db.Put("", ""))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	v, ok := db.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = db.Get("b")
	assert.False(t, ok)
	v, ok = db.Get("")
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, 2, db.Len())
}

func TestTornTailIsDropped(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put("a", "1"))
	require.NoError(t, db.Close())

	f, err := os.OpenFile(filepath.Join(dir, walName), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`PUT 2 "b" "unfinish`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put("c", "3"))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	_, ok := db.Get("b")
	assert.False(t, ok)
	v, _ := db.Get("c")
	assert.Equal(t, "3", v)
}

func TestUpdate(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	incr := func(old string, ok bool) (string, bool, error) {
		n := 0
		if ok {
			if n, err = strconv.Atoi(old); err != nil {
				return "", false, err
			}
		}
		return strconv.Itoa(n + 1), true, nil
	}
	require.NoError(t, db.Update("n", incr))
	require.NoError(t, db.Update("n", incr))
	v, _ := db.Get("n")
	assert.Equal(t, "2", v)

	require.NoError(t, db.Put("s", "x"))
	assert.Error(t, db.Update("s", incr))

	require.NoError(t, db.Update("n", func(string, bool) (string, bool, error) { return "", false, nil }))
	v, _ = db.Get("n")
	assert.Equal(t, "2", v)
}

func TestCompact(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithCompactThreshold(10), WithSyncWrites(true))
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, db.Put("k", strconv.Itoa(i)))
	}
	require.NoError(t, db.Put("other", "x"))
	require.NoError(t, db.Compact())
	require.NoError(t, db.Put("after", "y"))
	require.NoError(t, db.Close())

	_, n, err := replayWAL(filepath.Join(dir, walName), func(record) {})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	v, _ := db.Get("k")
	assert.Equal(t, "49", v)
	assert.Equal(t, 3, db.Len())
}

func TestCompactOnOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		require.NoError(t, db.Put("k", strconv.Itoa(i)))
	}
	require.NoError(t, db.Close())

	db, err = Open(dir, WithCompactThreshold(5))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, n, err := replayWAL(filepath.Join(dir, walName), func(record) {})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClosed(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Put("a", "1"), ErrClosed)
	_, err = db.Delete("a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Sync(), ErrClosed)
	assert.ErrorIs(t, db.Compact(), ErrClosed)
}
