package store

import "math/rand/v2"

const (
	maxLevel    = 12
	levelFactor = 0.25
)

type node struct {
	key     string
	value   string
	forward []*node
}

// skipList is an ordered map of live keys. It is not safe for concurrent use.
type skipList struct {
	header *node
	level  int
	size   int
}

func newSkipList() *skipList {
	return &skipList{header: &node{forward: make([]*node, maxLevel+1)}}
}

func (s *skipList) Len() int { return s.size }

func randomLevel() int {
	level := 0
	for level < maxLevel && rand.Float64() < levelFactor {
		level++
	}
	return level
}

// seek fills update with the rightmost node before key on every level and
// returns the node at key, if present.
func (s *skipList) seek(key string, update []*node) *node {
	x := s.header
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && x.forward[i].key < key {
			x = x.forward[i]
		}
		if update != nil {
			update[i] = x
		}
	}
	x = x.forward[0]
	if x != nil && x.key == key {
		return x
	}
	return nil
}

func (s *skipList) Get(key string) (string, bool) {
	if n := s.seek(key, nil); n != nil {
		return n.value, true
	}
	return "", false
}

// Put inserts or overwrites key and reports whether it was new.
func (s *skipList) Put(key, value string) bool {
	update := make([]*node, maxLevel+1)
	if n := s.seek(key, update); n != nil {
		n.value = value
		return false
	}

	level := randomLevel()
	if level > s.level {
		for i := s.level + 1; i <= level; i++ {
			update[i] = s.header
		}
		s.level = level
	}
	n := &node{key: key, value: value, forward: make([]*node, level+1)}
	for i := 0; i <= level; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	s.size++
	return true
}

// Delete unlinks key and reports whether it was present.
func (s *skipList) Delete(key string) bool {
	update := make([]*node, maxLevel+1)
	n := s.seek(key, update)
	if n == nil {
		return false
	}
	for i := 0; i <= s.level; i++ {
		if update[i].forward[i] != n {
			break
		}
		update[i].forward[i] = n.forward[i]
	}
	for s.level > 0 && s.header.forward[s.level] == nil {
		s.level--
	}
	s.size--
	return true
}

// Ascend calls fn for every key in order until fn returns false.
func (s *skipList) Ascend(fn func(key, value string) bool) {
	for x := s.header.forward[0]; x != nil; x = x.forward[0] {
		if !fn(x.key, x.value) {
			return
		}
	}
}
