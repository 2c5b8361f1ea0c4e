package router

import (
	"strconv"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash/v2"
)

const (
	DefaultPartitionCount    = 271
	DefaultReplicationFactor = 20
	DefaultLoad              = 1.25
)

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

type member HostID

func (m member) String() string {
	return strconv.Itoa(int(m))
}

// Consistent routes over a consistent-hash ring, so adding or removing a
// host moves only the keys of its partitions.
type Consistent struct {
	ring *consistent.Consistent
}

func NewConsistent(hosts []HostID) *Consistent {
	// The ring cannot distribute partitions over an empty, non-nil member
	// list.
	var members []consistent.Member
	for _, h := range hosts {
		members = append(members, member(h))
	}
	ring := consistent.New(members, consistent.Config{
		PartitionCount:    DefaultPartitionCount,
		ReplicationFactor: DefaultReplicationFactor,
		Load:              DefaultLoad,
		Hasher:            hasher{},
	})
	return &Consistent{ring: ring}
}

func (r *Consistent) Host(command string, args []string) (HostID, bool) {
	return hostForKeys(command, args, r.pickHost)
}

func (r *Consistent) pickHost(key string) (HostID, bool) {
	m := r.ring.LocateKey([]byte(key))
	if m == nil {
		return 0, false
	}
	return HostID(m.(member)), true
}
