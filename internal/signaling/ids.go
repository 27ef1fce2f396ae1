package signaling

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDSource hands out connection ids. Implementations must never return the
// same value twice.
type IDSource interface {
	Next() string
}

// IDAllocator issues decimal ids from a monotonically increasing counter.
type IDAllocator struct {
	next atomic.Uint64
}

// NewIDAllocator seeds the counter from the wall clock in milliseconds, so ids
// issued by a restarted relay do not collide with ids stale clients still hold.
func NewIDAllocator() *IDAllocator {
	return NewIDAllocatorFrom(uint64(time.Now().UnixMilli()))
}

// NewIDAllocatorFrom returns an allocator whose first id is seed.
func NewIDAllocatorFrom(seed uint64) *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(seed)
	return a
}

func (a *IDAllocator) Next() string {
	return strconv.FormatUint(a.next.Add(1)-1, 10)
}
