// Package rtpmedia implements the ExternalMedia RTP transport: one UDP
// socket per call from a configured port range, inbound de-jitter and echo
// filtering, outbound packets at 20 ms cadence.
package rtpmedia

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoPorts is returned when every port in the configured range is in use.
var ErrNoPorts = errors.New("rtpmedia: port range exhausted")

// PortAllocator hands out UDP ports from a fixed range, one per call.
type PortAllocator struct {
	min, max int

	mu   sync.Mutex
	used map[int]bool
	next int
}

// NewPortAllocator creates an allocator over [min, max] inclusive.
func NewPortAllocator(min, max int) (*PortAllocator, error) {
	if min <= 0 || max < min {
		return nil, fmt.Errorf("rtpmedia: invalid port range %d-%d", min, max)
	}
	return &PortAllocator{
		min:  min,
		max:  max,
		used: make(map[int]bool),
		next: min,
	}, nil
}

// Allocate reserves a free port. The scan starts after the last handout so
// recently released ports are not reused immediately.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		port := a.min + (a.next-a.min+i)%size
		if !a.used[port] {
			a.used[port] = true
			a.next = port + 1
			if a.next > a.max {
				a.next = a.min
			}
			return port, nil
		}
	}
	return 0, ErrNoPorts
}

// Release returns a port to the pool. Releasing an unallocated port is a
// no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	delete(a.used, port)
	a.mu.Unlock()
}

// InUse returns the number of allocated ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
