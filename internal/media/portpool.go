package media

import (
	"fmt"
	"sync"
)

// PortPool hands out local RTP ports for media sessions. Ports are
// allocated in pairs: the even port carries RTP, the odd one is reserved
// for RTCP.
type PortPool struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	available map[int]bool
}

// NewPortPool creates a pool covering [minPort, maxPort). minPort is
// rounded up to the next even port.
func NewPortPool(minPort, maxPort int) *PortPool {
	if minPort%2 != 0 {
		minPort++
	}
	available := make(map[int]bool)
	for port := minPort; port < maxPort; port += 2 {
		available[port] = true
	}
	return &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		available: available,
	}
}

// Allocate returns an RTP port, removing it from the pool.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := range p.available {
		delete(p.available, port)
		return port, nil
	}
	return 0, fmt.Errorf("no RTP ports available in range %d-%d", p.minPort, p.maxPort)
}

// Release returns a port to the pool. Releasing a port outside the pool's
// range is ignored.
func (p *PortPool) Release(port int) {
	if port < p.minPort || port >= p.maxPort || port%2 != 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available[port] = true
}

// Free returns the number of unallocated port pairs.
func (p *PortPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}
