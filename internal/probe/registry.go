package probe

import (
	"fmt"
	"sort"
	"time"
)

// Registry maps a network kind to the Prober that serves it.
type Registry struct {
	probers map[string]Prober
}

func NewRegistry() *Registry {
	return &Registry{probers: map[string]Prober{}}
}

// DefaultRegistry registers a NetProber for tcp and unix sockets.
func DefaultRegistry(dialTimeout time.Duration) *Registry {
	r := NewRegistry()
	p := NetProber{Timeout: dialTimeout}
	for _, network := range []string{"tcp", "tcp4", "tcp6", "unix"} {
		r.Register(network, p)
	}
	return r
}

func (r *Registry) Register(network string, p Prober) {
	r.probers[network] = p
}

func (r *Registry) Get(network string) (Prober, error) {
	p, ok := r.probers[network]
	if !ok {
		return nil, fmt.Errorf("prober not registered: %s", network)
	}
	return p, nil
}

// Networks lists the registered network kinds in sorted order.
func (r *Registry) Networks() []string {
	out := make([]string, 0, len(r.probers))
	for n := range r.probers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
