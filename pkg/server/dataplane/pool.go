package dataplane

import (
	"sync"

	"github.com/portablefn/fnharness/pkg/data"
)

// ObserverFactory builds an observer wired to the endpoints of a bundle.
type ObserverFactory func() (*data.InboundObserver, error)

// observerPool keeps observers of finished bundles so that their registries and
// queues are reused by later instructions.
type observerPool struct {
	mu      sync.Mutex
	free    []*data.InboundObserver
	max     int
	factory ObserverFactory
}

func newObserverPool(factory ObserverFactory, max int) *observerPool {
	return &observerPool{factory: factory, max: max}
}

func (p *observerPool) get() (*data.InboundObserver, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		o := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return o, nil
	}
	p.mu.Unlock()
	return p.factory()
}

// put resets o and keeps it for reuse. o must not be in use by a producer or a
// consumer.
func (p *observerPool) put(o *data.InboundObserver) {
	o.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.max {
		p.free = append(p.free, o)
	}
}
