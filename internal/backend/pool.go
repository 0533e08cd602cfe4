package backend

import (
	"sync"
	"time"

	"baas/internal/types"

	"github.com/sirupsen/logrus"
)

// Pool hands out transports so that a screenshot provider and an input
// controller on the same method share one underlying connection. The shared
// transport is initialised by the first lease and exited by the last.
type Pool struct {
	factory Factory
	log     *logrus.Entry

	mu      sync.Mutex
	entries map[Method]*entry
}

type entry struct {
	t    types.Transport
	refs int
}

func NewPool(factory Factory, log *logrus.Entry) *Pool {
	return &Pool{
		factory: factory,
		log:     log,
		entries: make(map[Method]*entry),
	}
}

// Get returns a lease for m. The lease does nothing until Init.
func (p *Pool) Get(m Method) (*Lease, error) {
	if !m.Valid() {
		return nil, types.Configurationf("backend: get", "unknown method %d", int(m))
	}
	return &Lease{pool: p, method: m}, nil
}

// Refs reports how many initialised leases hold m.
func (p *Pool) Refs(m Method) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[m]; ok {
		return e.refs
	}
	return 0
}

func (p *Pool) acquire(m Method) (types.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[m]; ok {
		if err := p.reviveLocked(m, e.t); err != nil {
			return nil, err
		}
		e.refs++
		return e.t, nil
	}

	t, err := p.factory(m)
	if err != nil {
		return nil, err
	}
	if err := t.Init(); err != nil {
		t.Exit()
		return nil, err
	}
	p.log.Infof("backend: %s transport up", m)
	p.entries[m] = &entry{t: t, refs: 1}
	return t, nil
}

// reviveLocked re-initialises a shared transport whose session was lost.
func (p *Pool) reviveLocked(m Method, t types.Transport) error {
	r, ok := t.(types.Recoverable)
	if !ok || !r.Dead() {
		return nil
	}
	p.log.Warnf("backend: %s transport lost, reconnecting", m)
	return t.Init()
}

func (p *Pool) revive(m Method, t types.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reviveLocked(m, t)
}

func (p *Pool) release(m Method) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[m]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(p.entries, m)
	e.t.Exit()
	p.log.Infof("backend: %s transport released", m)
}

// Lease is a Transport view onto a pooled transport.
type Lease struct {
	pool   *Pool
	method Method

	mu sync.Mutex
	t  types.Transport
}

func (l *Lease) Method() Method { return l.method }

// Transport returns the shared transport, or nil before Init.
func (l *Lease) Transport() types.Transport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t
}

func (l *Lease) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.t != nil {
		return l.pool.revive(l.method, l.t)
	}
	t, err := l.pool.acquire(l.method)
	if err != nil {
		return err
	}
	l.t = t
	return nil
}

func (l *Lease) Exit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.t == nil {
		return
	}
	l.t = nil
	l.pool.release(l.method)
}

func (l *Lease) get(op string) (types.Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.t == nil {
		return nil, &types.Error{Kind: types.ErrClosed, Op: op}
	}
	if err := l.pool.revive(l.method, l.t); err != nil {
		return nil, err
	}
	return l.t, nil
}

func (l *Lease) Capture(dst *types.Frame) error {
	t, err := l.get("backend: capture")
	if err != nil {
		return err
	}
	return t.Capture(dst)
}

func (l *Lease) Tap(x, y int) error {
	t, err := l.get("backend: tap")
	if err != nil {
		return err
	}
	return t.Tap(x, y)
}

func (l *Lease) LongTap(x, y int, d time.Duration) error {
	t, err := l.get("backend: long tap")
	if err != nil {
		return err
	}
	return t.LongTap(x, y, d)
}

func (l *Lease) Swipe(x1, y1, x2, y2 int, d time.Duration) error {
	t, err := l.get("backend: swipe")
	if err != nil {
		return err
	}
	return t.Swipe(x1, y1, x2, y2, d)
}

func (l *Lease) IsLossy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.t == nil {
		return false
	}
	return l.t.IsLossy()
}
