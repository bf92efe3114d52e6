package visitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hongminglow/savedu/internal/metrics"
)

// Options bounds a Registry.
type Options struct {
	IdleTTL time.Duration
	MaxSize int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type entry struct {
	visitor  *Visitor
	lastSeen time.Time
}

// Registry holds live visitors, evicting idle ones and the least recently seen one when full.
type Registry struct {
	mu       sync.Mutex
	visitors map[string]*entry
	build    Factory
	ttl      time.Duration
	maxSize  int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	teardown sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewRegistry(build Factory, opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 10000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		visitors: make(map[string]*entry),
		build:    build,
		ttl:      opts.IdleTTL,
		maxSize:  opts.MaxSize,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Get returns the visitor id, creating and starting its bundle on first use.
func (r *Registry) Get(id string) *Visitor {
	r.mu.Lock()
	if e, ok := r.visitors[id]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.visitor
	}

	var evicted *Visitor
	if len(r.visitors) >= r.maxSize {
		evicted = r.evictOldestLocked()
	}
	v := r.build(id)
	v.start()
	r.visitors[id] = &entry{visitor: v, lastSeen: r.now()}
	r.mu.Unlock()

	r.metrics.VisitorOpened()
	if evicted != nil {
		r.close(evicted)
	}
	return v
}

// Lookup returns a live visitor without creating one.
func (r *Registry) Lookup(id string) (*Visitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.visitors[id]
	if !ok {
		return nil, false
	}
	return e.visitor, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// Sweep closes visitors idle for longer than the TTL and returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	var idle []*Visitor
	r.mu.Lock()
	for id, e := range r.visitors {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.visitor)
			delete(r.visitors, id)
		}
	}
	r.mu.Unlock()

	for _, v := range idle {
		r.close(v)
	}
	if len(idle) > 0 {
		r.logger.Debug("evicted idle visitors", "count", len(idle))
	}
	return len(idle)
}

// StartJanitor sweeps every interval until Close.
func (r *Registry) StartJanitor(interval time.Duration) {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return
	}
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Close stops the janitor and tears down every visitor.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	done := r.done
	all := make([]*Visitor, 0, len(r.visitors))
	for id, e := range r.visitors {
		all = append(all, e.visitor)
		delete(r.visitors, id)
	}
	r.mu.Unlock()

	if done != nil {
		<-done
	}
	for _, v := range all {
		r.close(v)
	}
	r.teardown.Wait()
}

func (r *Registry) evictOldestLocked() *Visitor {
	var (
		oldestID string
		oldest   *entry
	)
	for id, e := range r.visitors {
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, e
		}
	}
	if oldest == nil {
		return nil
	}
	delete(r.visitors, oldestID)
	return oldest.visitor
}

// close tears v down in the background; pending remote sign-outs may still be running.
func (r *Registry) close(v *Visitor) {
	r.metrics.VisitorClosed()
	r.teardown.Add(1)
	go func() {
		defer r.teardown.Done()
		v.Close()
	}()
}
