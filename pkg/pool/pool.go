// Package pool implements a fixed-capacity slot pool for hot-path structures.
// Unlike sync.Pool it never allocates past its configured bounds: a pool may
// optionally grow by a fixed block size up to a limited number of steps, so a
// leak surfaces as exhaustion instead of unbounded memory growth.
package pool

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/livekit/protocol/logger"
)

type Pool[T any] struct {
	name    string
	factory func() T

	mu      sync.Mutex
	locking bool

	free []T

	capacity     int
	growCapacity int
	maxGrowSteps int
	growSteps    int
	inUse        int
	peak         int

	logger logger.Logger
}

type config struct {
	growCapacity int
	maxGrowSteps int
	locking      bool
	logger       logger.Logger
}

type Option func(*config)

// WithGrowth allows the pool to grow by growCapacity items at a time, at most
// maxGrowSteps times.
func WithGrowth(growCapacity, maxGrowSteps int) Option {
	return func(c *config) {
		c.growCapacity = growCapacity
		c.maxGrowSteps = maxGrowSteps
	}
}

// WithoutLocking disables internal locking for pools owned by a single
// goroutine.
func WithoutLocking() Option {
	return func(c *config) {
		c.locking = false
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// New creates a pool of capacity items produced by factory. Pools are
// thread-safe unless WithoutLocking is given.
func New[T any](name string, capacity int, factory func() T, opts ...Option) *Pool[T] {
	c := &config{
		locking: true,
		logger:  logger.LogRLogger(logr.Discard()),
	}
	for _, opt := range opts {
		opt(c)
	}

	p := &Pool[T]{
		name:         name,
		factory:      factory,
		locking:      c.locking,
		free:         make([]T, 0, capacity),
		capacity:     capacity,
		growCapacity: c.growCapacity,
		maxGrowSteps: c.maxGrowSteps,
		logger:       c.logger,
	}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, factory())
	}
	return p
}

// Get returns a free item. ok is false when the pool is exhausted and cannot
// grow any further; callers treat that as fatal for the operation that needed
// the item.
func (p *Pool[T]) Get() (item T, ok bool) {
	if p.locking {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	if len(p.free) == 0 && !p.grow() {
		return item, false
	}

	item = p.free[len(p.free)-1]
	var zero T
	p.free[len(p.free)-1] = zero
	p.free = p.free[:len(p.free)-1]

	p.inUse++
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	return item, true
}

// Put returns an item to the pool.
func (p *Pool[T]) Put(item T) {
	if p.locking {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	p.free = append(p.free, item)
	p.inUse--
}

func (p *Pool[T]) grow() bool {
	if p.growCapacity <= 0 || p.growSteps >= p.maxGrowSteps {
		if p.maxGrowSteps > 0 {
			p.logger.Warnw("pool grew too many times", nil,
				"pool", p.name,
				"growSteps", p.growSteps,
			)
		}
		return false
	}
	for i := 0; i < p.growCapacity; i++ {
		p.free = append(p.free, p.factory())
	}
	p.capacity += p.growCapacity
	p.growSteps++
	p.logger.Infow("pool grown",
		"pool", p.name,
		"growCapacity", p.growCapacity,
		"capacity", p.capacity,
	)
	return true
}

type Stats struct {
	Capacity  int
	InUse     int
	Peak      int
	GrowSteps int
}

func (p *Pool[T]) Stats() Stats {
	if p.locking {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	return Stats{
		Capacity:  p.capacity,
		InUse:     p.inUse,
		Peak:      p.peak,
		GrowSteps: p.growSteps,
	}
}
