// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package workerpool runs submitted tasks on a bounded set of goroutines fed
// from a single FIFO queue.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/xmppd/xmppd/logging"
)

const (
	DefaultCoreWorkers = 10
	DefaultMaxWorkers  = 20
	DefaultIdleTimeout = 120 * time.Second
)

// ErrShutdown is returned by Submit once the pool has been shut down.
var ErrShutdown = errors.New("worker pool is shut down")

// Task is a unit of work. Tasks must not block forever.
type Task func()

// Config sizes a Pool. Zero values take the defaults.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string

	// CoreWorkers are never retired for idleness.
	CoreWorkers int

	// MaxWorkers bounds the number of concurrently running tasks.
	MaxWorkers int

	// IdleTimeout is how long a worker above CoreWorkers waits for work
	// before exiting.
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CoreWorkers == 0 {
		c.CoreWorkers = DefaultCoreWorkers
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = DefaultMaxWorkers
		if c.CoreWorkers > c.MaxWorkers {
			c.MaxWorkers = c.CoreWorkers
		}
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Validate reports sizing errors.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.CoreWorkers < 1 {
		return fmt.Errorf("core workers must be at least 1, got %d", c.CoreWorkers)
	}
	if c.MaxWorkers < c.CoreWorkers {
		return fmt.Errorf("max workers (%d) must not be less than core workers (%d)", c.MaxWorkers, c.CoreWorkers)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}

// Stats is a point in time view of a pool.
type Stats struct {
	Name      string
	Workers   int
	Idle      int
	Queued    int
	Submitted uint64
	Completed uint64
	Core      int
	Max       int
}

// Pool executes tasks in admission order. Workers are started lazily: up to
// CoreWorkers for any load, and more up to MaxWorkers while a backlog exists.
// With a single worker tasks complete in exactly the order they were
// submitted.
type Pool struct {
	cfg    Config
	logger hclog.Logger

	submitCh   chan Task
	workCh     chan Task
	shutdownCh chan struct{}
	doneCh     chan struct{}

	// retiredCh wakes the dispatcher after a worker exited on idle timeout.
	retiredCh chan struct{}
	once       sync.Once

	// queue is owned by the dispatcher goroutine.
	queue []Task

	workers   int32
	idle      int32
	queued    int32
	submitted uint64
	completed uint64

	wg sync.WaitGroup
}

// New returns a running pool. The config must be valid.
func New(cfg Config, logger hclog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:        cfg,
		logger:     logger.Named(logging.Pool).With("pool", cfg.Name),
		submitCh:   make(chan Task),
		workCh:     make(chan Task),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		retiredCh:  make(chan struct{}, 1),
	}
	go p.dispatch()
	return p, nil
}

// Submit enqueues the task and returns without waiting for it to run.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case <-p.shutdownCh:
		return ErrShutdown
	default:
	}
	select {
	case p.submitCh <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	case <-p.shutdownCh:
		return ErrShutdown
	}
}

// Shutdown stops accepting tasks and abandons the queued ones. Running tasks
// are allowed to finish; Shutdown does not wait for them. It is safe to call
// more than once.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		close(p.shutdownCh)
		<-p.doneCh
		p.logger.Debug("worker pool shut down", "abandoned", len(p.queue))
	})
}

// IsShutdown reports whether Shutdown was called.
func (p *Pool) IsShutdown() bool {
	select {
	case <-p.shutdownCh:
		return true
	default:
		return false
	}
}

// Wait blocks until all workers have exited. Only meaningful after Shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats returns counters describing the pool.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.cfg.Name,
		Workers:   int(atomic.LoadInt32(&p.workers)),
		Idle:      int(atomic.LoadInt32(&p.idle)),
		Queued:    int(atomic.LoadInt32(&p.queued)),
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Core:      p.cfg.CoreWorkers,
		Max:       p.cfg.MaxWorkers,
	}
}

func (p *Pool) dispatch() {
	defer close(p.doneCh)
	for {
		var (
			next   Task
			workCh chan Task
		)
		if len(p.queue) > 0 {
			next = p.queue[0]
			workCh = p.workCh
			p.maybeSpawn()
		}

		select {
		case task := <-p.submitCh:
			p.queue = append(p.queue, task)
			atomic.AddInt32(&p.queued, 1)
			metrics.SetGaugeWithLabels([]string{"pool", "queued"}, float32(len(p.queue)),
				[]metrics.Label{{Name: "pool", Value: p.cfg.Name}})
		case workCh <- next:
			// the receiving worker is busy from here on
			atomic.AddInt32(&p.idle, -1)
			p.queue[0] = nil
			p.queue = p.queue[1:]
			atomic.AddInt32(&p.queued, -1)
		case <-p.retiredCh:
		case <-p.shutdownCh:
			atomic.StoreInt32(&p.queued, 0)
			return
		}
	}
}

// maybeSpawn starts a worker when there is a backlog nobody is waiting for.
// Only the dispatcher calls it, so the worker count cannot race past max.
func (p *Pool) maybeSpawn() {
	if atomic.LoadInt32(&p.idle) > 0 {
		return
	}
	n := atomic.LoadInt32(&p.workers)
	if int(n) >= p.cfg.MaxWorkers {
		return
	}
	atomic.AddInt32(&p.workers, 1)
	// counted idle until it picks up its first task
	atomic.AddInt32(&p.idle, 1)
	p.wg.Add(1)
	go p.work()

	metrics.SetGaugeWithLabels([]string{"pool", "workers"}, float32(n+1),
		[]metrics.Label{{Name: "pool", Value: p.cfg.Name}})
	if int(n) >= p.cfg.CoreWorkers {
		p.logger.Trace("growing above core size", "workers", n+1)
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	timer := time.NewTimer(p.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case task := <-p.workCh:
			p.run(task)
			atomic.AddInt32(&p.idle, 1)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.cfg.IdleTimeout)

		case <-timer.C:
			if p.retire() {
				return
			}
			timer.Reset(p.cfg.IdleTimeout)

		case <-p.shutdownCh:
			atomic.AddInt32(&p.idle, -1)
			atomic.AddInt32(&p.workers, -1)
			return
		}
	}
}

// retire exits an idle worker if the pool is above its core size.
func (p *Pool) retire() bool {
	for {
		n := atomic.LoadInt32(&p.workers)
		if int(n) <= p.cfg.CoreWorkers {
			return false
		}
		if atomic.CompareAndSwapInt32(&p.workers, n, n-1) {
			atomic.AddInt32(&p.idle, -1)
			select {
			case p.retiredCh <- struct{}{}:
			default:
			}
			p.logger.Trace("retired idle worker", "workers", n-1)
			return true
		}
	}
}

func (p *Pool) run(task Task) {
	defer atomic.AddUint64(&p.completed, 1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r)
		}
	}()
	task()
}
