// Package workerpool implements the bounded pool of worker goroutines
// that run conn.Process (spec.md §4.4, C4), grounded on the
// channel-backed jobQueue/fixed-worker-set shape of
// WorkerPoolTCPServer/Worker in the weather-server example.
//
// The reactor is the sole owner of the connection table and the epoll
// set; a worker only ever sees a Connection it was handed in a Job and
// reports what happened back through a Result. It never calls
// EpollCtl itself.
package workerpool

import (
	"sync"

	"github.com/yourusername/reactord/internal/conn"
	"github.com/yourusername/reactord/internal/filecache"
)

// Job is one dispatch: the connection plus which readiness edges fired.
type Job struct {
	Conn     *conn.Connection
	Readable bool
	Writable bool
}

// Result reports what a worker did with a Job so the reactor can rearm
// or drop the fd.
type Result struct {
	Conn   *conn.Connection
	Action conn.Action
	Err    error
}

// Pool is a fixed-size set of workers draining a bounded job queue.
type Pool struct {
	cache       *filecache.Cache
	root        string
	workerCount int

	jobs    chan Job
	results chan Result

	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a pool with workerCount goroutines and a job queue of
// capacity queueCapacity (spec.md §4.4 default: 4096, matching the
// maximum number of epoll events the reactor can produce per wake).
func New(workerCount, queueCapacity int, cache *filecache.Cache, root string) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	return &Pool{
		cache:       cache,
		root:        root,
		workerCount: workerCount,
		jobs:        make(chan Job, queueCapacity),
		results:     make(chan Result, queueCapacity),
	}
}

// Start launches the worker goroutines. Call once.
func (p *Pool) Start() {
	p.wg.Add(p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		go p.runWorker()
	}
}

// Results exposes the channel workers publish completed jobs to. The
// reactor's result-draining goroutine drains this to decide
// rearm-vs-drop.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Submit enqueues a job, blocking while the queue is full — this is
// the pool's backpressure mechanism; the reactor's dispatch step is the
// only caller, and a full queue means it simply waits rather than
// dropping work (spec.md §4.4).
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Shutdown stops accepting new work and waits for in-flight jobs to
// drain. Idempotent: safe to call more than once.
func (p *Pool) Shutdown() {
	p.shutdown.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		close(p.results)
	})
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for job := range p.jobs {
		action, err := conn.Process(job.Conn, job.Readable, job.Writable, p.cache, p.root)
		p.results <- Result{Conn: job.Conn, Action: action, Err: err}
	}
}
