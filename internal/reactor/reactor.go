// Package reactor implements the single-threaded epoll event loop
// (spec.md §4.5, C5): it owns the listening socket, the epoll
// instance, the self-pipe, the timer heap, and the connection table,
// and is the only code in reactord that calls EpollCtl. Workers never
// touch the epoll set directly; they report what happened to a
// connection through a workerpool.Result, and only the reactor's
// result-draining goroutine turns that into a rearm or a drop. This is
// the corrected ownership discipline SPEC_FULL.md's Design Notes call
// for in place of the original design's raw-pointer cross-thread
// aliasing.
//
// Grounded on the raw epoll accept/read loop in the standalone
// go_raw_epoll_http_server example, generalized from its single
// goroutine into a reactor-plus-workers split, and on shockwave's
// server.Config/Stats field-default conventions for the reactor's own
// configuration surface.
package reactor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yourusername/reactord/internal/config"
	"github.com/yourusername/reactord/internal/conn"
	"github.com/yourusername/reactord/internal/filecache"
	"github.com/yourusername/reactord/internal/metrics"
	"github.com/yourusername/reactord/internal/timerheap"
	"github.com/yourusername/reactord/internal/workerpool"
)

// maxEventsPerWake bounds how many ready fds EpollWait returns in one
// call; it also sizes the worker pool's job queue (spec.md §4.4).
const maxEventsPerWake = 4096

// Reactor is the single-reactor, multi-worker server core.
type Reactor struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	cache   *filecache.Cache
	pool    *workerpool.Pool

	epfd     int
	listenFD int
	pipe     *selfPipe

	mu    sync.Mutex
	conns map[int]*conn.Connection

	// timerMu guards timers: Tick runs on the event loop's own
	// goroutine, but Add/Cancel are also called from the
	// result-draining goroutine when a dispatch completes, so the heap
	// needs its own lock distinct from the connection table's.
	timerMu sync.Mutex
	timers  *timerheap.Heap

	closing atomic.Bool
}

// New wires together a reactor from its already-constructed
// dependencies. It does not open any fd yet; call Run to do that.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, cache *filecache.Cache) *Reactor {
	pool := workerpool.New(cfg.WorkerCount, cfg.QueueCapacity, cache, cfg.DocumentRoot)
	return &Reactor{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		cache:   cache,
		pool:    pool,
		timers:  timerheap.New(nil),
		conns:   make(map[int]*conn.Connection),
	}
}

// Run opens the listening socket and epoll instance, starts the worker
// pool and the self-pipe's feeder goroutines, and blocks running the
// event loop until ctx is cancelled or a termination signal arrives.
func (r *Reactor) Run(ctx context.Context) error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r.epfd = epfd
	defer unix.Close(r.epfd)

	listenFD, err := listen(r.cfg.Addr)
	if err != nil {
		return err
	}
	r.listenFD = listenFD
	defer unix.Close(r.listenFD)

	if err := r.epollAdd(r.listenFD, unix.EPOLLIN); err != nil {
		return fmt.Errorf("reactor: register listener: %w", err)
	}

	pipe, err := newSelfPipe()
	if err != nil {
		return fmt.Errorf("reactor: self-pipe: %w", err)
	}
	r.pipe = pipe
	defer r.pipe.close()

	if err := r.epollAdd(r.pipe.r, unix.EPOLLIN); err != nil {
		return fmt.Errorf("reactor: register self-pipe: %w", err)
	}

	r.pipe.runAlarm(r.cfg.TimerTick)
	r.pipe.runSignalForwarder()

	r.pool.Start()

	var resultsWG sync.WaitGroup
	resultsWG.Add(1)
	go func() {
		defer resultsWG.Done()
		r.drainResults()
	}()

	go func() {
		<-ctx.Done()
		r.requestShutdown()
	}()

	r.logger.Info("reactor listening", zap.String("addr", r.cfg.Addr), zap.Int("workers", r.cfg.WorkerCount))

	err = r.loop()

	// Shutdown must happen before the wait, not after it via defer:
	// drainResults only returns once pool.Results() is closed, which
	// pool.Shutdown does. A deferred Shutdown would never run until Run
	// itself returns, and Run can't return until resultsWG.Wait() does,
	// so the wait would block forever on every termination path.
	r.pool.Shutdown()
	resultsWG.Wait()
	return err
}

// requestShutdown wakes the event loop via the self-pipe so it can
// observe closing on its own goroutine instead of being torn down
// from outside.
func (r *Reactor) requestShutdown() {
	if r.closing.CompareAndSwap(false, true) {
		_, _ = unix.Write(r.pipe.w, []byte{pipeByteShutdown})
	}
}

func (r *Reactor) loop() error {
	events := make([]unix.EpollEvent, maxEventsPerWake)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			switch {
			case fd == r.listenFD:
				r.acceptLoop()
			case fd == r.pipe.r:
				if r.pipe.drain() {
					return r.shutdown()
				}
				r.timerTick()
				if r.metrics != nil {
					r.metrics.TimerHeapSize.Set(float64(r.timerLen()))
				}
			default:
				r.dispatch(fd, ev.Events)
			}
		}

		if r.closing.Load() {
			return r.shutdown()
		}
	}
}

func (r *Reactor) acceptLoop() {
	for {
		connFD, _, err := unix.Accept(r.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			r.logger.Warn("accept failed", zap.Error(err))
			return
		}

		if r.connCount() >= r.cfg.MaxConnections {
			unix.Close(connFD)
			if r.metrics != nil {
				r.metrics.ConnectionsDropped.WithLabelValues(metrics.ReasonShutdown).Inc()
			}
			continue
		}

		if err := tuneAcceptedConn(connFD); err != nil {
			unix.Close(connFD)
			continue
		}

		c := conn.New(connFD)
		c.TimerHandle = r.timerAdd(func() { r.reapIdle(connFD) })

		if err := r.epollAddOneshot(connFD, unix.EPOLLIN); err != nil {
			r.logger.Warn("epoll_ctl add failed", zap.Int("fd", connFD), zap.Error(err))
			unix.Close(connFD)
			continue
		}

		r.mu.Lock()
		r.conns[connFD] = c
		r.mu.Unlock()

		if r.metrics != nil {
			r.metrics.ConnectionsAccepted.Inc()
			r.metrics.ConnectionsActive.Inc()
		}
	}
}

func (r *Reactor) dispatch(fd int, events uint32) {
	r.mu.Lock()
	c, ok := r.conns[fd]
	r.mu.Unlock()
	if !ok {
		return // fd was already dropped; a stale event can still arrive
	}

	// A hangup or error flag is dropped immediately on the reactor's own
	// goroutine, bypassing the worker pool entirely: there is no request
	// left to process, only a socket to tear down, so handing it to a
	// worker would just add latency to the drop.
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.drop(fd, c, metrics.ReasonPeerClosed)
		return
	}

	readable := events&unix.EPOLLIN != 0
	writable := events&unix.EPOLLOUT != 0

	timerheap.Cancel(c.TimerHandle)

	r.pool.Submit(workerpool.Job{Conn: c, Readable: readable, Writable: writable})
}

func (r *Reactor) drainResults() {
	for res := range r.pool.Results() {
		r.handleResult(res)
	}
}

func (r *Reactor) handleResult(res workerpool.Result) {
	c := res.Conn
	fd := c.FD

	if res.Err != nil {
		r.drop(fd, c, metrics.ReasonTransportError)
		return
	}

	switch res.Action {
	case conn.ActionRearmRead:
		c.TimerHandle = r.timerAdd(func() { r.reapIdle(fd) })
		if err := r.epollModOneshot(fd, unix.EPOLLIN); err != nil {
			r.drop(fd, c, metrics.ReasonTransportError)
			return
		}
		r.countRequest(c)
	case conn.ActionRearmWrite:
		c.TimerHandle = r.timerAdd(func() { r.reapIdle(fd) })
		if err := r.epollModOneshot(fd, unix.EPOLLOUT); err != nil {
			r.drop(fd, c, metrics.ReasonTransportError)
			return
		}
	case conn.ActionDrop:
		// Reaching here with no error means a response was built and
		// fully flushed before the connection was closed (a parse
		// failure, an error status, or a client that didn't ask to be
		// kept alive) rather than a raw transport failure, which is
		// reported separately above.
		r.countRequest(c)
		reason := metrics.ReasonPeerClosed
		if c.ParseFailed() {
			reason = metrics.ReasonParseError
		}
		r.drop(fd, c, reason)
	}
}

// countRequest records the status of the response a connection's last
// completed cycle actually produced.
func (r *Reactor) countRequest(c *conn.Connection) {
	if r.metrics != nil {
		r.metrics.Requests.WithLabelValues(strconv.Itoa(int(c.LastStatus()))).Inc()
	}
}

func (r *Reactor) reapIdle(fd int) {
	r.mu.Lock()
	c, ok := r.conns[fd]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.drop(fd, c, metrics.ReasonTimeout)
}

func (r *Reactor) drop(fd int, c *conn.Connection, reason string) {
	r.mu.Lock()
	_, ok := r.conns[fd]
	delete(r.conns, fd)
	r.mu.Unlock()
	if !ok {
		return
	}

	timerheap.Cancel(c.TimerHandle)
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	c.Close()
	unix.Close(fd)

	if r.metrics != nil {
		r.metrics.ConnectionsActive.Dec()
		r.metrics.ConnectionsDropped.WithLabelValues(reason).Inc()
	}
}

func (r *Reactor) shutdown() error {
	r.mu.Lock()
	fds := make([]int, 0, len(r.conns))
	for fd := range r.conns {
		fds = append(fds, fd)
	}
	r.mu.Unlock()

	for _, fd := range fds {
		r.mu.Lock()
		c := r.conns[fd]
		r.mu.Unlock()
		r.drop(fd, c, metrics.ReasonShutdown)
	}

	r.logger.Info("reactor shutting down")
	return nil
}

// timerAdd, timerTick, and timerLen serialize access to the shared
// heap slice, which Tick (event-loop goroutine) and Add (also called
// from the result-draining goroutine after a dispatch completes) both
// mutate. Cancel is intentionally excluded: it only flips a flag on a
// node already handed out and is called from inside a Tick-fired
// action (reapIdle -> drop), so locking it here would deadlock against
// the Tick call already holding timerMu.
func (r *Reactor) timerAdd(action func()) timerheap.Handle {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	return r.timers.Add(r.cfg.IdleTimeout, action)
}

func (r *Reactor) timerTick() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	r.timers.Tick()
}

func (r *Reactor) timerLen() int {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	return r.timers.Len()
}

func (r *Reactor) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Reactor) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *Reactor) epollAddOneshot(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events | unix.EPOLLET | unix.EPOLLONESHOT, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *Reactor) epollModOneshot(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events | unix.EPOLLET | unix.EPOLLONESHOT, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}
