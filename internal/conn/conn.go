// Package conn implements the per-connection record (spec.md §3, C2)
// and the read-parse-respond-write cycle a worker runs against it
// (spec.md §4.3, C3). It never touches the reactor's epoll set: a
// worker communicates what should happen next to an fd only through
// the Action a call to Process returns, which the reactor's
// result-draining goroutine turns into an EpollCtl rearm or a drop — the cyclic-ownership
// fix spec.md §9's Design Notes calls for.
package conn

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/reactord/internal/filecache"
	"github.com/yourusername/reactord/internal/httpcore"
	"github.com/yourusername/reactord/internal/timerheap"
)

// Action tells the caller (a worker, then the reactor) what to do with
// a connection's fd after Process returns.
type Action int

const (
	// ActionRearmWrite means the plan isn't fully sent; wait for the
	// next writable-readiness event and resume.
	ActionRearmWrite Action = iota
	// ActionRearmRead means the response was fully flushed and the
	// connection is being kept alive; wait for the next request.
	ActionRearmRead
	// ActionDrop means the connection must be closed and released.
	ActionDrop
)

// Connection is one live socket's complete state, per spec.md §3.
// Exclusive access is established by the dispatch protocol: only the
// worker currently holding the reference obtained from the pool's
// queue mutates it, or the reactor between submissions.
type Connection struct {
	FD          int
	Events      uint32
	TimerHandle timerheap.Handle

	method    string
	target    string
	keepAlive bool

	readBuf [httpcore.ReadBufSize]byte
	readLen int

	writeBuf [httpcore.WriteBufSize]byte
	plan     httpcore.Plan
	sent     int

	fileRegion *filecache.Region

	// lastStatus and parseFailed describe the most recently built
	// response, for the reactor's metrics to report after Process
	// returns. They survive resetForNextRequest (unlike the rest of
	// the per-cycle fields above) since a keep-alive cycle resets
	// before Process returns to its caller.
	lastStatus  httpcore.Status
	parseFailed bool
}

// LastStatus returns the HTTP status of the most recently completed
// request cycle, for request-count metrics.
func (c *Connection) LastStatus() httpcore.Status { return c.lastStatus }

// ParseFailed reports whether the most recently completed request
// cycle ended in a malformed request line or headers, as opposed to a
// successfully parsed request that simply resolved to an error status.
func (c *Connection) ParseFailed() bool { return c.parseFailed }

// New creates a connection record for a freshly accepted fd.
func New(fd int) *Connection {
	c := &Connection{FD: fd}
	c.resetForNextRequest()
	return c
}

// resetForNextRequest clears parser state, buffers, method, target, and
// unmaps any file, preserving FD and TimerHandle (spec.md §4.2).
func (c *Connection) resetForNextRequest() {
	c.method = ""
	c.target = ""
	c.keepAlive = true
	c.readLen = 0
	c.plan = httpcore.Plan{}
	c.sent = 0
	c.releaseFile()
}

func (c *Connection) releaseFile() {
	if c.fileRegion != nil {
		c.fileRegion.Release()
		c.fileRegion = nil
	}
}

// Close releases any file mapping still held. The reactor calls this as
// part of the drop path after deregistering and closing the fd.
func (c *Connection) Close() {
	c.releaseFile()
}

// ErrTransportFatal marks a recv/writev failure the reactor should
// treat as TRANSPORT_FATAL (spec.md §7): drop without a response.
var ErrTransportFatal = errors.New("conn: transport fatal")

// Process runs one iteration of the state machine for a connection
// whose event mask included readable and/or writable readiness
// (spec.md §4.3). cache and root back the resolution step.
func Process(c *Connection, readable, writable bool, cache *filecache.Cache, root string) (Action, error) {
	if readable {
		action, err := drainAndHandle(c, cache, root)
		if err != nil || action != ActionRearmRead {
			return action, err
		}
		// Full cycle completed while draining (response sent
		// synchronously); resetForNextRequest already ran inside
		// drainAndHandle's write step.
		return action, nil
	}

	if writable {
		return resumeWrite(c)
	}

	return ActionDrop, nil
}

func drainAndHandle(c *Connection, cache *filecache.Cache, root string) (Action, error) {
	for {
		if c.readLen >= len(c.readBuf) {
			break // buffer full; fall through to parse, which will 400
		}
		n, err := unix.Read(c.FD, c.readBuf[c.readLen:])
		if n > 0 {
			c.readLen += n
		}
		if err != nil {
			if err == unix.EAGAIN {
				break // soft stop, per spec.md §4.3
			}
			return ActionDrop, ErrTransportFatal
		}
		if n == 0 {
			c.keepAlive = false // PEER_CLOSED
			break
		}
	}

	parsed, ok := httpcore.Parse(c.readBuf[:c.readLen])
	status := httpcore.StatusOK
	var resolved httpcore.Resolved

	if !ok {
		status = httpcore.StatusBadRequest
		c.parseFailed = true
	} else {
		c.parseFailed = false
		c.method = parsed.Method
		c.target = parsed.Target
		resolved = httpcore.Resolve(cache, root, parsed.Target)
		status = resolved.Status
	}

	requestKeepAlive := ok && parsed.KeepAlive && c.keepAlive

	var fileBytes []byte
	var fileSize int64
	if status == httpcore.StatusOK {
		c.fileRegion = resolved.Region
		fileBytes = resolved.Region.Data
		fileSize = resolved.Size
	}

	plan, keepAlive, err := httpcore.BuildResponse(c.writeBuf[:], status, requestKeepAlive, fileBytes, fileSize)
	if err != nil {
		// Header overflow: fall back to 500 per the pinned-down
		// decision recorded in DESIGN.md (reject, don't truncate).
		c.releaseFile()
		plan, keepAlive, err = httpcore.BuildResponse(c.writeBuf[:], httpcore.StatusInternalServerError, false, nil, 0)
		if err != nil {
			return ActionDrop, err
		}
		status = httpcore.StatusInternalServerError
		c.parseFailed = false
	}

	c.lastStatus = status
	c.plan = plan
	c.sent = 0
	c.keepAlive = keepAlive

	return flush(c)
}

func resumeWrite(c *Connection) (Action, error) {
	return flush(c)
}

// flush issues a scatter/gather write over the plan's remaining bytes,
// retrying on partial success within this call and rearming for
// writable-readiness on EAGAIN (spec.md §4.3).
func flush(c *Connection) (Action, error) {
	for {
		total := c.plan.Total()
		if c.sent >= total {
			c.releaseFile()
			if c.keepAlive {
				c.resetForNextRequest()
				return ActionRearmRead, nil
			}
			return ActionDrop, nil
		}

		iovs := remaining(c.plan, c.sent)
		n, err := unix.Writev(c.FD, iovs)
		if n > 0 {
			c.sent += n
		}
		if err != nil {
			if err == unix.EAGAIN {
				return ActionRearmWrite, nil
			}
			return ActionDrop, ErrTransportFatal
		}
		if n == 0 {
			return ActionDrop, ErrTransportFatal
		}
	}
}

// remaining computes the working view of plan skipping the first sent
// bytes, producing at most two non-empty ranges.
func remaining(plan httpcore.Plan, sent int) [][]byte {
	var out [][]byte

	h := plan.Header
	if sent < len(h) {
		out = append(out, h[sent:])
		sent = 0
	} else {
		sent -= len(h)
	}

	if sent < len(plan.Body) {
		out = append(out, plan.Body[sent:])
	}

	return out
}

// IdleTimeout is the duration a connection may sit without an observed
// event before the timer heap reaps it. spec.md §4.5: 3 * TIMESLOT = 15s.
const IdleTimeout = 3 * 5 * time.Second
