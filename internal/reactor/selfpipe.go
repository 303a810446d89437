package reactor

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// selfPipe turns asynchronous events — the periodic reaper alarm and a
// termination signal — into an ordinary epoll-readable fd, the classic
// self-pipe trick grounded on the raw-epoll example's signal channel,
// reshaped around a real pipe because Go has no POSIX signal-handler
// hook to write from directly: signal.Notify delivers to a channel,
// and a forwarding goroutine turns that channel into a byte written to
// the pipe, which is what the reactor's own goroutine actually waits
// on alongside every other fd.
type selfPipe struct {
	r, w int

	stopTicker chan struct{}
	stopSignal chan struct{}
}

const (
	pipeByteTick     = 't'
	pipeByteShutdown = 's'
)

func newSelfPipe() (*selfPipe, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return &selfPipe{r: fds[0], w: fds[1]}, nil
}

// runAlarm writes pipeByteTick into the pipe every tick, driving the
// reactor's timerheap.Tick calls (spec.md §4.5).
func (p *selfPipe) runAlarm(tick time.Duration) {
	p.stopTicker = make(chan struct{})
	ticker := time.NewTicker(tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = unix.Write(p.w, []byte{pipeByteTick})
			case <-p.stopTicker:
				return
			}
		}
	}()
}

// runSignalForwarder writes pipeByteShutdown into the pipe on SIGINT or
// SIGTERM, letting the reactor's own goroutine observe the request to
// stop through the same readiness path as any other event, rather than
// racing a signal handler against the epoll loop.
func (p *selfPipe) runSignalForwarder() {
	p.stopSignal = make(chan struct{})
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigc)
		for {
			select {
			case <-sigc:
				_, _ = unix.Write(p.w, []byte{pipeByteShutdown})
			case <-p.stopSignal:
				return
			}
		}
	}()
}

// drain reads and classifies every byte currently pending, returning
// whether a shutdown byte was among them.
func (p *selfPipe) drain() (shutdown bool) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(p.r, buf)
		if n > 0 {
			for _, b := range buf[:n] {
				if b == pipeByteShutdown {
					shutdown = true
				}
			}
		}
		if err != nil || n == 0 {
			return shutdown
		}
	}
}

func (p *selfPipe) close() {
	if p.stopTicker != nil {
		close(p.stopTicker)
	}
	if p.stopSignal != nil {
		close(p.stopSignal)
	}
	unix.Close(p.r)
	unix.Close(p.w)
}
