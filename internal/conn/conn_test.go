package conn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/yourusername/reactord/internal/filecache"
	"github.com/yourusername/reactord/internal/httpcore"
)

// socketpair returns two connected, non-blocking unix-domain stream fds,
// standing in for a real accepted TCP connection without a real network.
func socketpair(t *testing.T) (serverFD, clientFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func writeAll(t *testing.T, fd int, data []byte) {
	t.Helper()
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("Write: %v", err)
		}
		data = data[n:]
	}
}

func readAll(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN {
				return out
			}
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			return out
		}
	}
}

func TestProcessServesFileAndKeepsAlive(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cache := filecache.New(8)
	server, client := socketpair(t)

	writeAll(t, client, []byte("GET /hello.txt HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))

	c := New(server)
	action, err := Process(c, true, false, cache, root)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if action != ActionRearmRead {
		t.Fatalf("action = %v, want ActionRearmRead", action)
	}

	resp := string(readAll(t, client))
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("response = %q", resp)
	}
	if !strings.Contains(resp, "Connection: keep-alive\r\n") {
		t.Fatalf("response = %q", resp)
	}
	if !strings.HasSuffix(resp, "hello world") {
		t.Fatalf("response body missing: %q", resp)
	}
	if c.LastStatus() != httpcore.StatusOK {
		t.Fatalf("LastStatus() = %v, want 200", c.LastStatus())
	}
	if c.ParseFailed() {
		t.Fatalf("ParseFailed() = true, want false for a well-formed request")
	}
}

func TestProcessMissingFileReturns404AndDrops(t *testing.T) {
	root := t.TempDir()

	cache := filecache.New(8)
	server, client := socketpair(t)

	writeAll(t, client, []byte("GET /nope.txt HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))

	c := New(server)
	action, err := Process(c, true, false, cache, root)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if action != ActionDrop {
		t.Fatalf("action = %v, want ActionDrop (errors always close)", action)
	}

	resp := string(readAll(t, client))
	if !strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("response = %q", resp)
	}
	if !strings.Contains(resp, "Connection: close\r\n") {
		t.Fatalf("response = %q", resp)
	}
	if c.LastStatus() != httpcore.StatusNotFound {
		t.Fatalf("LastStatus() = %v, want 404", c.LastStatus())
	}
	if c.ParseFailed() {
		t.Fatalf("ParseFailed() = true, want false for a well-formed request resolving to 404")
	}
}

func TestProcessMalformedRequestReturns400(t *testing.T) {
	root := t.TempDir()
	cache := filecache.New(8)
	server, client := socketpair(t)

	writeAll(t, client, []byte("GARBAGE\r\n\r\n"))

	c := New(server)
	action, err := Process(c, true, false, cache, root)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if action != ActionDrop {
		t.Fatalf("action = %v, want ActionDrop", action)
	}

	resp := string(readAll(t, client))
	if !strings.HasPrefix(resp, "HTTP/1.1 400 Bad Request\r\n") {
		t.Fatalf("response = %q", resp)
	}
	if c.LastStatus() != httpcore.StatusBadRequest {
		t.Fatalf("LastStatus() = %v, want 400", c.LastStatus())
	}
	if !c.ParseFailed() {
		t.Fatalf("ParseFailed() = false, want true for a malformed request line")
	}
}

func TestResetForNextRequestClearsStateBetweenKeepAliveRequests(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("AAA"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("BB"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cache := filecache.New(8)
	server, client := socketpair(t)
	c := New(server)

	writeAll(t, client, []byte("GET /a.txt HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	if action, err := Process(c, true, false, cache, root); err != nil || action != ActionRearmRead {
		t.Fatalf("first Process: action=%v err=%v", action, err)
	}
	first := readAll(t, client)
	if !strings.HasSuffix(string(first), "AAA") {
		t.Fatalf("first response = %q", first)
	}

	writeAll(t, client, []byte("GET /b.txt HTTP/1.1\r\nConnection: close\r\n\r\n"))
	action, err := Process(c, true, false, cache, root)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if action != ActionDrop {
		t.Fatalf("second action = %v, want ActionDrop", action)
	}
	second := readAll(t, client)
	if !strings.HasSuffix(string(second), "BB") {
		t.Fatalf("second response = %q", second)
	}
	if strings.Contains(string(second), "AAA") {
		t.Fatalf("stale buffer content leaked into second response: %q", second)
	}
}
