package httpcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/reactord/internal/filecache"
)

func TestResolveServesReadableFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("AAA"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cache := filecache.New(8)
	got := Resolve(cache, root, "/a.txt")
	if got.Status != StatusOK {
		t.Fatalf("Status = %v, want 200", got.Status)
	}
	if got.Size != 3 {
		t.Fatalf("Size = %d, want 3", got.Size)
	}
	got.Region.Release()
}

func TestResolveMissingFileReturns404(t *testing.T) {
	root := t.TempDir()
	cache := filecache.New(8)
	got := Resolve(cache, root, "/nope.txt")
	if got.Status != StatusNotFound {
		t.Fatalf("Status = %v, want 404", got.Status)
	}
}

func TestResolveWorldReadableDirectoryReturns400(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	cache := filecache.New(8)
	got := Resolve(cache, root, "/sub")
	if got.Status != StatusBadRequest {
		t.Fatalf("Status = %v, want 400 for a world-readable directory", got.Status)
	}
}

// TestResolveUnreadableDirectoryReturns403Before400 pins the check
// order: the world-read-bit test must run before the directory test,
// so a directory a client has no permission to read is reported as
// Forbidden rather than Bad Request.
func TestResolveUnreadableDirectoryReturns403Before400(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "locked")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	cache := filecache.New(8)
	got := Resolve(cache, root, "/locked")
	if got.Status != StatusForbidden {
		t.Fatalf("Status = %v, want 403 for a directory lacking the world-read bit", got.Status)
	}
}

func TestResolveUnreadableFileReturns403(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "secret.txt")
	if err := os.WriteFile(path, []byte("shh"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cache := filecache.New(8)
	got := Resolve(cache, root, "/secret.txt")
	if got.Status != StatusForbidden {
		t.Fatalf("Status = %v, want 403", got.Status)
	}
}
