package httpcore

import (
	"os"

	"github.com/yourusername/reactord/internal/filecache"
)

// Resolved is the outcome of resolving a request target under the
// document root (spec.md §4.3).
type Resolved struct {
	Status Status
	Region *filecache.Region // non-nil only for StatusOK; caller must Release
	Size   int64
}

// worldReadBit is the "others" read permission bit checked by spec.md's
// "not readable by others (no world-read bit)" rule.
const worldReadBit = 0004

// Resolve composes filesystem_path = root + target, stats it, and
// either mmaps it (via cache) or returns the appropriate error status.
// The world-read-bit check runs before the directory check, so a
// directory lacking the world-read bit reports 403 rather than 400;
// only a world-readable directory falls through to the 400 case.
func Resolve(cache *filecache.Cache, root, target string) Resolved {
	// Literal concatenation, not filepath.Join: spec.md §6 documents
	// that "/.." traversal is not sanitized in this design, and Join
	// would clean it away.
	path := root + target

	info, err := os.Stat(path)
	if err != nil {
		return Resolved{Status: StatusNotFound}
	}

	if info.Mode().Perm()&worldReadBit == 0 {
		return Resolved{Status: StatusForbidden}
	}

	if info.IsDir() {
		return Resolved{Status: StatusBadRequest}
	}

	f, err := os.Open(path)
	if err != nil {
		return Resolved{Status: StatusForbidden}
	}
	defer f.Close()

	size := info.Size()
	region, err := cache.Get(path, f, size)
	if err != nil {
		return Resolved{Status: StatusInternalServerError}
	}

	return Resolved{Status: StatusOK, Region: region, Size: size}
}
