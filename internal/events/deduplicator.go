package events

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultDedupWindow suppresses repeats of the same registration.
const DefaultDedupWindow = 5 * time.Minute

// Deduplicator suppresses events for a source image already announced by
// the same source within a window. Importing several detection files for
// one raster announces it once.
type Deduplicator struct {
	seen *cache.Cache

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64
}

// NewDeduplicator returns a deduplicator for window. A non-positive window
// returns nil, which processes everything. NewBus treats a zero window as
// DefaultDedupWindow, so bus callers pass a negative window to disable it.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		return nil
	}
	return &Deduplicator{seen: cache.New(window, window*2)}
}

// ShouldProcess reports whether event is new within the window.
func (d *Deduplicator) ShouldProcess(event SourceImageRegistered) bool {
	if d == nil {
		return true
	}
	d.totalSeen.Add(1)

	// Add fails if the key is present and unexpired
	if err := d.seen.Add(dedupKey(event), struct{}{}, cache.DefaultExpiration); err != nil {
		d.totalSuppressed.Add(1)
		return false
	}
	return true
}

// Stats returns the number of events seen and suppressed.
func (d *Deduplicator) Stats() (seen, suppressed uint64) {
	if d == nil {
		return 0, 0
	}
	return d.totalSeen.Load(), d.totalSuppressed.Load()
}

func dedupKey(e SourceImageRegistered) string {
	return e.Source + "|" + strconv.FormatUint(uint64(e.ProjectID), 10) + "|" + e.VendorID + "|" + e.RunID
}
