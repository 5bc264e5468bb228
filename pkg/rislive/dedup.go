package rislive

import (
	"strconv"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

const (
	// DefaultDedupWindow is the rotation period of the dedup filters.
	DefaultDedupWindow = 5 * time.Second

	// DefaultDedupCapacity is the expected number of distinct
	// announcements per window.
	DefaultDedupCapacity = 200000

	dedupFalsePositive = 0.001
)

// Deduplicator drops announcements of the same (prefix, origin, peer) seen
// by any collector recently.  It keeps two bloom filters: keys land in the
// current one, and both are consulted.  Every window the current filter
// becomes the previous one, so a key is remembered for between one and two
// windows.  It is not safe for concurrent use.
type Deduplicator struct {
	window   time.Duration
	capacity uint
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	rotated  time.Time
	now      func() time.Time
	buf      []byte
}

// NewDeduplicator returns a deduplicator.  Zero arguments select the
// defaults.
func NewDeduplicator(window time.Duration, capacity uint) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if capacity == 0 {
		capacity = DefaultDedupCapacity
	}
	d := &Deduplicator{
		window:   window,
		capacity: capacity,
		now:      time.Now,
	}
	d.current = bloom.NewWithEstimates(capacity, dedupFalsePositive)
	d.previous = bloom.NewWithEstimates(capacity, dedupFalsePositive)
	d.rotated = d.now()
	return d
}

func (d *Deduplicator) key(a *models.Announcement) []byte {
	b := d.buf[:0]
	b = append(b, a.Prefix...)
	b = append(b, '|')
	b = strconv.AppendUint(b, uint64(a.OriginASN), 10)
	b = append(b, '|')
	b = strconv.AppendUint(b, uint64(a.PeerASN), 10)
	d.buf = b
	return b
}

// Seen reports whether a was seen within the window and records it.
func (d *Deduplicator) Seen(a models.Announcement) bool {
	if now := d.now(); now.Sub(d.rotated) >= d.window {
		d.previous = d.current
		d.current = bloom.NewWithEstimates(d.capacity, dedupFalsePositive)
		d.rotated = now
	}

	key := d.key(&a)
	if d.previous.Test(key) {
		d.current.Add(key)
		return true
	}
	return d.current.TestAndAdd(key)
}
