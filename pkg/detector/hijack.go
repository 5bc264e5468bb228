package detector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/google/uuid"
	"github.com/hervehildenbrand/origin-guard/pkg/metrics"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
)

// Classifier resolves the verdict of an announced origin for a prefix along
// with the legal origins consulted.  *decision.Trie implements it.
type Classifier interface {
	Classify(prefix string, origin uint32) (models.Verdict, []uint32, error)
}

const (
	// DefaultAlertTTL is how long a (prefix, origin) hijack alert suppresses
	// repeats of itself.
	DefaultAlertTTL = 5 * time.Minute

	// DefaultAlertCacheSize bounds the number of remembered alerts.
	DefaultAlertCacheSize = 65536
)

// Config tunes a HijackDetector.  Zero values select the defaults.
type Config struct {
	AlertTTL       time.Duration
	AlertCacheSize uint32
	RunID          string
}

// alertKey identifies an alert by masked prefix bits and hijacking origin,
// so different spellings of one network share a key.
type alertKey struct {
	bits   string
	origin uint32
}

func newAlertKey(pfx string, origin uint32) alertKey {
	bits, _, err := prefix.ToBits(pfx)
	if err != nil {
		bits = pfx
	}
	return alertKey{bits, origin}
}

// Stats is a snapshot of the detector counters.
type Stats struct {
	Processed  uint64
	Hijacks    uint64
	Suppressed uint64
	Dropped    uint64
	Errors     uint64
}

// HijackDetector classifies live announcements and emits an event for every
// hijack not already reported within the alert TTL.  Process is safe for
// concurrent use.
type HijackDetector struct {
	classifier Classifier
	events     chan<- models.BGPEvent
	runID      string
	alertTTL   time.Duration
	now        func() time.Time

	mu     sync.Mutex
	recent *lru.Map[alertKey, time.Time]

	processed  atomic.Uint64
	hijacks    atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
	errors     atomic.Uint64
}

// NewHijackDetector creates a detector sending events on events.
func NewHijackDetector(classifier Classifier, events chan<- models.BGPEvent, cfg Config) *HijackDetector {
	if cfg.AlertTTL <= 0 {
		cfg.AlertTTL = DefaultAlertTTL
	}
	if cfg.AlertCacheSize == 0 {
		cfg.AlertCacheSize = DefaultAlertCacheSize
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &HijackDetector{
		classifier: classifier,
		events:     events,
		runID:      cfg.RunID,
		alertTTL:   cfg.AlertTTL,
		now:        time.Now,
		recent:     lru.NewMap[alertKey, time.Time](cfg.AlertCacheSize),
	}
}

// RunID returns the identifier stamped on every emitted event.
func (d *HijackDetector) RunID() string {
	return d.runID
}

// Process classifies one announcement.  Announcements without an origin are
// ignored and yield an empty verdict.
func (d *HijackDetector) Process(a models.Announcement) models.Verdict {
	if a.OriginASN == 0 {
		return ""
	}
	d.processed.Add(1)

	start := time.Now()
	verdict, legal, err := d.classifier.Classify(a.Prefix, a.OriginASN)
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		d.errors.Add(1)
		log.Debugf("Unable to classify %s from AS%d: %v", a.Prefix, a.OriginASN, err)
		return ""
	}
	metrics.Verdicts.WithLabelValues(verdict.String()).Inc()
	if verdict != models.VerdictHijack {
		return verdict
	}
	d.hijacks.Add(1)

	now := d.now()
	if d.recentlyAlerted(newAlertKey(a.Prefix, a.OriginASN), now) {
		d.suppressed.Add(1)
		metrics.AlertsSuppressed.Inc()
		return verdict
	}

	event := d.newEvent(a, legal, now)

	// Non-blocking send
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		log.Warnf("Event channel full, dropping hijack of %s by AS%d", a.Prefix, a.OriginASN)
	}
	return verdict
}

// recentlyAlerted reports whether key alerted within the TTL and records
// the alert otherwise.
func (d *HijackDetector) recentlyAlerted(key alertKey, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.recent.Get(key); ok && now.Sub(last) < d.alertTTL {
		return true
	}
	d.recent.Put(key, now)
	return false
}

func (d *HijackDetector) newEvent(a models.Announcement, legal []uint32, now time.Time) models.BGPEvent {
	var affected uint32
	if len(legal) > 0 {
		affected = legal[0]
	}
	severity := Severity(a.Prefix, a.OriginASN, legal)

	flags := []string{"origin_not_legal"}
	switch severity {
	case models.SeverityCritical:
		flags = append(flags, "tier1_involved")
	case models.SeverityHigh:
		flags = append(flags, "large_prefix")
	}

	return models.BGPEvent{
		ID:             uuid.NewString(),
		RunID:          d.runID,
		EventType:      models.EventTypeHijack,
		Severity:       severity,
		AffectedASN:    affected,
		HijackingASN:   a.OriginASN,
		AffectedPrefix: a.Prefix,
		LegalOrigins:   legal,
		DetectedAt:     now,
		Details: map[string]interface{}{
			"legal_origins": legal,
			"hijacking_asn": a.OriginASN,
			"peer_asn":      a.PeerASN,
			"collector":     a.Collector,
			"flags":         flags,
		},
	}
}

// Severity rates a hijack: critical when a Tier-1 network is the hijacker
// or a legal origin, high for prefixes shorter than /16, medium otherwise.
func Severity(pfx string, hijacker uint32, legal []uint32) string {
	if IsTier1(hijacker) {
		return models.SeverityCritical
	}
	for _, asn := range legal {
		if IsTier1(asn) {
			return models.SeverityCritical
		}
	}
	if l := prefix.Length(pfx); l >= 0 && l < 16 {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// Stats returns a snapshot of the detector counters.
func (d *HijackDetector) Stats() Stats {
	return Stats{
		Processed:  d.processed.Load(),
		Hijacks:    d.hijacks.Load(),
		Suppressed: d.suppressed.Load(),
		Dropped:    d.dropped.Load(),
		Errors:     d.errors.Load(),
	}
}
