// Package models defines the data structures shared by the evidence, scoring
// and detection pipelines.
package models

import "time"

// Announcement is an observed (prefix, origin) pair to be classified.
type Announcement struct {
	Timestamp time.Time
	Prefix    string
	OriginASN uint32
	PeerASN   uint32 // 0 when unknown
	Collector string // e.g., "rrc00", empty for batch input
}

// Verdict is the outcome of classifying an announcement against the
// decision trie.
type Verdict string

// Verdicts
const (
	VerdictLegit         Verdict = "legit"
	VerdictHijack        Verdict = "hijack"
	VerdictUnknownPrefix Verdict = "unknown_prefix"
)

// String returns the verdict name.
func (v Verdict) String() string {
	return string(v)
}

// BGPEvent represents a detected origin hijack.
type BGPEvent struct {
	ID             string
	RunID          string
	CountryCode    string
	EventType      string // always hijack for now
	Severity       string // low, medium, high, critical
	AffectedASN    uint32 // first legal origin for the prefix
	HijackingASN   uint32
	AffectedPrefix string
	LegalOrigins   []uint32
	Details        map[string]interface{}
	DetectedAt     time.Time
}

// Severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// EventTypeHijack is the only event type emitted by the detector.
const EventTypeHijack = "hijack"
