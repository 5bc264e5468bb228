package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies the feed an evidence record came from.
type SourceKind uint8

// Source kinds.  The set is closed; NumSourceKinds must follow the last one.
const (
	SourceLiveTable SourceKind = iota
	SourceRegistry
	SourceAttestation

	NumSourceKinds
)

// sourceNames holds the canonical name of each kind.
var sourceNames = [NumSourceKinds]string{
	SourceLiveTable:   "live-table",
	SourceRegistry:    "registry",
	SourceAttestation: "attestation",
}

// sourceWeights are cumulative: a pair seen in every feed scores 1.0.
var sourceWeights = [NumSourceKinds]float64{
	SourceLiveTable:   0.26,
	SourceRegistry:    0.36,
	SourceAttestation: 0.38,
}

// sourceAliases maps the feed names used by the collectors onto kinds.
var sourceAliases = map[string]SourceKind{
	"live-table":  SourceLiveTable,
	"rib":         SourceLiveTable,
	"registry":    SourceRegistry,
	"irr":         SourceRegistry,
	"attestation": SourceAttestation,
	"rpki":        SourceAttestation,
	"roa":         SourceAttestation,
}

// AllSourceKinds returns every kind in enumeration order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceLiveTable, SourceRegistry, SourceAttestation}
}

// Valid reports whether k is one of the defined kinds.
func (k SourceKind) Valid() bool {
	return k < NumSourceKinds
}

// String returns the canonical name of the kind.
func (k SourceKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
	return sourceNames[k]
}

// Weight returns the fixed source-consistency weight of the kind, or 0 for
// an invalid kind.
func (k SourceKind) Weight() float64 {
	if !k.Valid() {
		return 0
	}
	return sourceWeights[k]
}

// ParseSourceKind parses a canonical name or a collector alias such as RIB,
// IRR or RPKI.  Matching is case-insensitive.
func ParseSourceKind(s string) (SourceKind, error) {
	k, ok := sourceAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown source kind %q", s)
	}
	return k, nil
}

// MarshalText encodes the kind by name.
func (k SourceKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid source kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind by name or alias.
func (k *SourceKind) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Evidence is a normalized evidence tuple as emitted by the feed collectors.
type Evidence struct {
	PrefixBits string     // network bits, most significant first
	Origin     uint32     // announcing ASN, never 0
	Kind       SourceKind // feed the record came from
	Announced  bool
	Date       time.Time // zero when the feed carries no date
	Peer       string    // observing peer, empty when none
}
