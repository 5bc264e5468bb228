// Package decision compiles confident PO pairs into a trie of legal origins
// and classifies announcements against it.
package decision

import (
	"fmt"
	"sort"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
)

// DefaultThreshold is the minimum confidence a pair needs to be authorized.
const DefaultThreshold = 0.6

const noChild int32 = -1

// InsertResult describes what Insert did with an origin.
type InsertResult int

// Insert outcomes.
const (
	// Inserted means the origin was added to the legal set.
	Inserted InsertResult = iota

	// AlreadyLegal means the origin was already a member.
	AlreadyLegal

	// Rejected means the prefix already had a different legal origin and
	// the conflict was logged.
	Rejected
)

// String returns a human-readable name for the result.
func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyLegal:
		return "already legal"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("unknown InsertResult (%d)", int(r))
}

// Options tunes the insertion policy.
type Options struct {
	// AllowMultipleOrigins authorizes every confident origin of a prefix.
	// When unset the first origin inserted for a prefix is the only legal
	// one and later distinct origins are recorded as conflicts.
	AllowMultipleOrigins bool
}

type node struct {
	children [2]int32
	legal    []uint32
}

func newNode() node {
	return node{children: [2]int32{noChild, noChild}}
}

// Trie is an arena-backed trie of legal origin sets.  It is not safe for
// concurrent mutation; a built trie may be classified against from many
// goroutines.
type Trie struct {
	nodes     []node
	conflicts map[string]map[uint32]struct{}
	opts      Options
}

// New returns an empty decision trie.
func New(opts Options) *Trie {
	return &Trie{
		nodes:     []node{newNode()},
		conflicts: make(map[string]map[uint32]struct{}),
		opts:      opts,
	}
}

// Options returns the insertion policy of the trie.
func (t *Trie) Options() Options {
	return t.opts
}

// Len returns the number of allocated nodes including the root.
func (t *Trie) Len() int {
	return len(t.nodes)
}

// Prefixes returns the number of prefixes with a non-empty legal set.
func (t *Trie) Prefixes() int {
	count := 0
	for i := range t.nodes {
		if len(t.nodes[i].legal) > 0 {
			count++
		}
	}
	return count
}

// Insert authorizes origin for the prefix addressed by bits, subject to the
// trie's policy.
func (t *Trie) Insert(bits string, origin uint32) (InsertResult, error) {
	if !prefix.ValidBits(bits) {
		str := fmt.Sprintf("prefix bits %q contain characters other than 0 and 1", bits)
		return 0, makeError(ErrInvalidPrefixBits, str)
	}
	if origin == 0 {
		return 0, makeError(ErrInvalidOrigin, "origin ASN must be positive")
	}

	idx := int32(0)
	for i := 0; i < len(bits); i++ {
		slot := bits[i] - '0'
		next := t.nodes[idx].children[slot]
		if next == noChild {
			t.nodes = append(t.nodes, newNode())
			next = int32(len(t.nodes) - 1)
			t.nodes[idx].children[slot] = next
		}
		idx = next
	}

	n := &t.nodes[idx]
	pos := sort.Search(len(n.legal), func(i int) bool { return n.legal[i] >= origin })
	switch {
	case pos < len(n.legal) && n.legal[pos] == origin:
		return AlreadyLegal, nil

	case len(n.legal) == 0 || t.opts.AllowMultipleOrigins:
		n.legal = append(n.legal, 0)
		copy(n.legal[pos+1:], n.legal[pos:])
		n.legal[pos] = origin
		return Inserted, nil
	}

	t.logConflict(bits, n.legal, origin)
	return Rejected, nil
}

func (t *Trie) logConflict(bits string, existing []uint32, origin uint32) {
	set, ok := t.conflicts[bits]
	if !ok {
		set = make(map[uint32]struct{}, len(existing)+1)
		t.conflicts[bits] = set
	}
	for _, asn := range existing {
		set[asn] = struct{}{}
	}
	set[origin] = struct{}{}
	log.Debugf("Conflict at %q: AS%d rejected, legal origins %v", bits, origin, existing)
}

// Lookup returns a copy of the legal origins of exactly bits.  The second
// result is false when the path is missing or the set is empty.
func (t *Trie) Lookup(bits string) ([]uint32, bool) {
	idx := int32(0)
	for i := 0; i < len(bits); i++ {
		if bits[i] != '0' && bits[i] != '1' {
			return nil, false
		}
		idx = t.nodes[idx].children[bits[i]-'0']
		if idx == noChild {
			return nil, false
		}
	}
	legal := t.nodes[idx].legal
	if len(legal) == 0 {
		return nil, false
	}
	return append([]uint32(nil), legal...), true
}

// Conflicts returns the conflict log: for each contested prefix, the sorted
// set of every origin involved.
func (t *Trie) Conflicts() map[string][]uint32 {
	out := make(map[string][]uint32, len(t.conflicts))
	for bits, set := range t.conflicts {
		out[bits] = sortedSet(set)
	}
	return out
}

// ConflictCount returns the number of contested prefixes.
func (t *Trie) ConflictCount() int {
	return len(t.conflicts)
}

func sortedSet(set map[uint32]struct{}) []uint32 {
	asns := make([]uint32, 0, len(set))
	for asn := range set {
		asns = append(asns, asn)
	}
	sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })
	return asns
}

// ClassifyBits classifies origin against the prefix addressed by bits and
// returns the legal origins consulted.
func (t *Trie) ClassifyBits(bits string, origin uint32) (models.Verdict, []uint32) {
	legal, ok := t.Lookup(bits)
	if !ok {
		return models.VerdictUnknownPrefix, nil
	}
	pos := sort.Search(len(legal), func(i int) bool { return legal[i] >= origin })
	if pos < len(legal) && legal[pos] == origin {
		return models.VerdictLegit, legal
	}
	return models.VerdictHijack, legal
}

// Classify parses a textual prefix and classifies origin against it.  The
// trie only holds IPv4 evidence, so IPv6 prefixes are always unknown.
func (t *Trie) Classify(pfx string, origin uint32) (models.Verdict, []uint32, error) {
	bits, family, err := prefix.ToBits(pfx)
	if err != nil {
		return "", nil, Error{Err: ErrInvalidPrefix, Description: err.Error()}
	}
	if family != prefix.IPv4 {
		return models.VerdictUnknownPrefix, nil, nil
	}
	verdict, legal := t.ClassifyBits(bits, origin)
	return verdict, legal, nil
}

// Candidate is a scored PO pair offered to Build.
type Candidate struct {
	PrefixBits string
	Origin     uint32
	Confidence float64
}

// BuildStats counts what Build did with its candidates.
type BuildStats struct {
	Considered     int
	BelowThreshold int
	Inserted       int
	AlreadyLegal   int
	Rejected       int
	Invalid        int
}

// Accepted returns the number of candidates that cleared the threshold.
func (s BuildStats) Accepted() int {
	return s.Inserted + s.AlreadyLegal + s.Rejected + s.Invalid
}

// Build inserts, in the given order, every candidate whose confidence is at
// least threshold.  The order matters: with the default policy the first
// confident origin of a prefix wins.
func Build(candidates []Candidate, threshold float64, opts Options) (*Trie, BuildStats) {
	t := New(opts)
	var stats BuildStats
	for _, c := range candidates {
		stats.Considered++
		if c.Confidence < threshold {
			stats.BelowThreshold++
			continue
		}
		result, err := t.Insert(c.PrefixBits, c.Origin)
		if err != nil {
			stats.Invalid++
			log.Warnf("Skipping candidate AS%d %q: %v", c.Origin, c.PrefixBits, err)
			continue
		}
		switch result {
		case Inserted:
			stats.Inserted++
		case AlreadyLegal:
			stats.AlreadyLegal++
		case Rejected:
			stats.Rejected++
		}
	}
	log.Infof("Built decision trie: %d candidates, %d below threshold %.2f, "+
		"%d inserted, %d rejected, %d conflicting prefixes", stats.Considered,
		stats.BelowThreshold, threshold, stats.Inserted, stats.Rejected,
		t.ConflictCount())
	return t, stats
}
