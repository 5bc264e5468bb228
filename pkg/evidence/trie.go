// Package evidence aggregates multi-source routing evidence into a binary
// trie keyed by prefix bits.
//
// Each terminal node records, per claimed origin ASN, a rolling five-day
// bitmap for every source kind that attested the pair and for every peer
// that observed it.  The rolling window aliases any two dates a multiple of
// five days apart into the same slot.
package evidence

import (
	"fmt"
	"sort"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
)

// NumDays is the width of the rolling evidence window.
const NumDays = 5

// Epoch is the reference date for the rolling day index.
var Epoch = time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

const secondsPerDay = 24 * 60 * 60

// noChild marks an absent child slot.
const noChild int32 = -1

// DayBitmap holds one 0/1 flag per rolling day.
type DayBitmap [NumDays]uint8

// Any reports whether any day is set.
func (b DayBitmap) Any() bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}

// DayIndex returns the rolling day slot for date.  A zero date maps to slot
// 0.  Dates before Epoch wrap to a non-negative slot.
func DayIndex(date time.Time) int {
	if date.IsZero() {
		return 0
	}
	y, m, d := date.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	days := int(day.Unix()/secondsPerDay - Epoch.Unix()/secondsPerDay)
	return ((days % NumDays) + NumDays) % NumDays
}

// node is a single arena slot.  The payload maps stay nil until the node
// becomes terminal.  written mirrors sources and flags every day slot an
// insertion touched, whatever the announced flag was.
type node struct {
	children [2]int32
	terminal bool
	sources  map[uint32]map[models.SourceKind]DayBitmap
	written  map[uint32]map[models.SourceKind]DayBitmap
	peers    map[uint32]map[string]DayBitmap
}

func newNode() node {
	return node{children: [2]int32{noChild, noChild}}
}

// originSources returns the kind map for origin, creating it when missing.
func (n *node) originSources(origin uint32) map[models.SourceKind]DayBitmap {
	return kindsFor(&n.sources, origin)
}

// originWritten returns the written-slot map for origin, creating it when
// missing.
func (n *node) originWritten(origin uint32) map[models.SourceKind]DayBitmap {
	return kindsFor(&n.written, origin)
}

func kindsFor(m *map[uint32]map[models.SourceKind]DayBitmap, origin uint32) map[models.SourceKind]DayBitmap {
	if *m == nil {
		*m = make(map[uint32]map[models.SourceKind]DayBitmap)
	}
	kinds, ok := (*m)[origin]
	if !ok {
		kinds = make(map[models.SourceKind]DayBitmap, int(models.NumSourceKinds))
		(*m)[origin] = kinds
	}
	return kinds
}

// originPeers returns the peer map for origin, creating it when missing.
func (n *node) originPeers(origin uint32) map[string]DayBitmap {
	if n.peers == nil {
		n.peers = make(map[uint32]map[string]DayBitmap)
	}
	peers, ok := n.peers[origin]
	if !ok {
		peers = make(map[string]DayBitmap)
		n.peers[origin] = peers
	}
	return peers
}

// Trie is an arena-backed evidence trie.  It is not safe for concurrent
// mutation; once built it may be read concurrently.
type Trie struct {
	nodes []node
}

// New returns an empty trie holding only the root node.
func New() *Trie {
	return &Trie{nodes: []node{newNode()}}
}

// Len returns the number of allocated nodes including the root.
func (t *Trie) Len() int {
	return len(t.nodes)
}

// Prefixes returns the number of terminal prefixes.
func (t *Trie) Prefixes() int {
	count := 0
	for i := range t.nodes {
		if t.nodes[i].terminal {
			count++
		}
	}
	return count
}

// child returns the index of the child of idx along bit, allocating it when
// create is set.
func (t *Trie) child(idx int32, bit byte, create bool) int32 {
	slot := bit - '0'
	next := t.nodes[idx].children[slot]
	if next != noChild || !create {
		return next
	}
	t.nodes = append(t.nodes, newNode())
	next = int32(len(t.nodes) - 1)
	t.nodes[idx].children[slot] = next
	return next
}

// find returns the node index addressed by bits or noChild.
func (t *Trie) find(bits string) int32 {
	idx := int32(0)
	for i := 0; i < len(bits); i++ {
		idx = t.child(idx, bits[i], false)
		if idx == noChild {
			return noChild
		}
	}
	return idx
}

// Insert records one evidence observation.  The day slot of the source
// bitmap is overwritten with the announced flag; a non-empty peer marks the
// peer bitmap for that day.  Nothing is modified when an argument is
// invalid.
func (t *Trie) Insert(bits string, origin uint32, kind models.SourceKind,
	announced bool, date time.Time, peer string) error {

	if !prefix.ValidBits(bits) {
		str := fmt.Sprintf("prefix bits %q contain characters other than 0 and 1", bits)
		return makeError(ErrInvalidPrefixBits, str)
	}
	if origin == 0 {
		return makeError(ErrInvalidOrigin, "origin ASN must be positive")
	}
	if !kind.Valid() {
		str := fmt.Sprintf("source kind %d is not defined", uint8(kind))
		return makeError(ErrInvalidSourceKind, str)
	}

	idx := int32(0)
	for i := 0; i < len(bits); i++ {
		idx = t.child(idx, bits[i], true)
	}

	n := &t.nodes[idx]
	n.terminal = true
	day := DayIndex(date)

	kinds := n.originSources(origin)
	days := kinds[kind]
	if announced {
		days[day] = 1
	} else {
		days[day] = 0
	}
	kinds[kind] = days

	written := n.originWritten(origin)
	mask := written[kind]
	mask[day] = 1
	written[kind] = mask

	if peer != "" {
		peers := n.originPeers(origin)
		peerDays := peers[peer]
		peerDays[day] = 1
		peers[peer] = peerDays
	}
	return nil
}

// InsertEvidence inserts a normalized evidence tuple.
func (t *Trie) InsertEvidence(ev models.Evidence) error {
	return t.Insert(ev.PrefixBits, ev.Origin, ev.Kind, ev.Announced, ev.Date, ev.Peer)
}

// View is a read-only copy of the evidence held by a terminal node.
type View struct {
	Sources map[uint32]map[models.SourceKind]DayBitmap
	Peers   map[uint32]map[string]DayBitmap
}

// Search returns the evidence recorded for exactly bits.  The second result
// is false when the path does not exist or no insertion ended there.
func (t *Trie) Search(bits string) (*View, bool) {
	idx := t.find(bits)
	if idx == noChild || !t.nodes[idx].terminal {
		return nil, false
	}

	n := &t.nodes[idx]
	view := &View{
		Sources: make(map[uint32]map[models.SourceKind]DayBitmap, len(n.sources)),
		Peers:   make(map[uint32]map[string]DayBitmap, len(n.peers)),
	}
	for origin, kinds := range n.sources {
		cp := make(map[models.SourceKind]DayBitmap, len(kinds))
		for k, v := range kinds {
			cp[k] = v
		}
		view.Sources[origin] = cp
	}
	for origin, peers := range n.peers {
		cp := make(map[string]DayBitmap, len(peers))
		for p, v := range peers {
			cp[p] = v
		}
		view.Peers[origin] = cp
	}
	return view, true
}

// sortedOrigins returns the origins of n in ascending order.
func (n *node) sortedOrigins() []uint32 {
	origins := make([]uint32, 0, len(n.sources))
	for origin := range n.sources {
		origins = append(origins, origin)
	}
	sort.Slice(origins, func(i, j int) bool { return origins[i] < origins[j] })
	return origins
}

// walkTerminals visits every terminal node depth first, node before
// children and the 0 branch before the 1 branch.
func (t *Trie) walkTerminals(fn func(bits string, n *node)) {
	type frame struct {
		idx  int32
		bits string
	}
	stack := []frame{{idx: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[f.idx]
		if n.terminal {
			fn(f.bits, n)
		}
		if c := n.children[1]; c != noChild {
			stack = append(stack, frame{idx: c, bits: f.bits + "1"})
		}
		if c := n.children[0]; c != noChild {
			stack = append(stack, frame{idx: c, bits: f.bits + "0"})
		}
	}
}
