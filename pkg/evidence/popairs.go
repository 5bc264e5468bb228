package evidence

import (
	"math"
	"sort"

	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

// dayWeights decay with the rolling day index: w[d] = exp(-d/2).
var dayWeights = func() [NumDays]float64 {
	var w [NumDays]float64
	for d := range w {
		w[d] = math.Exp(-float64(d) / 2)
	}
	return w
}()

// PoPair holds the consistency metrics derived for one (prefix, origin)
// pair.
type PoPair struct {
	PrefixBits string
	Origin     uint32

	// Sources lists the kinds that attested the pair, sorted by name.
	Sources      []models.SourceKind
	HasLiveTable bool
	PeerCount    int
	TimeVector   [NumDays]int

	TimePersistence   float64
	SpaceConsistency  float64
	SourceConsistency float64
}

// PoPairs derives the metrics of every (prefix, origin) pair in the trie.
// Prefixes are visited depth first and origins in ascending order, so the
// result is deterministic for a given trie.
func (t *Trie) PoPairs() []PoPair {
	var pairs []PoPair
	t.walkTerminals(func(bits string, n *node) {
		for _, origin := range n.sortedOrigins() {
			pairs = append(pairs, derivePair(bits, origin, n))
		}
	})
	return pairs
}

func derivePair(bits string, origin uint32, n *node) PoPair {
	pair := PoPair{
		PrefixBits: bits,
		Origin:     origin,
		PeerCount:  len(n.peers[origin]),
	}

	// Kinds are summed in enumeration order so the float result does not
	// depend on map iteration.
	kinds := n.sources[origin]
	for _, kind := range models.AllSourceKinds() {
		days, ok := kinds[kind]
		if !ok {
			continue
		}
		pair.Sources = append(pair.Sources, kind)
		pair.SourceConsistency += kind.Weight()
		for d, v := range days {
			if v == 0 {
				continue
			}
			pair.TimeVector[d]++
			if kind == models.SourceLiveTable {
				pair.HasLiveTable = true
			}
		}
	}
	sort.Slice(pair.Sources, func(i, j int) bool {
		return pair.Sources[i].String() < pair.Sources[j].String()
	})

	var total, weighted float64
	for d, count := range pair.TimeVector {
		total += float64(count)
		weighted += float64(count) * dayWeights[d]
	}
	if total > 0 {
		pair.TimePersistence = weighted / total
	}
	pair.SpaceConsistency = math.Log1p(float64(pair.PeerCount))
	return pair
}
