// Package cloud fits a three-parameter cloud model (expectation, entropy,
// hyper-entropy) to the consistency metrics of a PO-pair population and
// scores individual pairs by Monte-Carlo membership simulation.
package cloud

import (
	"math"
	"math/rand/v2"

	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
	"gonum.org/v1/gonum/stat"
)

// Epsilon floors entropy draws so the membership kernel never divides by
// zero.
const Epsilon = 1e-12

// pcgStream is the fixed PCG increment used for every generator in the
// package.  Only the seed varies.
const pcgStream = 0x9e3779b97f4a7c15

// Seed offsets applied to the base seed for each bootstrap and for
// membership simulation.
const (
	timeSeedOffset   = 11
	spaceSeedOffset  = 13
	sourceSeedOffset = 17
	scoreSeedOffset  = 12345
)

// Default parameter values.
const (
	DefaultBootstraps  = 200
	DefaultSimulations = 200
)

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, pcgStream))
}

// Params describes the cloud fitted to one dimension.
type Params struct {
	Ex float64 `json:"Ex" yaml:"Ex"`
	En float64 `json:"En" yaml:"En"`
	He float64 `json:"He" yaml:"He"`
	N  int     `json:"n" yaml:"n"`
}

// Meta records the sample sizes used to fit a Model.
type Meta struct {
	Pairs          int  `json:"pairs" yaml:"pairs"`
	LiveTablePairs int  `json:"live_table_pairs" yaml:"live_table_pairs"`
	SpaceSamples   int  `json:"space_samples" yaml:"space_samples"`
	SourceSamples  int  `json:"source_samples" yaml:"source_samples"`
	LiveTableOnly  bool `json:"live_table_only" yaml:"live_table_only"`
}

// Model holds the cloud parameters of all three dimensions.
type Model struct {
	Time   Params `json:"time" yaml:"time"`
	Space  Params `json:"space" yaml:"space"`
	Source Params `json:"source" yaml:"source"`
	Meta   Meta   `json:"meta" yaml:"meta"`
}

// Config controls fitting and scoring.
type Config struct {
	// Bootstraps is the number of resamples used to estimate He.
	Bootstraps int

	// Simulations is the number of Monte-Carlo draws per membership
	// estimate.
	Simulations int

	// Seed is the base seed every generator is derived from.
	Seed uint64

	// LiveTableOnly restricts the space and source populations to pairs
	// corroborated by a live routing table.
	LiveTableOnly bool

	// Workers above 1 scores pairs in parallel with a per-pair generator.
	Workers int
}

// DefaultConfig returns the configuration used by the batch tools.
func DefaultConfig() Config {
	return Config{
		Bootstraps:    DefaultBootstraps,
		Simulations:   DefaultSimulations,
		LiveTableOnly: true,
		Workers:       1,
	}
}

func popStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.PopStdDev(values, nil)
}

// bootstrapHe estimates the hyper-entropy as the population standard
// deviation of the population standard deviations of n resamples.
func bootstrapHe(values []float64, n int, seed uint64) float64 {
	if len(values) < 2 || n <= 0 {
		return 0
	}
	rng := NewRand(seed)
	sample := make([]float64, len(values))
	spreads := make([]float64, n)
	for i := range spreads {
		for j := range sample {
			sample[j] = values[rng.IntN(len(values))]
		}
		spreads[i] = popStdDev(sample)
	}
	return popStdDev(spreads)
}

// Estimate fits a cloud to values.  An empty population yields Ex 0, and
// fewer than two values yield En at the Epsilon floor and He 0.
func Estimate(values []float64, bootstraps int, seed uint64) Params {
	p := Params{N: len(values)}
	if len(values) > 0 {
		p.Ex = stat.Mean(values, nil)
	}
	p.En = math.Max(popStdDev(values), Epsilon)
	p.He = math.Max(bootstrapHe(values, bootstraps, seed), 0)
	return p
}

// Fit estimates the time, space and source clouds of pairs.
func Fit(pairs []evidence.PoPair, cfg Config) Model {
	timeValues := make([]float64, 0, len(pairs))
	var spaceValues, sourceValues []float64
	liveTable := 0
	for i := range pairs {
		p := &pairs[i]
		timeValues = append(timeValues, p.TimePersistence)
		if p.HasLiveTable {
			liveTable++
		}
		if cfg.LiveTableOnly && !p.HasLiveTable {
			continue
		}
		spaceValues = append(spaceValues, p.SpaceConsistency)
		sourceValues = append(sourceValues, p.SourceConsistency)
	}

	m := Model{
		Time:   Estimate(timeValues, cfg.Bootstraps, cfg.Seed+timeSeedOffset),
		Space:  Estimate(spaceValues, cfg.Bootstraps, cfg.Seed+spaceSeedOffset),
		Source: Estimate(sourceValues, cfg.Bootstraps, cfg.Seed+sourceSeedOffset),
		Meta: Meta{
			Pairs:          len(pairs),
			LiveTablePairs: liveTable,
			SpaceSamples:   len(spaceValues),
			SourceSamples:  len(sourceValues),
			LiveTableOnly:  cfg.LiveTableOnly,
		},
	}
	log.Debugf("Fitted clouds over %d pairs (%d live-table): time %+v, "+
		"space %+v, source %+v", m.Meta.Pairs, liveTable, m.Time, m.Space,
		m.Source)
	return m
}
