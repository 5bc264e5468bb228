package cloud

import (
	"context"
	"math/rand/v2"

	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
	"github.com/hervehildenbrand/origin-guard/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Score is the uncertainty of one PO pair in each dimension.
type Score struct {
	Time       float64
	Space      float64
	Source     float64
	Total      float64
	Confidence float64
}

// Scored pairs a PO pair with its score.
type Scored struct {
	Pair  evidence.PoPair
	Score Score
}

// Score rates pair against the model using n draws per dimension.
//
// The source dimension is a half cloud: diversity at or above the
// population expectation has zero uncertainty and consumes no draws.
func (m *Model) Score(pair *evidence.PoPair, n int, rng *rand.Rand) Score {
	var s Score
	s.Time = 1 - Membership(pair.TimePersistence, m.Time, n, rng)
	s.Space = 1 - Membership(pair.SpaceConsistency, m.Space, n, rng)
	if pair.SourceConsistency < m.Source.Ex {
		s.Source = 1 - Membership(pair.SourceConsistency, m.Source, n, rng)
	}
	s.Total = (s.Time + s.Space + s.Source) / 3
	s.Confidence = 1 - s.Total
	return s
}

// ctxCheckInterval is how many pairs are scored between context checks in
// sequential mode.
const ctxCheckInterval = 1024

// ScoreAll scores every pair in order.
//
// With cfg.Workers <= 1 a single generator seeded from cfg.Seed is shared
// by all pairs in input order.  Otherwise pair i draws from its own
// generator seeded with the scoring seed XOR i, which makes the output
// independent of the worker count and of scheduling.
func ScoreAll(ctx context.Context, pairs []evidence.PoPair, m *Model, cfg Config) ([]Scored, error) {
	base := cfg.Seed + scoreSeedOffset
	out := make([]Scored, len(pairs))

	if cfg.Workers <= 1 {
		rng := NewRand(base)
		for i := range pairs {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			out[i] = Scored{Pair: pairs[i], Score: m.Score(&pairs[i], cfg.Simulations, rng)}
		}
		metrics.ScoredPairs.Add(float64(len(out)))
		log.Debugf("Scored %d pairs sequentially", len(pairs))
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range pairs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := NewRand(base ^ uint64(i))
			out[i] = Scored{Pair: pairs[i], Score: m.Score(&pairs[i], cfg.Simulations, rng)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.ScoredPairs.Add(float64(len(out)))
	log.Debugf("Scored %d pairs with %d workers", len(pairs), cfg.Workers)
	return out, nil
}
