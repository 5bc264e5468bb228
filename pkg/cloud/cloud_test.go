package cloud

import (
	"context"
	"math"
	"testing"

	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate_Degenerate(t *testing.T) {
	empty := Estimate(nil, DefaultBootstraps, 0)
	assert.Equal(t, Params{Ex: 0, En: Epsilon, He: 0, N: 0}, empty)

	single := Estimate([]float64{0.7}, DefaultBootstraps, 0)
	assert.Equal(t, Params{Ex: 0.7, En: Epsilon, He: 0, N: 1}, single)

	constant := Estimate([]float64{2, 2, 2, 2}, DefaultBootstraps, 0)
	assert.Equal(t, 2.0, constant.Ex)
	assert.Equal(t, Epsilon, constant.En)
	assert.Zero(t, constant.He)
}

func TestEstimate_Population(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	p := Estimate(values, DefaultBootstraps, 7)

	assert.InDelta(t, 2.5, p.Ex, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), p.En, 1e-12)
	assert.Greater(t, p.He, 0.0)
	assert.Less(t, p.He, p.En)
	assert.Equal(t, 4, p.N)

	again := Estimate(values, DefaultBootstraps, 7)
	assert.Equal(t, p, again, "same seed must reproduce He exactly")

	other := Estimate(values, DefaultBootstraps, 8)
	assert.NotEqual(t, p.He, other.He)

	none := Estimate(values, 0, 7)
	assert.Zero(t, none.He)
}

func TestMembership(t *testing.T) {
	rng := NewRand(1)
	p := Params{Ex: 0.5, En: 0.1, He: 0.02}

	assert.Equal(t, 1.0, Membership(0.5, p, 100, rng), "x at Ex is a full member")

	crisp := Params{Ex: 0, En: 1, He: 0}
	assert.InDelta(t, math.Exp(-0.5), Membership(1, crisp, 10, rng), 1e-12)

	far := Membership(50, p, 100, rng)
	assert.GreaterOrEqual(t, far, 0.0)
	assert.Less(t, far, 1e-6)

	near := Membership(0.55, p, 500, rng)
	assert.Greater(t, near, 0.7)
	assert.Less(t, near, 1.0)

	assert.InDelta(t, math.Exp(-0.5), Membership(1, crisp, 0, rng), 1e-12, "n below 1 uses a single draw")
}

func TestMembership_Deterministic(t *testing.T) {
	p := Params{Ex: 0.3, En: 0.2, He: 0.1}
	a := Membership(0.45, p, 200, NewRand(42))
	b := Membership(0.45, p, 200, NewRand(42))
	assert.Equal(t, a, b)
}

func TestScore_HalfCloud(t *testing.T) {
	for _, src := range []Params{
		{Ex: 0.5, En: Epsilon, He: 0},
		{Ex: 0.5, En: 0.3, He: 0.2},
		{Ex: 0.5, En: 10, He: 5},
	} {
		m := &Model{
			Time:   Params{Ex: 1, En: 0.1},
			Space:  Params{Ex: 1, En: 0.1},
			Source: src,
		}
		for _, x := range []float64{0.5, 0.62, 1.0} {
			pair := &evidence.PoPair{TimePersistence: 1, SpaceConsistency: 1, SourceConsistency: x}
			s := m.Score(pair, 50, NewRand(3))
			assert.Zero(t, s.Source, "x=%v params=%+v", x, src)
		}
	}

	m := &Model{Source: Params{Ex: 0.64, En: 0.2, He: 0.05}}
	below := m.Score(&evidence.PoPair{SourceConsistency: 0.26}, 200, NewRand(3))
	assert.Greater(t, below.Source, 0.0)
}

func TestScore_Bounds(t *testing.T) {
	m := &Model{
		Time:   Params{Ex: 0.8, En: 0.15, He: 0.05},
		Space:  Params{Ex: 2.1, En: 0.7, He: 0.3},
		Source: Params{Ex: 0.6, En: 0.1, He: 0.04},
	}
	rng := NewRand(99)
	for i := 0; i < 200; i++ {
		pair := &evidence.PoPair{
			TimePersistence:   rng.Float64(),
			SpaceConsistency:  rng.Float64() * 5,
			SourceConsistency: rng.Float64(),
		}
		s := m.Score(pair, 20, rng)
		for _, u := range []float64{s.Time, s.Space, s.Source, s.Total} {
			assert.GreaterOrEqual(t, u, 0.0)
			assert.LessOrEqual(t, u, 1.0)
		}
		assert.Equal(t, 1-s.Total, s.Confidence)
		assert.InDelta(t, (s.Time+s.Space+s.Source)/3, s.Total, 1e-15)
	}
}

func testPairs() []evidence.PoPair {
	pairs := make([]evidence.PoPair, 0, 40)
	for i := 0; i < 40; i++ {
		pairs = append(pairs, evidence.PoPair{
			PrefixBits:        "01",
			Origin:            uint32(64500 + i),
			HasLiveTable:      i%3 != 0,
			TimePersistence:   0.3 + float64(i%7)/10,
			SpaceConsistency:  math.Log1p(float64(i % 9)),
			SourceConsistency: []float64{0.26, 0.62, 1.0, 0.36}[i%4],
		})
	}
	return pairs
}

func TestFit_LiveTableFilter(t *testing.T) {
	pairs := testPairs()

	filtered := Fit(pairs, DefaultConfig())
	assert.Equal(t, 40, filtered.Meta.Pairs)
	assert.Equal(t, 26, filtered.Meta.LiveTablePairs)
	assert.Equal(t, 26, filtered.Meta.SpaceSamples)
	assert.Equal(t, 26, filtered.Meta.SourceSamples)
	assert.Equal(t, 40, filtered.Time.N)
	assert.True(t, filtered.Meta.LiveTableOnly)

	cfg := DefaultConfig()
	cfg.LiveTableOnly = false
	all := Fit(pairs, cfg)
	assert.Equal(t, 40, all.Meta.SpaceSamples)
	assert.Equal(t, 40, all.Space.N)
	assert.Equal(t, filtered.Time, all.Time)

	assert.Equal(t, filtered, Fit(pairs, DefaultConfig()))
}

func TestFit_Empty(t *testing.T) {
	m := Fit(nil, DefaultConfig())
	assert.Zero(t, m.Time.Ex)
	assert.Equal(t, Epsilon, m.Space.En)
	assert.Zero(t, m.Source.He)
	assert.Zero(t, m.Meta.Pairs)
}

func TestScoreAll_Sequential(t *testing.T) {
	pairs := testPairs()
	cfg := DefaultConfig()
	m := Fit(pairs, cfg)

	a, err := ScoreAll(context.Background(), pairs, &m, cfg)
	require.NoError(t, err)
	b, err := ScoreAll(context.Background(), pairs, &m, cfg)
	require.NoError(t, err)
	require.Len(t, a, len(pairs))
	assert.Equal(t, a, b)
	for i := range a {
		assert.Equal(t, pairs[i], a[i].Pair)
	}
}

func TestScoreAll_ParallelIndependentOfWorkers(t *testing.T) {
	pairs := testPairs()
	cfg := DefaultConfig()
	m := Fit(pairs, cfg)

	cfg.Workers = 2
	two, err := ScoreAll(context.Background(), pairs, &m, cfg)
	require.NoError(t, err)

	cfg.Workers = 8
	eight, err := ScoreAll(context.Background(), pairs, &m, cfg)
	require.NoError(t, err)

	assert.Equal(t, two, eight)
}

func TestScoreAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pairs := testPairs()
	cfg := DefaultConfig()
	m := Fit(pairs, cfg)

	_, err := ScoreAll(ctx, pairs, &m, cfg)
	assert.ErrorIs(t, err, context.Canceled)

	cfg.Workers = 4
	_, err = ScoreAll(ctx, pairs, &m, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}
