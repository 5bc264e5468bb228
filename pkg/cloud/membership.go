package cloud

import (
	"math"
	"math/rand/v2"
)

// Membership estimates how well x fits the cloud p by averaging the
// Gaussian kernel over n entropy draws en' ~ Normal(En, He).  Every draw is
// taken from rng.  n below 1 is treated as 1.
func Membership(x float64, p Params, n int, rng *rand.Rand) float64 {
	if n < 1 {
		n = 1
	}
	en := math.Max(p.En, Epsilon)
	he := math.Max(p.He, 0)
	d2 := (x - p.Ex) * (x - p.Ex)

	var acc float64
	for i := 0; i < n; i++ {
		sample := math.Max(math.Abs(rng.NormFloat64()*he+en), Epsilon)
		acc += math.Exp(-d2 / (2 * sample * sample))
	}
	return acc / float64(n)
}
