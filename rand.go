package seq2seq

import "math/rand"

// A RandSource produces the random numbers used by
// scheduled sampling and by latent sampling.
//
// A *rand.Rand is a RandSource.
// A RandSource is not safe for concurrent use, so
// concurrent forward passes need separate sources.
type RandSource interface {
	// Float64 returns a uniform sample in [0, 1).
	Float64() float64

	// NormFloat64 returns a standard normal sample.
	NormFloat64() float64
}

// NewRandSource creates a deterministic RandSource.
func NewRandSource(seed int64) RandSource {
	return rand.New(rand.NewSource(seed))
}
