// Package cells implements the recurrent cells used by
// sequence-to-sequence encoders and decoders.
//
// Every cell is an anyrnn.Block whose state can be packed
// into a single row per sequence.
// Packed states let other components, such as attention
// queries and latent projections, treat a state as an
// ordinary vector.
package cells

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
)

// A Cell is a recurrent block with a fixed input, output,
// and state size.
type Cell interface {
	anyrnn.Block
	anynet.Parameterizer

	InputSize() int
	OutputSize() int

	// StateSize is the size of one packed state row.
	StateSize() int

	// SupportsBOWInit indicates whether BOWState may be
	// used.
	// This is fixed when the cell is created.
	SupportsBOWInit() bool

	// BOWState creates a packed state from a batch of
	// memory cells, one row of OutputSize() components per
	// sequence.
	BOWState(mem anydiff.Res, n int) anydiff.Res

	// PackState joins the parts of a state into rows.
	PackState(s anyrnn.State) anyvec.Vector

	// UnpackState is the inverse of PackState.
	UnpackState(v anyvec.Vector, n int) anyrnn.State

	// PackGrad is like PackState for state gradients.
	PackGrad(g anyrnn.StateGrad) anyvec.Vector

	// UnpackGrad is the inverse of PackGrad.
	UnpackGrad(v anyvec.Vector, n int) anyrnn.StateGrad
}

func allPresent(n int) anyrnn.PresentMap {
	res := make(anyrnn.PresentMap, n)
	for i := range res {
		res[i] = true
	}
	return res
}
