package ops

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// maskedScore replaces the score of a masked position
// before the softmax.
const maskedScore = -1e9

// AttendRes is the result of an attention read.
// Its output is one context vector per batch element.
type AttendRes struct {
	anydiff.Res

	// Weights stores the normalized attention weights,
	// with one row of Length entries per batch element.
	Weights anyvec.Vector
}

// Attend computes additive attention over a memory.
//
// The memory holds n rows of length positions, and
// features holds the projected memory with the same
// layout.
// For batch element b and position t, the score is
//
//     s[b,t] = sum(vec * tanh(features[b,t] + query[b]))
//
// Scores are multiplied by the mask and normalized with
// a softmax over the positions whose mask is non-zero.
// Masked positions receive a weight of exactly zero.
//
// Every row of the mask must have a non-zero entry.
func Attend(features, query, vec, memory anydiff.Res, mask []float64,
	n, length int) *AttendRes {
	attnSize := vec.Output().Len()
	if features.Output().Len() != n*length*attnSize {
		panic("features size mismatch")
	}
	if query.Output().Len() != n*attnSize {
		panic("query size mismatch")
	}
	if memory.Output().Len()%(n*length) != 0 {
		panic("memory size mismatch")
	}
	c := memory.Output().Creator()
	memSize := memory.Output().Len() / (n * length)

	queries := anydiff.Map(repeatRows(c, n, length, attnSize), query)
	hidden := anydiff.Tanh(anydiff.Add(features, queries))
	scores := anydiff.MatMul(false, true,
		&anydiff.Matrix{Data: hidden, Rows: n * length, Cols: attnSize},
		&anydiff.Matrix{Data: vec, Rows: 1, Cols: attnSize},
	).Data
	if mask != nil {
		scores = applyMask(scores, mask, n, length)
	}
	weights := anydiff.Exp(anydiff.LogSoftmax(scores, length))

	spread := anydiff.Map(repeatRows(c, n*length, memSize, 1), weights)
	ones := make([]float64, n*length)
	for i := range ones {
		ones[i] = 1
	}
	return &AttendRes{
		Res:     mixRows(anydiff.Mul(spread, memory), ones, n, length),
		Weights: weights.Output(),
	}
}

func applyMask(scores anydiff.Res, mask []float64, n, length int) anydiff.Res {
	if len(mask) != n*length {
		panic("mask size mismatch")
	}
	penalty := make([]float64, len(mask))
	for b := 0; b < n; b++ {
		active := false
		for t := 0; t < length; t++ {
			if mask[b*length+t] == 0 {
				penalty[b*length+t] = maskedScore
			} else {
				active = true
			}
		}
		if !active {
			panic("attention row is fully masked")
		}
	}
	c := scores.Output().Creator()
	return anydiff.Add(
		anydiff.Mul(scores, anydiff.NewConst(Vector(c, mask))),
		anydiff.NewConst(Vector(c, penalty)),
	)
}
