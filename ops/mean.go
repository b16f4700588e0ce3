package ops

import "github.com/unixpickle/anydiff"

// MaskedMean averages the length positions of each batch
// element, ignoring positions where the mask is zero.
//
// This is equivalent to an attention read with uniform
// scores.
// If mask is nil, every position is used.
func MaskedMean(in anydiff.Res, mask []float64, n, length int) anydiff.Res {
	if mask != nil && len(mask) != n*length {
		panic("mask size mismatch")
	}
	weights := make([]float64, n*length)
	for b := 0; b < n; b++ {
		var count float64
		for t := 0; t < length; t++ {
			if mask == nil || mask[b*length+t] != 0 {
				count++
			}
		}
		if count == 0 {
			panic("mean row is fully masked")
		}
		for t := 0; t < length; t++ {
			if mask == nil || mask[b*length+t] != 0 {
				weights[b*length+t] = 1 / count
			}
		}
	}
	return mixRows(in, weights, n, length)
}

// mixRows computes, for every batch element b, the sum of
// the length rows of b scaled by the corresponding
// weights.
//
// The weights are constant, so the mix is a product with
// an n by n*length matrix.
func mixRows(in anydiff.Res, weights []float64, n, length int) anydiff.Res {
	mixer := make([]float64, n*n*length)
	for b := 0; b < n; b++ {
		for t := 0; t < length; t++ {
			mixer[b*n*length+b*length+t] = weights[b*length+t]
		}
	}
	c := in.Output().Creator()
	cols := in.Output().Len() / (n * length)
	return anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: anydiff.NewConst(Vector(c, mixer)), Rows: n, Cols: n * length},
		&anydiff.Matrix{Data: in, Rows: n * length, Cols: cols},
	).Data
}
