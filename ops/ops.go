// Package ops composes anydiff primitives into the
// batched operations of a sequence-to-sequence model,
// such as masked attention, maxout, and embedding
// lookups.
//
// All batched values are packed row-major, with one row
// per batch element.
package ops

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Floats copies the contents of a vector into a new
// []float64, for inspecting results.
func Floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return append([]float64{}, data...)
	default:
		panic(fmt.Sprintf("unsupported numeric list: %T", data))
	}
}

// Vector creates a vector from a []float64.
func Vector(c anyvec.Creator, data []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(data))
}

// Linear multiplies every row of in by a weight matrix
// with no bias, like an anynet.FC without biases.
//
// The weights are stored row-major with one row per
// output component.
func Linear(weights, in anydiff.Res, inSize, n int) anydiff.Res {
	if in.Output().Len() != inSize*n {
		panic("input size mismatch")
	}
	outSize := weights.Output().Len() / inSize
	inMat := &anydiff.Matrix{Data: in, Rows: n, Cols: inSize}
	weightMat := &anydiff.Matrix{Data: weights, Rows: outSize, Cols: inSize}
	return anydiff.MatMul(false, true, inMat, weightMat).Data
}

// Output extracts one output of a MultiRes.
// Back-propagating through the result uses zero upstream
// vectors for every other output.
func Output(m anydiff.MultiRes, idx int) anydiff.Res {
	if idx < 0 || idx >= len(m.Outputs()) {
		panic("output index out of range")
	}
	return anydiff.Unfuse(m, func(r []anydiff.Res) anydiff.Res {
		return r[idx]
	})
}

// repeatRows creates a mapper which turns n rows of cols
// components into n groups of times copies of each row.
func repeatRows(c anyvec.Creator, n, times, cols int) anyvec.Mapper {
	table := make([]int, 0, n*times*cols)
	for b := 0; b < n; b++ {
		for t := 0; t < times; t++ {
			for k := 0; k < cols; k++ {
				table = append(table, b*cols+k)
			}
		}
	}
	return c.MakeMapper(n*cols, table)
}
