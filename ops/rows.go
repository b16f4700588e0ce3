package ops

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// JoinRows concatenates batches row by row.
// Each part holds n rows, and the result holds n rows
// whose contents are the corresponding rows of every part.
func JoinRows(n int, parts ...anyvec.Vector) anyvec.Vector {
	if len(parts) == 0 {
		panic("nothing to join")
	}
	var joinMe []anyvec.Vector
	for i := 0; i < n; i++ {
		for _, part := range parts {
			cols := part.Len() / n
			joinMe = append(joinMe, part.Slice(cols*i, cols*(i+1)))
		}
	}
	return parts[0].Creator().Concat(joinMe...)
}

// SplitRows is the inverse of JoinRows.
// It splits each of the n rows of v into pieces of the
// given sizes.
func SplitRows(v anyvec.Vector, n int, sizes ...int) []anyvec.Vector {
	var rowSize int
	for _, size := range sizes {
		rowSize += size
	}
	if rowSize*n != v.Len() {
		panic("row size mismatch")
	}
	pieces := make([][]anyvec.Vector, len(sizes))
	for i := 0; i < n; i++ {
		offset := rowSize * i
		for j, size := range sizes {
			pieces[j] = append(pieces[j], v.Slice(offset, offset+size))
			offset += size
		}
	}
	res := make([]anyvec.Vector, len(sizes))
	for j, p := range pieces {
		res[j] = v.Creator().Concat(p...)
	}
	return res
}

// RowConcat is a differentiable version of JoinRows.
func RowConcat(n int, in ...anydiff.Res) anydiff.Res {
	if len(in) == 0 {
		panic("nothing to join")
	}
	var total int
	sizes := make([]int, len(in))
	for i, x := range in {
		sizes[i] = x.Output().Len() / n
		total += x.Output().Len()
	}

	// Row i of part p starts at offset(p) + i*size(p) in
	// the concatenation of the parts.
	table := make([]int, 0, total)
	for i := 0; i < n; i++ {
		var offset int
		for _, size := range sizes {
			start := offset + i*size
			for j := 0; j < size; j++ {
				table = append(table, start+j)
			}
			offset += size * n
		}
	}
	c := in[0].Output().Creator()
	return anydiff.Map(c.MakeMapper(total, table), anydiff.Concat(in...))
}

// RowSum sums each of the n rows of a batch, producing
// one component per row.
func RowSum(in anydiff.Res, n int) anydiff.Res {
	return anydiff.SumCols(&anydiff.Matrix{
		Data: in,
		Rows: n,
		Cols: in.Output().Len() / n,
	})
}
