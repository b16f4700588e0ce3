package ops

import "github.com/unixpickle/anydiff"

// Lookup selects rows of an embedding table, producing
// one row per id.
//
// The table is packed row-major with cols components per
// row.
func Lookup(table anydiff.Res, cols int, ids []int) anydiff.Res {
	size := table.Output().Len()
	numRows := size / cols
	mapping := make([]int, 0, len(ids)*cols)
	for _, id := range ids {
		if id < 0 || id >= numRows {
			panic("token id out of range")
		}
		for j := 0; j < cols; j++ {
			mapping = append(mapping, id*cols+j)
		}
	}
	c := table.Output().Creator()
	return anydiff.Map(c.MakeMapper(size, mapping), table)
}
