package ops

import "github.com/unixpickle/anydiff"

// Maxout takes the maximum of every pair of adjacent
// components, halving the width of each row.
// Pairs never straddle rows, so every row must have an
// even width.
func Maxout(in anydiff.Res, n int) anydiff.Res {
	size := in.Output().Len()
	if size%(2*n) != 0 {
		panic("maxout requires an even row width")
	}
	even := make([]int, size/2)
	odd := make([]int, size/2)
	for i := range even {
		even[i] = 2 * i
		odd[i] = 2*i + 1
	}
	c := in.Output().Creator()
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return anydiff.ElemMax(
			anydiff.Map(c.MakeMapper(size, even), in),
			anydiff.Map(c.MakeMapper(size, odd), in),
		)
	})
}
