package seq2seq

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/seq2seq/ops"
	"github.com/unixpickle/seq2seq/params"
)

// Merge combines a token embedding with the previous
// attention contexts to produce a cell input.
type Merge struct {
	Input    *anynet.FC
	Contexts []*anydiff.Var

	MemorySize int
}

// NewMerge creates a Merge whose parameters come from the
// store.
func NewMerge(s *params.Store, key string, embSize, memSize, heads,
	outSize int) *Merge {
	res := &Merge{
		Input:      s.FC(key+"/input", embSize, outSize),
		MemorySize: memSize,
	}
	for i := 0; i < heads; i++ {
		res.Contexts = append(res.Contexts,
			s.Linear(fmt.Sprintf("%s/context%d", key, i), memSize, outSize))
	}
	return res
}

// Apply merges a batch of embeddings and contexts.
func (m *Merge) Apply(emb anydiff.Res, contexts []anydiff.Res, n int) anydiff.Res {
	return addContexts(m.Input.Apply(emb, n), m.Contexts, contexts, m.MemorySize, n)
}

// Parameters returns the merge parameters.
func (m *Merge) Parameters() []*anydiff.Var {
	return append(m.Input.Parameters(), m.Contexts...)
}

// OutputLayer maps a decoder step to logits.
//
// In linear mode, the logits are an affine function of
// the cell output and the contexts.
// In maxout mode, the cell output, the input embedding,
// and the contexts are mapped to CellSize values, which
// are reduced pairwise with a max, mapped to EmbedSize
// values, and finally mapped to the output.
type OutputLayer struct {
	Mode OutputMode

	CellSize   int
	EmbedSize  int
	MemorySize int

	CellOut  *anynet.FC
	Contexts []*anydiff.Var

	// Maxout only.
	Input  *anydiff.Var
	Reduce *anydiff.Var
	Final  *anynet.FC

	// Projection is nil unless the output layer produces
	// CellSize values which must be mapped to logits.
	Projection *anynet.FC
}

// NewOutputLayer creates an OutputLayer whose parameters
// come from the store.
//
// If project is true, the layer produces CellSize values
// and then projects them to vocab logits.
func NewOutputLayer(s *params.Store, key string, mode OutputMode, cellSize,
	embSize, memSize, heads, vocab int, project bool) *OutputLayer {
	outSize := vocab
	if project {
		outSize = cellSize
	}
	res := &OutputLayer{
		Mode:       mode,
		CellSize:   cellSize,
		EmbedSize:  embSize,
		MemorySize: memSize,
	}
	mergeSize := outSize
	if mode == MaxoutOutput {
		mergeSize = cellSize
		res.Input = s.Linear(key+"/input", embSize, cellSize)
		res.Reduce = s.Linear(key+"/reduce", cellSize/2, embSize)
		res.Final = s.FC(key+"/final", embSize, outSize)
	}
	res.CellOut = s.FC(key+"/cell", cellSize, mergeSize)
	for i := 0; i < heads; i++ {
		res.Contexts = append(res.Contexts,
			s.Linear(fmt.Sprintf("%s/context%d", key, i), memSize, mergeSize))
	}
	if project {
		res.Projection = s.FC(key+"/projection", cellSize, vocab)
	}
	return res
}

// Width returns the number of logits per batch element.
func (o *OutputLayer) Width() int {
	if o.Projection != nil {
		return o.Projection.OutCount
	} else if o.Final != nil {
		return o.Final.OutCount
	}
	return o.CellOut.OutCount
}

// Apply computes a batch of logits.
func (o *OutputLayer) Apply(cellOut, emb anydiff.Res, contexts []anydiff.Res,
	n int) anydiff.Res {
	out := o.CellOut.Apply(cellOut, n)
	if o.Mode == MaxoutOutput {
		out = anydiff.Add(out, ops.Linear(o.Input, emb, o.EmbedSize, n))
		out = addContexts(out, o.Contexts, contexts, o.MemorySize, n)
		out = ops.Maxout(out, n)
		out = ops.Linear(o.Reduce, out, o.CellSize/2, n)
		out = o.Final.Apply(out, n)
	} else {
		out = addContexts(out, o.Contexts, contexts, o.MemorySize, n)
	}
	if o.Projection != nil {
		out = o.Projection.Apply(out, n)
	}
	return out
}

// Parameters returns the output parameters.
func (o *OutputLayer) Parameters() []*anydiff.Var {
	res := append(o.CellOut.Parameters(), o.Contexts...)
	if o.Mode == MaxoutOutput {
		res = append(res, o.Input, o.Reduce)
		res = append(res, o.Final.Parameters()...)
	}
	if o.Projection != nil {
		res = append(res, o.Projection.Parameters()...)
	}
	return res
}

func addContexts(sum anydiff.Res, weights []*anydiff.Var, contexts []anydiff.Res,
	memSize, n int) anydiff.Res {
	if len(weights) != len(contexts) {
		panic("context count mismatch")
	}
	for i, ctx := range contexts {
		sum = anydiff.Add(sum, ops.Linear(weights[i], ctx, memSize, n))
	}
	return sum
}
