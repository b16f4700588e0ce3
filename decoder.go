package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq/cells"
	"github.com/unixpickle/seq2seq/ops"
	"k8s.io/klog/v2"
)

// A Decoder produces target logits one timestep at a
// time while attending to an encoder memory.
type Decoder struct {
	Cell cells.Cell

	// Embedding is the target embedding table, with
	// EmbedSize components per token.
	Embedding anydiff.Res
	EmbedSize int

	Attention *Attention
	Merge     *Merge
	Output    *OutputLayer

	// InitialStateAttention computes the first step's
	// contexts from the start state instead of using
	// zeros.
	InitialStateAttention bool
}

// DecodeInput is the input to Decoder.Decode.
type DecodeInput struct {
	// Memory holds Length positions per batch element.
	Memory anydiff.Res
	Length int

	// Mask is nil or holds one row of Length entries per
	// batch element.
	Mask []float64

	// Start is the packed start state.
	Start anydiff.Res

	// Inputs are the time-major ground-truth inputs.
	// The number of timesteps decides the output length.
	Inputs [][]int

	// FeedPrevious is the probability of feeding the
	// previous step's argmax instead of the ground truth.
	// Values outside of [0, 1] are clamped.
	FeedPrevious float64

	// Rand is required when FeedPrevious is strictly
	// between 0 and 1.
	Rand RandSource

	// BOWMask is nil or holds one row of logit multipliers
	// per batch element.
	BOWMask anyvec.Vector
}

// Decoding is the output of a Decoder.
// It is an anyseq.Seq of logits.
type Decoding struct {
	// Fed stores the token ids that were actually used as
	// inputs at every timestep.
	Fed [][]int

	// Logits stores the output of every timestep.
	Logits []anydiff.Res

	// Reads stores the attention reads of every timestep,
	// one per head.
	Reads [][]*ops.AttendRes

	// InitialContexts are the contexts used by the first
	// timestep's merge.
	InitialContexts []anydiff.Res

	// FinalState is the packed state after the last step.
	FinalState anyvec.Vector

	input   *DecodeInput
	decoder *Decoder
	n       int

	memPool      *anydiff.Var
	startPool    *anydiff.Var
	features     []anydiff.Res
	featurePools []*anydiff.Var
	initPools    []*anydiff.Var

	steps []*decoderStep
	out   []*anyseq.Batch
	v     anydiff.VarSet
}

type decoderStep struct {
	Merged   anydiff.Res
	Cell     anyrnn.Res
	CellOut  *anydiff.Var
	Query    *anydiff.Var
	Contexts []*ops.AttendRes
	Pools    []*anydiff.Var
	Logits   anydiff.Res
}

// Decode runs the decoder for len(in.Inputs) timesteps.
func (d *Decoder) Decode(in *DecodeInput) (*Decoding, error) {
	if err := d.check(in); err != nil {
		return nil, err
	}
	n := len(in.Inputs[0])
	c := in.Memory.Output().Creator()
	feedProb := in.FeedPrevious
	if feedProb < 0 || feedProb > 1 {
		klog.Warningf("clamping feed-previous probability %f to [0, 1]", feedProb)
		feedProb = clamp(feedProb)
	}
	if feedProb > 0 && feedProb < 1 && in.Rand == nil {
		return nil, configErrorf("scheduled sampling needs a random source")
	}

	res := &Decoding{
		input:     in,
		decoder:   d,
		n:         n,
		memPool:   anydiff.NewVar(in.Memory.Output()),
		startPool: anydiff.NewVar(in.Start.Output()),
	}
	res.features = d.Attention.Features(res.memPool, n, in.Length)
	for _, f := range res.features {
		res.featurePools = append(res.featurePools, anydiff.NewVar(f.Output()))
	}
	featureRes := make([]anydiff.Res, len(res.featurePools))
	for i, p := range res.featurePools {
		featureRes[i] = p
	}

	if d.InitialStateAttention {
		for _, read := range d.Attention.AttendFeatures(res.startPool, res.memPool,
			featureRes, in.Mask, n, in.Length) {
			res.InitialContexts = append(res.InitialContexts, read)
		}
	} else {
		for range d.Attention.Heads {
			zero := c.MakeVector(n * d.Attention.MemorySize)
			res.InitialContexts = append(res.InitialContexts, anydiff.NewConst(zero))
		}
	}
	prevContexts := make([]anydiff.Res, len(res.InitialContexts))
	for i, ctx := range res.InitialContexts {
		pool := anydiff.NewVar(ctx.Output())
		res.initPools = append(res.initPools, pool)
		prevContexts[i] = pool
	}

	state := d.Cell.UnpackState(res.startPool.Vector, n)
	for t, truth := range in.Inputs {
		ids := truth
		if t > 0 && sampleFeedPrevious(feedProb, in.Rand) {
			ids = argmaxRows(res.steps[t-1].Logits.Output(), n)
		}
		if klog.V(3).Enabled() {
			klog.Infof("decoder step %d: inputs %v", t, ids)
		}
		res.Fed = append(res.Fed, append([]int{}, ids...))

		step := &decoderStep{}
		emb := ops.Lookup(d.Embedding, d.EmbedSize, ids)
		step.Merged = d.Merge.Apply(emb, prevContexts, n)
		step.Cell = d.Cell.Step(state, step.Merged.Output())
		state = step.Cell.State()
		step.CellOut = anydiff.NewVar(step.Cell.Output())
		step.Query = anydiff.NewVar(d.Cell.PackState(state))
		step.Contexts = d.Attention.AttendFeatures(step.Query, res.memPool, featureRes,
			in.Mask, n, in.Length)
		contexts := make([]anydiff.Res, len(step.Contexts))
		for i, ctx := range step.Contexts {
			pool := anydiff.NewVar(ctx.Output())
			step.Pools = append(step.Pools, pool)
			contexts[i] = pool
		}
		step.Logits = d.Output.Apply(step.CellOut, emb, contexts, n)
		if in.BOWMask != nil {
			step.Logits = anydiff.Mul(step.Logits, anydiff.NewConst(in.BOWMask))
		}

		res.steps = append(res.steps, step)
		res.Logits = append(res.Logits, step.Logits)
		res.Reads = append(res.Reads, step.Contexts)
		res.out = append(res.out, &anyseq.Batch{
			Packed:  step.Logits.Output(),
			Present: allPresent(n),
		})
		prevContexts = contexts
	}
	res.FinalState = d.Cell.PackState(state)

	res.v = anydiff.MergeVarSets(in.Memory.Vars(), in.Start.Vars(),
		anydiff.NewVarSet(d.Parameters()...))
	return res, nil
}

// Parameters returns the decoder's parameters.
func (d *Decoder) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for v := range d.Embedding.Vars() {
		res = append(res, v)
	}
	res = append(res, d.Cell.Parameters()...)
	res = append(res, d.Attention.Parameters()...)
	res = append(res, d.Merge.Parameters()...)
	res = append(res, d.Output.Parameters()...)
	return res
}

func (d *Decoder) check(in *DecodeInput) error {
	if len(d.Attention.Heads) == 0 {
		return configErrorf("decoder needs at least one attention head")
	}
	if len(in.Inputs) == 0 || len(in.Inputs[0]) == 0 {
		return configErrorf("empty decoder inputs")
	}
	n := len(in.Inputs[0])
	for t, step := range in.Inputs {
		if len(step) != n {
			return configErrorf("decoder timestep %d: batch size mismatch", t)
		}
	}
	if in.Length <= 0 || in.Memory.Output().Len() == 0 ||
		in.Memory.Output().Len()%(n*in.Length) != 0 {
		return configErrorf("cannot infer attention width")
	}
	if width := in.Memory.Output().Len() / (n * in.Length); width != d.Attention.MemorySize {
		return configErrorf("memory width %d (expected %d)", width, d.Attention.MemorySize)
	}
	if d.Output.Width() <= 0 {
		return configErrorf("cannot infer output width")
	}
	if in.Start.Output().Len() != n*d.Cell.StateSize() {
		return configErrorf("start state size %d (expected %d)", in.Start.Output().Len(),
			n*d.Cell.StateSize())
	}
	if in.Mask != nil {
		if len(in.Mask) != n*in.Length {
			return configErrorf("mask size %d (expected %d)", len(in.Mask), n*in.Length)
		}
		if err := checkMaskRows(in.Mask, n, in.Length); err != nil {
			return err
		}
	}
	if in.BOWMask != nil && in.BOWMask.Len() != n*d.Output.Width() {
		return configErrorf("bag-of-words mask size %d (expected %d)", in.BOWMask.Len(),
			n*d.Output.Width())
	}
	return nil
}

// Creator returns the creator of the logits.
func (d *Decoding) Creator() anyvec.Creator {
	return d.memPool.Vector.Creator()
}

// Output returns the logits of every timestep.
func (d *Decoding) Output() []*anyseq.Batch {
	return d.out
}

// Vars returns the variables upon which the logits
// depend.
func (d *Decoding) Vars() anydiff.VarSet {
	return d.v
}

// Propagate performs back-propagation through the
// decoder, its start state, and its memory.
func (d *Decoding) Propagate(u []*anyseq.Batch, g anydiff.Grad) {
	if len(u) != len(d.steps) {
		panic("upstream length mismatch")
	}
	c := d.Creator()
	pools := []*anydiff.Var{d.memPool, d.startPool}
	pools = append(pools, d.featurePools...)
	pools = append(pools, d.initPools...)
	for _, step := range d.steps {
		pools = append(pools, step.CellOut, step.Query)
		pools = append(pools, step.Pools...)
	}
	for _, p := range pools {
		g[p] = c.MakeVector(p.Vector.Len())
	}

	cell := d.decoder.Cell
	var next anyvec.Vector
	for i := len(d.steps) - 1; i >= 0; i-- {
		step := d.steps[i]
		step.Logits.Propagate(u[i].Packed, g)
		for j, ctx := range step.Contexts {
			ctx.Propagate(g[step.Pools[j]], g)
		}
		stateUp := g[step.Query]
		if next != nil {
			stateUp.Add(next)
		}
		inGrad, prevGrad := step.Cell.Propagate(g[step.CellOut],
			cell.UnpackGrad(stateUp, d.n), g)
		step.Merged.Propagate(inGrad, g)
		next = cell.PackGrad(prevGrad)
	}

	for i, ctx := range d.InitialContexts {
		if d.decoder.InitialStateAttention {
			ctx.Propagate(g[d.initPools[i]], g)
		}
	}
	startGrad := g[d.startPool]
	if next != nil {
		startGrad.Add(next)
	}
	for i, f := range d.features {
		f.Propagate(g[d.featurePools[i]], g)
	}
	memGrad := g[d.memPool]

	for _, p := range pools {
		delete(g, p)
	}

	if g.Intersects(d.input.Start.Vars()) {
		d.input.Start.Propagate(startGrad, g)
	}
	if g.Intersects(d.input.Memory.Vars()) {
		d.input.Memory.Propagate(memGrad, g)
	}
}

func checkMaskRows(mask []float64, n, length int) error {
	for b := 0; b < n; b++ {
		var active bool
		for _, x := range mask[b*length : (b+1)*length] {
			if x != 0 {
				active = true
				break
			}
		}
		if !active {
			return configErrorf("source mask for sequence %d is all zero", b)
		}
	}
	return nil
}

func sampleFeedPrevious(p float64, r RandSource) bool {
	if p <= 0 {
		return false
	} else if p >= 1 {
		return true
	}
	return r.Float64() < p
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	} else if p > 1 {
		return 1
	}
	return p
}

// argmaxRows finds the index of the largest component in
// each of the n rows.
func argmaxRows(v anyvec.Vector, n int) []int {
	cols := v.Len() / n
	res := make([]int, n)
	for i := range res {
		res[i] = anyvec.MaxIndex(v.Slice(i*cols, (i+1)*cols))
	}
	return res
}

func allPresent(n int) []bool {
	res := make([]bool, n)
	for i := range res {
		res[i] = true
	}
	return res
}
