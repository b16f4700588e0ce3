package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq/cells"
	"github.com/unixpickle/seq2seq/ops"
	"golang.org/x/sync/errgroup"
)

// An Encoder turns source token sequences into an
// attention memory and a decoder start state.
type Encoder struct {
	Mode         EncoderMode
	Combine      BidirCombine
	InitBackward bool

	// Embedding is the source embedding table, with
	// EmbedSize components per token.
	Embedding anydiff.Res
	EmbedSize int

	// Forward is the only cell in reverse mode.
	// Backward is only used in bidirectional mode.
	Forward  cells.Cell
	Backward cells.Cell

	// BOW is only used in bag-of-words mode.
	BOW *cells.BOW
}

// An Encoding is the result of an Encoder.
//
// Its MultiRes has two outputs: the memory and the packed
// decoder start state.
// The memory holds one row of Length*MemorySize values
// per sequence.
type Encoding struct {
	Res anydiff.MultiRes

	N          int
	Length     int
	MemorySize int
}

// Memory returns the attention memory.
func (e *Encoding) Memory() anyvec.Vector {
	return e.Res.Outputs()[0]
}

// State returns the packed start state.
func (e *Encoding) State() anyvec.Vector {
	return e.Res.Outputs()[1]
}

// MemorySize returns the width of one memory position.
func (e *Encoder) MemorySize() int {
	switch e.Mode {
	case BagOfWordsEncoder:
		return e.BOW.FeatureSize()
	case BidirectionalEncoder:
		if e.Combine == ConcatOutputs {
			return e.Forward.OutputSize() + e.Backward.OutputSize()
		}
	}
	return e.Forward.OutputSize()
}

// Encode encodes a batch of source sequences.
//
// The ids are time-major, with one id per sequence at
// every timestep.
// The mask is nil or holds one row of len(ids) entries
// per sequence.
// It only affects bag-of-words encoding.
func (e *Encoder) Encode(ids [][]int, mask []float64) (enc *Encoding, err error) {
	switch e.Mode {
	case ReverseEncoder, BidirectionalEncoder, BagOfWordsEncoder:
	default:
		return nil, configErrorf("unsupported encoder mode: %s", e.Mode)
	}
	if len(ids) == 0 || len(ids[0]) == 0 {
		return nil, configErrorf("empty source batch")
	}
	n := len(ids[0])
	for t, step := range ids {
		if len(step) != n {
			return nil, configErrorf("source timestep %d: batch size mismatch", t)
		}
	}
	enc = &Encoding{N: n, Length: len(ids), MemorySize: e.MemorySize()}

	switch e.Mode {
	case ReverseEncoder:
		pass := runPass(e.Forward, e.Embedding, e.EmbedSize, ids, true)
		enc.Res = &encodeRes{Mode: e.Mode, N: n, Length: len(ids), Forward: pass,
			Outs: pass.Outs}
	case BidirectionalEncoder:
		enc.Res, err = e.bidirectional(ids)
	case BagOfWordsEncoder:
		enc.Res, err = e.bagOfWords(ids, mask)
	}
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (e *Encoder) bidirectional(ids [][]int) (anydiff.MultiRes, error) {
	n, length := len(ids[0]), len(ids)
	var forward, backward *passRes
	var group errgroup.Group
	group.Go(func() error {
		return catchPanics(func() {
			forward = runPass(e.Forward, e.Embedding, e.EmbedSize, ids, false)
		})
	})
	group.Go(func() error {
		return catchPanics(func() {
			backward = runPass(e.Backward, e.Embedding, e.EmbedSize, ids, true)
		})
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	res := &encodeRes{
		Mode:         BidirectionalEncoder,
		Combine:      e.Combine,
		InitBackward: e.InitBackward,
		N:            n,
		Length:       length,
		Forward:      forward,
		Backward:     backward,
	}
	fwMem, bwMem := forward.Outs[0], backward.Outs[0]
	var memory anyvec.Vector
	switch e.Combine {
	case ForwardOutputs:
		memory = fwMem
	case ConcatOutputs:
		memory = ops.JoinRows(n*length, fwMem, bwMem)
	case SumOutputs:
		memory = fwMem.Copy()
		memory.Add(bwMem)
	default:
		return nil, configErrorf("unknown bidirectional combination: %s", e.Combine)
	}
	state := forward.Outs[1]
	if e.InitBackward {
		state = backward.Outs[1]
	}
	res.Outs = []anyvec.Vector{memory, state}
	return res, nil
}

func (e *Encoder) bagOfWords(ids [][]int, mask []float64) (anydiff.MultiRes, error) {
	n, length := len(ids[0]), len(ids)
	if !e.BOW.SupportsBOWInit() {
		return nil, configErrorf("bag-of-words encoding needs a gated decoder cell")
	}

	// Features are laid out like the memory: batch-major,
	// one row per source position.
	flat := make([]int, 0, n*length)
	for b := 0; b < n; b++ {
		for t := 0; t < length; t++ {
			flat = append(flat, ids[t][b])
		}
	}
	emb := ops.Lookup(e.Embedding, e.EmbedSize, flat)
	features := e.BOW.Features(emb, n*length)
	return anydiff.PoolMulti(anydiff.Fuse(features), func(r []anydiff.Res) anydiff.MultiRes {
		mem := ops.MaskedMean(r[0], mask, n, length)
		return anydiff.Fuse(r[0], e.BOW.BOWState(mem, n))
	}), nil
}

// Parameters returns the encoder's parameters.
func (e *Encoder) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{}
	for v := range e.Embedding.Vars() {
		res = append(res, v)
	}
	switch e.Mode {
	case BagOfWordsEncoder:
		res = append(res, e.BOW.Candidate.Parameters()...)
		if e.BOW.Gate != nil {
			res = append(res, e.BOW.Gate.Parameters()...)
		}
	case BidirectionalEncoder:
		res = append(res, e.Forward.Parameters()...)
		res = append(res, e.Backward.Parameters()...)
	default:
		res = append(res, e.Forward.Parameters()...)
	}
	return res
}

// encodeRes combines one or two recurrent passes into an
// encoder output.
type encodeRes struct {
	Mode         EncoderMode
	Combine      BidirCombine
	InitBackward bool
	N            int
	Length       int

	Forward  *passRes
	Backward *passRes

	Outs []anyvec.Vector
}

func (e *encodeRes) Outputs() []anyvec.Vector {
	return e.Outs
}

func (e *encodeRes) Vars() anydiff.VarSet {
	if e.Backward == nil {
		return e.Forward.Vars()
	}
	return anydiff.MergeVarSets(e.Forward.Vars(), e.Backward.Vars())
}

func (e *encodeRes) Propagate(u []anyvec.Vector, g anydiff.Grad) {
	if e.Backward == nil {
		e.Forward.Propagate(u, g)
		return
	}

	c := u[0].Creator()
	zeroState := func(p *passRes) anyvec.Vector {
		return c.MakeVector(p.Outs[1].Len())
	}
	fwUp := []anyvec.Vector{nil, zeroState(e.Forward)}
	bwUp := []anyvec.Vector{nil, zeroState(e.Backward)}
	if e.InitBackward {
		bwUp[1] = u[1]
	} else {
		fwUp[1] = u[1]
	}
	switch e.Combine {
	case ForwardOutputs:
		fwUp[0] = u[0]
		bwUp[0] = c.MakeVector(e.Backward.Outs[0].Len())
	case ConcatOutputs:
		parts := ops.SplitRows(u[0], e.N*e.Length, e.Forward.Cell.OutputSize(),
			e.Backward.Cell.OutputSize())
		fwUp[0], bwUp[0] = parts[0], parts[1]
	case SumOutputs:
		fwUp[0], bwUp[0] = u[0], u[0].Copy()
	}

	propagateConcurrently(g,
		func(g anydiff.Grad) {
			e.Forward.Propagate(fwUp, g)
		},
		func(g anydiff.Grad) {
			e.Backward.Propagate(bwUp, g)
		},
	)
}

// passRes is a single recurrent pass over a batch of
// source sequences.
//
// Its outputs are the memory, which is indexed by source
// position regardless of the direction, and the packed
// final state.
type passRes struct {
	Cell    cells.Cell
	Reverse bool
	N       int

	Start  anyrnn.State
	Inputs []anydiff.Res
	Steps  []anyrnn.Res

	Outs []anyvec.Vector
	V    anydiff.VarSet
}

func runPass(cell cells.Cell, table anydiff.Res, embSize int, ids [][]int,
	reverse bool) *passRes {
	n := len(ids[0])
	res := &passRes{
		Cell:    cell,
		Reverse: reverse,
		N:       n,
		Start:   cell.Start(n),
	}
	state := res.Start
	outs := make([]anyvec.Vector, len(ids))
	for i := range ids {
		t := res.position(i, len(ids))
		in := ops.Lookup(table, embSize, ids[t])
		step := cell.Step(state, in.Output())
		res.Inputs = append(res.Inputs, in)
		res.Steps = append(res.Steps, step)
		outs[t] = step.Output()
		state = step.State()
	}
	res.Outs = []anyvec.Vector{ops.JoinRows(n, outs...), cell.PackState(state)}
	res.V = anydiff.MergeVarSets(table.Vars(), res.Steps[len(res.Steps)-1].Vars(),
		anydiff.NewVarSet(cell.Parameters()...))
	return res
}

func (p *passRes) position(step, length int) int {
	if p.Reverse {
		return length - (step + 1)
	}
	return step
}

func (p *passRes) Outputs() []anyvec.Vector {
	return p.Outs
}

func (p *passRes) Vars() anydiff.VarSet {
	return p.V
}

// Propagate performs back-propagation through time.
func (p *passRes) Propagate(u []anyvec.Vector, g anydiff.Grad) {
	sizes := make([]int, len(p.Steps))
	for i := range sizes {
		sizes[i] = p.Cell.OutputSize()
	}
	outGrads := ops.SplitRows(u[0], p.N, sizes...)
	stateGrad := p.Cell.UnpackGrad(u[1], p.N)
	for i := len(p.Steps) - 1; i >= 0; i-- {
		t := p.position(i, len(p.Steps))
		var inGrad anyvec.Vector
		inGrad, stateGrad = p.Steps[i].Propagate(outGrads[t], stateGrad, g)
		if g.Intersects(p.Inputs[i].Vars()) {
			p.Inputs[i].Propagate(inGrad, g)
		}
	}
	p.Cell.PropagateStart(stateGrad, g)
}
