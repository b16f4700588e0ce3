package cells

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq/params"
)

// Vanilla is a plain RNN:
//
//     h' = tanh(W_in*x + b_in + W_state*h + b_state)
//
// The output is the new state.
type Vanilla struct {
	In     int
	Hidden int

	InTrans    *anynet.FC
	StateTrans *anynet.FC

	block *anyrnn.FuncBlock
}

// NewVanilla creates a Vanilla cell whose parameters come
// from the store.
func NewVanilla(s *params.Store, key string, in, hidden int) *Vanilla {
	res := &Vanilla{
		In:         in,
		Hidden:     hidden,
		InTrans:    s.FC(key+"/input", in, hidden),
		StateTrans: s.FC(key+"/state", hidden, hidden),
	}
	res.block = &anyrnn.FuncBlock{
		Func: func(in, state anydiff.Res, n int) (out, newState anydiff.Res) {
			next := anydiff.Tanh(anydiff.Add(
				res.InTrans.Apply(in, n),
				res.StateTrans.Apply(state, n),
			))
			return next, next
		},
		MakeStart: func(n int) anydiff.Res {
			c := s.Creator()
			return anydiff.NewConst(c.MakeVector(n * hidden))
		},
	}
	return res
}

func (v *Vanilla) Start(n int) anyrnn.State {
	return v.block.Start(n)
}

func (v *Vanilla) PropagateStart(s anyrnn.StateGrad, g anydiff.Grad) {
	v.block.PropagateStart(s, g)
}

func (v *Vanilla) Step(s anyrnn.State, in anyvec.Vector) anyrnn.Res {
	return v.block.Step(s, in)
}

func (v *Vanilla) Parameters() []*anydiff.Var {
	return append(v.InTrans.Parameters(), v.StateTrans.Parameters()...)
}

func (v *Vanilla) InputSize() int {
	return v.In
}

func (v *Vanilla) OutputSize() int {
	return v.Hidden
}

func (v *Vanilla) StateSize() int {
	return v.Hidden
}

func (v *Vanilla) SupportsBOWInit() bool {
	return false
}

func (v *Vanilla) BOWState(mem anydiff.Res, n int) anydiff.Res {
	panic("bag-of-words initialization requires a gated cell")
}

func (v *Vanilla) PackState(s anyrnn.State) anyvec.Vector {
	return s.(*anyrnn.FuncBlockState).Vector
}

func (v *Vanilla) UnpackState(vec anyvec.Vector, n int) anyrnn.State {
	return v.unpack(vec, n)
}

func (v *Vanilla) PackGrad(g anyrnn.StateGrad) anyvec.Vector {
	return g.(*anyrnn.FuncBlockState).Vector
}

func (v *Vanilla) UnpackGrad(vec anyvec.Vector, n int) anyrnn.StateGrad {
	return v.unpack(vec, n)
}

func (v *Vanilla) unpack(vec anyvec.Vector, n int) *anyrnn.FuncBlockState {
	if vec.Len() != n*v.Hidden {
		panic("state size mismatch")
	}
	return &anyrnn.FuncBlockState{
		VecState: &anyrnn.VecState{Vector: vec, PresentMap: allPresent(n)},
		V:        anydiff.VarSet{},
		StartRes: anydiff.NewConst(vec),
	}
}
