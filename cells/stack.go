package cells

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq/ops"
)

// Stack is a multi-layer cell.
// Each layer feeds its output to the next one.
//
// The packed state is the concatenation of every layer's
// packed state, first layer first.
type Stack []Cell

func (s Stack) block() anyrnn.Stack {
	res := make(anyrnn.Stack, len(s))
	for i, c := range s {
		res[i] = c
	}
	return res
}

func (s Stack) Start(n int) anyrnn.State {
	return s.block().Start(n)
}

func (s Stack) PropagateStart(sg anyrnn.StateGrad, g anydiff.Grad) {
	s.block().PropagateStart(sg, g)
}

func (s Stack) Step(st anyrnn.State, in anyvec.Vector) anyrnn.Res {
	return s.block().Step(st, in)
}

func (s Stack) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, c := range s {
		res = append(res, c.Parameters()...)
	}
	return res
}

func (s Stack) InputSize() int {
	return s[0].InputSize()
}

func (s Stack) OutputSize() int {
	return s[len(s)-1].OutputSize()
}

func (s Stack) StateSize() int {
	var res int
	for _, c := range s {
		res += c.StateSize()
	}
	return res
}

// SupportsBOWInit is true if every layer supports it and
// every layer has the same output size.
func (s Stack) SupportsBOWInit() bool {
	for _, c := range s {
		if !c.SupportsBOWInit() || c.OutputSize() != s[0].OutputSize() {
			return false
		}
	}
	return true
}

// BOWState initializes every layer from the same memory
// cells.
func (s Stack) BOWState(mem anydiff.Res, n int) anydiff.Res {
	parts := make([]anydiff.Res, len(s))
	for i, c := range s {
		parts[i] = c.BOWState(mem, n)
	}
	return ops.RowConcat(n, parts...)
}

func (s Stack) PackState(st anyrnn.State) anyvec.Vector {
	ss := st.(anyrnn.StackState)
	n := len(st.Present())
	parts := make([]anyvec.Vector, len(s))
	for i, c := range s {
		parts[i] = c.PackState(ss[i])
	}
	return ops.JoinRows(n, parts...)
}

func (s Stack) UnpackState(v anyvec.Vector, n int) anyrnn.State {
	parts := ops.SplitRows(v, n, s.stateSizes()...)
	res := make(anyrnn.StackState, len(s))
	for i, c := range s {
		res[i] = c.UnpackState(parts[i], n)
	}
	return res
}

func (s Stack) PackGrad(g anyrnn.StateGrad) anyvec.Vector {
	sg := g.(anyrnn.StackGrad)
	n := len(g.Present())
	parts := make([]anyvec.Vector, len(s))
	for i, c := range s {
		parts[i] = c.PackGrad(sg[i])
	}
	return ops.JoinRows(n, parts...)
}

func (s Stack) UnpackGrad(v anyvec.Vector, n int) anyrnn.StateGrad {
	parts := ops.SplitRows(v, n, s.stateSizes()...)
	res := make(anyrnn.StackGrad, len(s))
	for i, c := range s {
		res[i] = c.UnpackGrad(parts[i], n)
	}
	return res
}

func (s Stack) stateSizes() []int {
	res := make([]int, len(s))
	for i, c := range s {
		res[i] = c.StateSize()
	}
	return res
}
