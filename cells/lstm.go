package cells

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq/ops"
	"github.com/unixpickle/seq2seq/params"
)

// LSTM is a gated cell.
// Its packed state is the memory cell followed by the
// last output.
type LSTM struct {
	*anyrnn.LSTM

	In     int
	Hidden int
}

// NewLSTM creates an LSTM whose parameters come from the
// store.
func NewLSTM(s *params.Store, key string, in, hidden int) *LSTM {
	return &LSTM{
		LSTM:   s.LSTM(key, in, hidden),
		In:     in,
		Hidden: hidden,
	}
}

func (l *LSTM) InputSize() int {
	return l.In
}

func (l *LSTM) OutputSize() int {
	return l.Hidden
}

func (l *LSTM) StateSize() int {
	return 2 * l.Hidden
}

func (l *LSTM) SupportsBOWInit() bool {
	return true
}

// BOWState uses mem as the memory cell and tanh(mem) as
// the last output.
func (l *LSTM) BOWState(mem anydiff.Res, n int) anydiff.Res {
	if mem.Output().Len() != n*l.Hidden {
		panic("memory cell size mismatch")
	}
	return ops.RowConcat(n, mem, anydiff.Tanh(mem))
}

func (l *LSTM) PackState(s anyrnn.State) anyvec.Vector {
	ls := s.(*anyrnn.LSTMState)
	n := len(ls.Internal.PresentMap)
	return ops.JoinRows(n, ls.Internal.Vector, ls.LastOut.Vector)
}

func (l *LSTM) UnpackState(v anyvec.Vector, n int) anyrnn.State {
	return l.unpack(v, n)
}

func (l *LSTM) PackGrad(g anyrnn.StateGrad) anyvec.Vector {
	return l.PackState(g.(*anyrnn.LSTMState))
}

func (l *LSTM) UnpackGrad(v anyvec.Vector, n int) anyrnn.StateGrad {
	return l.unpack(v, n)
}

func (l *LSTM) unpack(v anyvec.Vector, n int) *anyrnn.LSTMState {
	parts := ops.SplitRows(v, n, l.Hidden, l.Hidden)
	return &anyrnn.LSTMState{
		Internal: &anyrnn.VecState{Vector: parts[0], PresentMap: allPresent(n)},
		LastOut:  &anyrnn.VecState{Vector: parts[1], PresentMap: allPresent(n)},
	}
}
