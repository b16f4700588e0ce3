package cells

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/seq2seq/params"
)

// BOW wraps a Cell with a bag-of-words feature extractor.
//
// The wrapped cell is used for recurrence as usual.
// The features replace a recurrent encoder: every source
// token is mapped to a memory cell on its own, and the
// memory cells are later averaged into a start state with
// BOWState.
type BOW struct {
	Cell

	// Candidate produces the candidate memory cell.
	Candidate *anynet.FC

	// Gate is an input gate for the candidate.
	// It is nil unless the wrapped cell supports
	// bag-of-words initialization.
	Gate *anynet.FC
}

// NewBOW wraps a cell.
// The features are computed from embeddings of the given
// size.
func NewBOW(s *params.Store, key string, cell Cell, embSize int) *BOW {
	res := &BOW{
		Cell:      cell,
		Candidate: s.FC(key+"/candidate", embSize, cell.OutputSize()),
	}
	if cell.SupportsBOWInit() {
		res.Gate = s.FC(key+"/gate", embSize, cell.OutputSize())
	}
	return res
}

// FeatureSize returns the size of each feature vector.
func (b *BOW) FeatureSize() int {
	return b.Cell.OutputSize()
}

// Features computes one feature vector per embedding.
func (b *BOW) Features(emb anydiff.Res, n int) anydiff.Res {
	res := anynet.Tanh.Apply(b.Candidate.Apply(emb, n), n)
	if b.Gate != nil {
		gate := anynet.Sigmoid.Apply(b.Gate.Apply(emb, n), n)
		res = anydiff.Mul(res, gate)
	}
	return res
}

// Parameters returns the parameters of the wrapped cell
// and of the feature extractor.
func (b *BOW) Parameters() []*anydiff.Var {
	res := append(b.Cell.Parameters(), b.Candidate.Parameters()...)
	if b.Gate != nil {
		res = append(res, b.Gate.Parameters()...)
	}
	return res
}
