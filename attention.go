package seq2seq

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/seq2seq/ops"
	"github.com/unixpickle/seq2seq/params"
)

// An AttentionHead is one independent attention read.
type AttentionHead struct {
	// Features projects memory rows without a bias.
	Features *anydiff.Var

	// Query projects a packed decoder state.
	Query *anynet.FC

	// Vec scores the combined features.
	Vec *anydiff.Var
}

// Attention reads from an encoder memory with one or more
// heads.
type Attention struct {
	Heads      []*AttentionHead
	MemorySize int
	QuerySize  int
}

// NewAttention creates an Attention whose parameters come
// from the store.
//
// The attention size of every head equals memSize.
func NewAttention(s *params.Store, key string, heads, memSize,
	querySize int) *Attention {
	res := &Attention{MemorySize: memSize, QuerySize: querySize}
	for i := 0; i < heads; i++ {
		prefix := fmt.Sprintf("%s/head%d", key, i)
		res.Heads = append(res.Heads, &AttentionHead{
			Features: s.Linear(prefix+"/features", memSize, memSize),
			Query:    s.FC(prefix+"/query", querySize, memSize),
			Vec:      s.Vector(prefix+"/vec", memSize, 1/math.Sqrt(float64(memSize))),
		})
	}
	return res
}

// Features projects the memory for every head.
//
// The memory holds n rows of length positions.
// The result can be reused for any number of reads from
// the same memory.
func (a *Attention) Features(memory anydiff.Res, n, length int) []anydiff.Res {
	res := make([]anydiff.Res, len(a.Heads))
	for i, head := range a.Heads {
		res[i] = ops.Linear(head.Features, memory, a.MemorySize, n*length)
	}
	return res
}

// AttendFeatures reads from the memory using features
// computed with a.Features.
func (a *Attention) AttendFeatures(query, memory anydiff.Res, features []anydiff.Res,
	mask []float64, n, length int) []*ops.AttendRes {
	if len(features) != len(a.Heads) {
		panic("feature count mismatch")
	}
	res := make([]*ops.AttendRes, len(a.Heads))
	for i, head := range a.Heads {
		y := head.Query.Apply(query, n)
		res[i] = ops.Attend(features[i], y, head.Vec, memory, mask, n, length)
	}
	return res
}

// Attend computes one context vector per head.
//
// The query is a packed state with one row per batch
// element.
// The mask is nil or holds one row of length entries per
// batch element.
func (a *Attention) Attend(query, memory anydiff.Res, mask []float64,
	n, length int) []*ops.AttendRes {
	return a.AttendFeatures(query, memory, a.Features(memory, n, length), mask, n, length)
}

// Parameters returns the parameters of every head.
func (a *Attention) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, head := range a.Heads {
		res = append(res, head.Features, head.Vec)
		res = append(res, head.Query.Parameters()...)
	}
	return res
}
