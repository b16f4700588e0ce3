package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

type poolStepsRes struct {
	In       anyseq.Seq
	Res      anydiff.Res
	UsedVars anydiff.VarSet

	PoolVars []*anydiff.Var
	Presents [][]bool
}

// PoolSteps passes every timestep of s to f as a separate
// variable in such a way that the result of f will only
// propagate once through s.
//
// This is useful when f reads the timesteps more than
// once, or in an order unrelated to s.
func PoolSteps(s anyseq.Seq, f func(steps []anydiff.Res) anydiff.Res) anydiff.Res {
	res := &poolStepsRes{In: s}

	var steps []anydiff.Res
	for _, timestep := range s.Output() {
		v := anydiff.NewVar(timestep.Packed)
		res.PoolVars = append(res.PoolVars, v)
		res.Presents = append(res.Presents, timestep.Present)
		steps = append(steps, v)
	}
	res.Res = f(steps)

	// Keep our set of variables correct when f ignores
	// its input entirely.
	indepOfInput := true
	for _, v := range res.PoolVars {
		if res.Res.Vars().Has(v) {
			indepOfInput = false
			break
		}
	}
	if indepOfInput {
		return res.Res
	}

	res.UsedVars = anydiff.MergeVarSets(s.Vars(), res.Res.Vars())
	for _, v := range res.PoolVars {
		res.UsedVars.Del(v)
	}

	return res
}

func (p *poolStepsRes) Vars() anydiff.VarSet {
	return p.UsedVars
}

func (p *poolStepsRes) Output() anyvec.Vector {
	return p.Res.Output()
}

func (p *poolStepsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	for _, v := range p.PoolVars {
		g[v] = v.Vector.Creator().MakeVector(v.Vector.Len())
	}

	p.Res.Propagate(u, g)

	upstream := make([]*anyseq.Batch, len(p.PoolVars))
	for i, v := range p.PoolVars {
		upstream[i] = &anyseq.Batch{
			Packed:  g[v],
			Present: p.Presents[i],
		}
		delete(g, v)
	}

	p.In.Propagate(upstream, g)
}
