package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq/ops"
	"github.com/unixpickle/seq2seq/params"
)

// LatentMode selects where the latent vector comes from.
type LatentMode int

const (
	// LatentSample draws z with the reparameterization
	// trick.
	LatentSample LatentMode = iota

	// LatentMean uses the mean of the latent distribution.
	LatentMean

	// LatentSupplied uses a caller-provided z.
	LatentSupplied
)

func (l LatentMode) String() string {
	switch l {
	case LatentSample:
		return "sample"
	case LatentMean:
		return "mean"
	case LatentSupplied:
		return "supplied"
	default:
		return "unknown"
	}
}

// Latent is a variational bottleneck between an encoder
// state and a decoder state.
type Latent struct {
	Size  int
	KLMin float64

	Mean      *anynet.FC
	LogVar    *anynet.FC
	StateProj *anynet.FC

	// Activation and StateActivation may be nil.
	Activation      anynet.Layer
	StateActivation anynet.Layer
}

// NewLatent creates a Latent whose parameters come from
// the store.
func NewLatent(s *params.Store, key string, cfg *LatentConfig, inSize,
	stateSize int) *Latent {
	return &Latent{
		Size:            cfg.Size,
		KLMin:           cfg.KLMin,
		Mean:            s.FC(key+"/mean", inSize, cfg.Size),
		LogVar:          s.FC(key+"/logvar", inSize, cfg.Size),
		StateProj:       s.FC(key+"/state", cfg.Size, stateSize),
		Activation:      cfg.Activation.Layer(),
		StateActivation: cfg.StateActivation.Layer(),
	}
}

// A LatentResult is the result of Latent.Encode.
type LatentResult struct {
	Z      anydiff.Res
	Mean   anydiff.Res
	LogVar anydiff.Res

	// KL is the KL divergence of every example, averaged
	// over the latent units.
	KL anydiff.Res

	// Floored is KL with every component raised to at
	// least the KL floor.
	Floored anydiff.Res

	// Penalty is the sum of Floored.
	Penalty anydiff.Res
}

// Encode maps a batch of packed encoder states to latent
// vectors.
//
// The supplied vector is only used in LatentSupplied
// mode, and rng is only used in LatentSample mode.
func (l *Latent) Encode(state anydiff.Res, n int, mode LatentMode,
	supplied anyvec.Vector, rng RandSource) (*LatentResult, error) {
	c := state.Output().Creator()
	mean := l.activate(l.Activation, l.Mean.Apply(state, n), n)
	logVar := l.activate(l.Activation, l.LogVar.Apply(state, n), n)

	res := &LatentResult{Mean: mean, LogVar: logVar}
	switch mode {
	case LatentSample:
		if rng == nil {
			return nil, configErrorf("latent sampling needs a random source")
		}
		eps := make([]float64, n*l.Size)
		for i := range eps {
			eps[i] = rng.NormFloat64()
		}
		stddev := anydiff.Exp(anydiff.Scale(logVar, c.MakeNumeric(0.5)))
		noise := anydiff.NewConst(ops.Vector(c, eps))
		res.Z = anydiff.Add(mean, anydiff.Mul(stddev, noise))
	case LatentMean:
		res.Z = mean
	case LatentSupplied:
		if supplied == nil {
			return nil, configErrorf("no latent vector supplied")
		}
		if supplied.Len() != n*l.Size {
			return nil, configErrorf("supplied latent has size %d (expected %d)",
				supplied.Len(), n*l.Size)
		}
		res.Z = anydiff.NewConst(supplied)
	default:
		return nil, configErrorf("unknown latent mode: %s", mode)
	}

	res.KL = anydiff.Scale(ops.RowSum(KLDivergence(mean, logVar), n),
		c.MakeNumeric(1/float64(l.Size)))
	res.Floored = res.KL
	if l.KLMin > 0 {
		floor := make([]float64, n)
		for i := range floor {
			floor[i] = l.KLMin
		}
		res.Floored = anydiff.ElemMax(res.KL, anydiff.NewConst(ops.Vector(c, floor)))
	}
	res.Penalty = anydiff.Sum(res.Floored)
	return res, nil
}

// InitialState maps latent vectors to packed decoder
// states.
func (l *Latent) InitialState(z anydiff.Res, n int) anydiff.Res {
	return l.activate(l.StateActivation, l.StateProj.Apply(z, n), n)
}

// Parameters returns the parameters of the projections.
func (l *Latent) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, fc := range []*anynet.FC{l.Mean, l.LogVar, l.StateProj} {
		res = append(res, fc.Parameters()...)
	}
	return res
}

func (l *Latent) activate(layer anynet.Layer, in anydiff.Res, n int) anydiff.Res {
	if layer == nil {
		return in
	}
	return layer.Apply(in, n)
}

// KLDivergence computes the elementwise KL divergence
// between N(mean, exp(logVar)) and N(0, 1):
//
//     -0.5 * (1 + logVar - mean^2 - exp(logVar))
func KLDivergence(mean, logVar anydiff.Res) anydiff.Res {
	c := mean.Output().Creator()
	inner := anydiff.Sub(anydiff.Sub(logVar, anydiff.Mul(mean, mean)), anydiff.Exp(logVar))
	return anydiff.Scale(anydiff.AddScalar(inner, c.MakeNumeric(1)), c.MakeNumeric(-0.5))
}
