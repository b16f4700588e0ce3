package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/seq2seq/ops"
)

// weightEpsilon keeps averages finite when every weight
// is zero.
const weightEpsilon = 1e-12

// A LossFunc computes one loss per batch element for a
// single timestep.
//
// The logits have one row per batch element, and there is
// one target per batch element.
type LossFunc func(logits anydiff.Res, targets []int, n int) anydiff.Res

// CrossEntropy is the softmax cross-entropy loss.
func CrossEntropy(logits anydiff.Res, targets []int, n int) anydiff.Res {
	if len(targets) != n {
		panic("target count mismatch")
	}
	cols := logits.Output().Len() / n
	oneHot := make([]float64, n*cols)
	for i, t := range targets {
		if t < 0 || t >= cols {
			panic("target out of range")
		}
		oneHot[i*cols+t] = 1
	}
	desired := anydiff.NewConst(ops.Vector(logits.Output().Creator(), oneHot))
	return anynet.DotCost{}.Cost(desired, anynet.LogSoftmax.Apply(logits, n), n)
}

// LossOptions controls how per-step losses are combined.
type LossOptions struct {
	// AverageAcrossTimesteps divides every example's loss
	// by the example's total weight.
	AverageAcrossTimesteps bool

	// AverageAcrossBatch divides the total loss by the
	// batch size.
	// It only applies to SequenceLoss.
	AverageAcrossBatch bool

	// Loss is the per-step loss.
	// If it is nil, CrossEntropy is used.
	Loss LossFunc
}

// SequenceLossByExample computes a weighted loss for
// every example in a batch.
//
// The logits, targets, and weights are time-major, with
// one entry per timestep.
// Targets and weights have one entry per example at each
// timestep.
// The result has one component per example.
//
// An empty sequence yields ErrEmptySequence, since it
// does not determine the batch size.
func SequenceLossByExample(logits []anydiff.Res, targets [][]int, weights [][]float64,
	opts *LossOptions) (anydiff.Res, error) {
	if len(logits) != len(targets) || len(logits) != len(weights) {
		return nil, configErrorf("length mismatch: %d logits, %d targets, %d weights",
			len(logits), len(targets), len(weights))
	}
	if len(logits) == 0 {
		return nil, ErrEmptySequence
	}
	if opts == nil {
		opts = &LossOptions{}
	}
	lossFunc := opts.Loss
	if lossFunc == nil {
		lossFunc = CrossEntropy
	}

	n := len(targets[0])
	if n == 0 {
		return nil, configErrorf("empty batch")
	}
	c := logits[0].Output().Creator()
	var total anydiff.Res
	for t, stepLogits := range logits {
		if len(targets[t]) != n || len(weights[t]) != n {
			return nil, configErrorf("timestep %d: batch size mismatch", t)
		}
		if stepLogits.Output().Len()%n != 0 || stepLogits.Output().Len() == 0 {
			return nil, configErrorf("timestep %d: bad logit size %d", t,
				stepLogits.Output().Len())
		}
		stepWeights := anydiff.NewConst(ops.Vector(c, weights[t]))
		stepLoss := anydiff.Mul(lossFunc(stepLogits, targets[t], n), stepWeights)
		if total == nil {
			total = stepLoss
		} else {
			total = anydiff.Add(total, stepLoss)
		}
	}

	if opts.AverageAcrossTimesteps {
		scales := make([]float64, n)
		for i, w := range exampleWeights(weights, n) {
			scales[i] = 1 / (w + weightEpsilon)
		}
		total = anydiff.Mul(total, anydiff.NewConst(ops.Vector(c, scales)))
	}
	return total, nil
}

// SequenceLoss is like SequenceLossByExample, but it sums
// the losses of all the examples.
func SequenceLoss(logits []anydiff.Res, targets [][]int, weights [][]float64,
	opts *LossOptions) (anydiff.Res, error) {
	byExample, err := SequenceLossByExample(logits, targets, weights, opts)
	if err != nil {
		return nil, err
	}
	total := anydiff.Sum(byExample)
	if opts != nil && opts.AverageAcrossBatch {
		n := len(targets[0])
		c := total.Output().Creator()
		total = anydiff.Scale(total, c.MakeNumeric(1/float64(n)))
	}
	return total, nil
}

// exampleWeights sums the weights of each example across
// timesteps.
func exampleWeights(weights [][]float64, n int) []float64 {
	res := make([]float64, n)
	for _, step := range weights {
		for i, w := range step {
			res[i] += w
		}
	}
	return res
}

func scalarValue(r anydiff.Res) float64 {
	var sum float64
	for _, x := range ops.Floats(r.Output()) {
		sum += x
	}
	return sum
}
