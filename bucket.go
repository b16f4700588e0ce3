package seq2seq

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/seq2seq/ops"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// A Bucket bounds the unrolled length of the encoder and
// the decoder.
type Bucket struct {
	Encoder int
	Decoder int
}

func validateBuckets(buckets []Bucket) error {
	if len(buckets) == 0 {
		return configErrorf("no buckets")
	}
	for i, b := range buckets {
		if b.Encoder <= 0 || b.Decoder <= 0 {
			return configErrorf("bucket %d has a non-positive length: %v", i, b)
		}
		if i > 0 {
			prev := buckets[i-1]
			if b.Encoder <= prev.Encoder || b.Decoder <= prev.Decoder {
				return configErrorf("buckets must be strictly ascending: %v after %v",
					b, prev)
			}
		}
	}
	return nil
}

// largestBucket returns the largest lengths of any bucket.
func largestBucket(buckets []Bucket) Bucket {
	var res Bucket
	for _, b := range buckets {
		res.Encoder = essentials.MaxInt(res.Encoder, b.Encoder)
		res.Decoder = essentials.MaxInt(res.Decoder, b.Decoder)
	}
	return res
}

// ChooseBucket finds the index of the smallest bucket
// that fits the given lengths.
func ChooseBucket(buckets []Bucket, sourceLen, targetLen int) (int, error) {
	for i, b := range buckets {
		if sourceLen <= b.Encoder && targetLen <= b.Decoder {
			return i, nil
		}
	}
	return 0, configErrorf("no bucket fits lengths (%d, %d)", sourceLen, targetLen)
}

// RunInput is the input to Model.RunBucket.
//
// All sequences are time-major.
// Each of them must be at least as long as the largest
// bucket, and is truncated to the chosen bucket.
type RunInput struct {
	Bucket int

	EncoderInputs [][]int
	DecoderInputs [][]int
	Targets       [][]int
	Weights       [][]float64

	// SourceMask is nil or has one entry per sequence at
	// every encoder timestep.
	// A zero entry hides the source position from
	// attention.
	SourceMask [][]float64

	// BOWMask is nil or has one row of TargetVocab logit
	// multipliers per sequence.
	BOWMask [][]float64

	// FeedPrevious is the scheduled sampling probability.
	FeedPrevious float64

	// Rand is used for scheduled sampling and latent
	// sampling.
	// It must not be shared with concurrent runs.
	Rand RandSource

	LatentMode LatentMode

	// Latent is the supplied z in LatentSupplied mode.
	Latent anyvec.Vector
}

// BucketResult is the result of Model.RunBucket.
type BucketResult struct {
	Bucket Bucket

	// Decoding stores per-step details, such as the fed
	// inputs and the attention reads.
	// It cannot be back-propagated directly.
	Decoding *Decoding

	// Outputs stores the logits of every timestep.
	Outputs []anyvec.Vector

	// Loss is the sequence loss.
	Loss anydiff.Res

	// KL is the batch mean of the floored KL terms.
	// It is nil without a latent.
	KL anydiff.Res

	// Latent is nil without a latent.
	Latent *LatentResult

	joint anydiff.MultiRes
}

// Objective combines the loss and the KL term.
// The result back-propagates through the model once.
func (b *BucketResult) Objective(klWeight float64) anydiff.Res {
	if b.KL == nil {
		return b.Loss
	}
	combined := anydiff.PoolMulti(b.joint, func(r []anydiff.Res) anydiff.MultiRes {
		c := r[1].Output().Creator()
		return anydiff.Fuse(anydiff.Add(r[0], anydiff.Scale(r[1], c.MakeNumeric(klWeight))))
	})
	return ops.Output(combined, 0)
}

// RunBucket runs the model on a batch from one bucket.
func (m *Model) RunBucket(in *RunInput) (*BucketResult, error) {
	var res *BucketResult
	var runErr error
	if err := catchPanics(func() {
		res, runErr = m.runBucket(in)
	}); err != nil {
		return nil, err
	}
	return res, runErr
}

// RunBuckets runs several batches concurrently.
//
// Each input needs its own RandSource.
// Sources are compared by identity when their dynamic
// values are comparable; other sources are assumed to be
// distinct.
func (m *Model) RunBuckets(inputs []*RunInput) ([]*BucketResult, error) {
	for i, in := range inputs {
		for j := 0; j < i; j++ {
			if sameRandSource(inputs[j].Rand, in.Rand) {
				return nil, configErrorf("input %d shares a random source with input %d", i, j)
			}
		}
	}

	results := make([]*BucketResult, len(inputs))
	var group errgroup.Group
	for i, in := range inputs {
		i, in := i, in
		group.Go(func() error {
			res, err := m.RunBucket(in)
			if err != nil {
				return errors.Wrapf(err, "input %d", i)
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func sameRandSource(a, b RandSource) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

func (m *Model) runBucket(in *RunInput) (*BucketResult, error) {
	buckets := m.Config.Buckets
	if in.Bucket < 0 || in.Bucket >= len(buckets) {
		return nil, configErrorf("bucket index %d out of range", in.Bucket)
	}
	bucket := buckets[in.Bucket]
	largest := largestBucket(buckets)

	type lengthCheck struct {
		name     string
		actual   int
		required int
	}
	checks := []lengthCheck{
		{"encoder inputs", len(in.EncoderInputs), largest.Encoder},
		{"decoder inputs", len(in.DecoderInputs), largest.Decoder},
		{"targets", len(in.Targets), largest.Decoder},
		{"weights", len(in.Weights), largest.Decoder},
	}
	if in.SourceMask != nil {
		checks = append(checks, lengthCheck{"source mask", len(in.SourceMask),
			largest.Encoder})
	}
	for _, l := range checks {
		if l.actual < l.required {
			return nil, configErrorf("%s length must be at least %d (got %d)",
				l.name, l.required, l.actual)
		}
	}

	encIn := in.EncoderInputs[:bucket.Encoder]
	decIn := in.DecoderInputs[:bucket.Decoder]
	targets := in.Targets[:bucket.Decoder]
	weights := in.Weights[:bucket.Decoder]
	if len(encIn[0]) == 0 {
		return nil, configErrorf("empty batch")
	}
	n := len(encIn[0])
	if err := checkIDs("encoder input", encIn, n, m.Config.SourceVocab); err != nil {
		return nil, err
	}
	if err := checkIDs("decoder input", decIn, n, m.Config.TargetVocab); err != nil {
		return nil, err
	}
	if err := checkIDs("target", targets, n, m.Config.TargetVocab); err != nil {
		return nil, err
	}

	var mask []float64
	if in.SourceMask != nil {
		var err error
		mask, err = flattenMask(in.SourceMask[:bucket.Encoder], n)
		if err != nil {
			return nil, err
		}
		if err := checkMaskRows(mask, n, bucket.Encoder); err != nil {
			return nil, err
		}
	}
	c := m.Params.Creator()
	var bowMask anyvec.Vector
	if in.BOWMask != nil {
		if len(in.BOWMask) != n {
			return nil, configErrorf("bag-of-words mask has %d rows (expected %d)",
				len(in.BOWMask), n)
		}
		flat := make([]float64, 0, n*m.Config.TargetVocab)
		for i, row := range in.BOWMask {
			if len(row) != m.Config.TargetVocab {
				return nil, configErrorf("bag-of-words mask row %d has size %d", i, len(row))
			}
			flat = append(flat, row...)
		}
		bowMask = ops.Vector(c, flat)
	}

	klog.V(2).Infof("running bucket %d %v: batch size %d, feed previous %.3f", in.Bucket,
		bucket, n, in.FeedPrevious)

	encoding, err := m.Encoder.Encode(encIn, mask)
	if err != nil {
		return nil, err
	}

	res := &BucketResult{Bucket: bucket}
	res.joint = anydiff.PoolMulti(encoding.Res, func(r []anydiff.Res) anydiff.MultiRes {
		start := r[1]
		if m.Latent != nil {
			latent, err := m.Latent.Encode(r[1], n, in.LatentMode, in.Latent, in.Rand)
			if err != nil {
				panic(err)
			}
			res.Latent = latent
			start = m.Latent.InitialState(latent.Z, n)
		}
		decoding, err := m.Decoder.Decode(&DecodeInput{
			Memory:       r[0],
			Length:       bucket.Encoder,
			Mask:         mask,
			Start:        start,
			Inputs:       decIn,
			FeedPrevious: in.FeedPrevious,
			Rand:         in.Rand,
			BOWMask:      bowMask,
		})
		if err != nil {
			panic(err)
		}
		res.Decoding = decoding
		loss := PoolSteps(decoding, func(steps []anydiff.Res) anydiff.Res {
			loss, err := SequenceLoss(steps, targets, weights, m.Config.lossOptions())
			if err != nil {
				panic(err)
			}
			return loss
		})
		if res.Latent == nil {
			return anydiff.Fuse(loss)
		}
		return anydiff.Fuse(loss, m.klTerm(res.Latent, weights, n))
	})

	res.Loss = ops.Output(res.joint, 0)
	if res.Latent != nil {
		res.KL = ops.Output(res.joint, 1)
	}
	for _, batch := range res.Decoding.Output() {
		res.Outputs = append(res.Outputs, batch.Packed)
	}

	if klog.V(2).Enabled() {
		klog.Infof("bucket %d loss: %f", in.Bucket, scalarValue(res.Loss))
	}
	return res, nil
}

// klTerm averages the floored KL terms over the batch,
// optionally normalizing each one by the example's total
// target weight.
func (m *Model) klTerm(latent *LatentResult, weights [][]float64, n int) anydiff.Res {
	c := latent.Floored.Output().Creator()
	perExample := latent.Floored
	if m.Config.Latent.NormalizeKL {
		scales := exampleWeights(weights, n)
		for i, w := range scales {
			scales[i] = 1 / (w + weightEpsilon)
		}
		perExample = anydiff.Mul(perExample, anydiff.NewConst(ops.Vector(c, scales)))
	}
	return anydiff.Scale(anydiff.Sum(perExample), c.MakeNumeric(1/float64(n)))
}

func checkIDs(name string, ids [][]int, n, vocab int) error {
	for t, step := range ids {
		if len(step) != n {
			return configErrorf("%s timestep %d: batch size mismatch", name, t)
		}
		for _, id := range step {
			if id < 0 || id >= vocab {
				return configErrorf("%s timestep %d: id %d out of range", name, t, id)
			}
		}
	}
	return nil
}

// flattenMask converts a time-major mask into one row per
// sequence.
func flattenMask(mask [][]float64, n int) ([]float64, error) {
	res := make([]float64, n*len(mask))
	for t, step := range mask {
		if len(step) != n {
			return nil, configErrorf("source mask timestep %d: batch size mismatch", t)
		}
		for b, x := range step {
			res[b*len(mask)+t] = x
		}
	}
	return res, nil
}
