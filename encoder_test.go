package seq2seq

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/seq2seq/ops"
)

func TestReverseEncoder(t *testing.T) {
	cfg := testConfig()
	model := testModel(cfg)
	enc := model.Encoder
	ids := [][]int{{1, 2}, {3, 4}, {5, 6}}
	const n = 2

	encoding, err := enc.Encode(ids, nil)
	require.NoError(t, err)

	// Step the cell by hand, from the last token to the
	// first one.
	cell := enc.Forward
	state := cell.Start(n)
	outs := make([]anyvec.Vector, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		emb := ops.Lookup(enc.Embedding, enc.EmbedSize, ids[i])
		res := cell.Step(state, emb.Output())
		outs[i] = res.Output()
		state = res.State()
	}
	expectedMem := ops.JoinRows(n, outs...)
	assert.True(t, vectorsEqual(expectedMem, encoding.Memory(), 1e-10))
	assert.True(t, vectorsEqual(cell.PackState(state), encoding.State(), 1e-10))
	assert.Equal(t, cfg.HiddenSize, encoding.MemorySize)
}

func TestEncoderMatchesMap(t *testing.T) {
	for _, bidir := range []bool{false, true} {
		name := "Reverse"
		if bidir {
			name = "BidirForward"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.NumLayers = 2
			if bidir {
				cfg.EncoderMode = BidirectionalEncoder
			}
			model := testModel(cfg)
			enc := model.Encoder
			ids := [][]int{{1, 2}, {3, 4}, {5, 6}}
			const n = 2

			// order[i] is the source position fed at step i.
			order := make([]int, len(ids))
			for i := range order {
				order[i] = i
				if !bidir {
					order[i] = len(ids) - (i + 1)
				}
			}

			actual := func() anydiff.Res {
				encoding, err := enc.Encode(ids, nil)
				if err != nil {
					panic(err)
				}
				return ops.Output(encoding.Res, 0)
			}
			expected := func() anydiff.Res {
				batches := make([]*anyseq.ResBatch, len(ids))
				for i, pos := range order {
					batches[i] = &anyseq.ResBatch{
						Packed:  ops.Lookup(enc.Embedding, enc.EmbedSize, ids[pos]),
						Present: allPresent(n),
					}
				}
				c := model.Params.Creator()
				outs := anyrnn.Map(anyseq.ResSeq(c, batches), enc.Forward)
				return PoolSteps(outs, func(steps []anydiff.Res) anydiff.Res {
					byPosition := make([]anydiff.Res, len(steps))
					for i, pos := range order {
						byPosition[pos] = steps[i]
					}
					return ops.RowConcat(n, byPosition...)
				})
			}
			checkEquivalent(t, actual, expected, enc.Parameters())
		})
	}
}

func TestEncoderGradients(t *testing.T) {
	cases := map[string]func(cfg *Config){
		"Reverse": func(cfg *Config) {},
		"BidirForward": func(cfg *Config) {
			cfg.EncoderMode = BidirectionalEncoder
		},
		"BidirConcat": func(cfg *Config) {
			cfg.EncoderMode = BidirectionalEncoder
			cfg.BidirOutputs = ConcatOutputs
			cfg.InitBackward = true
		},
		"BidirSum": func(cfg *Config) {
			cfg.EncoderMode = BidirectionalEncoder
			cfg.BidirOutputs = SumOutputs
			cfg.NumLayers = 2
		},
		"BagOfWords": func(cfg *Config) {
			cfg.EncoderMode = BagOfWordsEncoder
			cfg.NumLayers = 2
		},
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.EmbeddingSize = 2
			cfg.HiddenSize = 2
			modify(cfg)
			model := testModel(cfg)
			enc := model.Encoder
			ids := [][]int{{1, 2}, {3, 0}, {5, 6}}
			mask := []float64{1, 1, 0, 1, 0, 1}

			c := anyvec64.DefaultCreator{}
			memWeights := randomRes(c, 2*3*enc.MemorySize()).Vector
			stateWeights := randomRes(c, 2*model.Decoder.Cell.StateSize()).Vector
			checker := &anydifftest.ResChecker{
				F: func() anydiff.Res {
					encoding, err := enc.Encode(ids, mask)
					if err != nil {
						panic(err)
					}
					mem := ops.Output(encoding.Res, 0)
					state := ops.Output(encoding.Res, 1)
					return anydiff.Add(
						anydiff.Sum(anydiff.Mul(anydiff.Tanh(mem), anydiff.NewConst(memWeights))),
						anydiff.Sum(anydiff.Mul(state, anydiff.NewConst(stateWeights))),
					)
				},
				V: enc.Parameters(),
			}
			checker.FullCheck(t)
		})
	}
}

func TestBagOfWordsPermutation(t *testing.T) {
	cfg := testConfig()
	cfg.EncoderMode = BagOfWordsEncoder
	model := testModel(cfg)

	encoding1, err := model.Encoder.Encode([][]int{{1, 4}, {2, 5}, {3, 6}}, nil)
	require.NoError(t, err)
	encoding2, err := model.Encoder.Encode([][]int{{3, 5}, {1, 6}, {2, 4}}, nil)
	require.NoError(t, err)
	assert.True(t, vectorsEqual(encoding1.State(), encoding2.State(), 1e-10),
		"bag-of-words state should not depend on token order")
	assert.False(t, vectorsEqual(encoding1.Memory(), encoding2.Memory(), 1e-10))
}

func TestBagOfWordsMask(t *testing.T) {
	cfg := testConfig()
	cfg.EncoderMode = BagOfWordsEncoder
	model := testModel(cfg)

	// Masked positions should not affect the state.
	mask := []float64{1, 1, 0}
	encoding1, err := model.Encoder.Encode([][]int{{1}, {2}, {3}}, mask)
	require.NoError(t, err)
	encoding2, err := model.Encoder.Encode([][]int{{1}, {2}, {6}}, mask)
	require.NoError(t, err)
	assert.True(t, vectorsEqual(encoding1.State(), encoding2.State(), 1e-10))
}

func TestEncoderErrors(t *testing.T) {
	model := testModel(testConfig())
	enc := *model.Encoder
	enc.Mode = EncoderMode(17)
	_, err := enc.Encode([][]int{{1}}, nil)
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = model.Encoder.Encode(nil, nil)
	assert.True(t, errors.Is(err, ErrConfig))
	_, err = model.Encoder.Encode([][]int{{1, 2}, {3}}, nil)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestBidirectionalConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.EncoderMode = BidirectionalEncoder
	cfg.BidirOutputs = ConcatOutputs
	model := testModel(cfg)
	gen := rand.New(rand.NewSource(42))
	ids := make([][]int, 4)
	for i := range ids {
		ids[i] = []int{gen.Intn(cfg.SourceVocab), gen.Intn(cfg.SourceVocab)}
	}

	// Repeated evaluations must give identical results.
	first, err := model.Encoder.Encode(ids, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := model.Encoder.Encode(ids, nil)
		require.NoError(t, err)
		require.True(t, vectorsEqual(first.Memory(), next.Memory(), 0))
		require.True(t, vectorsEqual(first.State(), next.State(), 0))
	}
	assert.Equal(t, 2*cfg.HiddenSize, first.MemorySize)
}
