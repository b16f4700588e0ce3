package seq2seq

import (
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/seq2seq/params"
)

// testSteps generates a batch of equal-length test
// sequences along with the variables behind each of the
// timesteps.
func testSteps(c anyvec.Creator, inSize, numSeqs, length int) (anyseq.Seq,
	[]*anydiff.Var) {
	var vars []*anydiff.Var
	var resBatches []*anyseq.ResBatch
	for i := 0; i < length; i++ {
		vec := c.MakeVector(inSize * numSeqs)
		anyvec.Rand(vec, anyvec.Normal, nil)
		v := anydiff.NewVar(vec)
		vars = append(vars, v)
		resBatches = append(resBatches, &anyseq.ResBatch{
			Packed:  v,
			Present: allPresent(numSeqs),
		})
	}
	return anyseq.ResSeq(c, resBatches), vars
}

// checkEquivalent ensures that two ways of computing a
// result agree on the output and on the gradient of every
// variable, both when all the variables are requested and
// when only one of them is.
func checkEquivalent(t *testing.T, actual, expected func() anydiff.Res,
	vars []*anydiff.Var) {
	act, exp := actual(), expected()
	require.True(t, vectorsEqual(exp.Output(), act.Output(), 1e-8),
		"expected output %v but got %v", exp.Output().Data(), act.Output().Data())

	gen := rand.New(rand.NewSource(1337))
	upstream := exp.Output().Copy()
	anyvec.Rand(upstream, anyvec.Normal, gen)

	subsets := [][]*anydiff.Var{vars}
	for _, v := range vars {
		subsets = append(subsets, []*anydiff.Var{v})
	}
	for _, subset := range subsets {
		actGrad := anydiff.NewGrad(subset...)
		actual().Propagate(upstream.Copy(), actGrad)
		expGrad := anydiff.NewGrad(subset...)
		expected().Propagate(upstream.Copy(), expGrad)
		for i, v := range subset {
			assert.True(t, vectorsEqual(expGrad[v], actGrad[v], 1e-8),
				"variable %d of %d: expected gradient %v but got %v", i, len(subset),
				expGrad[v].Data(), actGrad[v].Data())
		}
	}
}

// testConfig creates a tiny configuration which is cheap
// enough for gradient checking.
func testConfig() *Config {
	cfg := DefaultConfig(7, 6)
	cfg.EmbeddingSize = 3
	cfg.HiddenSize = 4
	cfg.Buckets = []Bucket{{2, 2}, {4, 3}}
	return cfg
}

func testModel(cfg *Config) *Model {
	return must.M1(NewModel(params.NewStore(anyvec64.DefaultCreator{}), cfg))
}

// testRunInput creates random inputs with the lengths of
// the largest bucket.
func testRunInput(cfg *Config, bucket, batch int, gen *rand.Rand) *RunInput {
	largest := largestBucket(cfg.Buckets)
	randomIDs := func(length, vocab int) [][]int {
		res := make([][]int, length)
		for t := range res {
			res[t] = make([]int, batch)
			for b := range res[t] {
				res[t][b] = gen.Intn(vocab)
			}
		}
		return res
	}
	weights := make([][]float64, largest.Decoder)
	for t := range weights {
		weights[t] = make([]float64, batch)
		for b := range weights[t] {
			weights[t][b] = 1
		}
	}
	return &RunInput{
		Bucket:        bucket,
		EncoderInputs: randomIDs(largest.Encoder, cfg.SourceVocab),
		DecoderInputs: randomIDs(largest.Decoder, cfg.TargetVocab),
		Targets:       randomIDs(largest.Decoder, cfg.TargetVocab),
		Weights:       weights,
	}
}

func vectorsEqual(v1, v2 anyvec.Vector, prec float64) bool {
	if v1.Len() != v2.Len() {
		return false
	}
	diff := v1.Copy()
	diff.Sub(v2)
	return anyvec.AbsMax(diff).(float64) <= prec
}
