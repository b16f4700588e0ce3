// Package seq2seq implements attention-based
// sequence-to-sequence models with bucketed batching,
// scheduled sampling, and an optional variational latent.
//
// Every forward pass produces differentiable results from
// the anydiff package.
// Parameters live in a params.Store, which is shared by
// every bucket of a Model.
package seq2seq

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/seq2seq/cells"
	"github.com/unixpickle/seq2seq/params"
	"k8s.io/klog/v2"
)

// A Model combines an encoder, an attention decoder, and
// an optional latent bottleneck.
type Model struct {
	Config *Config
	Params *params.Store

	Encoder *Encoder
	Decoder *Decoder

	// Latent is nil for deterministic models.
	Latent *Latent
}

// NewModel builds a model whose parameters come from the
// store.
//
// Building two models with the same store and a
// compatible configuration yields models with shared
// parameters.
func NewModel(store *params.Store, cfg *Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var model *Model
	var buildErr error
	if err := catchPanics(func() {
		model, buildErr = buildModel(store, cfg)
	}); err != nil {
		return nil, configErrorf("build model: %v", err)
	}
	if buildErr != nil {
		return nil, buildErr
	}
	klog.V(1).Infof("created model with %s parameters (%s encoder, %d heads, buckets %v)",
		humanize.Comma(int64(store.NumParams())), cfg.EncoderMode, cfg.NumHeads,
		cfg.Buckets)
	return model, nil
}

func buildModel(s *params.Store, cfg *Config) (*Model, error) {
	decCell := newCell(s, "decoder/cell", cfg, cfg.EmbeddingSize)
	encoder := &Encoder{
		Mode:         cfg.EncoderMode,
		Combine:      cfg.BidirOutputs,
		InitBackward: cfg.InitBackward,
		Embedding:    s.Vector("encoder/embedding", cfg.SourceVocab*cfg.EmbeddingSize, 1),
		EmbedSize:    cfg.EmbeddingSize,
	}
	switch cfg.EncoderMode {
	case ReverseEncoder:
		encoder.Forward = newCell(s, "encoder/forward", cfg, cfg.EmbeddingSize)
	case BidirectionalEncoder:
		encoder.Forward = newCell(s, "encoder/forward", cfg, cfg.EmbeddingSize)
		encoder.Backward = newCell(s, "encoder/backward", cfg, cfg.EmbeddingSize)
	case BagOfWordsEncoder:
		if !decCell.SupportsBOWInit() {
			return nil, configErrorf("bag-of-words encoding needs a gated decoder cell")
		}
		encoder.BOW = cells.NewBOW(s, "encoder/bow", decCell, cfg.EmbeddingSize)
	}
	if cfg.Latent == nil && encoder.Forward != nil &&
		encoder.Forward.StateSize() != decCell.StateSize() {
		return nil, configErrorf("encoder state size %d does not match decoder state size %d",
			encoder.Forward.StateSize(), decCell.StateSize())
	}

	memSize := encoder.MemorySize()
	decoder := &Decoder{
		Cell:      decCell,
		Embedding: s.Vector("decoder/embedding", cfg.TargetVocab*cfg.EmbeddingSize, 1),
		EmbedSize: cfg.EmbeddingSize,
		Attention: NewAttention(s, "attention", cfg.NumHeads, memSize,
			decCell.StateSize()),
		Merge: NewMerge(s, "decoder/merge", cfg.EmbeddingSize, memSize, cfg.NumHeads,
			decCell.InputSize()),
		Output: NewOutputLayer(s, "decoder/output", cfg.Output, decCell.OutputSize(),
			cfg.EmbeddingSize, memSize, cfg.NumHeads, cfg.TargetVocab,
			cfg.OutputProjection),
		InitialStateAttention: cfg.InitialStateAttention,
	}

	model := &Model{
		Config:  cfg,
		Params:  s,
		Encoder: encoder,
		Decoder: decoder,
	}
	if cfg.Latent != nil {
		encStateSize := decCell.StateSize()
		if encoder.Forward != nil {
			encStateSize = encoder.Forward.StateSize()
		}
		model.Latent = NewLatent(s, "latent", cfg.Latent, encStateSize, decCell.StateSize())
	}
	return model, nil
}

// Parameters returns every parameter of the model.
func (m *Model) Parameters() []*anydiff.Var {
	res := append(m.Encoder.Parameters(), m.Decoder.Parameters()...)
	if m.Latent != nil {
		res = append(res, m.Latent.Parameters()...)
	}
	return res
}

func newCell(s *params.Store, key string, cfg *Config, inSize int) cells.Cell {
	layers := make(cells.Stack, cfg.NumLayers)
	for i := range layers {
		layerIn := cfg.HiddenSize
		if i == 0 {
			layerIn = inSize
		}
		layerKey := fmt.Sprintf("%s/layer%d", key, i)
		switch cfg.Cell {
		case LSTMCell:
			layers[i] = cells.NewLSTM(s, layerKey, layerIn, cfg.HiddenSize)
		case VanillaCell:
			layers[i] = cells.NewVanilla(s, layerKey, layerIn, cfg.HiddenSize)
		}
	}
	if len(layers) == 1 {
		return layers[0]
	}
	return layers
}
