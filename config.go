package seq2seq

import (
	"fmt"

	"github.com/unixpickle/anynet"
)

// CellType selects the recurrent cell used by the encoder
// and decoder.
type CellType int

const (
	LSTMCell CellType = iota
	VanillaCell
)

func (c CellType) String() string {
	switch c {
	case LSTMCell:
		return "LSTM"
	case VanillaCell:
		return "Vanilla"
	default:
		return fmt.Sprintf("CellType(%d)", int(c))
	}
}

// EncoderMode selects how source sequences are encoded.
type EncoderMode int

const (
	// ReverseEncoder feeds the source to one cell in
	// reverse order.
	ReverseEncoder EncoderMode = iota

	// BidirectionalEncoder runs a forward and a reverse
	// cell over the source.
	BidirectionalEncoder

	// BagOfWordsEncoder maps every source token to a
	// feature vector without recurrence.
	BagOfWordsEncoder
)

func (e EncoderMode) String() string {
	switch e {
	case ReverseEncoder:
		return "reverse"
	case BidirectionalEncoder:
		return "bidirectional"
	case BagOfWordsEncoder:
		return "bag-of-words"
	default:
		return fmt.Sprintf("EncoderMode(%d)", int(e))
	}
}

// BidirCombine selects the memory produced by a
// bidirectional encoder.
type BidirCombine int

const (
	ForwardOutputs BidirCombine = iota
	ConcatOutputs
	SumOutputs
)

func (b BidirCombine) String() string {
	switch b {
	case ForwardOutputs:
		return "forward"
	case ConcatOutputs:
		return "concat"
	case SumOutputs:
		return "sum"
	default:
		return fmt.Sprintf("BidirCombine(%d)", int(b))
	}
}

// OutputMode selects the decoder's output layer.
type OutputMode int

const (
	LinearOutput OutputMode = iota
	MaxoutOutput
)

func (o OutputMode) String() string {
	switch o {
	case LinearOutput:
		return "linear"
	case MaxoutOutput:
		return "maxout"
	default:
		return fmt.Sprintf("OutputMode(%d)", int(o))
	}
}

// Activation is an optional elementwise function.
type Activation int

const (
	Identity Activation = iota
	Tanh
	Sigmoid
)

func (a Activation) String() string {
	switch a {
	case Identity:
		return "identity"
	case Tanh:
		return "tanh"
	case Sigmoid:
		return "sigmoid"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}

// Layer returns the layer for the activation, or nil for
// Identity.
func (a Activation) Layer() anynet.Layer {
	switch a {
	case Tanh:
		return anynet.Tanh
	case Sigmoid:
		return anynet.Sigmoid
	default:
		return nil
	}
}

// LatentConfig configures the variational latent.
type LatentConfig struct {
	Size int

	// KLMin floors the per-example KL term.
	KLMin float64

	// Activation is applied to the mean and log-variance
	// projections.
	Activation Activation

	// StateActivation is applied to the projection from z
	// to the decoder's start state.
	StateActivation Activation

	// NormalizeKL divides each example's KL term by the
	// example's total target weight.
	NormalizeKL bool
}

// Config describes a Model.
type Config struct {
	SourceVocab   int
	TargetVocab   int
	EmbeddingSize int
	HiddenSize    int
	NumLayers     int
	Cell          CellType

	EncoderMode  EncoderMode
	BidirOutputs BidirCombine

	// InitBackward seeds the decoder with the backward
	// pass's final state in bidirectional mode.
	InitBackward bool

	NumHeads              int
	InitialStateAttention bool

	Output OutputMode

	// OutputProjection makes the decoder output HiddenSize
	// values per step, followed by a projection to the
	// target vocabulary.
	OutputProjection bool

	// Latent is nil for a deterministic model.
	Latent *LatentConfig

	Buckets []Bucket

	AverageAcrossTimesteps bool
	AverageAcrossBatch     bool

	// Loss is the per-step loss.
	// If it is nil, CrossEntropy is used.
	Loss LossFunc
}

// DefaultConfig creates a small single-layer LSTM
// configuration with one attention head.
func DefaultConfig(sourceVocab, targetVocab int) *Config {
	return &Config{
		SourceVocab:            sourceVocab,
		TargetVocab:            targetVocab,
		EmbeddingSize:          64,
		HiddenSize:             128,
		NumLayers:              1,
		Cell:                   LSTMCell,
		EncoderMode:            ReverseEncoder,
		NumHeads:               1,
		Output:                 LinearOutput,
		Buckets:                []Bucket{{5, 10}, {10, 15}, {20, 25}, {40, 50}},
		AverageAcrossTimesteps: true,
		AverageAcrossBatch:     true,
	}
}

// Validate checks the configuration.
// Every returned error wraps ErrConfig.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"source vocabulary", c.SourceVocab},
		{"target vocabulary", c.TargetVocab},
		{"embedding size", c.EmbeddingSize},
		{"hidden size", c.HiddenSize},
		{"layer count", c.NumLayers},
		{"head count", c.NumHeads},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return configErrorf("%s must be positive (got %d)", p.name, p.value)
		}
	}
	switch c.Cell {
	case LSTMCell, VanillaCell:
	default:
		return configErrorf("unknown cell type: %s", c.Cell)
	}
	switch c.EncoderMode {
	case ReverseEncoder, BidirectionalEncoder, BagOfWordsEncoder:
	default:
		return configErrorf("unsupported encoder mode: %s", c.EncoderMode)
	}
	switch c.BidirOutputs {
	case ForwardOutputs, ConcatOutputs, SumOutputs:
	default:
		return configErrorf("unknown bidirectional combination: %s", c.BidirOutputs)
	}
	switch c.Output {
	case LinearOutput:
	case MaxoutOutput:
		if c.HiddenSize%2 != 0 {
			return configErrorf("maxout needs an even hidden size (got %d)",
				c.HiddenSize)
		}
	default:
		return configErrorf("unknown output mode: %s", c.Output)
	}
	if c.EncoderMode == BagOfWordsEncoder && c.Cell != LSTMCell {
		return configErrorf("bag-of-words encoding needs a gated decoder cell")
	}
	if c.Latent != nil {
		if c.Latent.Size <= 0 {
			return configErrorf("latent size must be positive (got %d)", c.Latent.Size)
		}
		if c.Latent.KLMin < 0 {
			return configErrorf("negative KL floor: %f", c.Latent.KLMin)
		}
		for _, a := range []Activation{c.Latent.Activation, c.Latent.StateActivation} {
			if a < Identity || a > Sigmoid {
				return configErrorf("unknown activation: %s", a)
			}
		}
	}
	return validateBuckets(c.Buckets)
}

func (c *Config) lossOptions() *LossOptions {
	return &LossOptions{
		AverageAcrossTimesteps: c.AverageAcrossTimesteps,
		AverageAcrossBatch:     c.AverageAcrossBatch,
		Loss:                   c.Loss,
	}
}
