package cells

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/seq2seq/ops"
	"github.com/unixpickle/seq2seq/params"
)

func TestPacking(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	store := params.NewStore(c)
	cells := map[string]Cell{
		"LSTM":    NewLSTM(store, "lstm", 3, 4),
		"Vanilla": NewVanilla(store, "vanilla", 3, 4),
		"Stack": Stack{
			NewLSTM(store, "stack/0", 3, 4),
			NewVanilla(store, "stack/1", 4, 2),
		},
	}
	for name, cell := range cells {
		t.Run(name, func(t *testing.T) {
			const n = 3
			in := c.MakeVector(n * cell.InputSize())
			anyvec.Rand(in, anyvec.Normal, nil)
			state := cell.Step(cell.Start(n), in).State()

			packed := cell.PackState(state)
			if packed.Len() != n*cell.StateSize() {
				t.Fatalf("expected size %d but got %d", n*cell.StateSize(), packed.Len())
			}
			repacked := cell.PackState(cell.UnpackState(packed, n))
			if !vectorsClose(packed, repacked) {
				t.Error("unpacking a state changed it")
			}
			regrad := cell.PackGrad(cell.UnpackGrad(packed, n))
			if !vectorsClose(packed, regrad) {
				t.Error("unpacking a gradient changed it")
			}

			// Stepping from an unpacked state must match
			// stepping from the original state.
			out1 := cell.Step(state, in).Output()
			out2 := cell.Step(cell.UnpackState(packed, n), in).Output()
			if !vectorsClose(out1, out2) {
				t.Error("unpacked state behaves differently")
			}
		})
	}
}

func TestLSTMPackLayout(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	lstm := NewLSTM(params.NewStore(c), "lstm", 2, 2)
	state := &anyrnn.LSTMState{
		Internal: &anyrnn.VecState{
			Vector:     ops.Vector(c, []float64{1, 2, 3, 4}),
			PresentMap: allPresent(2),
		},
		LastOut: &anyrnn.VecState{
			Vector:     ops.Vector(c, []float64{5, 6, 7, 8}),
			PresentMap: allPresent(2),
		},
	}
	actual := ops.Floats(lstm.PackState(state))
	expected := []float64{1, 2, 5, 6, 3, 4, 7, 8}
	for i, x := range expected {
		if actual[i] != x {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
}

func TestVanillaStep(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cell := NewVanilla(params.NewStore(c), "vanilla", 3, 2)
	in := c.MakeVector(2 * 3)
	anyvec.Rand(in, anyvec.Normal, nil)
	start := c.MakeVector(2 * 2)
	anyvec.Rand(start, anyvec.Normal, nil)

	actual := cell.Step(cell.UnpackState(start, 2), in).Output()
	expected := anydiff.Tanh(anydiff.Add(
		cell.InTrans.Apply(anydiff.NewConst(in), 2),
		cell.StateTrans.Apply(anydiff.NewConst(start), 2),
	)).Output()
	if !vectorsClose(actual, expected) {
		t.Errorf("expected %v but got %v", expected.Data(), actual.Data())
	}
}

func TestBOWCapability(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	store := params.NewStore(c)
	if !NewLSTM(store, "a", 2, 3).SupportsBOWInit() {
		t.Error("LSTM should support bag-of-words init")
	}
	if NewVanilla(store, "b", 2, 3).SupportsBOWInit() {
		t.Error("Vanilla should not support bag-of-words init")
	}
	if !(Stack{NewLSTM(store, "c", 2, 3), NewLSTM(store, "d", 3, 3)}).SupportsBOWInit() {
		t.Error("stacked LSTMs should support bag-of-words init")
	}
	if (Stack{NewLSTM(store, "e", 2, 3), NewLSTM(store, "f", 3, 4)}).SupportsBOWInit() {
		t.Error("mismatched layers should not support bag-of-words init")
	}
	if (Stack{NewLSTM(store, "g", 2, 3), NewVanilla(store, "h", 3, 3)}).SupportsBOWInit() {
		t.Error("a plain layer should disable bag-of-words init")
	}

	bow := NewBOW(store, "bow", NewVanilla(store, "i", 2, 3), 5)
	if bow.Gate != nil || bow.SupportsBOWInit() {
		t.Error("ungated cell should yield an ungated BOW")
	}
}

func TestBOWState(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	store := params.NewStore(c)
	stack := Stack{NewLSTM(store, "a", 2, 2), NewLSTM(store, "b", 2, 2)}
	bow := NewBOW(store, "bow", stack, 3)

	emb := c.MakeVector(4 * 3)
	anyvec.Rand(emb, anyvec.Normal, nil)
	features := bow.Features(anydiff.NewConst(emb), 4)
	if features.Output().Len() != 4*bow.FeatureSize() {
		t.Fatalf("unexpected feature size %d", features.Output().Len())
	}

	mem := anydiff.NewConst(ops.Vector(c, []float64{0.5, -1, 2, 0}))
	state := ops.Floats(bow.BOWState(mem, 2).Output())
	if len(state) != 2*stack.StateSize() {
		t.Fatalf("unexpected state size %d", len(state))
	}
	memData := ops.Floats(mem.Output())
	tanhData := ops.Floats(anydiff.Tanh(mem).Output())
	for b := 0; b < 2; b++ {
		row := state[b*8 : (b+1)*8]
		expected := []float64{
			memData[2*b], memData[2*b+1], tanhData[2*b], tanhData[2*b+1],
			memData[2*b], memData[2*b+1], tanhData[2*b], tanhData[2*b+1],
		}
		for i, x := range expected {
			if row[i] != x {
				t.Fatalf("row %d: expected %v but got %v", b, expected, row)
			}
		}
	}
}

func vectorsClose(v1, v2 anyvec.Vector) bool {
	if v1.Len() != v2.Len() {
		return false
	}
	diff := v1.Copy()
	diff.Sub(v2)
	return anyvec.AbsMax(diff).(float64) < 1e-8
}
