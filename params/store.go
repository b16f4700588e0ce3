// Package params stores the learned parameters of a
// model, keyed by name.
//
// Components ask a Store for their parameters instead of
// allocating them.
// Asking twice for the same key returns the same
// parameters, which is how separately unrolled graphs
// share weights.
package params

import (
	"fmt"
	"math"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

// A Store owns a set of named parameters.
// It is safe to use from multiple Goroutines.
type Store struct {
	creator anyvec.Creator

	lock   sync.Mutex
	shapes map[string][2]int
	fcs    map[string]*anynet.FC
	lstms  map[string]*anyrnn.LSTM
	vars   map[string]*anydiff.Var
	names  []string
	named  map[string]*anydiff.Var
}

// NewStore creates an empty Store whose parameters are
// created with c.
// If c is nil, float32 parameters are used.
func NewStore(c anyvec.Creator) *Store {
	if c == nil {
		c = anyvec32.DefaultCreator{}
	}
	return &Store{
		creator: c,
		shapes:  map[string][2]int{},
		fcs:     map[string]*anynet.FC{},
		lstms:   map[string]*anyrnn.LSTM{},
		vars:    map[string]*anydiff.Var{},
		named:   map[string]*anydiff.Var{},
	}
}

// Creator returns the creator used for parameters.
func (s *Store) Creator() anyvec.Creator {
	return s.creator
}

// FC returns the fully-connected layer for the key,
// creating it if necessary.
//
// It panics if the key exists with a different shape.
func (s *Store) FC(key string, in, out int) *anynet.FC {
	s.lock.Lock()
	defer s.lock.Unlock()
	if fc, ok := s.fcs[key]; ok {
		s.checkShape("FC", key, in, out)
		return fc
	}
	s.claim(key, in, out, key+"/weights", key+"/biases")
	fc := anynet.NewFC(s.creator, in, out)
	s.fcs[key] = fc
	s.register(key+"/weights", fc.Weights)
	s.register(key+"/biases", fc.Biases)
	return fc
}

// LSTM returns the LSTM block for the key, creating it if
// necessary.
func (s *Store) LSTM(key string, in, hidden int) *anyrnn.LSTM {
	s.lock.Lock()
	defer s.lock.Unlock()
	if lstm, ok := s.lstms[key]; ok {
		s.checkShape("LSTM", key, in, hidden)
		return lstm
	}
	lstm := anyrnn.NewLSTM(s.creator, in, hidden)
	params := lstm.Parameters()
	names := make([]string, len(params))
	for i := range params {
		names[i] = fmt.Sprintf("%s/%d", key, i)
	}
	s.claim(key, in, hidden, names...)
	s.lstms[key] = lstm
	for i, p := range params {
		s.register(names[i], p)
	}
	return lstm
}

// Linear returns a weight matrix with out rows and in
// columns, for use as a linear map without a bias.
func (s *Store) Linear(key string, in, out int) *anydiff.Var {
	return s.variable(key, in, out, 1/math.Sqrt(float64(in)))
}

// Vector returns a vector of the given size, initialized
// from a normal distribution with the given standard
// deviation.
func (s *Store) Vector(key string, size int, stddev float64) *anydiff.Var {
	return s.variable(key, size, 1, stddev)
}

func (s *Store) variable(key string, cols, rows int, stddev float64) *anydiff.Var {
	s.lock.Lock()
	defer s.lock.Unlock()
	if v, ok := s.vars[key]; ok {
		s.checkShape("variable", key, cols, rows)
		return v
	}
	s.claim(key, cols, rows, key)
	vec := s.creator.MakeVector(cols * rows)
	anyvec.Rand(vec, anyvec.Normal, nil)
	vec.Scale(s.creator.MakeNumeric(stddev))
	v := anydiff.NewVar(vec)
	s.vars[key] = v
	s.register(key, v)
	return v
}

// Parameters returns every parameter in the order it was
// created.
func (s *Store) Parameters() []*anydiff.Var {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]*anydiff.Var, len(s.names))
	for i, name := range s.names {
		res[i] = s.named[name]
	}
	return res
}

// Names returns the names of the parameters, in the same
// order as Parameters.
func (s *Store) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string{}, s.names...)
}

// Lookup finds a parameter by name.
func (s *Store) Lookup(name string) (*anydiff.Var, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	v, ok := s.named[name]
	return v, ok
}

// NumParams counts the scalars in every parameter.
func (s *Store) NumParams() int {
	var res int
	for _, p := range s.Parameters() {
		res += p.Vector.Len()
	}
	return res
}

// Serialize encodes the parameter values.
// The result can be loaded into any Store which defines
// the same parameters.
func (s *Store) Serialize() ([]byte, error) {
	var items []serializer.Serializer
	names := s.Names()
	for i, p := range s.Parameters() {
		items = append(items, serializer.Bytes(names[i]),
			&anyvecsave.S{Vector: p.Vector})
	}
	data, err := serializer.SerializeSlice(items)
	if err != nil {
		return nil, errors.Wrap(err, "serialize parameters")
	}
	return data, nil
}

// Load copies serialized parameter values into the
// existing parameters of s.
func (s *Store) Load(data []byte) error {
	items, err := serializer.DeserializeSlice(data)
	if err != nil {
		return errors.Wrap(err, "load parameters")
	}
	if len(items)%2 != 0 {
		return errors.New("load parameters: odd number of items")
	}
	for i := 0; i < len(items); i += 2 {
		name, ok1 := items[i].(serializer.Bytes)
		vec, ok2 := items[i+1].(*anyvecsave.S)
		if !ok1 || !ok2 {
			return errors.Errorf("load parameters: unexpected item types %T, %T",
				items[i], items[i+1])
		}
		param, ok := s.Lookup(string(name))
		if !ok {
			return errors.Errorf("load parameters: unknown parameter %q", name)
		}
		if param.Vector.Len() != vec.Vector.Len() {
			return errors.Errorf("load parameters: %q has size %d, not %d",
				name, param.Vector.Len(), vec.Vector.Len())
		}
		param.Vector.Set(vec.Vector)
	}
	return nil
}

// claim reserves a key and the parameter names it will
// register.
// Nothing is reserved if either is taken.
func (s *Store) claim(key string, a, b int, names ...string) {
	if _, ok := s.shapes[key]; ok {
		exceptions.Panicf("params: key %q is already used by another kind of parameter", key)
	}
	for _, name := range names {
		if _, ok := s.named[name]; ok {
			exceptions.Panicf("params: name %q is already registered", name)
		}
	}
	s.shapes[key] = [2]int{a, b}
}

func (s *Store) checkShape(kind, key string, a, b int) {
	if shape := s.shapes[key]; shape != [2]int{a, b} {
		exceptions.Panicf("params: %s %q has shape %dx%d, not %dx%d", kind, key,
			shape[0], shape[1], a, b)
	}
}

func (s *Store) register(name string, v *anydiff.Var) {
	if _, ok := s.named[name]; ok {
		exceptions.Panicf("params: name %q is already registered", name)
	}
	s.names = append(s.names, name)
	s.named[name] = v
}
