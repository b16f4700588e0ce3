package seq2seq

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrConfig is wrapped by every error that stems from an
// invalid model configuration or from inputs which do not
// match the configuration.
//
// Use errors.Is to test for it.
var ErrConfig = errors.New("seq2seq: invalid configuration")

// ErrEmptySequence is returned by the sequence losses
// when there are no timesteps.
// Without a timestep there is no batch size or vector
// creator to build a result from.
// It wraps ErrConfig.
var ErrEmptySequence = errors.Wrap(ErrConfig, "empty sequence")

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// catchPanics runs fn and converts a panic into an error.
// Panics with an error value are returned as-is, so
// errors.Is still works on them.
func catchPanics(fn func()) error {
	exception := exceptions.Try(fn)
	if exception == nil {
		return nil
	}
	if err, ok := exception.(error); ok {
		return err
	}
	return errors.Errorf("seq2seq: %v", exception)
}
