// Package cpmerr defines the sentinel error kinds shared across the CPM
// packages. Call sites wrap these with github.com/pkg/errors to attach
// context; callers recover the kind with errors.Is.
package cpmerr

import "github.com/pkg/errors"

var (
	// ErrMalformedInput is returned when a dataset or model line fails to
	// parse syntactically.
	ErrMalformedInput = errors.New("malformed input")

	// ErrCorruptModel is returned when a model stream ends prematurely or
	// declares an unsupported version.
	ErrCorruptModel = errors.New("corrupt model")

	// ErrInvalidArgument is returned for out-of-range or otherwise invalid
	// call arguments, e.g. a pos_id outside [0, N_pos).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInconsistent is returned by the evaluator's self-checks when a
	// predicted class sign disagrees with the underlying score.
	ErrInconsistent = errors.New("inconsistent state")

	// ErrIoFailure is returned when a file cannot be opened or read.
	ErrIoFailure = errors.New("io failure")
)
