// Package vector implements SparseVector, an immutable sorted (index, value)
// representation of a training instance's feature vector, along with the
// libsvm-style text encoding used to exchange datasets.
package vector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/dkgv/cpm/internal/cpmerr"
)

// Cell is a single (index, value) pair of a SparseVector. Indices are
// nonnegative; values are 32-bit floats.
type Cell struct {
	Index uint32
	Value float32
}

// SparseVector is an ordered sequence of cells with strictly increasing
// indices. It is immutable after construction, except for InPlaceScale,
// which updates the cached L2 norm in lockstep.
type SparseVector struct {
	cells []Cell
	norm  float32
}

// newFromCells wraps a caller-built, already-validated slice of cells (strictly
// increasing indices) into a SparseVector, computing its cached norm.
// Intended for internal use by the constructors below.
func newFromCells(cells []Cell) *SparseVector {
	var sumSq float32
	for _, c := range cells {
		sumSq += c.Value * c.Value
	}
	return &SparseVector{cells: cells, norm: math32.Sqrt(sumSq)}
}

// FromDense builds a SparseVector from a dense array of length L, emitting a
// cell only for indices where data[i] != 0.
func FromDense(data []float32) *SparseVector {
	cells := make([]Cell, 0, len(data))
	for i, v := range data {
		if v != 0 {
			cells = append(cells, Cell{Index: uint32(i), Value: v})
		}
	}
	return newFromCells(cells)
}

// FromParallel builds a SparseVector from parallel index/value slices of the
// given length. Indices must be strictly increasing; unlike FromDense, zero
// values are kept (the caller is asserting these are meaningful cells).
func FromParallel(indices []uint32, values []float32, length int) (*SparseVector, error) {
	if len(indices) != len(values) {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument,
			"indices and values have different lengths (%d vs %d)", len(indices), len(values))
	}
	if len(indices) > length {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument,
			"more cells (%d) than declared length (%d)", len(indices), length)
	}
	cells := make([]Cell, len(indices))
	var last int64 = -1
	for i, idx := range indices {
		if int64(idx) <= last {
			return nil, errors.Wrapf(cpmerr.ErrMalformedInput,
				"indices must be strictly increasing, got %d after %d", idx, last)
		}
		last = int64(idx)
		cells[i] = Cell{Index: idx, Value: values[i]}
	}
	return newFromCells(cells), nil
}

// ParseLibSVMBody decodes a libsvm-style cell list: "idx:val idx:val ...",
// stopping at the first '\n', '\r', or '#'. Whitespace between cells is
// tolerated. Indices must be strictly increasing; a missing ':' or a
// non-increasing index fails with cpmerr.ErrMalformedInput.
func ParseLibSVMBody(body string) (*SparseVector, error) {
	// Stop at newline, carriage return, or comment marker.
	if i := strings.IndexAny(body, "\n\r#"); i >= 0 {
		body = body[:i]
	}
	fields := strings.Fields(body)
	cells := make([]Cell, 0, len(fields))
	var last int64 = -1
	for _, field := range fields {
		colon := strings.IndexByte(field, ':')
		if colon < 0 {
			return nil, errors.Wrapf(cpmerr.ErrMalformedInput, "missing ':' in cell %q", field)
		}
		idxStr, valStr := field[:colon], field[colon+1:]
		idx, err := strconv.ParseUint(idxStr, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(cpmerr.ErrMalformedInput, "bad index %q", idxStr)
		}
		if int64(idx) <= last {
			return nil, errors.Wrapf(cpmerr.ErrMalformedInput,
				"indices must be strictly increasing, got %d after %d", idx, last)
		}
		last = int64(idx)
		val, err := strconv.ParseFloat(valStr, 32)
		if err != nil {
			return nil, errors.Wrapf(cpmerr.ErrMalformedInput, "bad value %q", valStr)
		}
		cells = append(cells, Cell{Index: uint32(idx), Value: float32(val)})
	}
	return newFromCells(cells), nil
}

// Cells returns the underlying (index, value) pairs. The returned slice must
// not be mutated by the caller.
func (v *SparseVector) Cells() []Cell {
	return v.cells
}

// Len returns the number of stored cells; cells built by FromParallel may
// hold zero values.
func (v *SparseVector) Len() int {
	return len(v.cells)
}

// Norm returns the cached L2 norm of the vector.
func (v *SparseVector) Norm() float32 {
	return v.norm
}

// MaxIndex returns the index of the last cell, or 0 if the vector is empty.
func (v *SparseVector) MaxIndex() uint32 {
	if len(v.cells) == 0 {
		return 0
	}
	return v.cells[len(v.cells)-1].Index
}

// InPlaceScale multiplies every value, and the cached norm, by w, exactly as
// SparseVector::multiplyInplace does -- for a negative w the cached norm goes
// negative right along with it, a quirk callers must not paper over.
func (v *SparseVector) InPlaceScale(w float32) {
	for i := range v.cells {
		v.cells[i].Value *= w
	}
	v.norm *= w
}

// ToLibSVMBody reproduces the textual cell-list form of the vector. Values
// round-trip through float formatting; the cached norm is never emitted.
func (v *SparseVector) ToLibSVMBody() string {
	var sb strings.Builder
	for i, c := range v.cells {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d:%s", c.Index, strconv.FormatFloat(float64(c.Value), 'g', -1, 32))
	}
	return sb.String()
}
