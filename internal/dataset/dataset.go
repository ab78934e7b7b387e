// Package dataset implements the in-memory StochasticDataAdaptor: an
// immutable-after-construction collection of (label, sparse vector,
// positive-id) training instances, plus the libsvm-like text loader
// described in spec §6.1.
package dataset

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/vector"
)

// Instance is one training/test example: its label, its feature vector, and
// its 0-based position among instances of its own class (positives count
// separately from negatives). For negatives, PosID is the index among
// negatives and is unused by the CPM core.
type Instance struct {
	Label int
	X     *vector.SparseVector
	PosID uint64
}

// Adaptor is an immutable, in-memory collection of instances, safe to share
// by reference across goroutines (see internal/sweep).
type Adaptor struct {
	outerLabel int
	instances  []Instance
	numPos     int
	numNeg     int
	maxDim     int
}

// New builds an Adaptor from raw (label, vector) pairs, assigning PosID
// sequentially within each class in the order given.
func New(outerLabel int, labels []int, vectors []*vector.SparseVector) (*Adaptor, error) {
	if len(labels) != len(vectors) {
		return nil, errors.Wrapf(cpmerr.ErrInvalidArgument,
			"labels and vectors have different lengths (%d vs %d)", len(labels), len(vectors))
	}
	a := &Adaptor{outerLabel: outerLabel}
	var nextPos, nextNeg uint64
	a.instances = make([]Instance, len(labels))
	for i, label := range labels {
		x := vectors[i]
		inst := Instance{Label: label, X: x}
		if label == outerLabel {
			inst.PosID = nextPos
			nextPos++
		} else {
			inst.PosID = nextNeg
			nextNeg++
		}
		a.instances[i] = inst
		if d := int(x.MaxIndex()) + 1; d > a.maxDim {
			a.maxDim = d
		}
	}
	a.numPos = int(nextPos)
	a.numNeg = int(nextNeg)
	return a, nil
}

// LoadLibSVM reads a dataset text file: one instance per line, formatted
// "<label> <idx>:<val> <idx>:<val> ...[# comment]". A line whose trimmed
// length is <= 4 characters, or a blank line, terminates input (treated as
// EOF, not an error).
func LoadLibSVM(path string, outerLabel int) (*Adaptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(cpmerr.ErrIoFailure, "opening %q: %v", path, err)
	}
	defer f.Close()

	var labels []int
	var vectors []*vector.SparseVector

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimRight(line, "\r\n")
		if len(trimmed) <= 4 || strings.TrimSpace(trimmed) == "" {
			break
		}
		fields := strings.Fields(trimmed)
		label, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(cpmerr.ErrMalformedInput, "line %d: bad label %q", lineNo, fields[0])
		}
		body := strings.Join(fields[1:], " ")
		x, err := vector.ParseLibSVMBody(body)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", lineNo)
		}
		labels = append(labels, label)
		vectors = append(vectors, x)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(cpmerr.ErrIoFailure, "reading %q: %v", path, err)
	}
	return New(outerLabel, labels, vectors)
}

// OuterLabel returns the label treated as the positive/outer class.
func (a *Adaptor) OuterLabel() int { return a.outerLabel }

// Len returns the total number of instances (positives + negatives).
func (a *Adaptor) Len() int { return len(a.instances) }

// NumPositive returns the number of outer-labeled instances.
func (a *Adaptor) NumPositive() int { return a.numPos }

// NumNegative returns the number of non-outer-labeled instances.
func (a *Adaptor) NumNegative() int { return a.numNeg }

// MaxDim returns 1 + the maximum feature index seen across the dataset.
func (a *Adaptor) MaxDim() int { return a.maxDim }

// At returns the instance at the given position in file/construction order.
func (a *Adaptor) At(i int) Instance { return a.instances[i] }

// IsEmpty reports whether the dataset has no instances at all.
func (a *Adaptor) IsEmpty() bool { return len(a.instances) == 0 }
