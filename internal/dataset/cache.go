package dataset

import (
	"github.com/dkgv/cpm/internal/vector"
)

// GobRecord is the gob-serializable representation of an Adaptor, used by
// internal/sweep to cache a parsed dataset across sweep runs instead of
// re-parsing the libsvm text file for every invocation. SparseVector's
// fields are private, so instances are flattened to parallel index/value
// slices here rather than gob-encoded directly.
type GobRecord struct {
	OuterLabel int
	Labels     []int
	Indices    [][]uint32
	Values     [][]float32
	Length     int // declared vector length per instance, for FromParallel
}

// ExportForGob flattens a into a GobRecord.
func ExportForGob(a *Adaptor) GobRecord {
	rec := GobRecord{
		OuterLabel: a.outerLabel,
		Labels:     make([]int, len(a.instances)),
		Indices:    make([][]uint32, len(a.instances)),
		Values:     make([][]float32, len(a.instances)),
		Length:     a.maxDim,
	}
	for i, inst := range a.instances {
		rec.Labels[i] = inst.Label
		cells := inst.X.Cells()
		idx := make([]uint32, len(cells))
		val := make([]float32, len(cells))
		for j, c := range cells {
			idx[j] = c.Index
			val[j] = c.Value
		}
		rec.Indices[i] = idx
		rec.Values[i] = val
	}
	return rec
}

// ImportFromGob rebuilds an Adaptor from a GobRecord written by ExportForGob.
func ImportFromGob(rec GobRecord) (*Adaptor, error) {
	vectors := make([]*vector.SparseVector, len(rec.Labels))
	for i := range rec.Labels {
		v, err := vector.FromParallel(rec.Indices[i], rec.Values[i], rec.Length)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return New(rec.OuterLabel, rec.Labels, vectors)
}
