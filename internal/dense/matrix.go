// Package dense implements DenseMatrix, the K×D weight bank of a CPM: K
// sub-classifier hyperplanes over D dimensions, each carrying a lazily
// applied scale factor so that global L2 shrinkage costs O(K) per step
// instead of O(K·D).
package dense

import (
	"github.com/chewxy/math32"

	"github.com/dkgv/cpm/internal/vector"
)

// minScale is sqrt(FLT_MIN): once any scales[k] drops below this, Rescale
// folds the scale back into the stored weights before float32 precision is
// lost entirely.
const minScale = 1.0842021724855044e-19

// bias is the constant implicit feature appended to every input; it only
// ever contributes to the intercept.
const bias = 1.0

// DenseMatrix is the K×D weight bank W.
//
// data[d*K+k] is the *unscaled* weight of dimension d for classifier k.
// scales[k] is a lazily-applied multiplier: the true weight is
// data[d*K+k] * scales[k]. intercept[k] is already scaled.
type DenseMatrix struct {
	k, d      int
	data      []float32
	scales    []float64
	intercept []float32
}

// New allocates a zero-initialized K×D weight bank.
func New(k, d int) *DenseMatrix {
	return &DenseMatrix{
		k:         k,
		d:         d,
		data:      make([]float32, k*d),
		scales:    onesFloat64(k),
		intercept: make([]float32, k),
	}
}

func onesFloat64(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// K returns the number of sub-classifiers.
func (m *DenseMatrix) K() int { return m.k }

// D returns the number of dimensions.
func (m *DenseMatrix) D() int { return m.d }

// Inner computes score[k] = scales[k]*sum_{(d,v) in s, d<D} v*data[d*K+k] + intercept[k]
// for every classifier k. Cells with index >= D are silently skipped. If
// mask is non-nil, mask[i] == true drops cell i of s from the sum (feature
// dropout); mask must have the same length as s.Cells() when provided.
//
// The result is written into dst, which must have length K, and also
// returned for convenience.
func (m *DenseMatrix) Inner(s *vector.SparseVector, mask []bool, dst []float32) []float32 {
	for k := 0; k < m.k; k++ {
		dst[k] = m.intercept[k]
	}
	cells := s.Cells()
	acc := make([]float32, m.k)
	for i, c := range cells {
		if int(c.Index) >= m.d {
			continue
		}
		if mask != nil && mask[i] {
			continue
		}
		base := int(c.Index) * m.k
		row := m.data[base : base+m.k]
		for k, w := range row {
			acc[k] += c.Value * w
		}
	}
	for k := 0; k < m.k; k++ {
		dst[k] += float32(m.scales[k]) * acc[k]
	}
	return dst
}

// AddInplaceAll applies w_k += a[k]*s for every classifier k. Because
// scales[k] divides the stored delta, the true effect on w_k remains a[k]*s
// regardless of the current scale.
func (m *DenseMatrix) AddInplaceAll(s *vector.SparseVector, a []float32) {
	for _, c := range s.Cells() {
		if int(c.Index) >= m.d {
			continue
		}
		base := int(c.Index) * m.k
		row := m.data[base : base+m.k]
		for k := range row {
			if a[k] == 0 {
				continue
			}
			row[k] += float32(float64(a[k]) * float64(c.Value) / m.scales[k])
		}
	}
	for k := 0; k < m.k; k++ {
		m.intercept[k] += bias * a[k]
	}
}

// AddInplaceOne applies w_k += a*s for a single classifier k.
func (m *DenseMatrix) AddInplaceOne(s *vector.SparseVector, a float32, k int) {
	for _, c := range s.Cells() {
		if int(c.Index) >= m.d {
			continue
		}
		idx := int(c.Index)*m.k + k
		m.data[idx] += float32(float64(a) * float64(c.Value) / m.scales[k])
	}
	m.intercept[k] += bias * a
}

// MulInplaceAll multiplies scales[k] and intercept[k] by a[k] for every k,
// rescaling afterward if any scale underflowed minScale.
func (m *DenseMatrix) MulInplaceAll(a []float32) {
	for k := 0; k < m.k; k++ {
		m.scales[k] *= float64(a[k])
		m.intercept[k] *= a[k]
	}
	m.rescaleIfNeeded()
}

// MulInplaceScalar multiplies every scale and intercept by the scalar a.
func (m *DenseMatrix) MulInplaceScalar(a float32) {
	for k := 0; k < m.k; k++ {
		m.scales[k] *= float64(a)
		m.intercept[k] *= a
	}
	m.rescaleIfNeeded()
}

func (m *DenseMatrix) rescaleIfNeeded() {
	for k := 0; k < m.k; k++ {
		if m.scales[k] < minScale {
			m.Rescale()
			return
		}
	}
}

// Rescale folds accumulated scales back into the stored weights and resets
// every scales[k] to 1.
//
// This reproduces the source behavior verbatim: scales[k] is *added to*
// data[d*K+k], not multiplied into it. That looks like a bug against the stated
// intent ("fold scales into data") but changes the numerics materially if
// corrected, so it is preserved as-is here -- see DESIGN.md. Intercepts are
// untouched.
func (m *DenseMatrix) Rescale() {
	for d := 0; d < m.d; d++ {
		base := d * m.k
		row := m.data[base : base+m.k]
		for k := range row {
			row[k] += float32(m.scales[k])
		}
	}
	for k := range m.scales {
		m.scales[k] = 1
	}
}

// L2Norm returns sqrt(sum_{d,k} (scales[k]*data[d*K+k])^2); intercepts are
// excluded.
func (m *DenseMatrix) L2Norm() float32 {
	var sumSq float32
	for d := 0; d < m.d; d++ {
		base := d * m.k
		row := m.data[base : base+m.k]
		for k, w := range row {
			scaled := float32(m.scales[k]) * w
			sumSq += scaled * scaled
		}
	}
	return math32.Sqrt(sumSq)
}

// Scales returns a copy of the current per-classifier scale factors.
func (m *DenseMatrix) Scales() []float64 {
	out := make([]float64, len(m.scales))
	copy(out, m.scales)
	return out
}

// Clear zeros the weight bank, following the source's CPM::clear behavior:
// scales are reset to 0.0 (not 1), which violates the scales >= minScale
// invariant until the next mutation triggers a rescale. See DESIGN.md.
func (m *DenseMatrix) Clear() {
	for i := range m.data {
		m.data[i] = 0
	}
	for i := range m.scales {
		m.scales[i] = 0
	}
	for i := range m.intercept {
		m.intercept[i] = 0
	}
}

// ExportRows returns the D*K scaled weights (data[d*K+k]*scales[k]) in
// row-major (d, then k) order, followed by the K intercepts -- the layout
// the "### MODEL ###" section of the serialized model uses.
func (m *DenseMatrix) ExportRows() (weights []float32, intercepts []float32) {
	weights = make([]float32, len(m.data))
	for i, w := range m.data {
		k := i % m.k
		weights[i] = w * float32(m.scales[k])
	}
	intercepts = make([]float32, len(m.intercept))
	copy(intercepts, m.intercept)
	return weights, intercepts
}

// ImportRows loads already-scaled weights (scale reset to 1) and intercepts,
// the inverse of ExportRows.
func ImportRows(k, d int, weights []float32, intercepts []float32) *DenseMatrix {
	m := New(k, d)
	copy(m.data, weights)
	copy(m.intercept, intercepts)
	return m
}
