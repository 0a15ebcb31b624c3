// Package tensor holds the dense matrices exchanged with the acoustic model.
package tensor

import (
	"fmt"
	"math/rand"
)

// Mat is a dense row-major matrix of float32 values. R and C are the number
// of rows and columns; Data holds R*C values.
type Mat struct {
	R, C int
	Data []float32
}

// NewMat allocates a zeroed r x c matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Data: make([]float32, r*c)}
}

// NewMatFromData wraps data as an r x c matrix. It checks that the data
// length matches r*c.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r*c != len(data) {
		return Mat{}, fmt.Errorf("tensor: data length %d does not match %dx%d", len(data), r, c)
	}
	return Mat{R: r, C: c, Data: data}, nil
}

// FromRows copies a slice of equally sized rows into a matrix.
func FromRows(rows [][]float32) (Mat, error) {
	if len(rows) == 0 {
		return Mat{}, nil
	}
	c := len(rows[0])
	m := NewMat(len(rows), c)
	for i, row := range rows {
		if len(row) != c {
			return Mat{}, fmt.Errorf("tensor: row %d has %d columns, want %d", i, len(row), c)
		}
		copy(m.Data[i*c:(i+1)*c], row)
	}
	return m, nil
}

// Row returns row i as a slice aliasing the matrix storage.
func (m Mat) Row(i int) []float32 {
	return m.Data[i*m.C : (i+1)*m.C]
}

// Rows copies the matrix into a fresh slice of rows.
func (m Mat) Rows() [][]float32 {
	out := make([][]float32, m.R)
	for i := range out {
		row := make([]float32, m.C)
		copy(row, m.Row(i))
		out[i] = row
	}
	return out
}

// Empty reports whether the matrix holds no rows.
func (m Mat) Empty() bool {
	return m.R == 0
}

// Clone returns a deep copy.
func (m Mat) Clone() Mat {
	data := make([]float32, len(m.Data))
	copy(data, m.Data)
	return Mat{R: m.R, C: m.C, Data: data}
}

// ConcatRows stacks matrices along the row (time) axis. All non-empty inputs
// must share the column count.
func ConcatRows(ms ...Mat) (Mat, error) {
	rows, cols := 0, -1
	for i, m := range ms {
		if m.Empty() {
			continue
		}
		if cols >= 0 && m.C != cols {
			return Mat{}, fmt.Errorf("tensor: concat input %d has %d columns, want %d", i, m.C, cols)
		}
		cols = m.C
		rows += m.R
	}
	if cols < 0 {
		return Mat{}, nil
	}
	out := NewMat(rows, cols)
	off := 0
	for _, m := range ms {
		if m.Empty() {
			continue
		}
		copy(out.Data[off:], m.Data)
		off += len(m.Data)
	}
	return out, nil
}

// LastRows returns a copy of the final n rows (all rows when n < 0 or
// n >= R).
func (m Mat) LastRows(n int) Mat {
	if n < 0 || n >= m.R {
		return m.Clone()
	}
	out := NewMat(n, m.C)
	copy(out.Data, m.Data[(m.R-n)*m.C:])
	return out
}

// FillRand fills the matrix with deterministic values in [-scale, scale).
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32()*2 - 1) * scale
	}
}

// MatVec computes dst = m * x for x of length C and dst of length R.
func MatVec(dst []float32, m Mat, x []float32) {
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		var sum float32
		for j, w := range row {
			sum += w * x[j]
		}
		dst[i] = sum
	}
}
