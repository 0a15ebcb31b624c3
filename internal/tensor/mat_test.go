package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRowsAndRow(t *testing.T) {
	m, err := FromRows([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)

	assert.Equal(t, 3, m.R)
	assert.Equal(t, 2, m.C)
	assert.Equal(t, []float32{3, 4}, m.Row(1))
}

func TestFromRowsRagged(t *testing.T) {
	_, err := FromRows([][]float32{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestNewMatFromDataMismatch(t *testing.T) {
	_, err := NewMatFromData(2, 2, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestConcatRows(t *testing.T) {
	a, _ := FromRows([][]float32{{1, 2}})
	b, _ := FromRows([][]float32{{3, 4}, {5, 6}})

	m, err := ConcatRows(a, Mat{}, b)
	require.NoError(t, err)

	assert.Equal(t, 3, m.R)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, m.Data)
}

func TestConcatRowsColumnMismatch(t *testing.T) {
	a := NewMat(1, 2)
	b := NewMat(1, 3)
	_, err := ConcatRows(a, b)
	assert.Error(t, err)
}

func TestConcatRowsAllEmpty(t *testing.T) {
	m, err := ConcatRows()
	require.NoError(t, err)
	assert.True(t, m.Empty())
}

func TestLastRows(t *testing.T) {
	m, _ := FromRows([][]float32{{1}, {2}, {3}})

	assert.Equal(t, []float32{2, 3}, m.LastRows(2).Data)
	assert.Equal(t, []float32{1, 2, 3}, m.LastRows(-1).Data)
	assert.Equal(t, []float32{1, 2, 3}, m.LastRows(5).Data)
}

func TestCloneIsDeep(t *testing.T) {
	m, _ := FromRows([][]float32{{1, 2}})
	c := m.Clone()
	c.Data[0] = 9
	assert.Equal(t, float32(1), m.Data[0])
}

func TestMatVec(t *testing.T) {
	m, _ := FromRows([][]float32{{1, 0, 2}, {0, 1, 1}})
	dst := make([]float32, 2)

	MatVec(dst, m, []float32{1, 2, 3})

	assert.Equal(t, []float32{7, 5}, dst)
}
