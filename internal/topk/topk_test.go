package topk

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectTopKBasic(t *testing.T) {
	values := []float32{0.1, 0.9, 0.3, 0.7, 0.5}

	got, idx := SelectTopK(values, 3)

	assert.Equal(t, []float32{0.9, 0.7, 0.5}, got)
	assert.Equal(t, []int{1, 3, 4}, idx)
}

func TestSelectTopKTiesPreferLowerIndex(t *testing.T) {
	values := []int{5, 7, 5, 7, 5, 1}

	got, idx := SelectTopK(values, 4)

	assert.Equal(t, []int{7, 7, 5, 5}, got)
	assert.Equal(t, []int{1, 3, 0, 2}, idx)
}

func TestSelectTopKTieAtHeapBoundary(t *testing.T) {
	// The element at index 3 equals the current minimum and must not
	// displace the earlier one.
	values := []float64{2, 1, 3, 1}

	got, idx := SelectTopK(values, 3)

	assert.Equal(t, []float64{3, 2, 1}, got)
	assert.Equal(t, []int{2, 0, 1}, idx)
}

func TestSelectTopKLargerThanInput(t *testing.T) {
	values := []float32{-1, 4, 2, 4}

	got, idx := SelectTopK(values, 10)

	assert.Equal(t, []float32{4, 4, 2, -1}, got)
	assert.Equal(t, []int{1, 3, 2, 0}, idx)
}

func TestSelectTopKEmpty(t *testing.T) {
	got, idx := SelectTopK([]float32{}, 3)
	assert.Empty(t, got)
	assert.Empty(t, idx)

	got, idx = SelectTopK([]float32{1, 2}, 0)
	assert.Empty(t, got)
	assert.Empty(t, idx)
}

func TestSelectTopKMatchesStableSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(60)
		k := 1 + rng.Intn(n)
		values := make([]int, n)
		for i := range values {
			// small range forces plenty of duplicates
			values[i] = rng.Intn(8)
		}

		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return values[order[a]] > values[order[b]]
		})

		got, idx := SelectTopK(values, k)
		require.Len(t, got, k)
		require.Equal(t, order[:k], idx, "trial %d values %v k %d", trial, values, k)
		for i, j := range idx {
			assert.Equal(t, values[j], got[i])
		}
	}
}
