// Package topk selects the k largest elements of a slice with a
// deterministic tie-break.
package topk

import (
	"cmp"
	"container/heap"
)

type item[T cmp.Ordered] struct {
	value T
	index int
}

// worse reports whether a ranks below b: lower value, or equal value and a
// later original index.
func worse[T cmp.Ordered](a, b item[T]) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.index > b.index
}

// minHeap keeps the worst selected item at the root.
type minHeap[T cmp.Ordered] []item[T]

func (h minHeap[T]) Len() int           { return len(h) }
func (h minHeap[T]) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h minHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap[T]) Push(x any) { *h = append(*h, x.(item[T])) }

func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// SelectTopK returns the k largest values and their original indices, both
// ordered by descending value. Equal values keep ascending index order.
// When k >= len(values) every element is returned sorted.
//
// Runs in O(n log k): the heap is seeded with the first k elements and each
// later element replaces the current minimum only when strictly greater.
func SelectTopK[T cmp.Ordered](values []T, k int) ([]T, []int) {
	n := len(values)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	h := make(minHeap[T], 0, k)
	for i := 0; i < k; i++ {
		h = append(h, item[T]{value: values[i], index: i})
	}
	heap.Init(&h)

	for i := k; i < n; i++ {
		if h[0].value < values[i] {
			h[0] = item[T]{value: values[i], index: i}
			heap.Fix(&h, 0)
		}
	}

	outValues := make([]T, k)
	outIndices := make([]int, k)
	for cur := k - 1; cur >= 0; cur-- {
		it := heap.Pop(&h).(item[T])
		outValues[cur] = it.value
		outIndices[cur] = it.index
	}
	return outValues, outIndices
}
