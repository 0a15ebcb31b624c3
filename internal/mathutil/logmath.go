package mathutil

import "math"

// LogZero represents log(0).
var LogZero = math.Inf(-1)

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Either argument may be LogZero.
func LogAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	d := b - a
	if d < -36.0 {
		// exp(-36) is below float64 precision relative to 1.
		return a
	}
	return a + math.Log1p(math.Exp(d))
}

// LogSoftmax normalizes logits in place so that they exponentiate to a
// probability distribution.
func LogSoftmax(logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxv))
	}
	lse := float32(math.Log(sum)) + maxv
	for i := range logits {
		logits[i] -= lse
	}
}

// Argmax returns the index and value of the largest element, or -1 for an
// empty slice.
func Argmax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx := 0
	best := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > best {
			best = v[i]
			idx = i
		}
	}
	return idx, best
}
