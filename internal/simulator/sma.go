package simulator

import "math"

// SMA computes the simple moving average of x over a trailing window of
// exactly `window` points. The result is aligned to the input; days
// without enough history hold NaN.
func SMA(x []float64, window int) []float64 {
	if window <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= window {
			sum -= x[i-window]
		}
		out[i] = sum / float64(window)
	}
	return out
}
