package video

import "github.com/ieee0824/lipread-go/internal/mathutil"

// Normalize standardizes values in place with one scalar mean and std over
// the whole slice: (v - mean) / (std + eps).
func Normalize(values []float64, eps float64) {
	mean, std := mathutil.MeanStd(values)
	inv := 1.0 / (std + eps)
	for i, v := range values {
		values[i] = (v - mean) * inv
	}
}
