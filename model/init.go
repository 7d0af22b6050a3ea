package model

import (
	"math"
	"math/rand"
)

// glorotUniform draws from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
}

// heNormal draws from a normal with std sqrt(2 / fanIn), truncated at two
// standard deviations.
func heNormal(rng *rand.Rand, w []float64, fanIn int) {
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range w {
		v := rng.NormFloat64()
		for v < -2 || v > 2 {
			v = rng.NormFloat64()
		}
		w[i] = v * std
	}
}

// orthogonal fills a row-major rows x cols matrix so that its rows (when
// rows <= cols) or its columns (otherwise) are orthonormal.
func orthogonal(rng *rand.Rand, w []float64, rows, cols int) {
	if rows <= cols {
		orthonormalRows(rng, w, rows, cols)
		return
	}
	t := make([]float64, rows*cols)
	orthonormalRows(rng, t, cols, rows)
	for i := 0; i < cols; i++ {
		for j := 0; j < rows; j++ {
			w[j*cols+i] = t[i*rows+j]
		}
	}
}

// orthonormalRows runs modified Gram-Schmidt over Gaussian rows (n <= dim).
func orthonormalRows(rng *rand.Rand, w []float64, n, dim int) {
	for i := 0; i < n; i++ {
		row := w[i*dim : (i+1)*dim]
		for {
			for j := range row {
				row[j] = rng.NormFloat64()
			}
			for k := 0; k < i; k++ {
				prev := w[k*dim : (k+1)*dim]
				d := dot(row, prev)
				for j := range row {
					row[j] -= d * prev[j]
				}
			}
			norm := math.Sqrt(dot(row, row))
			if norm > 1e-8 {
				for j := range row {
					row[j] /= norm
				}
				break
			}
		}
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += v * b[i]
	}
	return s
}
