package model

import (
	"math/rand"

	"github.com/ieee0824/lipread-go/internal/blas"
	"github.com/ieee0824/lipread-go/internal/mathutil"
)

// Dense is the softmax classification head. W is [Out × In] row-major.
type Dense struct {
	In  int
	Out int
	W   []float64
	B   []float64
}

func newDense(rng *rand.Rand, in, out int) Dense {
	d := Dense{
		In:  in,
		Out: out,
		W:   make([]float64, out*in),
		B:   make([]float64, out),
	}
	heNormal(rng, d.W, in)
	return d
}

// Logits computes pre-softmax activations for T rows of input ([T × In]).
func (d *Dense) Logits(xs []float64, T int) []float64 {
	z := make([]float64, T*d.Out)
	blas.Dgemm(false, true, T, d.Out, d.In, 1.0, xs, d.In, d.W, d.In, 0.0, z, d.Out)
	for t := 0; t < T; t++ {
		row := z[t*d.Out : (t+1)*d.Out]
		for j := range row {
			row[j] += d.B[j]
		}
	}
	return z
}

// Softmax computes per-row class probabilities.
func (d *Dense) Softmax(xs []float64, T int) [][]float64 {
	z := d.Logits(xs, T)
	out := make([][]float64, T)
	for t := range out {
		out[t] = z[t*d.Out : (t+1)*d.Out]
		mathutil.SoftmaxInPlace(out[t])
	}
	return out
}
