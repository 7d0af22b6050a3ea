package model

import (
	"math"
	"math/rand"

	"github.com/ieee0824/lipread-go/internal/blas"
)

// LSTM is one direction of a recurrent layer. Gates are packed in the order
// input, forget, cell, output: W is [4U × In], U is [4U × U], B is [4U].
type LSTM struct {
	In    int
	Units int
	W     []float64
	U     []float64
	B     []float64
}

func newLSTM(rng *rand.Rand, in, units int) LSTM {
	l := LSTM{
		In:    in,
		Units: units,
		W:     make([]float64, 4*units*in),
		U:     make([]float64, 4*units*units),
		B:     make([]float64, 4*units),
	}
	orthogonal(rng, l.W, 4*units, in)
	orthogonal(rng, l.U, 4*units, units)
	for j := units; j < 2*units; j++ {
		l.B[j] = 1
	}
	return l
}

// run processes xs ([T × In]) and writes hidden states into out at stride
// outStride and offset outOff. reverse runs from the last timestep back, and
// each state is stored at the timestep it was computed for.
func (l *LSTM) run(xs []float64, T int, reverse bool, out []float64, outStride, outOff int) {
	U := l.Units
	G := 4 * U
	proj := make([]float64, T*G)
	blas.Dgemm(false, true, T, G, l.In, 1.0, xs, l.In, l.W, l.In, 0.0, proj, G)

	h := make([]float64, U)
	c := make([]float64, U)
	z := make([]float64, G)
	for step := 0; step < T; step++ {
		t := step
		if reverse {
			t = T - 1 - step
		}
		copy(z, proj[t*G:(t+1)*G])
		blas.Dgemv(false, G, U, 1.0, l.U, U, h, 1.0, z)
		for j := 0; j < U; j++ {
			ig := sigmoid(z[j] + l.B[j])
			fg := sigmoid(z[U+j] + l.B[U+j])
			cg := math.Tanh(z[2*U+j] + l.B[2*U+j])
			og := sigmoid(z[3*U+j] + l.B[3*U+j])
			c[j] = fg*c[j] + ig*cg
			h[j] = og * math.Tanh(c[j])
		}
		copy(out[t*outStride+outOff:t*outStride+outOff+U], h)
	}
}

// BiLSTM runs a forward and a reversed LSTM and concatenates their states.
type BiLSTM struct {
	Fwd LSTM
	Bwd LSTM
}

func newBiLSTM(rng *rand.Rand, in, units int) BiLSTM {
	return BiLSTM{Fwd: newLSTM(rng, in, units), Bwd: newLSTM(rng, in, units)}
}

// OutDim returns the concatenated state width.
func (b *BiLSTM) OutDim() int { return b.Fwd.Units + b.Bwd.Units }

// forward maps [T × In] to [T × (Fwd.Units+Bwd.Units)].
func (b *BiLSTM) forward(xs []float64, T int) []float64 {
	d := b.OutDim()
	out := make([]float64, T*d)
	b.Fwd.run(xs, T, false, out, d, 0)
	b.Bwd.run(xs, T, true, out, d, b.Fwd.Units)
	return out
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
