package model

import (
	"math/rand"

	"github.com/ieee0824/lipread-go/internal/blas"
)

// Conv3D is a stride-1, same-padded 3D convolution followed by ReLU.
// W is [OutC × (K·K·K·InC)] row-major with the inner index ordered
// (kt, kh, kw, inC); B is [OutC].
type Conv3D struct {
	InC  int
	OutC int
	K    int
	W    []float64
	B    []float64
}

func newConv3D(rng *rand.Rand, inC, outC, k int) Conv3D {
	patch := k * k * k * inC
	c := Conv3D{
		InC:  inC,
		OutC: outC,
		K:    k,
		W:    make([]float64, outC*patch),
		B:    make([]float64, outC),
	}
	glorotUniform(rng, c.W, patch, k*k*k*outC)
	return c
}

func (c *Conv3D) patchSize() int { return c.K * c.K * c.K * c.InC }

// forward convolves a [T][H][W][InC] volume into [T][H][W][OutC].
// Each output timestep is one im2col matrix multiplied against W.
func (c *Conv3D) forward(in []float64, T, H, W int) []float64 {
	patch := c.patchSize()
	pix := H * W
	out := make([]float64, T*pix*c.OutC)
	cols := make([]float64, pix*patch)
	pad := c.K / 2
	frame := pix * c.InC

	for t := 0; t < T; t++ {
		for i := range cols {
			cols[i] = 0
		}
		for y := 0; y < H; y++ {
			for x := 0; x < W; x++ {
				row := cols[(y*W+x)*patch : (y*W+x+1)*patch]
				off := 0
				for kt := 0; kt < c.K; kt++ {
					st := t + kt - pad
					for kh := 0; kh < c.K; kh++ {
						sy := y + kh - pad
						for kw := 0; kw < c.K; kw++ {
							sx := x + kw - pad
							if st >= 0 && st < T && sy >= 0 && sy < H && sx >= 0 && sx < W {
								src := in[st*frame+(sy*W+sx)*c.InC:]
								copy(row[off:off+c.InC], src[:c.InC])
							}
							off += c.InC
						}
					}
				}
			}
		}
		dst := out[t*pix*c.OutC : (t+1)*pix*c.OutC]
		blas.Dgemm(false, true, pix, c.OutC, patch,
			1.0, cols, patch, c.W, patch, 0.0, dst, c.OutC)
		addBiasReLU(dst, c.B, pix, c.OutC)
	}
	return out
}

// addBiasReLU adds bias and applies ReLU in place.
func addBiasReLU(z []float64, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		off := i * cols
		for j := 0; j < cols; j++ {
			v := z[off+j] + bias[j]
			if v < 0 {
				v = 0
			}
			z[off+j] = v
		}
	}
}

// maxPoolSpatial applies a (1,2,2) max pool with valid padding to a
// [T][H][W][C] volume; odd trailing rows and columns are dropped.
func maxPoolSpatial(in []float64, T, H, W, C int) (out []float64, oh, ow int) {
	oh, ow = H/2, W/2
	out = make([]float64, T*oh*ow*C)
	for t := 0; t < T; t++ {
		src := in[t*H*W*C:]
		dst := out[t*oh*ow*C:]
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				o := dst[(y*ow+x)*C : (y*ow+x+1)*C]
				a := src[((2*y)*W+2*x)*C:]
				b := src[((2*y)*W+2*x+1)*C:]
				cc := src[((2*y+1)*W+2*x)*C:]
				d := src[((2*y+1)*W+2*x+1)*C:]
				for ch := range o {
					m := a[ch]
					if b[ch] > m {
						m = b[ch]
					}
					if cc[ch] > m {
						m = cc[ch]
					}
					if d[ch] > m {
						m = d[ch]
					}
					o[ch] = m
				}
			}
		}
	}
	return out, oh, ow
}
