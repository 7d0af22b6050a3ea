package blas

import (
	"math"
	"math/rand"
	"testing"
)

// naiveGemm is the reference triple loop used to check every transpose combination.
func naiveGemm(transA, transB bool, m, n, k int, alpha float64, a []float64, lda int,
	b []float64, ldb int, beta float64, c []float64, ldc int) []float64 {
	out := make([]float64, len(c))
	copy(out, c)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for p := 0; p < k; p++ {
				var av, bv float64
				if transA {
					av = a[p*lda+i]
				} else {
					av = a[i*lda+p]
				}
				if transB {
					bv = b[j*ldb+p]
				} else {
					bv = b[p*ldb+j]
				}
				sum += av * bv
			}
			out[i*ldc+j] = alpha*sum + beta*c[i*ldc+j]
		}
	}
	return out
}

func TestDgemm_Small(t *testing.T) {
	// A(2x3) * B(3x2) = C(2x2)
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 8, 9, 10, 11, 12}
	c := make([]float64, 4)

	Dgemm(false, false, 2, 2, 3, 1.0, a, 3, b, 2, 0.0, c, 2)

	want := []float64{58, 64, 139, 154}
	for i := range want {
		if math.Abs(c[i]-want[i]) > 1e-10 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestDgemm_TransB(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 9, 11, 8, 10, 12} // B(2x3), B^T = [[7,8],[9,10],[11,12]]
	c := make([]float64, 4)

	Dgemm(false, true, 2, 2, 3, 1.0, a, 3, b, 3, 0.0, c, 2)

	want := []float64{58, 64, 139, 154}
	for i := range want {
		if math.Abs(c[i]-want[i]) > 1e-10 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestDgemm_AlphaBeta(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{5, 6, 7, 8}
	c := []float64{1, 1, 1, 1}

	Dgemm(false, false, 2, 2, 2, 2.0, a, 2, b, 2, 3.0, c, 2)

	want := []float64{41, 47, 89, 103}
	for i := range want {
		if math.Abs(c[i]-want[i]) > 1e-10 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestDgemm_BetaZeroClearsGarbage(t *testing.T) {
	a := []float64{1, 2}
	b := []float64{3, 4}
	c := []float64{math.NaN()}

	Dgemm(false, true, 1, 1, 2, 1.0, a, 2, b, 2, 0.0, c, 1)

	if c[0] != 11 {
		t.Fatalf("c[0] = %f, want 11", c[0])
	}
}

func TestDgemm_AllTransposes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m, n, k := 5, 4, 6
	for _, tc := range []struct{ ta, tb bool }{
		{false, false}, {false, true}, {true, false}, {true, true},
	} {
		a := make([]float64, m*k)
		b := make([]float64, k*n)
		c := make([]float64, m*n)
		for i := range a {
			a[i] = rng.NormFloat64()
		}
		for i := range b {
			b[i] = rng.NormFloat64()
		}
		for i := range c {
			c[i] = rng.NormFloat64()
		}
		lda, ldb := k, n
		if tc.ta {
			lda = m
		}
		if tc.tb {
			ldb = k
		}
		want := naiveGemm(tc.ta, tc.tb, m, n, k, 0.5, a, lda, b, ldb, 2.0, c, n)
		Dgemm(tc.ta, tc.tb, m, n, k, 0.5, a, lda, b, ldb, 2.0, c, n)
		for i := range want {
			if math.Abs(c[i]-want[i]) > 1e-9 {
				t.Fatalf("transA=%v transB=%v: c[%d] = %f, want %f", tc.ta, tc.tb, i, c[i], want[i])
			}
		}
	}
}

func TestDgemv(t *testing.T) {
	// A(2x3)
	a := []float64{1, 2, 3, 4, 5, 6}

	y := make([]float64, 2)
	Dgemv(false, 2, 3, 1.0, a, 3, []float64{1, 1, 1}, 0.0, y)
	if y[0] != 6 || y[1] != 15 {
		t.Errorf("A*x = %v, want [6 15]", y)
	}

	yt := []float64{1, 1, 1}
	Dgemv(true, 2, 3, 1.0, a, 3, []float64{1, 2}, 1.0, yt)
	want := []float64{10, 13, 16}
	for i := range want {
		if math.Abs(yt[i]-want[i]) > 1e-12 {
			t.Errorf("A^T*x + y [%d] = %f, want %f", i, yt[i], want[i])
		}
	}
}

func BenchmarkDgemm_Im2colLayer(b *testing.B) {
	// One timestep of a 3x3x3 conv over a 23x70 map with 16 input channels.
	rng := rand.New(rand.NewSource(42))
	M, K, N := 23*70, 27*16, 32
	a := make([]float64, M*K)
	w := make([]float64, N*K)
	for i := range a {
		a[i] = rng.Float64()
	}
	for i := range w {
		w[i] = rng.Float64()
	}
	c := make([]float64, M*N)

	b.ResetTimer()
	for b.Loop() {
		Dgemm(false, true, M, N, K, 1.0, a, K, w, K, 0.0, c, N)
	}
}
