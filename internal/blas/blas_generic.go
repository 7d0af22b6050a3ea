//go:build !darwin || !cgo

package blas

// Dgemm performs C = alpha*op(A)*op(B) + beta*C in pure Go.
// All matrices are row-major. op(X) = X if trans=false, X^T if trans=true.
// A is (m x k) or (k x m) if transA, B is (k x n) or (n x k) if transB, C is (m x n).
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	if m == 0 || n == 0 {
		return
	}
	scaleC(m, n, beta, c, ldc)
	if k == 0 || alpha == 0 {
		return
	}

	switch {
	case !transA && transB:
		// Row-by-row dot products; the conv and LSTM layers hit this path.
		for i := 0; i < m; i++ {
			ai := a[i*lda : i*lda+k]
			ci := c[i*ldc : i*ldc+n]
			for j := 0; j < n; j++ {
				bj := b[j*ldb : j*ldb+k]
				sum := 0.0
				for p, av := range ai {
					sum += av * bj[p]
				}
				ci[j] += alpha * sum
			}
		}
	case !transA && !transB:
		for i := 0; i < m; i++ {
			ci := c[i*ldc : i*ldc+n]
			for p := 0; p < k; p++ {
				av := alpha * a[i*lda+p]
				if av == 0 {
					continue
				}
				bp := b[p*ldb : p*ldb+n]
				for j, bv := range bp {
					ci[j] += av * bv
				}
			}
		}
	case transA && !transB:
		for p := 0; p < k; p++ {
			ap := a[p*lda : p*lda+m]
			bp := b[p*ldb : p*ldb+n]
			for i, aval := range ap {
				av := alpha * aval
				if av == 0 {
					continue
				}
				ci := c[i*ldc : i*ldc+n]
				for j, bv := range bp {
					ci[j] += av * bv
				}
			}
		}
	default:
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				sum := 0.0
				for p := 0; p < k; p++ {
					sum += a[p*lda+i] * b[j*ldb+p]
				}
				c[i*ldc+j] += alpha * sum
			}
		}
	}
}

// Dgemv performs y = alpha*op(A)*x + beta*y for a row-major (m x n) matrix A.
func Dgemv(transA bool, m, n int, alpha float64, a []float64, lda int,
	x []float64, beta float64, y []float64) {

	rows := m
	if transA {
		rows = n
	}
	for i := 0; i < rows; i++ {
		if beta == 0 {
			y[i] = 0
		} else if beta != 1 {
			y[i] *= beta
		}
	}
	if alpha == 0 {
		return
	}
	if !transA {
		for i := 0; i < m; i++ {
			row := a[i*lda : i*lda+n]
			sum := 0.0
			for j, v := range row {
				sum += v * x[j]
			}
			y[i] += alpha * sum
		}
		return
	}
	for i := 0; i < m; i++ {
		xv := alpha * x[i]
		if xv == 0 {
			continue
		}
		row := a[i*lda : i*lda+n]
		for j, v := range row {
			y[j] += xv * v
		}
	}
}

func scaleC(m, n int, beta float64, c []float64, ldc int) {
	if beta == 1 {
		return
	}
	for i := 0; i < m; i++ {
		ci := c[i*ldc : i*ldc+n]
		if beta == 0 {
			for j := range ci {
				ci[j] = 0
			}
			continue
		}
		for j := range ci {
			ci[j] *= beta
		}
	}
}

// HasAccelerate returns false on non-darwin platforms.
func HasAccelerate() bool { return false }
