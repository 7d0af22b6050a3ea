//go:build darwin && cgo

package blas

/*
#cgo CFLAGS: -DACCELERATE_NEW_LAPACK
#cgo LDFLAGS: -framework Accelerate
#include <Accelerate/Accelerate.h>
*/
import "C"
import "unsafe"

func trans(t bool) C.enum_CBLAS_TRANSPOSE {
	if t {
		return C.CblasTrans
	}
	return C.CblasNoTrans
}

// Dgemm performs C = alpha*op(A)*op(B) + beta*C using Apple Accelerate.
// All matrices are row-major. op(X) = X if trans=false, X^T if trans=true.
// A is (m x k) or (k x m) if transA, B is (k x n) or (n x k) if transB, C is (m x n).
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	if m == 0 || n == 0 || len(c) == 0 {
		return
	}
	if k == 0 || len(a) == 0 || len(b) == 0 {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				c[i*ldc+j] *= beta
			}
		}
		return
	}
	C.cblas_dgemm(C.CblasRowMajor, trans(transA), trans(transB),
		C.int(m), C.int(n), C.int(k),
		C.double(alpha),
		(*C.double)(unsafe.Pointer(&a[0])), C.int(lda),
		(*C.double)(unsafe.Pointer(&b[0])), C.int(ldb),
		C.double(beta),
		(*C.double)(unsafe.Pointer(&c[0])), C.int(ldc))
}

// Dgemv performs y = alpha*op(A)*x + beta*y for a row-major (m x n) matrix A.
func Dgemv(transA bool, m, n int, alpha float64, a []float64, lda int,
	x []float64, beta float64, y []float64) {

	if m == 0 || n == 0 {
		return
	}
	C.cblas_dgemv(C.CblasRowMajor, trans(transA),
		C.int(m), C.int(n),
		C.double(alpha),
		(*C.double)(unsafe.Pointer(&a[0])), C.int(lda),
		(*C.double)(unsafe.Pointer(&x[0])), 1,
		C.double(beta),
		(*C.double)(unsafe.Pointer(&y[0])), 1)
}

// HasAccelerate returns true when Apple Accelerate framework is available.
func HasAccelerate() bool { return true }
