package mathutil

import "math"

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// The smaller term is skipped once it falls below float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if b <= LogZero {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}

// SafeLog returns log(p + eps), clamped at LogZero.
func SafeLog(p, eps float64) float64 {
	v := p + eps
	if v <= 0 {
		return LogZero
	}
	return math.Log(v)
}
