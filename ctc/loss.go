// Package ctc implements the Connectionist Temporal Classification loss and
// greedy best-path decoding over per-timestep class probabilities.
package ctc

import (
	"math"

	"github.com/ieee0824/lipread-go/internal/mathutil"
)

// Epsilon is added to every probability before taking its log.
const Epsilon = 1e-7

// extend interleaves labels with blanks: l1 l2 -> b l1 b l2 b.
func extend(labels []int, blank int) []int {
	ext := make([]int, 2*len(labels)+1)
	for i := range ext {
		ext[i] = blank
	}
	for i, l := range labels {
		ext[2*i+1] = l
	}
	return ext
}

// MinTimesteps returns the shortest input that can emit labels: one step per
// label plus one blank between each pair of equal neighbours.
func MinTimesteps(labels []int) int {
	n := len(labels)
	for i := 1; i < len(labels); i++ {
		if labels[i] == labels[i-1] {
			n++
		}
	}
	return n
}

func feasible(probs [][]float64, labels []int, blank int) bool {
	if len(probs) == 0 || len(probs) < MinTimesteps(labels) {
		return false
	}
	classes := len(probs[0])
	if blank < 0 || blank >= classes {
		return false
	}
	for _, l := range labels {
		if l < 0 || l >= classes || l == blank {
			return false
		}
	}
	return true
}

// logEmissions returns log(p + Epsilon) for every timestep and class.
func logEmissions(probs [][]float64) [][]float64 {
	out := mathutil.NewMat(len(probs), len(probs[0]))
	for t, row := range probs {
		for k, p := range row {
			out[t][k] = mathutil.SafeLog(p, Epsilon)
		}
	}
	return out
}

// forward runs the alpha recursion. alpha[t][s] includes the emission at t.
func forward(logp [][]float64, ext []int, blank int) [][]float64 {
	T, S := len(logp), len(ext)
	alpha := mathutil.NewMatFill(T, S, mathutil.LogZero)
	alpha[0][0] = logp[0][ext[0]]
	if S > 1 {
		alpha[0][1] = logp[0][ext[1]]
	}
	for t := 1; t < T; t++ {
		prev := alpha[t-1]
		for s := 0; s < S; s++ {
			a := prev[s]
			if s >= 1 {
				a = mathutil.LogAdd(a, prev[s-1])
			}
			if s >= 2 && ext[s] != blank && ext[s] != ext[s-2] {
				a = mathutil.LogAdd(a, prev[s-2])
			}
			if a <= mathutil.LogZero {
				continue
			}
			alpha[t][s] = a + logp[t][ext[s]]
		}
	}
	return alpha
}

// backward runs the beta recursion. beta[t][s] includes the emission at t.
func backward(logp [][]float64, ext []int, blank int) [][]float64 {
	T, S := len(logp), len(ext)
	beta := mathutil.NewMatFill(T, S, mathutil.LogZero)
	beta[T-1][S-1] = logp[T-1][ext[S-1]]
	if S > 1 {
		beta[T-1][S-2] = logp[T-1][ext[S-2]]
	}
	for t := T - 2; t >= 0; t-- {
		next := beta[t+1]
		for s := S - 1; s >= 0; s-- {
			b := next[s]
			if s+1 < S {
				b = mathutil.LogAdd(b, next[s+1])
			}
			if s+2 < S && ext[s] != blank && ext[s] != ext[s+2] {
				b = mathutil.LogAdd(b, next[s+2])
			}
			if b <= mathutil.LogZero {
				continue
			}
			beta[t][s] = b + logp[t][ext[s]]
		}
	}
	return beta
}

func logLikelihood(alpha [][]float64) float64 {
	last := alpha[len(alpha)-1]
	S := len(last)
	ll := last[S-1]
	if S > 1 {
		ll = mathutil.LogAdd(ll, last[S-2])
	}
	return ll
}

// Loss returns the CTC negative log-likelihood of labels given per-timestep
// class probabilities ([T][C]). Every timestep is used as input. Labels that
// cannot be emitted in T steps (or contain the blank or an out-of-range id)
// give +Inf.
func Loss(probs [][]float64, labels []int, blank int) float64 {
	if !feasible(probs, labels, blank) {
		return math.Inf(1)
	}
	ext := extend(labels, blank)
	ll := logLikelihood(forward(logEmissions(probs), ext, blank))
	if ll <= mathutil.LogZero {
		return math.Inf(1)
	}
	return -ll
}

// BatchCost returns one loss per example. Labels are used at their real
// length; the input length of each example is its timestep count.
func BatchCost(preds [][][]float64, labels [][]int, blank int) []float64 {
	out := make([]float64, len(preds))
	for i := range preds {
		var l []int
		if i < len(labels) {
			l = labels[i]
		}
		out[i] = Loss(preds[i], l, blank)
	}
	return out
}

// Gradient returns the loss and its gradient with respect to the
// pre-softmax activations that produced probs. For infeasible labels the loss
// is +Inf and the gradient is all zeros.
func Gradient(probs [][]float64, labels []int, blank int) (float64, [][]float64) {
	T := len(probs)
	var C int
	if T > 0 {
		C = len(probs[0])
	}
	grad := mathutil.NewMat(T, C)
	if !feasible(probs, labels, blank) {
		return math.Inf(1), grad
	}
	ext := extend(labels, blank)
	logp := logEmissions(probs)
	alpha := forward(logp, ext, blank)
	beta := backward(logp, ext, blank)
	ll := logLikelihood(alpha)
	if ll <= mathutil.LogZero {
		return math.Inf(1), grad
	}

	occ := make([]float64, C)
	for t := 0; t < T; t++ {
		mathutil.FillVec(occ, mathutil.LogZero)
		for s, k := range ext {
			occ[k] = mathutil.LogAdd(occ[k], alpha[t][s]+beta[t][s])
		}
		// dL/dp_k = -occ_k / (P * e_k^2), e_k = p_k + Epsilon
		g := grad[t]
		mean := 0.0
		for k := 0; k < C; k++ {
			if occ[k] <= mathutil.LogZero {
				continue
			}
			g[k] = -math.Exp(occ[k] - ll - 2*logp[t][k])
			mean += probs[t][k] * g[k]
		}
		// chain through softmax: dL/dz_j = p_j (g_j - sum_k p_k g_k)
		for k := 0; k < C; k++ {
			g[k] = probs[t][k] * (g[k] - mean)
		}
	}
	return -ll, grad
}
