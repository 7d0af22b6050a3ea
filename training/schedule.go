// Package training holds the training-time policy and support code: the
// learning-rate schedule, the GRID dataset layout, example loading and
// fine-tuning of the classification head.
package training

import "math"

// DecayStart is the first epoch at which the learning rate decays.
const DecayStart = 30

// Schedule returns the learning rate for epoch given the current rate:
// unchanged while epoch < DecayStart, otherwise lr * e^-0.1.
func Schedule(epoch int, lr float64) float64 {
	if epoch < DecayStart {
		return lr
	}
	return lr * math.Exp(-0.1)
}
