// Package model implements the LipNet-style sequence model: three 3D
// convolution blocks, a per-timestep flatten, stacked bidirectional LSTMs and
// a softmax classification head.
package model

import (
	"errors"
	"fmt"
)

// Architecture identifies the layer graph stored in checkpoints.
const Architecture = "lipnet-conv3d-bilstm"

// checkpointVersion is bumped whenever the serialized layout changes.
const checkpointVersion = 1

// Config describes the layer graph. Input is [Frames][Height][Width][Channels].
type Config struct {
	Frames      int
	Height      int
	Width       int
	Channels    int
	ConvFilters []int   // output channels of each Conv3D block
	KernelSize  int     // cubic kernel edge
	LSTMUnits   int     // units per direction
	LSTMLayers  int     // stacked BiLSTM layers
	DropoutRate float64 // applied after each BiLSTM during training only
	NumClasses  int     // alphabet size + 1 (CTC blank)
	Seed        int64   // initializer seed
}

// DefaultConfig returns the GRID configuration: 75x46x140 grayscale input,
// conv blocks of 128, 256 and 75 filters, two 128-unit BiLSTMs.
func DefaultConfig(numClasses int) Config {
	return Config{
		Frames:      75,
		Height:      46,
		Width:       140,
		Channels:    1,
		ConvFilters: []int{128, 256, 75},
		KernelSize:  3,
		LSTMUnits:   128,
		LSTMLayers:  2,
		DropoutRate: 0.5,
		NumClasses:  numClasses,
		Seed:        1,
	}
}

// InputShape returns (frames, height, width, channels).
func (c Config) InputShape() [4]int {
	return [4]int{c.Frames, c.Height, c.Width, c.Channels}
}

// pooledSize returns the spatial size after every conv block's (1,2,2) pool.
func (c Config) pooledSize() (h, w int) {
	h, w = c.Height, c.Width
	for range c.ConvFilters {
		h /= 2
		w /= 2
	}
	return h, w
}

// FeatureDim returns the per-timestep width fed to the first BiLSTM.
func (c Config) FeatureDim() int {
	if len(c.ConvFilters) == 0 {
		return c.Height * c.Width * c.Channels
	}
	h, w := c.pooledSize()
	return h * w * c.ConvFilters[len(c.ConvFilters)-1]
}

// Validate checks that the configuration describes a buildable graph.
func (c Config) Validate() error {
	var errs []error
	if c.Frames <= 0 || c.Height <= 0 || c.Width <= 0 || c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("invalid input shape %v", c.InputShape()))
	}
	if len(c.ConvFilters) == 0 {
		errs = append(errs, errors.New("at least one conv block is required"))
	}
	for i, f := range c.ConvFilters {
		if f <= 0 {
			errs = append(errs, fmt.Errorf("conv block %d: filters must be positive, got %d", i, f))
		}
	}
	if c.KernelSize <= 0 || c.KernelSize%2 == 0 {
		errs = append(errs, fmt.Errorf("kernel size must be odd and positive, got %d", c.KernelSize))
	}
	if c.LSTMUnits <= 0 || c.LSTMLayers <= 0 {
		errs = append(errs, fmt.Errorf("invalid recurrent stack: %d layers of %d units", c.LSTMLayers, c.LSTMUnits))
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		errs = append(errs, fmt.Errorf("dropout rate must be in [0, 1), got %g", c.DropoutRate))
	}
	if c.NumClasses < 2 {
		errs = append(errs, fmt.Errorf("need at least 2 classes, got %d", c.NumClasses))
	}
	if len(errs) == 0 {
		if h, w := c.pooledSize(); h <= 0 || w <= 0 {
			errs = append(errs, fmt.Errorf("input %dx%d too small for %d pooling stages", c.Height, c.Width, len(c.ConvFilters)))
		}
	}
	return errors.Join(errs...)
}

func (c Config) clone() Config {
	c.ConvFilters = append([]int(nil), c.ConvFilters...)
	return c
}
