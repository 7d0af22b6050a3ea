package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/ieee0824/lipread-go/video"
)

// ErrInputShape is returned when a clip does not match the model's input shape.
var ErrInputShape = errors.New("input shape mismatch")

// Prediction holds per-timestep class probabilities, [T][NumClasses].
type Prediction [][]float64

// Timesteps returns the number of rows.
func (p Prediction) Timesteps() int { return len(p) }

// Features holds the per-timestep output of the last BiLSTM layer, [T × Dim].
type Features struct {
	T    int
	Dim  int
	Data []float64
}

// Row returns the features of timestep t. The slice aliases Data.
func (f *Features) Row(t int) []float64 {
	return f.Data[t*f.Dim : (t+1)*f.Dim]
}

// Model is the full layer graph. Weights are not modified by inference, so a
// loaded Model can be shared between goroutines.
type Model struct {
	cfg  Config
	Conv []Conv3D
	RNN  []BiLSTM
	Head Dense
}

// Build creates a freshly initialized model. The same Config (including Seed)
// always produces the same weights.
func Build(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{cfg: cfg.clone()}

	inC := cfg.Channels
	for _, f := range cfg.ConvFilters {
		m.Conv = append(m.Conv, newConv3D(rng, inC, f, cfg.KernelSize))
		inC = f
	}
	in := cfg.FeatureDim()
	for i := 0; i < cfg.LSTMLayers; i++ {
		b := newBiLSTM(rng, in, cfg.LSTMUnits)
		m.RNN = append(m.RNN, b)
		in = b.OutDim()
	}
	m.Head = newDense(rng, in, cfg.NumClasses)
	return m, nil
}

// Config returns a copy of the model's configuration.
func (m *Model) Config() Config { return m.cfg.clone() }

// NumClasses returns the width of the softmax output.
func (m *Model) NumClasses() int { return m.Head.Out }

// CheckInput verifies a clip can be fed to the model.
func (m *Model) CheckInput(clip *video.Clip) error {
	if clip == nil {
		return fmt.Errorf("%w: nil clip", ErrInputShape)
	}
	if got, want := clip.Shape(), m.cfg.InputShape(); got != want {
		return fmt.Errorf("%w: got %v, want %v", ErrInputShape, got, want)
	}
	if len(clip.Data) != clip.Frames*clip.FrameSize() {
		return fmt.Errorf("%w: %d values for shape %v", ErrInputShape, len(clip.Data), clip.Shape())
	}
	return nil
}

// Forward returns per-timestep class probabilities for a clip.
func (m *Model) Forward(clip *video.Clip) (Prediction, error) {
	f, err := m.Features(clip)
	if err != nil {
		return nil, err
	}
	return m.HeadForward(f), nil
}

// Features runs everything below the classification head.
func (m *Model) Features(clip *video.Clip) (*Features, error) {
	if err := m.CheckInput(clip); err != nil {
		return nil, err
	}
	T, H, W := clip.Frames, clip.Height, clip.Width
	x := clip.Data
	for i := range m.Conv {
		x = m.Conv[i].forward(x, T, H, W)
		x, H, W = maxPoolSpatial(x, T, H, W, m.Conv[i].OutC)
	}
	// [T][H][W][C] is already one contiguous (h, w, c) row per timestep.
	dim := m.cfg.FeatureDim()
	for i := range m.RNN {
		x = m.RNN[i].forward(x, T)
		dim = m.RNN[i].OutDim()
	}
	return &Features{T: T, Dim: dim, Data: x}, nil
}

// HeadForward applies the softmax head to precomputed features.
func (m *Model) HeadForward(f *Features) Prediction {
	return Prediction(m.Head.Softmax(f.Data, f.T))
}

// Clone returns a deep copy that shares no weight storage with m.
func (m *Model) Clone() *Model {
	c := &Model{cfg: m.cfg.clone()}
	for _, l := range m.Conv {
		l.W = append([]float64(nil), l.W...)
		l.B = append([]float64(nil), l.B...)
		c.Conv = append(c.Conv, l)
	}
	for _, b := range m.RNN {
		c.RNN = append(c.RNN, BiLSTM{Fwd: cloneLSTM(b.Fwd), Bwd: cloneLSTM(b.Bwd)})
	}
	c.Head = m.Head
	c.Head.W = append([]float64(nil), m.Head.W...)
	c.Head.B = append([]float64(nil), m.Head.B...)
	return c
}

func cloneLSTM(l LSTM) LSTM {
	l.W = append([]float64(nil), l.W...)
	l.U = append([]float64(nil), l.U...)
	l.B = append([]float64(nil), l.B...)
	return l
}
