package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrClassMismatch is returned when a checkpoint's output width differs
	// from the number of classes the caller's alphabet needs.
	ErrClassMismatch = errors.New("checkpoint class count mismatch")
	// ErrArchitecture is returned for checkpoints of another layer graph or format version.
	ErrArchitecture = errors.New("unsupported checkpoint architecture")
	// ErrCorruptCheckpoint is returned when a checkpoint cannot be decoded or
	// its tensors disagree with its own configuration.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
)

// ClassMismatchError reports the expected and stored output widths.
type ClassMismatchError struct {
	Want int
	Got  int
}

func (e *ClassMismatchError) Error() string {
	return fmt.Sprintf("checkpoint has %d output classes, alphabet needs %d", e.Got, e.Want)
}

// Is makes errors.Is(err, ErrClassMismatch) hold.
func (e *ClassMismatchError) Is(target error) bool { return target == ErrClassMismatch }

// --- Serialization ---

type serializedConfig struct {
	Frames      int
	Height      int
	Width       int
	Channels    int
	ConvFilters []int
	KernelSize  int
	LSTMUnits   int
	LSTMLayers  int
	DropoutRate float64
	NumClasses  int
	Seed        int64
}

type serializedConv struct {
	InC, OutC, K int
	W, B         []float64
}

type serializedLSTM struct {
	In, Units int
	W, U, B   []float64
}

type serializedDense struct {
	In, Out int
	W, B    []float64
}

type serializedModel struct {
	Architecture string
	Version      int
	Config       serializedConfig
	Conv         []serializedConv
	Fwd          []serializedLSTM
	Bwd          []serializedLSTM
	Head         serializedDense
}

// Save serializes the model with gob.
func (m *Model) Save(w io.Writer) error {
	c := m.cfg
	sm := serializedModel{
		Architecture: Architecture,
		Version:      checkpointVersion,
		Config: serializedConfig{
			Frames:      c.Frames,
			Height:      c.Height,
			Width:       c.Width,
			Channels:    c.Channels,
			ConvFilters: c.ConvFilters,
			KernelSize:  c.KernelSize,
			LSTMUnits:   c.LSTMUnits,
			LSTMLayers:  c.LSTMLayers,
			DropoutRate: c.DropoutRate,
			NumClasses:  c.NumClasses,
			Seed:        c.Seed,
		},
		Head: serializedDense{In: m.Head.In, Out: m.Head.Out, W: m.Head.W, B: m.Head.B},
	}
	for _, l := range m.Conv {
		sm.Conv = append(sm.Conv, serializedConv{InC: l.InC, OutC: l.OutC, K: l.K, W: l.W, B: l.B})
	}
	for _, b := range m.RNN {
		sm.Fwd = append(sm.Fwd, serializedLSTM{In: b.Fwd.In, Units: b.Fwd.Units, W: b.Fwd.W, U: b.Fwd.U, B: b.Fwd.B})
		sm.Bwd = append(sm.Bwd, serializedLSTM{In: b.Bwd.In, Units: b.Bwd.Units, W: b.Bwd.W, U: b.Bwd.U, B: b.Bwd.B})
	}
	return gob.NewEncoder(w).Encode(sm)
}

// SaveFile writes the model to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return f.Close()
}

// Load deserializes a checkpoint and checks it produces numClasses outputs.
// The class count is checked before the tensors are validated, so a model
// trained for another alphabet is always reported as ErrClassMismatch.
func Load(r io.Reader, numClasses int) (*Model, error) {
	var sm serializedModel
	if err := gob.NewDecoder(r).Decode(&sm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if sm.Architecture != Architecture || sm.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: %q version %d", ErrArchitecture, sm.Architecture, sm.Version)
	}
	if sm.Head.Out != numClasses {
		return nil, &ClassMismatchError{Want: numClasses, Got: sm.Head.Out}
	}
	m := fromSerialized(&sm)
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	return m, nil
}

// LoadFile reads a checkpoint from path.
func LoadFile(path string, numClasses int) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, numClasses)
}

func fromSerialized(sm *serializedModel) *Model {
	sc := sm.Config
	m := &Model{
		cfg: Config{
			Frames:      sc.Frames,
			Height:      sc.Height,
			Width:       sc.Width,
			Channels:    sc.Channels,
			ConvFilters: sc.ConvFilters,
			KernelSize:  sc.KernelSize,
			LSTMUnits:   sc.LSTMUnits,
			LSTMLayers:  sc.LSTMLayers,
			DropoutRate: sc.DropoutRate,
			NumClasses:  sc.NumClasses,
			Seed:        sc.Seed,
		},
		Head: Dense{In: sm.Head.In, Out: sm.Head.Out, W: sm.Head.W, B: sm.Head.B},
	}
	for _, l := range sm.Conv {
		m.Conv = append(m.Conv, Conv3D{InC: l.InC, OutC: l.OutC, K: l.K, W: l.W, B: l.B})
	}
	for i := range sm.Fwd {
		if i >= len(sm.Bwd) {
			break
		}
		f, b := sm.Fwd[i], sm.Bwd[i]
		m.RNN = append(m.RNN, BiLSTM{
			Fwd: LSTM{In: f.In, Units: f.Units, W: f.W, U: f.U, B: f.B},
			Bwd: LSTM{In: b.In, Units: b.Units, W: b.W, U: b.U, B: b.B},
		})
	}
	return m
}

// validate checks every tensor against the configuration.
func (m *Model) validate() error {
	c := m.cfg
	if err := c.Validate(); err != nil {
		return err
	}
	if len(m.Conv) != len(c.ConvFilters) {
		return fmt.Errorf("%d conv blocks, config has %d", len(m.Conv), len(c.ConvFilters))
	}
	inC := c.Channels
	for i, l := range m.Conv {
		if l.InC != inC || l.OutC != c.ConvFilters[i] || l.K != c.KernelSize {
			return fmt.Errorf("conv block %d: shape (%d->%d, k=%d) disagrees with config", i, l.InC, l.OutC, l.K)
		}
		if len(l.W) != l.OutC*l.patchSize() || len(l.B) != l.OutC {
			return fmt.Errorf("conv block %d: weight sizes %d/%d", i, len(l.W), len(l.B))
		}
		inC = l.OutC
	}
	if len(m.RNN) != c.LSTMLayers {
		return fmt.Errorf("%d recurrent layers, config has %d", len(m.RNN), c.LSTMLayers)
	}
	in := c.FeatureDim()
	for i := range m.RNN {
		for _, l := range []LSTM{m.RNN[i].Fwd, m.RNN[i].Bwd} {
			if l.In != in || l.Units != c.LSTMUnits {
				return fmt.Errorf("recurrent layer %d: shape (%d, %d) disagrees with config", i, l.In, l.Units)
			}
			if len(l.W) != 4*l.Units*l.In || len(l.U) != 4*l.Units*l.Units || len(l.B) != 4*l.Units {
				return fmt.Errorf("recurrent layer %d: weight sizes %d/%d/%d", i, len(l.W), len(l.U), len(l.B))
			}
		}
		in = m.RNN[i].OutDim()
	}
	h := m.Head
	if h.In != in || h.Out != c.NumClasses || len(h.W) != h.In*h.Out || len(h.B) != h.Out {
		return fmt.Errorf("head: shape (%d->%d) with %d/%d weights", h.In, h.Out, len(h.W), len(h.B))
	}
	return nil
}
