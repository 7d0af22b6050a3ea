package model

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/ieee0824/lipread-go/video"
)

func smallConfig() Config {
	return Config{
		Frames:      4,
		Height:      8,
		Width:       8,
		Channels:    1,
		ConvFilters: []int{2, 3, 2},
		KernelSize:  3,
		LSTMUnits:   3,
		LSTMLayers:  2,
		DropoutRate: 0.5,
		NumClasses:  5,
		Seed:        7,
	}
}

func mustBuild(t testing.TB, cfg Config) *Model {
	t.Helper()
	m, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func randomClip(cfg Config, seed int64) *video.Clip {
	rng := rand.New(rand.NewSource(seed))
	c := video.NewClip(cfg.Frames, cfg.Height, cfg.Width, cfg.Channels)
	for i := range c.Data {
		c.Data[i] = rng.NormFloat64()
	}
	return c
}

func TestDefaultConfigFeatureDim(t *testing.T) {
	cfg := DefaultConfig(41)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// 46x140 pooled three times: 5x17, times 75 filters
	if got := cfg.FeatureDim(); got != 6375 {
		t.Errorf("FeatureDim = %d, want 6375", got)
	}
	if got := cfg.InputShape(); got != [4]int{75, 46, 140, 1} {
		t.Errorf("InputShape = %v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Frames = 0 },
		func(c *Config) { c.ConvFilters = nil },
		func(c *Config) { c.ConvFilters = []int{2, 0, 2} },
		func(c *Config) { c.KernelSize = 2 },
		func(c *Config) { c.LSTMUnits = 0 },
		func(c *Config) { c.DropoutRate = 1 },
		func(c *Config) { c.NumClasses = 1 },
		func(c *Config) { c.Height = 4 },
	}
	for i, mutate := range bad {
		cfg := smallConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestBuildShapes(t *testing.T) {
	m := mustBuild(t, smallConfig())
	if len(m.Conv) != 3 || len(m.RNN) != 2 {
		t.Fatalf("layers: %d conv, %d rnn", len(m.Conv), len(m.RNN))
	}
	if m.RNN[0].Fwd.In != 2 {
		t.Errorf("first LSTM input = %d, want 2", m.RNN[0].Fwd.In)
	}
	if m.RNN[1].Fwd.In != 6 || m.Head.In != 6 {
		t.Errorf("stacked widths: rnn1 in=%d head in=%d, want 6", m.RNN[1].Fwd.In, m.Head.In)
	}
	if m.NumClasses() != 5 {
		t.Errorf("NumClasses = %d", m.NumClasses())
	}
	for _, b := range m.RNN {
		for _, l := range []LSTM{b.Fwd, b.Bwd} {
			for j := 0; j < l.Units; j++ {
				if l.B[j] != 0 || l.B[l.Units+j] != 1 {
					t.Fatalf("forget bias not initialized to 1: %v", l.B)
				}
			}
		}
	}
}

func TestForward_ProbabilitiesSumToOne(t *testing.T) {
	cfg := smallConfig()
	m := mustBuild(t, cfg)
	pred, err := m.Forward(randomClip(cfg, 1))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if pred.Timesteps() != cfg.Frames {
		t.Fatalf("timesteps = %d, want %d", pred.Timesteps(), cfg.Frames)
	}
	for ti, row := range pred {
		if len(row) != cfg.NumClasses {
			t.Fatalf("row %d has %d classes", ti, len(row))
		}
		sum := 0.0
		for _, p := range row {
			if p < 0 || p > 1 || math.IsNaN(p) {
				t.Fatalf("row %d: bad probability %v", ti, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d sums to %v", ti, sum)
		}
	}
}

func TestForward_Deterministic(t *testing.T) {
	cfg := smallConfig()
	clip := randomClip(cfg, 2)
	a, err := mustBuild(t, cfg).Forward(clip)
	if err != nil {
		t.Fatal(err)
	}
	b, err := mustBuild(t, cfg).Forward(clip)
	if err != nil {
		t.Fatal(err)
	}
	assertPredEqual(t, a, b)
}

func TestForward_InputShape(t *testing.T) {
	m := mustBuild(t, smallConfig())
	_, err := m.Forward(video.NewClip(4, 8, 9, 1))
	if !errors.Is(err, ErrInputShape) {
		t.Errorf("err = %v, want ErrInputShape", err)
	}
	if _, err := m.Forward(nil); !errors.Is(err, ErrInputShape) {
		t.Errorf("nil clip: err = %v", err)
	}
}

func TestForward_ConcurrentCallsAgree(t *testing.T) {
	cfg := smallConfig()
	m := mustBuild(t, cfg)
	clip := randomClip(cfg, 3)
	want, err := m.Forward(clip)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	results := make([]Prediction, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.Forward(clip)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assertPredEqual(t, want, got)
	}
}

func TestFeaturesThenHead(t *testing.T) {
	cfg := smallConfig()
	m := mustBuild(t, cfg)
	clip := randomClip(cfg, 4)
	f, err := m.Features(clip)
	if err != nil {
		t.Fatal(err)
	}
	if f.T != cfg.Frames || f.Dim != 2*cfg.LSTMUnits {
		t.Fatalf("features %dx%d", f.T, f.Dim)
	}
	want, _ := m.Forward(clip)
	assertPredEqual(t, want, m.HeadForward(f))
}

func TestConv3D_IdentityKernel(t *testing.T) {
	c := Conv3D{InC: 1, OutC: 1, K: 3, W: make([]float64, 27), B: []float64{0}}
	c.W[13] = 1 // centre tap (1,1,1)
	in := []float64{
		1, -2, 3, 4,
		-5, 6, 7, -8,
	}
	out := c.forward(in, 2, 2, 2)
	for i, v := range in {
		want := math.Max(v, 0)
		if out[i] != want {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestConv3D_SamePaddingSum(t *testing.T) {
	// all-ones 3x3x3 kernel counts in-bounds neighbours of a ones volume
	c := Conv3D{InC: 1, OutC: 1, K: 3, W: make([]float64, 27), B: []float64{0}}
	for i := range c.W {
		c.W[i] = 1
	}
	in := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	out := c.forward(in, 2, 2, 2)
	for i, v := range out {
		if v != 8 {
			t.Errorf("out[%d] = %v, want 8", i, v)
		}
	}
}

func TestMaxPoolSpatial(t *testing.T) {
	in := []float64{
		1, 2, 3, 4, 9,
		5, 6, 7, 8, 9,
		9, 9, 9, 9, 9,
	}
	out, oh, ow := maxPoolSpatial(in, 1, 3, 5, 1)
	if oh != 1 || ow != 2 {
		t.Fatalf("pooled size %dx%d, want 1x2", oh, ow)
	}
	if out[0] != 6 || out[1] != 8 {
		t.Errorf("out = %v, want [6 8]", out)
	}
}

func TestBiLSTM_BackwardAlignsTimesteps(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := newBiLSTM(rng, 2, 3)
	xs := []float64{0.5, -1, 0.2, 0.3, -0.7, 0.9}
	out := b.forward(xs, 3)

	// the reversed pass starts at the last timestep with zero state, so its
	// state there matches a one-step run over that input alone
	single := make([]float64, 3)
	b.Bwd.run(xs[4:6], 1, false, single, 3, 0)
	for j := 0; j < 3; j++ {
		if math.Abs(out[2*6+3+j]-single[j]) > 1e-12 {
			t.Fatalf("bwd state at t=2: got %v, want %v", out[2*6+3:2*6+6], single)
		}
	}
	first := make([]float64, 3)
	b.Fwd.run(xs[0:2], 1, false, first, 3, 0)
	for j := 0; j < 3; j++ {
		if math.Abs(out[j]-first[j]) > 1e-12 {
			t.Fatalf("fwd state at t=0: got %v, want %v", out[0:3], first)
		}
	}
}

func TestOrthogonalInit(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	check := func(vecs [][]float64) {
		t.Helper()
		for i := range vecs {
			for j := range vecs {
				want := 0.0
				if i == j {
					want = 1
				}
				if got := dot(vecs[i], vecs[j]); math.Abs(got-want) > 1e-9 {
					t.Fatalf("<v%d, v%d> = %v, want %v", i, j, got, want)
				}
			}
		}
	}

	wide := make([]float64, 4*6)
	orthogonal(rng, wide, 4, 6)
	var rows [][]float64
	for i := 0; i < 4; i++ {
		rows = append(rows, wide[i*6:(i+1)*6])
	}
	check(rows)

	tall := make([]float64, 12*3)
	orthogonal(rng, tall, 12, 3)
	var cols [][]float64
	for j := 0; j < 3; j++ {
		col := make([]float64, 12)
		for i := 0; i < 12; i++ {
			col[i] = tall[i*3+j]
		}
		cols = append(cols, col)
	}
	check(cols)
}

func TestClone_Independent(t *testing.T) {
	cfg := smallConfig()
	m := mustBuild(t, cfg)
	c := m.Clone()
	clip := randomClip(cfg, 6)
	want, _ := m.Forward(clip)

	c.Head.B[0] += 10
	c.Conv[0].W[0] += 1
	c.RNN[0].Fwd.U[0] += 1

	got, _ := m.Forward(clip)
	assertPredEqual(t, want, got)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	cfg := smallConfig()
	m := mustBuild(t, cfg)
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(&buf, cfg.NumClasses)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	clip := randomClip(cfg, 8)
	a, _ := m.Forward(clip)
	b, err := loaded.Forward(clip)
	if err != nil {
		t.Fatal(err)
	}
	assertPredEqual(t, a, b)
}

func TestSaveLoadFile(t *testing.T) {
	cfg := smallConfig()
	m := mustBuild(t, cfg)
	path := t.TempDir() + "/model.gob"
	if err := m.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if _, err := LoadFile(path, cfg.NumClasses); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
}

func TestLoad_ClassMismatch(t *testing.T) {
	m := mustBuild(t, smallConfig())
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatal(err)
	}
	_, err := Load(&buf, 41)
	if !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("err = %v, want ErrClassMismatch", err)
	}
	var cm *ClassMismatchError
	if !errors.As(err, &cm) {
		t.Fatalf("err %T is not *ClassMismatchError", err)
	}
	if cm.Want != 41 || cm.Got != 5 {
		t.Errorf("mismatch = %+v", cm)
	}
}

func TestLoad_Garbage(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a checkpoint")), 5)
	if !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("err = %v, want ErrCorruptCheckpoint", err)
	}
}

func TestLoad_WrongArchitecture(t *testing.T) {
	var buf bytes.Buffer
	sm := serializedModel{Architecture: "dnn-hmm", Version: 1, Head: serializedDense{Out: 5}}
	if err := gob.NewEncoder(&buf).Encode(sm); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(&buf, 5); !errors.Is(err, ErrArchitecture) {
		t.Errorf("err = %v, want ErrArchitecture", err)
	}

	buf.Reset()
	sm = serializedModel{Architecture: Architecture, Version: 99, Head: serializedDense{Out: 5}}
	if err := gob.NewEncoder(&buf).Encode(sm); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(&buf, 5); !errors.Is(err, ErrArchitecture) {
		t.Errorf("future version: err = %v, want ErrArchitecture", err)
	}
}

func TestLoad_TruncatedTensor(t *testing.T) {
	m := mustBuild(t, smallConfig())
	m.Head.W = m.Head.W[:len(m.Head.W)-1]
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(&buf, 5); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("err = %v, want ErrCorruptCheckpoint", err)
	}
}

func assertPredEqual(t *testing.T, want, got Prediction) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("timesteps %d vs %d", len(want), len(got))
	}
	for i := range want {
		for j := range want[i] {
			if math.Abs(want[i][j]-got[i][j]) > 1e-12 {
				t.Fatalf("pred[%d][%d] = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func BenchmarkForward(b *testing.B) {
	cfg := smallConfig()
	cfg.Frames, cfg.Height, cfg.Width = 16, 24, 32
	cfg.ConvFilters = []int{8, 16, 8}
	cfg.LSTMUnits = 16
	m := mustBuild(b, cfg)
	clip := randomClip(cfg, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Forward(clip); err != nil {
			b.Fatal(err)
		}
	}
}
