package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ieee0824/lipread-go/alphabet"
	"github.com/ieee0824/lipread-go/ctc"
	"github.com/ieee0824/lipread-go/internal/blas"
	"github.com/ieee0824/lipread-go/internal/metrics"
	"github.com/ieee0824/lipread-go/model"
)

// HeadConfig holds fine-tuning hyperparameters.
type HeadConfig struct {
	LearningRate float64
	Beta1        float64 // Adam beta1
	Beta2        float64 // Adam beta2
	Epsilon      float64 // Adam epsilon
	BatchSize    int
	MaxEpochs    int
	Patience     int     // early stopping patience (0 = disabled)
	HeldOutFrac  float64 // fraction held out for validation
	DropoutRate  float64 // inverted dropout on the head input
	Seed         int64
	Workers      int // parallel feature extraction
}

// DefaultHeadConfig returns the settings the GRID model was trained with.
func DefaultHeadConfig() HeadConfig {
	return HeadConfig{
		LearningRate: 1e-4,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		BatchSize:    2,
		MaxEpochs:    100,
		Patience:     5,
		HeldOutFrac:  0.1,
		DropoutRate:  0.5,
		Seed:         1,
		Workers:      2,
	}
}

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch        int
	LearningRate float64
	TrainLoss    float64
	ValLoss      float64
	CER          float64
	Skipped      int // examples whose labels could not be aligned
}

// Report is the outcome of a fine-tuning run.
type Report struct {
	Epochs       []EpochStats
	BestEpoch    int
	BestValLoss  float64
	StoppedEarly bool
}

// HeadTrainer fine-tunes the softmax head of a model with the CTC loss while
// the convolutional and recurrent layers stay frozen.
type HeadTrainer struct {
	cfg     HeadConfig
	codec   *alphabet.Codec
	decoder *ctc.Decoder
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewHeadTrainer creates a trainer. m may be nil.
func NewHeadTrainer(cfg HeadConfig, codec *alphabet.Codec, log zerolog.Logger, m *metrics.Metrics) *HeadTrainer {
	return &HeadTrainer{
		cfg:     cfg,
		codec:   codec,
		decoder: ctc.NewDecoder(codec),
		log:     log,
		metrics: m,
	}
}

// adamState holds per-parameter momentum and variance for the head.
type adamState struct {
	mW, vW []float64
	mB, vB []float64
	t      int
}

// adamUpdate applies one Adam step: params -= lr * m_hat / (sqrt(v_hat) + eps)
// gradScale is applied to gradients (typically 1/batchSize).
func adamUpdate(params, grad, m, v []float64, lr, beta1, beta2, eps float64, t int, gradScale float64) {
	bc1 := 1.0 - math.Pow(beta1, float64(t))
	bc2 := 1.0 - math.Pow(beta2, float64(t))
	for i := range params {
		g := grad[i] * gradScale
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

type sample struct {
	feat   *model.Features
	labels []int
	text   string
}

// Train updates m.Head in place. The head with the lowest validation loss is
// kept when training stops.
func (h *HeadTrainer) Train(ctx context.Context, m *model.Model, examples []Example) (Report, error) {
	cfg := h.cfg
	N := len(examples)
	if N == 0 {
		return Report{}, errors.New("no training examples")
	}
	if m.NumClasses() != h.codec.NumClasses() {
		return Report{}, &model.ClassMismatchError{Want: h.codec.NumClasses(), Got: m.NumClasses()}
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	samples, err := h.features(ctx, m, examples)
	if err != nil {
		return Report{}, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	valN := int(float64(N) * cfg.HeldOutFrac)
	if cfg.HeldOutFrac > 0 && valN < 1 {
		valN = 1
	}
	if valN >= N {
		valN = N - 1
	}
	perm := rng.Perm(N)
	trainIdx := perm[:N-valN]
	valIdx := perm[N-valN:]
	if len(valIdx) == 0 {
		valIdx = trainIdx
	}

	head := &m.Head
	adam := &adamState{
		mW: make([]float64, len(head.W)), vW: make([]float64, len(head.W)),
		mB: make([]float64, len(head.B)), vB: make([]float64, len(head.B)),
	}
	gW := make([]float64, len(head.W))
	gB := make([]float64, len(head.B))

	report := Report{BestValLoss: math.Inf(1), BestEpoch: -1}
	bestW := append([]float64(nil), head.W...)
	bestB := append([]float64(nil), head.B...)
	patience := 0
	lr := cfg.LearningRate

	for epoch := 0; epoch < cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			h.restore(head, bestW, bestB, report.BestEpoch)
			return report, err
		}
		lr = Schedule(epoch, lr)
		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})

		totalLoss := 0.0
		used, skipped := 0, 0
		for start := 0; start < len(trainIdx); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(trainIdx) {
				end = len(trainIdx)
			}
			clearSlice(gW)
			clearSlice(gB)
			n := 0
			for _, idx := range trainIdx[start:end] {
				loss, ok := h.accumulate(head, samples[idx], rng, gW, gB)
				if !ok {
					skipped++
					continue
				}
				totalLoss += loss
				n++
			}
			if n == 0 {
				continue
			}
			used += n
			adam.t++
			invBS := 1.0 / float64(n)
			adamUpdate(head.W, gW, adam.mW, adam.vW, lr, cfg.Beta1, cfg.Beta2, cfg.Epsilon, adam.t, invBS)
			adamUpdate(head.B, gB, adam.mB, adam.vB, lr, cfg.Beta1, cfg.Beta2, cfg.Epsilon, adam.t, invBS)
		}

		trainLoss := math.Inf(1)
		if used > 0 {
			trainLoss = totalLoss / float64(used)
		}
		valLoss, cer := h.evaluate(m, samples, valIdx)
		stats := EpochStats{
			Epoch:        epoch,
			LearningRate: lr,
			TrainLoss:    trainLoss,
			ValLoss:      valLoss,
			CER:          cer,
			Skipped:      skipped,
		}
		report.Epochs = append(report.Epochs, stats)
		h.log.Info().
			Int("epoch", epoch+1).
			Float64("lr", lr).
			Float64("trainLoss", trainLoss).
			Float64("valLoss", valLoss).
			Float64("cer", cer).
			Int("skipped", skipped).
			Msg("Epoch finished")
		if h.metrics != nil {
			h.metrics.RecordEpoch(epoch+1, trainLoss, valLoss, cer)
		}

		if valLoss < report.BestValLoss-1e-4 {
			report.BestValLoss = valLoss
			report.BestEpoch = epoch
			copy(bestW, head.W)
			copy(bestB, head.B)
			patience = 0
		} else if cfg.Patience > 0 {
			patience++
			if patience >= cfg.Patience {
				h.log.Info().Int("epoch", epoch+1).Msg("Early stopping")
				report.StoppedEarly = true
				break
			}
		}
	}
	h.restore(head, bestW, bestB, report.BestEpoch)
	return report, nil
}

func (h *HeadTrainer) restore(head *model.Dense, w, b []float64, bestEpoch int) {
	if bestEpoch < 0 {
		return
	}
	copy(head.W, w)
	copy(head.B, b)
}

// features runs the frozen layers once per example.
func (h *HeadTrainer) features(ctx context.Context, m *model.Model, examples []Example) ([]sample, error) {
	workers := h.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	out := make([]sample, len(examples))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ex := range examples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := m.Features(ex.Clip)
			if err != nil {
				return fmt.Errorf("example %s: %w", ex.Name, err)
			}
			out[i] = sample{feat: f, labels: ex.Labels, text: ex.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// accumulate adds one example's head gradient to gW and gB. It reports false
// when the labels cannot be aligned to the clip.
func (h *HeadTrainer) accumulate(head *model.Dense, s sample, rng *rand.Rand, gW, gB []float64) (float64, bool) {
	T, in := s.feat.T, s.feat.Dim
	x := s.feat.Data
	if rate := h.cfg.DropoutRate; rate > 0 {
		x = make([]float64, len(s.feat.Data))
		scale := 1.0 / (1.0 - rate)
		for i, v := range s.feat.Data {
			if rng.Float64() >= rate {
				x[i] = v * scale
			}
		}
	}
	probs := head.Softmax(x, T)
	loss, grad := ctc.Gradient(probs, s.labels, h.codec.Blank())
	if math.IsInf(loss, 1) {
		return 0, false
	}

	C := head.Out
	dz := make([]float64, T*C)
	for t, row := range grad {
		copy(dz[t*C:(t+1)*C], row)
		for j, g := range row {
			gB[j] += g
		}
	}
	// gW += dz^T @ x
	blas.Dgemm(true, false, C, in, T, 1.0, dz, C, x, in, 1.0, gW, in)
	return loss, true
}

// evaluate returns the mean finite loss and the mean CER over idx.
func (h *HeadTrainer) evaluate(m *model.Model, samples []sample, idx []int) (float64, float64) {
	if len(idx) == 0 {
		return math.Inf(1), 1
	}
	totalLoss, totalCER := 0.0, 0.0
	n := 0
	for _, i := range idx {
		s := samples[i]
		pred := m.HeadForward(s.feat)
		if loss := ctc.Loss(pred, s.labels, h.codec.Blank()); !math.IsInf(loss, 1) {
			totalLoss += loss
			n++
		}
		totalCER += CER(s.text, h.decoder.Decode(pred))
	}
	valLoss := math.Inf(1)
	if n > 0 {
		valLoss = totalLoss / float64(n)
	}
	return valLoss, totalCER / float64(len(idx))
}

func clearSlice(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
