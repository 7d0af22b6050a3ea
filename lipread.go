// Package lipread transcribes silent video of a speaker into text.
//
// A Recognizer owns one loaded model and serves concurrent requests: the
// frame extractor turns a video into a normalized mouth clip, the model maps
// the clip to per-timestep class probabilities and a greedy CTC decoder turns
// those into text.
package lipread

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ieee0824/lipread-go/align"
	"github.com/ieee0824/lipread-go/alphabet"
	"github.com/ieee0824/lipread-go/ctc"
	"github.com/ieee0824/lipread-go/internal/logging"
	"github.com/ieee0824/lipread-go/internal/metrics"
	"github.com/ieee0824/lipread-go/model"
	"github.com/ieee0824/lipread-go/video"
)

// Timings holds per-stage wall-clock durations of one transcription.
type Timings struct {
	Extract time.Duration
	Forward time.Duration
	Decode  time.Duration
}

// Result is the outcome of one transcription.
type Result struct {
	RequestID  string
	Text       string
	FrameCount int    // frames actually decoded from the source
	ClipShape  [4]int // shape of the tensor fed to the model
	Degraded   bool   // a fallback clip was used
	Reason     string // why the result is degraded
	Timings    Timings
}

// Recognizer is the top-level lip reader.
type Recognizer struct {
	codec     *alphabet.Codec
	videoCfg  video.Config
	opener    video.Opener
	extractor *video.Extractor
	decoder   *ctc.Decoder
	current   atomic.Pointer[model.Model]
	trained   atomic.Bool
	untrained bool
	tempDir   string
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithCodec sets the label alphabet. The default is alphabet.Default().
func WithCodec(c *alphabet.Codec) Option {
	return func(r *Recognizer) {
		r.codec = c
	}
}

// WithVideoConfig sets custom frame extraction parameters.
func WithVideoConfig(cfg video.Config) Option {
	return func(r *Recognizer) {
		r.videoCfg = cfg
	}
}

// WithOpener sets how video sources are opened.
func WithOpener(open video.Opener) Option {
	return func(r *Recognizer) {
		r.opener = open
	}
}

// WithLogger sets the logger. The default is the "recognizer" component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recognizer) {
		r.log = l
	}
}

// WithMetrics sets the metrics sink. The default is metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recognizer) {
		r.metrics = m
	}
}

// WithTempDir sets where TranscribeReader spools its input.
func WithTempDir(dir string) Option {
	return func(r *Recognizer) {
		r.tempDir = dir
	}
}

// WithUntrainedFallback lets NewRecognizer start with freshly initialized
// weights when the checkpoint file does not exist. Ready reports false
// until trained weights are loaded.
func WithUntrainedFallback(enabled bool) Option {
	return func(r *Recognizer) {
		r.untrained = enabled
	}
}

func newRecognizer(opts []Option) (*Recognizer, error) {
	r := &Recognizer{
		codec:    alphabet.Default(),
		videoCfg: video.DefaultConfig(),
		log:      logging.WithComponent("recognizer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.DefaultMetrics
	}
	ext, err := video.NewExtractor(r.videoCfg, r.opener)
	if err != nil {
		return nil, fmt.Errorf("video config: %w", err)
	}
	r.extractor = ext
	r.decoder = ctc.NewDecoder(r.codec)
	return r, nil
}

// NewRecognizer creates a Recognizer from a checkpoint file. The checkpoint
// must produce one output per alphabet class.
func NewRecognizer(checkpointPath string, opts ...Option) (*Recognizer, error) {
	r, err := newRecognizer(opts)
	if err != nil {
		return nil, err
	}

	m, err := model.LoadFile(checkpointPath, r.codec.NumClasses())
	r.metrics.RecordCheckpointLoad(err)
	trained := true
	if err != nil {
		if !r.untrained || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		r.log.Warn().Str("checkpoint", checkpointPath).Msg("No checkpoint found, using untrained model")
		if m, err = r.buildUntrained(); err != nil {
			return nil, err
		}
		trained = false
	}
	if err := r.checkModel(m); err != nil {
		return nil, err
	}
	r.current.Store(m)
	r.trained.Store(trained)
	r.log.Info().
		Str("checkpoint", checkpointPath).
		Bool("trained", trained).
		Int("classes", m.NumClasses()).
		Str("alphabet", r.codec.Symbols()).
		Msg("Model loaded")
	return r, nil
}

// NewRecognizerFromModel creates a Recognizer around an already loaded model.
func NewRecognizerFromModel(m *model.Model, opts ...Option) (*Recognizer, error) {
	r, err := newRecognizer(opts)
	if err != nil {
		return nil, err
	}
	if err := r.checkModel(m); err != nil {
		return nil, err
	}
	r.current.Store(m)
	r.trained.Store(true)
	return r, nil
}

func (r *Recognizer) buildUntrained() (*model.Model, error) {
	cfg := model.DefaultConfig(r.codec.NumClasses())
	shape := r.videoCfg.Shape()
	cfg.Frames, cfg.Height, cfg.Width, cfg.Channels = shape[0], shape[1], shape[2], shape[3]
	return model.Build(cfg)
}

// checkModel verifies m fits the alphabet and the extractor's clip shape.
func (r *Recognizer) checkModel(m *model.Model) error {
	if m == nil {
		return errors.New("nil model")
	}
	if m.NumClasses() != r.codec.NumClasses() {
		return &model.ClassMismatchError{Want: r.codec.NumClasses(), Got: m.NumClasses()}
	}
	if got, want := m.Config().InputShape(), r.videoCfg.Shape(); got != want {
		return fmt.Errorf("%w: model expects %v, extractor produces %v", model.ErrInputShape, got, want)
	}
	return nil
}

// SwapModel replaces the served model. In-flight requests finish on the
// model they started with. m must not be modified afterwards.
func (r *Recognizer) SwapModel(m *model.Model) error {
	if err := r.checkModel(m); err != nil {
		return err
	}
	r.current.Store(m)
	r.trained.Store(true)
	r.metrics.RecordModelSwap()
	r.log.Info().Int("classes", m.NumClasses()).Msg("Model swapped")
	return nil
}

// Model returns the currently served model.
func (r *Recognizer) Model() *model.Model { return r.current.Load() }

// Codec returns the label alphabet.
func (r *Recognizer) Codec() *alphabet.Codec { return r.codec }

// Ready reports whether trained weights are being served.
func (r *Recognizer) Ready() bool { return r.trained.Load() }

// Transcribe reads the video at path and returns its transcript. Unreadable
// or malformed video yields a degraded Result, not an error; errors are
// reserved for a missing decoder and internal failures.
func (r *Recognizer) Transcribe(path string) (*Result, error) {
	res := &Result{RequestID: uuid.NewString()}
	log := logging.WithRequest(r.log, res.RequestID, path)

	start := time.Now()
	ex, err := r.extractor.Extract(path)
	res.Timings.Extract = time.Since(start)
	if err != nil {
		r.metrics.RecordTranscription("error", 0)
		log.Error().Err(err).Msg("Frame extraction failed")
		return nil, fmt.Errorf("extract frames: %w", err)
	}
	res.FrameCount = ex.FramesRead
	res.ClipShape = ex.Clip.Shape()
	if ex.Status == video.StatusDegraded {
		res.Degraded = true
		if ex.Reason != nil {
			res.Reason = ex.Reason.Error()
		}
		log.Warn().Str("reason", res.Reason).Int("framesRead", ex.FramesRead).Msg("Degraded clip")
	}

	m := r.current.Load()
	start = time.Now()
	pred, err := m.Forward(ex.Clip)
	res.Timings.Forward = time.Since(start)
	if err != nil {
		r.metrics.RecordTranscription("error", ex.FramesRead)
		return nil, fmt.Errorf("model forward: %w", err)
	}

	start = time.Now()
	res.Text = r.decoder.DecodeN(pred, decodeLength(ex.FramesRead, pred.Timesteps()))
	res.Timings.Decode = time.Since(start)

	status := "ok"
	if res.Degraded {
		status = "degraded"
	}
	r.metrics.RecordTranscription(status, ex.FramesRead)
	r.metrics.ObserveStage("extract", res.Timings.Extract.Seconds())
	r.metrics.ObserveStage("forward", res.Timings.Forward.Seconds())
	r.metrics.ObserveStage("decode", res.Timings.Decode.Seconds())
	log.Debug().
		Dur("extract", res.Timings.Extract).
		Dur("forward", res.Timings.Forward).
		Dur("decode", res.Timings.Decode).
		Str("text", res.Text).
		Msg("Transcribed")
	return res, nil
}

// decodeLength is the number of timesteps to decode: the frames actually
// read, or the whole clip when it is a fallback or was truncated.
func decodeLength(framesRead, timesteps int) int {
	if framesRead <= 0 || framesRead > timesteps {
		return timesteps
	}
	return framesRead
}

// TranscribeReader spools r to a temporary file and transcribes it. The file
// is removed before returning.
func (r *Recognizer) TranscribeReader(src io.Reader) (*Result, error) {
	f, err := os.CreateTemp(r.tempDir, "lipread-*.mpg")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return nil, fmt.Errorf("spool video: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("spool video: %w", err)
	}
	return r.Transcribe(f.Name())
}

// TrainStepInputs returns the clip and label ids for one training pair.
// Unreadable inputs give a zero clip or empty labels rather than an error.
func (r *Recognizer) TrainStepInputs(videoPath, alignPath string) (*video.Clip, []int, error) {
	ex, err := r.extractor.Extract(videoPath)
	if err != nil {
		return nil, nil, fmt.Errorf("extract frames: %w", err)
	}
	if ex.Status == video.StatusDegraded {
		r.log.Warn().Str("video", videoPath).AnErr("reason", ex.Reason).Msg("Degraded training clip")
	}
	ar := align.ParseFile(alignPath, r.codec)
	if ar.Status == align.StatusDegraded {
		r.log.Warn().Str("alignment", alignPath).AnErr("reason", ar.Reason).Msg("Unreadable alignment")
	}
	return ex.Clip, ar.Labels, nil
}
