package lipread

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/lipread-go/alphabet"
	"github.com/ieee0824/lipread-go/internal/metrics"
	"github.com/ieee0824/lipread-go/model"
	"github.com/ieee0824/lipread-go/video"
)

func smallVideoConfig() video.Config {
	return video.Config{
		ClipFrames: 4,
		Crop:       video.Crop{Top: 0, Bottom: 8, Left: 0, Right: 8},
		Epsilon:    1e-8,
	}
}

func smallModel(t *testing.T, numClasses int) *model.Model {
	t.Helper()
	m, err := model.Build(model.Config{
		Frames:      4,
		Height:      8,
		Width:       8,
		Channels:    1,
		ConvFilters: []int{2, 3, 2},
		KernelSize:  3,
		LSTMUnits:   3,
		LSTMLayers:  1,
		DropoutRate: 0.5,
		NumClasses:  numClasses,
		Seed:        3,
	})
	require.NoError(t, err)
	return m
}

func testOptions(m *metrics.Metrics, extra ...Option) []Option {
	opts := []Option{
		WithVideoConfig(smallVideoConfig()),
		WithLogger(zerolog.Nop()),
		WithMetrics(m),
	}
	return append(opts, extra...)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

// writeFrames writes an image-sequence directory with n 8x8 frames.
func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clip.mpg")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		for p := range img.Pix {
			img.Pix[p] = uint8((i*17 + p*5) % 256)
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%03d.png", i)), buf.Bytes(), 0o644))
	}
	return dir
}

func TestTranscribe_MissingFileDegrades(t *testing.T) {
	m := newTestMetrics()
	r, err := NewRecognizerFromModel(smallModel(t, alphabet.Default().NumClasses()), testOptions(m)...)
	require.NoError(t, err)

	res, err := r.Transcribe(filepath.Join(t.TempDir(), "missing.mpg"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, 0, res.FrameCount)
	assert.Equal(t, [4]int{4, 8, 8, 1}, res.ClipShape)
	_, err = uuid.Parse(res.RequestID)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionsTotal.WithLabelValues("degraded")))
}

func TestTranscribe_ImageSequence(t *testing.T) {
	m := newTestMetrics()
	r, err := NewRecognizerFromModel(smallModel(t, alphabet.Default().NumClasses()), testOptions(m)...)
	require.NoError(t, err)

	res, err := r.Transcribe(writeFrames(t, 3))
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, 3, res.FrameCount)
	assert.Equal(t, [4]int{4, 8, 8, 1}, res.ClipShape)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionsTotal.WithLabelValues("ok")))
}

func TestTranscribe_DecoderUnavailable(t *testing.T) {
	open := func(string) (video.FrameReader, error) {
		return nil, fmt.Errorf("ffmpeg: %w", video.ErrDecoderUnavailable)
	}
	r, err := NewRecognizerFromModel(smallModel(t, alphabet.Default().NumClasses()),
		testOptions(newTestMetrics(), WithOpener(open))...)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "clip.mpg")
	require.NoError(t, os.WriteFile(path, []byte("not a video"), 0o644))
	_, err = r.Transcribe(path)
	assert.ErrorIs(t, err, video.ErrDecoderUnavailable)
}

func TestTranscribe_Concurrent(t *testing.T) {
	r, err := NewRecognizerFromModel(smallModel(t, alphabet.Default().NumClasses()), testOptions(newTestMetrics())...)
	require.NoError(t, err)
	dir := writeFrames(t, 4)

	want, err := r.Transcribe(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	texts := make([]string, 8)
	errs := make([]error, 8)
	for i := range texts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Transcribe(dir)
			errs[i] = err
			if err == nil {
				texts[i] = res.Text
			}
		}(i)
	}
	wg.Wait()
	for i := range texts {
		require.NoError(t, errs[i])
		assert.Equal(t, want.Text, texts[i])
	}
}

func TestTranscribeReader_RemovesTempFile(t *testing.T) {
	tmp := t.TempDir()
	var opened string
	open := func(path string) (video.FrameReader, error) {
		opened = path
		return nil, errors.New("invalid data found when processing input")
	}
	r, err := NewRecognizerFromModel(smallModel(t, alphabet.Default().NumClasses()),
		testOptions(newTestMetrics(), WithOpener(open), WithTempDir(tmp))...)
	require.NoError(t, err)

	res, err := r.TranscribeReader(bytes.NewReader([]byte("garbage")))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, ".mpg", filepath.Ext(opened))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewRecognizer_Checkpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipnet.gob")
	require.NoError(t, smallModel(t, alphabet.Default().NumClasses()).SaveFile(path))

	r, err := NewRecognizer(path, testOptions(newTestMetrics())...)
	require.NoError(t, err)
	assert.True(t, r.Ready())
	assert.Equal(t, 41, r.Model().NumClasses())
}

func TestNewRecognizer_ClassMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipnet.gob")
	require.NoError(t, smallModel(t, 7).SaveFile(path))

	m := newTestMetrics()
	_, err := NewRecognizer(path, testOptions(m)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrClassMismatch)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointLoads.WithLabelValues("error")))
}

func TestNewRecognizer_ShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipnet.gob")
	require.NoError(t, smallModel(t, alphabet.Default().NumClasses()).SaveFile(path))

	cfg := smallVideoConfig()
	cfg.ClipFrames = 6
	_, err := NewRecognizer(path, testOptions(newTestMetrics(), WithVideoConfig(cfg))...)
	assert.ErrorIs(t, err, model.ErrInputShape)
}

func TestNewRecognizer_MissingCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.gob")

	_, err := NewRecognizer(path, testOptions(newTestMetrics())...)
	assert.ErrorIs(t, err, os.ErrNotExist)

	r, err := NewRecognizer(path, testOptions(newTestMetrics(), WithUntrainedFallback(true))...)
	require.NoError(t, err)
	assert.False(t, r.Ready())
	assert.Equal(t, [4]int{4, 8, 8, 1}, r.Model().Config().InputShape())

	res, err := r.Transcribe(writeFrames(t, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, res.FrameCount)
}

func TestSwapModel(t *testing.T) {
	m := newTestMetrics()
	first := smallModel(t, alphabet.Default().NumClasses())
	r, err := NewRecognizerFromModel(first, testOptions(m)...)
	require.NoError(t, err)

	err = r.SwapModel(smallModel(t, 7))
	assert.ErrorIs(t, err, model.ErrClassMismatch)
	assert.Same(t, first, r.Model())
	assert.Error(t, r.SwapModel(nil))

	second := smallModel(t, alphabet.Default().NumClasses())
	require.NoError(t, r.SwapModel(second))
	assert.Same(t, second, r.Model())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelSwaps))
}

func TestTrainStepInputs(t *testing.T) {
	r, err := NewRecognizerFromModel(smallModel(t, alphabet.Default().NumClasses()), testOptions(newTestMetrics())...)
	require.NoError(t, err)

	alignPath := filepath.Join(t.TempDir(), "clip.align")
	require.NoError(t, os.WriteFile(alignPath, []byte("0 10 sil\n10 20 bin\n20 30 red\n30 40 sil\n"), 0o644))

	clip, labels, err := r.TrainStepInputs(writeFrames(t, 4), alignPath)
	require.NoError(t, err)
	assert.Equal(t, [4]int{4, 8, 8, 1}, clip.Shape())
	assert.Equal(t, "bin red", r.Codec().DecodeString(labels))

	clip, labels, err = r.TrainStepInputs(filepath.Join(t.TempDir(), "none.mpg"), filepath.Join(t.TempDir(), "none.align"))
	require.NoError(t, err)
	assert.True(t, clip.IsZero())
	assert.Empty(t, labels)
}

func TestDecodeLength(t *testing.T) {
	assert.Equal(t, 75, decodeLength(0, 75))
	assert.Equal(t, 40, decodeLength(40, 75))
	assert.Equal(t, 75, decodeLength(75, 75))
	assert.Equal(t, 75, decodeLength(120, 75))
}
