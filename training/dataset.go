package training

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ieee0824/lipread-go/align"
	"github.com/ieee0824/lipread-go/alphabet"
	"github.com/ieee0824/lipread-go/ctc"
	"github.com/ieee0824/lipread-go/internal/metrics"
	"github.com/ieee0824/lipread-go/video"
)

// Skip reasons reported by Loader.
const (
	SkipVideo        = "video"
	SkipAlignment    = "alignment"
	SkipEmptyLabels  = "empty_labels"
	SkipLabelTooLong = "label_too_long"
)

// Example is one (clip, labels) training pair.
type Example struct {
	Name   string
	Clip   *video.Clip
	Labels []int
	Text   string // reference transcript
}

// Loader reads GRID samples into training examples.
type Loader struct {
	Extractor *video.Extractor
	Codec     *alphabet.Codec
	Layout    Layout
	Workers   int
	Log       zerolog.Logger
	Metrics   *metrics.Metrics // optional
}

// LoadOne reads one sample. A non-empty skip reason means the sample is
// unusable; the error is reserved for ErrDecoderUnavailable.
func (l *Loader) LoadOne(name string) (ex Example, skip string, err error) {
	videoPath, alignPath := l.Layout.Paths(name)
	vr, err := l.Extractor.Extract(videoPath)
	if err != nil {
		return Example{}, "", err
	}
	if vr.FramesRead == 0 {
		l.Log.Warn().Str("sample", name).AnErr("reason", vr.Reason).Msg("Skipping sample: no frames")
		return Example{}, SkipVideo, nil
	}
	if vr.Status == video.StatusDegraded {
		l.Log.Warn().Str("sample", name).AnErr("reason", vr.Reason).Int("framesRead", vr.FramesRead).Msg("Partial video")
	}

	ar := align.ParseFile(alignPath, l.Codec)
	if ar.Status == align.StatusDegraded {
		l.Log.Warn().Str("sample", name).AnErr("reason", ar.Reason).Msg("Skipping sample: alignment unreadable")
		return Example{}, SkipAlignment, nil
	}
	if ar.Empty() {
		return Example{}, SkipEmptyLabels, nil
	}
	if ctc.MinTimesteps(ar.Labels) > vr.Clip.Frames {
		return Example{}, SkipLabelTooLong, nil
	}
	return Example{Name: name, Clip: vr.Clip, Labels: ar.Labels, Text: ar.Text()}, "", nil
}

// Load reads the named samples concurrently, keeping their order and
// dropping unusable ones.
func (l *Loader) Load(ctx context.Context, names []string) ([]Example, error) {
	workers := l.Workers
	if workers < 1 {
		workers = 1
	}
	slots := make([]*Example, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ex, skip, err := l.LoadOne(name)
			if err != nil {
				return err
			}
			if skip != "" {
				if l.Metrics != nil {
					l.Metrics.RecordExampleSkipped(skip)
				}
				return nil
			}
			slots[i] = &ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Example, 0, len(names))
	for _, ex := range slots {
		if ex != nil {
			out = append(out, *ex)
		}
	}
	if len(out) == 0 && len(names) > 0 {
		return nil, errors.New("no usable training examples")
	}
	l.Log.Info().Int("requested", len(names)).Int("loaded", len(out)).Msg("Examples loaded")
	return out, nil
}
