// Package video turns a silent video of a speaker into the normalized
// mouth-region clip the sequence model consumes.
//
// The mouth crop is a fixed rectangle calibrated for the GRID recording setup
// (360x288 frames, speaker centred). It is not content-adaptive: footage framed
// differently needs its own Crop, or the model sees the wrong region.
package video

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Crop is a pixel rectangle, rows [Top, Bottom) and columns [Left, Right).
type Crop struct {
	Top    int
	Bottom int
	Left   int
	Right  int
}

// Height returns the number of rows in the crop.
func (c Crop) Height() int { return c.Bottom - c.Top }

// Width returns the number of columns in the crop.
func (c Crop) Width() int { return c.Right - c.Left }

// Config holds frame extraction parameters.
type Config struct {
	ClipFrames int     // frames per clip; longer sources are truncated, shorter zero-padded
	Crop       Crop    // mouth region
	Epsilon    float64 // added to the std before dividing
}

// DefaultConfig returns the calibration used by the GRID checkpoints.
func DefaultConfig() Config {
	return Config{
		ClipFrames: 75,
		Crop:       Crop{Top: 190, Bottom: 236, Left: 80, Right: 220},
		Epsilon:    1e-8,
	}
}

// Shape returns the clip shape this configuration produces.
func (c Config) Shape() [4]int {
	return [4]int{c.ClipFrames, c.Crop.Height(), c.Crop.Width(), 1}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.ClipFrames <= 0 {
		return fmt.Errorf("clip frames must be positive, got %d", c.ClipFrames)
	}
	if c.Crop.Top < 0 || c.Crop.Left < 0 || c.Crop.Height() <= 0 || c.Crop.Width() <= 0 {
		return fmt.Errorf("invalid crop %+v", c.Crop)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %g", c.Epsilon)
	}
	return nil
}

// Status tells whether a Result carries decoded frames or a fallback.
type Status int

const (
	// StatusOK means every reported frame was read.
	StatusOK Status = iota
	// StatusDegraded means a fallback was used: a zero clip, or a partial read.
	StatusDegraded
)

func (s Status) String() string {
	if s == StatusDegraded {
		return "degraded"
	}
	return "ok"
}

// Result is the outcome of one extraction.
type Result struct {
	Clip       *Clip
	FramesRead int // frames actually decoded from the source
	Status     Status
	Reason     error // set when Status is StatusDegraded
}

// Extractor builds clips from video sources.
type Extractor struct {
	cfg  Config
	open Opener
}

// NewExtractor creates an Extractor. A nil opener means DefaultOpener with
// ffmpeg and ffprobe looked up on PATH.
func NewExtractor(cfg Config, open Opener) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = DefaultOpener("", "")
	}
	return &Extractor{cfg: cfg, open: open}, nil
}

// Config returns the extraction parameters.
func (e *Extractor) Config() Config { return e.cfg }

// ZeroClip returns the canonical all-zero clip.
func (e *Extractor) ZeroClip() *Clip {
	s := e.cfg.Shape()
	return NewClip(s[0], s[1], s[2], s[3])
}

func (e *Extractor) degraded(read int, reason error) Result {
	return Result{Clip: e.ZeroClip(), FramesRead: read, Status: StatusDegraded, Reason: reason}
}

// Extract reads the video at path and returns its normalized clip.
//
// Unreadable, empty or mis-sized sources yield the zero clip with
// StatusDegraded; a source that ends early keeps the frames read so far.
// The only error returned is ErrDecoderUnavailable.
func (e *Extractor) Extract(path string) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		return e.degraded(0, fmt.Errorf("stat video: %w", err)), nil
	}
	rd, err := e.open(path)
	if err != nil {
		if errors.Is(err, ErrDecoderUnavailable) {
			return Result{}, err
		}
		return e.degraded(0, fmt.Errorf("open video: %w", err)), nil
	}
	defer rd.Close()
	return e.FromReader(rd), nil
}

// FromReader builds a clip from an already opened reader.
func (e *Extractor) FromReader(rd FrameReader) Result {
	crop := e.cfg.Crop
	frameSize := crop.Height() * crop.Width()
	total := rd.FrameCount()

	capHint := total
	if capHint <= 0 {
		capHint = e.cfg.ClipFrames
	}
	data := make([]float64, 0, capHint*frameSize)

	read := 0
	var partial error
	for total <= 0 || read < total {
		f, err := rd.Next()
		if err == io.EOF {
			if total > 0 {
				partial = fmt.Errorf("%w: %d of %d", ErrShortRead, read, total)
			}
			break
		}
		if err != nil {
			partial = fmt.Errorf("read frame %d: %w", read, err)
			break
		}
		if crop.Bottom > f.Height || crop.Right > f.Width {
			return e.degraded(read, fmt.Errorf("%w: crop %+v, frame %dx%d", ErrCropOutOfBounds, crop, f.Width, f.Height))
		}
		for y := crop.Top; y < crop.Bottom; y++ {
			row := f.Pix[y*f.Width+crop.Left : y*f.Width+crop.Right]
			for _, v := range row {
				data = append(data, float64(v))
			}
		}
		read++
	}

	if read == 0 {
		reason := ErrNoFrames
		if partial != nil {
			reason = fmt.Errorf("%w: %v", ErrNoFrames, partial)
		}
		return e.degraded(0, reason)
	}

	Normalize(data, e.cfg.Epsilon)
	clip := e.fit(data, read)

	res := Result{Clip: clip, FramesRead: read, Status: StatusOK}
	if partial != nil {
		res.Status = StatusDegraded
		res.Reason = partial
	}
	return res
}

// fit truncates or zero-pads normalized frames to ClipFrames.
// Padding happens after normalization, so padded frames sit at the clip mean.
func (e *Extractor) fit(data []float64, frames int) *Clip {
	clip := e.ZeroClip()
	if frames > e.cfg.ClipFrames {
		frames = e.cfg.ClipFrames
	}
	n := clip.FrameSize()
	for t := 0; t < frames; t++ {
		copy(clip.Frame(t), data[t*n:(t+1)*n])
	}
	return clip
}
