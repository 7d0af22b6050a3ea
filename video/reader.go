package video

import "errors"

var (
	// ErrDecoderUnavailable means no decoder can run at all (e.g. the ffmpeg
	// binary is missing). Unlike bad content, this is surfaced as an error.
	ErrDecoderUnavailable = errors.New("video decoder unavailable")
	// ErrNoFrames means the source produced no readable frame.
	ErrNoFrames = errors.New("no frames read")
	// ErrCropOutOfBounds means the crop rectangle does not fit inside the frame.
	ErrCropOutOfBounds = errors.New("crop region outside frame")
	// ErrShortRead means the source ended before its reported frame count.
	ErrShortRead = errors.New("video ended before reported frame count")
)

// Frame is one decoded 8-bit intensity image.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8 // row-major, len Width*Height
}

// FrameReader yields decoded frames in order.
type FrameReader interface {
	// FrameCount returns the number of frames the source reports; <= 0 if unknown.
	FrameCount() int
	// Next returns the next frame, or io.EOF when the source is exhausted.
	Next() (*Frame, error)
	Close() error
}

// Opener opens a video source.
type Opener func(path string) (FrameReader, error)
