package video

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// ImageSequenceOpener reads a directory of still frames, ordered by file name.
func ImageSequenceOpener() Opener {
	return func(dir string) (FrameReader, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read frame directory: %w", err)
		}
		var paths []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(paths)
		return &imageSequence{paths: paths}, nil
	}
}

type imageSequence struct {
	paths []string
	pos   int
}

func (s *imageSequence) FrameCount() int { return len(s.paths) }

func (s *imageSequence) Next() (*Frame, error) {
	if s.pos >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.pos]
	s.pos++
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return grayFrame(img), nil
}

func (s *imageSequence) Close() error { return nil }

// grayFrame converts a decoded image using the same byte-order weights as the
// ffmpeg path, so a still and the video frame it came from agree.
func grayFrame(img image.Image) *Frame {
	b := img.Bounds()
	f := &Frame{Width: b.Dx(), Height: b.Dy(), Pix: make([]uint8, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Pix[i] = Gray(uint8(bl>>8), uint8(g>>8), uint8(r>>8))
			i++
		}
	}
	return f
}

// DefaultOpener reads directories as image sequences and everything else through ffmpeg.
func DefaultOpener(ffmpegPath, ffprobePath string) Opener {
	seq := ImageSequenceOpener()
	ff := FFmpegOpener(ffmpegPath, ffprobePath)
	return func(path string) (FrameReader, error) {
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			return seq(path)
		}
		return ff(path)
	}
}
