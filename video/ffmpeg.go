package video

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegOpener decodes video files by piping raw bgr24 frames out of ffmpeg.
// Frame geometry and count come from ffprobe.
func FFmpegOpener(ffmpegPath, ffprobePath string) Opener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return func(path string) (FrameReader, error) {
		ffmpeg, err := exec.LookPath(ffmpegPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
		}
		ffprobe, err := exec.LookPath(ffprobePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
		}

		info, err := probe(ffprobe, path)
		if err != nil {
			return nil, err
		}

		cmd := exec.Command(ffmpeg, decodeArgs(path)...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start ffmpeg: %w", err)
		}

		frameBytes := info.width * info.height * 3
		return &ffmpegReader{
			cmd:  cmd,
			out:  bufio.NewReaderSize(stdout, frameBytes),
			info: info,
			buf:  make([]byte, frameBytes),
		}, nil
	}
}

// decodeArgs streams raw bgr24 frames of path to stdout. ffmpeg must not
// read the parent's stdin.
func decodeArgs(path string) []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	}
}

type probeInfo struct {
	width, height, frames int
}

// probe asks ffprobe for the first video stream's size and packet count.
func probe(ffprobe, path string) (probeInfo, error) {
	cmd := exec.Command(ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=width,height,nb_read_packets",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return probeInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(string(out))
}

func parseProbe(out string) (probeInfo, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return probeInfo{}, fmt.Errorf("ffprobe: no video stream in %q", line)
	}
	var info probeInfo
	var err error
	if info.width, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return probeInfo{}, fmt.Errorf("ffprobe width: %w", err)
	}
	if info.height, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return probeInfo{}, fmt.Errorf("ffprobe height: %w", err)
	}
	if info.width <= 0 || info.height <= 0 {
		return probeInfo{}, fmt.Errorf("ffprobe: invalid frame size %dx%d", info.width, info.height)
	}
	if len(parts) > 2 {
		// "N/A" leaves the count unknown
		if n, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
			info.frames = n
		}
	}
	return info, nil
}

type ffmpegReader struct {
	cmd    *exec.Cmd
	out    *bufio.Reader
	info   probeInfo
	buf    []byte
	closed bool
}

func (r *ffmpegReader) FrameCount() int { return r.info.frames }

func (r *ffmpegReader) Next() (*Frame, error) {
	if _, err := io.ReadFull(r.out, r.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		return nil, err
	}
	f := &Frame{
		Width:  r.info.width,
		Height: r.info.height,
		Pix:    make([]uint8, r.info.width*r.info.height),
	}
	GrayFromBGR(f.Pix, r.buf)
	return f, nil
}

// Close stops ffmpeg if it is still running and reaps the process.
func (r *ffmpegReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cmd.ProcessState == nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
	return nil
}
