package video

// Clip is a fixed-shape frame sequence laid out as [Frames][Height][Width][Channels].
type Clip struct {
	Frames   int
	Height   int
	Width    int
	Channels int
	Data     []float64
}

// NewClip allocates a zero-valued clip.
func NewClip(frames, height, width, channels int) *Clip {
	return &Clip{
		Frames:   frames,
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float64, frames*height*width*channels),
	}
}

// Shape returns (frames, height, width, channels).
func (c *Clip) Shape() [4]int {
	return [4]int{c.Frames, c.Height, c.Width, c.Channels}
}

// FrameSize returns the number of values in one frame.
func (c *Clip) FrameSize() int {
	return c.Height * c.Width * c.Channels
}

// Frame returns the values of frame t. The slice aliases Data.
func (c *Clip) Frame(t int) []float64 {
	n := c.FrameSize()
	return c.Data[t*n : (t+1)*n]
}

// at returns the value at (t, y, x, ch).
func (c *Clip) at(t, y, x, ch int) float64 {
	return c.Data[((t*c.Height+y)*c.Width+x)*c.Channels+ch]
}

// IsZero reports whether every value is zero.
func (c *Clip) IsZero() bool {
	for _, v := range c.Data {
		if v != 0 {
			return false
		}
	}
	return true
}
