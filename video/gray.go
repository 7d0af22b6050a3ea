package video

// Luma weights applied to the decoded byte order (B, G, R).
// Existing checkpoints were trained on frames converted this way, so the
// weights stay tied to byte order rather than to the true colour channels.
const (
	weight0 = 0.2989
	weight1 = 0.5870
	weight2 = 0.1140
)

// Gray converts one pixel given in decoder byte order (B, G, R) to an 8-bit
// intensity, re-quantized the same way the training pipeline did.
func Gray(c0, c1, c2 uint8) uint8 {
	g := (weight0*float64(c0) + weight1*float64(c1) + weight2*float64(c2)) / 255.0
	v := g * 255.5
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}

// GrayFromBGR converts packed bgr24 pixels to intensities.
func GrayFromBGR(dst []uint8, bgr []byte) {
	for i := range dst {
		off := i * 3
		dst[i] = Gray(bgr[off], bgr[off+1], bgr[off+2])
	}
}
