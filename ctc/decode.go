package ctc

import (
	"strings"

	"github.com/ieee0824/lipread-go/alphabet"
	"github.com/ieee0824/lipread-go/internal/mathutil"
)

// BestPath returns the most probable class at every timestep.
func BestPath(probs [][]float64) []int {
	path := make([]int, len(probs))
	for t, row := range probs {
		path[t] = mathutil.Argmax(row)
	}
	return path
}

// Collapse merges consecutive repeats, then drops blank and unknown ids.
// Repeats are merged before removal, so "a blank a" stays two labels.
func Collapse(path []int, blank, unknown int) []int {
	out := make([]int, 0, len(path))
	prev := -1
	for i, id := range path {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		if id == blank || id == unknown {
			continue
		}
		out = append(out, id)
	}
	return out
}

// GreedyDecode picks the best class per timestep and collapses the path.
// It approximates maximum-likelihood decoding without a beam search.
func GreedyDecode(probs [][]float64, blank, unknown int) []int {
	return Collapse(BestPath(probs), blank, unknown)
}

// Decoder turns model output into text.
type Decoder struct {
	codec *alphabet.Codec
}

// NewDecoder creates a decoder whose blank is codec.Blank().
func NewDecoder(codec *alphabet.Codec) *Decoder {
	return &Decoder{codec: codec}
}

// Labels returns the greedy label ids for pred.
func (d *Decoder) Labels(pred [][]float64) []int {
	return GreedyDecode(pred, d.codec.Blank(), alphabet.Unknown)
}

// Decode returns the transcript of pred with surrounding whitespace removed.
func (d *Decoder) Decode(pred [][]float64) string {
	return strings.TrimSpace(d.codec.DecodeString(d.Labels(pred)))
}

// DecodeN decodes only the first n timesteps of pred.
func (d *Decoder) DecodeN(pred [][]float64, n int) string {
	if n < 0 {
		n = 0
	}
	if n < len(pred) {
		pred = pred[:n]
	}
	return d.Decode(pred)
}
