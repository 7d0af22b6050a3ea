package training

import (
	"path/filepath"
	"strings"
)

// Layout locates GRID samples: videos under <Root>/<Speaker>/<name>.mpg and
// alignments under <Root>/alignments/<Speaker>/<name>.align.
type Layout struct {
	Root    string
	Speaker string
}

// DefaultLayout is the layout of the single-speaker GRID subset.
func DefaultLayout() Layout {
	return Layout{Root: "data", Speaker: "s1"}
}

// SampleName reduces any path to its sample name: the last element of a
// "\" or "/" separated path, cut at the first dot.
func SampleName(path string) string {
	name := path
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// Paths returns the video and alignment paths of the sample named by path.
func (l Layout) Paths(path string) (videoPath, alignPath string) {
	name := SampleName(path)
	videoPath = filepath.Join(l.Root, l.Speaker, name+".mpg")
	alignPath = filepath.Join(l.Root, "alignments", l.Speaker, name+".align")
	return videoPath, alignPath
}

// Samples lists the sample names of every video under the speaker directory,
// sorted by name.
func (l Layout) Samples() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.Root, l.Speaker, "*.mpg"))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = SampleName(m)
	}
	return names, nil
}
