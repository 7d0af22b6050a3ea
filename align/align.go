// Package align reads ground-truth timing files and turns them into label sequences.
package align

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ieee0824/lipread-go/alphabet"
)

// SilenceToken marks a silent interval in an alignment file.
const SilenceToken = "sil"

// Status tells whether a Result carries parsed data or a fallback.
type Status int

const (
	// StatusOK means the file was read completely.
	StatusOK Status = iota
	// StatusDegraded means the file could not be read and Labels is empty.
	StatusDegraded
)

func (s Status) String() string {
	if s == StatusDegraded {
		return "degraded"
	}
	return "ok"
}

// Result holds the label sequence parsed from one alignment file.
type Result struct {
	Labels []int    // codec ids, words separated by the space id
	Tokens []string // spoken tokens in order, silence removed
	Status Status
	Reason error // why the fallback was used; nil when Status is StatusOK
}

// Empty reports whether there is nothing to train on.
func (r Result) Empty() bool { return len(r.Labels) == 0 }

// Parse reads an alignment in "start end token" lines.
// Lines with fewer than three fields and silence tokens are skipped.
// Read errors degrade to an empty label sequence.
func Parse(r io.Reader, codec *alphabet.Codec) Result {
	var tokens []string
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) <= 2 || fields[2] == SilenceToken {
			continue
		}
		tokens = append(tokens, fields[2])
		sb.WriteString(" ")
		sb.WriteString(fields[2])
	}
	if err := scanner.Err(); err != nil {
		return Result{Status: StatusDegraded, Reason: fmt.Errorf("read alignment: %w", err)}
	}

	ids := codec.EncodeString(sb.String())
	if len(ids) > 0 {
		// drop the separator emitted before the first token
		ids = ids[1:]
	}
	return Result{Labels: ids, Tokens: tokens, Status: StatusOK}
}

// ParseFile opens path and parses it. A missing or unreadable file degrades
// to an empty label sequence.
func ParseFile(path string, codec *alphabet.Codec) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Status: StatusDegraded, Reason: fmt.Errorf("open alignment: %w", err)}
	}
	defer f.Close()
	return Parse(f, codec)
}

// Text returns the transcript the labels spell out.
func (r Result) Text() string {
	return strings.Join(r.Tokens, " ")
}
