// Package alphabet maps characters to the integer class ids used by the
// sequence model and back.
//
// Id 0 is reserved for the unknown symbol. Symbols take ids 1..N in the order
// they were given, so the order must never change for the lifetime of a trained
// checkpoint. The CTC blank is the class after the last symbol id.
package alphabet

import "fmt"

// DefaultSymbols is the symbol set used by the GRID-trained checkpoints.
const DefaultSymbols = "abcdefghijklmnopqrstuvwxyz'?!123456789 "

// Unknown is the id every out-of-alphabet character encodes to.
const Unknown = 0

// UnknownSymbol is what the unknown id decodes to.
const UnknownSymbol = ""

// Codec is an immutable bidirectional character/id mapping.
// The zero value is not usable; construct with New or Default.
type Codec struct {
	symbols []rune
	ids     map[rune]int
}

// New builds a codec over the given symbols.
func New(symbols string) (*Codec, error) {
	runes := []rune(symbols)
	if len(runes) == 0 {
		return nil, fmt.Errorf("alphabet: empty symbol set")
	}
	ids := make(map[rune]int, len(runes))
	for i, r := range runes {
		if _, dup := ids[r]; dup {
			return nil, fmt.Errorf("alphabet: duplicate symbol %q at position %d", r, i)
		}
		ids[r] = i + 1
	}
	return &Codec{symbols: runes, ids: ids}, nil
}

// Default returns the codec over DefaultSymbols.
func Default() *Codec {
	c, err := New(DefaultSymbols)
	if err != nil {
		panic(err)
	}
	return c
}

// Size returns the number of ids including the unknown id.
func (c *Codec) Size() int { return len(c.symbols) + 1 }

// NumClasses returns the model output width: every id plus the CTC blank.
func (c *Codec) NumClasses() int { return c.Size() + 1 }

// Blank returns the CTC blank class id.
func (c *Codec) Blank() int { return c.Size() }

// Symbols returns the ordered symbol set.
func (c *Codec) Symbols() string { return string(c.symbols) }

// ID returns the id for one character, or Unknown.
func (c *Codec) ID(r rune) int {
	if id, ok := c.ids[r]; ok {
		return id
	}
	return Unknown
}

// Encode maps characters to ids. Out-of-alphabet characters become Unknown.
func (c *Codec) Encode(chars []rune) []int {
	out := make([]int, len(chars))
	for i, r := range chars {
		out[i] = c.ID(r)
	}
	return out
}

// EncodeString encodes every rune of s.
func (c *Codec) EncodeString(s string) []int {
	return c.Encode([]rune(s))
}

// Symbol returns the symbol for id. The unknown id, the blank and anything
// out of range map to UnknownSymbol.
func (c *Codec) Symbol(id int) string {
	if id < 1 || id > len(c.symbols) {
		return UnknownSymbol
	}
	return string(c.symbols[id-1])
}

// Decode maps ids back to characters, skipping ids that decode to UnknownSymbol.
func (c *Codec) Decode(ids []int) []rune {
	out := make([]rune, 0, len(ids))
	for _, id := range ids {
		if id < 1 || id > len(c.symbols) {
			continue
		}
		out = append(out, c.symbols[id-1])
	}
	return out
}

// DecodeString decodes ids and joins the characters.
func (c *Codec) DecodeString(ids []int) string {
	return string(c.Decode(ids))
}
