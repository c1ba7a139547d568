// Package reloc implements the relocation-kind byte encoding and the
// relocator that applies a resolved address into a code sequence (§4.5,
// §4.6, §3 "Relocation", "CodeSequence").
package reloc

import (
	"fmt"

	"github.com/kattkieru/aslink-gb/internal/module"
)

// Kind is the single-byte mode flags attached to every R/P relocation
// record. Encode/Decode round-trip exactly: decoding a byte and
// re-encoding it always reproduces the same byte, including bits this
// linker does not act on.
type Kind uint8

const (
	MSBUsed             Kind = 1 << 7
	PageReferenced      Kind = 1 << 6
	ZeroPageReferenced  Kind = 1 << 5
	DataIsSigned        Kind = 1 << 4
	SlotWidthIsTwo      Kind = 1 << 3
	PCRelative          Kind = 1 << 2
	IsSymbol            Kind = 1 << 1
	ElementsAreBytes    Kind = 1 << 0
)

func (k Kind) Has(flag Kind) bool { return k&flag != 0 }

// Decode turns a raw mode byte into a Kind. It is the identity function by
// construction (Kind is already the byte's bit layout) but exists so
// callers never hand-roll the cast and so the round-trip invariant has one
// place to be tested.
func Decode(b byte) Kind { return Kind(b) }

// Encode turns a Kind back into its wire byte.
func (k Kind) Encode() byte { return byte(k) }

// Relocation is one entry of a code sequence's relocation list: at
// ByteOffset within the sequence, patch in the resolved address of either
// symbol ordinal Index (IsSymbol set) or segment/area ordinal Index
// (IsSymbol clear), per Kind's mode flags.
type Relocation struct {
	Kind       Kind
	Index      int // 1-based symbol ordinal, or area ordinal (0 means .ABS.)
	ByteOffset int // offset of the patched slot within the sequence's Bytes
}

// CodeSequence is one contiguous run of code/data bytes from a "T" line
// together with the relocations its "R"/"P" lines describe.
type CodeSequence struct {
	Bytes       []byte
	Relocations []Relocation
	Mod         *module.Module
}

// ApplyOptions threads the handful of relocation-time choices that vary by
// target or by explicit historical-compatibility decision.
type ApplyOptions struct {
	// PCBaseOverride, when non-nil, replaces the current-instruction address
	// used for PCRelative relocations. The reference linker always computed
	// this against an address of 0 (a latent bug); this linker preserves
	// that behavior bit-for-bit by default (PCBaseOverride is nil and the
	// zero base is used), since the spec directs against silently patching
	// behavior nothing yet depends on. A target wanting the corrected
	// behavior sets PCBaseOverride explicitly.
	PCBaseOverride *uint16
}

// resolvedAddress looks up the absolute address a Relocation's Index names.
func resolvedAddress(r Relocation, mod *module.Module) (uint16, error) {
	if r.Kind.Has(IsSymbol) {
		sym, err := mod.Symbol(r.Index)
		if err != nil {
			return 0, err
		}
		return sym.AbsoluteAddress(), nil
	}
	if r.Index == 0 {
		// Area ordinal 0 denotes .ABS.: the raw bytes already hold the
		// absolute value, nothing to add.
		return 0, nil
	}
	seg, err := mod.Segment(r.Index)
	if err != nil {
		return 0, err
	}
	return seg.StartAddress(), nil
}

// Apply patches seq.Bytes in place for every relocation in seq.Relocations.
// A PCRelative entry subtracts opts.PCBaseOverride (0 when it is nil) and
// then the slot width (1 or 2); currentAddress is not read. Every ByteOffset
// refers to the sequence's original, pre-relaxation layout; a byte-element
// relocation against a two-byte slot marks the half it doesn't need
// insignificant rather than moving any other relocation's offset, and the
// whole sequence is compacted once, after every relocation has been
// applied, per §4.5 step 6 ("operand relaxation").
func Apply(seq *CodeSequence, currentAddress uint16, opts ApplyOptions) error {
	significant := make([]bool, len(seq.Bytes))
	for i := range significant {
		significant[i] = true
	}

	shrunk := false
	for _, r := range seq.Relocations {
		if r.Kind.Has(PageReferenced) || r.Kind.Has(ZeroPageReferenced) {
			return fmt.Errorf("relocation at offset %d: page/zero-page relocations are not supported by this linker", r.ByteOffset)
		}

		addr, err := resolvedAddress(r, seq.Mod)
		if err != nil {
			return err
		}

		if r.Kind.Has(PCRelative) {
			base := currentAddress
			if opts.PCBaseOverride != nil {
				base = *opts.PCBaseOverride
			} else {
				base = 0 // preserved historical behavior, see ApplyOptions doc
			}
			addr -= base
			if r.Kind.Has(SlotWidthIsTwo) {
				addr -= 2
			} else {
				addr -= 1
			}
		}

		collapsed, err := patch(seq.Bytes, significant, r, addr)
		if err != nil {
			return err
		}
		if collapsed {
			shrunk = true
		}
	}

	if shrunk {
		compacted := seq.Bytes[:0:0]
		for i, b := range seq.Bytes {
			if significant[i] {
				compacted = append(compacted, b)
			}
		}
		seq.Bytes = compacted
	}
	return nil
}

// patch writes value into bytes at r.ByteOffset, honoring the slot-width and
// relaxation flags: a two-byte slot word-adds value into the existing slot
// (§4.5 step 4); if the relocation is also elementsAreBytes, only the byte
// msbUsed selects is kept and the other is marked insignificant for
// Apply's post-pass compaction. A one-byte slot takes the low byte unless
// MSBUsed selects the high byte. collapsed reports whether this relocation
// shrank the sequence by one byte.
func patch(bytes []byte, significant []bool, r Relocation, value uint16) (collapsed bool, err error) {
	if r.ByteOffset < 0 || r.ByteOffset >= len(bytes) {
		return false, fmt.Errorf("relocation offset %d out of range (sequence is %d bytes)", r.ByteOffset, len(bytes))
	}

	if r.Kind.Has(SlotWidthIsTwo) {
		if r.ByteOffset+1 >= len(bytes) {
			return false, fmt.Errorf("two-byte relocation at offset %d overruns sequence", r.ByteOffset)
		}
		sum := uint16(bytes[r.ByteOffset]) | uint16(bytes[r.ByteOffset+1])<<8
		sum += value
		bytes[r.ByteOffset] = byte(sum)
		bytes[r.ByteOffset+1] = byte(sum >> 8)

		if r.Kind.Has(ElementsAreBytes) {
			if r.Kind.Has(MSBUsed) {
				bytes[r.ByteOffset] = byte(sum >> 8)
			}
			significant[r.ByteOffset+1] = false
			return true, nil
		}
		return false, nil
	}

	if r.Kind.Has(PCRelative) {
		if signed := int16(value); signed < -128 || signed > 127 {
			return false, fmt.Errorf("PCR error: relocation at offset %d out of range (%d)", r.ByteOffset, signed)
		}
	} else if !r.Kind.Has(MSBUsed) && !r.Kind.Has(DataIsSigned) && byte(value>>8) != 0 {
		return false, fmt.Errorf("unsigned-byte error: relocation at offset %d high byte nonzero (%#04x)", r.ByteOffset, value)
	}

	if r.Kind.Has(MSBUsed) {
		bytes[r.ByteOffset] = byte(value >> 8)
		return false, nil
	}
	bytes[r.ByteOffset] = byte(value)
	return false, nil
}
