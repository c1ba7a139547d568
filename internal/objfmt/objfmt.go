// Package objfmt holds the small self-contained pieces of the textual
// object/library grammar (§6 of the specification) that don't need the full
// per-command state machine in internal/linker/parser.go: number evaluation,
// the generic "name=value" mini-parser used by -b/-g overrides and the
// banking config file, the trailing "@<offset>" file-spec convention, and
// the first-seen-wins compiler-options record.
package objfmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kattkieru/aslink-gb/internal/scanner"
)

// Endianness selects how two address bytes combine into a 16-bit word.
type Endianness int

const (
	EndianUnknown Endianness = iota
	EndianBig
	EndianLittle
)

// Options is the radix/endianness state in force while parsing one file.
// It resets to DefaultOptions at every file boundary (§8 scenario 6).
type Options struct {
	DefaultBase int
	Endianness  Endianness
}

// DefaultOptions is the radix/endianness state in force before any "X"/"D"/
// "Q" line is seen. The source defaults to decimal; every object dialect
// this linker actually reads (SDCC .rel output, and this module's own
// banking-stub synthesis in internal/banking) opens with an implicit hex
// convention and only a minority of files carry an explicit radix line, so
// the starting base here is hex rather than the source's decimal — an "X"
// line is still honored exactly like "D"/"Q" when a file does emit one.
func DefaultOptions() Options {
	return Options{DefaultBase: 16, Endianness: EndianUnknown}
}

// IsIdentifierKind reports whether k may stand in for an identifier token
// (identifiers themselves, or the ambiguous all-hex-digit idOrNumber).
func IsIdentifierKind(k scanner.Kind) bool {
	return k == scanner.Identifier || k == scanner.IdOrNumber
}

// IsNumberKind reports whether k may stand in for a number token.
func IsNumberKind(k scanner.Kind) bool {
	return k == scanner.Number || k == scanner.IdOrNumber
}

// EvaluateNumber parses text in the given base, taken from the Options in
// force (§4.2). Radix prefixes inside the token text are not recognized.
func EvaluateNumber(text string, base int) (int32, error) {
	v, err := strconv.ParseInt(text, base, 64)
	if err != nil {
		return 0, fmt.Errorf("number expected: %q", text)
	}
	return int32(v), nil
}

// MakeWord combines two address bytes into a 16-bit value according to e,
// falling back to targetIsBigEndian when e is EndianUnknown.
func MakeWord(partA, partB byte, e Endianness, targetIsBigEndian bool) uint16 {
	isBig := targetIsBigEndian
	switch e {
	case EndianBig:
		isBig = true
	case EndianLittle:
		isBig = false
	}
	if isBig {
		return uint16(partA)<<8 | uint16(partB)
	}
	return uint16(partB)<<8 | uint16(partA)
}

// CompilerOptions remembers the first "O" line seen in a link and flags any
// later one that disagrees (§4.2, §6).
type CompilerOptions struct {
	set        bool
	Line       string
	ModuleName string
}

// Observe records line/moduleName on first call; on subsequent calls it
// returns false (with the previously stored line/module) iff line differs
// from what was first recorded.
func (c *CompilerOptions) Observe(line, moduleName string) (ok bool) {
	if !c.set {
		c.Line, c.ModuleName = line, moduleName
		c.set = true
		return true
	}
	return c.Line == line
}

// ParseFileSpec splits the SDCC "@<decimal>" trailing-offset convention used
// for embedded archive members off a file name. offset is 0 when absent.
func ParseFileSpec(spec string) (path string, offset int64, err error) {
	at := strings.LastIndexByte(spec, '@')
	if at < 0 {
		return spec, 0, nil
	}
	offsetText := spec[at+1:]
	n, convErr := strconv.ParseInt(offsetText, 10, 64)
	if convErr != nil {
		// Not a trailing offset after all (e.g. an "@" inside a real path);
		// treat the whole string as a path.
		return spec, 0, nil
	}
	return spec[:at], n, nil
}

// ParseValueMap parses a single "name=value" line (value in the given base,
// typically 16) and calls set(name, value). Used by -b, -g and the banking
// config file (§6). A blank line or a ";"-introduced comment is accepted and
// silently ignored (err is nil, set is not called).
func ParseValueMap(line string, base int, set func(name string, value int64)) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") {
		return nil
	}
	name, valueText, found := strings.Cut(trimmed, "=")
	if !found {
		return fmt.Errorf("bad definition: %q", line)
	}
	name = strings.TrimSpace(name)
	valueText = strings.TrimSpace(valueText)
	value, err := strconv.ParseInt(valueText, base, 64)
	if err != nil || name == "" {
		return fmt.Errorf("bad definition: %q", line)
	}
	set(name, value)
	return nil
}
