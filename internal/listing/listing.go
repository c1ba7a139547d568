// Package listing implements the listing updater (§4.13, C13): a
// best-effort post-pass that rewrites an assembler's ".lst" listing into a
// ".rst" file with placeholder bytes replaced by their final, relocated
// values; each line's address column is copied as written. A line this pass
// cannot parse is copied through
// unchanged — the listing updater never aborts the link over a malformed
// or unexpected listing line.
package listing

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// CodeByteFunc returns the final relocated byte at address, or ok=false if
// address lies outside the linked image. target.Description.CodeByte
// implements this signature.
type CodeByteFunc func(address uint16) (b byte, ok bool)

// listingLine matches an assembler listing line of the shape
// "AAAA BB BB BB   <source text>": a 4-hex-digit address, then zero or
// more 2-hex-digit byte groups, then the original source text verbatim.
var listingLine = regexp.MustCompile(`^([0-9A-Fa-f]{4})((?:\s[0-9A-Fa-f]{2})*)(\s.*)?$`)

// Update reads r line by line and writes the patched listing to w, using
// codeByte to look up each line's real byte values. It never returns an
// error for a line it cannot parse; it only returns an error from the
// underlying reader or writer.
func Update(r io.Reader, w io.Writer, codeByte CodeByteFunc) error {
	scanner := bufio.NewScanner(r)
	bufWriter := bufio.NewWriter(w)
	defer bufWriter.Flush()

	for scanner.Scan() {
		line := scanner.Text()
		if _, err := fmt.Fprintln(bufWriter, rewriteLine(line, codeByte)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func rewriteLine(line string, codeByte CodeByteFunc) string {
	m := listingLine.FindStringSubmatch(line)
	if m == nil {
		return line
	}

	addr64, err := strconv.ParseUint(m[1], 16, 16)
	if err != nil {
		return line
	}
	addr := uint16(addr64)

	byteGroups := splitByteGroups(m[2])
	if len(byteGroups) == 0 {
		return line
	}

	out := m[1]
	for i := range byteGroups {
		b, ok := codeByte(addr + uint16(i))
		if !ok {
			// Address fell outside the final image; leave this byte
			// exactly as the assembler wrote it.
			out += " " + byteGroups[i]
			continue
		}
		out += fmt.Sprintf(" %02X", b)
	}
	out += m[3]
	return out
}

func splitByteGroups(s string) []string {
	var groups []string
	cur := ""
	for _, c := range s {
		if c == ' ' || c == '\t' {
			if cur != "" {
				groups = append(groups, cur)
				cur = ""
			}
			continue
		}
		cur += string(c)
	}
	if cur != "" {
		groups = append(groups, cur)
	}
	return groups
}
