package listing

import (
	"strings"
	"testing"
)

func TestUpdateRewritesPlaceholderBytes(t *testing.T) {
	input := "0100 00 00 00   LD A,42h\n"
	image := map[uint16]byte{0x0100: 0x3E, 0x0101: 0x42, 0x0102: 0xC9}
	codeByte := func(addr uint16) (byte, bool) {
		b, ok := image[addr]
		return b, ok
	}

	var out strings.Builder
	if err := Update(strings.NewReader(input), &out, codeByte); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := "0100 3E 42 C9   LD A,42h\n"
	if got := out.String(); got != want {
		t.Errorf("Update output = %q, want %q", got, want)
	}
}

func TestUpdatePassesThroughUnparsableLines(t *testing.T) {
	input := "; just a comment\n\n"
	var out strings.Builder
	if err := Update(strings.NewReader(input), &out, func(uint16) (byte, bool) { return 0, false }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.String() != input {
		t.Errorf("Update output = %q, want input unchanged: %q", out.String(), input)
	}
}

func TestUpdateLeavesBytesOutsideImageUntouched(t *testing.T) {
	input := "FFF0 AB CD   DB 0ABh, 0CDh\n"
	var out strings.Builder
	codeByte := func(uint16) (byte, bool) { return 0, false }
	if err := Update(strings.NewReader(input), &out, codeByte); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.String() != input {
		t.Errorf("Update output = %q, want unchanged bytes: %q", out.String(), input)
	}
}
