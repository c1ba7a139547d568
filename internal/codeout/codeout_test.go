package codeout

import (
	"strings"
	"testing"
)

// TestIntelHexHelloWorld reproduces the Hello-HEX testable property from
// the specification: LD A,42h; RET (3E 42 C9) at address 0.
func TestIntelHexHelloWorld(t *testing.T) {
	records := []Record{
		{Address: 0x0000, Bytes: []byte{0x3E, 0x42, 0xC9}},
	}
	var buf strings.Builder
	if err := WriteAll(&buf, IntelHex{}, records); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	want := ":030000003E42C9B4\n:00000001FF\n"
	if got := buf.String(); got != want {
		t.Errorf("IntelHex encoding =\n%q\nwant\n%q", got, want)
	}
}

func TestIntelHexSplitsLongRecords(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	var buf strings.Builder
	if err := WriteAll(&buf, IntelHex{MaxRecordLen: 16}, []Record{{Address: 0, Bytes: data}}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 { // 16 bytes + 4 bytes + EOF
		t.Fatalf("got %d lines, want 3: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], ":100000") {
		t.Errorf("first line = %q, want a 16-byte (0x10) record at 0000", lines[0])
	}
	if !strings.HasPrefix(lines[1], ":040010") {
		t.Errorf("second line = %q, want a 4-byte record at 0010", lines[1])
	}
}

func TestMotorolaS19Terminator(t *testing.T) {
	var buf strings.Builder
	if err := WriteAll(&buf, MotorolaS19{}, []Record{{Address: 0x100, Bytes: []byte{0x01, 0x02}}}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "S1") {
		t.Errorf("expected an S1 data record, got %q", out)
	}
	if !strings.Contains(out, "S9030000FC") {
		t.Errorf("expected an S9 terminator, got %q", out)
	}
}

func TestGameboyImagePatchesChecksums(t *testing.T) {
	g := &GameboyImage{ImageSize: 0x8000}
	var buf strings.Builder
	records := []Record{{Address: 0x100, Bytes: []byte{0x00, 0xC3, 0x50, 0x01}}}
	if err := WriteAll(&buf, g, records); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	image := []byte(buf.String())
	if len(image) != 0x8000 {
		t.Fatalf("image length = %d, want 0x8000", len(image))
	}
	if image[0x14D] != headerChecksum(image) {
		t.Errorf("header checksum byte not patched correctly")
	}
}

func TestGameboyImageRejectsOverrun(t *testing.T) {
	g := &GameboyImage{ImageSize: 0x100}
	var buf strings.Builder
	records := []Record{{Address: 0x0FF, Bytes: []byte{0x01, 0x02}}}
	if err := WriteAll(&buf, g, records); err == nil {
		t.Fatalf("expected an overrun error")
	}
}
