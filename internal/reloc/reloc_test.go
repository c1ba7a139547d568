package reloc

import (
	"testing"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/module"
	"github.com/kattkieru/aslink-gb/internal/symbol"
)

func TestKindRoundTrip(t *testing.T) {
	for _, b := range []byte{0x00, 0x01, 0xFF, 0x55, 0xAA} {
		k := Decode(b)
		if got := k.Encode(); got != b {
			t.Errorf("Decode(%#x).Encode() = %#x, want %#x", b, got, b)
		}
	}
}

func TestApplySymbolRelocationOneByteLow(t *testing.T) {
	areaStore := area.NewStore()
	codeArea, _ := areaStore.Make("_CODE", area.InCodeSpace)
	seg := codeArea.MakeSegment("main.rel", 2)

	symtab := symbol.NewTable(true)
	sym, _ := symtab.Make("_target", true, 0x10, seg)

	mod := module.New("main", "main.rel")
	mod.AddSymbol(sym)

	if err := areaStore.Link(map[string]uint16{"_CODE": 0x4000}, symtab); err != nil {
		t.Fatalf("Link: %v", err)
	}

	seq := &CodeSequence{
		Bytes:       []byte{0x3E, 0x00}, // LD A, <imm>
		Relocations: []Relocation{{Kind: IsSymbol, Index: 1, ByteOffset: 1}},
		Mod:         mod,
	}
	if err := Apply(seq, 0x4000, ApplyOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if seq.Bytes[1] != 0x10 {
		t.Errorf("patched byte = %#x, want 0x10", seq.Bytes[1])
	}
}

func TestApplyPageReferencedIsFatal(t *testing.T) {
	mod := module.New("main", "main.rel")
	seq := &CodeSequence{
		Bytes:       []byte{0x00},
		Relocations: []Relocation{{Kind: PageReferenced, Index: 0, ByteOffset: 0}},
		Mod:         mod,
	}
	if err := Apply(seq, 0, ApplyOptions{}); err == nil {
		t.Fatalf("expected an error applying a page-referenced relocation")
	}
}

func TestApplyByteElementTwoByteSlotRelaxesToOneByte(t *testing.T) {
	areaStore := area.NewStore()
	codeArea, _ := areaStore.Make("_CODE", area.InCodeSpace)
	seg := codeArea.MakeSegment("main.rel", 2)

	symtab := symbol.NewTable(true)
	sym, _ := symtab.Make("_target", true, 0, seg)
	mod := module.New("main", "main.rel")
	mod.AddSymbol(sym)
	if err := areaStore.Link(map[string]uint16{"_CODE": 0x0012}, symtab); err != nil {
		t.Fatalf("Link: %v", err)
	}

	seq := &CodeSequence{
		Bytes:       []byte{0x00, 0x00, 0xFF},
		Relocations: []Relocation{{Kind: IsSymbol | SlotWidthIsTwo | ElementsAreBytes, Index: 1, ByteOffset: 0}},
		Mod:         mod,
	}
	before := len(seq.Bytes)
	if err := Apply(seq, 0, ApplyOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(seq.Bytes) != before-1 {
		t.Fatalf("sequence length = %d, want %d (one byte dropped)", len(seq.Bytes), before-1)
	}
	if seq.Bytes[0] != 0x12 {
		t.Errorf("relaxed byte = %#x, want 0x12", seq.Bytes[0])
	}
	if seq.Bytes[1] != 0xFF {
		t.Errorf("trailing byte = %#x, want unchanged 0xff", seq.Bytes[1])
	}
}

func TestApplyByteElementRelaxationShiftsLaterOffsets(t *testing.T) {
	areaStore := area.NewStore()
	codeArea, _ := areaStore.Make("_CODE", area.InCodeSpace)
	seg := codeArea.MakeSegment("main.rel", 2)

	symtab := symbol.NewTable(true)
	a, _ := symtab.Make("_a", true, 0x01, seg)
	b, _ := symtab.Make("_b", true, 0x02, seg)
	mod := module.New("main", "main.rel")
	mod.AddSymbol(a)
	mod.AddSymbol(b)
	if err := areaStore.Link(map[string]uint16{"_CODE": 0}, symtab); err != nil {
		t.Fatalf("Link: %v", err)
	}

	// relocation 1 collapses original bytes [0,1] down to one kept byte;
	// relocation 2's offset of 2 still names the original, pre-relaxation
	// index, and after compaction that byte lands at position 1.
	seq := &CodeSequence{
		Bytes: []byte{0x00, 0x00, 0x00},
		Relocations: []Relocation{
			{Kind: IsSymbol | SlotWidthIsTwo | ElementsAreBytes, Index: 1, ByteOffset: 0},
			{Kind: IsSymbol, Index: 2, ByteOffset: 2},
		},
		Mod: mod,
	}
	if err := Apply(seq, 0, ApplyOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(seq.Bytes) != 2 {
		t.Fatalf("sequence length = %d, want 2", len(seq.Bytes))
	}
	if seq.Bytes[1] != 0x02 {
		t.Errorf("shifted byte = %#x, want 0x02", seq.Bytes[1])
	}
}

func TestApplyUnsignedByteErrorOnHighByteOverflow(t *testing.T) {
	areaStore := area.NewStore()
	codeArea, _ := areaStore.Make("_CODE", area.InCodeSpace)
	seg := codeArea.MakeSegment("main.rel", 2)

	symtab := symbol.NewTable(true)
	sym, _ := symtab.Make("_target", true, 0x0100, seg)
	mod := module.New("main", "main.rel")
	mod.AddSymbol(sym)
	if err := areaStore.Link(map[string]uint16{"_CODE": 0}, symtab); err != nil {
		t.Fatalf("Link: %v", err)
	}

	seq := &CodeSequence{
		Bytes:       []byte{0x00},
		Relocations: []Relocation{{Kind: IsSymbol, Index: 1, ByteOffset: 0}},
		Mod:         mod,
	}
	if err := Apply(seq, 0, ApplyOptions{}); err == nil {
		t.Fatalf("expected an unsigned-byte error for a one-byte slot with a nonzero high byte")
	}
}

func TestApplyPCRErrorOutOfRange(t *testing.T) {
	areaStore := area.NewStore()
	codeArea, _ := areaStore.Make("_CODE", area.InCodeSpace)
	seg := codeArea.MakeSegment("main.rel", 2)

	symtab := symbol.NewTable(true)
	sym, _ := symtab.Make("_target", true, 0x0200, seg)
	mod := module.New("main", "main.rel")
	mod.AddSymbol(sym)
	if err := areaStore.Link(map[string]uint16{"_CODE": 0}, symtab); err != nil {
		t.Fatalf("Link: %v", err)
	}

	seq := &CodeSequence{
		Bytes:       []byte{0x00},
		Relocations: []Relocation{{Kind: IsSymbol | PCRelative, Index: 1, ByteOffset: 0}},
		Mod:         mod,
	}
	if err := Apply(seq, 0, ApplyOptions{}); err == nil {
		t.Fatalf("expected a PCR error for an out-of-range PC-relative byte slot")
	}
}

func TestApplyTwoByteSlotIsLittleEndian(t *testing.T) {
	areaStore := area.NewStore()
	codeArea, _ := areaStore.Make("_CODE", area.InCodeSpace)
	seg := codeArea.MakeSegment("main.rel", 2)

	symtab := symbol.NewTable(true)
	sym, _ := symtab.Make("_target", true, 0, seg)
	mod := module.New("main", "main.rel")
	mod.AddSymbol(sym)
	if err := areaStore.Link(map[string]uint16{"_CODE": 0x1234}, symtab); err != nil {
		t.Fatalf("Link: %v", err)
	}

	seq := &CodeSequence{
		Bytes:       []byte{0x00, 0x00},
		Relocations: []Relocation{{Kind: IsSymbol | SlotWidthIsTwo, Index: 1, ByteOffset: 0}},
		Mod:         mod,
	}
	if err := Apply(seq, 0, ApplyOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if seq.Bytes[0] != 0x34 || seq.Bytes[1] != 0x12 {
		t.Errorf("patched bytes = %#x %#x, want 0x34 0x12", seq.Bytes[0], seq.Bytes[1])
	}
}
