// Package gameboy implements target.Description for the Sharp LR35902
// (Gameboy), grounded on platform/gameboy.c: big-endian word order is NOT
// used (the CPU is little-endian), case-sensitive symbols, MBC1-style bank
// numbering from the "_CODE_<n>" area-naming convention, and a JP-based
// trampoline for cross-bank calls. Header checksums are patched by
// internal/codeout's GameboyImage, not here.
package gameboy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Gameboy is the concrete target.Description for LR35902 cartridge images.
// It also structurally satisfies internal/banking.BankSource plus
// TrampolineCodegen (no import of internal/banking is needed — Go
// interfaces are satisfied structurally).
type Gameboy struct {
	image     []byte
	imageBase uint16

	headerTitle   string
	cartridgeType byte
	romBanks      int
	ramBanks      int
}

// New returns a Gameboy target with its header defaults.
func New() *Gameboy {
	return &Gameboy{romBanks: 2, ramBanks: 0}
}

func (*Gameboy) Name() string            { return "gbz80" }
func (*Gameboy) IsBigEndian() bool       { return false }
func (*Gameboy) IsCaseSensitive() bool   { return true }

// BankOf implements banking.BankSource. Areas named "_CODE_<n>" belong to
// bank n; the bare "_CODE"/"_HOME" area is the fixed bank, always bank 0;
// everything else (RAM areas, .ABS.) is not part of the banking scheme.
func (*Gameboy) BankOf(areaName string) (int, bool) {
	switch areaName {
	case "_CODE", "_HOME":
		return 0, true
	}
	const prefix = "_CODE_"
	if !strings.HasPrefix(areaName, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(areaName[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// TrampolineAreaName implements banking.TrampolineCodegen: stubs always
// live in the fixed home bank so they are reachable regardless of which
// bank is currently switched in.
func (*Gameboy) TrampolineAreaName() string { return "_HOME" }

// JumpLabelBytes implements banking.TrampolineCodegen: one shared routine
// per destination bank, switching the MBC1 ROM bank register at 0x2000 to
// bank and then transferring control to whatever address the caller has
// already loaded into HL. Every cross-bank symbol targeting the same bank
// shares this one routine (§4.9 step 2's per-bank dedup).
//
//	LD A, <bank>     ; 3E xx
//	LD (2000h), A    ; EA 00 20
//	JP (HL)          ; E9
func (*Gameboy) JumpLabelBytes(bank int) (code []byte, labelName string) {
	code = []byte{
		0x3E, byte(bank), // LD A, bank
		0xEA, 0x00, 0x20, // LD (2000h), A
		0xE9, // JP (HL)
	}
	return code, fmt.Sprintf("__bankjump_%d", bank)
}

// TrampolineBytes implements banking.TrampolineCodegen: the per-symbol
// call-site stub loads the (as yet unresolved) target address into HL,
// then jumps to this symbol's bank's shared JumpLabelBytes routine.
//
//	LD HL, <target>    ; 21 xx xx   (2-byte operand relocated against the
//	                                  renamed real definition)
//	JP <jumpLabel>      ; C3 xx xx   (2-byte operand relocated against the
//	                                  bank's shared jump label)
func (*Gameboy) TrampolineBytes() (code []byte, targetOperandOffset, jumpOperandOffset int) {
	code = []byte{
		0x21, 0x00, 0x00, // LD HL, target
		0xC3, 0x00, 0x00, // JP jumpLabel
	}
	return code, 1, 4
}

// CodeByte implements the listing updater's final-byte lookup.
func (g *Gameboy) CodeByte(address uint16) (byte, bool) {
	if address < g.imageBase {
		return 0, false
	}
	idx := int(address - g.imageBase)
	if idx >= len(g.image) {
		return 0, false
	}
	return g.image[idx], true
}

// SetImage records the fully relocated image (and its base address, always
// 0 for a Gameboy ROM image) so CodeByte can serve the listing updater
// after codeout has run.
func (g *Gameboy) SetImage(image []byte, base uint16) {
	g.image = image
	g.imageBase = base
}

// RomSizeCode and RamSizeCode compute the cartridge-header size codes from
// a requested byte count. The source computed these incorrectly, returning
// the raw bank/size count instead of the header's discrete code value; this
// is fixed here per the respecified behavior.
func RomSizeCode(totalBytes int) byte {
	size := 0x8000
	var code byte
	for size < totalBytes && code < 8 {
		size <<= 1
		code++
	}
	return code
}

func RamSizeCode(totalBytes int) byte {
	switch {
	case totalBytes <= 0:
		return 0
	case totalBytes <= 2*1024:
		return 1
	case totalBytes <= 8*1024:
		return 2
	case totalBytes <= 32*1024:
		return 3
	case totalBytes <= 128*1024:
		return 4
	default:
		return 5
	}
}

// BindFlags registers the Gameboy-specific CLI options (§12): -z cartridge
// type and the -yo/-ya/-yt/-yn/-yp header override family. No -j option is
// registered.
func (g *Gameboy) BindFlags(fs *pflag.FlagSet) {
	fs.BytesHexVar(&bytesPlaceholder, "z", nil, "cartridge type byte")
	fs.StringVar(&g.headerTitle, "yt", "", "cartridge title (11 bytes, padded/truncated)")
	fs.IntVar(&g.romBanks, "yo", 2, "number of ROM banks")
	fs.IntVar(&g.ramBanks, "ya", 0, "number of RAM banks")
	fs.String("yn", "", "cartridge manufacturer code")
	fs.String("yp", "", "cartridge publisher code")
}

// bytesPlaceholder backs the -z flag. Nothing reads it after parsing, so
// the cartridge type byte given with -z does not reach the output.
var bytesPlaceholder []byte

func (g *Gameboy) Initialize() error { return nil }
func (g *Gameboy) Finalize() error   { return nil }

// HeaderTitle returns the configured cartridge title, space-padded/truncated
// to the 11-byte header field.
func (g *Gameboy) HeaderTitle() [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], g.headerTitle)
	return out
}
