// Package banking implements the cross-bank call rewriter (§4.9): detect a
// call whose target symbol lives in a different ROM bank than the call
// site, split that symbol into an undefined surrogate plus a renamed true
// definition, and synthesize an in-memory trampoline stub module that the
// driver re-feeds through the parser so the surrogate becomes defined again
// by the stub.
package banking

import (
	"fmt"
	"strings"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/reloc"
	"github.com/kattkieru/aslink-gb/internal/symbol"
)

// BankSource maps an area name to the bank number it was assigned, per
// target.Description.GetBankFromSegmentName. Areas not part of the banking
// scheme (ok == false) are never bank-rewrite candidates.
type BankSource interface {
	BankOf(areaName string) (bank int, ok bool)
}

// TrampolineCodegen emits the two kinds of code Rewrite assembles into one
// stub module, and names the area they are linked into (conventionally the
// fixed home bank, always mapped in). §4.9 step 2 requires a per-bank
// dedup: every symbol crossing into the same bank shares one JumpLabelBytes
// routine, so only the per-symbol TrampolineBytes stub is repeated per call.
type TrampolineCodegen interface {
	TrampolineAreaName() string

	// JumpLabelBytes returns the shared bank-switch-and-indirect-jump
	// routine for bank, and the name Rewrite defines it under in the
	// synthesized stub (one definition per distinct destination bank).
	JumpLabelBytes(bank int) (code []byte, labelName string)

	// TrampolineBytes returns one per-symbol call-site stub: it must load
	// the eventual target address and then transfer control to the shared
	// per-bank jump label. targetOperandOffset/jumpOperandOffset locate
	// the two 2-byte slots Rewrite relocates: the first against the
	// renamed real definition, the second against that bank's
	// JumpLabelBytes symbol.
	TrampolineBytes() (code []byte, targetOperandOffset, jumpOperandOffset int)
}

// Call is one call site the driver's pass-1 scan identified: a relocation
// in CallerSegment whose target is TargetSymbol.
type Call struct {
	CallerSegment *area.Segment
	TargetSymbol  *symbol.Symbol
}

// Split is a record of one symbol split, kept for diagnostics and so the
// driver can recognize it already handled a given original name.
type Split struct {
	Original     *symbol.Symbol // unchanged identity; now the undefined surrogate
	Definition   *symbol.Symbol // the renamed true definition, in its original bank
	StubAreaName string
}

// Plan is the result of one Rewrite pass: every symbol split performed,
// plus the concatenated textual object source for every stub module
// synthesized, ready for the driver to re-parse as additional input.
type Plan struct {
	Rewrites  []Split
	StubSource string
}

// entry is one cross-bank call after its target symbol has been split.
type entry struct {
	originalName  string
	surrogateName string
	bank          int
}

// Rewrite implements Banking_rewriteCrossBankCalls (§4.9). For every call
// whose target crosses a bank boundary and has not already been rewritten,
// it performs a rename-swap split on the target symbol and queues a
// per-symbol trampoline. Calls targeting an undefined or absolute
// (bank-less) symbol are left untouched — bank membership can only be
// decided once the symbol is known to be defined in a real segment. Every
// entry sharing a destination bank shares one jump-label routine (§4.9
// step 2, §8 scenario 5): all queued entries and jump labels are written
// into a single synthetic stub module once call collection is complete.
func Rewrite(bank BankSource, codegen TrampolineCodegen, symtab *symbol.Table, calls []Call) (*Plan, error) {
	plan := &Plan{}
	handled := make(map[string]bool)
	var entries []entry
	var bankOrder []int
	seenBank := make(map[int]bool)

	for _, call := range calls {
		targetSeg := call.TargetSymbol.DefiningSegment
		if targetSeg == nil {
			continue
		}

		callerBank, _ := bank.BankOf(call.CallerSegment.Area().Name())
		targetBank, ok := bank.BankOf(targetSeg.Name())
		if !ok || targetBank == callerBank {
			continue
		}

		originalName := call.TargetSymbol.Name()
		if handled[originalName] {
			continue
		}
		handled[originalName] = true

		surrogateName := "b_" + originalName
		definition, err := symtab.MakeBySplit(call.TargetSymbol, surrogateName)
		if err != nil {
			return nil, fmt.Errorf("banking rewrite of %s: %w", originalName, err)
		}

		if !seenBank[targetBank] {
			seenBank[targetBank] = true
			bankOrder = append(bankOrder, targetBank)
		}
		entries = append(entries, entry{originalName: originalName, surrogateName: surrogateName, bank: targetBank})

		plan.Rewrites = append(plan.Rewrites, Split{
			Original:     call.TargetSymbol,
			Definition:   definition,
			StubAreaName: codegen.TrampolineAreaName(),
		})
	}

	if len(entries) > 0 {
		plan.StubSource = writeStubModule(codegen, bankOrder, entries)
	}
	return plan, nil
}

// writeStubModule emits one synthetic module's textual source: a single
// area/segment holding, in order, one JumpLabelBytes routine per distinct
// destination bank in bankOrder followed by one TrampolineBytes call-site
// stub per entry. Each jump label is defined once and referenced by every
// entry targeting its bank (the §4.9 step 2 dedup); each entry defines
// originalName at its stub's start offset (re-legitimizing the surrogate,
// since this stub is what the driver re-parses in its place) and carries
// two relocations: its loaded-target operand against the renamed real
// definition, and its jump operand against the shared bank label. This is
// a synthetic dialect private to the banking rewriter and its own
// re-parse, not the on-disk object grammar — it need only agree with
// itself.
func writeStubModule(codegen TrampolineCodegen, bankOrder []int, entries []entry) string {
	var b strings.Builder

	labelName := make(map[int]string, len(bankOrder))
	labelCode := make(map[int][]byte, len(bankOrder))
	for _, bk := range bankOrder {
		code, name := codegen.JumpLabelBytes(bk)
		labelName[bk] = name
		labelCode[bk] = code
	}

	areaSize := 0
	for _, code := range labelCode {
		areaSize += len(code)
	}
	entryCode := make([][]byte, len(entries))
	entryTargetOffset := make([]int, len(entries))
	entryJumpOffset := make([]int, len(entries))
	for i := range entries {
		code, targetOffset, jumpOffset := codegen.TrampolineBytes()
		entryCode[i] = code
		entryTargetOffset[i] = targetOffset
		entryJumpOffset[i] = jumpOffset
		areaSize += len(code)
	}

	fmt.Fprintf(&b, "H 2 areas %X global symbols\n", len(bankOrder)+2*len(entries))
	b.WriteString("M __bank_stub\n")
	fmt.Fprintf(&b, "A %s size %X flags 0\n", codegen.TrampolineAreaName(), areaSize)

	labelOrdinal := make(map[int]int, len(bankOrder))
	labelOffset := make(map[int]int, len(bankOrder))
	ordinal, offset := 0, 0
	for _, bk := range bankOrder {
		ordinal++
		labelOrdinal[bk] = ordinal
		labelOffset[bk] = offset
		fmt.Fprintf(&b, "S %s Def%04X\n", labelName[bk], offset)
		offset += len(labelCode[bk])
	}

	entryOrdinal := make([]int, len(entries))
	entryOffset := make([]int, len(entries))
	for i, e := range entries {
		ordinal++
		entryOrdinal[i] = ordinal
		entryOffset[i] = offset
		fmt.Fprintf(&b, "S %s Def%04X\n", e.originalName, offset)
		ordinal++
		fmt.Fprintf(&b, "S %s Ref0000\n", e.surrogateName)
		offset += len(entryCode[i])
	}

	b.WriteString("T 00 00")
	for _, bk := range bankOrder {
		for _, by := range labelCode[bk] {
			fmt.Fprintf(&b, " %02X", by)
		}
	}
	for _, code := range entryCode {
		for _, by := range code {
			fmt.Fprintf(&b, " %02X", by)
		}
	}
	b.WriteString("\n")

	kind := reloc.IsSymbol | reloc.SlotWidthIsTwo
	for i, e := range entries {
		// Surrogate ordinal is the second of this entry's two S lines.
		surrogateOrdinal := entryOrdinal[i] + 1
		fmt.Fprintf(&b, "R %02X %02X %02X\n", entryOffset[i]+entryTargetOffset[i], surrogateOrdinal, kind.Encode())
		fmt.Fprintf(&b, "R %02X %02X %02X\n", entryOffset[i]+entryJumpOffset[i], labelOrdinal[e.bank], kind.Encode())
	}

	return b.String()
}
