package banking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/symbol"
)

type fakeBanks map[string]int

func (f fakeBanks) BankOf(areaName string) (int, bool) {
	b, ok := f[areaName]
	return b, ok
}

type fakeCodegen struct{}

func (fakeCodegen) JumpLabelBytes(bank int) ([]byte, string) {
	return []byte{0x00, 0x00}, fmt.Sprintf("__bankjump_%d", bank)
}
func (fakeCodegen) TrampolineBytes() ([]byte, int, int) {
	return []byte{0x21, 0x00, 0x00, 0xC3, 0x00, 0x00}, 1, 4
}
func (fakeCodegen) TrampolineAreaName() string { return "_HOME" }

func TestRewriteSplitsCrossBankCallOnly(t *testing.T) {
	areaStore := area.NewStore()
	bank1Area, _ := areaStore.Make("_CODE_1", area.InCodeSpace)
	bank2Area, _ := areaStore.Make("_CODE_2", area.InCodeSpace)
	callerSeg := bank1Area.MakeSegment("caller.rel", 4)
	targetSeg := bank2Area.MakeSegment("callee.rel", 4)
	localSeg := bank1Area.MakeSegment("local.rel", 2)

	symtab := symbol.NewTable(true)
	target, _ := symtab.Make("_farFunc", true, 0, targetSeg)
	local, _ := symtab.Make("_nearFunc", true, 0, localSeg)

	banks := fakeBanks{"_CODE_1": 1, "_CODE_2": 2}

	calls := []Call{
		{CallerSegment: callerSeg, TargetSymbol: target},
		{CallerSegment: callerSeg, TargetSymbol: local},
	}

	plan, err := Rewrite(banks, fakeCodegen{}, symtab, calls)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(plan.Rewrites) != 1 {
		t.Fatalf("expected exactly one rewrite (the cross-bank call), got %d", len(plan.Rewrites))
	}
	if plan.Rewrites[0].Original.Name() != "_farFunc" {
		t.Errorf("rewrote %s, want _farFunc", plan.Rewrites[0].Original.Name())
	}
	if !target.Flags.Has(symbol.Surrogate) {
		t.Errorf("original symbol not marked Surrogate after split")
	}
	if !strings.Contains(plan.StubSource, "_farFunc") {
		t.Errorf("stub source missing the surrogate's original name: %q", plan.StubSource)
	}
	if local.Flags.Has(symbol.Surrogate) {
		t.Errorf("same-bank call should not have been rewritten")
	}
}

func TestRewriteHandlesRepeatedCallsOnce(t *testing.T) {
	areaStore := area.NewStore()
	bank1Area, _ := areaStore.Make("_CODE_1", area.InCodeSpace)
	bank2Area, _ := areaStore.Make("_CODE_2", area.InCodeSpace)
	callerSeg := bank1Area.MakeSegment("caller.rel", 4)
	targetSeg := bank2Area.MakeSegment("callee.rel", 4)

	symtab := symbol.NewTable(true)
	target, _ := symtab.Make("_farFunc", true, 0, targetSeg)

	banks := fakeBanks{"_CODE_1": 1, "_CODE_2": 2}
	calls := []Call{
		{CallerSegment: callerSeg, TargetSymbol: target},
		{CallerSegment: callerSeg, TargetSymbol: target},
	}

	plan, err := Rewrite(banks, fakeCodegen{}, symtab, calls)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(plan.Rewrites) != 1 {
		t.Fatalf("expected the repeated call to be split only once, got %d rewrites", len(plan.Rewrites))
	}
}

func TestRewriteSharesOneJumpLabelPerBank(t *testing.T) {
	areaStore := area.NewStore()
	bank1Area, _ := areaStore.Make("_CODE_1", area.InCodeSpace)
	bank2Area, _ := areaStore.Make("_CODE_2", area.InCodeSpace)
	callerSeg := bank1Area.MakeSegment("caller.rel", 4)
	targetSeg := bank2Area.MakeSegment("callee.rel", 4)

	symtab := symbol.NewTable(true)
	first, _ := symtab.Make("_farFuncA", true, 0, targetSeg)
	second, _ := symtab.Make("_farFuncB", true, 2, targetSeg)

	banks := fakeBanks{"_CODE_1": 1, "_CODE_2": 2}
	calls := []Call{
		{CallerSegment: callerSeg, TargetSymbol: first},
		{CallerSegment: callerSeg, TargetSymbol: second},
	}

	plan, err := Rewrite(banks, fakeCodegen{}, symtab, calls)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(plan.Rewrites) != 2 {
		t.Fatalf("expected two rewrites (one per distinct symbol), got %d", len(plan.Rewrites))
	}

	labelName := fmt.Sprintf("S __bankjump_%d Def", 2)
	if n := strings.Count(plan.StubSource, labelName); n != 1 {
		t.Errorf("expected exactly one jump-label definition for bank 2, found %d: %q", n, plan.StubSource)
	}
	if n := strings.Count(plan.StubSource, "R "); n != 4 {
		t.Errorf("expected two relocations per entry (4 total), found %d: %q", n, plan.StubSource)
	}
}
