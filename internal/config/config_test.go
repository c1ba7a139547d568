package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingProjectFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	os.Chdir(dir)

	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Target != "" {
		t.Errorf("expected a zero-value Project, got %+v", p)
	}
}

func TestLoadExplicitProjectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aslink.yaml")
	contents := "target: gbz80\noutputs:\n  - ihx\n  - gb\nareaBases:\n  _CODE: 352\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Target != "gbz80" {
		t.Errorf("Target = %q, want gbz80", p.Target)
	}
	if len(p.Outputs) != 2 || p.Outputs[0] != "ihx" {
		t.Errorf("Outputs = %v", p.Outputs)
	}
	if p.AreaBases["_CODE"] != 352 {
		t.Errorf("AreaBases[_CODE] = %d, want 352", p.AreaBases["_CODE"])
	}
}

func TestLoadBankBases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "banks.cfg")
	contents := "; comment\n_CODE_1=4000\n_CODE_2=8000\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	bases, err := LoadBankBases(path)
	if err != nil {
		t.Fatalf("LoadBankBases: %v", err)
	}
	if bases["_CODE_1"] != 0x4000 {
		t.Errorf("_CODE_1 = %#x, want 0x4000", bases["_CODE_1"])
	}
	if bases["_CODE_2"] != 0x8000 {
		t.Errorf("_CODE_2 = %#x, want 0x8000", bases["_CODE_2"])
	}
}
