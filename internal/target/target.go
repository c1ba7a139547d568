// Package target defines the target-description seam (§4.12): every
// processor-specific behavior the rest of the linker needs — endianness,
// symbol case sensitivity, bank assignment, trampoline code generation, the
// listing updater's code-byte lookup and the target's own CLI options — is
// gathered behind one Description interface, grounded on the source's
// Target_Type vtable but expressed as a Go interface instead of a function
// pointer struct.
package target

import "github.com/spf13/pflag"

// Description is implemented once per supported processor (currently only
// internal/target/gameboy). internal/linker holds a single Description and
// never branches on processor identity directly.
type Description interface {
	Name() string

	IsBigEndian() bool
	IsCaseSensitive() bool

	// BankOf reports the ROM bank an area name belongs to, or ok=false when
	// the area is not part of the banking scheme (e.g. RAM areas, or a
	// target with no banking concept at all).
	BankOf(areaName string) (bank int, ok bool)

	// JumpLabelBytes, TrampolineBytes and TrampolineAreaName implement the
	// cross-bank call stub codegen hooks consumed by internal/banking.
	// JumpLabelBytes is the shared per-bank bank-switch-and-indirect-jump
	// routine (one definition per destination bank); TrampolineBytes is the
	// per-symbol call-site stub that loads the target address and jumps to
	// that routine. The returned offsets locate the 2-byte operand slots so
	// the caller can emit relocations against them.
	JumpLabelBytes(bank int) (code []byte, labelName string)
	TrampolineBytes() (code []byte, targetOperandOffset, jumpOperandOffset int)
	TrampolineAreaName() string

	// CodeByte returns the final byte at address once the image has been
	// fully laid out and relocated, for internal/listing's .lst → .rst
	// patch-in-place pass. ok is false if address lies outside the image.
	CodeByte(address uint16) (b byte, ok bool)

	// BindFlags registers this target's own command-line options (e.g. the
	// Gameboy's -yo/-ya/-yt/-yn/-yp cartridge-header overrides) onto the
	// CLI's flag set.
	BindFlags(fs *pflag.FlagSet)

	// Initialize and Finalize bracket a link: Initialize runs once flags are
	// parsed and before any input is read; Finalize runs after every output
	// has been written.
	Initialize() error
	Finalize() error
}

// Registry maps target names (as selected by e.g. "-t gbz80") to a factory
// function, so cmd/aslink can support more than one Description without
// internal/linker knowing their concrete types.
type Registry struct {
	factories map[string]func() Description
	order     []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Description)}
}

// Register adds a target under name.
func (r *Registry) Register(name string, factory func() Description) {
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = factory
}

// New constructs the named target, or nil if unregistered.
func (r *Registry) New(name string) Description {
	factory, ok := r.factories[name]
	if !ok {
		return nil
	}
	return factory()
}

// Names returns every registered target name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
