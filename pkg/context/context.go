// Package context builds and reads QSIL activation records. A context is
// an ordinary PointerObject whose slots follow one of two fixed schemas;
// this package is the single place that knows those layouts.
package context

import (
	"github.com/hazelqsil/qsil/pkg/memory"
)

// Method context slot indices (spec.md §4.3).
const (
	SlotPC            = 0
	SlotStack         = 1
	SlotReceiver      = 2
	SlotTempVars      = 3
	SlotParentContext = 4
	SlotArgs          = 5
	SlotMethod        = 6

	// MethodContextSlots is the fixed slot count of a method context.
	MethodContextSlots = 7
)

// Block context slots extend the method context layout with three more
// (spec.md §4.3): the same 0..5 plus literals, bytecodes, homeContext.
const (
	SlotBlockLiterals    = 6
	SlotBlockBytecodes   = 7
	SlotBlockHomeContext = 8

	// BlockContextSlots is the fixed slot count of a block context.
	BlockContextSlots = 9
)

// NewMethodContext allocates a fresh method context object bound to mem,
// wired to receiver, method, tempvars, and args, with nil stack,
// parent and pc slots; no stack collection is allocated.
func NewMethodContext(mem *memory.ObjectMemory, receiver, method, tempvars, args memory.Ptr) *memory.Object {
	id := mem.NextID()
	obj := memory.NewPointerObject(id, memory.MethodContextClass, MethodContextSlots)
	obj.Pointers[SlotPC] = memory.Ptr(memory.NilObject)
	obj.Pointers[SlotReceiver] = receiver
	obj.Pointers[SlotTempVars] = tempvars
	obj.Pointers[SlotParentContext] = memory.Ptr(memory.NilObject)
	obj.Pointers[SlotArgs] = args
	obj.Pointers[SlotMethod] = method
	mem.Insert(obj)
	return obj
}

// NewBlockContext allocates a fresh block context sharing its enclosing
// method's tempvars/args by id (never copying them), per spec.md's
// "Context sharing" rule: a block and its home context must observe the
// same temp/arg mutations.
func NewBlockContext(mem *memory.ObjectMemory, home *memory.Object, literals, bytecodes memory.Ptr) *memory.Object {
	id := mem.NextID()
	obj := memory.NewPointerObject(id, memory.BlockContextClass, BlockContextSlots)
	obj.Pointers[SlotPC] = memory.Ptr(memory.NilObject)
	obj.Pointers[SlotReceiver] = home.Pointers[SlotReceiver]
	obj.Pointers[SlotTempVars] = home.Pointers[SlotTempVars]
	obj.Pointers[SlotParentContext] = memory.Ptr(memory.NilObject)
	obj.Pointers[SlotArgs] = home.Pointers[SlotArgs]
	obj.Pointers[SlotBlockLiterals] = literals
	obj.Pointers[SlotBlockBytecodes] = bytecodes
	obj.Pointers[SlotBlockHomeContext] = memory.Ptr(home.ID)
	mem.Insert(obj)
	return obj
}

// IsBlockContext reports whether obj's class is BlockContextClass. The
// interpreter uses this to decide whether END_OF_BLOCK applies: spec.md
// scopes that synthetic bytecode to block contexts specifically, not to
// method contexts that merely share the first six slots.
func IsBlockContext(obj *memory.Object) bool {
	return obj.ClassID == memory.BlockContextClass
}
