package context

import (
	"github.com/hazelqsil/qsil/pkg/memory"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// NewOrderedCollection allocates a growable collection object holding
// size nil slots, the representation used for a context's evaluation
// stack, its tempvars, and its args.
func NewOrderedCollection(mem *memory.ObjectMemory, size int) *memory.Object {
	id := mem.NextID()
	obj := memory.NewPointerObject(id, memory.OrderedCollectionClass, size)
	mem.Insert(obj)
	return obj
}

// Push appends v to the growable collection stack.
func Push(stack *memory.Object, v memory.Ptr) {
	stack.Pointers = append(stack.Pointers, v)
}

// PopValue removes and returns the top of stack, raising StackUnderflow if
// it is empty. pos is attached to the error for diagnostics.
func PopValue(stack *memory.Object, pos vmerr.Position) (memory.Ptr, error) {
	n := len(stack.Pointers)
	if n == 0 {
		return 0, vmerr.New(vmerr.StackUnderflow, pos, "pop from empty stack")
	}
	v := stack.Pointers[n-1]
	stack.Pointers = stack.Pointers[:n-1]
	return v, nil
}

// Peek returns the top of stack without removing it.
func Peek(stack *memory.Object, pos vmerr.Position) (memory.Ptr, error) {
	n := len(stack.Pointers)
	if n == 0 {
		return 0, vmerr.New(vmerr.StackUnderflow, pos, "peek on empty stack")
	}
	return stack.Pointers[n-1], nil
}

// At returns the element at index, raising IndexOutOfRange if index is
// beyond the current length. Unlike SetAt, a read never grows the
// collection (spec.md §7's INDEX_OUT_OF_RANGE trigger: "tempvar index
// exceeds container").
func At(coll *memory.Object, index int, pos vmerr.Position) (memory.Ptr, error) {
	if index < 0 {
		return 0, vmerr.New(vmerr.IndexOutOfRange, pos, "negative index %d", index)
	}
	if index >= len(coll.Pointers) {
		return 0, vmerr.New(vmerr.IndexOutOfRange, pos, "index %d out of range (len %d)", index, len(coll.Pointers))
	}
	return coll.Pointers[index], nil
}

// SetAt writes v at index, growing coll with nil slots if index lands
// past its current length (spec.md §9's "temp slot auto-grow on write").
func SetAt(coll *memory.Object, index int, v memory.Ptr) {
	for index >= len(coll.Pointers) {
		coll.Pointers = append(coll.Pointers, memory.Ptr(memory.NilObject))
	}
	coll.Pointers[index] = v
}
