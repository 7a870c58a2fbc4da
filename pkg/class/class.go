// Package class defines the slot layout of Class and Method objects and
// the visibility bitfield, and provides small accessors over the raw
// memory.Object representation.
//
// spec.md names the fields a Class/Method object carries but, unlike the
// context schemas, does not fix their slot numbers. The indices below are
// this implementation's own choice, made once here so every other package
// reads through these accessors instead of indexing storage by hand.
package class

import "github.com/hazelqsil/qsil/pkg/memory"

// Class object slots.
const (
	ClassSlotType           = 0 // symbol, e.g. "subclass:"
	ClassSlotName           = 1 // byte string
	ClassSlotSuperclass     = 2 // pointer; self-referential for the root class
	ClassSlotInstVarNames   = 3 // OrderedCollection of byte strings
	ClassSlotClassVarNames  = 4 // OrderedCollection of byte strings
	ClassSlotMethods        = 5 // OrderedCollection of Method pointers

	ClassSlots = 6
)

// Method object slots.
const (
	MethodSlotName      = 0 // symbol
	MethodSlotVisibility = 1 // integer bitfield, see Visibility below
	MethodSlotArgs       = 2 // integer arg count
	MethodSlotBytecodes  = 3 // byte string
	MethodSlotLiterals   = 4 // OrderedCollection
	MethodSlotNumTemps   = 5 // integer
	MethodSlotClass      = 6 // pointer to owning class

	MethodSlots = 7
)

// Visibility is the three-bit access-control field on a method.
type Visibility int

const (
	// Private blocks subclass access (bit 2).
	Private Visibility = 0b100
	// Protected blocks non-subclass access (bit 1).
	Protected Visibility = 0b010
	// Static marks the method as a class-side (static) method (bit 0).
	Static Visibility = 0b001
)

func (v Visibility) IsPrivate() bool   { return v&Private != 0 }
func (v Visibility) IsProtected() bool { return v&Protected != 0 }
func (v Visibility) IsStatic() bool    { return v&Static != 0 }

// Superclass returns the class's superclass pointer. The root class is
// self-referential: callers must stop walking on observing ObjectClass's
// id, never by detecting a repeated pointer value, per spec.md's "permitted
// cycle" design note.
func Superclass(cls *memory.Object) memory.Ptr {
	return cls.Pointers[ClassSlotSuperclass]
}

// Methods returns the class's own (non-inherited) method collection
// pointer.
func Methods(cls *memory.Object) memory.Ptr {
	return cls.Pointers[ClassSlotMethods]
}

// MethodName returns a method object's methodName slot.
func MethodName(m *memory.Object) memory.Ptr {
	return m.Pointers[MethodSlotName]
}

// VisibilityOf reads a method's visibility bitfield out of its
// visibility slot, which stores a direct integer object.
func VisibilityOf(m *memory.Object, mem *memory.ObjectMemory) (Visibility, error) {
	visObj, err := mem.Deref(m.Pointers[MethodSlotVisibility])
	if err != nil {
		return 0, err
	}
	raw, err := memory.IntValue(visObj)
	if err != nil {
		return 0, err
	}
	return Visibility(raw), nil
}

// OwningClass returns the class a method is defined on.
func OwningClass(m *memory.Object) memory.Ptr {
	return m.Pointers[MethodSlotClass]
}

// TotalInstVarCount returns the number of instance variables a class's
// instances carry, transitively including every superclass's own
// instVarNames, up through and including ObjectClass (spec.md §3: "a
// POINTER_OBJECT's storage length equals the count of instance
// variables inherited by its class (transitive)").
func TotalInstVarCount(mem *memory.ObjectMemory, classPtr memory.Ptr) (int, error) {
	total := 0
	curr := classPtr
	for {
		classObj, err := mem.Deref(curr)
		if err != nil {
			return 0, err
		}
		namesObj, err := mem.Deref(classObj.Pointers[ClassSlotInstVarNames])
		if err != nil {
			return 0, err
		}
		total += len(namesObj.Pointers)
		if classObj.ID == memory.ObjectClass {
			break
		}
		curr = Superclass(classObj)
	}
	return total, nil
}

// SelectorMatches reports whether method m's methodName slot holds a
// symbol equal to selector.
func SelectorMatches(mem *memory.ObjectMemory, m *memory.Object, selector []byte) (bool, error) {
	nameObj, err := mem.Deref(MethodName(m))
	if err != nil {
		return false, err
	}
	name, err := memory.BytesValue(nameObj)
	if err != nil {
		return false, err
	}
	return string(name) == string(selector), nil
}
