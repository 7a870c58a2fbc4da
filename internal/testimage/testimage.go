// Package testimage builds minimal, well-formed QSIL object memories
// for use in tests: the 19 well-known objects wired up the way a real
// bootstrapped image would be, plus helpers to add user classes and
// methods on top.
package testimage

import (
	"github.com/hazelqsil/qsil/pkg/class"
	qctx "github.com/hazelqsil/qsil/pkg/context"
	"github.com/hazelqsil/qsil/pkg/memory"
)

// Bootstrap returns a fresh ObjectMemory containing the 19 well-known
// objects plus the name strings and empty collections their class slots
// point at, each internally consistent with the invariants of
// spec.md §3: every class_id resolves to a CLASS_CLASS instance, every
// class's superclass chain terminates at ObjectClass (self-referential),
// and the singleton value objects (true/false/nil) are instances of
// their respective classes.
func Bootstrap() *memory.ObjectMemory {
	mem := memory.New()

	classOf := func(id, superclass memory.ObjectID, name string) {
		obj := memory.NewPointerObject(id, memory.ClassClass, class.ClassSlots)
		obj.Pointers[class.ClassSlotType] = memory.Ptr(memory.NilObject)
		obj.Pointers[class.ClassSlotName] = newBytes(mem, memory.ByteStringClass, name)
		obj.Pointers[class.ClassSlotSuperclass] = memory.Ptr(superclass)
		obj.Pointers[class.ClassSlotInstVarNames] = emptyCollection(mem)
		obj.Pointers[class.ClassSlotClassVarNames] = emptyCollection(mem)
		obj.Pointers[class.ClassSlotMethods] = emptyCollection(mem)
		mem.Insert(obj)
	}

	// ObjectClass is self-referential: its own superclass slot points
	// back to itself, the permitted cycle spec.md's design notes call
	// out explicitly.
	classOf(memory.ObjectClass, memory.ObjectClass, "Object")
	classOf(memory.ByteStringClass, memory.ObjectClass, "ByteString")
	classOf(memory.CharacterClass, memory.ObjectClass, "Character")
	classOf(memory.OrderedCollectionClass, memory.ObjectClass, "OrderedCollection")
	classOf(memory.SymbolClass, memory.ByteStringClass, "Symbol")
	classOf(memory.IntegerClass, memory.ObjectClass, "Integer")
	classOf(memory.ClassClass, memory.ObjectClass, "Class")
	classOf(memory.MethodClass, memory.ObjectClass, "Method")
	classOf(memory.MethodContextClass, memory.ObjectClass, "MethodContext")
	classOf(memory.BlockContextClass, memory.MethodContextClass, "BlockContext")
	classOf(memory.FloatClass, memory.ObjectClass, "Float")
	classOf(memory.TrueClass, memory.ObjectClass, "True")
	classOf(memory.FalseClass, memory.ObjectClass, "False")
	classOf(memory.UndefinedObjectClass, memory.ObjectClass, "UndefinedObject")
	classOf(memory.ImageClass, memory.ObjectClass, "Image")

	mem.Insert(memory.NewPointerObject(memory.TrueObject, memory.TrueClass, 0))
	mem.Insert(memory.NewPointerObject(memory.FalseObject, memory.FalseClass, 0))
	mem.Insert(memory.NewPointerObject(memory.NilObject, memory.UndefinedObjectClass, 0))
	mem.Insert(memory.NewPointerObject(memory.ImageSingleton, memory.ImageClass, 0))

	return mem
}

func newBytes(mem *memory.ObjectMemory, classID memory.ObjectID, s string) memory.Ptr {
	id := mem.NextID()
	obj := memory.NewByteString(id, classID, []byte(s))
	mem.Insert(obj)
	return memory.Ptr(id)
}

func emptyCollection(mem *memory.ObjectMemory) memory.Ptr {
	obj := qctx.NewOrderedCollection(mem, 0)
	return memory.Ptr(obj.ID)
}

// NewClass allocates a user class under superclass, with the given
// instance variable names, and returns its object.
func NewClass(mem *memory.ObjectMemory, name string, superclass memory.Ptr, instVarNames []string) *memory.Object {
	id := mem.NextID()
	obj := memory.NewPointerObject(id, memory.ClassClass, class.ClassSlots)
	mem.Insert(obj)
	obj.Pointers[class.ClassSlotType] = memory.Ptr(memory.NilObject)
	obj.Pointers[class.ClassSlotName] = newBytes(mem, memory.ByteStringClass, name)
	obj.Pointers[class.ClassSlotSuperclass] = superclass
	obj.Pointers[class.ClassSlotInstVarNames] = namesCollection(mem, instVarNames)
	obj.Pointers[class.ClassSlotClassVarNames] = emptyCollection(mem)
	obj.Pointers[class.ClassSlotMethods] = emptyCollection(mem)
	return obj
}

func namesCollection(mem *memory.ObjectMemory, names []string) memory.Ptr {
	coll := qctx.NewOrderedCollection(mem, 0)
	for _, n := range names {
		qctx.Push(coll, newBytes(mem, memory.ByteStringClass, n))
	}
	return memory.Ptr(coll.ID)
}

// AddMethod builds a method object on cls with the given selector,
// visibility, arg/temp counts, literal pointers, and raw bytecode, and
// appends it to the class's method collection.
func AddMethod(mem *memory.ObjectMemory, cls *memory.Object, selector string, visibility class.Visibility, numArgs, numTemps int, literals []memory.Ptr, bytecodes []byte) *memory.Object {
	id := mem.NextID()
	obj := memory.NewPointerObject(id, memory.MethodClass, class.MethodSlots)
	mem.Insert(obj)
	obj.Pointers[class.MethodSlotName] = newSymbol(mem, selector)
	obj.Pointers[class.MethodSlotVisibility] = newInt(mem, int32(visibility))
	obj.Pointers[class.MethodSlotArgs] = newInt(mem, int32(numArgs))
	obj.Pointers[class.MethodSlotBytecodes] = newBytes(mem, memory.ByteStringClass, string(bytecodes))
	obj.Pointers[class.MethodSlotLiterals] = newLiteralsCollection(mem, literals)
	obj.Pointers[class.MethodSlotNumTemps] = newInt(mem, int32(numTemps))
	obj.Pointers[class.MethodSlotClass] = memory.Ptr(cls.ID)

	methodsObj, _ := mem.Deref(class.Methods(cls))
	qctx.Push(methodsObj, memory.Ptr(obj.ID))

	return obj
}

func newSymbol(mem *memory.ObjectMemory, s string) memory.Ptr {
	return newBytes(mem, memory.SymbolClass, s)
}

func newInt(mem *memory.ObjectMemory, v int32) memory.Ptr {
	id := mem.NextID()
	obj := memory.NewInteger(id, v)
	mem.Insert(obj)
	return memory.Ptr(id)
}

func newLiteralsCollection(mem *memory.ObjectMemory, literals []memory.Ptr) memory.Ptr {
	coll := qctx.NewOrderedCollection(mem, 0)
	coll.Pointers = append(coll.Pointers, literals...)
	return memory.Ptr(coll.ID)
}

// NewInt is the exported form of newInt, for tests that need to box a
// literal integer directly.
func NewInt(mem *memory.ObjectMemory, v int32) memory.Ptr { return newInt(mem, v) }

// NewSymbol is the exported form of newSymbol, for tests that need to box
// a selector literal directly.
func NewSymbol(mem *memory.ObjectMemory, s string) memory.Ptr { return newSymbol(mem, s) }
