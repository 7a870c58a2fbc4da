// Package memory implements the QSIL object memory: a flat store of
// identified, tagged-variant objects addressed by 32-bit id.
package memory

import "fmt"

// ObjectID identifies an object within an ObjectMemory. Id 0 is never a
// valid allocated object id in a well-formed image other than as one of
// the well-known objects below; there is no reserved "nil id" distinct
// from NIL_OBJECT.
type ObjectID uint32

// Well-known object ids. These 19 ids are fixed across the lifetime of
// an image: the garbage collector's id-compaction pass must preserve
// every one of them exactly, remapping only the ids above NumWellKnown.
const (
	ObjectClass ObjectID = iota
	ByteStringClass
	TrueObject
	FalseObject
	NilObject
	CharacterClass
	OrderedCollectionClass
	SymbolClass
	IntegerClass
	ImageSingleton
	ClassClass
	MethodClass
	MethodContextClass
	BlockContextClass
	FloatClass
	TrueClass
	FalseClass
	UndefinedObjectClass
	ImageClass

	// NumWellKnown is the count of fixed, GC-preserved object ids.
	NumWellKnown
)

// Kind tags the shape of an object's storage. Its values are the kind
// tags the image format stores (1, 2, 3).
type Kind int

const (
	// PointerObject's storage is a slice of Ptr values (object
	// references, including super-sentinels).
	PointerObject Kind = iota + 1
	// DirectObject's storage is raw bytes interpreted by convention of
	// its class (an integer, a float, a byte string, a symbol).
	DirectObject
	// DirectPointerObject's storage is a growable slice of Ptr values,
	// held in Pointers like a PointerObject's. QSIL does not use this
	// kind in the base image but the codec and object model carry it;
	// the codec reads and writes only its Pointers.
	DirectPointerObject
)

func (k Kind) String() string {
	switch k {
	case PointerObject:
		return "PointerObject"
	case DirectObject:
		return "DirectObject"
	case DirectPointerObject:
		return "DirectPointerObject"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SuperBase marks the start of the super-sentinel range for Ptr values.
// A Ptr >= SuperBase never names a real object id in any image this
// runtime will load (ids are bounded well below it); instead it encodes
// SuperBase+classID, a transient marker used only during CALL dispatch to
// force the search to start above a given class.
const SuperBase ObjectID = 1 << 31

// Ptr is a value held in a PointerObject's storage slot: either a plain
// object id or a super-sentinel.
type Ptr ObjectID

// IsSuper reports whether p encodes a super-sentinel rather than a plain
// object id.
func (p Ptr) IsSuper() bool { return ObjectID(p) >= SuperBase }

// SuperClass extracts the class id encoded in a super-sentinel Ptr. It
// is only meaningful when IsSuper reports true.
func (p Ptr) SuperClass() ObjectID { return ObjectID(p) - SuperBase }

// MakeSuper builds a super-sentinel Ptr redirecting lookup to start
// above classID.
func MakeSuper(classID ObjectID) Ptr { return Ptr(SuperBase + classID) }

// ID returns p as a plain object id. Callers must check IsSuper first.
func (p Ptr) ID() ObjectID { return ObjectID(p) }

// Object is one entry in the object memory: an id, the class it is an
// instance of, a storage kind, and the storage itself.
type Object struct {
	ID      ObjectID
	ClassID ObjectID
	Kind    Kind

	// Pointers holds PointerObject/DirectPointerObject storage.
	Pointers []Ptr
	// Bytes holds DirectObject storage.
	Bytes []byte
}

// NewPointerObject builds a PointerObject with the given class and an
// initial slot count, all slots initialized to NilObject.
func NewPointerObject(id, classID ObjectID, slotCount int) *Object {
	slots := make([]Ptr, slotCount)
	for i := range slots {
		slots[i] = Ptr(NilObject)
	}
	return &Object{ID: id, ClassID: classID, Kind: PointerObject, Pointers: slots}
}

// NewDirectObject builds a DirectObject wrapping raw bytes.
func NewDirectObject(id, classID ObjectID, bytes []byte) *Object {
	return &Object{ID: id, ClassID: classID, Kind: DirectObject, Bytes: bytes}
}
