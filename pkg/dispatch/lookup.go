// Package dispatch implements QSIL method lookup: walking a class's
// superclass chain to resolve a selector to a method, honoring the
// visibility bitfield.
package dispatch

import (
	"github.com/hazelqsil/qsil/pkg/class"
	"github.com/hazelqsil/qsil/pkg/memory"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// Flags carries the search-admission rule computed from how CALL was
// invoked (spec.md §4.5 step 5).
type Flags struct {
	// StaticOnly restricts admission to methods whose visibility has
	// exactly the Static bit set and no others.
	StaticOnly bool
	// AdmitProtectedPrivate additionally admits Protected/Private
	// methods; only meaningful when StaticOnly is false. Set when the
	// currently executing method's owning class equals the receiver's
	// class.
	AdmitProtectedPrivate bool
}

// Admits reports whether a method with visibility v is admissible under
// f, per spec.md §4.5 step 6's predicate.
func (f Flags) Admits(v class.Visibility) bool {
	if f.StaticOnly {
		return v == class.Static
	}
	if v.IsStatic() {
		return false
	}
	if v.IsPrivate() || v.IsProtected() {
		return f.AdmitProtectedPrivate
	}
	return true
}

// Result is a successful lookup: the method found and the class it was
// found on (which may differ from the search-start class when the
// method was inherited).
type Result struct {
	Method    *memory.Object
	FoundOn   memory.Ptr
}

// Lookup walks startClass, startClass.superclass, ... up through and
// including ObjectClass, returning the first method in each class's
// method collection whose name matches selector and whose visibility is
// admitted by f. It raises DOES_NOT_UNDERSTAND if the whole chain is
// exhausted without a match.
func Lookup(mem *memory.ObjectMemory, startClass memory.Ptr, selector []byte, f Flags, pos vmerr.Position) (*Result, error) {
	curr := startClass
	for {
		classObj, err := mem.Deref(curr)
		if err != nil {
			return nil, err
		}

		methodsPtr := class.Methods(classObj)
		methodsObj, err := mem.Deref(methodsPtr)
		if err != nil {
			return nil, err
		}

		for _, mPtr := range methodsObj.Pointers {
			methodObj, err := mem.Deref(mPtr)
			if err != nil {
				return nil, err
			}
			matches, err := class.SelectorMatches(mem, methodObj, selector)
			if err != nil {
				return nil, err
			}
			if !matches {
				continue
			}
			vis, err := class.VisibilityOf(methodObj, mem)
			if err != nil {
				return nil, err
			}
			if f.Admits(vis) {
				return &Result{Method: methodObj, FoundOn: curr}, nil
			}
		}

		if memory.ObjectID(classObj.ID) == memory.ObjectClass {
			break
		}
		curr = class.Superclass(classObj)
	}

	return nil, vmerr.New(vmerr.DoesNotUnderstand, pos, "does not understand %q", selector)
}
