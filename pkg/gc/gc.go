// Package gc implements QSIL's tracing garbage collector and id
// compactor (spec.md §4.6).
package gc

import "github.com/hazelqsil/qsil/pkg/memory"

// Collect marks every object reachable from the IMAGE_SINGLETON, the
// active context (transitively through parent and home contexts), and
// the well-known id range 0..18, drops everything else, and renumbers
// the survivors into the dense range [0, N) while preserving every
// well-known id. It returns the old-id -> new-id remapping actually
// applied, including identity entries, so callers can follow their own
// cached ids (e.g. the interpreter's active context id) across the pass.
func Collect(mem *memory.ObjectMemory, activeID memory.ObjectID) (map[memory.ObjectID]memory.ObjectID, error) {
	marked, err := mark(mem, activeID)
	if err != nil {
		return nil, err
	}

	remap := buildRemap(marked)

	survivors := make(map[memory.ObjectID]*memory.Object, len(marked))
	for id := range marked {
		obj, err := mem.Get(id)
		if err != nil {
			return nil, err
		}
		survivors[id] = obj
	}

	for _, obj := range survivors {
		obj.ClassID = remapID(remap, obj.ClassID)
		for i, p := range obj.Pointers {
			if p.IsSuper() {
				continue
			}
			obj.Pointers[i] = memory.Ptr(remapID(remap, memory.ObjectID(p)))
		}
	}

	for _, id := range mem.IDs() {
		mem.Delete(id)
	}
	for oldID, obj := range survivors {
		obj.ID = remap[oldID]
		mem.Insert(obj)
	}

	return remap, nil
}

func mark(mem *memory.ObjectMemory, activeID memory.ObjectID) (map[memory.ObjectID]bool, error) {
	marked := make(map[memory.ObjectID]bool)
	var queue []memory.ObjectID

	enqueue := func(id memory.ObjectID) {
		if !marked[id] {
			marked[id] = true
			queue = append(queue, id)
		}
	}

	for id := memory.ObjectID(0); id < memory.NumWellKnown; id++ {
		enqueue(id)
	}
	enqueue(memory.ImageSingleton)
	enqueue(activeID)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		obj, err := mem.Get(id)
		if err != nil {
			// An id that does not resolve is not traversed; it stays
			// marked, so Collect then fails with DanglingReference.
			continue
		}

		enqueue(obj.ClassID)

		if obj.Kind == memory.PointerObject || obj.Kind == memory.DirectPointerObject {
			// Context slots (parentContext, homeContext included) are
			// ordinary pointer slots, so walking Pointers here already
			// carries the "active context transitively" rule from
			// spec.md §4.6 without special-casing context objects.
			for _, p := range obj.Pointers {
				if p.IsSuper() {
					continue
				}
				enqueue(p.ID())
			}
		}
	}

	return marked, nil
}

func buildRemap(marked map[memory.ObjectID]bool) map[memory.ObjectID]memory.ObjectID {
	n := memory.ObjectID(len(marked))

	remap := make(map[memory.ObjectID]memory.ObjectID, len(marked))
	var overflow []memory.ObjectID
	used := make(map[memory.ObjectID]bool, len(marked))

	for id := range marked {
		if id < n {
			remap[id] = id
			used[id] = true
		} else {
			overflow = append(overflow, id)
		}
	}

	next := memory.ObjectID(0)
	for _, id := range overflow {
		for used[next] {
			next++
		}
		remap[id] = next
		used[next] = true
	}

	return remap
}

func remapID(remap map[memory.ObjectID]memory.ObjectID, id memory.ObjectID) memory.ObjectID {
	if newID, ok := remap[id]; ok {
		return newID
	}
	return id
}
