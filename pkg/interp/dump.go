package interp

import (
	"fmt"
	"io"

	"github.com/hazelqsil/qsil/pkg/class"
	qctx "github.com/hazelqsil/qsil/pkg/context"
	"github.com/hazelqsil/qsil/pkg/memory"
)

// DumpContext writes a human-readable, indented trace of the active
// context chain to w: one line per context, its receiver's object id,
// and the owning method's selector (for a block context, that of its
// home context's method), walking parentContext up to the root. It
// mirrors the
// reference interpreter's recursive object printer, adapted into a
// flat loop with its own cycle guard (a context chain cannot legally
// cycle, but a malformed image could).
func (it *Interp) DumpContext(w io.Writer) error {
	ctx, err := it.activeContext()
	if err != nil {
		return err
	}

	seen := make(map[memory.ObjectID]bool)
	depth := 0
	for {
		if seen[ctx.ID] {
			fmt.Fprintf(w, "%s... (cycle detected at %d)\n", indent(depth), ctx.ID)
			return nil
		}
		seen[ctx.ID] = true

		kindLabel := "MethodContext"
		var methodPtr memory.Ptr
		if qctx.IsBlockContext(ctx) {
			kindLabel = "BlockContext"
			home, err := it.Mem.Deref(ctx.Pointers[qctx.SlotBlockHomeContext])
			if err == nil {
				methodPtr = home.Pointers[qctx.SlotMethod]
			}
		} else {
			methodPtr = ctx.Pointers[qctx.SlotMethod]
		}

		selector := "?"
		if methodPtr != 0 {
			if methodObj, err := it.Mem.Deref(methodPtr); err == nil {
				if nameObj, err := it.Mem.Deref(class.MethodName(methodObj)); err == nil {
					if b, err := memory.BytesValue(nameObj); err == nil {
						selector = string(b)
					}
				}
			}
		}

		fmt.Fprintf(w, "%s#%d %s receiver=%d selector=%s\n", indent(depth), ctx.ID, kindLabel, ctx.Pointers[qctx.SlotReceiver], selector)

		nextPtr := ctx.Pointers[qctx.SlotParentContext]
		if memory.ObjectID(nextPtr) == memory.NilObject {
			return nil
		}
		next, err := it.Mem.Deref(nextPtr)
		if err != nil {
			return err
		}
		ctx = next
		depth++
	}
}

func indent(depth int) string {
	s := ""
	for i := 0; i < depth; i++ {
		s += "|  "
	}
	return s
}
