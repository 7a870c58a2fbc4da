package gc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazelqsil/qsil/internal/testimage"
	qctx "github.com/hazelqsil/qsil/pkg/context"
	"github.com/hazelqsil/qsil/pkg/gc"
	"github.com/hazelqsil/qsil/pkg/memory"
)

func TestCollectPreservesWellKnownIDs(t *testing.T) {
	mem := testimage.Bootstrap()
	active := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))

	for id := memory.ObjectID(0); id < memory.NumWellKnown; id++ {
		_, err := mem.Get(id)
		require.NoError(t, err, "well-known id %d must exist before GC", id)
	}

	_, err := gc.Collect(mem, active.ID)
	require.NoError(t, err)

	for id := memory.ObjectID(0); id < memory.NumWellKnown; id++ {
		_, err := mem.Get(id)
		require.NoError(t, err, "well-known id %d must survive GC", id)
	}
}

func TestCollectDropsUnreachableAndCompactsIDs(t *testing.T) {
	mem := testimage.Bootstrap()
	active := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))

	// Garbage: unreferenced scratch integers.
	for i := 0; i < 50; i++ {
		id := mem.NextID()
		mem.Insert(memory.NewInteger(id, int32(i)))
	}

	beforeGarbage := mem.Len()
	remap, err := gc.Collect(mem, active.ID)
	require.NoError(t, err)

	require.Less(t, mem.Len(), beforeGarbage)

	ids := mem.IDs()
	maxID := memory.ObjectID(0)
	for _, id := range ids {
		if id > maxID {
			maxID = id
		}
	}
	require.Equal(t, memory.ObjectID(len(ids))-1, maxID, "surviving ids must be dense [0, N)")

	newActiveID, ok := remap[active.ID]
	require.True(t, ok)
	_, err = mem.Get(newActiveID)
	require.NoError(t, err)
}

func TestCollectPreservesReachableGraphUnderManyScratchObjects(t *testing.T) {
	mem := testimage.Bootstrap()
	active := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))

	stack := qctx.NewOrderedCollection(mem, 0)
	active.Pointers[qctx.SlotStack] = memory.Ptr(stack.ID)
	kept := memory.NewInteger(mem.NextID(), 12345)
	mem.Insert(kept)
	qctx.Push(stack, memory.Ptr(kept.ID))

	for i := 0; i < 10000; i++ {
		id := mem.NextID()
		mem.Insert(memory.NewInteger(id, int32(i)))
	}

	remap, err := gc.Collect(mem, active.ID)
	require.NoError(t, err)

	newKeptID, ok := remap[kept.ID]
	require.True(t, ok)
	keptAfter, err := mem.Get(newKeptID)
	require.NoError(t, err)
	v, err := memory.IntValue(keptAfter)
	require.NoError(t, err)
	require.Equal(t, int32(12345), v)
}
