package image_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/go-cmp/cmp"

	"github.com/hazelqsil/qsil/internal/testimage"
	qctx "github.com/hazelqsil/qsil/pkg/context"
	"github.com/hazelqsil/qsil/pkg/image"
	"github.com/hazelqsil/qsil/pkg/memory"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	mem := testimage.Bootstrap()
	active := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))
	stack := qctx.NewOrderedCollection(mem, 0)
	active.Pointers[qctx.SlotStack] = memory.Ptr(stack.ID)
	scratch := memory.NewInteger(mem.NextID(), 7)
	mem.Insert(scratch)
	qctx.Push(stack, memory.Ptr(scratch.ID))

	var buf bytes.Buffer
	require.NoError(t, image.Save(&buf, mem, active.ID))

	loaded, loadedActive, err := image.Load(&buf)
	require.NoError(t, err)
	require.Equal(t, active.ID, loadedActive)
	require.Equal(t, mem.Len(), loaded.Len())

	for _, id := range mem.IDs() {
		want, err := mem.Get(id)
		require.NoError(t, err)
		got, err := loaded.Get(id)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("object %d mismatch after round-trip (-want +got):\n%s", id, diff)
		}
	}
}

func TestLoadRejectsLegacyMagic(t *testing.T) {
	_, _, err := image.Load(bytes.NewReader([]byte("QSIL\x01\x00\x00\x00extra-bytes-here")))
	require.Error(t, err)
}

func TestLoadRejectsDanglingActiveContext(t *testing.T) {
	mem := testimage.Bootstrap()
	var buf bytes.Buffer
	require.NoError(t, image.Save(&buf, mem, memory.ObjectID(99999)))

	_, _, err := image.Load(&buf)
	require.Error(t, err)
}
