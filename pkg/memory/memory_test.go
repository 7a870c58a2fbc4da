package memory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazelqsil/qsil/pkg/memory"
)

func TestNextIDStartsAfterWellKnown(t *testing.T) {
	mem := memory.New()
	require.Equal(t, memory.NumWellKnown, mem.NextID())
}

func TestGetDanglingReference(t *testing.T) {
	mem := memory.New()
	_, err := mem.Get(999)
	require.Error(t, err)
}

func TestInsertAndGet(t *testing.T) {
	mem := memory.New()
	obj := memory.NewInteger(mem.NextID(), 7)
	mem.Insert(obj)

	got, err := mem.Get(obj.ID)
	require.NoError(t, err)
	require.Same(t, obj, got)
}

func TestSuperSentinelRoundTrip(t *testing.T) {
	p := memory.MakeSuper(42)
	require.True(t, p.IsSuper())
	require.Equal(t, memory.ObjectID(42), p.SuperClass())

	plain := memory.Ptr(5)
	require.False(t, plain.IsSuper())
}
