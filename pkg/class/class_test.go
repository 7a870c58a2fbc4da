package class_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazelqsil/qsil/internal/testimage"
	"github.com/hazelqsil/qsil/pkg/class"
	"github.com/hazelqsil/qsil/pkg/memory"
)

func TestTotalInstVarCountIsTransitive(t *testing.T) {
	mem := testimage.Bootstrap()
	a := testimage.NewClass(mem, "A", memory.Ptr(memory.ObjectClass), []string{"x", "y"})
	b := testimage.NewClass(mem, "B", memory.Ptr(a.ID), []string{"z"})

	n, err := class.TotalInstVarCount(mem, memory.Ptr(b.ID))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestVisibilityBits(t *testing.T) {
	require.True(t, class.Private.IsPrivate())
	require.False(t, class.Private.IsProtected())
	require.False(t, class.Private.IsStatic())

	require.True(t, class.Static.IsStatic())
	require.False(t, class.Static.IsPrivate())
}
