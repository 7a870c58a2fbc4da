package bytecode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazelqsil/qsil/pkg/bytecode"
)

func TestImplementedExcludesReservedPrimitives(t *testing.T) {
	require.True(t, bytecode.PrimAdd.Implemented())
	require.False(t, bytecode.PrimSub.Implemented())
	require.False(t, bytecode.Op(200).Implemented())
}

func TestHasOperand(t *testing.T) {
	require.True(t, bytecode.PushLiteral.HasOperand())
	require.True(t, bytecode.Jump.HasOperand())
	require.True(t, bytecode.PushObjRef.HasOperand())
	require.False(t, bytecode.PushSelf.HasOperand())
	require.False(t, bytecode.Return.HasOperand())
	// ALLOC_NEW_WITHSIZE's size comes from arg 0 of the already-built
	// argument frame, never from an inline operand byte.
	require.False(t, bytecode.AllocNewWithSize.HasOperand())
}

func TestStringer(t *testing.T) {
	require.Equal(t, "PUSH_SELF", bytecode.PushSelf.String())
	require.Equal(t, "PRIM_ADD", bytecode.PrimAdd.String())
}
