package interp_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hazelqsil/qsil/internal/testimage"
	"github.com/hazelqsil/qsil/pkg/bytecode"
	qctx "github.com/hazelqsil/qsil/pkg/context"
	"github.com/hazelqsil/qsil/pkg/interp"
	"github.com/hazelqsil/qsil/pkg/memory"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// pushObjRefOperand encodes id as the 4 little-endian bytes PUSH_OBJ_REF
// reads from the bytecode stream.
func pushObjRefOperand(id memory.ObjectID) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(id))
	return b
}

// newSinkContext builds a bare method context with an empty stack, used
// purely to catch a value pushed by a RETURN/END_OF_BLOCK unwind.
func newSinkContext(mem *memory.ObjectMemory) *memory.Object {
	ctx := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))
	ctx.Pointers[qctx.SlotStack] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)
	return ctx
}

// TestIntegerAdd implements scenario S1 from spec.md §8: a method that
// pushes literal 1 and an instance variable holding 4, executes
// PRIM_ADD, and returns 5.
func TestIntegerAdd(t *testing.T) {
	mem := testimage.Bootstrap()

	point := testimage.NewClass(mem, "Point", memory.Ptr(memory.ObjectClass), []string{"x"})
	one := testimage.NewInt(mem, 1)
	bc := []byte{
		byte(bytecode.PushLiteral), 0,
		byte(bytecode.PushInstVar), 0,
		byte(bytecode.PrimAdd),
		byte(bytecode.Return),
	}
	method := testimage.AddMethod(mem, point, "addOne", 0, 0, 0, []memory.Ptr{one}, bc)

	instance := memory.NewPointerObject(mem.NextID(), point.ID, 1)
	mem.Insert(instance)
	instance.Pointers[0] = memory.Ptr(testimage.NewInt(mem, 4))

	parent := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))
	parentStack := qctx.NewOrderedCollection(mem, 0)
	parent.Pointers[qctx.SlotStack] = memory.Ptr(parentStack.ID)

	active := qctx.NewMethodContext(mem, memory.Ptr(instance.ID), memory.Ptr(method.ID), memory.Ptr(memory.NilObject), memory.Ptr(memory.NilObject))
	activeStack := qctx.NewOrderedCollection(mem, 0)
	active.Pointers[qctx.SlotStack] = memory.Ptr(activeStack.ID)
	active.Pointers[qctx.SlotTempVars] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)
	active.Pointers[qctx.SlotArgs] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)
	active.Pointers[qctx.SlotParentContext] = memory.Ptr(parent.ID)

	log := zap.NewNop()
	it, err := interp.New(mem, active.ID, log)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := it.Step()
		require.NoError(t, err)
	}

	require.Equal(t, parent.ID, it.ActiveID)

	resultPtr, err := qctx.Peek(parentStack, vmerr.Position{})
	require.NoError(t, err)
	resultObj, err := mem.Get(memory.ObjectID(resultPtr))
	require.NoError(t, err)
	v, err := memory.IntValue(resultObj)
	require.NoError(t, err)
	require.Equal(t, int32(5), v)
}

// TestCallDispatchesOverSuperclassChain drives a real CALL bytecode (not a
// hand-built dispatch.Lookup call) through the byte-stream fetch path: a
// driver method pushes a receiver via PUSH_OBJ_REF, pushes a selector
// literal, and executes CALL, which must walk Dog -> Animal to find
// "speak" (spec S3/S4 dispatch, exercised end to end this time).
func TestCallDispatchesOverSuperclassChain(t *testing.T) {
	mem := testimage.Bootstrap()

	animal := testimage.NewClass(mem, "Animal", memory.Ptr(memory.ObjectClass), nil)
	dog := testimage.NewClass(mem, "Dog", memory.Ptr(animal.ID), nil)

	speakBC := []byte{byte(bytecode.PushLiteral), 0, byte(bytecode.Return)}
	testimage.AddMethod(mem, animal, "speak", 0, 0, 0, []memory.Ptr{testimage.NewInt(mem, 42)}, speakBC)

	instance := memory.NewPointerObject(mem.NextID(), dog.ID, 0)
	mem.Insert(instance)

	driverClass := testimage.NewClass(mem, "Driver", memory.Ptr(memory.ObjectClass), nil)
	driverBC := append([]byte{byte(bytecode.PushObjRef)}, pushObjRefOperand(instance.ID)...)
	driverBC = append(driverBC, byte(bytecode.PushLiteral), 0, byte(bytecode.Call))
	driverMethod := testimage.AddMethod(mem, driverClass, "run", 0, 0, 0, []memory.Ptr{testimage.NewSymbol(mem, "speak")}, driverBC)

	driverInstance := memory.NewPointerObject(mem.NextID(), driverClass.ID, 0)
	mem.Insert(driverInstance)

	active := qctx.NewMethodContext(mem, memory.Ptr(driverInstance.ID), memory.Ptr(driverMethod.ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID))
	active.Pointers[qctx.SlotStack] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)

	log := zap.NewNop()
	it, err := interp.New(mem, active.ID, log)
	require.NoError(t, err)

	// PUSH_OBJ_REF, PUSH_LITERAL, CALL, PUSH_LITERAL (inside speak), RETURN.
	for i := 0; i < 5; i++ {
		_, err := it.Step()
		require.NoError(t, err)
	}

	require.Equal(t, active.ID, it.ActiveID)
	stack, err := mem.Deref(active.Pointers[qctx.SlotStack])
	require.NoError(t, err)
	resultPtr, err := qctx.Peek(stack, vmerr.Position{})
	require.NoError(t, err)
	resultObj, err := mem.Get(memory.ObjectID(resultPtr))
	require.NoError(t, err)
	resultVal, err := memory.IntValue(resultObj)
	require.NoError(t, err)
	require.Equal(t, int32(42), resultVal)
}

// TestSuperSendStartsLookupAtSuperclass drives PUSH_SUPER followed by CALL
// (spec S4): Sub overrides "greet" but its own body super-sends it, which
// must resolve on Base, not re-enter Sub's own override.
func TestSuperSendStartsLookupAtSuperclass(t *testing.T) {
	mem := testimage.Bootstrap()

	base := testimage.NewClass(mem, "Base", memory.Ptr(memory.ObjectClass), nil)
	sub := testimage.NewClass(mem, "Sub", memory.Ptr(base.ID), nil)

	baseBC := []byte{byte(bytecode.PushLiteral), 0, byte(bytecode.Return)}
	testimage.AddMethod(mem, base, "greet", 0, 0, 0, []memory.Ptr{testimage.NewInt(mem, 1)}, baseBC)

	subBC := []byte{byte(bytecode.PushSuper), byte(bytecode.PushLiteral), 0, byte(bytecode.Call), byte(bytecode.Return)}
	testimage.AddMethod(mem, sub, "greet", 0, 0, 0, []memory.Ptr{testimage.NewSymbol(mem, "greet")}, subBC)

	instance := memory.NewPointerObject(mem.NextID(), sub.ID, 0)
	mem.Insert(instance)

	driverClass := testimage.NewClass(mem, "Driver", memory.Ptr(memory.ObjectClass), nil)
	driverBC := append([]byte{byte(bytecode.PushObjRef)}, pushObjRefOperand(instance.ID)...)
	driverBC = append(driverBC, byte(bytecode.PushLiteral), 0, byte(bytecode.Call))
	driverMethod := testimage.AddMethod(mem, driverClass, "run", 0, 0, 0, []memory.Ptr{testimage.NewSymbol(mem, "greet")}, driverBC)

	driverInstance := memory.NewPointerObject(mem.NextID(), driverClass.ID, 0)
	mem.Insert(driverInstance)

	active := qctx.NewMethodContext(mem, memory.Ptr(driverInstance.ID), memory.Ptr(driverMethod.ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID))
	active.Pointers[qctx.SlotStack] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)

	log := zap.NewNop()
	it, err := interp.New(mem, active.ID, log)
	require.NoError(t, err)

	// driver: PUSH_OBJ_REF, PUSH_LITERAL, CALL (3)
	// sub.greet: PUSH_SUPER, PUSH_LITERAL, CALL (3)
	// base.greet: PUSH_LITERAL, RETURN (2)
	// sub.greet: RETURN (1)
	for i := 0; i < 9; i++ {
		_, err := it.Step()
		require.NoError(t, err)
	}

	require.Equal(t, active.ID, it.ActiveID)
	stack, err := mem.Deref(active.Pointers[qctx.SlotStack])
	require.NoError(t, err)
	resultPtr, err := qctx.Peek(stack, vmerr.Position{})
	require.NoError(t, err)
	resultObj, err := mem.Get(memory.ObjectID(resultPtr))
	require.NoError(t, err)
	resultVal, err := memory.IntValue(resultObj)
	require.NoError(t, err)
	require.Equal(t, int32(1), resultVal, "super-send must resolve on Base, not re-enter Sub's own override")
}

// TestBlockNonLocalReturnSkipsActivator builds a block via the real
// PUSH_LITERAL/blockCopy path, invokes it through BECOME_ACTIVE_CONTEXT
// from a context other than its lexical home, and checks that an explicit
// RETURN inside the block unwinds through the block's home context's
// parent (spec S5/S7/S8), not through the immediate activator.
func TestBlockNonLocalReturnSkipsActivator(t *testing.T) {
	mem := testimage.Bootstrap()

	cls := testimage.NewClass(mem, "Holder", memory.Ptr(memory.ObjectClass), nil)

	blockLiterals := qctx.NewOrderedCollection(mem, 0)
	qctx.Push(blockLiterals, testimage.NewInt(mem, 99))
	blockBC := []byte{byte(bytecode.PushLiteral), 0, byte(bytecode.Return)}
	blockBytes := memory.NewDirectObject(mem.NextID(), memory.ByteStringClass, blockBC)
	mem.Insert(blockBytes)

	template := memory.NewPointerObject(mem.NextID(), memory.BlockContextClass, qctx.BlockContextSlots)
	template.Pointers[qctx.SlotBlockLiterals] = memory.Ptr(blockLiterals.ID)
	template.Pointers[qctx.SlotBlockBytecodes] = memory.Ptr(blockBytes.ID)
	mem.Insert(template)

	outerCaller := newSinkContext(mem)

	outerMethod := testimage.AddMethod(mem, cls, "outer", 0, 0, 0, []memory.Ptr{memory.Ptr(template.ID)}, []byte{byte(bytecode.PushLiteral), 0})
	outerInstance := memory.NewPointerObject(mem.NextID(), cls.ID, 0)
	mem.Insert(outerInstance)
	outer := qctx.NewMethodContext(mem, memory.Ptr(outerInstance.ID), memory.Ptr(outerMethod.ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID))
	outer.Pointers[qctx.SlotStack] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)
	outer.Pointers[qctx.SlotParentContext] = memory.Ptr(outerCaller.ID)

	log := zap.NewNop()
	itOuter, err := interp.New(mem, outer.ID, log)
	require.NoError(t, err)
	_, err = itOuter.Step() // PUSH_LITERAL: blockCopy binds home=outer, pushes the block handle
	require.NoError(t, err)

	outerStack, err := mem.Deref(outer.Pointers[qctx.SlotStack])
	require.NoError(t, err)
	blockPtr, err := qctx.Peek(outerStack, vmerr.Position{})
	require.NoError(t, err)
	blockObj, err := mem.Get(memory.ObjectID(blockPtr))
	require.NoError(t, err)
	require.True(t, qctx.IsBlockContext(blockObj))

	activatorCaller := newSinkContext(mem)
	activatorMethod := testimage.AddMethod(mem, cls, "activator", 0, 0, 0, nil, []byte{byte(bytecode.BecomeActiveContext)})
	activator := qctx.NewMethodContext(mem, blockPtr, memory.Ptr(activatorMethod.ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID))
	activator.Pointers[qctx.SlotStack] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)
	activator.Pointers[qctx.SlotParentContext] = memory.Ptr(activatorCaller.ID)

	itActivator, err := interp.New(mem, activator.ID, log)
	require.NoError(t, err)

	_, err = itActivator.Step() // BECOME_ACTIVE_CONTEXT: activates the block, parent = activator
	require.NoError(t, err)
	require.Equal(t, memory.ObjectID(blockPtr), itActivator.ActiveID)

	_, err = itActivator.Step() // PUSH_LITERAL 99, inside the block
	require.NoError(t, err)
	_, err = itActivator.Step() // RETURN: non-local, through home's (outer's) parent
	require.NoError(t, err)

	require.Equal(t, outerCaller.ID, itActivator.ActiveID, "RETURN inside a block must unwind through its home context's parent")

	outerCallerStack, err := mem.Deref(outerCaller.Pointers[qctx.SlotStack])
	require.NoError(t, err)
	resultPtr, err := qctx.Peek(outerCallerStack, vmerr.Position{})
	require.NoError(t, err)
	resultObj, err := mem.Get(memory.ObjectID(resultPtr))
	require.NoError(t, err)
	resultVal, err := memory.IntValue(resultObj)
	require.NoError(t, err)
	require.Equal(t, int32(99), resultVal)

	activatorCallerStack, err := mem.Deref(activatorCaller.Pointers[qctx.SlotStack])
	require.NoError(t, err)
	require.Equal(t, 0, len(activatorCallerStack.Pointers), "the immediate activator must never receive the block's return value")
}

// TestPushObjRefAndAllocNewWithSizeStayInSync drives PUSH_OBJ_REF (a
// 4-byte operand) and ALLOC_NEW_WITHSIZE (no inline operand, size comes
// from arg 0) back to back through the real fetch path, proving pc lands
// exactly on the next real opcode both times.
func TestPushObjRefAndAllocNewWithSizeStayInSync(t *testing.T) {
	mem := testimage.Bootstrap()

	cls := testimage.NewClass(mem, "Boxed", memory.Ptr(memory.ObjectClass), nil)

	bc := append([]byte{byte(bytecode.PushObjRef)}, pushObjRefOperand(cls.ID)...)
	bc = append(bc,
		byte(bytecode.AllocNewWithSize),
		byte(bytecode.PushTrue),
		byte(bytecode.Pop),
		byte(bytecode.Return),
	)
	method := testimage.AddMethod(mem, cls, "make", 0, 1, 0, nil, bc)

	argsColl := qctx.NewOrderedCollection(mem, 0)
	qctx.Push(argsColl, testimage.NewInt(mem, 3))

	parent := newSinkContext(mem)
	active := qctx.NewMethodContext(mem, memory.Ptr(memory.NilObject), memory.Ptr(method.ID), memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID), memory.Ptr(argsColl.ID))
	active.Pointers[qctx.SlotStack] = memory.Ptr(qctx.NewOrderedCollection(mem, 0).ID)
	active.Pointers[qctx.SlotParentContext] = memory.Ptr(parent.ID)

	log := zap.NewNop()
	it, err := interp.New(mem, active.ID, log)
	require.NoError(t, err)

	// PUSH_OBJ_REF, ALLOC_NEW_WITHSIZE, PUSH_TRUE, POP, RETURN.
	for i := 0; i < 5; i++ {
		_, err := it.Step()
		require.NoError(t, err)
	}

	require.Equal(t, parent.ID, it.ActiveID)
	parentStack, err := mem.Deref(parent.Pointers[qctx.SlotStack])
	require.NoError(t, err)
	resultPtr, err := qctx.Peek(parentStack, vmerr.Position{})
	require.NoError(t, err)
	resultObj, err := mem.Get(memory.ObjectID(resultPtr))
	require.NoError(t, err)
	require.Equal(t, cls.ID, resultObj.ClassID)
	require.Equal(t, 3, len(resultObj.Pointers), "ALLOC_NEW_WITHSIZE's length must come from arg 0, not an inline operand")
}
