// Package interp implements the QSIL bytecode interpreter: the
// fetch-decode-dispatch loop over a single active context.
package interp

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/hazelqsil/qsil/pkg/bytecode"
	"github.com/hazelqsil/qsil/pkg/class"
	qctx "github.com/hazelqsil/qsil/pkg/context"
	"github.com/hazelqsil/qsil/pkg/dispatch"
	"github.com/hazelqsil/qsil/pkg/gc"
	"github.com/hazelqsil/qsil/pkg/memory"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// gcPeriod is the bytecode-step countdown between GC passes, matching
// the reference interpreter's consolidationCounter default.
const gcPeriod = 10000

// Interp holds the Object Memory and the interpreter's cached view of
// the active context: its pc and the bytecodes/literals it is currently
// executing. The cache is written back to the outgoing context's pc
// slot on every switch, per spec.md §4.3.
type Interp struct {
	Mem      *memory.ObjectMemory
	ActiveID memory.ObjectID

	pc        int
	bytecodes []byte
	literals  []memory.Ptr

	gcCountdown int
	log         *zap.Logger

	loaded bool // false until the first loadCache, so switchTo skips the write-back
}

// New builds an Interp with its cache loaded from the given active
// context id.
func New(mem *memory.ObjectMemory, activeID memory.ObjectID, log *zap.Logger) (*Interp, error) {
	it := &Interp{Mem: mem, gcCountdown: gcPeriod, log: log}
	if err := it.switchTo(activeID); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Interp) pos() vmerr.Position {
	methodID := uint32(0)
	if ctx, err := it.Mem.Get(it.ActiveID); err == nil {
		if !qctx.IsBlockContext(ctx) {
			if m, err := it.Mem.Deref(ctx.Pointers[qctx.SlotMethod]); err == nil {
				methodID = uint32(m.ID)
			}
		}
	}
	return vmerr.Position{MethodID: methodID, PC: it.pc}
}

// activeContext returns the current active context object.
func (it *Interp) activeContext() (*memory.Object, error) {
	return it.Mem.Get(it.ActiveID)
}

// writeBackPC persists the cached pc into the outgoing active context's
// pc slot, allocating a fresh boxed integer.
func (it *Interp) writeBackPC() error {
	ctx, err := it.activeContext()
	if err != nil {
		return err
	}
	id := it.Mem.NextID()
	intObj := memory.NewInteger(id, int32(it.pc))
	it.Mem.Insert(intObj)
	ctx.Pointers[qctx.SlotPC] = memory.Ptr(id)
	return nil
}

// switchTo writes back the outgoing context's pc, then makes newID the
// active context and reloads the pc/bytecodes/literals cache from it.
func (it *Interp) switchTo(newID memory.ObjectID) error {
	if it.loaded {
		if err := it.writeBackPC(); err != nil {
			return err
		}
	}
	it.ActiveID = newID
	if err := it.loadCache(); err != nil {
		return err
	}
	it.loaded = true
	return nil
}

// loadCache populates pc/bytecodes/literals from the current active
// context, reading a method context's code from its method object and a
// block context's code from its own literals/bytecodes slots.
func (it *Interp) loadCache() error {
	ctx, err := it.activeContext()
	if err != nil {
		return err
	}

	pcPtr := ctx.Pointers[qctx.SlotPC]
	if memory.ObjectID(pcPtr) == memory.NilObject {
		it.pc = 0
	} else {
		pcObj, err := it.Mem.Deref(pcPtr)
		if err != nil {
			return err
		}
		v, err := memory.IntValue(pcObj)
		if err != nil {
			return err
		}
		it.pc = int(v)
	}

	var litPtr, bcPtr memory.Ptr
	if qctx.IsBlockContext(ctx) {
		litPtr = ctx.Pointers[qctx.SlotBlockLiterals]
		bcPtr = ctx.Pointers[qctx.SlotBlockBytecodes]
	} else {
		methodPtr := ctx.Pointers[qctx.SlotMethod]
		if memory.ObjectID(methodPtr) == memory.NilObject {
			// A method context with a nil method slot has no code.
			it.literals = nil
			it.bytecodes = nil
			return nil
		}
		methodObj, err := it.Mem.Deref(methodPtr)
		if err != nil {
			return err
		}
		litPtr = methodObj.Pointers[class.MethodSlotLiterals]
		bcPtr = methodObj.Pointers[class.MethodSlotBytecodes]
	}

	litObj, err := it.Mem.Deref(litPtr)
	if err != nil {
		return err
	}
	it.literals = litObj.Pointers

	bcObj, err := it.Mem.Deref(bcPtr)
	if err != nil {
		return err
	}
	bytes, err := memory.BytesValue(bcObj)
	if err != nil {
		return err
	}
	it.bytecodes = bytes

	return nil
}

func (it *Interp) stackObj(ctx *memory.Object) (*memory.Object, error) {
	return it.Mem.Deref(ctx.Pointers[qctx.SlotStack])
}

func (it *Interp) tempVarsObj(ctx *memory.Object) (*memory.Object, error) {
	return it.Mem.Deref(ctx.Pointers[qctx.SlotTempVars])
}

func (it *Interp) argsObj(ctx *memory.Object) (*memory.Object, error) {
	return it.Mem.Deref(ctx.Pointers[qctx.SlotArgs])
}

// fetch reads the opcode at pc and, if it carries an operand, the
// following operand value, advancing pc past both.
func (it *Interp) fetch() (bytecode.Op, int32, error) {
	if it.pc >= len(it.bytecodes) {
		return bytecode.EndOfBlock, 0, nil
	}
	op := bytecode.Op(it.bytecodes[it.pc])
	it.pc++

	if !op.HasOperand() {
		return op, 0, nil
	}

	switch op {
	case bytecode.Jump, bytecode.JumpIfTrue, bytecode.PushObjRef:
		if it.pc+4 > len(it.bytecodes) {
			return 0, 0, vmerr.New(vmerr.MalformedImage, it.pos(), "truncated 4-byte operand")
		}
		v := int32(binary.LittleEndian.Uint32(it.bytecodes[it.pc:]))
		it.pc += 4
		return op, v, nil
	default:
		if it.pc >= len(it.bytecodes) {
			return 0, 0, vmerr.New(vmerr.MalformedImage, it.pos(), "truncated operand")
		}
		v := int32(it.bytecodes[it.pc])
		it.pc++
		return op, v, nil
	}
}

// Step executes exactly one bytecode. It returns halted=true when the
// outermost context has returned (parentContext of a method context is
// nil), signaling a clean end of execution.
func (it *Interp) Step() (halted bool, err error) {
	if it.pc >= len(it.bytecodes) {
		ctx, err := it.activeContext()
		if err != nil {
			return false, err
		}
		if qctx.IsBlockContext(ctx) {
			return it.execEndOfBlock(ctx)
		}
		// A method context running past its own code is treated as an
		// implicit RETURN of its stack top.
		return it.execReturn(ctx)
	}

	op, operand, err := it.fetch()
	if err != nil {
		return false, err
	}
	if !op.Implemented() {
		return false, vmerr.New(vmerr.UnknownBytecode, it.pos(), "unimplemented opcode %s", op)
	}

	ctx, err := it.activeContext()
	if err != nil {
		return false, err
	}

	switch op {
	case bytecode.PushSelf:
		return false, it.push(ctx, ctx.Pointers[qctx.SlotReceiver])
	case bytecode.PushSuper:
		return false, it.execPushSuper(ctx)
	case bytecode.PushNil:
		return false, it.push(ctx, memory.Ptr(memory.NilObject))
	case bytecode.PushTrue:
		return false, it.push(ctx, memory.Ptr(memory.TrueObject))
	case bytecode.PushFalse:
		return false, it.push(ctx, memory.Ptr(memory.FalseObject))
	case bytecode.PushLiteral:
		return false, it.execPushLiteral(ctx, int(operand))
	case bytecode.PushArg:
		return false, it.execPushIndexed(ctx, it.argsObj, int(operand))
	case bytecode.PushTemp:
		return false, it.execPushIndexed(ctx, it.tempVarsObj, int(operand))
	case bytecode.PushInstVar:
		return false, it.execPushInstVar(ctx, int(operand))
	case bytecode.PushObjRef:
		return false, it.push(ctx, memory.Ptr(uint32(operand)))
	case bytecode.Return:
		return it.execReturn(ctx)
	case bytecode.Pop:
		stack, err := it.stackObj(ctx)
		if err != nil {
			return false, err
		}
		_, err = qctx.PopValue(stack, it.pos())
		return false, err
	case bytecode.PopIntoTemp:
		return false, it.execPopInto(ctx, it.tempVarsObj, int(operand))
	case bytecode.PopIntoInstVar:
		return false, it.execPopIntoInstVar(ctx, int(operand))
	case bytecode.Call:
		return false, it.execCall(ctx)
	case bytecode.Jump:
		it.pc = int(operand)
		return false, nil
	case bytecode.JumpIfTrue:
		return false, it.execJumpIfTrue(ctx, int(operand))
	case bytecode.BecomeActiveContext:
		return false, it.execBecomeActiveContext(ctx)
	case bytecode.AllocNew:
		return false, it.execAllocNew(ctx, false)
	case bytecode.AllocNewWithSize:
		return false, it.execAllocNew(ctx, true)
	case bytecode.PrimAdd:
		return false, it.execPrimAdd(ctx)
	default:
		return false, vmerr.New(vmerr.UnknownBytecode, it.pos(), "unhandled opcode %s", op)
	}
}

func (it *Interp) push(ctx *memory.Object, v memory.Ptr) error {
	stack, err := it.stackObj(ctx)
	if err != nil {
		return err
	}
	qctx.Push(stack, v)
	return nil
}

func (it *Interp) pop(ctx *memory.Object) (memory.Ptr, error) {
	stack, err := it.stackObj(ctx)
	if err != nil {
		return 0, err
	}
	return qctx.PopValue(stack, it.pos())
}

// Run drives Step in a loop, triggering a GC pass every gcPeriod steps,
// until the program halts or a fatal error occurs.
func (it *Interp) Run() error {
	for {
		halted, err := it.Step()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
		it.gcCountdown--
		if it.gcCountdown <= 0 {
			if err := it.runGC(); err != nil {
				return err
			}
			it.gcCountdown = gcPeriod
		}
	}
}

func (it *Interp) runGC() error {
	if err := it.writeBackPC(); err != nil {
		return err
	}
	remap, err := gc.Collect(it.Mem, it.ActiveID)
	if err != nil {
		return err
	}
	if newID, ok := remap[it.ActiveID]; ok {
		it.ActiveID = newID
	}
	if it.log != nil {
		it.log.Debug("gc pass complete", zap.Int("live_objects", it.Mem.Len()))
	}
	return it.loadCache()
}

// dispatchOwningClass returns the class that owns the currently executing
// method, used by the CALL protocol's step 5 and by PUSH_SUPER; it is read
// from ctx's method slot when ctx is a method context, or its home
// context's when a block.
func (it *Interp) dispatchOwningClass(ctx *memory.Object) (memory.Ptr, error) {
	methodCtx := ctx
	if qctx.IsBlockContext(ctx) {
		home, err := it.Mem.Deref(ctx.Pointers[qctx.SlotBlockHomeContext])
		if err != nil {
			return 0, err
		}
		methodCtx = home
	}
	methodObj, err := it.Mem.Deref(methodCtx.Pointers[qctx.SlotMethod])
	if err != nil {
		return 0, err
	}
	return class.OwningClass(methodObj), nil
}

func (it *Interp) execPushSuper(ctx *memory.Object) error {
	owning, err := it.dispatchOwningClass(ctx)
	if err != nil {
		return err
	}
	classObj, err := it.Mem.Deref(owning)
	if err != nil {
		return err
	}
	return it.push(ctx, memory.MakeSuper(classObj.ID))
}

func (it *Interp) execPushLiteral(ctx *memory.Object, idx int) error {
	if idx < 0 || idx >= len(it.literals) {
		return vmerr.New(vmerr.IndexOutOfRange, it.pos(), "literal index %d out of range", idx)
	}
	lit := it.literals[idx]
	litObj, err := it.Mem.Deref(lit)
	if err != nil {
		return err
	}
	if litObj.ClassID == memory.BlockContextClass {
		copyObj, err := it.blockCopy(ctx, litObj)
		if err != nil {
			return err
		}
		return it.push(ctx, memory.Ptr(copyObj.ID))
	}
	return it.push(ctx, lit)
}

// blockCopy produces a freshly bound block context from a block
// template literal, sharing the enclosing method context's tempvars and
// args by id (spec.md §4.4.3).
func (it *Interp) blockCopy(enclosing, template *memory.Object) (*memory.Object, error) {
	home := enclosing
	if qctx.IsBlockContext(enclosing) {
		h, err := it.Mem.Deref(enclosing.Pointers[qctx.SlotBlockHomeContext])
		if err != nil {
			return nil, err
		}
		home = h
	}

	stack := qctx.NewOrderedCollection(it.Mem, 0)

	id := it.Mem.NextID()
	obj := memory.NewPointerObject(id, memory.BlockContextClass, qctx.BlockContextSlots)
	obj.Pointers[qctx.SlotPC] = memory.Ptr(memory.NilObject)
	obj.Pointers[qctx.SlotStack] = memory.Ptr(stack.ID)
	obj.Pointers[qctx.SlotReceiver] = home.Pointers[qctx.SlotReceiver]
	obj.Pointers[qctx.SlotTempVars] = home.Pointers[qctx.SlotTempVars]
	obj.Pointers[qctx.SlotParentContext] = memory.Ptr(memory.NilObject)
	obj.Pointers[qctx.SlotArgs] = home.Pointers[qctx.SlotArgs]
	obj.Pointers[qctx.SlotBlockLiterals] = template.Pointers[qctx.SlotBlockLiterals]
	obj.Pointers[qctx.SlotBlockBytecodes] = template.Pointers[qctx.SlotBlockBytecodes]
	obj.Pointers[qctx.SlotBlockHomeContext] = memory.Ptr(home.ID)
	it.Mem.Insert(obj)
	return obj, nil
}

func (it *Interp) execPushIndexed(ctx *memory.Object, collOf func(*memory.Object) (*memory.Object, error), idx int) error {
	coll, err := collOf(ctx)
	if err != nil {
		return err
	}
	v, err := qctx.At(coll, idx, it.pos())
	if err != nil {
		return err
	}
	return it.push(ctx, v)
}

func (it *Interp) execPushInstVar(ctx *memory.Object, idx int) error {
	rcvr, err := it.Mem.Deref(ctx.Pointers[qctx.SlotReceiver])
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(rcvr.Pointers) {
		return vmerr.New(vmerr.IndexOutOfRange, it.pos(), "instvar index %d out of range", idx)
	}
	return it.push(ctx, rcvr.Pointers[idx])
}

func (it *Interp) execPopInto(ctx *memory.Object, collOf func(*memory.Object) (*memory.Object, error), idx int) error {
	v, err := it.pop(ctx)
	if err != nil {
		return err
	}
	coll, err := collOf(ctx)
	if err != nil {
		return err
	}
	qctx.SetAt(coll, idx, v)
	return nil
}

func (it *Interp) execPopIntoInstVar(ctx *memory.Object, idx int) error {
	v, err := it.pop(ctx)
	if err != nil {
		return err
	}
	rcvr, err := it.Mem.Deref(ctx.Pointers[qctx.SlotReceiver])
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(rcvr.Pointers) {
		return vmerr.New(vmerr.IndexOutOfRange, it.pos(), "instvar index %d out of range", idx)
	}
	rcvr.Pointers[idx] = v
	return nil
}

func (it *Interp) execJumpIfTrue(ctx *memory.Object, target int) error {
	v, err := it.pop(ctx)
	if err != nil {
		return err
	}
	if memory.ObjectID(v) == memory.TrueObject {
		it.pc = target
	}
	return nil
}

// execReturn implements RETURN: a block context unwinds to its home
// context's parent (non-local return); a method context unwinds to its
// own parent. The top of the outgoing stack moves to the incoming one.
func (it *Interp) execReturn(ctx *memory.Object) (bool, error) {
	v, err := it.pop(ctx)
	if err != nil {
		return false, err
	}

	var parentPtr memory.Ptr
	if qctx.IsBlockContext(ctx) {
		home, err := it.Mem.Deref(ctx.Pointers[qctx.SlotBlockHomeContext])
		if err != nil {
			return false, err
		}
		parentPtr = home.Pointers[qctx.SlotParentContext]
	} else {
		parentPtr = ctx.Pointers[qctx.SlotParentContext]
	}

	if memory.ObjectID(parentPtr) == memory.NilObject {
		return true, nil
	}

	parent, err := it.Mem.Deref(parentPtr)
	if err != nil {
		return false, err
	}
	if err := it.push(parent, v); err != nil {
		return false, err
	}
	return false, it.switchTo(parent.ID)
}

func (it *Interp) execEndOfBlock(ctx *memory.Object) (bool, error) {
	v, err := it.pop(ctx)
	if err != nil {
		return false, err
	}
	parentPtr := ctx.Pointers[qctx.SlotParentContext]
	if memory.ObjectID(parentPtr) == memory.NilObject {
		return true, nil
	}
	parent, err := it.Mem.Deref(parentPtr)
	if err != nil {
		return false, err
	}
	if err := it.push(parent, v); err != nil {
		return false, err
	}
	return false, it.switchTo(parent.ID)
}

func (it *Interp) execBecomeActiveContext(ctx *memory.Object) error {
	blockPtr := ctx.Pointers[qctx.SlotReceiver]
	blockCtx, err := it.Mem.Deref(blockPtr)
	if err != nil {
		return err
	}
	if !qctx.IsBlockContext(blockCtx) {
		return vmerr.New(vmerr.TypeError, it.pos(), "BECOME_ACTIVE_CONTEXT receiver is not a block context")
	}
	blockCtx.Pointers[qctx.SlotParentContext] = memory.Ptr(ctx.ID)
	blockCtx.Pointers[qctx.SlotPC] = memory.Ptr(memory.NilObject)
	return it.switchTo(blockCtx.ID)
}

func (it *Interp) execAllocNew(ctx *memory.Object, withSize bool) error {
	classPtr, err := it.pop(ctx)
	if err != nil {
		return err
	}
	classObj, err := it.Mem.Deref(classPtr)
	if err != nil {
		return err
	}
	if classObj.ClassID != memory.ClassClass {
		return vmerr.New(vmerr.TypeError, it.pos(), "ALLOC_NEW receiver is not a class")
	}

	size := 0
	if withSize {
		args, err := it.argsObj(ctx)
		if err != nil {
			return err
		}
		sizePtr, err := qctx.At(args, 0, it.pos())
		if err != nil {
			return err
		}
		sizeObj, err := it.Mem.Deref(sizePtr)
		if err != nil {
			return err
		}
		v, err := memory.IntValue(sizeObj)
		if err != nil {
			return err
		}
		size = int(v)
	} else {
		n, err := class.TotalInstVarCount(it.Mem, classPtr)
		if err != nil {
			return err
		}
		size = n
	}

	id := it.Mem.NextID()
	obj := memory.NewPointerObject(id, classObj.ID, size)
	it.Mem.Insert(obj)
	return it.push(ctx, memory.Ptr(id))
}

func (it *Interp) execPrimAdd(ctx *memory.Object) error {
	bPtr, err := it.pop(ctx)
	if err != nil {
		return err
	}
	aPtr, err := it.pop(ctx)
	if err != nil {
		return err
	}
	aObj, err := it.Mem.Deref(aPtr)
	if err != nil {
		return err
	}
	bObj, err := it.Mem.Deref(bPtr)
	if err != nil {
		return err
	}
	a, err := memory.IntValue(aObj)
	if err != nil {
		return vmerr.Wrap(err, vmerr.TypeError, it.pos(), "PRIM_ADD left operand")
	}
	b, err := memory.IntValue(bObj)
	if err != nil {
		return vmerr.Wrap(err, vmerr.TypeError, it.pos(), "PRIM_ADD right operand")
	}
	id := it.Mem.NextID()
	sum := memory.NewInteger(id, a+b)
	it.Mem.Insert(sum)
	return it.push(ctx, memory.Ptr(id))
}

// execCall implements the 8-step CALL protocol of spec.md §4.5.
func (it *Interp) execCall(ctx *memory.Object) error {
	selPtr, err := it.pop(ctx)
	if err != nil {
		return err
	}
	selObj, err := it.Mem.Deref(selPtr)
	if err != nil {
		return err
	}
	selector, err := memory.BytesValue(selObj)
	if err != nil {
		return err
	}

	arity := dispatch.Arity(selector)
	args := make([]memory.Ptr, arity)
	for i := arity - 1; i >= 0; i-- {
		v, err := it.pop(ctx)
		if err != nil {
			return err
		}
		args[i] = v
	}

	rcvrPtr, err := it.pop(ctx)
	if err != nil {
		return err
	}

	var startClass memory.Ptr
	var flags dispatch.Flags
	var boundReceiver memory.Ptr

	if rcvrPtr.IsSuper() {
		encodedClass, err := it.Mem.Deref(memory.Ptr(rcvrPtr.SuperClass()))
		if err != nil {
			return err
		}
		startClass = class.Superclass(encodedClass)
		flags = dispatch.Flags{}
		// The super-sentinel is never stored durably (spec.md §3); the
		// real receiver bound into the new context stays self, i.e. the
		// enclosing (currently active) context's own receiver.
		boundReceiver = ctx.Pointers[qctx.SlotReceiver]
	} else {
		rcvrObj, err := it.Mem.Deref(rcvrPtr)
		if err != nil {
			return err
		}
		boundReceiver = rcvrPtr
		if rcvrObj.ClassID == memory.ClassClass {
			startClass = memory.Ptr(rcvrObj.ID)
			flags = dispatch.Flags{StaticOnly: true}
		} else {
			startClass = memory.Ptr(rcvrObj.ClassID)
			owning, err := it.dispatchOwningClass(ctx)
			if err != nil {
				return err
			}
			flags = dispatch.Flags{AdmitProtectedPrivate: memory.ObjectID(owning) == rcvrObj.ClassID}
		}
	}

	result, err := dispatch.Lookup(it.Mem, startClass, selector, flags, it.pos())
	if err != nil {
		return err
	}

	stack := qctx.NewOrderedCollection(it.Mem, 0)
	tempvars := qctx.NewOrderedCollection(it.Mem, 0)
	argsColl := qctx.NewOrderedCollection(it.Mem, len(args))
	copy(argsColl.Pointers, args)

	id := it.Mem.NextID()
	newCtx := memory.NewPointerObject(id, memory.MethodContextClass, qctx.MethodContextSlots)
	newCtx.Pointers[qctx.SlotPC] = memory.Ptr(memory.NilObject)
	newCtx.Pointers[qctx.SlotStack] = memory.Ptr(stack.ID)
	newCtx.Pointers[qctx.SlotReceiver] = boundReceiver
	newCtx.Pointers[qctx.SlotTempVars] = memory.Ptr(tempvars.ID)
	newCtx.Pointers[qctx.SlotParentContext] = memory.Ptr(ctx.ID)
	newCtx.Pointers[qctx.SlotArgs] = memory.Ptr(argsColl.ID)
	newCtx.Pointers[qctx.SlotMethod] = memory.Ptr(result.Method.ID)
	it.Mem.Insert(newCtx)

	return it.switchTo(newCtx.ID)
}
