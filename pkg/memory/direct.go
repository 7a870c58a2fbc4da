package memory

import (
	"encoding/binary"
	"math"

	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// Integers box as 4-byte little-endian two's complement signed values;
// floats box as full 8-byte IEEE-754 doubles. This differs from the
// legacy Python prototype, which packed every number (floats included)
// as a 4-byte int — spec.md requires proper double storage, so that bug
// is not reproduced here.

// NewInteger builds a DirectObject of class IntegerClass boxing v.
func NewInteger(id ObjectID, v int32) *Object {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return NewDirectObject(id, IntegerClass, b)
}

// NewFloat builds a DirectObject of class FloatClass boxing v.
func NewFloat(id ObjectID, v float64) *Object {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return NewDirectObject(id, FloatClass, b)
}

// NewByteString builds a DirectObject of the given class (ByteStringClass
// or SymbolClass) wrapping raw bytes verbatim.
func NewByteString(id ObjectID, classID ObjectID, s []byte) *Object {
	cp := make([]byte, len(s))
	copy(cp, s)
	return NewDirectObject(id, classID, cp)
}

// IntValue unboxes obj as a 4-byte little-endian signed integer.
func IntValue(obj *Object) (int32, error) {
	if obj.Kind != DirectObject || len(obj.Bytes) != 4 {
		return 0, vmerr.New(vmerr.TypeError, vmerr.Position{}, "object %d is not a 4-byte integer", obj.ID)
	}
	return int32(binary.LittleEndian.Uint32(obj.Bytes)), nil
}

// FloatValue unboxes obj as an 8-byte IEEE-754 double.
func FloatValue(obj *Object) (float64, error) {
	if obj.Kind != DirectObject || len(obj.Bytes) != 8 {
		return 0, vmerr.New(vmerr.TypeError, vmerr.Position{}, "object %d is not an 8-byte float", obj.ID)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(obj.Bytes)), nil
}

// BytesValue returns a direct object's raw byte storage (byte string or
// symbol payload).
func BytesValue(obj *Object) ([]byte, error) {
	if obj.Kind != DirectObject {
		return nil, vmerr.New(vmerr.TypeError, vmerr.Position{}, "object %d is not a direct object", obj.ID)
	}
	return obj.Bytes, nil
}
