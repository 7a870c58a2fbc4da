// Package image implements the QSIL binary image codec (spec.md §6): a
// flat, length-prefixed encoding of every live object in the memory
// plus the active context id, all little-endian.
package image

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/hazelqsil/qsil/pkg/memory"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// legacyMagic is the 4-byte header the superseded 48-bit association
// image format opened with. This codec never reads that format; it only
// recognizes the magic well enough to fail with a clear diagnostic
// instead of silently misparsing it as the current format.
var legacyMagic = [4]byte{'Q', 'S', 'I', 'L'}

// Load reads a QSIL image from r: a u32 object count, that many object
// records, then a trailing u32 active-context id.
func Load(r io.Reader) (*memory.ObjectMemory, memory.ObjectID, error) {
	br := bufio.NewReader(r)

	var peek [4]byte
	if _, err := io.ReadFull(br, peek[:]); err != nil {
		return nil, 0, vmerr.Wrap(err, vmerr.MalformedImage, vmerr.Position{}, "reading image header")
	}
	if peek == legacyMagic {
		return nil, 0, vmerr.New(vmerr.MalformedImage, vmerr.Position{},
			"image uses the superseded association-based format; this runtime reads only the flat binary format")
	}

	numObjects := binary.LittleEndian.Uint32(peek[:])

	mem := memory.New()
	for i := uint32(0); i < numObjects; i++ {
		obj, err := readObject(br)
		if err != nil {
			return nil, 0, vmerr.Wrap(err, vmerr.MalformedImage, vmerr.Position{}, "reading object %d of %d", i, numObjects)
		}
		if _, err := mem.Get(obj.ID); err == nil {
			return nil, 0, vmerr.New(vmerr.MalformedImage, vmerr.Position{}, "object id %d appears more than once", obj.ID)
		}
		mem.Insert(obj)
	}

	var activeBuf [4]byte
	if _, err := io.ReadFull(br, activeBuf[:]); err != nil {
		return nil, 0, vmerr.Wrap(err, vmerr.MalformedImage, vmerr.Position{}, "reading active context id")
	}
	activeID := memory.ObjectID(binary.LittleEndian.Uint32(activeBuf[:]))

	if err := validate(mem, activeID); err != nil {
		return nil, 0, err
	}

	return mem, activeID, nil
}

func readObject(r io.Reader) (*memory.Object, error) {
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	kind := memory.Kind(binary.LittleEndian.Uint32(header[0:4]))
	objID := memory.ObjectID(binary.LittleEndian.Uint32(header[4:8]))
	classID := memory.ObjectID(binary.LittleEndian.Uint32(header[8:12]))
	storageCount := binary.LittleEndian.Uint32(header[12:16])

	obj := newObject(objID, classID, kind)

	switch kind {
	case memory.DirectObject:
		buf := make([]byte, storageCount)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		obj.Bytes = buf
	case memory.PointerObject, memory.DirectPointerObject:
		ptrs := make([]memory.Ptr, storageCount)
		raw := make([]byte, 4)
		for i := uint32(0); i < storageCount; i++ {
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, err
			}
			ptrs[i] = memory.Ptr(binary.LittleEndian.Uint32(raw))
		}
		obj.Pointers = ptrs
	default:
		return nil, vmerr.New(vmerr.MalformedImage, vmerr.Position{}, "object %d has unknown kind %d", objID, kind)
	}

	return obj, nil
}

// newObject is a tiny constructor used only by the codec, which needs
// to build an Object before it knows which of Bytes/Pointers it will
// fill in.
func newObject(id, classID memory.ObjectID, kind memory.Kind) *memory.Object {
	return &memory.Object{ID: id, ClassID: classID, Kind: kind}
}

func validate(mem *memory.ObjectMemory, activeID memory.ObjectID) error {
	for id := memory.ObjectID(0); id < memory.NumWellKnown; id++ {
		if _, err := mem.Get(id); err != nil {
			return vmerr.Wrap(err, vmerr.MalformedImage, vmerr.Position{}, "well-known object %d is missing", id)
		}
	}

	activeCtx, err := mem.Get(activeID)
	if err != nil {
		return vmerr.Wrap(err, vmerr.MalformedImage, vmerr.Position{}, "active context id %d does not name a live object", activeID)
	}
	if activeCtx.ClassID != memory.MethodContextClass && activeCtx.ClassID != memory.BlockContextClass {
		return vmerr.New(vmerr.MalformedImage, vmerr.Position{}, "active context %d is neither a method nor block context", activeID)
	}

	var walkErr error
	mem.Each(func(obj *memory.Object) {
		if walkErr != nil {
			return
		}
		if _, err := mem.Get(obj.ClassID); err != nil {
			walkErr = vmerr.Wrap(err, vmerr.DanglingReference, vmerr.Position{}, "object %d names missing class %d", obj.ID, obj.ClassID)
			return
		}
		if obj.Kind == memory.PointerObject || obj.Kind == memory.DirectPointerObject {
			for _, p := range obj.Pointers {
				if p.IsSuper() {
					continue
				}
				if _, err := mem.Get(p.ID()); err != nil {
					walkErr = vmerr.Wrap(err, vmerr.DanglingReference, vmerr.Position{}, "object %d has dangling pointer slot to %d", obj.ID, p.ID())
					return
				}
			}
		}
	})
	return walkErr
}

// Save writes mem and activeID to w in the format Load reads.
func Save(w io.Writer, mem *memory.ObjectMemory, activeID memory.ObjectID) error {
	bw := bufio.NewWriter(w)

	ids := mem.IDs()
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(ids)))
	if _, err := bw.Write(countBuf[:]); err != nil {
		return err
	}

	for _, id := range ids {
		obj, err := mem.Get(id)
		if err != nil {
			return err
		}
		if err := writeObject(bw, obj); err != nil {
			return err
		}
	}

	var activeBuf [4]byte
	binary.LittleEndian.PutUint32(activeBuf[:], uint32(activeID))
	if _, err := bw.Write(activeBuf[:]); err != nil {
		return err
	}

	return bw.Flush()
}

func writeObject(w io.Writer, obj *memory.Object) error {
	storageCount := len(obj.Bytes)
	if obj.Kind != memory.DirectObject {
		storageCount = len(obj.Pointers)
	}

	var header [16]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(obj.Kind))
	binary.LittleEndian.PutUint32(header[4:8], uint32(obj.ID))
	binary.LittleEndian.PutUint32(header[8:12], uint32(obj.ClassID))
	binary.LittleEndian.PutUint32(header[12:16], uint32(storageCount))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	switch obj.Kind {
	case memory.DirectObject:
		_, err := w.Write(obj.Bytes)
		return err
	case memory.PointerObject, memory.DirectPointerObject:
		raw := make([]byte, 4)
		for _, p := range obj.Pointers {
			binary.LittleEndian.PutUint32(raw, uint32(p))
			if _, err := w.Write(raw); err != nil {
				return err
			}
		}
		return nil
	default:
		return vmerr.New(vmerr.MalformedImage, vmerr.Position{}, "object %d has unknown kind %d", obj.ID, obj.Kind)
	}
}
