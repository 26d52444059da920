package chain

import (
	"bytes"
	"encoding/binary"
)

// bcsWriter emits Binary Canonical Serialization as used by the ledger:
// little-endian integers, ULEB128 lengths and enum variant indexes.
type bcsWriter struct {
	buf bytes.Buffer
}

func (w *bcsWriter) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *bcsWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *bcsWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *bcsWriter) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *bcsWriter) uleb128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			w.buf.WriteByte(b | 0x80)
			continue
		}
		w.buf.WriteByte(b)
		return
	}
}

func (w *bcsWriter) fixed(b []byte) {
	w.buf.Write(b)
}

func (w *bcsWriter) bytes(b []byte) {
	w.uleb128(uint64(len(b)))
	w.buf.Write(b)
}

func (w *bcsWriter) str(s string) {
	w.bytes([]byte(s))
}

func (w *bcsWriter) id(id ID) {
	w.fixed(id[:])
}

func (w *bcsWriter) typeTag(t TypeTag) {
	w.uleb128(uint64(t.Kind))
	switch t.Kind {
	case KindVector:
		if t.Elem != nil {
			w.typeTag(*t.Elem)
		}
	case KindStruct:
		if t.Struct != nil {
			w.structTag(*t.Struct)
		}
	}
}

func (w *bcsWriter) structTag(s StructTag) {
	w.id(s.Address)
	w.str(s.Module)
	w.str(s.Name)
	w.uleb128(uint64(len(s.TypeParams)))
	for _, p := range s.TypeParams {
		w.typeTag(p)
	}
}

func (w *bcsWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// BCSVectorU8 encodes b as a length-prefixed byte vector.
func BCSVectorU8(b []byte) []byte {
	var w bcsWriter
	w.bytes(b)
	return w.Bytes()
}
