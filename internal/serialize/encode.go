package serialize

import (
	"encoding/binary"
	"math"

	"fortio.org/safecast"

	"example.com/paramgate/internal/extract"
)

// EncodeValue narrows v to tag's width and returns the 4 little-endian value
// bytes of a binary record.
func EncodeValue(name string, tag extract.Tag, v float64) ([4]byte, error) {
	var out [4]byte
	fail := func(reason string) ([4]byte, error) {
		return out, &SerializationError{Param: name, Value: v, Tag: tag, Reason: reason}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fail("value is not finite")
	}
	if tag == extract.TagReal32 {
		if math.Abs(v) > math.MaxFloat32 {
			return fail("value overflows real32")
		}
		binary.LittleEndian.PutUint32(out[:], math.Float32bits(float32(v)))
		return out, nil
	}
	if !tag.Integral() {
		return fail("no encoding for tag")
	}
	if v != math.Trunc(v) {
		return fail("value is not a whole number")
	}
	i, err := safecast.Convert[int64](v)
	if err != nil {
		return fail("value does not fit tag width")
	}
	var u uint32
	switch tag {
	case extract.TagInt8:
		var x int8
		x, err = safecast.Conv[int8](i)
		u = uint32(uint8(x))
	case extract.TagUint8:
		var x uint8
		x, err = safecast.Conv[uint8](i)
		u = uint32(x)
	case extract.TagInt16:
		var x int16
		x, err = safecast.Conv[int16](i)
		u = uint32(uint16(x))
	case extract.TagUint16:
		var x uint16
		x, err = safecast.Conv[uint16](i)
		u = uint32(x)
	case extract.TagInt32:
		var x int32
		x, err = safecast.Conv[int32](i)
		u = uint32(x)
	case extract.TagUint32:
		u, err = safecast.Conv[uint32](i)
	}
	if err != nil {
		return fail("value does not fit tag width")
	}
	binary.LittleEndian.PutUint32(out[:], u)
	return out, nil
}
