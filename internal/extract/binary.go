package extract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/schema"
)

// Binary record layout:
//
//	[len u8 = 21][name 16 bytes, NUL padded][tag u8][value 4 bytes LE]
const (
	RecordBodyLen = schema.MaxNameLen + 1 + 4
	RecordSize    = 1 + RecordBodyLen

	nameOffset  = 1
	tagOffset   = nameOffset + schema.MaxNameLen
	valueOffset = tagOffset + 1
)

// EncodeRecord lays out one binary record. The caller supplies the value
// bytes already narrowed to the tag's width.
func EncodeRecord(name string, tag Tag, value [4]byte) ([]byte, error) {
	if !schema.ValidName(name) {
		return nil, fmt.Errorf("invalid parameter name %q", name)
	}
	rec := make([]byte, RecordSize)
	rec[0] = RecordBodyLen
	copy(rec[nameOffset:tagOffset], name)
	rec[tagOffset] = byte(tag)
	copy(rec[valueOffset:], value[:])
	return rec, nil
}

// DecodeValue interprets 4 little-endian value bytes according to tag.
// Unknown tags decode as an unsigned 32-bit integer.
func DecodeValue(tag Tag, raw []byte) float64 {
	if len(raw) < 4 {
		return math.NaN()
	}
	u := binary.LittleEndian.Uint32(raw)
	switch tag {
	case TagUint8:
		return float64(raw[0])
	case TagInt8:
		return float64(int8(raw[0]))
	case TagUint16:
		return float64(binary.LittleEndian.Uint16(raw))
	case TagInt16:
		return float64(int16(binary.LittleEndian.Uint16(raw)))
	case TagInt32:
		return float64(int32(u))
	case TagReal32:
		return float64(math.Float32frombits(u))
	default:
		return float64(u)
	}
}

// nextBinary decodes the record at r.pos. It returns ok=false when the
// payload is exhausted or iteration must stop.
func (r *Reader) nextBinary() (Record, bool, error) {
	for r.pos < len(r.payload) {
		off := r.base + int64(r.pos)
		rest := r.payload[r.pos:]
		if rest[0] == 0 && r.mode == ModeEmbedded {
			// A zero length byte terminates an embedded table.
			r.pos = len(r.payload)
			return Record{}, false, nil
		}
		if rest[0] != RecordBodyLen {
			if r.pos == 0 {
				return Record{}, false, &ExtractionError{
					Err:    ErrUnrecognizedSource,
					Offset: off,
					Detail: fmt.Sprintf("record length byte 0x%02X, want 0x%02X", rest[0], RecordBodyLen),
				}
			}
			r.addDiag(diag.ERROR, CodeLength, "", off,
				"malformed record length 0x%02X (want 0x%02X); %d trailing bytes ignored", rest[0], RecordBodyLen, len(rest))
			r.pos = len(r.payload)
			return Record{}, false, nil
		}
		if len(rest) < RecordSize {
			r.addDiag(diag.WARN, CodeTruncated, "", off,
				"truncated record: %d of %d bytes", len(rest), RecordSize)
			r.pos = len(r.payload)
			return Record{}, false, nil
		}
		rec := rest[:RecordSize]
		r.pos += RecordSize
		r.metrics.AddRecord(RecordSize)

		rawName := rec[nameOffset:tagOffset]
		if i := bytes.IndexByte(rawName, 0); i >= 0 {
			rawName = rawName[:i]
		}
		name := string(rawName)
		if !schema.ValidName(name) {
			r.addDiag(diag.WARN, CodeName, "", off, "malformed parameter name %q; record skipped", name)
			continue
		}
		tag := Tag(rec[tagOffset])
		raw := append([]byte(nil), rec[valueOffset:RecordSize]...)
		return Record{
			Name:   name,
			Value:  DecodeValue(tag, raw),
			Tag:    tag,
			Raw:    raw,
			Offset: off,
			Source: ModeBinary,
		}, true, nil
	}
	return Record{}, false, nil
}
