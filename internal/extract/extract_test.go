package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
)

func rawInt(v int32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b
}

func rawFloat(v float32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return b
}

func mustRecord(t *testing.T, name string, tag Tag, value [4]byte) []byte {
	t.Helper()
	rec, err := EncodeRecord(name, tag, value)
	if err != nil {
		t.Fatalf("EncodeRecord(%s): %v", name, err)
	}
	return rec
}

func findDiag(l diag.List, code string) (diag.Diagnostic, bool) {
	for _, d := range l {
		if d.Code == code {
			return d, true
		}
	}
	return diag.Diagnostic{}, false
}

func TestExtractBinaryRecords(t *testing.T) {
	var src []byte
	src = append(src, mustRecord(t, "THR_MIN", TagInt16, rawInt(150))...)
	src = append(src, mustRecord(t, "ANGLE_MAX", TagReal32, rawFloat(45.5))...)
	src = append(src, mustRecord(t, "SERIAL1_BAUD", TagUint8, rawInt(57))...)
	src = append(src, mustRecord(t, "ODD_TAG", Tag(7), rawInt(3))...)

	m := common.NewMetrics()
	res, err := Extract(context.Background(), src, Options{Metrics: m})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Mode != ModeBinary || res.PayloadMode != ModeBinary {
		t.Fatalf("mode = %v/%v, want binary", res.Mode, res.PayloadMode)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	want := []struct {
		name   string
		value  float64
		tag    Tag
		offset int64
	}{
		{"THR_MIN", 150, TagInt16, 0},
		{"ANGLE_MAX", 45.5, TagReal32, RecordSize},
		{"SERIAL1_BAUD", 57, TagUint8, 2 * RecordSize},
		{"ODD_TAG", 3, Tag(7), 3 * RecordSize},
	}
	if len(res.Records) != len(want) {
		t.Fatalf("got %d records, want %d", len(res.Records), len(want))
	}
	for i, w := range want {
		got := res.Records[i]
		if got.Name != w.name || got.Value != w.value || got.Tag != w.tag || got.Offset != w.offset {
			t.Fatalf("record %d = %+v, want %+v", i, got, w)
		}
		if len(got.Raw) != 4 || got.Source != ModeBinary {
			t.Fatalf("record %d raw = %v source = %v", i, got.Raw, got.Source)
		}
	}
	if snap := m.Snapshot(); snap.Records != 4 || snap.Bytes != int64(len(src)) {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestDecodeValueSignedWidths(t *testing.T) {
	tests := []struct {
		tag  Tag
		raw  []byte
		want float64
	}{
		{TagInt8, []byte{0xFF, 0, 0, 0}, -1},
		{TagUint8, []byte{0xFF, 0, 0, 0}, 255},
		{TagInt16, []byte{0x00, 0x80, 0, 0}, -32768},
		{TagUint16, []byte{0x00, 0x80, 0, 0}, 32768},
		{TagInt32, []byte{0xFF, 0xFF, 0xFF, 0xFF}, -1},
		{TagUint32, []byte{0xFF, 0xFF, 0xFF, 0xFF}, math.MaxUint32},
	}
	for _, tc := range tests {
		if got := DecodeValue(tc.tag, tc.raw); got != tc.want {
			t.Fatalf("DecodeValue(%v, % X) = %v, want %v", tc.tag, tc.raw, got, tc.want)
		}
	}
}

func TestExtractBinaryTruncatedTail(t *testing.T) {
	src := append(mustRecord(t, "A_ONE", TagInt8, rawInt(1)), mustRecord(t, "A_TWO", TagInt8, rawInt(2))...)
	src = append(src, RecordBodyLen, 'A', 'B', 'C')

	res, err := Extract(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	d, ok := findDiag(res.Diagnostics, CodeTruncated)
	if !ok {
		t.Fatalf("missing %s diagnostic: %v", CodeTruncated, res.Diagnostics)
	}
	if d.Severity != diag.WARN || d.Offset != 2*RecordSize {
		t.Fatalf("truncation diagnostic = %+v", d)
	}
}

func TestExtractBinaryMalformedLength(t *testing.T) {
	src := mustRecord(t, "A_ONE", TagInt8, rawInt(1))
	src = append(src, 0x07, 1, 2, 3, 4, 5, 6, 7)
	src = append(src, mustRecord(t, "A_TWO", TagInt8, rawInt(2))...)

	res, err := Extract(context.Background(), src, Options{Mode: ModeBinary})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Name != "A_ONE" {
		t.Fatalf("records = %+v, want only A_ONE", res.Records)
	}
	d, ok := findDiag(res.Diagnostics, CodeLength)
	if !ok || d.Severity != diag.ERROR || d.Offset != RecordSize {
		t.Fatalf("length diagnostic = %+v (found %v)", d, ok)
	}
}

func TestExtractUnrecognizedSource(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		mode Mode
	}{
		{name: "forced binary bad length", src: []byte{0x07, 0, 0, 0}, mode: ModeBinary},
		{name: "auto garbage", src: []byte{0xFE, 0xFF, 0x00, 0xC3}, mode: ModeAuto},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Extract(context.Background(), tc.src, Options{Mode: tc.mode})
			if !errors.Is(err, ErrUnrecognizedSource) {
				t.Fatalf("err = %v, want ErrUnrecognizedSource", err)
			}
			if !errors.Is(err, ErrExtraction) {
				t.Fatalf("err = %v, want ErrExtraction", err)
			}
			var ee *ExtractionError
			if !errors.As(err, &ee) || ee.Offset != 0 {
				t.Fatalf("err = %#v, want *ExtractionError at offset 0", err)
			}
		})
	}
}

func TestExtractDuplicateFirstWins(t *testing.T) {
	src := []byte("THR_MIN=10\nTHR_MAX=90\nTHR_MIN=20\n")
	res, err := Extract(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if res.Records[0].Value != 10 {
		t.Fatalf("THR_MIN = %v, want first occurrence 10", res.Records[0].Value)
	}
	d, ok := findDiag(res.Diagnostics, CodeDuplicate)
	if !ok || d.Param != "THR_MIN" || d.Offset != 22 || d.Severity != diag.WARN {
		t.Fatalf("duplicate diagnostic = %+v (found %v)", d, ok)
	}
}

func TestExtractTextForms(t *testing.T) {
	src := []byte("# saved by ground station\n" +
		"\n" +
		"THR_MIN=150\n" +
		"THR_MAX,90\n" +
		"ANGLE_MAX 4500 # centidegrees\n" +
		"1\t1\tRC1_TRIM\t1500\t4\n" +
		"LOG_BITMASK=0x3FF\r\n" +
		"ATC_RAT_PIT_P = 1.35e-1\n" +
		"WPNAV_SPEED 500 # cm/s, horizontal\n" +
		"RTL_ALT=1500 # cm, above home\n")
	res, err := Extract(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Mode != ModeText {
		t.Fatalf("mode = %v, want text", res.Mode)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	want := map[string]float64{
		"THR_MIN":       150,
		"THR_MAX":       90,
		"ANGLE_MAX":     4500,
		"RC1_TRIM":      1500,
		"LOG_BITMASK":   0x3FF,
		"ATC_RAT_PIT_P": 0.135,
		"WPNAV_SPEED":   500,
		"RTL_ALT":       1500,
	}
	if len(res.Records) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(res.Records), len(want), res.Records)
	}
	for _, rec := range res.Records {
		if v, ok := want[rec.Name]; !ok || v != rec.Value {
			t.Fatalf("%s = %v, want %v", rec.Name, rec.Value, v)
		}
		if rec.Name == "RC1_TRIM" && rec.Tag != TagInt16 {
			t.Fatalf("RC1_TRIM tag = %v, want int16", rec.Tag)
		}
		if rec.Name != "RC1_TRIM" && rec.Tag != TagNone {
			t.Fatalf("%s tag = %v, want none", rec.Name, rec.Tag)
		}
	}
	if last := res.Records[len(res.Records)-1]; string(last.Raw) != "1500" {
		t.Fatalf("last record raw = %q, want 1500", last.Raw)
	}
	if first := res.Records[0]; first.Offset != 27 || string(first.Raw) != "150" {
		t.Fatalf("first record = %+v", first)
	}
}

func TestExtractTextSkipsMalformedLines(t *testing.T) {
	src := []byte("GOOD_ONE=1\n" +
		"lonelytoken\n" +
		"1BAD=2\n" +
		"NOT_A_NUMBER=abc\n" +
		"NAN_VALUE=NaN\n" +
		"GOOD_TWO=2\n")
	res, err := Extract(context.Background(), src, Options{Mode: ModeText})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	for _, code := range []string{CodeSyntax, CodeName, CodeValue} {
		if _, ok := findDiag(res.Diagnostics, code); !ok {
			t.Fatalf("missing %s diagnostic in %v", code, res.Diagnostics)
		}
	}
	if n := res.Diagnostics.Count(diag.WARN); n != 4 {
		t.Fatalf("WARN count = %d, want 4", n)
	}
}

func TestExtractEmbedded(t *testing.T) {
	start, end := []byte("@PARAM@"), []byte("@END@")
	image := bytes.Repeat([]byte{0xEE}, 64)
	payloadAt := int64(len(image) + len(start))
	image = append(image, start...)
	image = append(image, mustRecord(t, "THR_MIN", TagInt16, rawInt(150))...)
	image = append(image, mustRecord(t, "THR_MAX", TagInt16, rawInt(90))...)
	image = append(image, end...)
	image = append(image, bytes.Repeat([]byte{0xEE}, 16)...)

	res, err := Extract(context.Background(), image, Options{StartMarker: start, EndMarker: end})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Mode != ModeEmbedded || res.PayloadMode != ModeBinary {
		t.Fatalf("mode = %v/%v, want embedded/binary", res.Mode, res.PayloadMode)
	}
	if len(res.Records) != 2 || len(res.Diagnostics) != 0 {
		t.Fatalf("records = %+v diagnostics = %v", res.Records, res.Diagnostics)
	}
	if res.Records[0].Offset != payloadAt || res.Records[1].Offset != payloadAt+RecordSize {
		t.Fatalf("offsets = %d, %d; want %d, %d", res.Records[0].Offset, res.Records[1].Offset, payloadAt, payloadAt+RecordSize)
	}
}

func TestExtractEmbeddedZeroTerminator(t *testing.T) {
	start := []byte("@PARAM@")
	image := append([]byte("boot"), start...)
	image = append(image, mustRecord(t, "THR_MIN", TagInt16, rawInt(150))...)
	image = append(image, 0x00, 0xDE, 0xAD, 0xBE, 0xEF)

	res, err := Extract(context.Background(), image, Options{Mode: ModeEmbedded, StartMarker: start})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 1 || len(res.Diagnostics) != 0 {
		t.Fatalf("records = %+v diagnostics = %v", res.Records, res.Diagnostics)
	}
}

func TestExtractEmbeddedUnterminated(t *testing.T) {
	image := []byte("xxxx<params>THR_MIN=150\nTHR_MAX=90\n")
	res, err := Extract(context.Background(), image, Options{
		Mode:        ModeEmbedded,
		StartMarker: []byte("<params>"),
		EndMarker:   []byte("</params>"),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	d, ok := findDiag(res.Diagnostics, CodeUnterminated)
	if !ok || d.Severity != diag.WARN || d.Offset != 12 {
		t.Fatalf("unterminated diagnostic = %+v (found %v)", d, ok)
	}
	if res.Records[0].Offset != 12 {
		t.Fatalf("first offset = %d, want 12", res.Records[0].Offset)
	}
}

func TestExtractEmbeddedMarkerErrors(t *testing.T) {
	_, err := Extract(context.Background(), []byte("no table here"), Options{Mode: ModeEmbedded})
	if !errors.Is(err, ErrNoMarker) {
		t.Fatalf("err = %v, want ErrNoMarker", err)
	}
	_, err = Extract(context.Background(), []byte("no table here"), Options{
		Mode:        ModeEmbedded,
		StartMarker: []byte("@PARAM@"),
	})
	if !errors.Is(err, ErrMarkerNotFound) {
		t.Fatalf("err = %v, want ErrMarkerNotFound", err)
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Extract(ctx, []byte("A_B=1\n"), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReaderNextStaysAtEOF(t *testing.T) {
	r, err := NewReader([]byte("A_B=1\n"), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := r.Next(); err != io.EOF {
			t.Fatalf("Next #%d err = %v, want io.EOF", i+2, err)
		}
	}
}

func TestParseMarker(t *testing.T) {
	got, err := ParseMarker("hex:DE AD be ef")
	if err != nil {
		t.Fatalf("ParseMarker: %v", err)
	}
	if !bytes.Equal(got, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("ParseMarker = % X", got)
	}
	if got, _ := ParseMarker("@PARAM@"); string(got) != "@PARAM@" {
		t.Fatalf("literal marker = %q", got)
	}
	if _, err := ParseMarker("hex:ABC"); err == nil {
		t.Fatalf("expected odd-digit error")
	}
}

func TestEncodeRecordRejectsBadName(t *testing.T) {
	if _, err := EncodeRecord("THIS_NAME_IS_TOO_LONG", TagInt8, [4]byte{}); err == nil {
		t.Fatalf("expected error for long name")
	}
}
