package serialize

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/rules"
	"example.com/paramgate/internal/schema"
)

const testSchemaYAML = `
groups:
  - name: THR
    params:
      - {name: THR_MIN, type: int16, min: 0, max: 100}
      - {name: THR_MAX, type: int16, min: 0, max: 1000}
  - name: ATC
    params:
      - {name: ATC_RAT_PIT_P, type: float, min: 0, max: 1}
      - {name: ATC_INPUT_TC, type: float, default: 0.15}
params:
  - {name: FLTMODE1, type: enum, values: {0: Stabilize, 5: Loiter}}
  - {name: ARMING_CHECK, type: bitmask, bits: {0: All, 1: Baro}}
`

func loadSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sc, err := schema.Load([]byte(testSchemaYAML))
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	return sc
}

func load(t *testing.T, sc *schema.Schema, src []byte, opts extract.Options) *params.Set {
	t.Helper()
	res, err := extract.Extract(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	set, _ := rules.NewDefaultEngine(rules.DefaultRulePack()).Reconcile(res.Records, sc)
	return set
}

const mixedText = "THR_MIN=150\n" +
	"THR_MAX=420\n" +
	"ATC_RAT_PIT_P=0.135\n" +
	"FLTMODE1=5\n" +
	"ARMING_CHECK=3\n" +
	"FOO_BAR=0x2A\n" +
	"FLTMODE1_X=1\n"

func checkRoundTrip(t *testing.T, sc *schema.Schema, before *params.Set, out []byte, opts extract.Options) {
	t.Helper()
	after := load(t, sc, out, opts)
	for _, e := range before.Entries() {
		if e.Status != params.StatusValid && e.Status != params.StatusOutOfRange {
			continue
		}
		got, ok := after.Lookup(e.Name)
		if !ok {
			t.Fatalf("%s lost in round trip", e.Name)
		}
		if got.Value != e.Value {
			t.Fatalf("%s = %v after round trip, want %v", e.Name, got.Value, e.Value)
		}
	}
}

func TestRoundTripText(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte(mixedText), extract.Options{})
	for _, style := range []TextStyle{StyleEquals, StyleComma, StyleQGC} {
		t.Run(style.String(), func(t *testing.T) {
			out, _, err := Serialize(set, Format{Mode: extract.ModeText, Style: style})
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			checkRoundTrip(t, sc, set, out, extract.Options{})
		})
	}
}

func TestRoundTripBinary(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte(mixedText), extract.Options{})
	out, _, err := Serialize(set, Format{Mode: extract.ModeBinary})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(out) != set.Len()*extract.RecordSize {
		t.Fatalf("len = %d, want %d", len(out), set.Len()*extract.RecordSize)
	}
	checkRoundTrip(t, sc, set, out, extract.Options{})

	// And back again from the binary form.
	binSet := load(t, sc, out, extract.Options{})
	again, _, err := Serialize(binSet, Format{Mode: extract.ModeBinary})
	if err != nil {
		t.Fatalf("Serialize binary set: %v", err)
	}
	if !bytes.Equal(again, out) {
		t.Fatalf("binary re-serialization differs")
	}
}

func TestRoundTripEmbedded(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte(mixedText), extract.Options{})
	f := Format{Mode: extract.ModeEmbedded, PayloadMode: extract.ModeBinary, StartMarker: []byte("@PARAM@"), EndMarker: []byte("@END@")}
	out, _, err := Serialize(set, f)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.HasPrefix(out, f.StartMarker) || !bytes.HasSuffix(out, f.EndMarker) {
		t.Fatalf("payload not wrapped in markers")
	}
	image := append(bytes.Repeat([]byte{0xFF}, 32), out...)
	checkRoundTrip(t, sc, set, image, extract.Options{StartMarker: f.StartMarker, EndMarker: f.EndMarker})

	if _, _, err := Serialize(set, Format{Mode: extract.ModeEmbedded}); err == nil {
		t.Fatalf("expected error without start marker")
	}
	clash := Format{Mode: extract.ModeEmbedded, PayloadMode: extract.ModeText, StartMarker: []byte("THR_")}
	if _, _, err := Serialize(set, clash); !errors.Is(err, ErrSerialization) {
		t.Fatalf("marker clash err = %v, want ErrSerialization", err)
	}
}

func TestSerializeEncodesEdit(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte("THR_MIN=10\n"), extract.Options{})
	if err := set.SetValue("THR_MIN", 50); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	out, _, err := Serialize(set, Format{Mode: extract.ModeBinary})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	res, err := extract.Extract(context.Background(), out, extract.Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Value != 50 || res.Records[0].Tag != extract.TagInt16 {
		t.Fatalf("records = %+v", res.Records)
	}
}

func TestSerializeVerbatimEntries(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte("FOO_BAR=0x2A\nFLTMODE1=2.5\nTHR_MIN=10\n"), extract.Options{})
	out, diags, err := Serialize(set, Format{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	want := "FOO_BAR=0x2A\nFLTMODE1=2.5\nTHR_MIN=10\n"
	if string(out) != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
	if len(diags) != 2 || diags.Count(diag.INFO) != 2 || diags[0].Code != CodeVerbatim || diags[0].Param != "FOO_BAR" {
		t.Fatalf("diagnostics = %v", diags)
	}

	// Once edited, the entry is re-encoded from its value.
	if err := set.SetValue("FOO_BAR", 7); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	out, diags, err = Serialize(set, Format{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.HasPrefix(string(out), "FOO_BAR=7\n") || len(diags) != 1 {
		t.Fatalf("output = %q diagnostics = %v", out, diags)
	}
}

func TestSerializeVerbatimBinaryBytes(t *testing.T) {
	sc := loadSchema(t)
	odd, err := extract.EncodeRecord("THR_MAX", extract.Tag(42), [4]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	set := load(t, sc, odd, extract.Options{})
	if e, _ := set.Lookup("THR_MAX"); e.Status != params.StatusTypeMismatch {
		t.Fatalf("status = %v, want TypeMismatch", e.Status)
	}
	out, diags, err := Serialize(set, Format{Mode: extract.ModeBinary})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(out, odd) {
		t.Fatalf("verbatim record = % X, want % X", out, odd)
	}
	if len(diags) != 1 || diags[0].Severity != diag.INFO {
		t.Fatalf("diagnostics = %v", diags)
	}
}

func TestSerializeWidthError(t *testing.T) {
	sc := loadSchema(t)
	rec, err := extract.EncodeRecord("THR_MAX", extract.TagInt8, [4]byte{100})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	set := load(t, sc, rec, extract.Options{})
	if err := set.SetValue("THR_MAX", 500); err != nil {
		t.Fatalf("SetValue within declared range: %v", err)
	}
	_, _, err = Serialize(set, Format{Mode: extract.ModeBinary})
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
	var se *SerializationError
	if !errors.As(err, &se) || se.Param != "THR_MAX" || se.Tag != extract.TagInt8 {
		t.Fatalf("err = %#v", err)
	}
}

func TestSerializeAddedEntryUsesDeclaredType(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte("THR_MIN=10\n"), extract.Options{})
	def, _ := sc.Lookup("ATC_INPUT_TC")
	if _, err := set.Add(def, 0.25); err != nil {
		t.Fatalf("Add: %v", err)
	}
	out, _, err := Serialize(set, Format{Mode: extract.ModeBinary})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	res, err := extract.Extract(context.Background(), out, extract.Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 2 || res.Records[1].Tag != extract.TagReal32 || res.Records[1].Value != 0.25 {
		t.Fatalf("records = %+v", res.Records)
	}
}

func TestSerializeTextStyles(t *testing.T) {
	sc := loadSchema(t)
	set := load(t, sc, []byte("THR_MIN=10\nATC_RAT_PIT_P=0.135\n"), extract.Options{})
	tests := []struct {
		name string
		f    Format
		want string
	}{
		{
			name: "comma sorted",
			f:    Format{Style: StyleComma, SortByName: true},
			want: "ATC_RAT_PIT_P,0.135\nTHR_MIN,10\n",
		},
		{
			name: "qgc",
			f:    Format{Style: StyleQGC, Header: "vehicle 1"},
			want: "# vehicle 1\n1\t1\tTHR_MIN\t10\t4\n1\t1\tATC_RAT_PIT_P\t0.135\t9\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, _, err := Serialize(set, tc.f)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if string(out) != tc.want {
				t.Fatalf("output = %q, want %q", out, tc.want)
			}
		})
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		tag  extract.Tag
		v    float64
		want [4]byte
		ok   bool
	}{
		{extract.TagInt8, -1, [4]byte{0xFF}, true},
		{extract.TagUint8, 255, [4]byte{0xFF}, true},
		{extract.TagUint8, 256, [4]byte{}, false},
		{extract.TagInt16, -32768, [4]byte{0x00, 0x80}, true},
		{extract.TagUint16, -1, [4]byte{}, false},
		{extract.TagInt32, 2147483648, [4]byte{}, false},
		{extract.TagUint32, 4294967295, [4]byte{0xFF, 0xFF, 0xFF, 0xFF}, true},
		{extract.TagInt32, 1.5, [4]byte{}, false},
		{extract.TagReal32, 1, [4]byte{0x00, 0x00, 0x80, 0x3F}, true},
		{extract.Tag(42), 1, [4]byte{}, false},
	}
	for _, tc := range tests {
		got, err := EncodeValue("X", tc.tag, tc.v)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("EncodeValue(%v, %v) = % X, %v; want % X", tc.tag, tc.v, got, err, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrSerialization) {
			t.Fatalf("EncodeValue(%v, %v) err = %v, want ErrSerialization", tc.tag, tc.v, err)
		}
	}
}

func TestSplice(t *testing.T) {
	tests := []struct {
		name  string
		image string
		end   string
		want  string
	}{
		{name: "with end marker", image: "aa<S>old<E>zz", end: "<E>", want: "aa<S>new<E>zz"},
		{name: "missing end marker", image: "aa<S>old", end: "<E>", want: "aa<S>new<E>"},
		{name: "no end marker", image: "aa<S>old", end: "", want: "aa<S>new"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := "<S>new" + tc.end
			got, err := Splice([]byte(tc.image), []byte(wrapped), []byte("<S>"), []byte(tc.end))
			if err != nil {
				t.Fatalf("Splice: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("Splice = %q, want %q", got, tc.want)
			}
		})
	}
	if _, err := Splice([]byte("none"), []byte("<S>"), []byte("<S>"), nil); err == nil {
		t.Fatalf("expected error without start marker")
	}
}
