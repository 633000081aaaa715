package params

import (
	"errors"
	"reflect"
	"testing"

	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/schema"
)

func f64(v float64) *float64 { return &v }

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Definition{
		{Name: "THR_MIN", Type: schema.TypeInt16, Min: f64(0), Max: f64(100), Default: f64(0), Group: []string{"THR"}},
		{Name: "THR_MAX", Type: schema.TypeInt16, Min: f64(0), Max: f64(100), Group: []string{"THR"}},
		{Name: "FLTMODE1", Type: schema.TypeEnum, Values: []schema.ValueLabel{{Value: 0, Label: "Stabilize"}, {Value: 5, Label: "Loiter"}}, Group: []string{"FLTMODE"}},
		{Name: "ARMING_CHECK", Type: schema.TypeBitmask, Bits: []schema.BitLabel{{Bit: 0, Label: "All"}, {Bit: 1, Label: "Baro"}, {Bit: 3, Label: "GPS"}}},
		{Name: "ATC_RAT_PIT_P", Type: schema.TypeFloat, Min: f64(0), Max: f64(1), Default: f64(0.135), Group: []string{"ATC", "RAT", "PIT"}},
		{Name: "ATC_RAT_RLL_P", Type: schema.TypeFloat, Group: []string{"ATC", "RAT", "RLL"}},
		{Name: "ATC_INPUT_TC", Type: schema.TypeFloat, Group: []string{"ATC"}},
		{Name: "SYSID_SW_TYPE", Type: schema.TypeInt8, ReadOnly: true},
		{Name: "SERIAL1_BAUD", Type: schema.TypeInt8, Min: f64(1), Max: f64(100)},
	})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	return s
}

// buildSet mirrors what the reconciler produces for a clean load.
func buildSet(t *testing.T, sc *schema.Schema, values map[string]float64, order []string) *Set {
	t.Helper()
	set := New()
	for i, name := range order {
		def, _ := sc.Lookup(name)
		st := StatusValid
		if def == nil {
			st = StatusUnknown
		}
		e := &Entry{
			Name:   name,
			Value:  Normalize(def, values[name]),
			Def:    def,
			Raw:    &extract.Record{Name: name, Value: values[name], Offset: int64(i * 10), Source: extract.ModeText},
			Status: st,
		}
		if err := set.Insert(e); err != nil {
			t.Fatalf("Insert(%s): %v", name, err)
		}
	}
	return set
}

func standardSet(t *testing.T) *Set {
	sc := testSchema(t)
	order := []string{"THR_MIN", "FLTMODE1", "ATC_RAT_PIT_P", "FOO_BAR", "ATC_INPUT_TC", "THR_MAX", "ATC_RAT_RLL_P", "ARMING_CHECK", "SYSID_SW_TYPE", "SERIAL1_BAUD"}
	values := map[string]float64{
		"THR_MIN": 10, "FLTMODE1": 5, "ATC_RAT_PIT_P": 0.135, "FOO_BAR": 42,
		"ATC_INPUT_TC": 0.15, "THR_MAX": 90, "ATC_RAT_RLL_P": 0.2, "ARMING_CHECK": 1, "SYSID_SW_TYPE": 3,
		"SERIAL1_BAUD": 57,
	}
	return buildSet(t, sc, values, order)
}

func names(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestSetValueRejectsOutOfBounds(t *testing.T) {
	set := standardSet(t)
	err := set.SetValue("THR_MIN", 150)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Param != "THR_MIN" || ve.Value != 150 {
		t.Fatalf("err = %#v", err)
	}
	e, _ := set.Lookup("THR_MIN")
	if e.Value != 10 {
		t.Fatalf("Value = %v, want 10 (unchanged)", e.Value)
	}
	if e.Dirty {
		t.Fatalf("Dirty = true after rejected edit")
	}
}

func TestSetValueAccepts(t *testing.T) {
	set := standardSet(t)
	if err := set.SetValue("THR_MIN", 50); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	e, _ := set.Lookup("THR_MIN")
	if e.Value != 50 || !e.Dirty || e.Status != StatusValid {
		t.Fatalf("entry = %+v", e)
	}
	if got := names(set.Dirty()); !reflect.DeepEqual(got, []string{"THR_MIN"}) {
		t.Fatalf("Dirty() = %v", got)
	}
	set.MarkClean()
	if len(set.Dirty()) != 0 {
		t.Fatalf("Dirty() after MarkClean = %v", names(set.Dirty()))
	}
}

func TestSetValueStrictRules(t *testing.T) {
	tests := []struct {
		name   string
		param  string
		value  float64
		ok     bool
		status Status
	}{
		{name: "enum label", param: "FLTMODE1", value: 0, ok: true, status: StatusValid},
		{name: "enum without label", param: "FLTMODE1", value: 3},
		{name: "bitmask labelled bits", param: "ARMING_CHECK", value: 0b1011, ok: true, status: StatusValid},
		{name: "bitmask unlabelled bit", param: "ARMING_CHECK", value: 0b0100},
		{name: "read-only", param: "SYSID_SW_TYPE", value: 4},
		{name: "integral type fraction", param: "THR_MAX", value: 12.5},
		{name: "int8 width", param: "SERIAL1_BAUD", value: 200},
		{name: "int8 in range", param: "SERIAL1_BAUD", value: 100, ok: true, status: StatusValid},
		{name: "unbounded float", param: "ATC_RAT_RLL_P", value: 12.75, ok: true, status: StatusValid},
		{name: "unknown parameter any finite value", param: "FOO_BAR", value: -3.5, ok: true, status: StatusUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set := standardSet(t)
			before, ok := set.Lookup(tc.param)
			if !ok {
				t.Fatalf("Lookup(%s) missed", tc.param)
			}
			prev := before.Value
			err := set.SetValue(tc.param, tc.value)
			if tc.ok {
				if err != nil {
					t.Fatalf("SetValue(%s, %v): %v", tc.param, tc.value, err)
				}
				if before.Status != tc.status || !before.Dirty {
					t.Fatalf("after edit Status = %v, Dirty = %v, want %v, true", before.Status, before.Dirty, tc.status)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("SetValue(%s, %v) err = %v, want ErrValidation", tc.param, tc.value, err)
			}
			if before.Value != prev || before.Dirty {
				t.Fatalf("entry changed after rejected edit: %+v", before)
			}
		})
	}
}

func TestSetValueUnknownName(t *testing.T) {
	set := standardSet(t)
	if err := set.SetValue("NOPE", 1); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("err = %v, want ErrUnknownParameter", err)
	}
}

func TestSetValueNormalisesFloat(t *testing.T) {
	set := standardSet(t)
	if err := set.SetValue("ATC_RAT_PIT_P", 0.1); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	e, _ := set.Lookup("ATC_RAT_PIT_P")
	if e.Value != float64(float32(0.1)) {
		t.Fatalf("Value = %v, want float32 precision", e.Value)
	}
	if got := e.FormatValue(); got != "0.1" {
		t.Fatalf("FormatValue = %q, want 0.1", got)
	}
}

func TestResetToDefault(t *testing.T) {
	set := standardSet(t)
	if err := set.SetValue("ATC_RAT_PIT_P", 0.5); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := set.ResetToDefault("ATC_RAT_PIT_P"); err != nil {
		t.Fatalf("ResetToDefault: %v", err)
	}
	e, _ := set.Lookup("ATC_RAT_PIT_P")
	if e.Value != float64(float32(0.135)) || e.Dirty {
		t.Fatalf("after reset entry = %+v", e)
	}

	if err := set.SetValue("THR_MAX", 70); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := set.ResetToDefault("THR_MAX"); err != nil {
		t.Fatalf("ResetToDefault without default: %v", err)
	}
	e, _ = set.Lookup("THR_MAX")
	if e.Value != 70 || !e.Dirty {
		t.Fatalf("reset without default changed entry: %+v", e)
	}
}

func TestGroupIndex(t *testing.T) {
	set := standardSet(t)
	wantGroups := []string{"THR", "FLTMODE", "ATC/RAT/PIT", UngroupedKey, "ATC", "ATC/RAT/RLL", ""}
	if got := set.Groups(); !reflect.DeepEqual(got, wantGroups) {
		t.Fatalf("Groups() = %v, want %v", got, wantGroups)
	}
	if got := names(set.EntriesInGroup("THR")); !reflect.DeepEqual(got, []string{"THR_MIN", "THR_MAX"}) {
		t.Fatalf("EntriesInGroup(THR) = %v", got)
	}
	if got := names(set.EntriesInGroup(UngroupedKey)); !reflect.DeepEqual(got, []string{"FOO_BAR"}) {
		t.Fatalf("EntriesInGroup(ungrouped) = %v", got)
	}
	if got := names(set.EntriesInGroup("ATC")); !reflect.DeepEqual(got, []string{"ATC_INPUT_TC"}) {
		t.Fatalf("EntriesInGroup(ATC) = %v", got)
	}
	if got := names(set.Subtree("ATC")); !reflect.DeepEqual(got, []string{"ATC_RAT_PIT_P", "ATC_INPUT_TC", "ATC_RAT_RLL_P"}) {
		t.Fatalf("Subtree(ATC) = %v", got)
	}
	if got := set.EntriesInGroup("NOPE"); len(got) != 0 {
		t.Fatalf("EntriesInGroup(NOPE) = %v", names(got))
	}
}

func TestAddAndRemoveKeepIndexes(t *testing.T) {
	sc := testSchema(t)
	set := buildSet(t, sc, map[string]float64{"THR_MIN": 10}, []string{"THR_MIN"})

	def, _ := sc.Lookup("ATC_RAT_PIT_P")
	e, err := set.Add(def, 0.2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.Raw != nil || !e.Dirty || e.Tag() != extract.TagNone {
		t.Fatalf("added entry = %+v", e)
	}
	if _, err := set.Add(def, 0.3); err == nil {
		t.Fatalf("expected duplicate Add error")
	}
	thrMax, _ := sc.Lookup("THR_MAX")
	if _, err := set.Add(thrMax, 500); !errors.Is(err, ErrValidation) {
		t.Fatalf("Add out of range err = %v, want ErrValidation", err)
	}
	if got := names(set.EntriesInGroup("ATC/RAT/PIT")); !reflect.DeepEqual(got, []string{"ATC_RAT_PIT_P"}) {
		t.Fatalf("EntriesInGroup after Add = %v", got)
	}

	if err := set.Remove("THR_MIN"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := set.Lookup("THR_MIN"); ok {
		t.Fatalf("THR_MIN still present")
	}
	if got, ok := set.Lookup("ATC_RAT_PIT_P"); !ok || got != e {
		t.Fatalf("index not rebuilt after Remove")
	}
	if got := set.Groups(); !reflect.DeepEqual(got, []string{"ATC/RAT/PIT"}) {
		t.Fatalf("Groups after Remove = %v", got)
	}
	if err := set.Remove("THR_MIN"); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("second Remove err = %v", err)
	}
}

func TestFilterAndSorted(t *testing.T) {
	set := standardSet(t)
	if got := names(set.Filter(Query{Search: "atc_rat"})); !reflect.DeepEqual(got, []string{"ATC_RAT_PIT_P", "ATC_RAT_RLL_P"}) {
		t.Fatalf("Filter(search) = %v", got)
	}
	if got := names(set.Filter(Query{Search: "0.135"})); !reflect.DeepEqual(got, []string{"ATC_RAT_PIT_P"}) {
		t.Fatalf("Filter(value search) = %v", got)
	}
	if got := names(set.Filter(Query{Statuses: []Status{StatusUnknown}})); !reflect.DeepEqual(got, []string{"FOO_BAR"}) {
		t.Fatalf("Filter(status) = %v", got)
	}
	if got := names(set.Filter(Query{Categories: []Category{CategoryTECS}})); !reflect.DeepEqual(got, []string{"THR_MIN", "THR_MAX"}) {
		t.Fatalf("Filter(category) = %v", got)
	}
	if got := names(set.Filter(Query{Group: "ATC/RAT"})); !reflect.DeepEqual(got, []string{"ATC_RAT_PIT_P", "ATC_RAT_RLL_P"}) {
		t.Fatalf("Filter(group) = %v", got)
	}
	sorted := names(set.Sorted())
	if sorted[0] != "ARMING_CHECK" || sorted[len(sorted)-1] != "THR_MIN" {
		t.Fatalf("Sorted() = %v", sorted)
	}
	if counts := set.Counts(); counts[StatusValid] != 9 || counts[StatusUnknown] != 1 {
		t.Fatalf("Counts() = %v", counts)
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"Q_ASSIST_SPEED", CategoryQuadPlane},
		{"ATC_RAT_PIT_P", CategoryPIDAttitude},
		{"PSC_POSZ_P", CategoryPIDPosition},
		{"THR_MIN", CategoryTECS},
		{"SERVO1_MIN", CategoryServos},
		{"SERIAL1_BAUD", CategorySerial},
		{"BATT_FS_LOW_ACT", CategoryFailsafe},
		{"BATT_CAPACITY", CategoryBattery},
		{"fs_thr_enable", CategoryFailsafe},
		{"ARSPD_TYPE", CategorySensors},
		{"TERRAIN_ENABLE", CategoryTerrain},
		{"FOO_BAR", CategoryOther},
	}
	for _, tc := range tests {
		if got := CategoryOf(tc.name); got != tc.want {
			t.Fatalf("CategoryOf(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
	c, err := ParseCategory("Failsafe & Safety")
	if err != nil || c != CategoryFailsafe {
		t.Fatalf("ParseCategory = %v, %v", c, err)
	}
	if c.Color().Hex() != "#B22222" {
		t.Fatalf("Failsafe colour = %s", c.Color().Hex())
	}
	if len(Categories()) != int(CategoryOther)+1 {
		t.Fatalf("Categories() length = %d", len(Categories()))
	}
}

func TestDescribeAndFormat(t *testing.T) {
	set := standardSet(t)
	if e, _ := set.Lookup("FLTMODE1"); e.Describe() != "Loiter" {
		t.Fatalf("FLTMODE1 Describe = %q", e.Describe())
	}
	if err := set.SetValue("ARMING_CHECK", 0b1010); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if e, _ := set.Lookup("ARMING_CHECK"); e.Describe() != "Baro|GPS" {
		t.Fatalf("ARMING_CHECK Describe = %q", e.Describe())
	}
	tests := []struct {
		v    float64
		f32  bool
		want string
	}{
		{1500, false, "1500"},
		{2147483647, false, "2147483647"},
		{-0.5, false, "-0.5"},
		{float64(float32(0.135)), true, "0.135"},
		{1e-7, false, "1e-07"},
	}
	for _, tc := range tests {
		if got := FormatNumber(tc.v, tc.f32); got != tc.want {
			t.Fatalf("FormatNumber(%v, %v) = %q, want %q", tc.v, tc.f32, got, tc.want)
		}
	}
}
