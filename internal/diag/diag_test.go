package diag

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestListKeepsOrderAndCounts(t *testing.T) {
	var l List
	l.Addf(WARN, "PARAM-UNKNOWN", "FOO_BAR", 22, "not in schema")
	l.Addf(ERROR, "PARAM-TYPE", "ARMING_CHECK", NoOffset, "value %v is not integral", 1.5)
	l.Addf(WARN, "PARAM-RANGE", "THR_MIN", 0, "outside [0,100]")

	if len(l) != 3 || l[0].Param != "FOO_BAR" || l[2].Param != "THR_MIN" {
		t.Fatalf("unexpected order: %v", l)
	}
	if !l.HasErrors() {
		t.Fatalf("HasErrors = false, want true")
	}
	if got := l.Count(WARN); got != 2 {
		t.Fatalf("Count(WARN) = %d, want 2", got)
	}
	if got := l.ForParam("THR_MIN"); len(got) != 1 || got[0].Code != "PARAM-RANGE" {
		t.Fatalf("ForParam = %v", got)
	}
	if s := l[1].String(); strings.Contains(s, "@") {
		t.Fatalf("diagnostic without offset rendered location: %q", s)
	}
	if s := l[0].String(); !strings.Contains(s, "@0x16") {
		t.Fatalf("diagnostic offset missing from %q", s)
	}
}

func TestWriteNDJSON(t *testing.T) {
	var l List
	l.Addf(INFO, "SER-VERBATIM", "FOO", NoOffset, "written verbatim")
	l.Addf(WARN, "EXT-DUPLICATE", "BAR", 44, "duplicate")

	var buf bytes.Buffer
	if err := l.WriteNDJSON(&buf); err != nil {
		t.Fatalf("WriteNDJSON: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var second Diagnostic
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if second.Offset != 44 || second.Severity != WARN {
		t.Fatalf("unexpected decoded diagnostic: %+v", second)
	}
}
