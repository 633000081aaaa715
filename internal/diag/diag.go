// Package diag holds the ordered, severity-tagged anomaly log produced while
// extracting, reconciling and serializing parameters.
package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

// NoOffset marks a diagnostic that does not point into the source bytes.
const NoOffset int64 = -1

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Param    string   `json:"param,omitempty"`
	Message  string   `json:"message"`
	Offset   int64    `json:"offset"`
}

func (d Diagnostic) String() string {
	loc := ""
	if d.Offset >= 0 {
		loc = fmt.Sprintf(" @0x%X", d.Offset)
	}
	if d.Param != "" {
		return fmt.Sprintf("%s %s %s%s: %s", d.Severity, d.Code, d.Param, loc, d.Message)
	}
	return fmt.Sprintf("%s %s%s: %s", d.Severity, d.Code, loc, d.Message)
}

// List is an append-only sequence of diagnostics. Order is insertion order.
type List []Diagnostic

func (l *List) Add(d Diagnostic) {
	*l = append(*l, d)
}

func (l *List) Addf(sev Severity, code, param string, offset int64, format string, args ...interface{}) {
	l.Add(Diagnostic{
		Severity: sev,
		Code:     code,
		Param:    param,
		Offset:   offset,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (l *List) Merge(other List) {
	*l = append(*l, other...)
}

func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == ERROR {
			return true
		}
	}
	return false
}

// Count returns the number of diagnostics with the given severity.
func (l List) Count(sev Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// ForParam returns the diagnostics attached to a parameter, in order.
func (l List) ForParam(name string) List {
	var out List
	for _, d := range l {
		if d.Param == name {
			out = append(out, d)
		}
	}
	return out
}

// WriteNDJSON writes one JSON object per diagnostic.
func (l List) WriteNDJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, d := range l {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		bw.Write(b)
		bw.WriteString("\n")
	}
	return bw.Flush()
}

func (l List) WriteNDJSONFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return l.WriteNDJSON(f)
}
