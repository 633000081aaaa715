package schema

import (
	"errors"
	"fmt"
	"strings"
)

var ErrSchemaParse = errors.New("schema parse error")

// ParseError reports a malformed or ambiguous schema document. Path locates
// the offending node, e.g. "groups[0].params[2]".
type ParseError struct {
	Path  string
	Param string
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("schema")
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Param != "" {
		fmt.Fprintf(&b, " (%s)", e.Param)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrSchemaParse }

func indexPath(field string, i int) string {
	return fmt.Sprintf("%s[%d]", field, i)
}

func joinPath(base, field string, i int) string {
	if base == "" {
		return indexPath(field, i)
	}
	return base + "." + indexPath(field, i)
}
