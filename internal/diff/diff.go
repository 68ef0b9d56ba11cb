// Package diff renders the inline before/after markup shown for a
// changed field. The edge-case policy here (the size cap and the
// date-value exclusion) is a correctness contract for the change
// view, not styling.
package diff

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/pmezard/go-difflib/difflib"
)

// maxDiffLen is the cap on either side of a rendered diff. Larger
// values are shown as plain before/after with no diff markup.
const maxDiffLen = 50000

// Span delimiters. Deleted and inserted runs get distinct wrappers so
// a renderer can style them independently; equal runs pass through.
const (
	deleteOpen = `<span class="diff-delete">`
	insertOpen = `<span class="diff-insert">`
	spanClose  = `</span>`
	junkChars  = " \t\n"
)

// Renderable reports whether a pair of values qualifies for inline
// diffing: both under the size cap and neither parsing as a calendar
// date or timestamp. Diffing two dates character by character is
// meaningless, so date-valued fields are shown as plain before/after.
func Renderable(oldText, newText string) bool {
	if len(oldText) > maxDiffLen || len(newText) > maxDiffLen {
		return false
	}

	return !isDate(oldText) && !isDate(newText)
}

// Render produces the annotated diff of two strings using
// longest-common-subsequence opcodes. Whitespace is junk for alignment
// purposes but still appears in the output, so whitespace-only noise
// never drives the matching. Inputs are expected to be HTML-escaped
// already (Annotate does this).
//
// An unknown opcode from the matcher is an invariant violation and is
// surfaced as an error rather than swallowed.
func Render(oldText, newText string) (string, error) {
	oldChars := splitChars(oldText)
	newChars := splitChars(newText)

	matcher := difflib.NewMatcherWithJunk(
		oldChars, newChars,
		true,
		func(s string) bool { return strings.Contains(junkChars, s) },
	)

	var out strings.Builder

	for _, op := range matcher.GetOpCodes() {
		a := strings.Join(oldChars[op.I1:op.I2], "")
		b := strings.Join(newChars[op.J1:op.J2], "")

		switch op.Tag {
		case 'e':
			out.WriteString(a)
		case 'r':
			out.WriteString(deleteOpen + a + spanClose)
			out.WriteString(insertOpen + b + spanClose)
		case 'd':
			out.WriteString(deleteOpen + a + spanClose)
		case 'i':
			out.WriteString(insertOpen + b + spanClose)
		default:
			return "", fmt.Errorf("unknown diff opcode %q", op.Tag)
		}
	}

	return out.String(), nil
}

// Annotated is the rendered form of one field change.
type Annotated struct {
	Old  string  `json:"old"`
	New  string  `json:"new"`
	Diff *string `json:"diff,omitempty"`
}

// Annotate stringifies a field's before/after values and, when the
// pair qualifies, attaches the inline diff. Dict and list values are
// rendered as sorted-key JSON so their textual form is stable.
func Annotate(oldValue, newValue any) (Annotated, error) {
	oldText, oldIsString := castToString(oldValue)
	newText, newIsString := castToString(newValue)

	ann := Annotated{Old: oldText, New: newText}

	if !oldIsString || !newIsString || !Renderable(oldText, newText) {
		return ann, nil
	}

	escapedOld := html.EscapeString(oldText)
	escapedNew := html.EscapeString(newText)

	rendered, err := Render(escapedOld, escapedNew)
	if err != nil {
		return ann, err
	}

	ann.Old = escapedOld
	ann.New = escapedNew
	ann.Diff = &rendered

	return ann, nil
}

// castToString flattens a value to its display string. ok reports
// whether the result is genuinely textual and therefore diffable:
// composite values are serialized for display but still diffable,
// while nil and non-string scalars are not.
func castToString(v any) (s string, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case map[string]any, []any:
		// Sorted keys keep the serialized form stable across renders.
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), false
		}
		return string(b), true
	default:
		return fmt.Sprint(t), false
	}
}

// isDate reports whether a string parses as a calendar date/timestamp.
func isDate(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}

	_, err := dateparse.ParseAny(s)

	return err == nil
}

// splitChars splits a string into single-character strings, the unit
// the SequenceMatcher aligns on.
func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}

	return out
}
