package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/shoplist/internal/ir"
)

// itemFields are the keys an item assertion may check.
var itemFields = []string{"text", "checked", "updated_at", "updated_by"}

// AssertionError is returned when an assertion fails.
// It includes the replica's document to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Replica  string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Doc      *ir.Doc
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " on %s", e.Replica)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Doc != nil {
		if data, err := ir.MarshalCanonical(*e.Doc); err == nil {
			fmt.Fprintf(&buf, "\nDocument:\n  %s\n", data)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	if a.Type == AssertConverged {
		return assertConverged(result)
	}

	doc, ok := result.Docs[a.Replica]
	if !ok {
		return fmt.Errorf("unknown replica %q", a.Replica)
	}

	switch a.Type {
	case AssertItem:
		return assertItem(doc, a)
	case AssertAbsent:
		if _, live := doc.Items[a.ID]; live {
			return &AssertionError{
				Type:     a.Type,
				Replica:  a.Replica,
				Expected: fmt.Sprintf("item %s absent", a.ID),
				Actual:   "item is live",
				Doc:      &doc,
			}
		}
	case AssertTombstone:
		ts, ok := doc.Tombstones[a.ID]
		if !ok || ts != a.TS {
			actual := "no tombstone"
			if ok {
				actual = fmt.Sprintf("tombstone at %d", ts)
			}
			return &AssertionError{
				Type:     a.Type,
				Replica:  a.Replica,
				Expected: fmt.Sprintf("tombstone for %s at %d", a.ID, a.TS),
				Actual:   actual,
				Doc:      &doc,
			}
		}
	case AssertListName:
		if doc.ListName != a.Name {
			return &AssertionError{
				Type:     a.Type,
				Replica:  a.Replica,
				Expected: fmt.Sprintf("list name %q", a.Name),
				Actual:   fmt.Sprintf("list name %q", doc.ListName),
			}
		}
	case AssertDuplicates:
		if got := result.Duplicates[a.Replica]; got != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Replica:  a.Replica,
				Expected: fmt.Sprintf("%d duplicates dropped", *a.Count),
				Actual:   fmt.Sprintf("%d duplicates dropped", got),
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertItem subset-matches the item's fields against a.Expect.
func assertItem(doc ir.Doc, a Assertion) error {
	item, ok := doc.Items[a.ID]
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("item %s present", a.ID),
			Actual:   "item not found",
			Doc:      &doc,
		}
	}

	actual := map[string]any{
		"text":       item.Text,
		"checked":    item.Checked,
		"updated_at": item.UpdatedAt,
		"updated_by": item.UpdatedBy,
	}
	var mismatches []string
	for _, key := range itemFields {
		want, ok := a.Expect[key]
		if !ok {
			continue
		}
		if !valuesEqual(want, actual[key]) {
			mismatches = append(mismatches, fmt.Sprintf("%s: want %v, got %v", key, want, actual[key]))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("item %s matching %v", a.ID, a.Expect),
			Actual:   strings.Join(mismatches, "; "),
			Doc:      &doc,
		}
	}
	return nil
}

// assertConverged checks that every replica holds an equal document.
func assertConverged(result *Result) error {
	var (
		first   string
		firstID string
	)
	for id, doc := range result.Docs {
		digest, err := ir.DocDigest(doc)
		if err != nil {
			return fmt.Errorf("digest %s: %w", id, err)
		}
		if firstID == "" {
			first, firstID = digest, id
			continue
		}
		if digest != first {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s hold the same document", firstID, id),
				Actual:   fmt.Sprintf("digests %s and %s", first, digest),
			}
		}
	}
	return nil
}

// valuesEqual compares a YAML-decoded expectation with an actual value.
// YAML decodes integers as int; documents carry int64.
func valuesEqual(want, got any) bool {
	switch w := want.(type) {
	case int:
		g, ok := got.(int64)
		return ok && g == int64(w)
	case uint64:
		g, ok := got.(int64)
		return ok && g >= 0 && uint64(g) == w
	}
	return reflect.DeepEqual(want, got)
}
