// Package declarations fetches and normalizes FEMA disaster declaration
// summaries for loading into the destination table.
package declarations

import "time"

// Record is one raw disaster declaration as returned by the API: an untyped
// field-name to value mapping. Numbers arrive as json.Number, everything else
// as string, bool, or nil.
type Record map[string]any

// Batch is a column-ordered set of normalized records ready for load.
// Columns are lower-cased and sorted, so the destination schema is
// deterministic for a given field set. Missing values are nil.
type Batch struct {
	Columns []string
	Rows    [][]any
}

// Empty reports whether the batch has no rows.
func (b Batch) Empty() bool { return len(b.Rows) == 0 }

// Kind classifies the values observed in a column, for schema derivation.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

// Kinds infers a Kind per column from the batch's values. Columns holding only
// nil default to KindText; mixed int/float promotes to KindFloat; any other
// mix degrades to KindText.
func (b Batch) Kinds() []Kind {
	kinds := make([]Kind, len(b.Columns))
	seen := make([]bool, len(b.Columns))

	for _, row := range b.Rows {
		for i, v := range row {
			if v == nil {
				continue
			}
			k := kindOf(v)
			if !seen[i] {
				kinds[i] = k
				seen[i] = true
				continue
			}
			kinds[i] = mergeKinds(kinds[i], k)
		}
	}

	return kinds
}

func kindOf(v any) Kind {
	switch v.(type) {
	case time.Time:
		return KindTime
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	default:
		return KindText
	}
}

func mergeKinds(a, b Kind) Kind {
	if a == b {
		return a
	}
	if (a == KindInt && b == KindFloat) || (a == KindFloat && b == KindInt) {
		return KindFloat
	}
	return KindText
}
