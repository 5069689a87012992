package declarations

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/femasync/internal/observability"
)

// categoricalFields are coerced to string columns; the value domain is
// whatever the source emits, with no validation against an external list.
var categoricalFields = []string{"state", "declarationType"}

// dateFields are parsed into timestamps; unparseable values become NULL.
var dateFields = []string{
	"declarationDate",
	"incidentBeginDate",
	"incidentEndDate",
	"disasterCloseoutDate",
}

// droppedFields are removed from every record when present.
var droppedFields = []string{"lastIAFilingDate"}

// incidentTypeCodes maps incidentType to the FEMA designated incident type
// code. Values outside this table map to NULL.
var incidentTypeCodes = map[string]string{
	"Tropical Storm":      "4",
	"Fire":                "R",
	"Severe Storm":        "W",
	"Tornado":             "T",
	"Straight-Line Winds": "2",
	"Mud/Landslide":       "M",
	"Flood":               "F",
	"Hurricane":           "H",
	"Biological":          "B",
	"Winter Storm":        "5",
	"Snowstorm":           "S",
	"Earthquake":          "E",
	"Coastal Storm":       "C",
	"Other":               "Z",
	"Severe Ice Storm":    "O",
	"Dam/Levee Break":     "K",
	"Typhoon":             "J",
	"Volcanic Eruption":   "V",
	"Freezing":            "G",
	"Toxic Substances":    "X",
	"Chemical":            "L",
	"Terrorist":           "I",
	"Drought":             "D",
	"Human Cause":         "Y",
	"Fishing Losses":      "P",
	"Tsunami":             "A",
}

// dateLayouts are tried in order when parsing date fields. OpenFEMA emits
// RFC 3339 with millisecond precision; the rest cover hand-fed data.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer cleans raw records into a load-ready Batch. Every step is
// applied per field: a value that cannot be parsed or mapped degrades to
// NULL and is counted, never raised.
type Normalizer struct {
	metrics *observability.Metrics
}

// NewNormalizer creates a Normalizer reporting into the given metrics.
func NewNormalizer(m *observability.Metrics) *Normalizer {
	return &Normalizer{metrics: m}
}

// Normalize transforms a raw record batch:
//  1. state and declarationType coerced to categorical string columns
//  2. the four date fields parsed to timestamps (unparseable -> NULL)
//  3. designatedIncidentTypes derived from incidentType (unmapped -> NULL)
//  4. lastIAFilingDate dropped
//  5. all field names lower-cased
//
// An empty input yields an empty batch and a warning. Column order is the
// sorted union of the lower-cased field names, so the destination schema is
// stable for a given field set.
func (n *Normalizer) Normalize(records []Record) Batch {
	log := zap.L().With(zap.String("component", "declarations.normalize"))

	if len(records) == 0 {
		log.Warn("no data to transform")
		return Batch{}
	}

	log.Info("starting data transformation", zap.Int("records", len(records)))

	cleaned := make([]map[string]any, 0, len(records))
	columnSet := make(map[string]struct{})

	for _, rec := range records {
		out := n.normalizeRecord(rec)
		for col := range out {
			columnSet[col] = struct{}{}
		}
		cleaned = append(cleaned, out)
		n.metrics.RecordsNormalized.Inc()
	}

	columns := make([]string, 0, len(columnSet))
	for col := range columnSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	rows := make([][]any, len(cleaned))
	for i, rec := range cleaned {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = rec[col] // absent fields stay nil
		}
		rows[i] = row
	}

	log.Info("transformation complete",
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(columns)),
	)

	return Batch{Columns: columns, Rows: rows}
}

func (n *Normalizer) normalizeRecord(rec Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	for _, field := range categoricalFields {
		if v, ok := out[field]; ok {
			out[field] = asString(v)
		}
	}

	for _, field := range dateFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		t, parsed := parseDate(v)
		if parsed {
			out[field] = t
			continue
		}
		if v != nil {
			n.metrics.FieldParseMisses.WithLabelValues(field).Inc()
		}
		out[field] = nil
	}

	incident, _ := out["incidentType"].(string)
	if code, ok := incidentTypeCodes[strings.TrimSpace(incident)]; ok {
		out["designatedIncidentTypes"] = code
	} else {
		if incident != "" {
			n.metrics.FieldParseMisses.WithLabelValues("incidentType").Inc()
		}
		out["designatedIncidentTypes"] = nil
	}

	for _, field := range droppedFields {
		delete(out, field)
	}

	// Lower-case field names last. Collisions are undefined behavior
	// upstream; last write wins here.
	lowered := make(map[string]any, len(out))
	for k, v := range out {
		lowered[strings.ToLower(k)] = concreteValue(v)
	}

	return lowered
}

// asString coerces a value to its string form for categorical columns.
func asString(v any) any {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}

// parseDate attempts the known layouts against a string value.
// The second return is false when the value is not a parseable date.
func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// concreteValue settles json.Number into int64 or float64 and flattens any
// structured values to their JSON text, leaving scalars untouched.
func concreteValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return v
	}
}
