package declarations

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/femasync/internal/observability"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(observability.NewMetrics())
}

// cell returns the value of the named column in the given row.
func cell(t *testing.T, b Batch, row int, column string) any {
	t.Helper()
	idx := slices.Index(b.Columns, column)
	require.GreaterOrEqual(t, idx, 0, "column %q not in batch", column)
	return b.Rows[row][idx]
}

func TestNormalize_EmptyInput(t *testing.T) {
	b := newTestNormalizer().Normalize(nil)
	assert.True(t, b.Empty())
	assert.Empty(t, b.Columns)
}

func TestNormalize_LowercasesFieldNames(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{
		{"disasterNumber": json.Number("4339"), "declarationTitle": "SEVERE STORMS"},
	})

	assert.Contains(t, b.Columns, "disasternumber")
	assert.Contains(t, b.Columns, "declarationtitle")
	assert.NotContains(t, b.Columns, "disasterNumber")
}

func TestNormalize_LowercaseIdempotent(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{
		{"disasternumber": json.Number("1"), "state": "KY"},
	})
	assert.Contains(t, b.Columns, "disasternumber")
	assert.Contains(t, b.Columns, "state")
}

func TestNormalize_ParsesDates(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{{
		"declarationDate":      "2023-07-28T00:00:00.000Z",
		"incidentBeginDate":    "2023-07-26",
		"incidentEndDate":      nil,
		"disasterCloseoutDate": "not-a-date",
	}})

	decl, ok := cell(t, b, 0, "declarationdate").(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 7, 28, 0, 0, 0, 0, time.UTC), decl)

	begin, ok := cell(t, b, 0, "incidentbegindate").(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 7, 26, 0, 0, 0, 0, time.UTC), begin)

	assert.Nil(t, cell(t, b, 0, "incidentenddate"))
	assert.Nil(t, cell(t, b, 0, "disastercloseoutdate"))
}

func TestNormalize_IncidentTypeMapping_Total(t *testing.T) {
	want := map[string]string{
		"Tropical Storm": "4", "Fire": "R", "Severe Storm": "W", "Tornado": "T",
		"Straight-Line Winds": "2", "Mud/Landslide": "M", "Flood": "F", "Hurricane": "H",
		"Biological": "B", "Winter Storm": "5", "Snowstorm": "S", "Earthquake": "E",
		"Coastal Storm": "C", "Other": "Z", "Severe Ice Storm": "O", "Dam/Levee Break": "K",
		"Typhoon": "J", "Volcanic Eruption": "V", "Freezing": "G", "Toxic Substances": "X",
		"Chemical": "L", "Terrorist": "I", "Drought": "D", "Human Cause": "Y",
		"Fishing Losses": "P", "Tsunami": "A",
	}
	require.Len(t, incidentTypeCodes, len(want))

	n := newTestNormalizer()
	for incident, code := range want {
		b := n.Normalize([]Record{{"incidentType": incident}})
		assert.Equal(t, code, cell(t, b, 0, "designatedincidenttypes"), "incidentType %q", incident)
	}
}

func TestNormalize_IncidentTypeMapping_UnknownIsNull(t *testing.T) {
	n := newTestNormalizer()
	for _, incident := range []any{"Meteor Strike", "", nil, json.Number("7")} {
		b := n.Normalize([]Record{{"incidentType": incident}})
		assert.Nil(t, cell(t, b, 0, "designatedincidenttypes"))
	}
}

func TestNormalize_DropsLastIAFilingDate(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{
		{"lastIAFilingDate": "2023-08-28", "state": "KY"},
		{"state": "TN"}, // absence is not an error
	})

	assert.NotContains(t, b.Columns, "lastiafilingdate")
	assert.Contains(t, b.Columns, "state")
	assert.Len(t, b.Rows, 2)
}

func TestNormalize_CategoricalCoercion(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{
		{"state": "KY", "declarationType": "DR"},
		{"state": json.Number("12"), "declarationType": nil},
	})

	assert.Equal(t, "KY", cell(t, b, 0, "state"))
	assert.Equal(t, "DR", cell(t, b, 0, "declarationtype"))
	assert.Equal(t, "12", cell(t, b, 1, "state"))
	assert.Nil(t, cell(t, b, 1, "declarationtype"))
}

func TestNormalize_NumbersSettle(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{
		{"disasterNumber": json.Number("4339"), "iaProgramDeclared": true, "projectedAmount": json.Number("12.5")},
	})

	assert.Equal(t, int64(4339), cell(t, b, 0, "disasternumber"))
	assert.Equal(t, true, cell(t, b, 0, "iaprogramdeclared"))
	assert.Equal(t, 12.5, cell(t, b, 0, "projectedamount"))
}

func TestNormalize_UnionColumnsAcrossRecords(t *testing.T) {
	b := newTestNormalizer().Normalize([]Record{
		{"state": "KY"},
		{"declarationTitle": "FLOODING"},
	})

	assert.Contains(t, b.Columns, "state")
	assert.Contains(t, b.Columns, "declarationtitle")
	assert.Nil(t, cell(t, b, 0, "declarationtitle"))
	assert.Nil(t, cell(t, b, 1, "state"))
	assert.True(t, slices.IsSorted(b.Columns))
}

func TestNormalize_NeverMutatesInput(t *testing.T) {
	rec := Record{"incidentType": "Flood", "lastIAFilingDate": "x"}
	newTestNormalizer().Normalize([]Record{rec})

	assert.Equal(t, "Flood", rec["incidentType"])
	assert.Contains(t, rec, "lastIAFilingDate")
}
