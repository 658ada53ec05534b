package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendflow/internal/attendance"
)

func fixture() []attendance.Record {
	return []attendance.Record{
		{ID: "1", Name: "Alice Johnson", Roll: "CS001", StudentClass: "Grade 10", Status: attendance.StatusPresent, Time: "09:00 AM"},
		{ID: "2", Name: "Bob", StudentClass: "Grade 10", Status: attendance.StatusAbsent, Time: attendance.NoTime},
		{ID: "3", Name: "Charlie, Jr.", Roll: "CS003", Status: attendance.StatusLate, Time: "09:15 AM"},
	}
}

func testExporter() *Exporter {
	e := New("Test Academy - Attendance Report", time.UTC)
	e.Now = func() time.Time { return time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC) }
	return e
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCSVGolden(t *testing.T) {
	out, err := CSV(fixture())
	require.NoError(t, err)
	newGolden(t).Assert(t, "csv_report", out)
}

func TestTextGolden(t *testing.T) {
	newGolden(t).Assert(t, "text_report", []byte(testExporter().Text(fixture(), "Daily")))
}

func TestEmptyInputs(t *testing.T) {
	assert.Equal(t, "No data available.\n", testExporter().Text(nil, "Daily"))

	out, err := CSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "Name,Roll Number,Class,Status,Last Sync Time\n", string(out))
}

func TestPDF(t *testing.T) {
	out, err := testExporter().Render(FormatPDF, fixture(), "Weekly")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestParseFormatAndKind(t *testing.T) {
	f, err := ParseFormat("TXT")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	k, err := ParseKind("monthly")
	require.NoError(t, err)
	assert.Equal(t, "Monthly", k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, "General", k)

	_, err = ParseKind("hourly")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestFilenameAndContentType(t *testing.T) {
	e := testExporter()
	assert.Equal(t, "attendance_daily_2026-10-16.txt", e.Filename(FormatText, "Daily"))
	assert.Equal(t, "attendance_general_2026-10-16.pdf", e.Filename(FormatPDF, "General"))
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
}
