package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"attendflow/internal/attendance"
)

const (
	notAvailable = "N/A"
	rule         = "--------------------------------------------------"
	stampLayout  = "Jan 2, 2006 3:04:05 PM"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
)

// Kinds lists the accepted report periods.
var Kinds = []string{"General", "Daily", "Weekly", "Monthly", "Annual"}

var (
	ErrUnknownFormat = errors.New("unknown report format")
	ErrUnknownKind   = errors.New("unknown report type")
)

var csvHeaders = []string{"Name", "Roll Number", "Class", "Status", "Last Sync Time"}

// ParseFormat accepts csv, text (or txt) and pdf.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "text", "txt":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
}

// ParseKind matches raw against Kinds case-insensitively. Empty means General.
func ParseKind(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Kinds[0], nil
	}
	for _, k := range Kinds {
		if strings.EqualFold(k, raw) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

func (f Format) ext() string {
	if f == FormatText {
		return "txt"
	}
	return string(f)
}

// Exporter renders record lists. It holds no state besides its settings.
type Exporter struct {
	Title string
	Now   func() time.Time
	Loc   *time.Location
}

// New creates an exporter titled title.
func New(title string, loc *time.Location) *Exporter {
	if title == "" {
		title = "Attendance Report"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{Title: title, Now: time.Now, Loc: loc}
}

// Filename suggests a download name for a report generated now.
func (e *Exporter) Filename(f Format, kind string) string {
	return fmt.Sprintf("attendance_%s_%s.%s",
		strings.ToLower(kind), e.Now().In(e.Loc).Format("2006-01-02"), f.ext())
}

// Render encodes records in format f.
func (e *Exporter) Render(f Format, records []attendance.Record, kind string) ([]byte, error) {
	switch f {
	case FormatCSV:
		return CSV(records)
	case FormatText:
		return []byte(e.Text(records, kind)), nil
	case FormatPDF:
		return e.PDF(records, kind)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func row(r attendance.Record) []string {
	return []string{orNA(r.Name), orNA(r.Roll), orNA(r.StudentClass), orNA(string(r.Status)), orNA(r.Time)}
}

// CSV renders one header line and one line per record. Blank fields become N/A.
func CSV(records []attendance.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Text renders the plain summary report.
func (e *Exporter) Text(records []attendance.Record, kind string) string {
	if len(records) == 0 {
		return "No data available.\n"
	}
	sum := attendance.Summarize(slices.Values(records))

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", e.Title)
	fmt.Fprintf(&b, "Generated on: %s\n", e.Now().In(e.Loc).Format(stampLayout))
	fmt.Fprintf(&b, "Report Type: %s\n", kind)
	b.WriteString(rule + "\n")
	b.WriteString("Summary:\n")
	fmt.Fprintf(&b, "Total Students: %d\n", sum.Total)
	fmt.Fprintf(&b, "Present: %d\n", sum.Present)
	fmt.Fprintf(&b, "Absent: %d\n", sum.Absent)
	fmt.Fprintf(&b, "Late/Delayed: %d\n", sum.Late)
	b.WriteString(rule + "\n\n")
	b.WriteString("Detailed Personnel List:\n")
	fmt.Fprintf(&b, "%-20s | %-10s | %-15s | %-10s\n", "Name", "Roll", "Class", "Status")
	for _, r := range records {
		fmt.Fprintf(&b, "%-20s | %-10s | %-15s | %s\n",
			orNA(r.Name), orNA(r.Roll), orNA(r.StudentClass), orNA(string(r.Status)))
	}
	return b.String()
}

// PDF renders the summary and the record table as an A4 document.
func (e *Exporter) PDF(records []attendance.Record, kind string) ([]byte, error) {
	sum := attendance.Summarize(slices.Values(records))

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetTitle(e.Title, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, e.Title, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Report Type: %s    Generated on: %s",
		kind, e.Now().In(e.Loc).Format(stampLayout)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Total: %d    Present: %d    Absent: %d    Late/Delayed: %d",
		sum.Total, sum.Present, sum.Absent, sum.Late), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	widths := []float64{55, 30, 40, 30, 35}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range csvHeaders {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, r := range records {
		for i, v := range row(r) {
			pdf.CellFormat(widths[i], 7, tr(v), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
