package attendance

import (
	"strings"
	"time"
)

// Status is the attendance classification of a record. Values received from the
// backend are kept verbatim, even when they are not one of the known constants.
type Status string

const (
	StatusUnknown Status = "Unknown"
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusLate    Status = "Late"
)

// StatusAll is the filter selector that bypasses status filtering.
const StatusAll Status = "All"

// NoTime is stored in Record.Time when there is no check-in time to show.
const NoTime = "-"

// DefaultTimeLayout renders hour:minute the way dashboards display it, e.g. "09:05 AM".
const DefaultTimeLayout = "03:04 PM"

// Valid reports whether s is one of the three statuses a user may set.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate:
		return true
	}
	return false
}

// Known reports whether s is a recognised value, Unknown included.
func (s Status) Known() bool {
	return s.Valid() || s == StatusUnknown
}

// Display maps unrecognised values to Unknown.
func (s Status) Display() Status {
	if s.Known() {
		return s
	}
	return StatusUnknown
}

// ParseStatus accepts case-insensitive input ("present", "LATE") and returns the
// canonical settable status.
func ParseStatus(raw string) (Status, error) {
	for _, s := range []Status{StatusPresent, StatusAbsent, StatusLate} {
		if strings.EqualFold(raw, string(s)) {
			return s, nil
		}
	}
	return "", invalidStatus(raw)
}

// ParseFilter is like ParseStatus but also accepts "All" and "Unknown". An empty
// string means All.
func ParseFilter(raw string) (Status, error) {
	if raw == "" || strings.EqualFold(raw, string(StatusAll)) {
		return StatusAll, nil
	}
	if strings.EqualFold(raw, string(StatusUnknown)) {
		return StatusUnknown, nil
	}
	return ParseStatus(raw)
}

// StampFor returns the Time value for a record moving to status s at now.
// Only Absent has no check-in time.
func StampFor(s Status, now time.Time, layout string) string {
	if s == StatusAbsent {
		return NoTime
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return now.Format(layout)
}
