package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"Present": StatusPresent,
		"present": StatusPresent,
		"ABSENT":  StatusAbsent,
		"late":    StatusLate,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "Unknown", "Leave", "All"} {
		_, err := ParseStatus(bad)
		assert.ErrorIs(t, err, ErrInvalidStatus, bad)
	}
}

func TestParseFilter(t *testing.T) {
	got, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, StatusAll, got)

	got, err = ParseFilter("all")
	require.NoError(t, err)
	assert.Equal(t, StatusAll, got)

	got, err = ParseFilter("unknown")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, got)

	_, err = ParseFilter("sick")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestStatusDisplay(t *testing.T) {
	assert.Equal(t, StatusLate, StatusLate.Display())
	assert.Equal(t, StatusUnknown, StatusUnknown.Display())
	assert.Equal(t, StatusUnknown, Status("On Leave").Display())
	assert.False(t, StatusUnknown.Valid())
	assert.True(t, StatusUnknown.Known())
}

func TestStampFor(t *testing.T) {
	at := time.Date(2026, 1, 2, 14, 7, 0, 0, time.UTC)
	assert.Equal(t, NoTime, StampFor(StatusAbsent, at, ""))
	assert.Equal(t, "02:07 PM", StampFor(StatusUnknown, at, ""))
	assert.Equal(t, "02:07 PM", StampFor(StatusPresent, at, ""))
	assert.Equal(t, "14:07", StampFor(StatusLate, at, "15:04"))
}

func TestHasNotificationTarget(t *testing.T) {
	assert.True(t, Record{ParentPhoneNumber: "+1555"}.HasNotificationTarget())
	assert.False(t, Record{}.HasNotificationTarget())
	assert.False(t, Record{ParentPhoneNumber: "  "}.HasNotificationTarget())
	assert.False(t, Record{ParentPhoneNumber: "unlinked"}.HasNotificationTarget())
}
