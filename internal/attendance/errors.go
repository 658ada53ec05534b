package attendance

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidPatch         = errors.New("invalid patch")
	ErrInvalidRecord        = errors.New("invalid record")
	ErrNotLoaded            = errors.New("records not loaded")
	ErrSuperseded           = errors.New("response superseded by a newer change")
	ErrNoNotificationTarget = errors.New("no parent phone number linked")
	ErrNoRecipients         = errors.New("no absent students with valid parent phone numbers")
)

func invalidStatus(raw string) error {
	return fmt.Errorf("%w: %q (want Present, Absent or Late)", ErrInvalidStatus, raw)
}
