package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// UnreachableMessage is reported for every transport failure.
const UnreachableMessage = "server unreachable"

const excerptLen = 120

// Kind classifies remote failures.
type Kind string

const (
	KindTransport Kind = "transport"
	KindRejected  Kind = "rejected"
	KindMalformed Kind = "malformed"
)

// Error is returned by every Client call that fails after the request was built.
// Message is safe to show to a user.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attendance api %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("attendance api %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("attendance api %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindTransport
}

// IsRejected reports whether the backend answered with a non-success status.
func IsRejected(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindRejected
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: UnreachableMessage, Err: err}
}

func malformedError(body []byte, err error) *Error {
	return &Error{Kind: KindMalformed, Message: excerpt(body), Err: err}
}

func rejectedError(code int, body []byte) *Error {
	msg := bodyMessage(body)
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &Error{Kind: KindRejected, StatusCode: code, Message: msg}
}

// bodyMessage extracts a message from a JSON {"message": ...} or {"error": ...}
// object, falling back to the plain text body.
func bodyMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "{") {
		var obj map[string]any
		if json.Unmarshal(body, &obj) == nil {
			for _, key := range []string{"message", "error"} {
				switch v := obj[key].(type) {
				case string:
					if v != "" {
						return v
					}
				case map[string]any:
					if m, ok := v["message"].(string); ok && m != "" {
						return m
					}
				}
			}
		}
	}
	return excerpt(body)
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if utf8.RuneCountInString(text) <= excerptLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptLen]) + "..."
}
