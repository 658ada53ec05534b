package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"

	"attendflow/internal/attendance"
)

// flexID accepts numeric and string ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// wireStudent is the backend's student shape. Different views of the backend
// use registerNumber/class instead of roll/studentClass.
type wireStudent struct {
	ID                flexID  `json:"id"`
	Name              string  `json:"name"`
	Roll              *string `json:"roll"`
	RegisterNumber    *string `json:"registerNumber"`
	StudentClass      *string `json:"studentClass"`
	Class             *string `json:"class"`
	Status            *string `json:"status"`
	Time              *string `json:"time"`
	ParentPhoneNumber *string `json:"parentPhoneNumber"`
}

var (
	errMissingID = errors.New("student without id")
	errEmptyEcho = errors.New("empty student in response")
)

func (w wireStudent) record() attendance.Record {
	r := attendance.Record{
		ID:                string(w.ID),
		Name:              w.Name,
		Roll:              first(w.Roll, w.RegisterNumber),
		StudentClass:      first(w.StudentClass, w.Class),
		Status:            attendance.StatusUnknown,
		Time:              attendance.NoTime,
		ParentPhoneNumber: first(w.ParentPhoneNumber),
	}
	if w.Status != nil && *w.Status != "" {
		r.Status = attendance.Status(*w.Status)
	}
	if w.Time != nil && *w.Time != "" {
		r.Time = *w.Time
	}
	return r
}

func first(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func decodeStudents(body []byte) ([]attendance.Record, error) {
	var wire []wireStudent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, malformedError(body, err)
	}
	out := make([]attendance.Record, 0, len(wire))
	for _, w := range wire {
		if w.ID == "" {
			return nil, malformedError(body, errMissingID)
		}
		out = append(out, w.record())
	}
	return out, nil
}

func decodeStudent(body []byte) (attendance.Record, error) {
	var w wireStudent
	if err := json.Unmarshal(body, &w); err != nil {
		return attendance.Record{}, malformedError(body, err)
	}
	if w.ID == "" && w.Name == "" {
		return attendance.Record{}, malformedError(body, errEmptyEcho)
	}
	return w.record(), nil
}

// newStudent is the create payload. The id is left to the backend.
type newStudent struct {
	Name              string            `json:"name"`
	Roll              string            `json:"roll"`
	StudentClass      string            `json:"studentClass,omitempty"`
	Status            attendance.Status `json:"status"`
	Time              string            `json:"time"`
	ParentPhoneNumber string            `json:"parentPhoneNumber,omitempty"`
}

// Registration is a new account request.
type Registration struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	RollNumber  string `json:"rollNumber,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// User is an account as returned by the backend's auth routes. The password
// field the backend echoes is never decoded.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	RollNumber  string `json:"rollNumber,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type wireUser struct {
	ID          flexID `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	RollNumber  string `json:"rollNumber"`
	PhoneNumber string `json:"phoneNumber"`
}

func (w wireUser) user() User {
	return User{
		ID:          string(w.ID),
		Username:    w.Username,
		Email:       w.Email,
		Role:        w.Role,
		RollNumber:  w.RollNumber,
		PhoneNumber: w.PhoneNumber,
	}
}
