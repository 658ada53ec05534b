package attendance

import (
	"strings"
)

// UnlinkedPhone marks a record whose parent contact was never linked.
const UnlinkedPhone = "UNLINKED"

// Record is one student's attendance entry for the current session.
type Record struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Roll              string `json:"roll"`
	StudentClass      string `json:"studentClass"`
	Status            Status `json:"status"`
	Time              string `json:"time"`
	ParentPhoneNumber string `json:"parentPhoneNumber,omitempty"`
}

// HasNotificationTarget reports whether a parent can be contacted for r.
func (r Record) HasNotificationTarget() bool {
	phone := strings.TrimSpace(r.ParentPhoneNumber)
	return phone != "" && !strings.EqualFold(phone, UnlinkedPhone)
}

// StatusChange is the persist payload for a status transition.
type StatusChange struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Time   string `json:"time"`
}

// Patch carries a partial edit of a record. Nil fields are left untouched.
type Patch struct {
	Name              *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Roll              *string `json:"roll,omitempty" validate:"omitempty,min=1,max=40"`
	StudentClass      *string `json:"studentClass,omitempty" validate:"omitempty,max=60"`
	Status            *Status `json:"status,omitempty" validate:"omitempty,oneof=Present Absent Late Unknown"`
	ParentPhoneNumber *string `json:"parentPhoneNumber,omitempty" validate:"omitempty,max=32"`
}

// Draft is a record that does not exist on the backend yet.
type Draft struct {
	Name              string `json:"name" validate:"required,max=120"`
	Roll              string `json:"roll" validate:"required,max=40"`
	StudentClass      string `json:"studentClass" validate:"max=60"`
	Status            Status `json:"status" validate:"omitempty,oneof=Present Absent Late Unknown"`
	ParentPhoneNumber string `json:"parentPhoneNumber" validate:"max=32"`
}

func (d Draft) record() Record {
	r := Record{
		Name:              d.Name,
		Roll:              d.Roll,
		StudentClass:      d.StudentClass,
		Status:            d.Status,
		Time:              NoTime,
		ParentPhoneNumber: d.ParentPhoneNumber,
	}
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	return r
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Roll == nil && p.StudentClass == nil && p.Status == nil && p.ParentPhoneNumber == nil
}

// apply returns r with the patch fields merged in. Time is left alone.
func (p Patch) apply(r Record) Record {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Roll != nil {
		r.Roll = *p.Roll
	}
	if p.StudentClass != nil {
		r.StudentClass = *p.StudentClass
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ParentPhoneNumber != nil {
		r.ParentPhoneNumber = *p.ParentPhoneNumber
	}
	return r
}
