package utils

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Date is a calendar day in request bodies. JSON accepts "2006-01-02" or a
// full RFC3339 timestamp and always encodes as "2006-01-02".
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	return Date{Time: DateOnly(t)}
}

// Ptr returns the day as a *time.Time, nil for a nil Date.
func (d *Date) Ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := DateOnly(d.Time)
	return &t
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(time.DateOnly))
}

// UnmarshalJSON reports a bad value as *json.UnmarshalTypeError so the decoder
// attaches the field name.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return &json.UnmarshalTypeError{Value: string(b), Type: reflect.TypeOf(Date{})}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return &json.UnmarshalTypeError{Value: "string " + raw, Type: reflect.TypeOf(Date{})}
	}
	d.Time = DateOnly(t)
	return nil
}

// IsDateType reports whether t is Date, for callers describing decode errors.
func IsDateType(t reflect.Type) bool {
	return t == reflect.TypeOf(Date{})
}
