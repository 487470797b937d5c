package models

import (
	"encoding/json"
	"fmt"
)

// Status is a file lifecycle state. The numeric values are the primary keys
// of the file_statuses reference table and define the forward order.
type Status int

const (
	StatusUnknown Status = iota
	StatusUploaded
	StatusQueued
	StatusProcessing
	StatusProcessed
	StatusFailed
)

var statusNames = map[Status]string{
	StatusUploaded:   "uploaded",
	StatusQueued:     "queued",
	StatusProcessing: "processing",
	StatusProcessed:  "processed",
	StatusFailed:     "failed",
}

// Statuses lists every valid status in table order.
func Statuses() []Status {
	return []Status{StatusUploaded, StatusQueued, StatusProcessing, StatusProcessed, StatusFailed}
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// ParseStatus maps a status name to its value.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", name)
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
