package status

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the label attached to a classified detail row.
type Status string

const (
	Pass     Status = "Pass"
	Fail     Status = "Fail"
	Inactive Status = "Inactive"
	Pending  Status = "Pending"
	Active   Status = "Active"
	Standby  Status = "Standby"
	Unknown  Status = "--"
)

var ErrUnknownStatus = errors.New("unknown status")

var all = []Status{Pass, Fail, Inactive, Pending, Active, Standby, Unknown}

// All returns every known status in declaration order.
func All() []Status {
	return append([]Status(nil), all...)
}

// Parse maps a raw label onto a known Status.
func Parse(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

func (s Status) Valid() bool {
	for _, known := range all {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
