package domain

import (
	"fmt"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/apperrors"
)

// Status is the delivery state of a message. It only moves forward:
// sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusRank = map[Status]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s in the lifecycle, or -1 for unknown values.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Before reports whether s comes strictly earlier in the lifecycle than other.
func (s Status) Before(other Status) bool {
	return s.Valid() && other.Valid() && s.Rank() < other.Rank()
}

// LowerThan lists every status a message may hold for a write to s to be an advance.
func (s Status) LowerThan() []Status {
	out := make([]Status, 0, 2)
	for _, st := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if st.Before(s) {
			out = append(out, st)
		}
	}
	return out
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", apperrors.ErrBadRequest, v)
	}
	return s, nil
}
