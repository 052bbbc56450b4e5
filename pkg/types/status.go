package types

import "errors"

// Status is a lifecycle marker. Status tokens are rendered verbatim in every
// artifact that records them and are compared byte for byte.
type Status string

// Status tokens.
const (
	StatusNotStarted  Status = "NOT_STARTED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusImplemented Status = "IMPLEMENTED" // requirements only
	StatusCompleted   Status = "COMPLETED"   // changes only
)

// ErrInvalidStatus is returned when a status token is not valid for the
// entity it is applied to.
var ErrInvalidStatus = errors.New("invalid status value")

var requirementStatuses = map[Status]bool{
	StatusNotStarted:  true,
	StatusInProgress:  true,
	StatusImplemented: true,
}

var changeStatuses = map[Status]bool{
	StatusNotStarted: true,
	StatusInProgress: true,
	StatusCompleted:  true,
}

// ParseRequirementStatus validates a requirement status token.
func ParseRequirementStatus(s string) (Status, error) {
	if !requirementStatuses[Status(s)] {
		return "", ErrInvalidStatus
	}
	return Status(s), nil
}

// ParseChangeStatus validates a change status token.
func ParseChangeStatus(s string) (Status, error) {
	if !changeStatuses[Status(s)] {
		return "", ErrInvalidStatus
	}
	return Status(s), nil
}
