// Package domain provides core business rules for the leads bounded context.
package domain

import (
	"crm_backend/platform/apperr"
)

// Status is the lifecycle state of a lead.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusContacted   Status = "CONTACTED"
	StatusQualified   Status = "QUALIFIED"
	StatusConverted   Status = "CONVERTED"
	StatusUnqualified Status = "UNQUALIFIED"
)

var knownStatuses = map[Status]struct{}{
	StatusNew:         {},
	StatusContacted:   {},
	StatusQualified:   {},
	StatusConverted:   {},
	StatusUnqualified: {},
}

// terminalStatuses have no outbound transitions.
var terminalStatuses = map[Status]bool{
	StatusConverted:   true,
	StatusUnqualified: true,
}

// convertibleStatuses may enter the conversion transition.
var convertibleStatuses = []Status{StatusQualified, StatusContacted}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := knownStatuses[s]
	return s, ok
}

// IsTerminal reports whether no further transitions are defined from s.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// ConvertibleStatuses returns the statuses from which a lead may be converted.
func ConvertibleStatuses() []Status {
	out := make([]Status, len(convertibleStatuses))
	copy(out, convertibleStatuses)
	return out
}

// ErrLeadAlreadyConverted is the guard error for any transition out of CONVERTED.
func ErrLeadAlreadyConverted() *apperr.Error {
	return apperr.InvalidTransition("lead has already been converted").WithCode(apperr.CodeLeadAlreadyConverted)
}

// CheckQualify guards the QUALIFIED transition. The converted check wins over
// every other rule.
func CheckQualify(current Status) error {
	switch current {
	case StatusConverted:
		return ErrLeadAlreadyConverted()
	case StatusQualified:
		return apperr.InvalidTransition("lead is already qualified")
	case StatusUnqualified:
		return apperr.InvalidTransition("unqualified leads cannot be qualified")
	}
	return nil
}

// CheckConvertible guards the CONVERTED transition.
func CheckConvertible(current Status) error {
	if current == StatusConverted {
		return ErrLeadAlreadyConverted()
	}
	for _, s := range convertibleStatuses {
		if current == s {
			return nil
		}
	}
	return apperr.Precondition("lead must be contacted or qualified before conversion").
		WithDetails(map[string]interface{}{"status": current})
}

// qualifiableStatuses may enter the QUALIFIED transition.
var qualifiableStatuses = []Status{StatusNew, StatusContacted}

// QualifiableStatuses returns the statuses from which a lead may be qualified.
func QualifiableStatuses() []Status {
	out := make([]Status, len(qualifiableStatuses))
	copy(out, qualifiableStatuses)
	return out
}

// Strings converts statuses for storage queries.
func Strings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CheckStatusChange guards a status set directly by an update rather than a
// dedicated transition. Entering QUALIFIED additionally needs ValidateQualification.
func CheckStatusChange(current, next Status) error {
	switch {
	case current == next:
		return nil
	case current == StatusConverted:
		return ErrLeadAlreadyConverted()
	case next == StatusConverted:
		return apperr.InvalidTransition("leads can only become CONVERTED through conversion")
	case current == StatusUnqualified:
		return apperr.InvalidTransition("unqualified leads cannot change status")
	}
	return nil
}
