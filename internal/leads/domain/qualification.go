package domain

import (
	"strings"

	"crm_backend/platform/apperr"
)

// QualificationInput holds the fields a lead needs before it can be qualified.
type QualificationInput struct {
	Email     *string
	FirstName string
	LastName  string
}

// MissingQualificationFields lists every required field that is blank.
func MissingQualificationFields(in QualificationInput) []string {
	missing := make([]string, 0, 3)
	if in.Email == nil || strings.TrimSpace(*in.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		missing = append(missing, "firstName")
	}
	if strings.TrimSpace(in.LastName) == "" {
		missing = append(missing, "lastName")
	}
	return missing
}

// ValidateQualification returns a Validation error naming all missing fields.
func ValidateQualification(in QualificationInput) error {
	missing := MissingQualificationFields(in)
	if len(missing) == 0 {
		return nil
	}
	return apperr.Validation("lead is missing fields required for qualification: " + strings.Join(missing, ", ")).
		WithDetails(map[string]interface{}{"missingFields": missing})
}
