package domain

import (
	"fmt"
	"strings"
)

// Defaults applied to entities created by conversion.
const (
	AccountTypeProspect = "PROSPECT"
	AccountTierSMB      = "SMB"
	AccountStatusActive = "ACTIVE"

	OpportunityStatusOpen = "OPEN"

	DefaultStageProbability = 10
)

// ResolveAccountName picks the account name: explicit input, then the lead's
// company, then a name synthesized from the lead's person name.
func ResolveAccountName(input *string, companyName *string, firstName, lastName string) string {
	if input != nil && strings.TrimSpace(*input) != "" {
		return strings.TrimSpace(*input)
	}
	if companyName != nil && strings.TrimSpace(*companyName) != "" {
		return strings.TrimSpace(*companyName)
	}
	return fmt.Sprintf("%s %s's Company", strings.TrimSpace(firstName), strings.TrimSpace(lastName))
}

// OpportunityName is the default name of an opportunity created from a lead.
func OpportunityName(accountName string) string {
	return accountName + " - New Opportunity"
}

// StageProbability returns the stage's win probability or the default.
func StageProbability(probability *int) int {
	if probability == nil {
		return DefaultStageProbability
	}
	return *probability
}
