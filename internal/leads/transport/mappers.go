package transport

import (
	"crm_backend/internal/leads/repository"
)

func ToLeadResponse(lead repository.Lead) LeadResponse {
	tags := lead.Tags
	if tags == nil {
		tags = []string{}
	}
	return LeadResponse{
		ID:                       lead.ID,
		FirstName:                lead.FirstName,
		LastName:                 lead.LastName,
		Email:                    lead.Email,
		Phone:                    lead.Phone,
		CompanyName:              lead.CompanyName,
		Website:                  lead.Website,
		Industry:                 lead.Industry,
		JobTitle:                 lead.JobTitle,
		Status:                   LeadStatus(lead.Status),
		Score:                    lead.Score,
		Tags:                     tags,
		Source:                   lead.Source,
		OwnerID:                  lead.OwnerID,
		Notes:                    lead.Notes,
		QualifiedAt:              lead.QualifiedAt,
		ConvertedAt:              lead.ConvertedAt,
		ConvertedToAccountID:     lead.ConvertedToAccountID,
		ConvertedToContactID:     lead.ConvertedToContactID,
		ConvertedToOpportunityID: lead.ConvertedToOpportunityID,
		CreatedAt:                lead.CreatedAt,
		UpdatedAt:                lead.UpdatedAt,
	}
}

func ToAccountResponse(a repository.Account) AccountResponse {
	return AccountResponse{
		ID:       a.ID,
		Name:     a.Name,
		Website:  a.Website,
		Industry: a.Industry,
		Phone:    a.Phone,
		Type:     a.Type,
		Tier:     a.Tier,
		Status:   a.Status,
		OwnerID:  a.OwnerID,
	}
}

func ToContactResponse(c repository.Contact) ContactResponse {
	return ContactResponse{
		ID:              c.ID,
		AccountID:       c.AccountID,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Email:           c.Email,
		Phone:           c.Phone,
		JobTitle:        c.JobTitle,
		IsPrimary:       c.IsPrimary,
		IsDecisionMaker: c.IsDecisionMaker,
		OwnerID:         c.OwnerID,
	}
}

func ToOpportunityResponse(o repository.Opportunity) OpportunityResponse {
	return OpportunityResponse{
		ID:          o.ID,
		AccountID:   o.AccountID,
		ContactID:   o.ContactID,
		StageID:     o.StageID,
		Name:        o.Name,
		Amount:      o.Amount,
		Probability: o.Probability,
		Status:      o.Status,
		OwnerID:     o.OwnerID,
	}
}

func ToExportedLead(lead repository.Lead) ExportedLead {
	tags := lead.Tags
	if tags == nil {
		tags = []string{}
	}
	return ExportedLead{
		ID:          lead.ID,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Email:       lead.Email,
		Phone:       lead.Phone,
		CompanyName: lead.CompanyName,
		Status:      LeadStatus(lead.Status),
		Source:      lead.Source,
		Score:       lead.Score,
		Tags:        tags,
		OwnerID:     lead.OwnerID,
		CreatedAt:   lead.CreatedAt,
	}
}

func ToJobResponse(job repository.Job) JobResponse {
	return JobResponse{
		ID:         job.ID,
		Kind:       job.Kind,
		Status:     job.Status,
		ItemCount:  job.ItemCount,
		Result:     job.Result,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
}
