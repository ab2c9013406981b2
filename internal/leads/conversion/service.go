// Package conversion turns a lead into an account, a primary contact and
// optionally an opportunity.
//
// Entities are written one by one. If a later step fails, the entities already
// created are soft-deleted in reverse order before the error is returned, and
// the lead is only marked CONVERTED by a guarded update after every entity
// exists. That update is the claim: when two conversions of the same lead race,
// exactly one wins and the loser rolls its own entities back.
package conversion

import (
	"context"
	"errors"
	"strings"
	"time"

	"crm_backend/internal/audit"
	"crm_backend/internal/events"
	"crm_backend/internal/idempotency"
	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
	"crm_backend/platform/phone"

	"github.com/google/uuid"
)

// OperationName scopes idempotency keys of conversions.
const OperationName = "convert_lead"

// Repository is the data access the conversion orchestrator needs.
type Repository interface {
	repository.LeadReader
	repository.LeadTransitioner
	repository.ConversionWriter
	repository.StageReader
}

type Service struct {
	repo     Repository
	guard    *idempotency.Guard
	recorder audit.Recorder
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
}

// New creates the orchestrator. A nil guard disables idempotent replay.
func New(repo Repository, guard *idempotency.Guard, recorder audit.Recorder, bus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, guard: guard, recorder: recorder, bus: bus, log: log, now: time.Now}
}

// Convert runs the conversion. With an idempotency key, a repeated call returns
// the first call's result without side effects and with Replayed set.
func (s *Service) Convert(ctx context.Context, tenantID, actorID, leadID uuid.UUID, req transport.ConvertLeadRequest) (transport.ConversionResponse, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || s.guard == nil {
		return s.convert(ctx, tenantID, actorID, leadID, req)
	}
	if err := idempotency.ValidateKey(key); err != nil {
		return transport.ConversionResponse{}, err
	}

	resp, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Key(tenantID, OperationName, key),
		func(ctx context.Context) (transport.ConversionResponse, error) {
			return s.convert(ctx, tenantID, actorID, leadID, req)
		})
	if err != nil {
		return transport.ConversionResponse{}, err
	}
	resp.Replayed = replayed
	return resp, nil
}

func (s *Service) convert(ctx context.Context, tenantID, actorID, leadID uuid.UUID, req transport.ConvertLeadRequest) (transport.ConversionResponse, error) {
	lead, err := s.repo.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.ConversionResponse{}, domain.LeadNotFound(leadID)
	}
	if err != nil {
		return transport.ConversionResponse{}, internal("load lead", err)
	}
	if err := domain.CheckConvertible(domain.Status(lead.Status)); err != nil {
		return transport.ConversionResponse{}, err
	}

	// The stage is resolved before anything is written so a tenant without
	// stages ends with no side effects.
	var stage *repository.Stage
	if req.CreateOpportunity {
		resolved, err := s.resolveStage(ctx, tenantID, req.StageID)
		if err != nil {
			return transport.ConversionResponse{}, err
		}
		stage = &resolved
	}

	saga := newCompensation(tenantID)

	accountName := domain.ResolveAccountName(req.AccountName, lead.CompanyName, lead.FirstName, lead.LastName)
	account, err := s.repo.CreateAccount(ctx, repository.CreateAccountParams{
		OrganizationID: tenantID,
		OwnerID:        lead.OwnerID,
		Name:           accountName,
		Website:        lead.Website,
		Industry:       lead.Industry,
		Phone:          phone.NormalizePtr(lead.Phone),
		Type:           domain.AccountTypeProspect,
		Tier:           domain.AccountTierSMB,
		Status:         domain.AccountStatusActive,
		CreatedBy:      actorID,
	})
	if err != nil {
		return transport.ConversionResponse{}, s.abort(ctx, saga, leadID, "create account", err)
	}
	saga.push(audit.EntityAccount, account.ID, s.repo.SoftDeleteAccount)

	contact, err := s.repo.CreateContact(ctx, repository.CreateContactParams{
		OrganizationID:  tenantID,
		AccountID:       account.ID,
		OwnerID:         lead.OwnerID,
		FirstName:       lead.FirstName,
		LastName:        lead.LastName,
		Email:           lead.Email,
		Phone:           phone.NormalizePtr(lead.Phone),
		JobTitle:        lead.JobTitle,
		IsPrimary:       true,
		IsDecisionMaker: false,
		CreatedBy:       actorID,
	})
	if err != nil {
		return transport.ConversionResponse{}, s.abort(ctx, saga, leadID, "create contact", err)
	}
	saga.push(audit.EntityContact, contact.ID, s.repo.SoftDeleteContact)

	var opportunity *repository.Opportunity
	if stage != nil {
		name := domain.OpportunityName(accountName)
		if req.OpportunityName != nil && strings.TrimSpace(*req.OpportunityName) != "" {
			name = strings.TrimSpace(*req.OpportunityName)
		}
		var amount float64
		if req.OpportunityAmount != nil {
			amount = *req.OpportunityAmount
		}
		contactID := contact.ID
		created, err := s.repo.CreateOpportunity(ctx, repository.CreateOpportunityParams{
			OrganizationID: tenantID,
			AccountID:      account.ID,
			ContactID:      &contactID,
			LeadID:         &leadID,
			StageID:        stage.ID,
			OwnerID:        lead.OwnerID,
			Name:           name,
			Amount:         amount,
			Probability:    domain.StageProbability(stage.Probability),
			Status:         domain.OpportunityStatusOpen,
			CreatedBy:      actorID,
		})
		if err != nil {
			return transport.ConversionResponse{}, s.abort(ctx, saga, leadID, "create opportunity", err)
		}
		saga.push(audit.EntityOpportunity, created.ID, s.repo.SoftDeleteOpportunity)
		opportunity = &created
	}

	var opportunityID *uuid.UUID
	if opportunity != nil {
		id := opportunity.ID
		opportunityID = &id
	}
	convertedAt := s.now().UTC()
	converted, err := s.repo.MarkConverted(ctx, repository.MarkConvertedParams{
		ID:             leadID,
		OrganizationID: tenantID,
		From:           domain.Strings(domain.ConvertibleStatuses()),
		AccountID:      account.ID,
		ContactID:      contact.ID,
		OpportunityID:  opportunityID,
		ActorID:        actorID,
		ConvertedAt:    convertedAt,
	})
	if errors.Is(err, repository.ErrStatusChanged) {
		return transport.ConversionResponse{}, s.loseClaim(ctx, saga, tenantID, leadID)
	}
	if err != nil {
		return transport.ConversionResponse{}, s.abort(ctx, saga, leadID, "mark lead converted", err)
	}

	resp := transport.ConversionResponse{
		Lead:    transport.ToLeadResponse(converted),
		Account: transport.ToAccountResponse(account),
		Contact: transport.ToContactResponse(contact),
	}
	metadata := map[string]interface{}{
		"accountId": account.ID,
		"contactId": contact.ID,
	}
	if opportunity != nil {
		opp := transport.ToOpportunityResponse(*opportunity)
		resp.Opportunity = &opp
		metadata["opportunityId"] = opportunity.ID
	}

	s.recorder.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		EntityType: audit.EntityLead,
		EntityID:   leadID,
		Action:     audit.ActionConvert,
		ActorID:    actorID,
		Changes:    audit.Changes(transport.ToLeadResponse(lead), resp.Lead),
		Metadata:   metadata,
	})
	s.bus.Publish(ctx, events.LeadConverted{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        leadID,
		TenantID:      tenantID,
		ActorID:       actorID,
		AccountID:     account.ID,
		ContactID:     contact.ID,
		OpportunityID: opportunityID,
		ConvertedAt:   convertedAt,
		RequestID:     logger.RequestIDFromContext(ctx),
	})

	return resp, nil
}

func (s *Service) resolveStage(ctx context.Context, tenantID uuid.UUID, stageID *uuid.UUID) (repository.Stage, error) {
	if stageID != nil {
		stage, err := s.repo.GetActiveStage(ctx, *stageID, tenantID)
		if errors.Is(err, repository.ErrStageNotFound) {
			return repository.Stage{}, apperr.Precondition("stage is not an active pipeline stage").
				WithDetails(map[string]interface{}{"entityType": "Stage", "entityId": *stageID})
		}
		if err != nil {
			return repository.Stage{}, internal("load pipeline stage", err)
		}
		return stage, nil
	}

	stages, err := s.repo.ListActiveStages(ctx, tenantID)
	if err != nil {
		return repository.Stage{}, internal("list pipeline stages", err)
	}
	if len(stages) == 0 {
		return repository.Stage{}, apperr.Precondition("no active pipeline stage; configure pipeline stages before converting with an opportunity")
	}
	return stages[0], nil
}

// loseClaim handles a guarded update that matched no row: another request
// converted, deleted or moved the lead after it was loaded.
func (s *Service) loseClaim(ctx context.Context, saga *compensation, tenantID, leadID uuid.UUID) error {
	report := saga.rollback(ctx)
	if len(report.Orphaned) > 0 {
		s.log.WithContext(ctx).Error("conversion rollback incomplete",
			"lead_id", leadID, "compensated", report.Compensated, "orphaned", report.Orphaned)
	}

	current, err := s.repo.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.LeadNotFound(leadID)
	}
	if err != nil {
		return internal("reload lead", err)
	}
	if err := domain.CheckConvertible(domain.Status(current.Status)); err != nil {
		return err
	}
	return apperr.InvalidTransition("lead changed while it was being converted").
		WithDetails(map[string]interface{}{"entityType": domain.EntityLead, "entityId": leadID})
}

// abort rolls back created entities and reports the failure as Internal.
func (s *Service) abort(ctx context.Context, saga *compensation, leadID uuid.UUID, step string, cause error) error {
	report := saga.rollback(ctx)
	s.log.WithContext(ctx).Error("lead conversion failed",
		"lead_id", leadID, "step", step, "error", cause,
		"compensated", report.Compensated, "orphaned", report.Orphaned)

	return apperr.Wrap(apperr.KindInternal, "lead conversion failed at "+step, cause).
		WithOp("conversion.Convert").
		WithDetails(map[string]interface{}{
			"entityType":  domain.EntityLead,
			"entityId":    leadID,
			"step":        step,
			"compensated": report.Compensated,
			"orphaned":    report.Orphaned,
		})
}

func internal(message string, err error) error {
	return apperr.Wrap(apperr.KindInternal, message, err).WithOp("conversion.Convert")
}
