// Package lifecycle applies guarded status transitions to leads.
// Conversion lives in its own package; this one owns qualification.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"crm_backend/internal/audit"
	"crm_backend/internal/events"
	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
	"crm_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Repository is the data access the lifecycle service needs.
type Repository interface {
	repository.LeadReader
	repository.LeadTransitioner
}

type Service struct {
	repo     Repository
	recorder audit.Recorder
	bus      events.Bus
	now      func() time.Time
}

func New(repo Repository, recorder audit.Recorder, bus events.Bus) *Service {
	return &Service{repo: repo, recorder: recorder, bus: bus, now: time.Now}
}

// Qualify moves a NEW or CONTACTED lead to QUALIFIED.
func (s *Service) Qualify(ctx context.Context, tenantID, actorID, leadID uuid.UUID, req transport.QualifyLeadRequest) (transport.LeadResponse, error) {
	before, err := s.load(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	if err := s.checkQualify(before); err != nil {
		return transport.LeadResponse{}, err
	}

	after, err := s.repo.MarkQualified(ctx, leadID, tenantID,
		domain.Strings(domain.QualifiableStatuses()), sanitize.TextPtr(req.Notes), actorID, s.now().UTC())
	if errors.Is(err, repository.ErrStatusChanged) {
		return transport.LeadResponse{}, s.explainLostRace(ctx, tenantID, leadID)
	}
	if err != nil {
		return transport.LeadResponse{}, apperr.Wrap(apperr.KindInternal, "qualify lead", err).WithOp("lifecycle.Qualify")
	}

	resp := transport.ToLeadResponse(after)
	s.recorder.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		EntityType: audit.EntityLead,
		EntityID:   leadID,
		Action:     audit.ActionUpdate,
		ActorID:    actorID,
		Changes:    audit.Changes(transport.ToLeadResponse(before), resp),
		Metadata:   map[string]interface{}{"transition": string(domain.StatusQualified)},
	})
	s.bus.Publish(ctx, events.LeadQualified{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		TenantID:  tenantID,
		ActorID:   actorID,
		RequestID: logger.RequestIDFromContext(ctx),
	})

	return resp, nil
}

func (s *Service) load(ctx context.Context, tenantID, leadID uuid.UUID) (repository.Lead, error) {
	lead, err := s.repo.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, domain.LeadNotFound(leadID)
	}
	if err != nil {
		return repository.Lead{}, apperr.Wrap(apperr.KindInternal, "load lead", err).WithOp("lifecycle.Qualify")
	}
	return lead, nil
}

// checkQualify applies the status guard before the required-field check, so
// a converted lead always reports LeadAlreadyConverted.
func (s *Service) checkQualify(lead repository.Lead) error {
	if err := domain.CheckQualify(domain.Status(lead.Status)); err != nil {
		return err
	}
	return domain.ValidateQualification(domain.QualificationInput{
		Email:     lead.Email,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
	})
}

// explainLostRace re-reads a lead whose guarded update matched no row.
func (s *Service) explainLostRace(ctx context.Context, tenantID, leadID uuid.UUID) error {
	current, err := s.load(ctx, tenantID, leadID)
	if err != nil {
		return err
	}
	if err := domain.CheckQualify(domain.Status(current.Status)); err != nil {
		return err
	}
	return apperr.InvalidTransition("lead changed while it was being qualified").
		WithDetails(map[string]interface{}{"entityType": domain.EntityLead, "entityId": leadID})
}
