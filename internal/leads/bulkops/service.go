// Package bulkops runs batch mutations and exports over leads.
// Every batch reports per-item outcomes through the bulk engine; one failing
// lead never stops the rest.
package bulkops

import (
	"context"
	"errors"
	"strings"
	"time"

	"crm_backend/internal/audit"
	"crm_backend/internal/bulk"
	"crm_backend/internal/events"
	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
	"crm_backend/platform/phone"
	"crm_backend/platform/sanitize"
	"crm_backend/platform/validator"

	"github.com/google/uuid"
)

// Operation names used in logs and LeadsBulkProcessed events.
const (
	OpDelete  = "bulkDeleteLeads"
	OpUpdate  = "bulkUpdateLeads"
	OpAssign  = "bulkAssignLeads"
	OpAddTags = "bulkAddTags"
	OpCreate  = "bulkCreateLeads"
	OpImport  = "importLeads"
)

// Repository is the data access the bulk operations need.
type Repository interface {
	repository.LeadReader
	repository.LeadWriter
	repository.TagWriter
	repository.EmailChecker
	repository.ExportReader
}

// Settings bound batch work.
type Settings struct {
	MaxItems    int
	Concurrency int
	// ExportLimit caps exported rows; zero exports everything that matches.
	ExportLimit int
}

type Service struct {
	repo     Repository
	recorder audit.Recorder
	bus      events.Bus
	val      *validator.Validator
	log      *logger.Logger
	settings Settings
	now      func() time.Time
}

func New(repo Repository, recorder audit.Recorder, bus events.Bus, val *validator.Validator, log *logger.Logger, settings Settings) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if val == nil {
		val = validator.New()
	}
	return &Service{repo: repo, recorder: recorder, bus: bus, val: val, log: log, settings: settings, now: time.Now}
}

func (s *Service) options() bulk.Options {
	return bulk.Options{Concurrency: s.settings.Concurrency}
}

// BulkDelete soft-deletes every listed lead.
func (s *Service) BulkDelete(ctx context.Context, tenantID, actorID uuid.UUID, req transport.BulkDeleteRequest) (bulk.Result, error) {
	if err := bulk.CheckSize(len(req.IDs), s.settings.MaxItems); err != nil {
		return bulk.Result{}, err
	}

	res := bulk.Run(ctx, req.IDs, s.options(), func(ctx context.Context, _ int, raw string) error {
		id, err := parseLeadID(raw)
		if err != nil {
			return err
		}
		before, err := s.load(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id, tenantID, actorID); err != nil {
			return bulk.WithEntity(mapStoreError(id, err), id)
		}
		s.recorder.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: audit.EntityLead,
			EntityID:   id,
			Action:     audit.ActionDelete,
			ActorID:    actorID,
			Changes:    audit.Changes(transport.ToLeadResponse(before), nil),
			Metadata:   map[string]interface{}{"operation": OpDelete},
		})
		return nil
	})

	s.finish(ctx, tenantID, actorID, OpDelete, res)
	return res, nil
}

// BulkUpdate applies the same patch to every listed lead.
func (s *Service) BulkUpdate(ctx context.Context, tenantID, actorID uuid.UUID, req transport.BulkUpdateRequest) (bulk.Result, error) {
	if err := bulk.CheckSize(len(req.IDs), s.settings.MaxItems); err != nil {
		return bulk.Result{}, err
	}
	if err := s.val.Struct(req.Data); err != nil {
		return bulk.Result{}, validationError("invalid update", err)
	}
	patch := toUpdateParams(req.Data, actorID)
	if patch.IsEmpty() {
		return bulk.Result{}, apperr.Validation("update contains no fields")
	}

	res := bulk.Run(ctx, req.IDs, s.options(), func(ctx context.Context, _ int, raw string) error {
		id, err := parseLeadID(raw)
		if err != nil {
			return err
		}
		before, err := s.load(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := checkPatch(before, patch); err != nil {
			return bulk.WithEntity(err, id)
		}
		after, err := s.repo.Update(ctx, id, tenantID, stampQualified(before, patch, s.now()))
		if err != nil {
			return bulk.WithEntity(mapStoreError(id, err), id)
		}
		s.recorder.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: audit.EntityLead,
			EntityID:   id,
			Action:     audit.ActionUpdate,
			ActorID:    actorID,
			Changes:    audit.Changes(transport.ToLeadResponse(before), transport.ToLeadResponse(after)),
			Metadata:   map[string]interface{}{"operation": OpUpdate},
		})
		return nil
	})

	s.finish(ctx, tenantID, actorID, OpUpdate, res)
	return res, nil
}

// BulkAssign sets or clears the owner of every listed lead. Not audited.
func (s *Service) BulkAssign(ctx context.Context, tenantID, actorID uuid.UUID, req transport.BulkAssignRequest) (bulk.Result, error) {
	if err := bulk.CheckSize(len(req.IDs), s.settings.MaxItems); err != nil {
		return bulk.Result{}, err
	}
	if !req.OwnerID.Set {
		return bulk.Result{}, apperr.Validation("ownerId is required; send null to unassign")
	}
	patch := repository.UpdateLeadParams{OwnerID: req.OwnerID.Value, OwnerIDSet: true, UpdatedBy: actorID}

	res := bulk.Run(ctx, req.IDs, s.options(), func(ctx context.Context, _ int, raw string) error {
		id, err := parseLeadID(raw)
		if err != nil {
			return err
		}
		if _, err := s.repo.Update(ctx, id, tenantID, patch); err != nil {
			return mapStoreError(id, err)
		}
		return nil
	})

	s.finish(ctx, tenantID, actorID, OpAssign, res)
	return res, nil
}

// BulkAddTags unions the normalized tags into every listed lead. Not audited.
func (s *Service) BulkAddTags(ctx context.Context, tenantID, actorID uuid.UUID, req transport.BulkAddTagsRequest) (bulk.Result, error) {
	if err := bulk.CheckSize(len(req.IDs), s.settings.MaxItems); err != nil {
		return bulk.Result{}, err
	}
	tags := domain.NormalizeTags(req.Tags)
	if len(tags) == 0 {
		return bulk.Result{}, apperr.Validation("at least one non-blank tag is required")
	}

	res := bulk.Run(ctx, req.IDs, s.options(), func(ctx context.Context, _ int, raw string) error {
		id, err := parseLeadID(raw)
		if err != nil {
			return err
		}
		if _, err := s.repo.AddTags(ctx, id, tenantID, tags, actorID); err != nil {
			return mapStoreError(id, err)
		}
		return nil
	})

	s.finish(ctx, tenantID, actorID, OpAddTags, res)
	return res, nil
}

func (s *Service) load(ctx context.Context, tenantID, id uuid.UUID) (repository.Lead, error) {
	lead, err := s.repo.GetByID(ctx, id, tenantID)
	if err != nil {
		return repository.Lead{}, mapStoreError(id, err)
	}
	return lead, nil
}

// finish logs the batch summary and announces it on the bus.
func (s *Service) finish(ctx context.Context, tenantID, actorID uuid.UUID, op string, res bulk.Result) {
	s.log.WithContext(ctx).BulkSummary(op, res.ProcessedCount, res.SuccessCount, res.FailedCount)
	s.bus.Publish(ctx, events.LeadsBulkProcessed{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		ActorID:        actorID,
		Operation:      op,
		ProcessedCount: res.ProcessedCount,
		SuccessCount:   res.SuccessCount,
		FailedCount:    res.FailedCount,
		RequestID:      logger.RequestIDFromContext(ctx),
	})
}

func parseLeadID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		// Ids that cannot exist are reported like any other missing lead.
		return uuid.Nil, apperr.NotFound("Lead not found").
			WithDetails(map[string]interface{}{"entityType": domain.EntityLead, "entityId": raw})
	}
	return id, nil
}

func mapStoreError(id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.LeadNotFound(id)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return apperr.AlreadyExists("a lead with this email already exists").
			WithDetails(map[string]interface{}{"entityType": domain.EntityLead, "entityId": id})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperr.Wrap(apperr.KindInternal, "lead store failure", err)
	}
}

func validationError(message string, err error) error {
	fields := validator.FieldErrors(err)
	if len(fields) == 0 {
		return apperr.Validation(message)
	}
	names := validator.Fields(err)
	return apperr.Validation(message+": "+strings.Join(names, ", ")).
		WithDetails(map[string]interface{}{"fields": fields})
}

func toUpdateParams(data transport.UpdateLeadFields, actorID uuid.UUID) repository.UpdateLeadParams {
	params := repository.UpdateLeadParams{
		FirstName:   trimPtr(data.FirstName),
		LastName:    trimPtr(data.LastName),
		Email:       lowerPtr(data.Email),
		Phone:       phone.NormalizePtr(data.Phone),
		CompanyName: trimPtr(data.CompanyName),
		Website:     trimPtr(data.Website),
		Industry:    trimPtr(data.Industry),
		JobTitle:    trimPtr(data.JobTitle),
		Score:       data.Score,
		Source:      trimPtr(data.Source),
		Notes:       sanitize.TextPtr(data.Notes),
		UpdatedBy:   actorID,
	}
	if data.Status != nil {
		status := string(*data.Status)
		params.Status = &status
	}
	if data.OwnerID.Set {
		params.OwnerID = data.OwnerID.Value
		params.OwnerIDSet = true
	}
	return params
}

// checkPatch applies the status guard and, for QUALIFIED, the required fields
// of the lead as it would look after the patch.
func checkPatch(current repository.Lead, patch repository.UpdateLeadParams) error {
	if patch.Status == nil {
		return nil
	}
	currentStatus, next := domain.Status(current.Status), domain.Status(*patch.Status)
	if err := domain.CheckStatusChange(currentStatus, next); err != nil {
		return err
	}
	if next != domain.StatusQualified || currentStatus == domain.StatusQualified {
		return nil
	}
	merged := domain.QualificationInput{Email: current.Email, FirstName: current.FirstName, LastName: current.LastName}
	if patch.Email != nil {
		merged.Email = patch.Email
	}
	if patch.FirstName != nil {
		merged.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		merged.LastName = *patch.LastName
	}
	return domain.ValidateQualification(merged)
}

// stampQualified sets qualified_at when the patch moves the lead into
// QUALIFIED. A lead that is already QUALIFIED keeps its original stamp.
func stampQualified(current repository.Lead, patch repository.UpdateLeadParams, at time.Time) repository.UpdateLeadParams {
	if patch.Status == nil || domain.Status(*patch.Status) != domain.StatusQualified ||
		domain.Status(current.Status) == domain.StatusQualified {
		return patch
	}
	patch.QualifiedAt = &at
	return patch
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func lowerPtr(value *string) *string {
	if value == nil {
		return nil
	}
	lowered := strings.ToLower(strings.TrimSpace(*value))
	return &lowered
}
