package bulkops

import (
	"context"
	"strconv"
	"strings"

	"crm_backend/internal/audit"
	"crm_backend/internal/bulk"
	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/phone"
	"crm_backend/platform/sanitize"

	"github.com/google/uuid"
)

// createItem is one lead to create. parseErr is set when an import row could
// not be turned into a request.
type createItem struct {
	req      transport.CreateLeadRequest
	parseErr error
}

// BulkCreate creates every lead in the batch. Rows are validated one by one and
// emails must be unique inside the tenant and inside the batch.
func (s *Service) BulkCreate(ctx context.Context, tenantID, actorID uuid.UUID, req transport.BulkCreateRequest) (bulk.Result, error) {
	if err := bulk.CheckSize(len(req.Leads), s.settings.MaxItems); err != nil {
		return bulk.Result{}, err
	}
	items := make([]createItem, len(req.Leads))
	for i, lead := range req.Leads {
		items[i] = createItem{req: lead}
	}
	return s.createBatch(ctx, tenantID, actorID, OpCreate, items), nil
}

// Import maps loosely typed rows onto leads and creates them like BulkCreate.
// Column names are matched case-insensitively, ignoring spaces, dashes and
// underscores ("First Name", "first_name" and "firstName" are the same column).
func (s *Service) Import(ctx context.Context, tenantID, actorID uuid.UUID, req transport.ImportLeadsRequest) (bulk.Result, error) {
	if err := bulk.CheckSize(len(req.Rows), s.settings.MaxItems); err != nil {
		return bulk.Result{}, err
	}
	items := make([]createItem, len(req.Rows))
	for i, row := range req.Rows {
		lead, err := ParseImportRow(row)
		if err == nil && lead.Source == nil && req.Source != nil {
			lead.Source = req.Source
		}
		items[i] = createItem{req: lead, parseErr: err}
	}
	return s.createBatch(ctx, tenantID, actorID, OpImport, items), nil
}

func (s *Service) createBatch(ctx context.Context, tenantID, actorID uuid.UUID, op string, items []createItem) bulk.Result {
	duplicates := batchDuplicates(items)
	existing := s.existingEmails(ctx, tenantID, items)

	res := bulk.Run(ctx, items, s.options(), func(ctx context.Context, index int, item createItem) error {
		if item.parseErr != nil {
			return item.parseErr
		}
		if err := s.val.Struct(item.req); err != nil {
			return validationError("invalid lead", err)
		}
		if duplicates[index] {
			return apperr.AlreadyExists("email appears more than once in this batch")
		}
		if email := normalizeEmail(item.req.Email); email != nil && existing[*email] {
			return apperr.AlreadyExists("a lead with this email already exists")
		}

		lead, err := s.repo.Create(ctx, toCreateParams(tenantID, actorID, item.req))
		if err != nil {
			return mapStoreError(uuid.Nil, err)
		}
		s.recorder.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: audit.EntityLead,
			EntityID:   lead.ID,
			Action:     audit.ActionCreate,
			ActorID:    actorID,
			Changes:    audit.Changes(nil, transport.ToLeadResponse(lead)),
			Metadata:   map[string]interface{}{"operation": op},
		})
		return nil
	})

	s.finish(ctx, tenantID, actorID, op, res)
	return res
}

// existingEmails pre-checks the batch against stored leads. A failed lookup is
// logged and the unique index decides per row instead.
func (s *Service) existingEmails(ctx context.Context, tenantID uuid.UUID, items []createItem) map[string]bool {
	emails := make([]string, 0, len(items))
	for _, item := range items {
		if email := normalizeEmail(item.req.Email); email != nil {
			emails = append(emails, *email)
		}
	}
	if len(emails) == 0 {
		return map[string]bool{}
	}
	found, err := s.repo.ExistingEmails(ctx, tenantID, emails)
	if err != nil {
		s.log.WithContext(ctx).DatabaseError("existing emails lookup", err)
		return map[string]bool{}
	}
	return found
}

// batchDuplicates marks every row whose email was already used by an earlier row.
func batchDuplicates(items []createItem) map[int]bool {
	seen := make(map[string]bool, len(items))
	dup := make(map[int]bool)
	for i, item := range items {
		if item.parseErr != nil {
			continue
		}
		email := normalizeEmail(item.req.Email)
		if email == nil {
			continue
		}
		if seen[*email] {
			dup[i] = true
			continue
		}
		seen[*email] = true
	}
	return dup
}

func toCreateParams(tenantID, actorID uuid.UUID, req transport.CreateLeadRequest) repository.CreateLeadParams {
	status := domain.StatusNew
	if req.Status != "" {
		status = domain.Status(req.Status)
	}
	return repository.CreateLeadParams{
		OrganizationID: tenantID,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Email:          normalizeEmail(req.Email),
		Phone:          phone.NormalizePtr(req.Phone),
		CompanyName:    trimPtr(req.CompanyName),
		Website:        trimPtr(req.Website),
		Industry:       trimPtr(req.Industry),
		JobTitle:       trimPtr(req.JobTitle),
		Status:         string(status),
		Score:          req.Score,
		Tags:           domain.NormalizeTags(req.Tags),
		Source:         trimPtr(req.Source),
		OwnerID:        req.OwnerID,
		Notes:          sanitize.TextPtr(req.Notes),
		CreatedBy:      actorID,
	}
}

func normalizeEmail(email *string) *string {
	if email == nil || strings.TrimSpace(*email) == "" {
		return nil
	}
	return lowerPtr(email)
}

// ParseImportRow converts one import row into a create request. Unknown
// columns are ignored; malformed score or owner values fail the row.
func ParseImportRow(row transport.ImportRow) (transport.CreateLeadRequest, error) {
	var req transport.CreateLeadRequest
	for rawKey, rawValue := range row {
		value := strings.TrimSpace(rawValue)
		if value == "" {
			continue
		}
		switch importColumn(rawKey) {
		case "firstname":
			req.FirstName = value
		case "lastname":
			req.LastName = value
		case "email":
			req.Email = &value
		case "phone":
			req.Phone = &value
		case "company", "companyname":
			req.CompanyName = &value
		case "website":
			req.Website = &value
		case "industry":
			req.Industry = &value
		case "jobtitle", "title":
			req.JobTitle = &value
		case "status":
			req.Status = transport.LeadStatus(strings.ToUpper(value))
		case "score":
			score, err := strconv.Atoi(value)
			if err != nil {
				return transport.CreateLeadRequest{}, apperr.Validation("score must be a whole number").
					WithDetails(map[string]interface{}{"field": "score", "value": rawValue})
			}
			req.Score = score
		case "tags":
			req.Tags = splitTags(value)
		case "source":
			req.Source = &value
		case "ownerid", "owner":
			id, err := uuid.Parse(value)
			if err != nil {
				return transport.CreateLeadRequest{}, apperr.Validation("ownerId must be a UUID").
					WithDetails(map[string]interface{}{"field": "ownerId", "value": rawValue})
			}
			req.OwnerID = &id
		case "notes":
			req.Notes = &value
		}
	}
	return req, nil
}

func importColumn(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
}

func splitTags(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool { return r == ';' || r == ',' })
}
