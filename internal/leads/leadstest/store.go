// Package leadstest provides in-memory doubles of the leads repository,
// audit recorder and event bus for service tests.
package leadstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"

	"github.com/google/uuid"
)

// Store is an in-memory repository.LeadsRepository with the same tenant,
// soft-delete, uniqueness and guarded-transition rules as the Postgres one.
type Store struct {
	mu sync.Mutex

	leads         map[uuid.UUID]*repository.Lead
	deletedLeads  map[uuid.UUID]bool
	accounts      map[uuid.UUID]*repository.Account
	contacts      map[uuid.UUID]*repository.Contact
	opportunities map[uuid.UUID]*repository.Opportunity
	softDeleted   map[uuid.UUID]bool
	stages        []repository.Stage
	jobs          map[uuid.UUID]*repository.Job
	clock         time.Time

	// Failure injection. A non-nil error is returned by the named call.
	FailGetByID           error
	FailCreate            error
	FailCreateAccount     error
	FailCreateContact     error
	FailCreateOpportunity error
	FailMarkConverted     error
	FailSoftDelete        error

	// BeforeMarkConverted runs just before the conversion claim is evaluated.
	BeforeMarkConverted func()
}

func NewStore() *Store {
	return &Store{
		leads:         make(map[uuid.UUID]*repository.Lead),
		deletedLeads:  make(map[uuid.UUID]bool),
		accounts:      make(map[uuid.UUID]*repository.Account),
		contacts:      make(map[uuid.UUID]*repository.Contact),
		opportunities: make(map[uuid.UUID]*repository.Opportunity),
		softDeleted:   make(map[uuid.UUID]bool),
		jobs:          make(map[uuid.UUID]*repository.Job),
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing timestamps so creation order is stable.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// SeedLead stores lead as-is, filling ids and timestamps when zero.
func (s *Store) SeedLead(lead repository.Lead) repository.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.Status == "" {
		lead.Status = "NEW"
	}
	if lead.Tags == nil {
		lead.Tags = []string{}
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = s.tick()
	}
	lead.UpdatedAt = lead.CreatedAt
	stored := lead
	s.leads[lead.ID] = &stored
	return lead
}

// SoftDeleteLead marks a seeded lead deleted.
func (s *Store) SoftDeleteLead(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedLeads[id] = true
}

// SeedStage adds a pipeline stage.
func (s *Store) SeedStage(stage repository.Stage) repository.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage.ID == uuid.Nil {
		stage.ID = uuid.New()
	}
	s.stages = append(s.stages, stage)
	return stage
}

// Lead returns the stored lead including soft-deleted ones.
func (s *Store) Lead(id uuid.UUID) (repository.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return repository.Lead{}, false
	}
	return copyLead(*lead), true
}

// Counts reports live accounts, contacts and opportunities.
func (s *Store) Counts() (accounts, contacts, opportunities int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.accounts {
		if !s.softDeleted[id] {
			accounts++
		}
	}
	for id := range s.contacts {
		if !s.softDeleted[id] {
			contacts++
		}
	}
	for id := range s.opportunities {
		if !s.softDeleted[id] {
			opportunities++
		}
	}
	return accounts, contacts, opportunities
}

// Opportunity returns a stored opportunity.
func (s *Store) Opportunity(id uuid.UUID) (repository.Opportunity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[id]
	if !ok {
		return repository.Opportunity{}, false
	}
	return *o, true
}

// IsSoftDeleted reports whether a conversion entity was compensated.
func (s *Store) IsSoftDeleted(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleted[id]
}

func (s *Store) live(id, organizationID uuid.UUID) (*repository.Lead, bool) {
	lead, ok := s.leads[id]
	if !ok || s.deletedLeads[id] || lead.OrganizationID != organizationID {
		return nil, false
	}
	return lead, true
}

func (s *Store) emailTaken(organizationID uuid.UUID, email *string, except uuid.UUID) bool {
	if email == nil {
		return false
	}
	want := strings.ToLower(*email)
	for id, lead := range s.leads {
		if id == except || s.deletedLeads[id] || lead.OrganizationID != organizationID || lead.Email == nil {
			continue
		}
		if strings.ToLower(*lead.Email) == want {
			return true
		}
	}
	return false
}

func copyLead(lead repository.Lead) repository.Lead {
	lead.Tags = append([]string{}, lead.Tags...)
	return lead
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID, organizationID uuid.UUID) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGetByID != nil {
		return repository.Lead{}, s.FailGetByID
	}
	lead, ok := s.live(id, organizationID)
	if !ok {
		return repository.Lead{}, repository.ErrNotFound
	}
	return copyLead(*lead), nil
}

func (s *Store) Create(_ context.Context, params repository.CreateLeadParams) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return repository.Lead{}, s.FailCreate
	}
	if s.emailTaken(params.OrganizationID, params.Email, uuid.Nil) {
		return repository.Lead{}, repository.ErrDuplicateEmail
	}
	now := s.tick()
	createdBy := params.CreatedBy
	lead := repository.Lead{
		ID:             uuid.New(),
		OrganizationID: params.OrganizationID,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		Email:          params.Email,
		Phone:          params.Phone,
		CompanyName:    params.CompanyName,
		Website:        params.Website,
		Industry:       params.Industry,
		JobTitle:       params.JobTitle,
		Status:         params.Status,
		Score:          params.Score,
		Tags:           append([]string{}, params.Tags...),
		Source:         params.Source,
		OwnerID:        params.OwnerID,
		Notes:          params.Notes,
		CreatedBy:      &createdBy,
		UpdatedBy:      &createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.leads[lead.ID] = &lead
	return copyLead(lead), nil
}

func (s *Store) Update(_ context.Context, id uuid.UUID, organizationID uuid.UUID, params repository.UpdateLeadParams) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.live(id, organizationID)
	if !ok {
		return repository.Lead{}, repository.ErrNotFound
	}
	if params.Email != nil && s.emailTaken(organizationID, params.Email, id) {
		return repository.Lead{}, repository.ErrDuplicateEmail
	}

	next := copyLead(*lead)
	setString := func(dst **string, v *string) {
		if v != nil {
			value := *v
			*dst = &value
		}
	}
	if params.FirstName != nil {
		next.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		next.LastName = *params.LastName
	}
	setString(&next.Email, params.Email)
	setString(&next.Phone, params.Phone)
	setString(&next.CompanyName, params.CompanyName)
	setString(&next.Website, params.Website)
	setString(&next.Industry, params.Industry)
	setString(&next.JobTitle, params.JobTitle)
	setString(&next.Source, params.Source)
	setString(&next.Notes, params.Notes)
	if params.Status != nil {
		next.Status = *params.Status
	}
	if params.Score != nil {
		next.Score = *params.Score
	}
	if params.TagsSet {
		next.Tags = append([]string{}, params.Tags...)
	}
	if params.OwnerIDSet {
		next.OwnerID = params.OwnerID
	}
	if params.QualifiedAt != nil {
		at := *params.QualifiedAt
		next.QualifiedAt = &at
	}
	if !params.IsEmpty() {
		updatedBy := params.UpdatedBy
		next.UpdatedBy = &updatedBy
		next.UpdatedAt = s.tick()
	}
	*lead = next
	return copyLead(next), nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID, organizationID uuid.UUID, actorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.live(id, organizationID)
	if !ok {
		return repository.ErrNotFound
	}
	s.deletedLeads[id] = true
	lead.UpdatedBy = &actorID
	return nil
}

func (s *Store) MarkQualified(_ context.Context, id uuid.UUID, organizationID uuid.UUID, from []string, notes *string, actorID uuid.UUID, at time.Time) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.live(id, organizationID)
	if !ok || !contains(from, lead.Status) {
		return repository.Lead{}, repository.ErrStatusChanged
	}
	lead.Status = "QUALIFIED"
	lead.QualifiedAt = &at
	if notes != nil {
		n := *notes
		lead.Notes = &n
	}
	lead.UpdatedBy = &actorID
	lead.UpdatedAt = s.tick()
	return copyLead(*lead), nil
}

func (s *Store) MarkConverted(_ context.Context, params repository.MarkConvertedParams) (repository.Lead, error) {
	if s.BeforeMarkConverted != nil {
		s.BeforeMarkConverted()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailMarkConverted != nil {
		return repository.Lead{}, s.FailMarkConverted
	}
	lead, ok := s.live(params.ID, params.OrganizationID)
	if !ok || !contains(params.From, lead.Status) {
		return repository.Lead{}, repository.ErrStatusChanged
	}
	accountID, contactID := params.AccountID, params.ContactID
	convertedAt := params.ConvertedAt
	lead.Status = "CONVERTED"
	lead.ConvertedAt = &convertedAt
	lead.ConvertedToAccountID = &accountID
	lead.ConvertedToContactID = &contactID
	lead.ConvertedToOpportunityID = params.OpportunityID
	lead.UpdatedBy = &params.ActorID
	lead.UpdatedAt = s.tick()
	return copyLead(*lead), nil
}

func (s *Store) AddTags(_ context.Context, id uuid.UUID, organizationID uuid.UUID, tags []string, actorID uuid.UUID) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.live(id, organizationID)
	if !ok {
		return repository.Lead{}, repository.ErrNotFound
	}
	lead.Tags = domain.MergeTags(lead.Tags, tags)
	lead.UpdatedBy = &actorID
	lead.UpdatedAt = s.tick()
	return copyLead(*lead), nil
}

func (s *Store) ExistingEmails(_ context.Context, organizationID uuid.UUID, emails []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]bool)
	for _, e := range emails {
		email := e
		if s.emailTaken(organizationID, &email, uuid.Nil) {
			found[strings.ToLower(e)] = true
		}
	}
	return found, nil
}

func (s *Store) ListForExport(_ context.Context, params repository.ExportParams) ([]repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Lead, 0)
	for id, lead := range s.leads {
		if s.deletedLeads[id] || lead.OrganizationID != params.OrganizationID {
			continue
		}
		if params.Status != nil && lead.Status != *params.Status {
			continue
		}
		if params.Source != nil && (lead.Source == nil || *lead.Source != *params.Source) {
			continue
		}
		if params.OwnerID != nil && (lead.OwnerID == nil || *lead.OwnerID != *params.OwnerID) {
			continue
		}
		if params.CreatedAtFrom != nil && lead.CreatedAt.Before(*params.CreatedAtFrom) {
			continue
		}
		if params.CreatedAtTo != nil && !lead.CreatedAt.Before(*params.CreatedAtTo) {
			continue
		}
		out = append(out, copyLead(*lead))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, params repository.CreateAccountParams) (repository.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateAccount != nil {
		return repository.Account{}, s.FailCreateAccount
	}
	now := s.tick()
	a := repository.Account{
		ID: uuid.New(), OrganizationID: params.OrganizationID, OwnerID: params.OwnerID, Name: params.Name,
		Website: params.Website, Industry: params.Industry, Phone: params.Phone,
		Type: params.Type, Tier: params.Tier, Status: params.Status, CreatedBy: &params.CreatedBy,
		CreatedAt: now, UpdatedAt: now,
	}
	s.accounts[a.ID] = &a
	return a, nil
}

func (s *Store) CreateContact(_ context.Context, params repository.CreateContactParams) (repository.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateContact != nil {
		return repository.Contact{}, s.FailCreateContact
	}
	now := s.tick()
	c := repository.Contact{
		ID: uuid.New(), OrganizationID: params.OrganizationID, AccountID: params.AccountID, OwnerID: params.OwnerID,
		FirstName: params.FirstName, LastName: params.LastName, Email: params.Email, Phone: params.Phone,
		JobTitle: params.JobTitle, IsPrimary: params.IsPrimary, IsDecisionMaker: params.IsDecisionMaker,
		CreatedBy: &params.CreatedBy, CreatedAt: now, UpdatedAt: now,
	}
	s.contacts[c.ID] = &c
	return c, nil
}

func (s *Store) CreateOpportunity(_ context.Context, params repository.CreateOpportunityParams) (repository.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateOpportunity != nil {
		return repository.Opportunity{}, s.FailCreateOpportunity
	}
	now := s.tick()
	o := repository.Opportunity{
		ID: uuid.New(), OrganizationID: params.OrganizationID, AccountID: params.AccountID, ContactID: params.ContactID,
		LeadID: params.LeadID, StageID: params.StageID, OwnerID: params.OwnerID, Name: params.Name,
		Amount: params.Amount, Probability: params.Probability, Status: params.Status, Timeline: []byte("[]"),
		CreatedBy: &params.CreatedBy, CreatedAt: now, UpdatedAt: now,
	}
	s.opportunities[o.ID] = &o
	return o, nil
}

func (s *Store) SoftDeleteAccount(_ context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	return s.softDelete(id)
}

func (s *Store) SoftDeleteContact(_ context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	return s.softDelete(id)
}

func (s *Store) SoftDeleteOpportunity(_ context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	return s.softDelete(id)
}

func (s *Store) softDelete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSoftDelete != nil {
		return s.FailSoftDelete
	}
	s.softDeleted[id] = true
	return nil
}

func (s *Store) ListActiveStages(_ context.Context, organizationID uuid.UUID) ([]repository.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Stage, 0)
	for _, st := range s.stages {
		if st.OrganizationID == organizationID {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (s *Store) GetActiveStage(_ context.Context, id uuid.UUID, organizationID uuid.UUID) (repository.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stages {
		if st.ID == id && st.OrganizationID == organizationID {
			return st, nil
		}
	}
	return repository.Stage{}, repository.ErrStageNotFound
}

func (s *Store) CreateJob(_ context.Context, params repository.CreateJobParams) (repository.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	requestedBy := params.RequestedBy
	j := repository.Job{
		ID: params.ID, OrganizationID: params.OrganizationID, Kind: params.Kind, Status: repository.JobStatusPending,
		RequestedBy: &requestedBy, ItemCount: params.ItemCount, CreatedAt: now, UpdatedAt: now,
	}
	if params.RequestID != "" {
		rid := params.RequestID
		j.RequestID = &rid
	}
	s.jobs[j.ID] = &j
	return j, nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID, organizationID uuid.UUID) (repository.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OrganizationID != organizationID {
		return repository.Job{}, repository.ErrJobNotFound
	}
	return *j, nil
}

func (s *Store) MarkJobRunning(_ context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OrganizationID != organizationID ||
		(j.Status != repository.JobStatusPending && j.Status != repository.JobStatusRunning) {
		return repository.ErrJobNotFound
	}
	j.Status = repository.JobStatusRunning
	return nil
}

func (s *Store) CompleteJob(_ context.Context, id uuid.UUID, organizationID uuid.UUID, result []byte) error {
	return s.finishJob(id, organizationID, repository.JobStatusCompleted, result, nil)
}

func (s *Store) FailJob(_ context.Context, id uuid.UUID, organizationID uuid.UUID, message string) error {
	return s.finishJob(id, organizationID, repository.JobStatusFailed, nil, &message)
}

func (s *Store) finishJob(id, organizationID uuid.UUID, status string, result []byte, message *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OrganizationID != organizationID {
		return repository.ErrJobNotFound
	}
	now := s.tick()
	j.Status = status
	j.Result = result
	j.Error = message
	j.FinishedAt = &now
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

var _ repository.LeadsRepository = (*Store)(nil)

func (s *Store) DeleteFinishedJobsBefore(_ context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, j := range s.jobs {
		if j.FinishedAt == nil {
			continue
		}
		if (j.Status == repository.JobStatusCompleted && j.FinishedAt.Before(completedBefore)) ||
			(j.Status == repository.JobStatusFailed && j.FinishedAt.Before(failedBefore)) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Job returns a stored job regardless of tenant.
func (s *Store) Job(id uuid.UUID) (repository.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return repository.Job{}, false
	}
	return *j, true
}
