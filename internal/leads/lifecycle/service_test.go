package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"crm_backend/internal/audit"
	"crm_backend/internal/leads/leadstest"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"

	"github.com/google/uuid"
)

func strPtr(s string) *string { return &s }

func newService() (*Service, *leadstest.Store, *leadstest.Recorder, *leadstest.Bus) {
	store := leadstest.NewStore()
	rec := &leadstest.Recorder{}
	bus := &leadstest.Bus{}
	return New(store, rec, bus), store, rec, bus
}

func TestQualifyMovesContactedLeadToQualified(t *testing.T) {
	svc, store, rec, bus := newService()
	tenant, actor := uuid.New(), uuid.New()
	lead := store.SeedLead(repository.Lead{
		OrganizationID: tenant, FirstName: "Ada", LastName: "Lovelace",
		Email: strPtr("ada@example.com"), Status: "CONTACTED",
	})

	resp, err := svc.Qualify(context.Background(), tenant, actor, lead.ID, transport.QualifyLeadRequest{Notes: strPtr("budget confirmed")})
	if err != nil {
		t.Fatalf("Qualify returned error: %v", err)
	}
	if resp.Status != transport.LeadStatusQualified || resp.QualifiedAt == nil {
		t.Fatalf("expected qualified lead with timestamp, got %+v", resp)
	}
	if resp.Notes == nil || *resp.Notes != "budget confirmed" {
		t.Fatalf("expected notes to be overwritten, got %v", resp.Notes)
	}

	entries := rec.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionUpdate || entries[0].EntityID != lead.ID {
		t.Fatalf("expected one UPDATE audit entry, got %+v", entries)
	}
	before := entries[0].Changes["before"].(transport.LeadResponse)
	if before.Status != transport.LeadStatusContacted {
		t.Fatalf("expected before snapshot to be CONTACTED, got %s", before.Status)
	}
	if got := bus.Published(); !reflect.DeepEqual(got, []string{"leads.lead.qualified"}) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestQualifyKeepsNotesWhenOmitted(t *testing.T) {
	svc, store, _, _ := newService()
	tenant := uuid.New()
	lead := store.SeedLead(repository.Lead{
		OrganizationID: tenant, FirstName: "A", LastName: "B", Email: strPtr("a@b.c"), Notes: strPtr("keep me"),
	})

	resp, err := svc.Qualify(context.Background(), tenant, uuid.New(), lead.ID, transport.QualifyLeadRequest{})
	if err != nil {
		t.Fatalf("Qualify returned error: %v", err)
	}
	if resp.Notes == nil || *resp.Notes != "keep me" {
		t.Fatalf("expected notes preserved, got %v", resp.Notes)
	}
}

func TestQualifyConvertedLeadIsAlreadyConverted(t *testing.T) {
	svc, store, rec, _ := newService()
	tenant := uuid.New()
	// Missing fields must not mask the converted guard.
	lead := store.SeedLead(repository.Lead{OrganizationID: tenant, Status: "CONVERTED"})

	_, err := svc.Qualify(context.Background(), tenant, uuid.New(), lead.ID, transport.QualifyLeadRequest{})
	if apperr.GetCode(err) != apperr.CodeLeadAlreadyConverted {
		t.Fatalf("expected LEAD_ALREADY_CONVERTED, got %v", err)
	}
	if len(rec.Entries()) != 0 {
		t.Fatal("expected no audit entry on failure")
	}
}

func TestQualifyAlreadyQualified(t *testing.T) {
	svc, store, _, _ := newService()
	tenant := uuid.New()
	lead := store.SeedLead(repository.Lead{OrganizationID: tenant, FirstName: "A", LastName: "B", Email: strPtr("a@b.c"), Status: "QUALIFIED"})

	_, err := svc.Qualify(context.Background(), tenant, uuid.New(), lead.ID, transport.QualifyLeadRequest{})
	if !apperr.Is(err, apperr.KindInvalidTransition) || apperr.GetCode(err) != apperr.CodeInvalidTransition {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestQualifyListsEveryMissingField(t *testing.T) {
	svc, store, _, _ := newService()
	tenant := uuid.New()
	lead := store.SeedLead(repository.Lead{OrganizationID: tenant, FirstName: " "})

	_, err := svc.Qualify(context.Background(), tenant, uuid.New(), lead.ID, transport.QualifyLeadRequest{})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	missing := appErr.Details.(map[string]interface{})["missingFields"].([]string)
	if !reflect.DeepEqual(missing, []string{"email", "firstName", "lastName"}) {
		t.Fatalf("unexpected missing fields %v", missing)
	}
	stored, _ := store.Lead(lead.ID)
	if stored.Status != "NEW" {
		t.Fatalf("expected lead untouched, got %s", stored.Status)
	}
}

func TestQualifyNotFoundAcrossTenantsAndSoftDelete(t *testing.T) {
	svc, store, _, _ := newService()
	tenant := uuid.New()
	lead := store.SeedLead(repository.Lead{OrganizationID: tenant, FirstName: "A", LastName: "B", Email: strPtr("a@b.c")})

	_, err := svc.Qualify(context.Background(), uuid.New(), uuid.New(), lead.ID, transport.QualifyLeadRequest{})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}

	store.SoftDeleteLead(lead.ID)
	_, err = svc.Qualify(context.Background(), tenant, uuid.New(), lead.ID, transport.QualifyLeadRequest{})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for soft-deleted lead, got %v", err)
	}
}

func TestQualifySurfacesStoreFailureAsInternal(t *testing.T) {
	svc, store, _, _ := newService()
	store.FailGetByID = errors.New("connection reset")

	_, err := svc.Qualify(context.Background(), uuid.New(), uuid.New(), uuid.New(), transport.QualifyLeadRequest{})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
