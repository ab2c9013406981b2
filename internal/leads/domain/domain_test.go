package domain

import (
	"reflect"
	"testing"

	"crm_backend/platform/apperr"

	"github.com/google/uuid"
)

func TestCheckQualifyConvertedAlwaysAlreadyConverted(t *testing.T) {
	err := CheckQualify(StatusConverted)
	if apperr.GetCode(err) != apperr.CodeLeadAlreadyConverted {
		t.Fatalf("expected LEAD_ALREADY_CONVERTED, got %v", err)
	}
	if !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition kind, got %v", apperr.GetKind(err))
	}
}

func TestCheckQualifyAlreadyQualified(t *testing.T) {
	err := CheckQualify(StatusQualified)
	if apperr.GetCode(err) != apperr.CodeInvalidTransition {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestCheckQualifyAllowsOpenStatuses(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusContacted} {
		if err := CheckQualify(s); err != nil {
			t.Fatalf("expected %s to be qualifiable, got %v", s, err)
		}
	}
}

func TestCheckConvertible(t *testing.T) {
	cases := []struct {
		status Status
		code   string
	}{
		{StatusQualified, ""},
		{StatusContacted, ""},
		{StatusNew, apperr.CodeInvalidPrecondition},
		{StatusUnqualified, apperr.CodeInvalidPrecondition},
		{StatusConverted, apperr.CodeLeadAlreadyConverted},
	}
	for _, tc := range cases {
		err := CheckConvertible(tc.status)
		if tc.code == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tc.status, err)
			}
			continue
		}
		if apperr.GetCode(err) != tc.code {
			t.Errorf("%s: expected %s, got %v", tc.status, tc.code, err)
		}
	}
}

func TestValidateQualificationListsEveryMissingField(t *testing.T) {
	blank := "  "
	err := ValidateQualification(QualificationInput{Email: &blank})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details := e.Details.(map[string]interface{})
	got := details["missingFields"].([]string)
	want := []string{"email", "firstName", "lastName"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestValidateQualificationPasses(t *testing.T) {
	email := "ada@example.com"
	if err := ValidateQualification(QualificationInput{Email: &email, FirstName: "Ada", LastName: "Lovelace"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveAccountNamePrecedence(t *testing.T) {
	input := "Input Co"
	company := "Lead Co"
	empty := " "

	if got := ResolveAccountName(&input, &company, "Ada", "Lovelace"); got != "Input Co" {
		t.Fatalf("expected input name, got %q", got)
	}
	if got := ResolveAccountName(&empty, &company, "Ada", "Lovelace"); got != "Lead Co" {
		t.Fatalf("expected company name, got %q", got)
	}
	if got := ResolveAccountName(nil, nil, "Ada", "Lovelace"); got != "Ada Lovelace's Company" {
		t.Fatalf("expected synthesized name, got %q", got)
	}
}

func TestStageProbabilityDefault(t *testing.T) {
	if StageProbability(nil) != DefaultStageProbability {
		t.Fatal("expected default probability")
	}
	p := 40
	if StageProbability(&p) != 40 {
		t.Fatal("expected stage probability")
	}
}

func TestMergeTagsIsIdempotent(t *testing.T) {
	existing := []string{"vip", "west"}
	requested := []string{"Hot", "VIP", " hot "}

	once := MergeTags(existing, requested)
	twice := MergeTags(once, requested)

	want := []string{"vip", "west", "hot"}
	if !reflect.DeepEqual(once, want) {
		t.Fatalf("expected %v, got %v", want, once)
	}
	if !reflect.DeepEqual(twice, once) {
		t.Fatalf("expected second merge to be a no-op, got %v", twice)
	}
}

func TestNormalizeTagsDropsBlanks(t *testing.T) {
	got := NormalizeTags([]string{"", "  ", "Enterprise  Deal"})
	if !reflect.DeepEqual(got, []string{"enterprise deal"}) {
		t.Fatalf("unexpected tags %v", got)
	}
}

func TestExportHeader(t *testing.T) {
	header := ExportHeader()
	if header[1] != "First Name" || len(header) != len(ExportColumns) {
		t.Fatalf("unexpected header %v", header)
	}
}

func TestParseStatus(t *testing.T) {
	if _, ok := ParseStatus("QUALIFIED"); !ok {
		t.Fatal("expected QUALIFIED to parse")
	}
	if _, ok := ParseStatus("qualified"); ok {
		t.Fatal("expected lowercase status to be rejected")
	}
	if !StatusConverted.IsTerminal() || StatusQualified.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestQualifiableStatusesMatchCheckQualify(t *testing.T) {
	for _, s := range QualifiableStatuses() {
		if err := CheckQualify(s); err != nil {
			t.Fatalf("expected %s to be qualifiable, got %v", s, err)
		}
	}
	got := Strings(QualifiableStatuses())
	if !reflect.DeepEqual(got, []string{"NEW", "CONTACTED"}) {
		t.Fatalf("unexpected qualifiable statuses %v", got)
	}
}

func TestLeadNotFoundMessage(t *testing.T) {
	err := LeadNotFound(uuid.New())
	if err.Message != "Lead not found" || !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestCheckStatusChange(t *testing.T) {
	cases := []struct {
		from, to Status
		code     string
	}{
		{StatusNew, StatusContacted, ""},
		{StatusQualified, StatusQualified, ""},
		{StatusConverted, StatusNew, apperr.CodeLeadAlreadyConverted},
		{StatusQualified, StatusConverted, apperr.CodeInvalidTransition},
		{StatusUnqualified, StatusNew, apperr.CodeInvalidTransition},
		{StatusContacted, StatusUnqualified, ""},
	}
	for _, tc := range cases {
		err := CheckStatusChange(tc.from, tc.to)
		if apperr.GetCode(err) != tc.code {
			t.Errorf("%s -> %s: expected code %q, got %v", tc.from, tc.to, tc.code, err)
		}
	}
}
