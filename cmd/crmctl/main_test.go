package main

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestCommandsRequireTenantAndActor(t *testing.T) {
	cmd := newCLI()
	cmd.SetArgs([]string{"import", "--file", "leads.csv"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "required flag") ||
		!strings.Contains(err.Error(), `"tenant"`) || !strings.Contains(err.Error(), `"actor"`) {
		t.Fatalf("expected missing flag error, got %v", err)
	}
}

func TestMissingTenantIsReportedBeforeParsing(t *testing.T) {
	cmd := newCLI()
	cmd.SetArgs([]string{"qualify", "--actor", "00000000-0000-0000-0000-000000000001", "--lead", "x"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), `required flag(s) "tenant" not set`) {
		t.Fatalf("expected missing tenant flag, got %v", err)
	}
}

func TestPreRunRejectsMalformedTenant(t *testing.T) {
	cmd := newCLI()
	cmd.SetArgs([]string{"qualify", "--tenant", "acme", "--actor", "00000000-0000-0000-0000-000000000001", "--lead", "x"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--tenant must be a UUID") {
		t.Fatalf("expected tenant error, got %v", err)
	}
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "2026-03-01T10:00:00Z")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected %v (%v)", got, err)
	}
	if got, err := parseTimeFlag("from", ""); got != nil || err != nil {
		t.Fatalf("empty flag must be unset, got %v (%v)", got, err)
	}
	if _, err := parseTimeFlag("to", "yesterday"); err == nil || !strings.Contains(err.Error(), "--to") {
		t.Fatalf("expected flag error, got %v", err)
	}
}
