package handler

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm_backend/internal/bulk"
	"crm_backend/internal/idempotency"
	"crm_backend/internal/leads/bulkops"
	"crm_backend/internal/leads/conversion"
	"crm_backend/internal/leads/leadstest"
	"crm_backend/internal/leads/lifecycle"
	"crm_backend/internal/leads/repository"
	"crm_backend/platform/cache"
	"crm_backend/platform/httpkit"
	"crm_backend/platform/lock"
	"crm_backend/platform/validator"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func strPtr(s string) *string { return &s }

type fixture struct {
	router *gin.Engine
	store  *leadstest.Store
	tenant uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard := idempotency.NewGuard(cache.NewRedisCache(client, cache.Options{}), lock.NewLocalLocker(),
		idempotency.Settings{TTL: time.Hour, LockTTL: 5 * time.Second, LockWait: time.Second}, nil)

	store := leadstest.NewStore()
	rec := &leadstest.Recorder{}
	bus := &leadstest.Bus{}
	val := validator.New()
	h := New(
		lifecycle.New(store, rec, bus),
		conversion.New(store, guard, rec, bus, nil),
		bulkops.New(store, rec, bus, val, nil, bulkops.Settings{MaxItems: 5}),
		nil,
		val,
	)

	f := &fixture{store: store, tenant: uuid.New()}
	f.router = gin.New()
	group := f.router.Group("/leads", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextTenantIDKey, f.tenant)
		c.Next()
	})
	h.RegisterRoutes(group)
	return f
}

func (f *fixture) seedLead(status string) repository.Lead {
	return f.store.SeedLead(repository.Lead{
		OrganizationID: f.tenant,
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Email:          strPtr("ada@example.com"),
		Status:         status,
	})
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

func TestQualifyWithoutBody(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead("NEW")

	w := f.do(http.MethodPost, "/leads/"+lead.ID.String()+"/qualify", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Status string `json:"status"`
	}
	decode(t, w, &body)
	if body.Status != "QUALIFIED" {
		t.Fatalf("expected QUALIFIED, got %s", body.Status)
	}
}

func TestQualifyConvertedLeadIsRejected(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead("CONVERTED")

	w := f.do(http.MethodPost, "/leads/"+lead.ID.String()+"/qualify", "", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var body httpkit.ErrorResponse
	decode(t, w, &body)
	if body.Code == "" {
		t.Fatalf("expected a reason code, got %+v", body)
	}
}

func TestQualifyRejectsMalformedID(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/leads/not-a-uuid/qualify", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestConvertReplaysWithHeaderKey(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead("QUALIFIED")
	path := "/leads/" + lead.ID.String() + "/convert"
	headers := map[string]string{HeaderIdempotencyKey: "convert-1"}

	first := f.do(http.MethodPost, path, `{"accountName":"Analytical Engines"}`, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	if first.Header().Get(HeaderIdempotentReplayed) != "" {
		t.Fatal("first call must not be marked as replayed")
	}

	second := f.do(http.MethodPost, path, `{"accountName":"Analytical Engines"}`, headers)
	if second.Code != http.StatusOK || second.Header().Get(HeaderIdempotentReplayed) != "true" {
		t.Fatalf("expected replayed 200, got %d %q", second.Code, second.Header().Get(HeaderIdempotentReplayed))
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if accounts, _, _ := f.store.Counts(); accounts != 1 {
		t.Fatalf("expected one account, got %d", accounts)
	}
}

func TestBulkDeleteReportsPartialFailure(t *testing.T) {
	f := newFixture(t)
	a := f.seedLead("NEW")
	missing := uuid.New()

	body := `{"ids":["` + a.ID.String() + `","` + missing.String() + `"]}`
	w := f.do(http.MethodPost, "/leads/bulk/delete", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res bulk.Result
	decode(t, w, &res)
	if res.ProcessedCount != 2 || res.SuccessCount != 1 || res.FailedCount != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Errors[0].Index != 1 || res.Errors[0].Kind != bulk.KindNotFound {
		t.Fatalf("unexpected error %+v", res.Errors[0])
	}
}

func TestBulkRejectsOversizedBatch(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = `"` + uuid.NewString() + `"`
	}

	w := f.do(http.MethodPost, "/leads/bulk/delete", `{"ids":[`+strings.Join(ids, ",")+`]}`, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestBulkEndpointsValidateEnvelope(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/leads/bulk/delete", "/leads/bulk/tags", "/leads/bulk/create", "/leads/import"} {
		w := f.do(http.MethodPost, path, `{}`, nil)
		var body httpkit.ErrorResponse
		decode(t, w, &body)
		if body.Error != msgValidationFailed {
			t.Fatalf("%s: expected validation failure, got %d %+v", path, w.Code, body)
		}
	}

	w := f.do(http.MethodPost, "/leads/bulk/delete", `{"ids":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", w.Code)
	}
}

func TestBulkEndpointsAcceptEmptyBatches(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"/leads/bulk/delete": `{"ids":[]}`,
		"/leads/bulk/tags":   `{"ids":[],"tags":["vip"]}`,
		"/leads/bulk/assign": `{"ids":[],"ownerId":null}`,
		"/leads/bulk/create": `{"leads":[]}`,
		"/leads/import":      `{"rows":[]}`,
	}
	for path, body := range cases {
		w := f.do(http.MethodPost, path, body, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
		var res bulk.Result
		decode(t, w, &res)
		if !res.Success || res.ProcessedCount != 0 || len(res.Errors) != 0 {
			t.Fatalf("%s: expected empty successful result, got %+v", path, res)
		}
	}
}

func TestBulkAssignClearsOwnerWithNull(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	lead := f.store.SeedLead(repository.Lead{OrganizationID: f.tenant, FirstName: "A", LastName: "B", Status: "NEW", OwnerID: &owner})

	w := f.do(http.MethodPost, "/leads/bulk/assign", `{"ids":["`+lead.ID.String()+`"],"ownerId":null}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	stored, _ := f.store.Lead(lead.ID)
	if stored.OwnerID != nil {
		t.Fatalf("expected owner to be cleared, got %v", stored.OwnerID)
	}
}

func TestExportAsCSV(t *testing.T) {
	f := newFixture(t)
	f.seedLead("QUALIFIED")
	f.store.SeedLead(repository.Lead{OrganizationID: f.tenant, FirstName: "Grace", LastName: "Hopper", Status: "NEW"})

	w := f.do(http.MethodGet, "/leads/export?status=qualified&format=csv", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	records, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != 2 || records[1][1] != "Ada" {
		t.Fatalf("unexpected csv %v", records)
	}
}

func TestExportRejectsBadQuery(t *testing.T) {
	f := newFixture(t)

	for _, query := range []string{"ownerId=nope", "createdFrom=yesterday", "format=xml"} {
		w := f.do(http.MethodGet, "/leads/export?"+query, "", nil)
		if w.Code < 400 || w.Code >= 500 {
			t.Fatalf("%s: expected client error, got %d", query, w.Code)
		}
	}
}

func TestAsyncRoutesNeedJobs(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/leads/import/async", `{"rows":[{"firstName":"A"}]}`, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	w = f.do(http.MethodGet, "/leads/jobs/"+uuid.NewString(), "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRequestsWithoutTenantAreForbidden(t *testing.T) {
	store := leadstest.NewStore()
	val := validator.New()
	h := New(lifecycle.New(store, &leadstest.Recorder{}, &leadstest.Bus{}), nil, nil, nil, val)
	r := gin.New()
	group := r.Group("/leads", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Next()
	})
	h.RegisterRoutes(group)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/leads/"+uuid.NewString()+"/qualify", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
