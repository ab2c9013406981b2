package handler

import (
	"net/http"
	"strings"

	"crm_backend/internal/leads/bulkops"
	"crm_backend/internal/leads/conversion"
	"crm_backend/internal/leads/jobs"
	"crm_backend/internal/leads/lifecycle"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/httpkit"
	"crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderIdempotencyKey carries the client's idempotency key for conversions.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplayed is set on responses served from an earlier request.
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	lifecycle  *lifecycle.Service
	conversion *conversion.Service
	bulk       *bulkops.Service
	jobs       *jobs.Service
	val        *validator.Validator
}

// New creates the leads handler. jobs may be nil when no task queue is
// configured; the async routes then answer 503.
func New(lifecycleSvc *lifecycle.Service, conversionSvc *conversion.Service, bulkSvc *bulkops.Service, jobsSvc *jobs.Service, val *validator.Validator) *Handler {
	return &Handler{
		lifecycle:  lifecycleSvc,
		conversion: conversionSvc,
		bulk:       bulkSvc,
		jobs:       jobsSvc,
		val:        val,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/qualify", h.Qualify)
	rg.POST("/:id/convert", h.Convert)

	rg.POST("/bulk/delete", h.BulkDelete)
	rg.POST("/bulk/update", h.BulkUpdate)
	rg.POST("/bulk/assign", h.BulkAssign)
	rg.POST("/bulk/tags", h.BulkAddTags)
	rg.POST("/bulk/create", h.BulkCreate)

	rg.POST("/import", h.Import)
	rg.POST("/import/async", h.ImportAsync)
	rg.GET("/export", h.Export)
	rg.POST("/export/async", h.ExportAsync)
	rg.GET("/jobs/:jobId", h.GetJob)
}

func (h *Handler) Qualify(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req transport.QualifyLeadRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	lead, err := h.lifecycle.Qualify(c.Request.Context(), tenantID, identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Convert(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req transport.ConvertLeadRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		req.IdempotencyKey = key
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	resp, err := h.conversion.Convert(c.Request.Context(), tenantID, identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	if resp.Replayed {
		c.Header(HeaderIdempotentReplayed, "true")
		httpkit.OK(c, resp)
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

func (h *Handler) GetJob(c *gin.Context) {
	id, ok := parseIDParam(c, "jobId")
	if !ok {
		return
	}
	if !h.jobsAvailable(c) {
		return
	}
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, job)
}

func (h *Handler) jobsAvailable(c *gin.Context) bool {
	if h.jobs == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, "background jobs are not configured", nil)
		return false
	}
	return true
}

// bindJSON decodes and validates a required JSON body.
func (h *Handler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	return h.validate(c, req)
}

// bindOptionalJSON accepts an empty body as the zero request.
func (h *Handler) bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return h.validate(c, req)
	}
	return h.bindJSON(c, req)
}

func (h *Handler) validate(c *gin.Context, req interface{}) bool {
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).
			WithDetails(map[string]interface{}{"fields": validator.FieldErrors(err)}))
		return false
	}
	return true
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}
