package handler

import (
	"net/http"
	"strings"
	"time"

	"crm_backend/internal/leads/bulkops"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (h *Handler) BulkDelete(c *gin.Context) {
	var req transport.BulkDeleteRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	res, err := h.bulk.BulkDelete(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) BulkUpdate(c *gin.Context) {
	var req transport.BulkUpdateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	res, err := h.bulk.BulkUpdate(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) BulkAssign(c *gin.Context) {
	var req transport.BulkAssignRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	res, err := h.bulk.BulkAssign(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) BulkAddTags(c *gin.Context) {
	var req transport.BulkAddTagsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	res, err := h.bulk.BulkAddTags(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

// BulkCreate only checks the envelope here. Rows are validated one by one so
// a bad row fails alone.
func (h *Handler) BulkCreate(c *gin.Context) {
	var req transport.BulkCreateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	res, err := h.bulk.BulkCreate(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) Import(c *gin.Context) {
	var req transport.ImportLeadsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	res, err := h.bulk.Import(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) ImportAsync(c *gin.Context) {
	if !h.jobsAvailable(c) {
		return
	}
	var req transport.ImportLeadsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	accepted, err := h.jobs.SubmitImport(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, accepted)
}

// Export answers JSON by default and a CSV attachment for format=csv.
func (h *Handler) Export(c *gin.Context) {
	req, ok := parseExportQuery(c)
	if !ok {
		return
	}
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	export, err := h.bulk.Export(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	if req.Format != bulkops.FormatCSV {
		httpkit.OK(c, export)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="leads.csv"`)
	c.Status(http.StatusOK)
	if err := bulkops.WriteCSV(c.Writer, export.Items); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) ExportAsync(c *gin.Context) {
	if !h.jobsAvailable(c) {
		return
	}
	var req transport.ExportLeadsRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	accepted, err := h.jobs.SubmitExport(c.Request.Context(), tenantID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, accepted)
}

// parseExportQuery reads status, source, ownerId, createdFrom, createdTo
// (RFC 3339) and format from the query string.
func parseExportQuery(c *gin.Context) (transport.ExportLeadsRequest, bool) {
	var req transport.ExportLeadsRequest
	invalid := func(field string) (transport.ExportLeadsRequest, bool) {
		httpkit.HandleError(c, apperr.Validation("invalid "+field).
			WithDetails(map[string]interface{}{"field": field}))
		return transport.ExportLeadsRequest{}, false
	}

	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status := transport.LeadStatus(strings.ToUpper(v))
		req.Status = &status
	}
	if v := strings.TrimSpace(c.Query("source")); v != "" {
		req.Source = &v
	}
	if v := strings.TrimSpace(c.Query("ownerId")); v != "" {
		owner, err := uuid.Parse(v)
		if err != nil {
			return invalid("ownerId")
		}
		req.OwnerID = &owner
	}
	if v := strings.TrimSpace(c.Query("createdFrom")); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return invalid("createdFrom")
		}
		req.CreatedFrom = &from
	}
	if v := strings.TrimSpace(c.Query("createdTo")); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return invalid("createdTo")
		}
		req.CreatedTo = &to
	}
	req.Format = strings.ToLower(strings.TrimSpace(c.Query("format")))
	return req, true
}
