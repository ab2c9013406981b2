package bulkops

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/apperr"

	"github.com/google/uuid"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export lists the leads matching the filter in the fixed export projection.
// It has no side effects.
func (s *Service) Export(ctx context.Context, tenantID uuid.UUID, req transport.ExportLeadsRequest) (transport.ExportLeadsResponse, error) {
	if err := s.val.Struct(req); err != nil {
		return transport.ExportLeadsResponse{}, validationError("invalid export filter", err)
	}
	if req.CreatedFrom != nil && req.CreatedTo != nil && !req.CreatedFrom.Before(*req.CreatedTo) {
		return transport.ExportLeadsResponse{}, apperr.Validation("createdFrom must be before createdTo")
	}

	params := repository.ExportParams{
		OrganizationID: tenantID,
		Source:         trimPtr(req.Source),
		OwnerID:        req.OwnerID,
		CreatedAtFrom:  req.CreatedFrom,
		CreatedAtTo:    req.CreatedTo,
		Limit:          s.settings.ExportLimit,
	}
	if req.Status != nil {
		status := string(*req.Status)
		params.Status = &status
	}

	leads, err := s.repo.ListForExport(ctx, params)
	if err != nil {
		return transport.ExportLeadsResponse{}, apperr.Wrap(apperr.KindInternal, "list leads for export", err).
			WithOp("bulkops.Export")
	}

	items := make([]transport.ExportedLead, len(leads))
	for i, lead := range leads {
		items[i] = transport.ToExportedLead(lead)
	}
	return transport.ExportLeadsResponse{Items: items, Total: len(items)}, nil
}

// WriteCSV writes exported leads with a header row. Tags are joined with ';'.
func WriteCSV(w io.Writer, leads []transport.ExportedLead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.ExportHeader()); err != nil {
		return err
	}
	for _, lead := range leads {
		if err := cw.Write(exportRecord(lead)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportRecord(lead transport.ExportedLead) []string {
	owner := ""
	if lead.OwnerID != nil {
		owner = lead.OwnerID.String()
	}
	return []string{
		lead.ID.String(),
		lead.FirstName,
		lead.LastName,
		deref(lead.Email),
		deref(lead.Phone),
		deref(lead.CompanyName),
		string(lead.Status),
		deref(lead.Source),
		strconv.Itoa(lead.Score),
		strings.Join(lead.Tags, ";"),
		owner,
		lead.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// ReadImportCSV turns a CSV file with a header row into import rows keyed by
// header. Short rows leave the missing columns out; empty cells are dropped.
func ReadImportCSV(r io.Reader) ([]transport.ImportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, apperr.Validation("import file is empty")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "import file is not valid CSV", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []transport.ImportRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "import file is not valid CSV", err)
		}
		row := make(transport.ImportRow, len(header))
		for i, value := range record {
			if i >= len(header) || strings.TrimSpace(value) == "" {
				continue
			}
			row[strings.TrimSpace(header[i])] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}
