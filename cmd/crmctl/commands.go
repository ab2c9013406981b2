package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"crm_backend/internal/leads/bulkops"
	"crm_backend/internal/leads/transport"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func importCommand(app *crmInstance) *cobra.Command {
	var file, source string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import leads from a CSV file with a header row",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := bulkops.ReadImportCSV(f)
			if err != nil {
				return err
			}
			req := transport.ImportLeadsRequest{Rows: rows}
			if source = strings.TrimSpace(source); source != "" {
				req.Source = &source
			}

			res, err := app.module.Bulk().Import(cmd.Context(), app.tenant, app.actor, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to import")
	cmd.Flags().StringVar(&source, "source", "", "source for rows that carry none")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func exportCommand(app *crmInstance) *cobra.Command {
	var status, source, owner, from, to, format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export leads as CSV or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := transport.ExportLeadsRequest{Format: strings.ToLower(format)}
			if status != "" {
				s := transport.LeadStatus(strings.ToUpper(status))
				req.Status = &s
			}
			if source != "" {
				req.Source = &source
			}
			if owner != "" {
				id, err := uuid.Parse(owner)
				if err != nil {
					return fmt.Errorf("--owner must be a UUID: %w", err)
				}
				req.OwnerID = &id
			}
			var err error
			if req.CreatedFrom, err = parseTimeFlag("from", from); err != nil {
				return err
			}
			if req.CreatedTo, err = parseTimeFlag("to", to); err != nil {
				return err
			}

			export, err := app.module.Bulk().Export(cmd.Context(), app.tenant, req)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if req.Format == bulkops.FormatJSON {
				return writeJSON(w, export)
			}
			return bulkops.WriteCSV(w, export.Items)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only leads in this status")
	cmd.Flags().StringVar(&source, "source", "", "only leads from this source")
	cmd.Flags().StringVar(&owner, "owner", "", "only leads owned by this user")
	cmd.Flags().StringVar(&from, "from", "", "created at or after (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "created before (RFC 3339)")
	cmd.Flags().StringVar(&format, "format", bulkops.FormatCSV, "csv or json")
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	return cmd
}

func qualifyCommand(app *crmInstance) *cobra.Command {
	var leadID, notes string

	cmd := &cobra.Command{
		Use:   "qualify",
		Short: "Qualify a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(leadID)
			if err != nil {
				return fmt.Errorf("--lead must be a UUID: %w", err)
			}
			var req transport.QualifyLeadRequest
			if notes != "" {
				req.Notes = &notes
			}
			if err := app.val.Struct(req); err != nil {
				return err
			}

			lead, err := app.module.Lifecycle().Qualify(cmd.Context(), app.tenant, app.actor, id, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), lead)
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead to qualify")
	cmd.Flags().StringVar(&notes, "notes", "", "qualification notes")
	_ = cmd.MarkFlagRequired("lead")
	return cmd
}

func convertCommand(app *crmInstance) *cobra.Command {
	var (
		leadID, key, accountName, opportunityName, stageID string
		createOpportunity                                  bool
		amount                                             float64
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a lead into an account, a contact and optionally an opportunity",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(leadID)
			if err != nil {
				return fmt.Errorf("--lead must be a UUID: %w", err)
			}
			if key != "" && !app.idempotent {
				return errNoIdempotency
			}

			req := transport.ConvertLeadRequest{
				CreateOpportunity: createOpportunity,
				IdempotencyKey:    key,
			}
			if accountName != "" {
				req.AccountName = &accountName
			}
			if opportunityName != "" {
				req.OpportunityName = &opportunityName
			}
			if cmd.Flags().Changed("amount") {
				req.OpportunityAmount = &amount
			}
			if stageID != "" {
				stage, err := uuid.Parse(stageID)
				if err != nil {
					return fmt.Errorf("--stage must be a UUID: %w", err)
				}
				req.StageID = &stage
			}
			if err := app.val.Struct(req); err != nil {
				return err
			}

			resp, err := app.module.Conversion().Convert(cmd.Context(), app.tenant, app.actor, id, req)
			if err != nil {
				return err
			}
			if resp.Replayed {
				app.log.Info("conversion replayed from an earlier run", "idempotency_key", key)
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead to convert")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "replay the first result for repeated runs with this key")
	cmd.Flags().StringVar(&accountName, "account-name", "", "account name; defaults to the lead's company or full name")
	cmd.Flags().BoolVar(&createOpportunity, "create-opportunity", false, "also create an opportunity")
	cmd.Flags().StringVar(&opportunityName, "opportunity-name", "", "opportunity name")
	cmd.Flags().Float64Var(&amount, "amount", 0, "opportunity amount")
	cmd.Flags().StringVar(&stageID, "stage", "", "pipeline stage for the opportunity")
	_ = cmd.MarkFlagRequired("lead")
	return cmd
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be an RFC 3339 timestamp: %w", name, err)
	}
	return &t, nil
}
