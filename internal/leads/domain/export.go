package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ExportColumns is the fixed projection of an exported lead, in output order.
var ExportColumns = []string{
	"id",
	"first_name",
	"last_name",
	"email",
	"phone",
	"company_name",
	"status",
	"source",
	"score",
	"tags",
	"owner_id",
	"created_at",
}

var labelCaser = cases.Title(language.English)

// ExportHeader returns human labels for ExportColumns ("first_name" -> "First Name").
func ExportHeader() []string {
	out := make([]string, len(ExportColumns))
	for i, col := range ExportColumns {
		out[i] = labelCaser.String(strings.ReplaceAll(col, "_", " "))
	}
	return out
}
