// Package validate is the default validation and cleaning step applied to each
// chunk. It never fails: rule violations come back as rejections.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

// dateLayouts are tried in order when parsing transaction dates.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
	"01/02/2006",
}

// candidate is the shape the struct rules run against.
type candidate struct {
	TransactionID   string `validate:"required"`
	TransactionDate string `validate:"required"`
	Amount          string `validate:"required,numeric"`
	Branch          string `validate:"required"`
	TransactionType string `validate:"required,oneof=credit debit transfer"`
}

// Rules validates and cleans raw records.
type Rules struct {
	v *validator.Validate
}

// New builds the rule set.
func New() *Rules {
	return &Rules{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate splits chunk into cleaned transactions and rejections. Duplicate
// transaction IDs inside the chunk keep the first occurrence.
func (r *Rules) Validate(chunk []ledger.RawRecord) ([]ledger.Transaction, []ledger.Rejection, ledger.ValidationReport) {
	report := ledger.ValidationReport{TotalRows: len(chunk)}
	valid := make([]ledger.Transaction, 0, len(chunk))
	var invalid []ledger.Rejection
	seen := make(map[string]struct{}, len(chunk))

	for _, rec := range chunk {
		txn, reason := r.check(rec)
		if reason == "" {
			if _, dup := seen[txn.ID]; dup {
				reason = "duplicate transaction id"
			}
		}
		if reason != "" {
			invalid = append(invalid, ledger.Rejection{Record: rec, Reason: reason})
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: %s", rec.RowID, reason))
			continue
		}
		seen[txn.ID] = struct{}{}
		valid = append(valid, txn)
	}
	report.ValidRows = len(valid)
	report.InvalidRows = len(invalid)
	return valid, invalid, report
}

func (r *Rules) check(rec ledger.RawRecord) (ledger.Transaction, string) {
	c := candidate{
		TransactionID:   strings.TrimSpace(rec.TransactionID),
		TransactionDate: strings.TrimSpace(rec.TransactionDate),
		Amount:          strings.TrimSpace(rec.Amount),
		Branch:          strings.TrimSpace(rec.Branch),
		TransactionType: strings.ToLower(strings.TrimSpace(rec.TransactionType)),
	}
	if err := r.v.Struct(c); err != nil {
		return ledger.Transaction{}, describe(err)
	}
	ts, ok := parseDate(c.TransactionDate)
	if !ok {
		return ledger.Transaction{}, fmt.Sprintf("unparseable transaction date %q", c.TransactionDate)
	}
	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return ledger.Transaction{}, fmt.Sprintf("invalid amount %q", c.Amount)
	}
	return ledger.Transaction{
		ID:        c.TransactionID,
		Timestamp: ts,
		Amount:    amount.Round(2),
		Branch:    titleCase(c.Branch),
		Type:      titleCase(c.TransactionType),
		Customer:  strings.Join(strings.Fields(rec.CustomerName), " "),
	}, ""
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("missing %s", fe.Field())
	case "oneof":
		return fmt.Sprintf("unknown %s %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("invalid %s %q", fe.Field(), fe.Value())
	}
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// titleCase collapses whitespace and title-cases each word. A Caser keeps
// state, so each call gets its own.
func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.Join(strings.Fields(s), " "))
}
