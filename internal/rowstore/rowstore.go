// Package rowstore holds the column layout shared by the row store backends.
package rowstore

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

// DefaultTable is the table ingested transactions land in.
const DefaultTable = "banking_transactions"

// Columns lists the data columns in storage order. row_id is managed by the
// backend and defines the offset order.
var Columns = []string{
	"transaction_id",
	"transaction_date",
	"amount",
	"branch",
	"transaction_type",
	"customer_name",
}

// NormalizeHeader maps a source column header onto a column name: surrounding
// space is dropped, inner spaces become underscores, and case is folded.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", "_"))
}

// Values returns the record's data columns in Columns order.
func Values(r ledger.RawRecord) []any {
	return []any{r.TransactionID, r.TransactionDate, r.Amount, r.Branch, r.TransactionType, r.CustomerName}
}

// FromRow builds a record from a header-indexed row. Missing cells are empty.
func FromRow(index map[string]int, row []string) ledger.RawRecord {
	cell := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return ledger.RawRecord{
		TransactionID:   cell("transaction_id"),
		TransactionDate: cell("transaction_date"),
		Amount:          cell("amount"),
		Branch:          cell("branch"),
		TransactionType: cell("transaction_type"),
		CustomerName:    cell("customer_name"),
	}
}

// HeaderIndex normalizes a header row and indexes it. At least one known
// column must be present, otherwise the source is not a transaction file.
func HeaderIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[NormalizeHeader(h)] = i
	}
	for _, c := range Columns {
		if _, ok := index[c]; ok {
			return index, nil
		}
	}
	return nil, fmt.Errorf("no transaction columns in header %v", header)
}
