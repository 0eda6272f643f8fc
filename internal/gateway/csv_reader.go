// Package gateway reads transaction exports from disk.
package gateway

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"sage/internal/core"

	"github.com/shopspring/decimal"
)

// Column layout of a transaction export. The first row is a header and is
// always skipped.
const (
	colAccountID = iota
	colTransactionID
	colDate
	colTime
	colActivity
	colAmount
	colCategory
	colType
	colVendorName
	columnCount
)

// CSVReader parses transaction CSV files into core transactions.
type CSVReader struct{}

func NewCSVReader() *CSVReader {
	return &CSVReader{}
}

// ReadFile opens path and parses every record in it.
func (r *CSVReader) ReadFile(path string, userID string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	return r.Read(f, userID)
}

// Read parses transaction records from src. Blank lines are skipped; a
// malformed row aborts the whole read so a partial import never happens
// silently.
func (r *CSVReader) Read(src io.Reader, userID string) ([]core.Transaction, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var txs []core.Transaction
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		line++
		if line == 1 {
			continue // header
		}
		if isBlank(record) {
			continue
		}

		tx, err := parseRecord(record, userID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

func parseRecord(record []string, userID string) (core.Transaction, error) {
	if len(record) < columnCount {
		return core.Transaction{}, fmt.Errorf("expected %d fields, got %d", columnCount, len(record))
	}

	txID, err := strconv.ParseInt(strings.TrimSpace(record[colTransactionID]), 10, 64)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction id %q: %w", record[colTransactionID], err)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(record[colAmount]))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", record[colAmount], err)
	}

	tx := core.Transaction{
		TransactionID: txID,
		AccountID:     strings.TrimSpace(record[colAccountID]),
		UserID:        userID,
		Date:          strings.TrimSpace(record[colDate]),
		Time:          strings.TrimSpace(record[colTime]),
		Activity:      strings.TrimSpace(record[colActivity]),
		Amount:        amount,
		Category:      strings.TrimSpace(record[colCategory]),
		Type:          strings.TrimSpace(record[colType]),
		VendorName:    strings.TrimSpace(record[colVendorName]),
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
