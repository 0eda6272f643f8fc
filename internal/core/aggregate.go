package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// NoCategory is the placeholder top category of an empty snapshot.
const NoCategory = "None"

type (
	// CategoryAmount pairs a display label with a summed amount.
	CategoryAmount struct {
		Label  string
		Amount decimal.Decimal
	}

	// DateAmount pairs a calendar date with the amount summed on that date.
	DateAmount struct {
		Date   string
		Amount decimal.Decimal
	}

	// Snapshot holds the figures derived from a transaction list. It is
	// recomputed wholesale on every list change and never mutated in place.
	Snapshot struct {
		TotalIncome   decimal.Decimal
		TotalExpenses decimal.Decimal
		NetCashFlow   decimal.Decimal
		TotalSpending decimal.Decimal

		// ByCategory keeps first-occurrence order of the formatted
		// top-level labels, which drives tie-breaking for TopCategory.
		ByCategory []CategoryAmount

		TopCategory      string
		TransactionCount int

		index map[string]int
	}
)

// Aggregate reduces a transaction list into a Snapshot. Pure and
// synchronous; an empty input yields an all-zero snapshot with
// TopCategory set to NoCategory.
//
// The income/expense split partitions on the top-level category being
// exactly "income". Income rows feed only the totals; the category
// breakdown covers expense rows and keeps their raw signed amounts, so
// per-category figures are not sign-normalized against TotalExpenses.
func Aggregate(transactions []Transaction) Snapshot {
	s := Snapshot{
		TopCategory:      NoCategory,
		TransactionCount: len(transactions),
		index:            make(map[string]int),
	}

	for _, tx := range transactions {
		s.TotalSpending = s.TotalSpending.Add(tx.Amount)
		if tx.IsIncome() {
			s.TotalIncome = s.TotalIncome.Add(tx.Amount)
			continue
		}
		s.TotalExpenses = s.TotalExpenses.Add(tx.Amount)

		label := FormatCategory(tx.TopLevelCategory())
		if i, ok := s.index[label]; ok {
			s.ByCategory[i].Amount = s.ByCategory[i].Amount.Add(tx.Amount)
		} else {
			s.index[label] = len(s.ByCategory)
			s.ByCategory = append(s.ByCategory, CategoryAmount{Label: label, Amount: tx.Amount})
		}
	}

	s.NetCashFlow = s.TotalIncome.Sub(s.TotalExpenses)

	// Arg-max with strict greater-than: ties resolve to the earliest-seen
	// category, and a breakdown of only non-positive sums keeps NoCategory.
	top := decimal.Zero
	for _, ca := range s.ByCategory {
		if ca.Amount.GreaterThan(top) {
			s.TopCategory = ca.Label
			top = ca.Amount
		}
	}

	return s
}

// Category returns the summed amount for a formatted category label.
func (s Snapshot) Category(label string) (decimal.Decimal, bool) {
	i, ok := s.index[label]
	if !ok {
		return decimal.Zero, false
	}
	return s.ByCategory[i].Amount, true
}

// TopCategories returns up to n categories sorted by amount, largest
// first. Sorting is stable so equal sums keep first-occurrence order.
func (s Snapshot) TopCategories(n int) []CategoryAmount {
	sorted := make([]CategoryAmount, len(s.ByCategory))
	copy(sorted, s.ByCategory)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.GreaterThan(sorted[j].Amount)
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// SpendingByDate sums amounts per calendar date, ascending by date.
func SpendingByDate(transactions []Transaction) []DateAmount {
	index := make(map[string]int)
	var series []DateAmount
	for _, tx := range transactions {
		if i, ok := index[tx.Date]; ok {
			series[i].Amount = series[i].Amount.Add(tx.Amount)
		} else {
			index[tx.Date] = len(series)
			series = append(series, DateAmount{Date: tx.Date, Amount: tx.Amount})
		}
	}
	// ISO dates sort lexicographically.
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series
}

// RecentFirst returns a copy of the transactions sorted by date,
// newest first. Equal dates keep their original relative order.
func RecentFirst(transactions []Transaction) []Transaction {
	sorted := make([]Transaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })
	return sorted
}
