package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Weekly   TimePeriod = "weekly"
	Biweekly TimePeriod = "biweekly"
	Monthly  TimePeriod = "monthly"
)

// CategorySeparator delimits levels of a hierarchical category path,
// e.g. "Food > Restaurants".
const CategorySeparator = " > "

// IncomeCategory is the top-level category marking inflows. The comparison
// is case-sensitive: "Income" is an expense category as far as the totals
// are concerned.
const IncomeCategory = "income"

type (
	TimePeriod string

	// Transaction is a single financial transaction. It is owned by the
	// store and treated as read-only by the aggregation workflow.
	Transaction struct {
		ID            int64
		TransactionID int64
		AccountID     string
		UserID        string
		Date          string // calendar date, ISO 8601, no time zone
		Time          string
		Activity      string
		Amount        decimal.Decimal
		Category      string
		Type          string
		VendorName    string
	}

	// User holds the account linkage and notification settings for a user.
	User struct {
		UserID         string
		AccountID      string
		Email          string
		WeeklyBudget   decimal.Decimal
		BiweeklyBudget decimal.Decimal
		MonthlyBudget  decimal.Decimal
		CreatedAt      time.Time
	}
)

var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidPeriod      = errors.New("invalid time period")
	ErrEmptyAccountID     = errors.New("empty account id")
	ErrInvalidTransaction = errors.New("invalid transaction id")
)

func (t Transaction) Validate() error {
	if t.TransactionID <= 0 {
		return ErrInvalidTransaction
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if _, err := time.Parse("2006-01-02", t.Date); err != nil {
		return ErrInvalidDate
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// TopLevelCategory returns the first segment of the transaction's
// hierarchical category path.
func (t Transaction) TopLevelCategory() string {
	return TopLevelCategory(t.Category)
}

// IsIncome reports whether the transaction counts as inflow.
func (t Transaction) IsIncome() bool {
	return t.TopLevelCategory() == IncomeCategory
}

// TopLevelCategory returns the first segment of a category path.
func TopLevelCategory(category string) string {
	if idx := strings.Index(category, CategorySeparator); idx >= 0 {
		return category[:idx]
	}
	return category
}

// FormatCategory turns a raw category label into a display label:
// underscores become spaces and each word is title-cased, so
// "FOOD_AND_DRINK" renders as "Food And Drink".
func FormatCategory(label string) string {
	words := strings.FieldsFunc(label, func(r rune) bool {
		return r == '_' || r == ' '
	})
	for i, w := range words {
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

func (p TimePeriod) Validate() error {
	switch p {
	case Weekly, Biweekly, Monthly:
		return nil
	}
	return ErrInvalidPeriod
}

// Days returns the fixed window offset for the period.
func (p TimePeriod) Days() int {
	switch p {
	case Weekly:
		return 7
	case Biweekly:
		return 14
	case Monthly:
		return 30
	}
	return 0
}

// DateRange derives the [start, end] detection window for the period:
// end is the current date, start is end minus the period offset. Both are
// calendar dates without time-of-day.
func (p TimePeriod) DateRange(now time.Time) (startDate, endDate string) {
	now = now.UTC()
	endDate = now.Format("2006-01-02")
	startDate = now.AddDate(0, 0, -p.Days()).Format("2006-01-02")
	return startDate, endDate
}
