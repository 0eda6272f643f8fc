package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sage/internal/core"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicateTransaction is returned when a transaction with the same
	// transaction_id has already been imported.
	ErrDuplicateTransaction = errors.New("transaction already exists")

	// ErrUserNotFound is returned when no user record exists for an id.
	ErrUserNotFound = errors.New("user not found")
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertTransaction stores a transaction, rejecting duplicates by
// transaction_id with ErrDuplicateTransaction. Duplicates are detected
// through the UNIQUE constraint so concurrent importers cannot race past
// the check.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (transaction_id, account_id, user_id, date, time, activity, amount, category, type, vendor_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.TransactionID, tx.AccountID, tx.UserID, tx.Date, tx.Time, tx.Activity,
		tx.Amount.String(), tx.Category, tx.Type, tx.VendorName)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateTransaction
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved",
		"id", id,
		"transaction_id", tx.TransactionID,
		"account_id", tx.AccountID)

	return id, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// ListTransactionsByUser returns the user's transactions, newest date
// first; equal dates keep insertion order.
func (r *SQLiteRepository) ListTransactionsByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, transaction_id, account_id, user_id, date, time, activity, amount, category, type, vendor_name
		 FROM transactions WHERE user_id = ? ORDER BY date DESC, id ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []core.Transaction
	for rows.Next() {
		var tx core.Transaction
		var amount string
		if err := rows.Scan(&tx.ID, &tx.TransactionID, &tx.AccountID, &tx.UserID, &tx.Date,
			&tx.Time, &tx.Activity, &amount, &tx.Category, &tx.Type, &tx.VendorName); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return transactions, nil
}

// CountTransactionsByUser returns how many transactions the user has.
func (r *SQLiteRepository) CountTransactionsByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transactions WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// DeleteAllTransactions removes every transaction belonging to the user
// and returns how many rows were deleted.
func (r *SQLiteRepository) DeleteAllTransactions(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	slog.InfoContext(ctx, "Deleted all transactions for user",
		"user_id", userID,
		"count", deleted)

	return deleted, nil
}

// GetUser loads a user record, ErrUserNotFound when missing.
func (r *SQLiteRepository) GetUser(ctx context.Context, userID string) (*core.User, error) {
	var (
		user                     core.User
		weekly, biweekly, monthly string
		createdAt                string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, account_id, email, weekly_budget, biweekly_budget, monthly_budget, created_at
		 FROM users WHERE user_id = ?`, userID).
		Scan(&user.UserID, &user.AccountID, &user.Email, &weekly, &biweekly, &monthly, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if user.WeeklyBudget, err = decimal.NewFromString(weekly); err != nil {
		return nil, fmt.Errorf("parse weekly budget %q: %w", weekly, err)
	}
	if user.BiweeklyBudget, err = decimal.NewFromString(biweekly); err != nil {
		return nil, fmt.Errorf("parse biweekly budget %q: %w", biweekly, err)
	}
	if user.MonthlyBudget, err = decimal.NewFromString(monthly); err != nil {
		return nil, fmt.Errorf("parse monthly budget %q: %w", monthly, err)
	}
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		user.CreatedAt = t
	}

	return &user, nil
}

// UpsertUserAccount creates the user with the given account id, or
// updates the account id on an existing record. A non-empty email
// replaces the stored one so a later import can supply the alert
// address; an empty email leaves it alone. Budgets keep their defaults
// on creation.
func (r *SQLiteRepository) UpsertUserAccount(ctx context.Context, userID, accountID, email string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (user_id, account_id, email) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   account_id = excluded.account_id,
		   email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END`,
		userID, accountID, email)
	if err != nil {
		return fmt.Errorf("upsert user account: %w", err)
	}

	slog.InfoContext(ctx, "User account updated",
		"user_id", userID,
		"account_id", accountID)

	return nil
}
