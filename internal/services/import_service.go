package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sage/internal/core"
	"sage/internal/storage"

	"github.com/google/uuid"
)

// TransactionStore is the subset of the repository the importer needs.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error)
	UpsertUserAccount(ctx context.Context, userID, accountID, email string) error
}

// ImportPublisher announces finished import runs. A nil publisher means
// imports are local-only.
type ImportPublisher interface {
	PublishTransactionsImported(ctx context.Context, userID, runID string, imported int) error
}

// ImportResult summarizes one import run.
type ImportResult struct {
	RunID    string `json:"runId"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// ImportService writes parsed transactions into storage one at a time so
// a bad row never blocks the rest of the file.
type ImportService struct {
	store     TransactionStore
	publisher ImportPublisher
}

func NewImportService(store TransactionStore, publisher ImportPublisher) *ImportService {
	return &ImportService{
		store:     store,
		publisher: publisher,
	}
}

// Import persists txs for userID. Duplicate transaction IDs are counted
// as skipped, other insert failures as failed; neither aborts the run.
// The user's account binding is refreshed from the first transaction.
func (s *ImportService) Import(ctx context.Context, userID, email string, txs []core.Transaction) (*ImportResult, error) {
	result := &ImportResult{RunID: uuid.NewString()}
	if len(txs) == 0 {
		return result, nil
	}

	if err := s.store.UpsertUserAccount(ctx, userID, txs[0].AccountID, email); err != nil {
		return nil, fmt.Errorf("upsert user account: %w", err)
	}

	for _, tx := range txs {
		_, err := s.store.InsertTransaction(ctx, tx)
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, storage.ErrDuplicateTransaction):
			result.Skipped++
			slog.DebugContext(ctx, "Skipping duplicate transaction",
				"transactionId", tx.TransactionID,
				"runId", result.RunID)
		default:
			result.Failed++
			slog.ErrorContext(ctx, "Failed to insert transaction",
				"transactionId", tx.TransactionID,
				"runId", result.RunID,
				"error", err)
		}
	}

	if result.Imported > 0 {
		if err := s.publishImported(ctx, userID, result); err != nil {
			slog.ErrorContext(ctx, "Failed to publish import message",
				"userId", userID,
				"runId", result.RunID,
				"error", err)
			// Don't fail the run - transactions are saved locally
		}
	}

	slog.InfoContext(ctx, "Import run finished",
		"userId", userID,
		"runId", result.RunID,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

func (s *ImportService) publishImported(ctx context.Context, userID string, result *ImportResult) error {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping import message")
		return nil
	}

	return s.publisher.PublishTransactionsImported(ctx, userID, result.RunID, result.Imported)
}
