// Package worker reacts to import events by re-running the anomaly
// monitor over the user's refreshed transaction list.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sage/internal/amqp"
	"sage/internal/core"
	"sage/internal/services"
	"sage/internal/storage"
)

// Store is the storage surface the worker reads from.
type Store interface {
	ListTransactionsByUser(ctx context.Context, userID string) ([]core.Transaction, error)
	GetUser(ctx context.Context, userID string) (*core.User, error)
}

// AnomalyWorker feeds list-change notifications through the
// change-driven monitor: each message triggers a fresh observation of
// the user's transaction list, which polls the detection service when
// the list grew. Delete notifications lower the observed count so a
// later, smaller import still registers as growth.
type AnomalyWorker struct {
	store   Store
	monitor *services.AnomalyMonitor

	// alertRecipient is the address alerts fall back to for users whose
	// record carries no email.
	alertRecipient string
}

func NewAnomalyWorker(store Store, monitor *services.AnomalyMonitor, alertRecipient string) *AnomalyWorker {
	return &AnomalyWorker{
		store:          store,
		monitor:        monitor,
		alertRecipient: alertRecipient,
	}
}

// HandleListChange processes one transaction-list-changed event.
func (w *AnomalyWorker) HandleListChange(ctx context.Context, msg *amqp.TransactionListChangedMessage) error {
	slog.InfoContext(ctx, "Processing list-change event",
		"user_id", msg.UserID,
		"run_id", msg.RunID,
		"imported", msg.Imported,
		"deleted", msg.Deleted)

	txs, err := w.store.ListTransactionsByUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	user, err := w.store.GetUser(ctx, msg.UserID)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("get user: %w", err)
		}
		user = &core.User{UserID: msg.UserID}
	}
	if user.Email == "" {
		user.Email = w.alertRecipient
	}

	w.monitor.Observe(ctx, *user, txs)
	return nil
}
