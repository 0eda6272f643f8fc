package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"sage/internal/amqp"
	"sage/internal/anomaly"
	"sage/internal/core"
	"sage/internal/services"
	"sage/internal/storage"

	"github.com/shopspring/decimal"
)

type stubStore struct {
	txs     []core.Transaction
	txErr   error
	user    *core.User
	userErr error
}

func (s *stubStore) ListTransactionsByUser(context.Context, string) ([]core.Transaction, error) {
	return s.txs, s.txErr
}

func (s *stubStore) GetUser(context.Context, string) (*core.User, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	return s.user, nil
}

type stubDetector struct {
	calls  int
	report *anomaly.Report
}

func (d *stubDetector) Detect(context.Context, string, string, string) (*anomaly.Report, error) {
	d.calls++
	return d.report, nil
}

func workerTx(txID int64) core.Transaction {
	return core.Transaction{
		TransactionID: txID,
		AccountID:     "acct_1",
		UserID:        "user_1",
		Date:          "2025-03-10",
		Amount:        decimal.NewFromInt(10),
		Category:      "Food",
	}
}

func workerTxs(n int) []core.Transaction {
	txs := make([]core.Transaction, n)
	for i := range txs {
		txs[i] = workerTx(int64(i + 1))
	}
	return txs
}

func newMonitor(detector anomaly.Detector) *services.AnomalyMonitor {
	return services.NewAnomalyMonitor(detector, nil, services.MonitorConfig{
		DefaultPeriod: core.Biweekly,
		Now:           time.Now,
	})
}

func TestHandleListChange_TriggersPoll(t *testing.T) {
	detector := &stubDetector{report: &anomaly.Report{}}
	store := &stubStore{
		txs:     []core.Transaction{workerTx(1)},
		userErr: storage.ErrUserNotFound,
	}
	w := NewAnomalyWorker(store, newMonitor(detector), "")

	msg := amqp.NewTransactionsImportedMessage("user_1", "run-1", 1)
	if err := w.HandleListChange(context.Background(), msg); err != nil {
		t.Fatalf("HandleListChange() error = %v", err)
	}

	if detector.calls != 1 {
		t.Errorf("detector calls = %d, want 1 (list grew from 0)", detector.calls)
	}
}

func TestHandleListChange_NoGrowthNoPoll(t *testing.T) {
	detector := &stubDetector{report: &anomaly.Report{}}
	store := &stubStore{
		txs:  []core.Transaction{workerTx(1)},
		user: &core.User{UserID: "user_1", AccountID: "acct_1"},
	}
	monitor := newMonitor(detector)
	w := NewAnomalyWorker(store, monitor, "")

	msg := amqp.NewTransactionsImportedMessage("user_1", "run-1", 1)
	if err := w.HandleListChange(context.Background(), msg); err != nil {
		t.Fatalf("first message error = %v", err)
	}
	if err := w.HandleListChange(context.Background(), msg); err != nil {
		t.Fatalf("second message error = %v", err)
	}

	if detector.calls != 1 {
		t.Errorf("detector calls = %d, want 1 (count did not grow)", detector.calls)
	}
}

func TestHandleListChange_DeleteLowersObservedCount(t *testing.T) {
	detector := &stubDetector{report: &anomaly.Report{}}
	store := &stubStore{
		txs:  workerTxs(5),
		user: &core.User{UserID: "user_1", AccountID: "acct_1"},
	}
	monitor := newMonitor(detector)
	w := NewAnomalyWorker(store, monitor, "")

	ctx := context.Background()
	if err := w.HandleListChange(ctx, amqp.NewTransactionsImportedMessage("user_1", "run-1", 5)); err != nil {
		t.Fatalf("import message error = %v", err)
	}
	if detector.calls != 1 {
		t.Fatalf("detector calls = %d, want 1 after first import", detector.calls)
	}

	// Bulk delete empties the list; the observation must register the
	// drop even though it polls nothing.
	store.txs = nil
	if err := w.HandleListChange(ctx, amqp.NewTransactionsDeletedMessage("user_1", 5)); err != nil {
		t.Fatalf("delete message error = %v", err)
	}
	if detector.calls != 1 {
		t.Fatalf("detector calls = %d, delete must not poll", detector.calls)
	}

	// A smaller fresh import still counts as growth.
	store.txs = workerTxs(2)
	if err := w.HandleListChange(ctx, amqp.NewTransactionsImportedMessage("user_1", "run-2", 2)); err != nil {
		t.Fatalf("re-import message error = %v", err)
	}
	if detector.calls != 2 {
		t.Errorf("detector calls = %d, want 2 (growth after delete)", detector.calls)
	}
}

type stubSender struct {
	to    string
	calls int
}

func (s *stubSender) SendAlert(_ context.Context, to string, _ *anomaly.Report) error {
	s.calls++
	s.to = to
	return nil
}

func TestHandleListChange_FallbackRecipient(t *testing.T) {
	detector := &stubDetector{report: &anomaly.Report{
		HighSpending: []anomaly.Anomaly{{Amount: 500, Date: "2025-03-10"}},
	}}
	sender := &stubSender{}
	monitor := services.NewAnomalyMonitor(detector, sender, services.MonitorConfig{
		DefaultPeriod: core.Biweekly,
		Now:           time.Now,
	})
	store := &stubStore{
		txs:  []core.Transaction{workerTx(1)},
		user: &core.User{UserID: "user_1", AccountID: "acct_1"},
	}
	w := NewAnomalyWorker(store, monitor, "alerts@example.com")

	msg := amqp.NewTransactionsImportedMessage("user_1", "run-1", 1)
	if err := w.HandleListChange(context.Background(), msg); err != nil {
		t.Fatalf("HandleListChange() error = %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.calls)
	}
	if sender.to != "alerts@example.com" {
		t.Errorf("alert sent to %q, want the configured fallback", sender.to)
	}
}

func TestHandleListChange_StoreFailureRequeues(t *testing.T) {
	store := &stubStore{txErr: errors.New("db locked")}
	w := NewAnomalyWorker(store, newMonitor(&stubDetector{report: &anomaly.Report{}}), "")

	msg := amqp.NewTransactionsImportedMessage("user_1", "run-1", 1)
	if err := w.HandleListChange(context.Background(), msg); err == nil {
		t.Error("storage failure should surface so the delivery is retried")
	}
}
