package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sage/internal/anomaly"
	"sage/internal/core"
	"sage/internal/email"
)

// MonitorConfig holds configuration for the anomaly monitor
type MonitorConfig struct {
	// DefaultPeriod is the period selected at startup ("" means none;
	// no polling happens until one is selected).
	DefaultPeriod core.TimePeriod

	// Now supplies the current time for date-window derivation.
	Now func() time.Time
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		DefaultPeriod: core.Biweekly,
		Now:           time.Now,
	}
}

// AnomalyMonitor runs the spending anomaly workflow: it watches the
// transaction list for growth, polls the detection service over the
// selected period's window, and dispatches a one-shot email alert per
// session epoch.
//
// All session state (selected period, alert-sent latch, last observed
// count, cached report) lives on the monitor value so the workflow is
// testable without any serving runtime. Single-writer: callers may invoke
// it from multiple goroutines, but state transitions are serialized under
// one mutex.
type AnomalyMonitor struct {
	detector anomaly.Detector
	sender   email.Sender
	config   MonitorConfig

	mu         sync.Mutex
	period     core.TimePeriod
	alertSent  bool
	lastCount  int
	report     *anomaly.Report
	nextSeq    uint64
	appliedSeq uint64
}

// NewAnomalyMonitor creates an anomaly monitor. sender may be nil, in
// which case alerts are skipped.
func NewAnomalyMonitor(detector anomaly.Detector, sender email.Sender, config MonitorConfig) *AnomalyMonitor {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &AnomalyMonitor{
		detector: detector,
		sender:   sender,
		config:   config,
		period:   config.DefaultPeriod,
	}
}

// Period returns the currently selected time period ("" if none).
func (m *AnomalyMonitor) Period() core.TimePeriod {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Report returns the most recently applied anomaly report, nil when no
// report is cached.
func (m *AnomalyMonitor) Report() *anomaly.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

// AlertSent reports whether an alert has been dispatched in the current
// session epoch.
func (m *AnomalyMonitor) AlertSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alertSent
}

// SetPeriod selects a new time period. Changing the period starts a new
// session epoch: the alert-sent latch resets so a report for the new
// window can trigger a fresh notification. A poll runs immediately.
func (m *AnomalyMonitor) SetPeriod(ctx context.Context, period core.TimePeriod, user core.User, transactions []core.Transaction) error {
	if err := period.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.period = period
	m.alertSent = false
	m.mu.Unlock()

	slog.InfoContext(ctx, "Time period selected",
		"period", period,
		"user_id", user.UserID)

	m.poll(ctx, period, user, transactions)
	return nil
}

// Observe feeds the current transaction list through the change-driven
// watcher. When the count grew since the last observation, the alert
// latch resets and a fresh poll runs for the selected period; equal or
// decreased counts cause no transition. The first observation compares
// against a last-observed count of zero.
func (m *AnomalyMonitor) Observe(ctx context.Context, user core.User, transactions []core.Transaction) {
	count := len(transactions)

	m.mu.Lock()
	grew := count > m.lastCount
	m.lastCount = count
	period := m.period
	if grew && period != "" {
		m.alertSent = false
	}
	m.mu.Unlock()

	if !grew {
		return
	}
	if period == "" {
		slog.DebugContext(ctx, "New transactions observed but no period selected", "count", count)
		return
	}

	slog.InfoContext(ctx, "New transactions observed, re-polling anomalies",
		"count", count,
		"period", period,
		"user_id", user.UserID)

	m.poll(ctx, period, user, transactions)
}

// poll derives the date window, calls the detection service and
// reconciles the outcome into the cached report.
//
// Outcomes: success replaces the report wholesale; an explicit service
// error clears it; a transport failure leaves the previous report
// untouched. The asymmetry between the last two mirrors the observed
// product behavior and is kept deliberately.
func (m *AnomalyMonitor) poll(ctx context.Context, period core.TimePeriod, user core.User, transactions []core.Transaction) {
	// Deliberate no-op, not a failure: nothing to detect against.
	if len(transactions) == 0 {
		slog.DebugContext(ctx, "Skipping anomaly poll, no transactions", "user_id", user.UserID)
		return
	}

	// The detection service is keyed by account; the account is the one
	// on the first transaction in the list.
	accountID := transactions[0].AccountID
	startDate, endDate := period.DateRange(m.config.Now())

	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	m.mu.Unlock()

	report, err := m.detector.Detect(ctx, accountID, startDate, endDate)

	m.mu.Lock()
	// Overlapping polls resolve in any order; a response older than the
	// last applied one is discarded instead of clobbering newer state.
	if seq <= m.appliedSeq {
		m.mu.Unlock()
		slog.DebugContext(ctx, "Discarding stale anomaly poll result", "seq", seq)
		return
	}

	if err != nil {
		var svcErr *anomaly.ServiceError
		if errors.As(err, &svcErr) {
			// Explicit error indicator: treated as "no anomalies".
			m.report = nil
			m.appliedSeq = seq
			m.mu.Unlock()
			slog.ErrorContext(ctx, "Anomaly detection error",
				"error", svcErr.Message,
				"account_id", accountID)
			return
		}
		// Transport failure: previous report stays; the sequence does not
		// advance so a slower earlier success may still land.
		m.mu.Unlock()
		slog.ErrorContext(ctx, "Failed to fetch anomalies",
			"error", err,
			"account_id", accountID,
			"start_date", startDate,
			"end_date", endDate)
		return
	}

	m.report = report
	m.appliedSeq = seq
	shouldDispatch := !report.Empty() && !m.alertSent && m.sender != nil && user.Email != ""
	m.mu.Unlock()

	slog.InfoContext(ctx, "Anomaly report updated",
		"account_id", accountID,
		"high", len(report.HighSpending),
		"low", len(report.LowSpending),
		"start_date", startDate,
		"end_date", endDate)

	if shouldDispatch {
		m.dispatch(ctx, user.Email, report)
	}
}

// dispatch sends at most one alert per session epoch. The latch is set on
// dispatch success only, so a failed send may be retried by a later poll.
func (m *AnomalyMonitor) dispatch(ctx context.Context, to string, report *anomaly.Report) {
	if err := m.sender.SendAlert(ctx, to, report); err != nil {
		slog.ErrorContext(ctx, "Failed to send anomaly alert email", "error", err)
		return
	}

	m.mu.Lock()
	m.alertSent = true
	m.mu.Unlock()

	slog.InfoContext(ctx, "Anomaly alert email sent",
		"to", to,
		"anomalies", report.Count())
}
