package http

import (
	"log/slog"
	"net/http"

	"sage/internal/anomaly"
	"sage/internal/chat"
	"sage/internal/core"
	"sage/internal/gateway"

	"github.com/shopspring/decimal"
)

const recentTransactionLimit = 10

type transactionDTO struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Date          string          `json:"date"`
	Time          string          `json:"time,omitempty"`
	Activity      string          `json:"activity,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Type          string          `json:"type,omitempty"`
	VendorName    string          `json:"vendorName,omitempty"`
}

type categoryAmountDTO struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

type snapshotDTO struct {
	TotalIncome        decimal.Decimal     `json:"totalIncome"`
	TotalExpenses      decimal.Decimal     `json:"totalExpenses"`
	NetCashFlow        decimal.Decimal     `json:"netCashFlow"`
	TotalSpending      decimal.Decimal     `json:"totalSpending"`
	SpendingByCategory []categoryAmountDTO `json:"spendingByCategory"`
	TopCategory        string              `json:"topCategory"`
	TransactionCount   int                 `json:"transactionCount"`
}

type dashboardResponse struct {
	UserID             string           `json:"userId"`
	Period             core.TimePeriod  `json:"period,omitempty"`
	Snapshot           snapshotDTO      `json:"snapshot"`
	RecentTransactions []transactionDTO `json:"recentTransactions"`
	Anomalies          *anomaly.Report  `json:"anomalies,omitempty"`
}

func toTransactionDTO(tx core.Transaction) transactionDTO {
	return transactionDTO{
		ID:            tx.ID,
		TransactionID: tx.TransactionID,
		AccountID:     tx.AccountID,
		Date:          tx.Date,
		Time:          tx.Time,
		Activity:      tx.Activity,
		Amount:        tx.Amount,
		Category:      tx.Category,
		Type:          tx.Type,
		VendorName:    tx.VendorName,
	}
}

func toSnapshotDTO(s core.Snapshot) snapshotDTO {
	dto := snapshotDTO{
		TotalIncome:        s.TotalIncome,
		TotalExpenses:      s.TotalExpenses,
		NetCashFlow:        s.NetCashFlow,
		TotalSpending:      s.TotalSpending,
		SpendingByCategory: make([]categoryAmountDTO, 0, len(s.ByCategory)),
		TopCategory:        s.TopCategory,
		TransactionCount:   s.TransactionCount,
	}
	for _, ca := range s.ByCategory {
		dto.SpendingByCategory = append(dto.SpendingByCategory, categoryAmountDTO{
			Category: ca.Label,
			Amount:   ca.Amount,
		})
	}
	return dto
}

// handleDashboard answers GET /api/dashboard?userId= with the aggregate
// snapshot, the most recent transactions and the latest anomaly report.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID := sanitizeInput(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	txs, err := s.transactions(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Dashboard load error", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	recent := core.RecentFirst(txs)
	if len(recent) > recentTransactionLimit {
		recent = recent[:recentTransactionLimit]
	}

	resp := dashboardResponse{
		UserID:             userID,
		Period:             s.monitor.Period(),
		Snapshot:           toSnapshotDTO(core.Aggregate(txs)),
		RecentTransactions: make([]transactionDTO, 0, len(recent)),
		Anomalies:          s.monitor.Report(),
	}
	for _, tx := range recent {
		resp.RecentTransactions = append(resp.RecentTransactions, toTransactionDTO(tx))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTransactions serves GET (list) and DELETE (bulk delete) on
// /api/transactions?userId=.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := sanitizeInput(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		txs, err := s.transactions(r.Context(), userID)
		if err != nil {
			slog.ErrorContext(r.Context(), "Transaction list error", "error", err, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "failed to load transactions")
			return
		}
		dtos := make([]transactionDTO, 0, len(txs))
		for _, tx := range txs {
			dtos = append(dtos, toTransactionDTO(tx))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":       userID,
			"transactions": dtos,
		})

	case http.MethodDelete:
		deleted, err := s.store.DeleteAllTransactions(r.Context(), userID)
		if err != nil {
			slog.ErrorContext(r.Context(), "Bulk delete error", "error", err, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "failed to delete transactions")
			return
		}
		s.invalidateUser(userID)

		// The watcher tracks the list size; an empty observation lowers
		// its last-observed count so the next import registers as
		// growth again.
		s.monitor.Observe(r.Context(), s.user(r.Context(), userID), nil)
		if s.events != nil {
			if err := s.events.PublishTransactionsDeleted(r.Context(), userID, deleted); err != nil {
				slog.ErrorContext(r.Context(), "Failed to publish delete message", "error", err, "user_id", userID)
				// Rows are gone either way; don't fail the request.
			}
		}

		slog.InfoContext(r.Context(), "Deleted all transactions", "user_id", userID, "count", deleted)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"deletedCount": deleted,
		})

	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type periodRequest struct {
	UserID string `json:"userId"`
	Period string `json:"period"`
}

// handlePeriod answers POST /api/period: selects the detection window,
// resets the alert latch and triggers an immediate poll.
func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req periodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = sanitizeInput(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	txs, err := s.transactions(r.Context(), req.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Period change load error", "error", err, "user_id", req.UserID)
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	user := s.user(r.Context(), req.UserID)
	period := core.TimePeriod(req.Period)
	if err := s.monitor.SetPeriod(r.Context(), period, user, txs); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid period: must be weekly, biweekly or monthly")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"period":  period,
	})
}

// handleLatestAnomalies answers GET /api/anomalies/latest with the
// monitor's cached state.
func (s *Server) handleLatestAnomalies(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period":    s.monitor.Period(),
		"alertSent": s.monitor.AlertSent(),
		"report":    s.monitor.Report(),
	})
}

type importRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Path   string `json:"path,omitempty"`
}

// handleImport answers POST /api/import: parses the CSV export and loads
// it for the user. Without an explicit path the configured export file
// is used.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = sanitizeInput(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	path := req.Path
	if path == "" {
		path = s.csvPath
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "no csv file configured")
		return
	}

	txs, err := gateway.NewCSVReader().ReadFile(path, req.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "CSV parse error", "error", err, "path", path)
		writeError(w, http.StatusBadRequest, "failed to parse csv file")
		return
	}

	result, err := s.importer.Import(r.Context(), req.UserID, sanitizeInput(req.Email), txs)
	if err != nil {
		slog.ErrorContext(r.Context(), "Import error", "error", err, "user_id", req.UserID)
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}

	s.invalidateUser(req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"runId":    result.RunID,
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	})
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type chatResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Graph   *chat.GraphData `json:"graph,omitempty"`
}

// handleChat answers POST /api/chat with an assistant reply grounded in
// the user's stored transactions.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat assistant not configured")
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = sanitizeInput(req.UserID)
	req.Message = sanitizeInput(req.Message)
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "userId and message are required")
		return
	}

	reply, err := s.chat.Ask(r.Context(), req.UserID, req.Message)
	if err != nil {
		slog.ErrorContext(r.Context(), "Chat error", "error", err, "user_id", req.UserID)
		writeError(w, http.StatusBadGateway, "assistant unavailable")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success: true,
		Message: reply.Message,
		Graph:   reply.Graph,
	})
}
