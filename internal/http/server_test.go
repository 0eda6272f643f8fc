package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sage/internal/anomaly"
	"sage/internal/chat"
	"sage/internal/core"
	"sage/internal/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	txs       []core.Transaction
	listCalls int
	listErr   error

	deleted   int64
	deleteErr error

	user    *core.User
	userErr error
}

func (f *fakeStore) ListTransactionsByUser(context.Context, string) ([]core.Transaction, error) {
	f.listCalls++
	return f.txs, f.listErr
}

func (f *fakeStore) DeleteAllTransactions(context.Context, string) (int64, error) {
	return f.deleted, f.deleteErr
}

func (f *fakeStore) GetUser(context.Context, string) (*core.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

type fakeImporter struct {
	result *services.ImportResult
	err    error
	txs    []core.Transaction
}

func (f *fakeImporter) Import(_ context.Context, _, _ string, txs []core.Transaction) (*services.ImportResult, error) {
	f.txs = txs
	return f.result, f.err
}

type fakeChat struct {
	reply *services.ChatReply
	err   error
}

func (f *fakeChat) Ask(context.Context, string, string) (*services.ChatReply, error) {
	return f.reply, f.err
}

type fakePublisher struct {
	userID  string
	deleted int64
	calls   int
	err     error
}

func (f *fakePublisher) PublishTransactionsDeleted(_ context.Context, userID string, deleted int64) error {
	f.calls++
	f.userID = userID
	f.deleted = deleted
	return f.err
}

type fakeDetector struct {
	calls  int
	report *anomaly.Report
}

func (f *fakeDetector) Detect(context.Context, string, string, string) (*anomaly.Report, error) {
	f.calls++
	return f.report, nil
}

func apiTx(txID int64, category, amount string) core.Transaction {
	return core.Transaction{
		ID:            txID,
		TransactionID: txID,
		AccountID:     "acct_1",
		UserID:        "user_1",
		Date:          "2025-03-10",
		Amount:        decimal.RequireFromString(amount),
		Category:      category,
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Monitor == nil {
		deps.Monitor = services.NewAnomalyMonitor(&fakeDetector{report: &anomaly.Report{}}, nil, services.MonitorConfig{})
	}
	srv := NewServer(":0", deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, reader)
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := doRequest(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestDashboard(t *testing.T) {
	store := &fakeStore{txs: []core.Transaction{
		apiTx(1, "income", "1000.00"),
		apiTx(2, "Food > Restaurants", "80.00"),
	}}
	srv := newTestServer(t, Deps{Store: store})

	rr := doRequest(srv, http.MethodGet, "/api/dashboard?userId=user_1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		UserID   string `json:"userId"`
		Snapshot struct {
			TotalIncome   string `json:"totalIncome"`
			TotalExpenses string `json:"totalExpenses"`
			NetCashFlow   string `json:"netCashFlow"`
			TopCategory   string `json:"topCategory"`
		} `json:"snapshot"`
		RecentTransactions []json.RawMessage `json:"recentTransactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "user_1", resp.UserID)
	assert.Equal(t, "1000", resp.Snapshot.TotalIncome)
	assert.Equal(t, "80", resp.Snapshot.TotalExpenses)
	assert.Equal(t, "920", resp.Snapshot.NetCashFlow)
	assert.Equal(t, "Food", resp.Snapshot.TopCategory)
	assert.Len(t, resp.RecentTransactions, 2)
}

func TestDashboard_RequiresUserID(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}})

	rr := doRequest(srv, http.MethodGet, "/api/dashboard", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTransactions_ListUsesCache(t *testing.T) {
	store := &fakeStore{txs: []core.Transaction{apiTx(1, "Food", "10.00")}}
	srv := newTestServer(t, Deps{Store: store})

	doRequest(srv, http.MethodGet, "/api/transactions?userId=user_1", "")
	doRequest(srv, http.MethodGet, "/api/transactions?userId=user_1", "")
	assert.Equal(t, 1, store.listCalls, "second list should be served from cache")
}

func TestTransactions_DeleteInvalidatesCache(t *testing.T) {
	store := &fakeStore{txs: []core.Transaction{apiTx(1, "Food", "10.00")}, deleted: 1}
	srv := newTestServer(t, Deps{Store: store})

	doRequest(srv, http.MethodGet, "/api/transactions?userId=user_1", "")

	rr := doRequest(srv, http.MethodDelete, "/api/transactions?userId=user_1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Success      bool  `json:"success"`
		DeletedCount int64 `json:"deletedCount"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.DeletedCount)

	doRequest(srv, http.MethodGet, "/api/transactions?userId=user_1", "")
	assert.Equal(t, 2, store.listCalls, "delete must invalidate the cached list")
}

func TestTransactions_DeletePublishesAndLowersWatcher(t *testing.T) {
	store := &fakeStore{txs: []core.Transaction{apiTx(1, "Food", "10.00")}, deleted: 1}
	detector := &fakeDetector{report: &anomaly.Report{}}
	monitor := services.NewAnomalyMonitor(detector, nil, services.MonitorConfig{DefaultPeriod: core.Biweekly})
	events := &fakePublisher{}
	srv := newTestServer(t, Deps{Store: store, Monitor: monitor, Events: events})

	// Seed the watcher with a non-zero count.
	monitor.Observe(context.Background(), core.User{UserID: "user_1"}, store.txs)

	rr := doRequest(srv, http.MethodDelete, "/api/transactions?userId=user_1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, 1, events.calls, "bulk delete must announce the change")
	assert.Equal(t, "user_1", events.userID)
	assert.Equal(t, int64(1), events.deleted)

	// The watcher saw the empty list, so a same-sized list counts as
	// growth again.
	calls := detector.calls
	monitor.Observe(context.Background(), core.User{UserID: "user_1"}, store.txs)
	assert.Equal(t, calls+1, detector.calls, "post-delete observation must register growth")
}

func TestTransactions_DeleteWithoutPublisher(t *testing.T) {
	store := &fakeStore{txs: []core.Transaction{apiTx(1, "Food", "10.00")}, deleted: 1}
	srv := newTestServer(t, Deps{Store: store})

	rr := doRequest(srv, http.MethodDelete, "/api/transactions?userId=user_1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPeriod(t *testing.T) {
	detector := &fakeDetector{report: &anomaly.Report{}}
	monitor := services.NewAnomalyMonitor(detector, nil, services.MonitorConfig{})
	store := &fakeStore{txs: []core.Transaction{apiTx(1, "Food", "10.00")}}
	srv := newTestServer(t, Deps{Store: store, Monitor: monitor})

	rr := doRequest(srv, http.MethodPost, "/api/period", `{"userId":"user_1","period":"weekly"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, core.Weekly, monitor.Period())
	assert.Equal(t, 1, detector.calls, "period change should trigger a poll")

	rr = doRequest(srv, http.MethodPost, "/api/period", `{"userId":"user_1","period":"yearly"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPeriod_UnknownUserFallsBack(t *testing.T) {
	// The store knows no user record at all; the handler must fall back
	// to a bare record instead of dereferencing a missing one.
	store := &fakeStore{txs: []core.Transaction{apiTx(1, "Food", "10.00")}, user: nil}
	srv := newTestServer(t, Deps{Store: store})

	rr := doRequest(srv, http.MethodPost, "/api/period", `{"userId":"user_1","period":"weekly"}`)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestLatestAnomalies(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}})

	rr := doRequest(srv, http.MethodGet, "/api/anomalies/latest?userId=user_1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Period    string          `json:"period"`
		AlertSent bool            `json:"alertSent"`
		Report    *anomaly.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.AlertSent)
	assert.Nil(t, resp.Report)
}

func TestImport(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "transactions.csv")
	csv := "account_id,transaction_id,date,time,activity,amount,category,type,vendor_name\n" +
		"acct_1,1001,2025-03-10,14:03,purchase,42.75,Food,debit,Cafe\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	importer := &fakeImporter{result: &services.ImportResult{RunID: "run-1", Imported: 1}}
	srv := newTestServer(t, Deps{Store: &fakeStore{}, Import: importer})

	rr := doRequest(srv, http.MethodPost, "/api/import",
		`{"userId":"user_1","path":"`+csvPath+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Success  bool   `json:"success"`
		RunID    string `json:"runId"`
		Imported int    `json:"imported"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 1, resp.Imported)
	require.Len(t, importer.txs, 1)
	assert.Equal(t, int64(1001), importer.txs[0].TransactionID)
}

func TestImport_NoFileConfigured(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}, Import: &fakeImporter{}})

	rr := doRequest(srv, http.MethodPost, "/api/import", `{"userId":"user_1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestImport_BadCSV(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("header\nacct_1,nope\n"), 0o644))

	srv := newTestServer(t, Deps{Store: &fakeStore{}, Import: &fakeImporter{}})

	rr := doRequest(srv, http.MethodPost, "/api/import",
		`{"userId":"user_1","path":"`+csvPath+`"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChat(t *testing.T) {
	chatSvc := &fakeChat{reply: &services.ChatReply{
		Message: "Here you go [GENERATE_GRAPH:pie]",
		Graph:   &chat.GraphData{Type: chat.GraphPie, Labels: []string{"Food"}, Values: []float64{80}},
	}}
	srv := newTestServer(t, Deps{Store: &fakeStore{}, Chat: chatSvc})

	rr := doRequest(srv, http.MethodPost, "/api/chat", `{"userId":"user_1","message":"show me"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Graph)
	assert.Equal(t, chat.GraphPie, resp.Graph.Type)
}

func TestChat_Validation(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}, Chat: &fakeChat{}})

	rr := doRequest(srv, http.MethodPost, "/api/chat", `{"userId":"user_1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChat_NotConfigured(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}})

	rr := doRequest(srv, http.MethodPost, "/api/chat", `{"userId":"user_1","message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}})

	rr := doRequest(srv, http.MethodGet, "/api/period", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = doRequest(srv, http.MethodPut, "/api/transactions?userId=user_1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Deps{Store: &fakeStore{}})

	rr := doRequest(srv, http.MethodGet, "/api/dashboard?userId=user_1", "")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}
