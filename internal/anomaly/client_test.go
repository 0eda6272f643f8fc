package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Detect_Success(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/anomalies", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"high_spending_anomalies": []map[string]any{
				{
					"amount":            412.50,
					"date":              "2025-03-10",
					"normal_range":      []float64{20, 150},
					"percent_deviation": 175.0,
					"transaction_id":    "tx_99",
				},
			},
			"low_spending_anomalies": []map[string]any{},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	report, err := client.Detect(context.Background(), "acct_1", "2025-03-01", "2025-03-15")
	require.NoError(t, err)

	// The service is keyed by account but names the field userId.
	assert.Equal(t, "acct_1", gotBody["userId"])
	assert.Equal(t, "2025-03-01", gotBody["startDate"])
	assert.Equal(t, "2025-03-15", gotBody["endDate"])

	require.Equal(t, 1, report.Count())
	a := report.HighSpending[0]
	assert.Equal(t, "tx_99", a.TransactionID)
	assert.Equal(t, [2]float64{20, 150}, a.NormalRange)
	assert.InDelta(t, 175.0, a.PercentDeviation, 0.001)
}

func TestClient_Detect_ExplicitErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient data"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	report, err := client.Detect(context.Background(), "acct_1", "2025-03-01", "2025-03-15")

	assert.Nil(t, report)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected *ServiceError, got %T: %v", err, err)
	assert.Equal(t, "insufficient data", svcErr.Message)
}

func TestClient_Detect_NonOKStatusIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Error body on a 500: must stay a transport failure, not the
		// service's explicit error path.
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	_, err := client.Detect(context.Background(), "acct_1", "2025-03-01", "2025-03-15")

	require.Error(t, err)
	var svcErr *ServiceError
	assert.False(t, errors.As(err, &svcErr), "non-2xx must not map to ServiceError")
}

func TestClient_Detect_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewClient(srv.URL, 0)
	_, err := client.Detect(context.Background(), "acct_1", "2025-03-01", "2025-03-15")
	assert.Error(t, err)
}

func TestReport_Count(t *testing.T) {
	var nilReport *Report
	assert.Equal(t, 0, nilReport.Count())
	assert.True(t, nilReport.Empty())

	report := &Report{
		HighSpending: []Anomaly{{TransactionID: "a"}},
		LowSpending:  []Anomaly{{TransactionID: "b"}, {TransactionID: "c"}},
	}
	assert.Equal(t, 3, report.Count())
	assert.False(t, report.Empty())
}
