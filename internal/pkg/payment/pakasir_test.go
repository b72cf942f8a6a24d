package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPakasirClient(baseURL string) *PakasirClient {
	return &PakasirClient{
		Project:    "myproject",
		APIKey:     "sekrit",
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestCreateQRISCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transactioncreate/qris", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "myproject", req["project"])
		assert.Equal(t, "sekrit", req["api_key"])
		assert.Equal(t, "TOPUP-x", req["order_id"])
		assert.EqualValues(t, 25000, req["amount"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment": map[string]any{
				"payment_number": "00020101021226",
				"total_payment":  25250,
				"expired_at":     "2026-08-29T12:00:00Z",
			},
		})
	}))
	defer srv.Close()

	charge, err := newTestPakasirClient(srv.URL).CreateQRISCharge(context.Background(), "TOPUP-x", 25000)
	require.NoError(t, err)
	assert.Equal(t, "00020101021226", charge.PaymentNumber)
	assert.EqualValues(t, 25250, charge.TotalPayment)
	assert.Equal(t, "2026-08-29T12:00:00Z", charge.ExpiredAt)
}

func TestCreateQRISChargeMissingPaymentNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"payment": {}}`))
	}))
	defer srv.Close()

	_, err := newTestPakasirClient(srv.URL).CreateQRISCharge(context.Background(), "TOPUP-x", 25000)
	assert.Error(t, err)
}

func TestCreateQRISChargeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestPakasirClient(srv.URL).CreateQRISCharge(context.Background(), "TOPUP-x", 25000)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestTransactionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactiondetail", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "myproject", q.Get("project"))
		assert.Equal(t, "TOPUP-y", q.Get("order_id"))
		assert.Equal(t, "15000", q.Get("amount"))
		assert.Equal(t, "sekrit", q.Get("api_key"))

		_, _ = w.Write([]byte(`{"transaction": {"status": "completed"}}`))
	}))
	defer srv.Close()

	status, err := newTestPakasirClient(srv.URL).TransactionStatus(context.Background(), "TOPUP-y", 15000)
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, status)
}

func TestUnconfiguredClientRefusesCalls(t *testing.T) {
	c := &PakasirClient{HTTPClient: http.DefaultClient}
	assert.False(t, c.Configured())

	_, err := c.CreateQRISCharge(context.Background(), "TOPUP-z", 1000)
	assert.Error(t, err)
	_, err = c.TransactionStatus(context.Background(), "TOPUP-z", 1000)
	assert.Error(t, err)
}
