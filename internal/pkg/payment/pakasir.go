package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opalvpn/opald/internal/pkg/env"
)

const defaultPakasirAPIBaseURL = "https://app.pakasir.com/api"

// TransactionCompleted is the only gateway status that results in a credit.
const TransactionCompleted = "completed"

// ErrGatewayUnavailable wraps transport failures and 5xx responses from the
// payment gateway; callers treat it as transient.
var ErrGatewayUnavailable = errors.New("payment: gateway unavailable")

// Verifier is the slice of the gateway the reconciler needs: the
// authoritative transaction-detail lookup.
type Verifier interface {
	TransactionStatus(ctx context.Context, orderID string, amount int64) (string, error)
}

// PakasirClient calls the Pakasir QRIS gateway.
type PakasirClient struct {
	Project string
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

// NewPakasirClientFromEnv builds a client from PAKASIR_* variables.
func NewPakasirClientFromEnv() *PakasirClient {
	return &PakasirClient{
		Project: strings.TrimSpace(env.GetEnv("PAKASIR_PROJECT", "")),
		APIKey:  strings.TrimSpace(env.GetEnv("PAKASIR_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("PAKASIR_API_BASE_URL", defaultPakasirAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether the gateway credentials are present.
func (c *PakasirClient) Configured() bool {
	return c.Project != "" && c.APIKey != ""
}

// QRISCharge is the scannable payment reference returned by the gateway.
type QRISCharge struct {
	OrderID       string
	Amount        int64
	TotalPayment  int64
	PaymentNumber string
	ExpiredAt     string
}

type createChargeRequest struct {
	Project string `json:"project"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	APIKey  string `json:"api_key"`
}

type createChargeResponse struct {
	Payment struct {
		PaymentNumber string `json:"payment_number"`
		TotalPayment  int64  `json:"total_payment"`
		ExpiredAt     string `json:"expired_at"`
	} `json:"payment"`
}

// CreateQRISCharge opens a QRIS charge for the order.
func (c *PakasirClient) CreateQRISCharge(ctx context.Context, orderID string, amount int64) (*QRISCharge, error) {
	if !c.Configured() {
		return nil, errors.New("payment: PAKASIR_PROJECT/PAKASIR_API_KEY are not configured")
	}

	body, err := json.Marshal(createChargeRequest{
		Project: c.Project,
		OrderID: orderID,
		Amount:  amount,
		APIKey:  c.APIKey,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transactioncreate/qris", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: create charge returned %d: %s", ErrGatewayUnavailable, resp.StatusCode, snippet)
		}
		return nil, fmt.Errorf("payment: create charge returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded createChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("payment: decode create charge response: %w", err)
	}
	if decoded.Payment.PaymentNumber == "" {
		return nil, errors.New("payment: gateway response missing payment_number")
	}

	total := decoded.Payment.TotalPayment
	if total == 0 {
		total = amount
	}
	return &QRISCharge{
		OrderID:       orderID,
		Amount:        amount,
		TotalPayment:  total,
		PaymentNumber: decoded.Payment.PaymentNumber,
		ExpiredAt:     decoded.Payment.ExpiredAt,
	}, nil
}

type transactionDetailResponse struct {
	Transaction struct {
		Status string `json:"status"`
	} `json:"transaction"`
}

// TransactionStatus re-queries the gateway's transaction-detail endpoint.
// This is the authoritative status; webhook payloads are only triggers.
func (c *PakasirClient) TransactionStatus(ctx context.Context, orderID string, amount int64) (string, error) {
	if !c.Configured() {
		return "", errors.New("payment: PAKASIR_PROJECT/PAKASIR_API_KEY are not configured")
	}

	q := url.Values{}
	q.Set("project", c.Project)
	q.Set("order_id", orderID)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("api_key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/transactiondetail?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: transaction detail returned %d", ErrGatewayUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("payment: transaction detail returned %d", resp.StatusCode)
	}

	var decoded transactionDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("payment: decode transaction detail: %w", err)
	}
	return decoded.Transaction.Status, nil
}
