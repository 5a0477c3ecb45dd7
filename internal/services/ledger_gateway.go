package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"performer-slots-backend/internal/models"
)

// LedgerRequest is one money movement against the external balance service.
// The idempotency key makes retries safe; the remote ledger is contracted to
// honor it.
type LedgerRequest struct {
	UserID         string  `json:"user_id"`
	Amount         float64 `json:"amount"`
	Reason         string  `json:"reason"`
	TransactionID  string  `json:"transaction_id"`
	IdempotencyKey string  `json:"-"`
}

type LedgerResponse struct {
	Success       bool    `json:"success"`
	NewBalance    float64 `json:"new_balance"`
	TransactionID string  `json:"transaction_id"`
	Error         string  `json:"error,omitempty"`
}

// LedgerGateway is the external balance/ledger service. The HTTP
// implementation below is the production one; tests substitute fakes.
type LedgerGateway interface {
	Debit(ctx context.Context, req LedgerRequest) (*LedgerResponse, error)
	Credit(ctx context.Context, req LedgerRequest) (*LedgerResponse, error)
	GetBalance(ctx context.Context, userID string) (float64, error)
	HealthCheck(ctx context.Context) error
}

type httpLedgerGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLedgerGateway(baseURL string, timeout time.Duration) LedgerGateway {
	return &httpLedgerGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *httpLedgerGateway) Debit(ctx context.Context, req LedgerRequest) (*LedgerResponse, error) {
	return g.post(ctx, "/v1/debit", req)
}

func (g *httpLedgerGateway) Credit(ctx context.Context, req LedgerRequest) (*LedgerResponse, error) {
	return g.post(ctx, "/v1/credit", req)
}

func (g *httpLedgerGateway) post(ctx context.Context, path string, req LedgerRequest) (*LedgerResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ledger call failed: %v", err)
	}
	defer resp.Body.Close()

	var out LedgerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ledger response: %v", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, fmt.Errorf("%w: %s", models.ErrInsufficientBalance, out.Error)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("ledger service error (%d): %s", resp.StatusCode, out.Error)
	}
	if !out.Success {
		return nil, fmt.Errorf("ledger rejected %s: %s", path, out.Error)
	}

	return &out, nil
}

func (g *httpLedgerGateway) GetBalance(ctx context.Context, userID string) (float64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/balance/"+userID, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %v", err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("balance call failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance service error (%d)", resp.StatusCode)
	}

	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %v", err)
	}
	return out.Balance, nil
}

func (g *httpLedgerGateway) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ledger health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger unhealthy (%d)", resp.StatusCode)
	}
	return nil
}
