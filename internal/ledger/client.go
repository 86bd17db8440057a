// Package ledger wraps the external e-wallet provider's signed HTTP
// API: balance queries, deposits, and two-phase wallet-to-wallet
// transfers. The client performs no retries; the upstream API does not
// guarantee idempotent retries, so callers must record attempted calls
// (transaction log) before retrying on an unknown outcome.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transfer states reported by the provider.
const (
	StatusPending  = "PEN" // awaiting receiver response
	StatusClosed   = "CLO" // accepted, funds moved to destination
	StatusDeclined = "DEC" // declined, funds returned to source
)

// Action is the receiver's decision on a pending transfer.
type Action string

const (
	Accept  Action = "accept"
	Decline Action = "decline"
)

// Error is a non-SUCCESS response from the provider.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("ledger: %s (http %d)", e.Code, e.HTTPStatus)
}

// TransferResult describes a transfer after initiation or response.
type TransferResult struct {
	TransferID               string
	Status                   string
	Amount                   int64
	Currency                 string
	SourceWalletID           string
	DestinationWalletID      string
	SourceTransactionID      string
	DestinationTransactionID string
}

// DepositResult describes a completed wallet top-up.
type DepositResult struct {
	TransactionID string
	Amount        int64
	Currency      string
}

type Config struct {
	BaseURL   string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to the wallet provider. All credentials come from the
// explicit Config; nothing is read from the environment here.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client

	now  func() time.Time
	salt func() string
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: timeout},
		now:       time.Now,
		salt:      newSalt,
	}
}

// envelope is the provider's response wrapper. Anything other than a
// SUCCESS status is a hard failure.
type envelope struct {
	Status struct {
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

// Balance returns the wallet's balance in the given currency. A wallet
// with no account for that currency has balance 0; that is not an
// error.
func (c *Client) Balance(ctx context.Context, walletID, currency string) (int64, error) {
	var accounts []struct {
		Currency string `json:"currency"`
		Balance  int64  `json:"balance"`
	}
	path := fmt.Sprintf("/v1/ewallets/%s/accounts", walletID)
	if err := c.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return 0, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a.Balance, nil
		}
	}
	return 0, nil
}

// Deposit tops up a wallet. It exists only as a correctness fallback
// for insufficient balances; see the reservation service for the
// product decision pending on this path.
func (c *Client) Deposit(ctx context.Context, walletID string, amount int64, currency string) (DepositResult, error) {
	body := map[string]any{
		"ewallet":  walletID,
		"amount":   amount,
		"currency": currency,
	}
	var data struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/account/deposit", body, &data); err != nil {
		return DepositResult{}, err
	}
	return DepositResult{TransactionID: data.ID, Amount: data.Amount, Currency: data.Currency}, nil
}

// Transfer initiates a two-phase wallet-to-wallet transfer. The
// returned status is pending until the destination owner responds;
// while pending the amount is effectively escrowed on the sender side.
func (c *Client) Transfer(ctx context.Context, srcWallet, dstWallet string, amount int64, currency string, metadata map[string]any) (TransferResult, error) {
	body := map[string]any{
		"source_ewallet":      srcWallet,
		"destination_ewallet": dstWallet,
		"amount":              amount,
		"currency":            currency,
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var data transferData
	if err := c.do(ctx, http.MethodPost, "/v1/ewallets/transfer", body, &data); err != nil {
		return TransferResult{}, err
	}
	return data.result(), nil
}

// RespondTransfer resolves a pending transfer. Accept moves the funds
// to the destination wallet; decline returns them to the source.
func (c *Client) RespondTransfer(ctx context.Context, transferID string, action Action, metadata map[string]any) (TransferResult, error) {
	body := map[string]any{
		"id":     transferID,
		"status": string(action),
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var data transferData
	if err := c.do(ctx, http.MethodPost, "/v1/ewallets/transfer/response", body, &data); err != nil {
		return TransferResult{}, err
	}
	return data.result(), nil
}

type transferData struct {
	ID                       string `json:"id"`
	Status                   string `json:"status"`
	Amount                   int64  `json:"amount"`
	Currency                 string `json:"currency_code"`
	SourceEwalletID          string `json:"source_ewallet_id"`
	DestinationEwalletID     string `json:"destination_ewallet_id"`
	SourceTransactionID      string `json:"source_transaction_id"`
	DestinationTransactionID string `json:"destination_transaction_id"`
}

func (d transferData) result() TransferResult {
	return TransferResult{
		TransferID:               d.ID,
		Status:                   d.Status,
		Amount:                   d.Amount,
		Currency:                 d.Currency,
		SourceWalletID:           d.SourceEwalletID,
		DestinationWalletID:      d.DestinationEwalletID,
		SourceTransactionID:      d.SourceTransactionID,
		DestinationTransactionID: d.DestinationTransactionID,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		// The provider signs over the compact JSON encoding; the exact
		// bytes sent must match the bytes signed.
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ledger: encode body: %w", err)
		}
	}

	salt := c.salt()
	timestamp := fmt.Sprintf("%d", c.now().Unix())
	sig := sign(method, path, salt, timestamp, c.accessKey, c.secretKey, string(bodyBytes))

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_key", c.accessKey)
	req.Header.Set("salt", salt)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Code: "UNPARSEABLE_RESPONSE", Message: string(raw), HTTPStatus: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Status.Status != "SUCCESS" {
		return &Error{
			Code:       env.Status.ErrorCode,
			Message:    env.Status.Message,
			HTTPStatus: resp.StatusCode,
		}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("ledger: decode data: %w", err)
		}
	}
	return nil
}
