package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
)

// RESTProcessor talks to the payment processor's HTTP API. Calls carry a
// bounded timeout and a bounded retry budget with constant backoff; a
// timeout is a retryable failure, never a success.
type RESTProcessor struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

// NewRESTProcessor builds the processor client. timeout <= 0 selects 10s.
func NewRESTProcessor(baseURL, apiKey string, timeout time.Duration) *RESTProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	backoff := heimdall.NewConstantBackoff(500*time.Millisecond, 100*time.Millisecond)
	client := httpclient.NewClient(
		httpclient.WithHTTPTimeout(timeout),
		httpclient.WithRetryCount(3),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
	)

	return &RESTProcessor{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (p *RESTProcessor) CreateAccount(ctx context.Context, email string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/accounts", map[string]any{
		"type":  "express",
		"email": email,
	}, "", &out)
	if err != nil {
		return "", fmt.Errorf("payout: create account: %w", err)
	}
	return out.ID, nil
}

func (p *RESTProcessor) CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/account_links", map[string]any{
		"account":     accountID,
		"return_url":  returnURL,
		"refresh_url": refreshURL,
		"type":        "account_onboarding",
	}, "", &out)
	if err != nil {
		return "", fmt.Errorf("payout: create onboarding link: %w", err)
	}
	return out.URL, nil
}

func (p *RESTProcessor) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var out struct {
		ID               string `json:"id"`
		DetailsSubmitted bool   `json:"details_submitted"`
		PayoutsEnabled   bool   `json:"payouts_enabled"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, "", &out); err != nil {
		return Account{}, fmt.Errorf("payout: get account: %w", err)
	}
	return Account{ID: out.ID, DetailsSubmitted: out.DetailsSubmitted, PayoutsEnabled: out.PayoutsEnabled}, nil
}

func (p *RESTProcessor) Transfer(ctx context.Context, accountID string, amountCents int64, idempotencyKey string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/transfers", map[string]any{
		"destination": accountID,
		"amount":      amountCents,
		"currency":    "usd",
	}, idempotencyKey, &out)
	if err != nil {
		return "", fmt.Errorf("payout: transfer: %w", err)
	}
	return out.ID, nil
}

func (p *RESTProcessor) ListTransfers(ctx context.Context, since time.Time) ([]TransferRecord, error) {
	var out struct {
		Data []struct {
			ID             string `json:"id"`
			IdempotencyKey string `json:"idempotency_key"`
			Amount         int64  `json:"amount"`
			Created        int64  `json:"created"`
		} `json:"data"`
	}
	path := "/v1/transfers?created_after=" + strconv.FormatInt(since.Unix(), 10)
	if err := p.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, fmt.Errorf("payout: list transfers: %w", err)
	}

	records := make([]TransferRecord, 0, len(out.Data))
	for _, t := range out.Data {
		records = append(records, TransferRecord{
			Ref:            t.ID,
			IdempotencyKey: t.IdempotencyKey,
			AmountCents:    t.Amount,
			CreatedAt:      time.Unix(t.Created, 0).UTC(),
		})
	}
	return records, nil
}

func (p *RESTProcessor) do(ctx context.Context, method, path string, body map[string]any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, payload)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
