package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRESTProcessor_Transfer(t *testing.T) {
	var gotAuth, gotIdemKey string
	var gotBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/transfers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdemKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "tr_123"})
	}))
	defer ts.Close()

	proc := NewRESTProcessor(ts.URL, "sk_test_abc", 5*time.Second)

	ref, err := proc.Transfer(context.Background(), "acct_1", 2000, "commission:c-1")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ref != "tr_123" {
		t.Fatalf("expected tr_123, got %q", ref)
	}
	if gotAuth != "Bearer sk_test_abc" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotIdemKey != "commission:c-1" {
		t.Fatalf("expected idempotency key forwarded, got %q", gotIdemKey)
	}
	if gotBody["destination"] != "acct_1" || gotBody["amount"] != float64(2000) {
		t.Fatalf("unexpected transfer body: %v", gotBody)
	}
}

func TestRESTProcessor_GetAccount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/acct_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "acct_1", "details_submitted": true, "payouts_enabled": false,
			"ignored_field": "dropped at the boundary",
		})
	}))
	defer ts.Close()

	proc := NewRESTProcessor(ts.URL, "sk_test_abc", 5*time.Second)

	a, err := proc.GetAccount(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if a.ID != "acct_1" || !a.DetailsSubmitted || a.PayoutsEnabled {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestRESTProcessor_ListTransfers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("created_after") == "" {
			t.Error("expected created_after query parameter")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "tr_1", "idempotency_key": "commission:c-1", "amount": 2000, "created": 1767225600},
			},
		})
	}))
	defer ts.Close()

	proc := NewRESTProcessor(ts.URL, "sk_test_abc", 5*time.Second)

	records, err := proc.ListTransfers(context.Background(), time.Now().Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].IdempotencyKey != "commission:c-1" || records[0].AmountCents != 2000 {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestRESTProcessor_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"account cannot receive payouts"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	proc := NewRESTProcessor(ts.URL, "sk_test_abc", 5*time.Second)

	if _, err := proc.Transfer(context.Background(), "acct_1", 2000, "commission:c-1"); err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}
