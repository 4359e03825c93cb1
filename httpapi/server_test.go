package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"partnerflow/auth"
	"partnerflow/ledger"
	"partnerflow/partner"
	"partnerflow/payout"
	"partnerflow/referral"
)

const (
	testAdminKey  = "test-admin-key"
	testGoodToken = "good-token"
)

func newTestServer(t *testing.T) (*Server, *stubState) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	state := newStubState()
	srv := NewServer(
		&stubAuth{state: state},
		&stubPartners{state: state},
		&stubReferrals{state: state},
		&stubLedger{state: state},
		&stubPayouts{state: state},
		nil,
		Options{AdminAPIKey: testAdminKey},
	)
	return srv, state
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func withSession(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: testGoodToken})
}

func withAdminKey(req *http.Request) {
	req.Header.Set("X-Admin-Key", testAdminKey)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestApply(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/partners/apply",
		`{"email":"alice@example.com","display_name":"Alice","password":"supersafe"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "promo_code") {
		t.Fatal("application response must not leak the promo code")
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "pending" {
		t.Fatalf("expected pending, got %q", resp.Status)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/partners/apply", `{"bad json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", rec.Code)
	}
}

func TestSignup(t *testing.T) {
	srv, state := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/signup", `{"promo_code":"GOODCODE"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(state.referrals) != 1 {
		t.Fatalf("expected 1 referral recorded, got %d", len(state.referrals))
	}

	rec = doJSON(t, router, http.MethodPost, "/api/signup", `{"promo_code":"NOPE1234"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/signup", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing code: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/signup",
		`{"promo_code":"GOODCODE","trial_days":10000}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overlong trial: expected 400, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/auth",
		`{"email":"alice@example.com","password":"supersafe"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookie := rec.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, SessionCookie+"=") {
		t.Fatalf("expected session cookie, got %q", cookie)
	}
	if !strings.Contains(cookie, "HttpOnly") {
		t.Fatalf("session cookie must be HttpOnly, got %q", cookie)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth",
		`{"email":"alice@example.com","password":"wrong"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth",
		`{"email":"pending@example.com","password":"supersafe"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pending account: expected 403, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "under review") {
		t.Fatalf("expected the status-specific message, got %s", rec.Body.String())
	}
}

func TestSessionGate(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/auth", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/auth", "", func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "forged"})
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/auth", "", withSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "p-1") {
		t.Fatalf("expected identity in response, got %s", rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/stats", "", withSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Earnings ledger.Summary `json:"earnings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Earnings.TotalCents != resp.Earnings.PendingCents+resp.Earnings.TransferredCents {
		t.Fatalf("summary must be additive, got %+v", resp.Earnings)
	}
}

func TestPayoutConnectRequiresActivePartner(t *testing.T) {
	srv, state := newTestServer(t)
	router := srv.Router()

	body := `{"return_url":"https://app.example.com/done","refresh_url":"https://app.example.com/retry"}`

	rec := doJSON(t, router, http.MethodPost, "/api/payout/connect", body, withSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("active partner: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "https://") {
		t.Fatalf("expected onboarding url, got %s", rec.Body.String())
	}

	// Suspension takes effect immediately even with a live session token.
	state.suspendPartner()
	rec = doJSON(t, router, http.MethodPost, "/api/payout/connect", body, withSession)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("suspended partner: expected 403, got %d", rec.Code)
	}
}

func TestPayoutConnectValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/payout/connect", `{"return_url":"x"}`, withSession)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing refresh_url, got %d", rec.Code)
	}
}

func TestEventScope(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	body := `{"referral_id":"r-1","revenue_cents":10000}`

	rec := doJSON(t, router, http.MethodPost, "/api/events/conversion", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events/conversion", body, func(req *http.Request) {
		req.Header.Set("X-Admin-Key", "wrong")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: expected 401, got %d", rec.Code)
	}
}

func TestConversionEvent(t *testing.T) {
	srv, state := newTestServer(t)
	router := srv.Router()

	body := `{"referral_id":"r-1","revenue_cents":10000}`

	rec := doJSON(t, router, http.MethodPost, "/api/events/conversion", body, withAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Redelivery stays 2xx and records nothing new.
	rec = doJSON(t, router, http.MethodPost, "/api/events/conversion", body, withAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", rec.Code)
	}
	if state.conversions != 1 {
		t.Fatalf("expected 1 conversion recorded, got %d", state.conversions)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events/conversion",
		`{"referral_id":"unknown","revenue_cents":10000}`, withAdminKey)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown referral: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events/conversion",
		`{"referral_id":"r-1","revenue_cents":0}`, withAdminKey)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero revenue: expected 400, got %d", rec.Code)
	}
}

func TestRefundEvent(t *testing.T) {
	srv, state := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/events/refund",
		`{"commission_id":"c-transferred","reason":"customer refund"}`, withAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if state.clawbacks != 1 {
		t.Fatalf("expected 1 clawback, got %d", state.clawbacks)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events/refund",
		`{"commission_id":"c-pending","reason":"x"}`, withAdminKey)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pending commission: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "current_status") {
		t.Fatalf("conflict response must name the current status, got %s", rec.Body.String())
	}
}

func TestAdminReview(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPatch, "/api/admin/partners/p-1",
		`{"decision":"suspend","reason":"tos violation"}`, withAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPatch, "/api/admin/partners/p-1",
		`{"decision":"approve"}`, withAdminKey)
	if rec.Code != http.StatusConflict {
		t.Fatalf("illegal transition: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPatch, "/api/admin/partners/p-1", `{}`, withAdminKey)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing decision: expected 400, got %d", rec.Code)
	}
}

func TestAdminRebuildTotals(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/admin/partners/p-1/rebuild-totals", "", withAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/admin/partners/p-missing/rebuild-totals", "", withAdminKey)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown partner: expected 404, got %d", rec.Code)
	}
}

func TestAdminTransfer(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/admin/commissions/c-pending/transfer", "", withAdminKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"transferred"`) {
		t.Fatalf("expected transferred commission, got %s", rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/admin/commissions/c-transferred/transfer", "", withAdminKey)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double transfer: expected 409, got %d", rec.Code)
	}
}

// stubState is the shared in-memory world behind the service stubs.
type stubState struct {
	partner     partner.Partner
	referrals   map[string]referral.Referral
	commissions map[string]ledger.Commission
	conversions int
	clawbacks   int
}

func newStubState() *stubState {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &stubState{
		partner: partner.Partner{
			ID: "p-1", Email: "alice@example.com", DisplayName: "Alice",
			PromoCode: "GOODCODE", Status: partner.StatusApproved, CreatedAt: now,
		},
		referrals: map[string]referral.Referral{
			"r-1": {ID: "r-1", PartnerID: "p-1", TrialExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now},
		},
		commissions: map[string]ledger.Commission{
			"c-pending":     {ID: "c-pending", PartnerID: "p-1", ReferralID: "r-1", CommissionCents: 2000, Status: ledger.StatusPending, CreatedAt: now},
			"c-transferred": {ID: "c-transferred", PartnerID: "p-1", ReferralID: "r-2", CommissionCents: 500, Status: ledger.StatusTransferred, CreatedAt: now},
		},
	}
}

func (s *stubState) suspendPartner() {
	s.partner.Status = partner.StatusSuspended
}

type stubAuth struct {
	state *stubState
}

func (a *stubAuth) Authenticate(ctx context.Context, email, password string) (auth.Session, error) {
	if password != "supersafe" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	switch email {
	case "alice@example.com":
		return auth.Session{Token: testGoodToken, Partner: a.state.partner}, nil
	case "pending@example.com":
		return auth.Session{}, &auth.AccountNotActiveError{Status: "pending"}
	default:
		return auth.Session{}, auth.ErrInvalidCredentials
	}
}

func (a *stubAuth) VerifyToken(token string) (auth.Identity, error) {
	if token != testGoodToken {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return auth.Identity{PartnerID: "p-1", Email: "alice@example.com", DisplayName: "Alice"}, nil
}

func (a *stubAuth) TTL() time.Duration { return time.Hour }

type stubPartners struct {
	state *stubState
}

func (p *stubPartners) SubmitApplication(ctx context.Context, params partner.ApplicationParams) (partner.Partner, error) {
	if len(params.Password) < 8 {
		return partner.Partner{}, partner.ErrWeakPassword
	}
	return partner.Partner{ID: "p-new", Email: params.Email, Status: partner.StatusPending, PromoCode: "SECRET99"}, nil
}

func (p *stubPartners) Review(ctx context.Context, partnerID string, decision partner.Decision, reason string) (partner.Partner, error) {
	if partnerID != p.state.partner.ID {
		return partner.Partner{}, partner.ErrNotFound
	}
	switch {
	case decision == partner.DecisionSuspend && p.state.partner.Status == partner.StatusApproved:
		p.state.partner.Status = partner.StatusSuspended
	case decision == partner.DecisionReactivate && p.state.partner.Status == partner.StatusSuspended:
		p.state.partner.Status = partner.StatusApproved
	default:
		return partner.Partner{}, partner.ErrInvalidTransition
	}
	return p.state.partner, nil
}

func (p *stubPartners) Get(ctx context.Context, partnerID string) (partner.Partner, error) {
	if partnerID != p.state.partner.ID {
		return partner.Partner{}, partner.ErrNotFound
	}
	return p.state.partner, nil
}

func (p *stubPartners) List(ctx context.Context, filters partner.Filters) ([]partner.Partner, error) {
	return []partner.Partner{p.state.partner}, nil
}

func (p *stubPartners) RebuildTotals(ctx context.Context, partnerID string) (partner.Partner, error) {
	return p.Get(ctx, partnerID)
}

type stubReferrals struct {
	state *stubState
}

func (r *stubReferrals) RecordSignup(ctx context.Context, promoCode string, trialDays int) (referral.Referral, error) {
	if promoCode != r.state.partner.PromoCode || !r.state.partner.Active() {
		return referral.Referral{}, referral.ErrUnknownOrInactiveCode
	}
	if trialDays > 30 {
		return referral.Referral{}, referral.ErrTrialTooLong
	}
	ref := referral.Referral{
		ID: "r-new", PartnerID: r.state.partner.ID,
		TrialExpiresAt: time.Now().Add(7 * 24 * time.Hour), CreatedAt: time.Now(),
	}
	r.state.referrals[ref.ID] = ref
	return ref, nil
}

func (r *stubReferrals) RecordConversion(ctx context.Context, referralID string, revenueCents int64) (referral.Referral, error) {
	ref, ok := r.state.referrals[referralID]
	if !ok {
		return referral.Referral{}, referral.ErrNotFound
	}
	if ref.ConvertedAt == nil {
		now := time.Now()
		ref.ConvertedAt = &now
		r.state.referrals[referralID] = ref
		r.state.conversions++
	}
	return ref, nil
}

func (r *stubReferrals) List(ctx context.Context, partnerID string, limit int) ([]referral.Annotated, error) {
	var out []referral.Annotated
	for _, ref := range r.state.referrals {
		out = append(out, referral.Annotated{Referral: ref, Status: ref.StatusAt(time.Now())})
	}
	return out, nil
}

type stubLedger struct {
	state *stubState
}

func (l *stubLedger) Summarize(ctx context.Context, partnerID string) (ledger.Summary, error) {
	return ledger.Summary{TotalCents: 2500, PendingCents: 2000, TransferredCents: 500}, nil
}

func (l *stubLedger) ListRecent(ctx context.Context, partnerID string, limit int) ([]ledger.Commission, error) {
	var out []ledger.Commission
	for _, c := range l.state.commissions {
		out = append(out, c)
	}
	return out, nil
}

func (l *stubLedger) RecordClawback(ctx context.Context, commissionID, reason string) (ledger.Adjustment, error) {
	c, ok := l.state.commissions[commissionID]
	if !ok {
		return ledger.Adjustment{}, ledger.ErrNotFound
	}
	if c.Status != ledger.StatusTransferred {
		return ledger.Adjustment{}, &ledger.InvalidStateError{CommissionID: commissionID, Current: c.Status, Attempted: "claw back"}
	}
	c.Status = ledger.StatusClawback
	l.state.commissions[commissionID] = c
	l.state.clawbacks++
	return ledger.Adjustment{ID: "adj-1", CommissionID: commissionID, AmountCents: -c.CommissionCents, Reason: reason}, nil
}

func (l *stubLedger) ForceFailed(ctx context.Context, commissionID string) (ledger.Commission, error) {
	c, ok := l.state.commissions[commissionID]
	if !ok {
		return ledger.Commission{}, ledger.ErrNotFound
	}
	if c.Status != ledger.StatusPending {
		return ledger.Commission{}, &ledger.InvalidStateError{CommissionID: commissionID, Current: c.Status, Attempted: "fail"}
	}
	c.Status = ledger.StatusFailed
	l.state.commissions[commissionID] = c
	return c, nil
}

type stubPayouts struct {
	state *stubState
}

func (p *stubPayouts) OnboardingLink(ctx context.Context, partnerID, returnURL, refreshURL string) (string, error) {
	return "https://processor.example.com/onboard/acct_1", nil
}

func (p *stubPayouts) Status(ctx context.Context, partnerID string) (payout.OnboardingStatus, error) {
	return payout.OnboardingStatus{Connected: true}, nil
}

func (p *stubPayouts) Transfer(ctx context.Context, commissionID string) (ledger.Commission, error) {
	c, ok := p.state.commissions[commissionID]
	if !ok {
		return ledger.Commission{}, ledger.ErrNotFound
	}
	if c.Status != ledger.StatusPending {
		return ledger.Commission{}, &ledger.InvalidStateError{CommissionID: commissionID, Current: c.Status, Attempted: "transfer"}
	}
	ref := "tr_1"
	now := time.Now()
	c.Status = ledger.StatusTransferred
	c.TransferRef = &ref
	c.TransferredAt = &now
	p.state.commissions[commissionID] = c
	return c, nil
}
