package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"partnerflow/partner"
)

func TestService_AuthenticateAndVerify(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(makePartner(t, "alice@example.com", "supersafe", partner.StatusApproved))

	svc := NewService(dir, "test-secret", 0)

	sess, err := svc.Authenticate(context.Background(), "Alice@Example.com ", "supersafe")
	if err != nil {
		t.Fatalf("authenticate: unexpected error: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("authenticate: expected token, got empty string")
	}
	if sess.Partner.Email != "alice@example.com" {
		t.Fatalf("authenticate: expected partner email alice@example.com got %q", sess.Partner.Email)
	}

	id, err := svc.VerifyToken(sess.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if id.PartnerID != sess.Partner.ID {
		t.Fatalf("verify token: expected partner id %q got %q", sess.Partner.ID, id.PartnerID)
	}
	if id.Email != "alice@example.com" {
		t.Fatalf("verify token: expected email alice@example.com got %q", id.Email)
	}
}

func TestService_AuthenticateInvalidCredentials(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(makePartner(t, "alice@example.com", "supersafe", partner.StatusApproved))

	svc := NewService(dir, "test-secret", 0)

	if _, err := svc.Authenticate(context.Background(), "unknown@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_AuthenticateStatusGate(t *testing.T) {
	for _, status := range []partner.Status{partner.StatusPending, partner.StatusRejected, partner.StatusSuspended} {
		t.Run(string(status), func(t *testing.T) {
			dir := newFakeDirectory()
			dir.add(makePartner(t, "bob@example.com", "supersafe", status))

			svc := NewService(dir, "test-secret", 0)

			_, err := svc.Authenticate(context.Background(), "bob@example.com", "supersafe")
			var notActive *AccountNotActiveError
			if !errors.As(err, &notActive) {
				t.Fatalf("expected AccountNotActiveError, got %v", err)
			}
			if notActive.Status != string(status) {
				t.Fatalf("expected status %q in error, got %q", status, notActive.Status)
			}
			if notActive.Message() == "" {
				t.Fatal("expected a partner-facing message")
			}
		})
	}
}

func TestService_AuthenticateStatusHiddenBehindPassword(t *testing.T) {
	// Wrong password on a suspended account must look like any other bad
	// credential, not reveal the suspension.
	dir := newFakeDirectory()
	dir.add(makePartner(t, "bob@example.com", "supersafe", partner.StatusSuspended))

	svc := NewService(dir, "test-secret", 0)

	if _, err := svc.Authenticate(context.Background(), "bob@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_VerifyTokenRejectsGarbage(t *testing.T) {
	svc := NewService(newFakeDirectory(), "test-secret", 0)

	for _, tok := range []string{"", "not-a-token", "a.b.c", strings.Repeat("x", 4096)} {
		if _, err := svc.VerifyToken(tok); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("token %q: expected ErrUnauthenticated, got %v", tok, err)
		}
	}
}

func TestService_VerifyTokenWrongSecret(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(makePartner(t, "alice@example.com", "supersafe", partner.StatusApproved))

	issuer := NewService(dir, "secret-one", 0)
	verifier := NewService(dir, "secret-two", 0)

	sess, err := issuer.Authenticate(context.Background(), "alice@example.com", "supersafe")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := verifier.VerifyToken(sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for foreign signature, got %v", err)
	}
}

func TestService_VerifyTokenExpiry(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(makePartner(t, "alice@example.com", "supersafe", partner.StatusApproved))

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(dir, "test-secret", time.Hour).WithClock(func() time.Time { return issued })

	sess, err := svc.Authenticate(context.Background(), "alice@example.com", "supersafe")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := svc.VerifyToken(sess.Token); err != nil {
		t.Fatalf("fresh token should verify: %v", err)
	}

	svc.WithClock(func() time.Time { return issued.Add(2 * time.Hour) })
	if _, err := svc.VerifyToken(sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after expiry, got %v", err)
	}
}

func makePartner(t *testing.T, email, password string, status partner.Status) partner.Partner {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return partner.Partner{
		ID:           "p-" + email,
		Email:        email,
		DisplayName:  "Test Partner",
		PasswordHash: string(hash),
		PromoCode:    "TESTCODE",
		Status:       status,
	}
}

type fakeDirectory struct {
	byEmail map[string]partner.Partner
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byEmail: make(map[string]partner.Partner)}
}

func (f *fakeDirectory) add(p partner.Partner) {
	f.byEmail[strings.ToLower(p.Email)] = p
}

func (f *fakeDirectory) GetByEmail(ctx context.Context, email string) (partner.Partner, error) {
	p, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return partner.Partner{}, partner.ErrNotFound
	}
	return p, nil
}
