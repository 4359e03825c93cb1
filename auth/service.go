package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"partnerflow/partner"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUnauthenticated signals a missing, malformed, or expired token.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)

// DefaultSessionTTL matches the 7-day session lifetime of the reference
// design. Tokens are stateless; expiry is the only revocation mechanism.
const DefaultSessionTTL = 7 * 24 * time.Hour

// dummyHash is compared against when the email is unknown so lookup
// misses and password mismatches take comparable time.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// PartnerDirectory is the partner lookup needed to authenticate.
type PartnerDirectory interface {
	GetByEmail(ctx context.Context, email string) (partner.Partner, error)
}

// Service issues and validates partner session tokens.
type Service struct {
	directory PartnerDirectory
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// Session bundles the signed token and the partner it belongs to.
type Session struct {
	Token   string
	Partner partner.Partner
}

// NewService creates a session issuer. ttl <= 0 selects DefaultSessionTTL.
func NewService(directory PartnerDirectory, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		directory: directory,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Authenticate verifies credentials and issues a session token. Partners
// in any status other than approved are rejected after the password check
// so the status message is only revealed to the credential holder.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Session, error) {
	p, err := s.directory.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, partner.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	if !p.Active() {
		return Session{}, &AccountNotActiveError{Status: string(p.Status)}
	}

	token, err := s.generateToken(p)
	if err != nil {
		return Session{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return Session{Token: token, Partner: p}, nil
}

// VerifyToken validates a session token and returns the embedded identity.
// It is safe to call on arbitrary input: any failure maps to
// ErrUnauthenticated and nothing panics.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	partnerID, ok := claims["partner_id"].(string)
	if !ok || partnerID == "" {
		return Identity{}, ErrUnauthenticated
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return Identity{PartnerID: partnerID, Email: email, DisplayName: name}, nil
}

// TTL exposes the session lifetime for cookie max-age configuration.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) generateToken(p partner.Partner) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"partner_id": p.ID,
		"email":      p.Email,
		"name":       p.DisplayName,
		"exp":        now.Add(s.ttl).Unix(),
		"iat":        now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
