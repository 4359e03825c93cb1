package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one row of the notification audit log.
type Entry struct {
	ID             string
	PartnerID      string
	Template       string
	Recipient      string
	IdempotencyKey *string
	Sent           bool
	Error          *string
	CreatedAt      time.Time
}

// Repository persists the notification audit trail.
type Repository interface {
	// Claim inserts a log row for the attempt. When an idempotency key is
	// supplied and already present, Claim reports claimed=false and the
	// dispatch is suppressed.
	Claim(ctx context.Context, partnerID, recipient, template string, idemKey string) (id string, claimed bool, err error)
	MarkResult(ctx context.Context, id string, sent bool, sendErr error) error
	ListForPartner(ctx context.Context, partnerID string, limit int) ([]Entry, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Claim(ctx context.Context, partnerID, recipient, template, idemKey string) (string, bool, error) {
	var key *string
	if idemKey != "" {
		key = &idemKey
	}

	const query = `
		INSERT INTO notification_log (partner_id, recipient, template, idempotency_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	var id string
	err := r.pool.QueryRow(ctx, query, partnerID, recipient, template, key).Scan(&id)
	if err != nil {
		// No row back means the key was already claimed.
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("notify: claim: %w", err)
	}
	return id, true, nil
}

func (r *PGRepository) MarkResult(ctx context.Context, id string, sent bool, sendErr error) error {
	var errText *string
	if sendErr != nil {
		msg := sendErr.Error()
		errText = &msg
	}

	if _, err := r.pool.Exec(ctx, `
		UPDATE notification_log SET sent = $2, error = $3 WHERE id = $1
	`, id, sent, errText); err != nil {
		return fmt.Errorf("notify: mark result: %w", err)
	}
	return nil
}

func (r *PGRepository) ListForPartner(ctx context.Context, partnerID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, partner_id, template, recipient, idempotency_key, sent, error, created_at
		FROM notification_log
		WHERE partner_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	list := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PartnerID, &e.Template, &e.Recipient, &e.IdempotencyKey, &e.Sent, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
