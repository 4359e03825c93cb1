package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that the referral does not exist.
var ErrNotFound = errors.New("referral: not found")

// Repository handles data access for referrals. Methods taking a pgx.Tx
// participate in a caller-owned transaction.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, partnerID string, trialExpiresAt time.Time) (Referral, error)
	GetByID(ctx context.Context, id string) (Referral, error)
	// ConvertCAS sets converted_at if and only if it is still null. The
	// bool result reports whether this call won the write; losers get the
	// already-converted row back unchanged.
	ConvertCAS(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Referral, bool, error)
	List(ctx context.Context, partnerID string, limit int) ([]Referral, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed referral repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const referralColumns = `id, partner_id, trial_expires_at, converted_at, created_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, partnerID string, trialExpiresAt time.Time) (Referral, error) {
	query := fmt.Sprintf(`
		INSERT INTO referrals (partner_id, trial_expires_at)
		VALUES ($1, $2)
		RETURNING %s
	`, referralColumns)

	ref, err := scanReferral(tx.QueryRow(ctx, query, partnerID, trialExpiresAt))
	if err != nil {
		return Referral{}, fmt.Errorf("referral: create: %w", err)
	}

	// Signup display cache; the referrals table stays the source of truth.
	if _, err := tx.Exec(ctx, `
		UPDATE partners SET cached_signups = cached_signups + 1, updated_at = now()
		WHERE id = $1
	`, partnerID); err != nil {
		return Referral{}, fmt.Errorf("referral: bump signup cache: %w", err)
	}

	return ref, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Referral, error) {
	query := fmt.Sprintf(`SELECT %s FROM referrals WHERE id = $1`, referralColumns)

	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Referral{}, ErrNotFound
		}
		return Referral{}, fmt.Errorf("referral: get by id: %w", err)
	}
	return ref, nil
}

func (r *PGRepository) ConvertCAS(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Referral, bool, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE referrals SET converted_at = $2
		WHERE id = $1 AND converted_at IS NULL
		RETURNING %s
	`, referralColumns)

	ref, err := scanReferral(tx.QueryRow(ctx, updateSQL, id, at))
	if err == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE partners SET cached_conversions = cached_conversions + 1, updated_at = now()
			WHERE id = $1
		`, ref.PartnerID); err != nil {
			return Referral{}, false, fmt.Errorf("referral: bump conversion cache: %w", err)
		}
		return ref, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Referral{}, false, fmt.Errorf("referral: convert: %w", err)
	}

	selectSQL := fmt.Sprintf(`SELECT %s FROM referrals WHERE id = $1`, referralColumns)
	existing, err := scanReferral(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Referral{}, false, ErrNotFound
		}
		return Referral{}, false, fmt.Errorf("referral: fetch converted: %w", err)
	}
	return existing, false, nil
}

func (r *PGRepository) List(ctx context.Context, partnerID string, limit int) ([]Referral, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT %s FROM referrals WHERE partner_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, referralColumns)

	rows, err := r.pool.Query(ctx, query, partnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("referral: list: %w", err)
	}
	defer rows.Close()

	list := []Referral{}
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("referral: scan list: %w", err)
		}
		list = append(list, ref)
	}
	return list, rows.Err()
}

func scanReferral(row pgx.Row) (Referral, error) {
	var ref Referral
	err := row.Scan(
		&ref.ID,
		&ref.PartnerID,
		&ref.TrialExpiresAt,
		&ref.ConvertedAt,
		&ref.CreatedAt,
	)
	if err != nil {
		return Referral{}, err
	}
	return ref, nil
}
