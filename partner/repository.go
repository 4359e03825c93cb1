package partner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the partner does not exist.
	ErrNotFound = errors.New("partner: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("partner: email already exists")
	// ErrDuplicatePromoCode signals a promo code collision; callers retry
	// with a fresh code.
	ErrDuplicatePromoCode = errors.New("partner: promo code already exists")
)

// Repository handles data access for partner accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Partner, error)
	GetByID(ctx context.Context, id string) (Partner, error)
	GetByEmail(ctx context.Context, email string) (Partner, error)
	GetByPromoCode(ctx context.Context, code string) (Partner, error)
	List(ctx context.Context, filters Filters) ([]Partner, error)
	// UpdateStatusGuarded performs a compare-and-set status transition and
	// reports ErrNotFound when the partner is absent or not in `from`.
	UpdateStatusGuarded(ctx context.Context, id string, from, to Status, reason *string) (Partner, error)
	SetPayoutAccount(ctx context.Context, id, accountID string) error
	SetPayoutOnboarded(ctx context.Context, id string) error
	RebuildTotals(ctx context.Context, id string) (Partner, error)
}

// CreateParams contains write parameters for creating partner applications.
type CreateParams struct {
	Email           string
	DisplayName     string
	PasswordHash    string
	PromoCode       string
	SocialLinks     []string
	ApplicationNote string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed partner repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const partnerColumns = `id, email, display_name, password_hash, promo_code, status, status_reason,
	social_links, application_note, payout_account_id, payout_onboarded,
	cached_signups, cached_conversions, cached_earned_cents, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Partner, error) {
	query := fmt.Sprintf(`
		INSERT INTO partners (email, display_name, password_hash, promo_code, social_links, application_note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s
	`, partnerColumns)

	p, err := scanPartner(r.pool.QueryRow(ctx, query,
		strings.ToLower(params.Email),
		params.DisplayName,
		params.PasswordHash,
		params.PromoCode,
		params.SocialLinks,
		params.ApplicationNote,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "promo_code") {
				return Partner{}, ErrDuplicatePromoCode
			}
			return Partner{}, ErrDuplicateEmail
		}
		return Partner{}, fmt.Errorf("partner: create: %w", err)
	}

	return p, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Partner, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Partner, error) {
	return r.getBy(ctx, "email = $1", strings.ToLower(email))
}

func (r *PGRepository) GetByPromoCode(ctx context.Context, code string) (Partner, error) {
	return r.getBy(ctx, "promo_code = $1", code)
}

func (r *PGRepository) getBy(ctx context.Context, cond string, arg any) (Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE %s`, partnerColumns, cond)

	p, err := scanPartner(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Partner, error) {
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM partners`, partnerColumns)
	args := []any{}
	if filters.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filters.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, filters.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("partner: list: %w", err)
	}
	defer rows.Close()

	list := []Partner{}
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("partner: scan list: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *PGRepository) UpdateStatusGuarded(ctx context.Context, id string, from, to Status, reason *string) (Partner, error) {
	query := fmt.Sprintf(`
		UPDATE partners
		SET status = $3, status_reason = $4, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, partnerColumns)

	p, err := scanPartner(r.pool.QueryRow(ctx, query, id, from, to, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: update status: %w", err)
	}
	return p, nil
}

func (r *PGRepository) SetPayoutAccount(ctx context.Context, id, accountID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE partners SET payout_account_id = $2, updated_at = now()
		WHERE id = $1 AND payout_account_id IS NULL
	`, id, accountID)
	if err != nil {
		return fmt.Errorf("partner: set payout account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("partner: set payout account: already set or %w", ErrNotFound)
	}
	return nil
}

func (r *PGRepository) SetPayoutOnboarded(ctx context.Context, id string) error {
	// One-directional flag: false -> true only.
	if _, err := r.pool.Exec(ctx, `
		UPDATE partners SET payout_onboarded = TRUE, updated_at = now()
		WHERE id = $1 AND payout_onboarded = FALSE
	`, id); err != nil {
		return fmt.Errorf("partner: set payout onboarded: %w", err)
	}
	return nil
}

// RebuildTotals recomputes the cached display counters from the referral
// and commission tables. Any discrepancy the rebuild erases was a cache
// bug, never a ledger fact.
func (r *PGRepository) RebuildTotals(ctx context.Context, id string) (Partner, error) {
	query := fmt.Sprintf(`
		UPDATE partners p SET
			cached_signups = (SELECT COUNT(*) FROM referrals WHERE partner_id = p.id),
			cached_conversions = (SELECT COUNT(*) FROM referrals WHERE partner_id = p.id AND converted_at IS NOT NULL),
			cached_earned_cents = (
				SELECT COALESCE(SUM(c.commission_cents), 0) + COALESCE((
					SELECT SUM(a.amount_cents) FROM commission_adjustments a
					JOIN commissions ac ON ac.id = a.commission_id
					WHERE ac.partner_id = p.id
				), 0)
				FROM commissions c
				WHERE c.partner_id = p.id AND c.status IN ('pending', 'transferred', 'clawback')
			),
			updated_at = now()
		WHERE p.id = $1
		RETURNING %s
	`, partnerColumns)

	p, err := scanPartner(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: rebuild totals: %w", err)
	}
	return p, nil
}

func scanPartner(row pgx.Row) (Partner, error) {
	var p Partner
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.DisplayName,
		&p.PasswordHash,
		&p.PromoCode,
		&p.Status,
		&p.StatusReason,
		&p.SocialLinks,
		&p.ApplicationNote,
		&p.PayoutAccountID,
		&p.PayoutOnboarded,
		&p.CachedSignups,
		&p.CachedConversions,
		&p.CachedEarnedCents,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Partner{}, err
	}
	return p, nil
}
