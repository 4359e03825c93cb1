package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that the commission does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Repository handles data access for commissions and adjustments.
// Methods taking a pgx.Tx participate in a caller-owned transaction.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, c Commission) (Commission, bool, error)
	GetByID(ctx context.Context, id string) (Commission, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Commission, error)
	MarkTransferred(ctx context.Context, id, transferRef string) (Commission, error)
	ForceFailed(ctx context.Context, id string) (Commission, error)
	InsertClawback(ctx context.Context, tx pgx.Tx, commissionID, reason string, amountCents int64) (Adjustment, error)
	SetClawbackStatus(ctx context.Context, tx pgx.Tx, commissionID string) error
	Summarize(ctx context.Context, partnerID string) (Summary, error)
	ListRecent(ctx context.Context, partnerID string, limit int) ([]Commission, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Commission, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed ledger repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const commissionColumns = `id, partner_id, referral_id, revenue_cents, commission_cents, rate_bps,
	status, transfer_ref, transferred_at, created_at`

// Create inserts a commission, relying on the (partner_id, referral_id)
// unique constraint as the idempotency key. The bool result reports whether
// a new row was written; on conflict the existing row is returned unchanged.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, c Commission) (Commission, bool, error) {
	insertSQL := fmt.Sprintf(`
		INSERT INTO commissions (partner_id, referral_id, revenue_cents, commission_cents, rate_bps)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (partner_id, referral_id) DO NOTHING
		RETURNING %s
	`, commissionColumns)

	created, err := scanCommission(tx.QueryRow(ctx, insertSQL,
		c.PartnerID, c.ReferralID, c.RevenueCents, c.CommissionCents, c.RateBps))
	if err == nil {
		// Bump the display cache inside the same transaction.
		if _, err := tx.Exec(ctx, `
			UPDATE partners SET cached_earned_cents = cached_earned_cents + $2, updated_at = now()
			WHERE id = $1
		`, c.PartnerID, c.CommissionCents); err != nil {
			return Commission{}, false, fmt.Errorf("ledger: bump earned cache: %w", err)
		}
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Commission{}, false, fmt.Errorf("ledger: create commission: %w", err)
	}

	selectSQL := fmt.Sprintf(`
		SELECT %s FROM commissions WHERE partner_id = $1 AND referral_id = $2
	`, commissionColumns)
	existing, err := scanCommission(tx.QueryRow(ctx, selectSQL, c.PartnerID, c.ReferralID))
	if err != nil {
		return Commission{}, false, fmt.Errorf("ledger: fetch existing commission: %w", err)
	}
	return existing, false, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Commission, error) {
	query := fmt.Sprintf(`SELECT %s FROM commissions WHERE id = $1`, commissionColumns)

	c, err := scanCommission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, ErrNotFound
		}
		return Commission{}, fmt.Errorf("ledger: get commission: %w", err)
	}
	return c, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Commission, error) {
	query := fmt.Sprintf(`SELECT %s FROM commissions WHERE id = $1 FOR UPDATE`, commissionColumns)

	c, err := scanCommission(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, ErrNotFound
		}
		return Commission{}, fmt.Errorf("ledger: get commission for update: %w", err)
	}
	return c, nil
}

// MarkTransferred flips pending -> transferred via compare-and-set, so a
// duplicate payout callback can never transfer twice.
func (r *PGRepository) MarkTransferred(ctx context.Context, id, transferRef string) (Commission, error) {
	query := fmt.Sprintf(`
		UPDATE commissions
		SET status = 'transferred', transfer_ref = $2, transferred_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING %s
	`, commissionColumns)

	c, err := scanCommission(r.pool.QueryRow(ctx, query, id, transferRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, r.invalidState(ctx, id, "transfer")
		}
		return Commission{}, fmt.Errorf("ledger: mark transferred: %w", err)
	}
	return c, nil
}

// ForceFailed flips pending -> failed. An operator action for payouts that
// will never succeed; the entry stays visible for audit. The earned cache
// is decremented in the same statement so it keeps matching RebuildTotals
// and Summarize, both of which exclude failed rows.
func (r *PGRepository) ForceFailed(ctx context.Context, id string) (Commission, error) {
	query := fmt.Sprintf(`
		WITH failed AS (
			UPDATE commissions
			SET status = 'failed'
			WHERE id = $1 AND status = 'pending'
			RETURNING %s
		), cache AS (
			UPDATE partners p
			SET cached_earned_cents = p.cached_earned_cents - f.commission_cents,
			    updated_at = now()
			FROM failed f
			WHERE p.id = f.partner_id
		)
		SELECT %s FROM failed
	`, commissionColumns, commissionColumns)

	c, err := scanCommission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, r.invalidState(ctx, id, "fail")
		}
		return Commission{}, fmt.Errorf("ledger: force failed: %w", err)
	}
	return c, nil
}

func (r *PGRepository) InsertClawback(ctx context.Context, tx pgx.Tx, commissionID, reason string, amountCents int64) (Adjustment, error) {
	const query = `
		INSERT INTO commission_adjustments (commission_id, amount_cents, reason)
		VALUES ($1, $2, $3)
		RETURNING id, commission_id, amount_cents, reason, created_at
	`

	var adj Adjustment
	err := tx.QueryRow(ctx, query, commissionID, amountCents, reason).Scan(
		&adj.ID, &adj.CommissionID, &adj.AmountCents, &adj.Reason, &adj.CreatedAt)
	if err != nil {
		return Adjustment{}, fmt.Errorf("ledger: insert clawback: %w", err)
	}
	return adj, nil
}

func (r *PGRepository) SetClawbackStatus(ctx context.Context, tx pgx.Tx, commissionID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE commissions SET status = 'clawback' WHERE id = $1 AND status = 'transferred'
	`, commissionID)
	if err != nil {
		return fmt.Errorf("ledger: set clawback status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: set clawback status: row not in transferred state")
	}
	return nil
}

// Summarize computes the earnings breakdown from the commission set. The
// partner-level cached counter is never consulted here.
func (r *PGRepository) Summarize(ctx context.Context, partnerID string) (Summary, error) {
	const query = `
		SELECT
			COALESCE(SUM(c.commission_cents) FILTER (WHERE c.status = 'pending'), 0),
			COALESCE(SUM(c.commission_cents) FILTER (WHERE c.status IN ('transferred', 'clawback')), 0),
			COALESCE((
				SELECT SUM(a.amount_cents) FROM commission_adjustments a
				JOIN commissions ac ON ac.id = a.commission_id
				WHERE ac.partner_id = $1
			), 0)
		FROM commissions c
		WHERE c.partner_id = $1
	`

	var pending, transferred, adjustments int64
	if err := r.pool.QueryRow(ctx, query, partnerID).Scan(&pending, &transferred, &adjustments); err != nil {
		return Summary{}, fmt.Errorf("ledger: summarize: %w", err)
	}

	// Clawed-back commissions stay in the transferred sum (that money did
	// move); their linked negative adjustments net them back out.
	s := Summary{
		PendingCents:     pending,
		TransferredCents: transferred + adjustments,
	}
	s.TotalCents = s.PendingCents + s.TransferredCents
	return s, nil
}

func (r *PGRepository) ListRecent(ctx context.Context, partnerID string, limit int) ([]Commission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT %s FROM commissions WHERE partner_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, commissionColumns)

	return r.queryCommissions(ctx, query, partnerID, limit)
}

// ListStalePending returns pending commissions created before olderThan,
// oldest first. The reconciliation job feeds on this.
func (r *PGRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Commission, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM commissions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, commissionColumns)

	return r.queryCommissions(ctx, query, olderThan, limit)
}

func (r *PGRepository) queryCommissions(ctx context.Context, query string, args ...any) ([]Commission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query commissions: %w", err)
	}
	defer rows.Close()

	list := []Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan commission: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *PGRepository) invalidState(ctx context.Context, id, attempted string) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidStateError{CommissionID: id, Current: c.Status, Attempted: attempted}
}

func scanCommission(row pgx.Row) (Commission, error) {
	var c Commission
	err := row.Scan(
		&c.ID,
		&c.PartnerID,
		&c.ReferralID,
		&c.RevenueCents,
		&c.CommissionCents,
		&c.RateBps,
		&c.Status,
		&c.TransferRef,
		&c.TransferredAt,
		&c.CreatedAt,
	)
	if err != nil {
		return Commission{}, err
	}
	return c, nil
}
