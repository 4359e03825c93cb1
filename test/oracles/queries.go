package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the ledger invariants checked during stress runs. Each query
// selects violating rows; an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_commission_per_conversion",
			SQL: `SELECT partner_id, referral_id, COUNT(*) FROM commissions
                  GROUP BY partner_id, referral_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_commission_requires_conversion",
			SQL: `SELECT c.id FROM commissions c
                  JOIN referrals r ON r.id = c.referral_id
                  WHERE r.converted_at IS NULL`,
		},
		{
			Name: "O3_commission_amount_fixed_at_rate",
			SQL: `SELECT id, revenue_cents, rate_bps, commission_cents FROM commissions
                  WHERE commission_cents <> (revenue_cents * rate_bps + 5000) / 10000`,
		},
		{
			Name: "O4_clawback_adjustment_linkage",
			SQL: `SELECT c.id AS detail FROM commissions c
                  LEFT JOIN commission_adjustments a ON a.commission_id = c.id
                  WHERE c.status = 'clawback' AND a.id IS NULL
                  UNION ALL
                  SELECT a.commission_id FROM commission_adjustments a
                  JOIN commissions c ON c.id = a.commission_id
                  WHERE c.status <> 'clawback' OR a.amount_cents <> -c.commission_cents`,
		},
		{
			Name: "O5_adjustments_negative",
			SQL:  `SELECT id, amount_cents FROM commission_adjustments WHERE amount_cents >= 0`,
		},
		{
			Name: "O6_transferred_carry_reference",
			SQL: `SELECT id, status FROM commissions
                  WHERE status IN ('transferred', 'clawback')
                    AND (transfer_ref IS NULL OR transfer_ref = '')`,
		},
		{
			Name: "O7_earned_cache_matches_ledger",
			SQL: `SELECT p.id, p.cached_earned_cents, lg.total FROM partners p
                  JOIN (
                      SELECT c.partner_id,
                             SUM(c.commission_cents) + COALESCE(SUM(a.amount_cents), 0) AS total
                      FROM commissions c
                      LEFT JOIN commission_adjustments a ON a.commission_id = c.id
                      WHERE c.status <> 'failed'
                      GROUP BY c.partner_id
                  ) lg ON lg.partner_id = p.id
                  WHERE p.cached_earned_cents <> lg.total`,
		},
		{
			Name: "O8_counter_caches_match_referrals",
			SQL: `SELECT p.id, p.cached_signups, p.cached_conversions FROM partners p
                  JOIN (
                      SELECT partner_id,
                             COUNT(*) AS signups,
                             COUNT(converted_at) AS conversions
                      FROM referrals GROUP BY partner_id
                  ) rs ON rs.partner_id = p.id
                  WHERE p.cached_signups <> rs.signups
                     OR p.cached_conversions <> rs.conversions`,
		},
		{
			Name: "O9_trial_window_sane",
			SQL: `SELECT id FROM referrals
                  WHERE trial_expires_at <= created_at
                     OR (converted_at IS NOT NULL
                         AND converted_at < created_at - interval '5 minutes')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
