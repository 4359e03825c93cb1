package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"partnerflow/ledger"
	"partnerflow/referral"
)

// Registry shares referral IDs between actors and collects errors that are
// not expected domain outcomes. With chaos disabled the run must end with an
// empty error list; with chaos enabled transient connection failures are
// tolerated and only logged.
type Registry struct {
	mu   sync.Mutex
	ids  []string
	errs []error
}

func (r *Registry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

// Random returns a random known referral ID, or "" if none yet.
func (r *Registry) Random() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return ""
	}
	return r.ids[rand.Intn(len(r.ids))]
}

func (r *Registry) Note(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *Registry) Referrals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func (r *Registry) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Referrer records trial signups under the partner's promo code. A suspended
// partner makes the code resolve to nothing, which is expected mid-run.
func Referrer(ctx context.Context, svc *referral.Service, promoCode string, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		ref, err := svc.RecordSignup(ctx, promoCode, 0)
		switch {
		case err == nil:
			reg.Add(ref.ID)
		case errors.Is(err, referral.ErrUnknownOrInactiveCode):
			// partner currently suspended by the Reviewer actor
		default:
			reg.Note(fmt.Errorf("referrer signup: %w", err))
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Converter replays conversion events against random referrals, including
// referrals that already converted. Exactly one commission per referral must
// survive the contention.
func Converter(ctx context.Context, svc *referral.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if id := reg.Random(); id != "" {
			revenue := int64(1000 + rand.Intn(99000))
			if _, err := svc.RecordConversion(ctx, id, revenue); err != nil {
				if !errors.Is(err, referral.ErrNotFound) {
					reg.Note(fmt.Errorf("converter: %w", err))
				}
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Payer marks random pending commissions transferred with a synthetic
// reference, standing in for the payout sweep.
func Payer(ctx context.Context, pool *pgxpool.Pool, svc *ledger.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx,
			`SELECT id FROM commissions WHERE status = 'pending' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			ref := fmt.Sprintf("tr_stress_%d", rand.Int63())
			if _, err := svc.MarkTransferred(ctx, id, ref); err != nil {
				var ise *ledger.InvalidStateError
				if !errors.As(err, &ise) && !errors.Is(err, ledger.ErrNotFound) {
					reg.Note(fmt.Errorf("payer transfer: %w", err))
				}
				// losing the race to a concurrent Payer is expected
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Failer force-fails random pending commissions, racing the Payer for the
// same rows. The earned cache must track every outcome of that race.
func Failer(ctx context.Context, pool *pgxpool.Pool, svc *ledger.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx,
			`SELECT id FROM commissions WHERE status = 'pending' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			if _, err := svc.ForceFailed(ctx, id); err != nil {
				var ise *ledger.InvalidStateError
				if !errors.As(err, &ise) && !errors.Is(err, ledger.ErrNotFound) {
					reg.Note(fmt.Errorf("failer: %w", err))
				}
				// a concurrent Payer already moved the row on
			}
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// Refunder claws back random transferred commissions, replaying some to hit
// the state guard.
func Refunder(ctx context.Context, pool *pgxpool.Pool, svc *ledger.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx,
			`SELECT id FROM commissions WHERE status IN ('transferred', 'clawback') ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			if _, err := svc.RecordClawback(ctx, id, "stress refund"); err != nil {
				var ise *ledger.InvalidStateError
				if !errors.As(err, &ise) && !errors.Is(err, ledger.ErrNotFound) {
					reg.Note(fmt.Errorf("refunder clawback: %w", err))
				}
				// replays against already clawed-back entries must be rejected
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Reviewer flips the partner between approved and suspended so the promo code
// gate is exercised while signups are in flight.
func Reviewer(ctx context.Context, pool *pgxpool.Pool, partnerID string, reg *Registry, stop <-chan struct{}) error {
	suspended := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			// leave the partner approved for post-run assertions
			_, _ = pool.Exec(ctx, `UPDATE partners SET status = 'approved' WHERE id = $1`, partnerID)
			return nil
		default:
		}
		next := "suspended"
		if suspended {
			next = "approved"
		}
		if _, err := pool.Exec(ctx,
			`UPDATE partners SET status = $2, updated_at = now() WHERE id = $1`, partnerID, next); err != nil {
			reg.Note(fmt.Errorf("reviewer flip: %w", err))
		} else {
			suspended = !suspended
		}
		time.Sleep(time.Duration(300+rand.Intn(300)) * time.Millisecond)
	}
}
