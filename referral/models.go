package referral

import "time"

// DerivedStatus is computed from the referral's timestamps, never stored.
type DerivedStatus string

const (
	StatusTrial     DerivedStatus = "trial"
	StatusExpired   DerivedStatus = "expired"
	StatusConverted DerivedStatus = "converted"
)

// Referral is one end-user's trial attributed to a partner's promo code.
// converted_at is append-only: once set it never changes; corrections are
// new records.
type Referral struct {
	ID             string
	PartnerID      string
	TrialExpiresAt time.Time
	ConvertedAt    *time.Time
	CreatedAt      time.Time
}

// StatusAt derives the referral status at the given instant.
func (r Referral) StatusAt(now time.Time) DerivedStatus {
	switch {
	case r.ConvertedAt != nil:
		return StatusConverted
	case now.After(r.TrialExpiresAt):
		return StatusExpired
	default:
		return StatusTrial
	}
}

// Annotated pairs a referral with its derived status for listings.
type Annotated struct {
	Referral
	Status DerivedStatus
}
