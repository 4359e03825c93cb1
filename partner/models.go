package partner

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSuspended Status = "suspended"
)

// Decision is a reviewer action on a partner application or account.
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionSuspend    Decision = "suspend"
	DecisionReactivate Decision = "reactivate"
)

// Partner is the domain representation of a promo-code holder.
// It mirrors the partners table and carries no JSON annotations so it can
// be reused by different presentation layers.
type Partner struct {
	ID              string
	Email           string
	DisplayName     string
	PasswordHash    string
	PromoCode       string
	Status          Status
	StatusReason    *string
	SocialLinks     []string
	ApplicationNote string
	PayoutAccountID *string
	PayoutOnboarded bool

	// Cached display counters. The referral and commission tables are the
	// source of truth; see Service.RebuildTotals.
	CachedSignups     int64
	CachedConversions int64
	CachedEarnedCents int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the partner may authenticate and move money.
func (p Partner) Active() bool {
	return p.Status == StatusApproved
}

type Filters struct {
	Status Status
	Limit  int
}
