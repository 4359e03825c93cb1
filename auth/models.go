package auth

import "fmt"

// Identity is the stateless view of a session token's subject. Verifying a
// token yields an Identity without a database round-trip; callers that move
// money must re-check partner status against the store.
type Identity struct {
	PartnerID   string
	Email       string
	DisplayName string
}

// LoginRequest contains partner login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AccountNotActiveError is returned when credentials are correct but the
// partner's status forbids a session. The message is status-specific but
// never reveals other partners' data.
type AccountNotActiveError struct {
	Status string
}

func (e *AccountNotActiveError) Error() string {
	return fmt.Sprintf("auth: account not active (%s)", e.Status)
}

// Message returns the partner-facing explanation for the status.
func (e *AccountNotActiveError) Message() string {
	switch e.Status {
	case "pending":
		return "Your application is still under review."
	case "rejected":
		return "Your application was not approved."
	case "suspended":
		return "Your account has been suspended. Contact support for details."
	default:
		return "Your account is not active."
	}
}
