package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"partnerflow/monitoring"
)

// Service implements the notification collaborator boundary: it renders a
// template key into mail, dispatches it, and records every attempt in the
// audit log. Dispatch is fire-and-forget from callers' perspective but is
// never silent: outcomes land in the log and in metrics.
type Service struct {
	repo   Repository
	mailer Mailer
	logger *zap.Logger
}

func NewService(repo Repository, mailer Mailer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, mailer: mailer, logger: logger}
}

// Send dispatches one notification. A repeated idempotency key is a logged
// no-op, which keeps retried status transitions from double-mailing.
func (s *Service) Send(ctx context.Context, partnerID, recipient, template string, data map[string]string, idempotencyKey string) error {
	id, claimed, err := s.repo.Claim(ctx, partnerID, recipient, template, idempotencyKey)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Info("notification suppressed by idempotency key",
			zap.String("partner_id", partnerID),
			zap.String("template", template),
			zap.String("key", idempotencyKey),
		)
		monitoring.NotificationsTotal.WithLabelValues(template, "suppressed").Inc()
		return nil
	}

	subject, body := render(template, data)
	sendErr := s.mailer.Send(recipient, subject, body)

	if err := s.repo.MarkResult(ctx, id, sendErr == nil, sendErr); err != nil {
		s.logger.Warn("notification audit write failed", zap.String("log_id", id), zap.Error(err))
	}

	if sendErr != nil {
		monitoring.NotificationsTotal.WithLabelValues(template, "error").Inc()
		return fmt.Errorf("notify: send %s to partner %s: %w", template, partnerID, sendErr)
	}

	monitoring.NotificationsTotal.WithLabelValues(template, "sent").Inc()
	s.logger.Info("notification sent",
		zap.String("partner_id", partnerID),
		zap.String("template", template),
	)
	return nil
}

// render maps a template key to subject and HTML body. Template mechanics
// are deliberately minimal; this core only guarantees which transitions
// produce which keys.
func render(template string, data map[string]string) (string, string) {
	name := data["display_name"]

	switch template {
	case "application_received":
		return "We received your partner application",
			fmt.Sprintf("<p>Hi %s,</p><p>Thanks for applying to the partner program. We'll review your application shortly.</p>", name)
	case "application_approved":
		return "Welcome to the partner program",
			fmt.Sprintf("<p>Hi %s,</p><p>Your application is approved. Your promo code is <strong>%s</strong>.</p>", name, data["promo_code"])
	case "application_rejected":
		return "About your partner application",
			fmt.Sprintf("<p>Hi %s,</p><p>We can't approve your application at this time. %s</p>", name, data["reason"])
	case "account_suspended":
		return "Your partner account was suspended",
			fmt.Sprintf("<p>Hi %s,</p><p>Your account has been suspended. %s</p>", name, data["reason"])
	default:
		return "Partner program update", fmt.Sprintf("<p>Hi %s,</p><p>There is an update on your partner account.</p>", name)
	}
}
