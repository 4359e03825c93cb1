package notify

import (
	"fmt"
	"net/smtp"
)

// Mailer delivers a rendered message. The production implementation speaks
// SMTP; tests substitute a recorder.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPConfig carries mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer sends HTML mail through a plain-auth SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	if m.cfg.Host == "" || m.cfg.User == "" {
		return fmt.Errorf("notify: smtp not configured")
	}

	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)

	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", to, subject, body))

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg)
}
