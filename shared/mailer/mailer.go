package mailer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/gomail.v2"
)

var ErrNoRecipients = errors.New("no recipients specified")

// Config holds SMTP configuration for sending emails.
type Config struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT"     envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

// LoadConfig reads the SMTP configuration from environment variables.
func LoadConfig() (Config, error) {
	return env.ParseAs[Config]()
}

// Enabled reports whether an SMTP host is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// Validate checks if the Mailer configuration is complete.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing SMTP_HOST environment variable")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing SMTP_PORT environment variable")
	}
	if c.From == "" {
		return fmt.Errorf("missing SMTP_FROM environment variable")
	}

	return nil
}

// Email represents an email message.
type Email struct {
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer represents an email sender.
type Mailer struct {
	from   string
	dialer dialer
	otpTTL time.Duration
}

// NewMailer creates a new Mailer for cfg. otpTTL is quoted in OTP emails; zero omits it.
func NewMailer(cfg Config, otpTTL time.Duration) (*Mailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Mailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		otpTTL: otpTTL,
	}, nil
}

// Send sends a single email.
func (m *Mailer) Send(email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}

	return m.dialer.DialAndSend(m.newMessage(email))
}

// SendHTML sends an HTML email with a plain-text alternative.
func (m *Mailer) SendHTML(to []string, subject, htmlBody, textBody string) error {
	return m.Send(Email{
		To:       to,
		Subject:  subject,
		HTMLBody: htmlBody,
		Body:     textBody,
	})
}

// SendOTP emails a registration one-time password to the account owner.
func (m *Mailer) SendOTP(ctx context.Context, to, name, otp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	expiry := ""
	if m.otpTTL > 0 {
		expiry = fmt.Sprintf(" It expires in %s.", m.otpTTL)
	}

	textBody := fmt.Sprintf("Hi %s,\n\nYour verification code is %s.%s\n\nIf you did not sign up, you can ignore this email.\n", name, otp, expiry)
	htmlBody := fmt.Sprintf(`
		<p>Hi %s,</p>
		<p>Your verification code is <strong>%s</strong>.%s</p>
		<p>If you did not sign up, you can ignore this email.</p>
	`, html.EscapeString(name), otp, expiry)

	return m.SendHTML([]string{to}, "Your verification code", htmlBody, textBody)
}

func (m *Mailer) newMessage(email Email) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)

	if email.HTMLBody != "" {
		msg.SetBody("text/html", email.HTMLBody)
		if email.Body != "" {
			msg.AddAlternative("text/plain", email.Body)
		}
	} else {
		msg.SetBody("text/plain", email.Body)
	}

	return msg
}
