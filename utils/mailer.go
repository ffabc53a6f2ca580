package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/whisperhub/whisperhub/config"
)

// Mailer delivers plain text transactional mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer picks the provider named in config. Unknown or unconfigured
// providers fall back to LogMailer so local runs work without credentials.
func NewMailer(cfg config.AppConfig) Mailer {
	switch cfg.MailProvider {
	case "smtp":
		if cfg.SMTPHost != "" && cfg.MailFrom != "" {
			return &SMTPMailer{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.MailFrom,
				FromName: cfg.MailFromName,
				TLS:      cfg.SMTPTLS,
			}
		}
	case "resend":
		if cfg.ResendAPIKey != "" {
			return &ResendMailer{client: resend.NewClient(cfg.ResendAPIKey), from: fromHeader(cfg.MailFromName, cfg.MailFrom)}
		}
	case "sendgrid":
		if cfg.SendGridAPIKey != "" {
			return &SendGridMailer{client: sendgrid.NewSendClient(cfg.SendGridAPIKey), from: mail.NewEmail(cfg.MailFromName, cfg.MailFrom)}
		}
	}
	if cfg.MailProvider != "log" {
		Logger.Warn("mail provider not configured, mails are only logged", zap.String("provider", cfg.MailProvider))
	}
	return LogMailer{}
}

// LogMailer writes the envelope to the log and drops the body, which may carry
// codes or reset links.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	Logger.Info("mail suppressed", zap.String("to", to), zap.String("subject", subject))
	return nil
}

type ResendMailer struct {
	client *resend.Client
	from   string
}

func (m *ResendMailer) Send(ctx context.Context, to, subject, body string) error {
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	})
	return err
}

type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func (m *SendGridMailer) Send(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(m.from, subject, mail.NewEmail("", to), body, "")
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d", resp.StatusCode)
	}
	return nil
}

// SMTPMailer sends through an SMTP relay, with STARTTLS when TLS is set.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
	msg := buildMessage(fromHeader(m.FromName, m.From), to, subject, body)

	if !m.TLS {
		// Plain SMTP without TLS (not recommended)
		return smtp.SendMail(addr, auth, m.From, []string{to}, []byte(msg))
	}

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	// ensure we don't hang forever
	_ = conn.SetDeadline(time.Now().Add(15 * time.Second))
	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return err
		}
	}
	if m.Username != "" {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(m.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func fromHeader(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", mime.BEncoding.Encode("UTF-8", name), addr)
}

func buildMessage(from, to, subject, body string) string {
	var msg strings.Builder
	// fixed header order keeps the output stable
	for _, h := range [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", mime.BEncoding.Encode("UTF-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
	} {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}
