package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"toolcustody/config"
	"toolcustody/models"
)

// Notifier delivers a temporary password out of band (secure mode).
type Notifier interface {
	SendTemporaryPassword(ctx context.Context, u models.User, temp string) error
}

// ErrMailerNotConfigured is returned when no SMTP host is set. Development
// setups use PASSWORD_MODE=legacy instead.
var ErrMailerNotConfigured = errors.New("mail delivery is not configured")

// SMTPMailer sends the temporary password by mail.
type SMTPMailer struct {
	Conf config.SMTPConfig
	// send is smtp.SendMail; tests replace it.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(conf config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{Conf: conf, send: smtp.SendMail}
}

func (m *SMTPMailer) Configured() bool {
	return m.Conf.Host != "" && (m.Conf.Username != "" || m.Conf.From != "")
}

func (m *SMTPMailer) SendTemporaryPassword(ctx context.Context, u models.User, temp string) error {
	// 未配置 SMTP：不能假装已发送，也不把密码写进日志
	if !m.Configured() {
		slog.Warn("temporary password not sent, SMTP not configured", "email", u.Email)
		return ErrMailerNotConfigured
	}

	fromAddr := m.Conf.From
	if fromAddr == "" {
		fromAddr = m.Conf.Username
	}
	subject := fmt.Sprintf("%s temporary password", m.Conf.AppName)
	htmlBody := fmt.Sprintf(`
<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello %s,</p>
  <p>A password reset was requested for your <b>%s</b> account.</p>
  <p>Your temporary password is: <b style="font-family:monospace">%s</b></p>
  <p>You will be asked to choose a new password right after signing in.</p>
  <hr/>
  <p style="color:#666">If you did not request this, tell your site admin.</p>
</div>
`, u.Name, m.Conf.AppName, temp)

	msg := buildMIMEWithFromName(m.Conf.AppName, fromAddr, u.Email, subject, htmlBody)

	auth := smtp.PlainAuth("", m.Conf.Username, m.Conf.Password, m.Conf.Host)
	addr := m.Conf.Host + ":" + m.Conf.Port
	if err := m.send(addr, auth, fromAddr, []string{u.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", u.Email, err)
	}
	return nil
}

func buildMIMEWithFromName(fromName, fromAddr, to, subject, html string) string {
	headers := []string{
		fmt.Sprintf("From: %s <%s>", fromName, fromAddr),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + html
}
