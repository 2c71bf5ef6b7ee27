// Package notify 负责在订单首次支付成功后把核销 token 通过邮件发给购买人。
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPSender struct {
	host string
	port int
	user string
	pass string
	from string
}

func NewSMTPSender(host string, port int, user, pass, from string) *SMTPSender {
	return &SMTPSender{host: host, port: port, user: user, pass: pass, from: from}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body)

	return e.Send(addr, auth)
}

// LogSender 未配置 SMTP 时使用，只打日志。
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, subject, _ string) error {
	logger().WithField("to", to).WithField("subject", subject).Info("smtp not configured, email skipped")
	return nil
}
