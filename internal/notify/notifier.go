package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"

	log "github.com/sirupsen/logrus"
)

const subject = "Seu abadá está garantido!"

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func logger() *log.Entry { return log.WithField("component", "notify") }

// TokenNotice 通知邮件需要的全部信息。
type TokenNotice struct {
	OrderID    string
	Token      string
	PaymentID  string
	HolderName string
	Email      string
}

type LogRepository interface {
	SaveEmailLog(ctx context.Context, l *model.EmailLog) error
}

type Notifier struct {
	sender       Sender
	repo         LogRepository
	maxAttempts  int
	initialDelay time.Duration
	timeout      time.Duration
}

type Option func(*Notifier)

// WithBackoff 覆盖重试次数与首次重试间隔（之后每次翻倍）。
func WithBackoff(attempts int, initial time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.maxAttempts = attempts
		}
		n.initialDelay = initial
	}
}

func NewNotifier(sender Sender, repo LogRepository, opts ...Option) *Notifier {
	n := &Notifier{
		sender:       sender,
		repo:         repo,
		maxAttempts:  3,
		initialDelay: time.Second,
		timeout:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func ValidateEmail(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return apperr.New(apperr.KindInvalidInput, "email is empty")
	}
	if !emailRegex.MatchString(addr) {
		return apperr.New(apperr.KindInvalidInput, "invalid email format")
	}
	return nil
}

func renderBody(n TokenNotice) string {
	name := strings.TrimSpace(n.HolderName)
	if name == "" {
		name = "folião"
	}
	return fmt.Sprintf(
		"Olá, %s!\n\nSeu pagamento foi aprovado.\nPedido: %s\nPagamento: %s\n\nCódigo de retirada: %s\n\nApresente este código no ponto de troca para retirar seu abadá.\n",
		name, n.OrderID, n.PaymentID, n.Token,
	)
}

// NotifyTokenIssued 发送 token 邮件，失败按指数退避重试，结果写入 email_logs。
// 返回最后一次发送错误，调用方据此决定 notificationSent，但不应因此回滚任何状态。
func (n *Notifier) NotifyTokenIssued(ctx context.Context, notice TokenNotice) error {
	fields := log.Fields{"order_id": notice.OrderID, "email": notice.Email}
	if err := ValidateEmail(notice.Email); err != nil {
		logger().WithFields(fields).WithError(err).Warn("token notice has no usable recipient")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	body := renderBody(notice)
	delay := n.initialDelay
	var (
		err      error
		attempts int
	)
retry:
	for attempts = 1; ; attempts++ {
		err = n.sender.Send(ctx, notice.Email, subject, body)
		if err == nil || attempts >= n.maxAttempts {
			break
		}
		logger().WithFields(fields).WithError(err).WithField("attempt", attempts).Warn("send token email failed, retrying")
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(delay):
		}
		delay *= 2
	}

	entry := &model.EmailLog{
		OrderID:        notice.OrderID,
		RecipientEmail: notice.Email,
		Subject:        subject,
		Attempts:       attempts,
	}
	if err != nil {
		logger().WithFields(fields).WithError(err).Error("token email not delivered")
		entry.Status = model.EmailFailed
		entry.ErrorMessage = truncate(err.Error(), 512)
	} else {
		logger().WithFields(fields).Info("token email sent")
		entry.Status = model.EmailSent
	}

	// 邮件日志用独立 context，发送超时不影响落库。
	if saveErr := n.repo.SaveEmailLog(context.WithoutCancel(ctx), entry); saveErr != nil {
		logger().WithFields(fields).WithError(saveErr).Error("save email log")
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
