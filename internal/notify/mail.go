// Mail transport: a multipart text+HTML message sent via SMTP.
//
// Grounded on original_source/notifications.py's send_email_alert
// (MIMEMultipart "alternative" with a plain-text part and an HTML part,
// same labeled fields, SMTP STARTTLS submission). No mail-client library
// appears anywhere in the example pack, so this uses net/smtp directly,
// per §9's domain-stack table.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/riskshield/txscore/configs"
	"github.com/riskshield/txscore/internal/models"
)

const mimeBoundary = "txscore-alert-boundary"

// MailTransport sends alert messages over SMTP as multipart text+HTML.
type MailTransport struct {
	host      string
	port      int
	user      string
	password  string
	sender    string
	recipient string
	timeout   time.Duration
}

// NewMailTransport builds a MailTransport from NotifyConfig.
func NewMailTransport(cfg configs.NotifyConfig, timeout time.Duration) *MailTransport {
	return &MailTransport{
		host:      cfg.MailHost,
		port:      cfg.MailPort,
		user:      cfg.MailUser,
		password:  cfg.MailPassword,
		sender:    cfg.MailSender,
		recipient: cfg.MailRecipient,
		timeout:   timeout,
	}
}

// Send submits one alert email. Delivery runs on a goroutine so Send
// returns within the configured transport timeout even if the dial or SMTP
// exchange hangs; that goroutine is not cancelled and runs until
// smtp.SendMail itself returns.
func (t *MailTransport) Send(ctx context.Context, tx *models.Transaction, reason string) error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	auth := smtp.PlainAuth("", t.user, t.password, t.host)
	msg := buildAlertMessage(t.sender, t.recipient, tx, reason)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, t.sender, []string{t.recipient}, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(t.timeout):
		return fmt.Errorf("mail transport: timed out after %s", t.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildAlertMessage(from, to string, tx *models.Transaction, reason string) []byte {
	subject := fmt.Sprintf("Transaction Alert: %s", tx.CorrelationID)
	text := fmt.Sprintf(
		"Transaction Alert\nID: %s\nSender: %s\nReceiver: %s\nAmount: %.2f\nType: %s\nTimestamp: %s\nReason: %s\n",
		tx.CorrelationID, tx.SenderAccount, tx.ReceiverAccount, tx.Amount, tx.TransactionType,
		tx.Timestamp.Format(time.RFC3339), reason,
	)
	html := fmt.Sprintf(
		"<html><body><h2>Transaction Alert</h2><ul>"+
			"<li><b>ID:</b> %s</li><li><b>Sender:</b> %s</li><li><b>Receiver:</b> %s</li>"+
			"<li><b>Amount:</b> %.2f</li><li><b>Type:</b> %s</li><li><b>Timestamp:</b> %s</li>"+
			"<li><b>Reason:</b> %s</li></ul></body></html>",
		tx.CorrelationID, tx.SenderAccount, tx.ReceiverAccount, tx.Amount, tx.TransactionType,
		tx.Timestamp.Format(time.RFC3339), reason,
	)

	return []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: multipart/alternative; boundary=%s\r\n"+
			"\r\n"+
			"--%s\r\n"+
			"Content-Type: text/plain; charset=\"utf-8\"\r\n"+
			"\r\n"+
			"%s\r\n"+
			"--%s\r\n"+
			"Content-Type: text/html; charset=\"utf-8\"\r\n"+
			"\r\n"+
			"%s\r\n"+
			"--%s--\r\n",
		from, to, subject, mimeBoundary, mimeBoundary, text, mimeBoundary, html, mimeBoundary,
	))
}
