package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPSender delivers order confirmation email over SMTP with STARTTLS.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
	tmpl *template.Template
	lg   *zap.Logger

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ order.ConfirmationSender = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTPSender for the given host and credentials.
func NewSMTPSender(host string, port int, username, password, from string, lg *zap.Logger) (*SMTPSender, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse email templates")
	}

	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: auth,
		from: from,
		tmpl: tmpl,
		lg:   lg,
		send: smtp.SendMail,
	}, nil
}

type confirmationData struct {
	UserName string
	Order    *order.Order
}

// SendOrderConfirmation renders the confirmation template and sends it to the
// customer. The order is already committed when this runs; failures are the
// caller's problem to log, not to roll back.
func (s *SMTPSender) SendOrderConfirmation(ctx context.Context, o *order.Order, u *user.User) error {
	var body bytes.Buffer
	err := s.tmpl.ExecuteTemplate(&body, "order_confirmation.html", confirmationData{
		UserName: u.Username,
		Order:    o,
	})
	if err != nil {
		return errors.Wrap(err, "render confirmation")
	}

	msg := buildMessage(s.from, u.Email, "Order Confirmation - "+o.ID, body.Bytes())

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.from, []string{u.Email}, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "send mail")
		}
	}

	s.lg.Info("order confirmation sent",
		zap.String("order_id", o.ID),
		zap.String("email", u.Email),
	)
	return nil
}

func buildMessage(from, to, subject string, htmlBody []byte) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.Write(htmlBody)
	return []byte(b.String())
}
