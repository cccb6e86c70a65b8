// Package notify delivers reflection links, check-in invitations, and admin
// reports over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/wneessen/go-mail"
)

const (
	subjectReflection = "Your Daily Prayer Reflection"
	subjectCheckIn    = "How are you feeling today?"
	subjectReport     = "Unverified subscriber report"
)

// ErrFromAddressEmpty indicates a mailer constructed without a sender.
var ErrFromAddressEmpty = errors.New("from address cannot be empty")

// Mailer implements core.Notifier over SMTP. One message per call; there is
// no batching, the dispatcher already fans out per subscriber.
type Mailer struct {
	client      *mail.Client
	fromAddress string
	log         *logger.Logger
}

// NewMailer creates a mailer connected to the given SMTP endpoint. The
// password comes from the environment, never from configuration files.
func NewMailer(
	host string,
	port int,
	username, password, fromAddress string,
	log *logger.Logger,
) (*Mailer, error) {
	if fromAddress == "" {
		return nil, ErrFromAddressEmpty
	}

	client, err := mail.NewClient(
		host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &Mailer{
		client:      client,
		fromAddress: fromAddress,
		log:         log,
	}, nil
}

// Send delivers the artifact link for today's reflection.
func (m *Mailer) Send(ctx context.Context, subscriber, link string) error {
	body := fmt.Sprintf(
		"Good morning,\n\n"+
			"Your personalized reflection for today is ready. Listen here:\n\n%s\n\n"+
			"The link works for 24 hours.\n",
		link,
	)
	htmlBody := fmt.Sprintf(
		"<p>Good morning,</p>"+
			"<p>Your personalized reflection for today is ready. "+
			`<a href="%s">Listen here</a>.</p>`+
			"<p>The link works for 24 hours.</p>",
		link,
	)

	err := m.sendWithHTML(ctx, subscriber, subjectReflection, body, htmlBody)
	if err != nil {
		return err
	}

	m.log.Info("Sent reflection link to %s", subscriber)

	return nil
}

// SendCheckIn invites the subscriber to record how they feel today. The
// form posts back to the journaling endpoint.
func (m *Mailer) SendCheckIn(ctx context.Context, subscriber, formURL string) error {
	body := fmt.Sprintf(
		"Hello,\n\n"+
			"Take a moment to check in. How are you feeling today?\n\n"+
			"Reply through this form:\n\n%s\n\n"+
			"Whatever you share shapes tomorrow's reflection.\n",
		formURL,
	)

	err := m.send(ctx, subscriber, subjectCheckIn, body)
	if err != nil {
		return err
	}

	m.log.Info("Sent check-in invitation to %s", subscriber)

	return nil
}

// SendReport mails the admin a digest of stale unverified signups.
func (m *Mailer) SendReport(ctx context.Context, adminAddress string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	body := fmt.Sprintf(
		"The following %d subscriber(s) signed up over 24 hours ago and never verified:\n\n%s\n",
		len(emails),
		strings.Join(emails, "\n"),
	)

	err := m.send(ctx, adminAddress, subjectReport, body)
	if err != nil {
		return err
	}

	m.log.Info("Sent unverified report covering %d subscriber(s)", len(emails))

	return nil
}

func (m *Mailer) send(ctx context.Context, recipient, subject, body string) error {
	return m.sendWithHTML(ctx, recipient, subject, body, "")
}

func (m *Mailer) sendWithHTML(ctx context.Context, recipient, subject, body, htmlBody string) error {
	msg := mail.NewMsg()

	err := msg.From(m.fromAddress)
	if err != nil {
		return fmt.Errorf("failed to set sender '%s': %w", m.fromAddress, err)
	}

	err = msg.To(recipient)
	if err != nil {
		return fmt.Errorf("failed to set recipient '%s': %w", recipient, err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if htmlBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	}

	err = m.client.DialAndSendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send '%s' to '%s': %w", subject, recipient, err)
	}

	return nil
}
