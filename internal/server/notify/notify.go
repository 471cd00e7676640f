// Package notify delivers one-time codes and other staff mail.
package notify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jambasimaging/bizdesk/internal/logging"
)

// Message is a plain-text mail to one recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier sends a message. Callers treat delivery as best effort.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// OTPMessage is the mail carrying a login code.
func OTPMessage(appName, to, code string, ttl time.Duration) Message {
	minutes := int(math.Ceil(ttl.Minutes()))
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your %s OTP", appName),
		Body:    fmt.Sprintf("Your OTP code is: %s\n\nIt expires in %d minutes.", code, minutes),
	}
}

// LogNotifier writes messages to the log instead of sending them. It is
// meant for development setups without a mail relay.
type LogNotifier struct {
	log logging.Logger
}

func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("module", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, m Message) error {
	n.log.Info(ctx, "mail not sent, logged instead", "to", m.To, "subject", m.Subject, "body", m.Body)
	return nil
}
