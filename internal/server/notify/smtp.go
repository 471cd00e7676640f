package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Encryption is the transport security used towards the relay.
type Encryption string

const (
	EncNone     Encryption = "NONE"
	EncStartTLS Encryption = "STARTTLS"
	EncSSLTLS   Encryption = "SSL/TLS"
)

// ParseEncryption maps a config value to an Encryption, defaulting to
// STARTTLS for anything unknown.
func ParseEncryption(v string) Encryption {
	switch e := Encryption(strings.ToUpper(strings.TrimSpace(v))); e {
	case EncNone, EncSSLTLS:
		return e
	case "TLS", "SSL":
		return EncSSLTLS
	}
	return EncStartTLS
}

// SMTPConfig is the relay the SMTPNotifier talks to.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Encryption Encryption
}

const defaultDialTimeout = 15 * time.Second

// SMTPNotifier sends mail through an SMTP relay.
type SMTPNotifier struct {
	cfg SMTPConfig
	now func() time.Time
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, now: time.Now}
}

func (n *SMTPNotifier) address() string {
	return net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))
}

// dial opens the connection, wrapping it in TLS for implicit-TLS relays.
// The timeout follows the context deadline when there is one.
func (n *SMTPNotifier) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: defaultDialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		if t := time.Until(deadline); t > 0 {
			d.Timeout = t
		}
	}
	if n.cfg.Encryption == EncSSLTLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: n.cfg.Host}}
		return td.DialContext(ctx, "tcp", n.address())
	}
	return d.DialContext(ctx, "tcp", n.address())
}

func (n *SMTPNotifier) Send(ctx context.Context, m Message) error {
	conn, err := n.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp: dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp: new client: %w", err)
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp: hello: %w", err)
	}
	if n.cfg.Encryption == EncStartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
				return fmt.Errorf("smtp: starttls: %w", err)
			}
		}
	}
	if n.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}
	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(m.To); err != nil {
		return fmt.Errorf("smtp: RCPT TO %s: %w", m.To, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(n.cfg.From, m, n.now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: close data: %w", err)
	}
	return c.Quit()
}

func buildMessage(from string, m Message, at time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
