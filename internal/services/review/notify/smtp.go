package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/platform/config"
	"github.com/louisbranch/reviewdesk/internal/platform/id"
)

// SMTPConfig locates the outbound mail relay. Fields are read from
// REVIEWDESK_SMTP_* variables.
type SMTPConfig struct {
	Addr     string `env:"ADDR"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"reviewdesk@localhost"`
}

// LoadSMTPConfigFromEnv reads REVIEWDESK_SMTP_* variables.
func LoadSMTPConfigFromEnv() (SMTPConfig, error) {
	var cfg SMTPConfig
	if err := config.ParseEnvPrefixed(&cfg, "REVIEWDESK_SMTP_"); err != nil {
		return SMTPConfig{}, err
	}
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.From = strings.TrimSpace(cfg.From)
	return cfg, nil
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier delivers messages through an SMTP relay.
type SMTPNotifier struct {
	addr     string
	from     mail.Address
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
	newID    func() (string, error)
}

// NewSMTPNotifier validates cfg and builds a notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("smtp address is required")
	}
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp address: %w", err)
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse smtp from address: %w", err)
	}
	var auth smtp.Auth
	if strings.TrimSpace(cfg.Username) != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return &SMTPNotifier{
		addr:     cfg.Addr,
		from:     *from,
		auth:     auth,
		sendMail: smtp.SendMail,
		now:      time.Now,
		newID:    id.NewID,
	}, nil
}

// Send encodes msg as MIME and hands it to the relay. The relay call itself
// cannot be interrupted, so Send returns ctx.Err() when ctx ends first and
// lets the delivery finish in the background.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(strings.TrimSpace(msg.To))
	if err != nil {
		return fmt.Errorf("parse recipient address: %w", err)
	}
	messageID, err := n.newID()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}
	raw, err := encodeMIME(n.from, *to, msg, n.now(), messageID)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- n.sendMail(n.addr, n.auth, n.from.Address, []string{to.Address}, raw)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}

func encodeMIME(from, to mail.Address, msg Message, now time.Time, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	domain := "reviewdesk"
	if at := strings.LastIndex(from.Address, "@"); at != -1 {
		domain = from.Address[at+1:]
	}
	mixed := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("From", from.String())
	header.Set("To", to.String())
	header.Set("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header.Set("Date", now.UTC().Format(time.RFC1123Z))
	header.Set("Message-ID", fmt.Sprintf("<%s@%s>", messageID, domain))
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	for _, key := range []string{"From", "To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, header.Get(key))
	}
	buf.WriteString("\r\n")

	var alternative bytes.Buffer
	altWriter := multipart.NewWriter(&alternative)
	if err := writeQuotedPart(altWriter, "text/plain; charset=utf-8", msg.TextBody); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.HTMLBody) != "" {
		if err := writeQuotedPart(altWriter, "text/html; charset=utf-8", msg.HTMLBody); err != nil {
			return nil, err
		}
	}
	if err := altWriter.Close(); err != nil {
		return nil, fmt.Errorf("close alternative part: %w", err)
	}
	altPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + altWriter.Boundary()},
	})
	if err != nil {
		return nil, fmt.Errorf("create alternative part: %w", err)
	}
	if _, err := altPart.Write(alternative.Bytes()); err != nil {
		return nil, fmt.Errorf("write alternative part: %w", err)
	}

	for _, attachment := range msg.Attachments {
		if err := writeAttachment(mixed, attachment); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, fmt.Errorf("close mime message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeQuotedPart(writer *multipart.Writer, contentType, body string) error {
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return qp.Close()
}

func writeAttachment(writer *multipart.Writer, attachment Attachment) error {
	contentType := strings.TrimSpace(attachment.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Name})},
	})
	if err != nil {
		return fmt.Errorf("create attachment part: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(attachment.Data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:76]); err != nil {
			return fmt.Errorf("write attachment: %w", err)
		}
		encoded = encoded[76:]
	}
	if _, err := fmt.Fprintf(part, "%s\r\n", encoded); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	return nil
}
