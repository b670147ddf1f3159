// Package notify composes and delivers the capability-link emails sent to
// proposal owners and reviewers.
package notify

import (
	"context"
	"log"
	"strings"
	"time"
)

// Attachment is one file sent along with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outbound email.
type Message struct {
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Notifier delivers messages. Implementations may be slow or fail; callers
// bound each call with a context deadline.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier logs messages instead of delivering them. It is used when no
// mail server is configured.
type LogNotifier struct {
	Logf func(format string, args ...any)
}

// Send logs the recipient, subject and text body.
func (n LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logf := n.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf("notify delivery skipped to=%s subject=%q attachments=%d body=%q",
		strings.TrimSpace(msg.To), msg.Subject, len(msg.Attachments), msg.TextBody)
	return nil
}

// SendWithin calls n.Send bounded by timeout. A notifier that ignores its
// context is abandoned once the deadline passes; its eventual result is
// discarded.
func SendWithin(ctx context.Context, n Notifier, msg Message, timeout time.Duration) error {
	if timeout <= 0 {
		return n.Send(ctx, msg)
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.Send(sendCtx, msg)
	}()
	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return sendCtx.Err()
	}
}
