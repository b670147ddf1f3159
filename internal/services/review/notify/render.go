package notify

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/louisbranch/reviewdesk/internal/platform/i18n/catalog"
)

const untilLayout = "2006-01-02 15:04 MST"

// Renderer builds localized messages from the notify catalog. Text bodies
// are Markdown; the HTML alternative is rendered from them with raw HTML
// escaped.
type Renderer struct {
	printer  *message.Printer
	markdown goldmark.Markdown
	location *time.Location
}

// NewRenderer returns a renderer for the closest supported locale.
func NewRenderer(locale string) *Renderer {
	return &Renderer{
		printer:  message.NewPrinter(language.MustParse(catalog.Default().Match(locale))),
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify)),
		location: time.UTC,
	}
}

// UpdateRequest is the content of an update-request email.
type UpdateRequest struct {
	To            string
	ProposalTitle string
	Message       string
	Until         time.Time
	Link          string
	Attachments   []Attachment
}

// UpdateRequest renders the email asking a proposal owner to revise.
func (r *Renderer) UpdateRequest(in UpdateRequest) (Message, error) {
	text := r.printer.Sprintf("notify.update_request.body", in.ProposalTitle, in.Message, r.until(in.Until), in.Link)
	return r.compose(in.To, r.printer.Sprintf("notify.update_request.subject", in.ProposalTitle), text, in.Attachments)
}

// ReviewerReview is the content of a review invitation.
type ReviewerReview struct {
	To            string
	ReviewerName  string
	ProposalTitle string
	Until         time.Time
	Link          string
}

// ReviewerReview renders the review invitation sent on assignment.
func (r *Renderer) ReviewerReview(in ReviewerReview) (Message, error) {
	text := r.printer.Sprintf("notify.reviewer_review.body", in.ReviewerName, in.ProposalTitle, r.until(in.Until), in.Link)
	return r.compose(in.To, r.printer.Sprintf("notify.reviewer_review.subject", in.ProposalTitle), text, nil)
}

// ReviewerInvoice is the content of an invoice countersign request.
type ReviewerInvoice struct {
	To           string
	ReviewerName string
	Until        time.Time
	Link         string
}

// ReviewerInvoice renders the invoice countersign request.
func (r *Renderer) ReviewerInvoice(in ReviewerInvoice) (Message, error) {
	text := r.printer.Sprintf("notify.reviewer_invoice.body", in.ReviewerName, r.until(in.Until), in.Link)
	return r.compose(in.To, r.printer.Sprintf("notify.reviewer_invoice.subject"), text, nil)
}

func (r *Renderer) compose(to, subject, text string, attachments []Attachment) (Message, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Message{}, fmt.Errorf("recipient address is required")
	}
	var html bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &html); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{
		To:          to,
		Subject:     subject,
		TextBody:    text,
		HTMLBody:    html.String(),
		Attachments: attachments,
	}, nil
}

func (r *Renderer) until(value time.Time) string {
	return value.In(r.location).Format(untilLayout)
}
