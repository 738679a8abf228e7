// Package notify sends submitter emails when a submission finishes.
package notify

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/pkg/resend"
)

// Kind selects the message template.
type Kind string

const (
	KindReady        Kind = "ready"
	KindInsufficient Kind = "insufficient_data"
	KindFailed       Kind = "failed"
)

// Subjects per kind.
const (
	SubjectReady   = "Your Operational Profile"
	SubjectRequest = "Your Profile Request"
)

// Payload carries the values rendered into a message.
type Payload struct {
	CompanyName string
	// ProfileURL and ExpiresIn are used by KindReady only.
	ProfileURL string
	ExpiresIn  time.Duration
}

// Notifier delivers one message. Callers treat failures as non-fatal.
type Notifier interface {
	Send(ctx context.Context, kind Kind, recipient string, p Payload) error
}

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type view struct {
	CompanyName   string
	ProfileURL    string
	ExpiresInDays int
	Signature     string
}

// Render returns the subject and HTML body for kind.
func Render(kind Kind, p Payload, signature string) (subject, html string, err error) {
	switch kind {
	case KindReady:
		subject = SubjectReady
	case KindInsufficient, KindFailed:
		subject = SubjectRequest
	default:
		return "", "", eris.Errorf("notify: unknown kind %q", kind)
	}

	days := int(p.ExpiresIn.Hours() / 24)
	if days <= 0 {
		days = 7
	}
	var buf bytes.Buffer
	err = templates.ExecuteTemplate(&buf, string(kind)+".html", view{
		CompanyName:   p.CompanyName,
		ProfileURL:    p.ProfileURL,
		ExpiresInDays: days,
		Signature:     signature,
	})
	if err != nil {
		return "", "", eris.Wrapf(err, "notify: render %s", kind)
	}
	return subject, buf.String(), nil
}

// Email sends messages through Resend.
type Email struct {
	client    resend.Client
	from      string
	signature string
}

// NewEmail returns a Resend-backed notifier. The display name of from
// ("Name <addr>") signs the message footer.
func NewEmail(c resend.Client, from string) *Email {
	sig := from
	if i := strings.Index(from, "<"); i > 0 {
		sig = strings.TrimSpace(from[:i])
	}
	return &Email{client: c, from: from, signature: sig}
}

func (e *Email) Send(ctx context.Context, kind Kind, recipient string, p Payload) error {
	subject, html, err := Render(kind, p, e.signature)
	if err != nil {
		return err
	}
	id, err := e.client.Send(ctx, resend.Email{
		From:    e.from,
		To:      []string{recipient},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return eris.Wrapf(err, "notify: send %s", kind)
	}
	zap.L().Debug("notify: email sent",
		zap.String("kind", string(kind)),
		zap.String("message_id", id),
	)
	return nil
}

// Nop logs instead of sending. It is used when no email provider is configured.
type Nop struct{}

func (Nop) Send(_ context.Context, kind Kind, _ string, p Payload) error {
	zap.L().Info("notify: email disabled, skipping",
		zap.String("kind", string(kind)),
		zap.String("company", p.CompanyName),
	)
	return nil
}
