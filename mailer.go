package registration

import (
	"context"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultConfirmPath is the route prefix embedded in registration links.
const DefaultConfirmPath = "/register"

// defaultMailTemplate follows the mail convention of this package: the
// first non-empty line of the rendered output becomes the subject, the
// remaining lines the body.
const defaultMailTemplate = `Please confirm your email address

Hello {{ email }}

Please visit the following link to set your password:

{{ url }}
`

var defaultMailText = pongo2.Must(pongo2.FromString(defaultMailTemplate))

// Message is the rendered mail handed to a Sender. HTML is empty unless an
// HTML alternative template was configured.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	HTML    string
}

// Sender is responsible for actually delivering a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer renders registration link mails and hands them to a Sender.
type Mailer struct {
	sender      Sender
	baseURL     string
	confirmPath string
	from        string
	logger      Logger
	text        *pongo2.Template
	html        *pongo2.Template
	activity    ActivitySink
}

// MailerOption customizes mailer construction.
type MailerOption func(*Mailer)

// WithMailerBaseURL sets the scheme+host prefix for confirmation URLs.
func WithMailerBaseURL(baseURL string) MailerOption {
	return func(m *Mailer) {
		m.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithMailerConfirmPath overrides the route prefix for confirmation URLs.
func WithMailerConfirmPath(path string) MailerOption {
	return func(m *Mailer) {
		if path != "" {
			m.confirmPath = "/" + strings.Trim(path, "/")
		}
	}
}

// WithMailerFrom sets the sender address.
func WithMailerFrom(from string) MailerOption {
	return func(m *Mailer) {
		m.from = from
	}
}

// WithMailerTextTemplate replaces the built-in text template.
func WithMailerTextTemplate(tpl *pongo2.Template) MailerOption {
	return func(m *Mailer) {
		if tpl != nil {
			m.text = tpl
		}
	}
}

// WithMailerHTMLTemplate attaches an HTML alternative template. Without one
// the mail is text-only.
func WithMailerHTMLTemplate(tpl *pongo2.Template) MailerOption {
	return func(m *Mailer) {
		m.html = tpl
	}
}

// WithMailerLogger overrides the logger.
func WithMailerLogger(logger Logger) MailerOption {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMailerActivitySink sets the sink used to record issued links.
func WithMailerActivitySink(sink ActivitySink) MailerOption {
	return func(m *Mailer) {
		m.activity = normalizeActivitySink(sink)
	}
}

// NewMailer creates a mailer that delivers through the given sender.
func NewMailer(sender Sender, opts ...MailerOption) *Mailer {
	m := &Mailer{
		sender:      sender,
		confirmPath: DefaultConfirmPath,
		logger:      defLogger{},
		text:        defaultMailText,
		activity:    noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// ConfirmURL builds the fully qualified confirmation URL for a signed code.
func (m *Mailer) ConfirmURL(code string) string {
	return m.baseURL + m.confirmPath + "/" + code + "/"
}

// SendRegistrationMail renders the link mail for the given recipient and
// signed code and hands it to the sender. Extra template variables may be
// passed through data.
func (m *Mailer) SendRegistrationMail(ctx context.Context, to, code string, data map[string]any) error {
	if m.sender == nil {
		return goerrors.New("mailer requires a sender", goerrors.CategoryInternal)
	}

	tplCtx := pongo2.Context{
		"email": to,
		"url":   m.ConfirmURL(code),
	}
	for k, v := range data {
		tplCtx[k] = v
	}

	rendered, err := m.text.Execute(tplCtx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render registration mail")
	}

	subject, body := splitMail(rendered)

	msg := Message{
		From:    m.from,
		To:      to,
		Subject: subject,
		Body:    body,
	}

	if m.html != nil {
		html, err := m.html.Execute(tplCtx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render registration mail HTML alternative")
		}
		msg.HTML = html
	}

	if err := m.sender.Send(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send registration mail")
	}

	event := ActivityEvent{
		EventType:  ActivityEventLinkRequested,
		Email:      to,
		OccurredAt: time.Now(),
	}
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Error("activity sink error during mail send: %v", err)
	}

	return nil
}

// splitMail separates the rendered template into subject and body: the
// first non-empty line is the subject, everything after it the body.
func splitMail(rendered string) (string, string) {
	lines := strings.Split(rendered, "\n")

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		subject := strings.TrimSpace(line)
		body := strings.Join(lines[i+1:], "\n")
		return subject, strings.Trim(body, "\n")
	}

	return "", ""
}
