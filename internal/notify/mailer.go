package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io"
	"log"
	"path"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/notepid/twilight_pm/internal/config"
	"github.com/notepid/twilight_pm/internal/pm"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Mailer renders new-message notifications and relays them over SMTP.
type Mailer struct {
	cfg       config.MailConfig
	templates map[language.Tag]*template.Template
	tags      []language.Tag
	matcher   language.Matcher
	send      SendFunc
	now       func() time.Time
}

// legacyLanguages maps forum language file names to tags.
var legacyLanguages = map[string]string{
	"english":   "en",
	"norwegian": "nb",
	"norsk":     "nb",
}

// NewMailer loads the embedded templates.
func NewMailer(cfg config.MailConfig) (*Mailer, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	m := &Mailer{
		cfg:       cfg,
		templates: make(map[language.Tag]*template.Template),
		send:      smtp.SendMail,
		now:       time.Now,
	}
	var tags []language.Tag
	for _, e := range entries {
		name := e.Name()
		tag, err := language.Parse(strings.TrimSuffix(name, path.Ext(name)))
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		t, err := template.New(name).Option("missingkey=zero").ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		m.templates[tag] = t
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("no notification templates")
	}

	fallback := tags[0]
	if def, err := language.Parse(cfg.DefaultLanguage); err == nil {
		if _, ok := m.templates[def]; ok {
			fallback = def
		}
	}
	// The fallback goes first so unmatched languages resolve to it.
	m.tags = []language.Tag{fallback}
	for _, t := range tags {
		if t != fallback {
			m.tags = append(m.tags, t)
		}
	}
	m.matcher = language.NewMatcher(m.tags)
	return m, nil
}

// SetSender replaces the SMTP delivery function.
func (m *Mailer) SetSender(send SendFunc) {
	m.send = send
}

// SetClock replaces the time source used for the Date header.
func (m *Mailer) SetClock(now func() time.Time) {
	m.now = now
}

// pick returns the template set closest to a member's language.
func (m *Mailer) pick(lang string) *template.Template {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if mapped, ok := legacyLanguages[lang]; ok {
		lang = mapped
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return m.templates[m.tags[0]]
	}
	_, i, _ := m.matcher.Match(tag)
	return m.templates[m.tags[i]]
}

// render produces subject and body for a notification.
func (m *Mailer) render(n pm.Notification) (string, string, error) {
	t := m.pick(n.Language)
	vars := make(map[string]string, len(n.Vars)+1)
	for k, v := range n.Vars {
		vars[k] = v
	}
	vars["FORUMNAME"] = m.cfg.SiteName

	var subject, body bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", vars); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := t.ExecuteTemplate(&body, n.Template, vars); err != nil {
		return "", "", fmt.Errorf("render %s: %w", n.Template, err)
	}
	return strings.TrimSpace(subject.String()), strings.TrimLeft(body.String(), "\n"), nil
}

func (m *Mailer) host() string {
	if i := strings.LastIndex(m.cfg.From, "@"); i >= 0 {
		return m.cfg.From[i+1:]
	}
	return "localhost"
}

// compose builds the RFC 5322 message. Recipients only appear in the envelope.
func (m *Mailer) compose(n pm.Notification, subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.now())
	fromName := n.FromName
	if fromName == "" {
		fromName = m.cfg.SiteName
	}
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: m.cfg.From}})
	h.Set("To", "undisclosed-recipients:;")
	h.SetSubject(subject)
	msgID := uuid.NewString() + "@" + m.host()
	if n.ReplyTo != "" {
		msgID = n.ReplyTo + "." + msgID
	}
	h.SetMessageID(msgID)
	if n.ThreadRef > 0 {
		ref := "pm" + strconv.Itoa(n.ThreadRef) + "@" + m.host()
		h.SetMsgIDList("In-Reply-To", []string{ref})
		h.SetMsgIDList("References", []string{ref})
	}
	if n.Priority > 0 {
		h.Set("X-Priority", strconv.Itoa(n.Priority))
	}
	contentType := "text/plain"
	if n.HTML {
		contentType = "text/html"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

// Notify renders the notification and relays it to every address in one message.
func (m *Mailer) Notify(ctx context.Context, n pm.Notification) error {
	if len(n.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := m.render(n)
	if err != nil {
		return err
	}
	raw, err := m.compose(n, subject, body)
	if err != nil {
		return err
	}

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}
	if err := m.send(m.cfg.Addr(), auth, m.cfg.From, n.To, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("send mail via %s: %w", m.cfg.Addr(), err)
	}
	log.Printf("notify: mailed %d %s recipients", len(n.To), n.Language)
	return nil
}
