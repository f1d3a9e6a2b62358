package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/notepid/twilight_pm/internal/config"
	"github.com/notepid/twilight_pm/internal/pm"
)

type sentMail struct {
	addr string
	auth bool
	from string
	to   []string
	raw  string
}

func newTestMailer(t *testing.T, cfg config.MailConfig) (*Mailer, *[]sentMail) {
	t.Helper()
	m, err := NewMailer(cfg)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	var sent []sentMail
	m.SetSender(func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		raw, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		sent = append(sent, sentMail{addr: addr, auth: a != nil, from: from, to: to, raw: string(raw)})
		return nil
	})
	m.SetClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) })
	return m, &sent
}

func testConfig() config.MailConfig {
	return config.MailConfig{
		Enabled:         true,
		Host:            "smtp.example.com",
		Port:            587,
		Username:        "relay",
		Password:        "pw",
		From:            "noreply@example.com",
		SiteName:        "Twilight",
		DefaultLanguage: "en",
	}
}

func notification() pm.Notification {
	return pm.Notification{
		Language: "en",
		To:       []string{"bob@example.com", "carol@example.com"},
		Template: "new_pm_body",
		Vars: map[string]string{
			"SUBJECT":   "Hello",
			"MESSAGE":   "How are you?",
			"SENDER":    "Alice",
			"READLINK":  "http://localhost/read/7",
			"REPLYLINK": "http://localhost/reply/7",
		},
		ReplyTo:   "p7",
		Priority:  2,
		ThreadRef: 3,
	}
}

func TestNotifySendsOneMessagePerGroup(t *testing.T) {
	m, sent := newTestMailer(t, testConfig())

	if err := m.Notify(context.Background(), notification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(*sent))
	}
	got := (*sent)[0]
	if got.addr != "smtp.example.com:587" || !got.auth || got.from != "noreply@example.com" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if len(got.to) != 2 {
		t.Fatalf("expected 2 envelope recipients, got %v", got.to)
	}

	r, err := mail.CreateReader(strings.NewReader(got.raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	subject, _ := r.Header.Subject()
	if subject != "New Personal Message: Hello" {
		t.Fatalf("expected subject, got %q", subject)
	}
	if strings.Contains(r.Header.Get("To"), "bob@") {
		t.Fatal("recipients must not be listed in the header")
	}
	if id, _ := r.Header.MessageID(); !strings.HasPrefix(id, "p7.") {
		t.Fatalf("expected message id with reply token, got %q", id)
	}
	if refs, _ := r.Header.MsgIDList("In-Reply-To"); len(refs) != 1 || refs[0] != "pm3@example.com" {
		t.Fatalf("unexpected In-Reply-To: %v", refs)
	}
	if r.Header.Get("X-Priority") != "2" {
		t.Fatalf("expected priority 2, got %q", r.Header.Get("X-Priority"))
	}
	p, err := r.NextPart()
	if err != nil {
		t.Fatalf("next part: %v", err)
	}
	body, _ := io.ReadAll(p.Body)
	for _, want := range []string{"Alice", "How are you?", "http://localhost/reply/7", "Twilight"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected body to contain %q, got:\n%s", want, body)
		}
	}
}

func TestLanguageSelection(t *testing.T) {
	m, sent := newTestMailer(t, testConfig())

	tests := []struct {
		lang    string
		subject string
	}{
		{"en", "New Personal Message: Hello"},
		{"nb", "Ny personlig melding: Hello"},
		{"norwegian", "Ny personlig melding: Hello"},
		{"fr", "New Personal Message: Hello"},
		{"", "New Personal Message: Hello"},
	}
	for _, tt := range tests {
		n := notification()
		n.Language = tt.lang
		n.Template = "new_pm"
		if err := m.Notify(context.Background(), n); err != nil {
			t.Fatalf("notify %q: %v", tt.lang, err)
		}
		r, err := mail.CreateReader(strings.NewReader((*sent)[len(*sent)-1].raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got, _ := r.Header.Subject(); got != tt.subject {
			t.Fatalf("language %q: expected %q, got %q", tt.lang, tt.subject, got)
		}
	}
}

func TestNotifyErrors(t *testing.T) {
	m, _ := newTestMailer(t, testConfig())
	m.SetSender(func(string, sasl.Client, string, []string, io.Reader) error {
		return errors.New("connection refused")
	})
	if err := m.Notify(context.Background(), notification()); err == nil {
		t.Fatal("expected relay error")
	}

	n := notification()
	n.Template = "missing"
	if err := m.Notify(context.Background(), n); err == nil {
		t.Fatal("expected unknown template error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Notify(ctx, notification()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPicksLogWhenDisabled(t *testing.T) {
	n, err := New(config.MailConfig{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := n.(Log); !ok {
		t.Fatalf("expected Log notifier, got %T", n)
	}
	if err := n.Notify(context.Background(), notification()); err != nil {
		t.Fatalf("log notify: %v", err)
	}
}
