package notify

import (
	"context"
	"log"
	"strings"

	"github.com/notepid/twilight_pm/internal/config"
	"github.com/notepid/twilight_pm/internal/pm"
)

// Log writes notifications to the standard logger instead of mailing them.
type Log struct{}

// Notify logs the notification.
func (Log) Notify(_ context.Context, n pm.Notification) error {
	log.Printf("notify: %s to %s (%s, reply token %s)", n.Template, strings.Join(n.To, ", "), n.Language, n.ReplyTo)
	return nil
}

// New returns a Mailer when mail is enabled and a Log notifier otherwise.
func New(cfg config.MailConfig) (pm.Notifier, error) {
	if !cfg.Enabled {
		return Log{}, nil
	}
	return NewMailer(cfg)
}
