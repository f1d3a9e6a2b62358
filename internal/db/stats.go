package db

import "fmt"

// MailStats summarises the message store for the admin home screen.
type MailStats struct {
	Members  int
	Messages int
	// Copies counts undeleted recipient rows, Unread the unread ones.
	Copies int
	Unread int
	Labels int
	Rules  int
}

// GetMailStats counts members, stored messages, mailbox copies, labels and rules.
func (db *DB) GetMailStats() (*MailStats, error) {
	var s MailStats
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM members),
			(SELECT COUNT(*) FROM personal_messages),
			(SELECT COUNT(*) FROM pm_recipients WHERE deleted = 0),
			(SELECT COUNT(*) FROM pm_recipients WHERE deleted = 0 AND is_read & 1 = 0),
			(SELECT COUNT(*) FROM pm_labels),
			(SELECT COUNT(*) FROM pm_rules)
	`).Scan(&s.Members, &s.Messages, &s.Copies, &s.Unread, &s.Labels, &s.Rules)
	if err != nil {
		return nil, fmt.Errorf("get mail stats: %w", err)
	}
	return &s, nil
}
