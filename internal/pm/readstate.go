package pm

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarkRead sets the read bit on the actor's unread messages. ids limits the
// update to those messages and label to messages carrying that label; nil
// means no restriction. Counters are recomputed when anything changed.
func (s *Service) MarkRead(actor Actor, ids []int, label *int) (int, error) {
	if err := actor.valid(); err != nil {
		return 0, err
	}
	if ids != nil && len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE pm_recipients SET is_read = is_read | 1
		WHERE id_member = ? AND (is_read & 1) = 0`
	args := []any{actor.ID}
	if label != nil {
		query += " AND " + labelMatch("labels")
		args = append(args, *label)
	}
	if ids != nil {
		in, idArgs := placeholders(uniqueInts(ids))
		query += " AND id_pm IN (" + in + ")"
		args = append(args, idArgs...)
	}

	n, err := s.exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		if err := s.updateMenuCounts(actor); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

// MarkUnread clears the read bit on the given messages. Messages that were
// replied to keep their state.
func (s *Service) MarkUnread(actor Actor, ids []int) (int, error) {
	if err := actor.valid(); err != nil {
		return 0, err
	}
	ids = uniqueInts(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := placeholders(ids)
	args := append([]any{actor.ID}, idArgs...)
	n, err := s.exec(`
		UPDATE pm_recipients SET is_read = is_read & 2
		WHERE id_member = ? AND is_read = 1 AND id_pm IN (`+in+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark unread: %w", err)
	}
	if n > 0 {
		if err := s.updateMenuCounts(actor); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

// SetRepliedStatus sets the replied bit on the actor's copy of a message.
func (s *Service) SetRepliedStatus(actor Actor, id int) error {
	if err := actor.valid(); err != nil {
		return err
	}
	if _, err := s.db.Exec("UPDATE pm_recipients SET is_read = is_read | 2 WHERE id_pm = ? AND id_member = ?", id, actor.ID); err != nil {
		return fmt.Errorf("set replied on %d: %w", id, err)
	}
	return nil
}

// updateMenuCounts rebuilds the cached label counters and stores the total
// unread count on the member.
func (s *Service) updateMenuCounts(actor Actor) error {
	if _, err := s.CountLabels(actor, true); err != nil {
		return err
	}
	var unread int
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pm_recipients
		WHERE id_member = ? AND deleted = 0 AND (is_read & 1) = 0
	`, actor.ID).Scan(&unread); err != nil {
		return fmt.Errorf("count unread: %w", err)
	}
	if err := s.members.SetUnreadTotal(actor.ID, unread); err != nil {
		return fmt.Errorf("store unread total: %w", err)
	}
	return nil
}

// Read returns a message the actor received or sent. A received copy is
// marked read. Messages outside the actor's mailbox yield ErrNotFound.
func (s *Service) Read(actor Actor, id int) (*Message, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	var m Message
	var sent int64
	var deletedBySender bool
	err := s.db.QueryRow(`
		SELECT id_pm, id_pm_head, id_member_from, from_name, subject, body, msgtime, deleted_by_sender
		FROM personal_messages WHERE id_pm = ?
	`, id).Scan(&m.ID, &m.Head, &m.SenderID, &m.FromName, &m.Subject, &m.Body, &sent, &deletedBySender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read message %d: %w", id, err)
	}
	m.SentAt = time.Unix(sent, 0)

	var state ReadState
	err = s.db.QueryRow("SELECT is_read FROM pm_recipients WHERE id_pm = ? AND id_member = ? AND deleted = 0", id, actor.ID).Scan(&state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if m.SenderID != actor.ID || deletedBySender {
			return nil, fmt.Errorf("read message %d: %w", id, ErrNotFound)
		}
	case err != nil:
		return nil, fmt.Errorf("read message %d: %w", id, err)
	case !state.IsRead():
		if _, err := s.MarkRead(actor, []int{id}, nil); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// IsReceived reports whether the actor holds an undeleted copy of a message.
func (s *Service) IsReceived(actor Actor, id int) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pm_recipients WHERE id_pm = ? AND id_member = ? AND deleted = 0", id, actor.ID).Scan(&n); err != nil {
		return false, fmt.Errorf("check message %d: %w", id, err)
	}
	return n > 0, nil
}
