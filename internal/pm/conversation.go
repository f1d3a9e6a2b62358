package pm

import (
	"fmt"
	"log"
	"time"
)

// GetDiscussions maps each message id to its thread head.
func (s *Service) GetDiscussions(ids []int) (map[int]int, error) {
	heads := make(map[int]int)
	ids = uniqueInts(ids)
	if len(ids) == 0 {
		return heads, nil
	}
	in, args := placeholders(ids)
	rows, err := s.db.Query("SELECT id_pm, id_pm_head FROM personal_messages WHERE id_pm IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load discussions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, head int
		if err := rows.Scan(&id, &head); err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		heads[id] = head
	}
	return heads, rows.Err()
}

// GetPmsFromDiscussion returns every message in the given threads, keyed by
// message id with the head as value.
func (s *Service) GetPmsFromDiscussion(heads []int) (map[int]int, error) {
	pms := make(map[int]int)
	heads = uniqueInts(heads)
	if len(heads) == 0 {
		return pms, nil
	}
	in, args := placeholders(heads)
	rows, err := s.db.Query("SELECT id_pm, id_pm_head FROM personal_messages WHERE id_pm_head IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load discussion messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, head int
		if err := rows.Scan(&id, &head); err != nil {
			return nil, fmt.Errorf("scan discussion message: %w", err)
		}
		pms[id] = head
	}
	return pms, rows.Err()
}

// ThreadEntry is one visible message of a conversation.
type ThreadEntry struct {
	MessageID int
	SenderID  int
}

// LoadConversation returns the messages of a thread the actor can still see,
// oldest first. In the sent folder the actor's own deleted outbox copies are
// hidden as well.
func (s *Service) LoadConversation(actor Actor, head int, folder Folder) ([]ThreadEntry, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT pm.id_pm, pm.id_member_from, pm.deleted_by_sender, pmr.id_member, pmr.deleted
		FROM personal_messages AS pm
			INNER JOIN pm_recipients AS pmr ON pmr.id_pm = pm.id_pm
		WHERE pm.id_pm_head = ?
			AND ((pm.id_member_from = ? AND pm.deleted_by_sender = 0)
				OR (pmr.id_member = ? AND pmr.deleted = 0))
		ORDER BY pm.id_pm
	`, head, actor.ID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", head, err)
	}
	defer rows.Close()

	seen := make(map[int]bool)
	var entries []ThreadEntry
	for rows.Next() {
		var id, from, member int
		var deletedBySender, deleted bool
		if err := rows.Scan(&id, &from, &deletedBySender, &member, &deleted); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if folder == FolderSent && from == actor.ID && deletedBySender {
			continue
		}
		if member == actor.ID && deleted {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, ThreadEntry{MessageID: id, SenderID: from})
	}
	return entries, rows.Err()
}

// ConversationUnreadStatus returns, for each given message id, the newest
// unread message the actor holds in that message's thread. Threads with
// nothing unread are absent.
func (s *Service) ConversationUnreadStatus(actor Actor, ids []int) (map[int]int, error) {
	heads, err := s.GetDiscussions(ids)
	if err != nil {
		return nil, err
	}
	byHead := make(map[int]int, len(heads))
	var headIDs []int
	for id, head := range heads {
		byHead[head] = id
		headIDs = append(headIDs, head)
	}
	unread := make(map[int]int)
	if len(headIDs) == 0 {
		return unread, nil
	}

	in, args := placeholders(uniqueInts(headIDs))
	args = append(args, actor.ID)
	rows, err := s.db.Query(`
		SELECT pm.id_pm_head, MAX(pm.id_pm)
		FROM personal_messages AS pm
			INNER JOIN pm_recipients AS pmr ON pmr.id_pm = pm.id_pm
		WHERE pm.id_pm_head IN (`+in+`)
			AND pmr.id_member = ? AND pmr.deleted = 0
			AND (pmr.is_read & 1) = 0
		GROUP BY pm.id_pm_head
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load conversation unread status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var head, newest int
		if err := rows.Scan(&head, &newest); err != nil {
			return nil, fmt.Errorf("scan unread status: %w", err)
		}
		unread[byHead[head]] = newest
	}
	return unread, rows.Err()
}

// PMsOlderThan returns the ids of the actor's undeleted sent and received
// messages sent before the given time.
func (s *Service) PMsOlderThan(actor Actor, before time.Time) ([]int, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT id_pm FROM personal_messages
		WHERE id_member_from = ? AND deleted_by_sender = 0 AND msgtime < ?
		UNION
		SELECT pmr.id_pm FROM pm_recipients AS pmr
			INNER JOIN personal_messages AS pm ON pm.id_pm = pmr.id_pm
		WHERE pmr.id_member = ? AND pmr.deleted = 0 AND pm.msgtime < ?
		ORDER BY 1
	`, actor.ID, before.Unix(), actor.ID, before.Unix())
	if err != nil {
		return nil, fmt.Errorf("find old messages: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan old message: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneOlderThan deletes every sent and received message of the actor sent
// before the given time and returns how many were removed.
func (s *Service) PruneOlderThan(actor Actor, before time.Time) (int, error) {
	ids, err := s.PMsOlderThan(actor, before)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.DeleteMessages(actor, ids, FolderAll); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	log.Printf("pm: pruned %d messages of member %d older than %s", len(ids), actor.ID, before.Format("2006-01-02"))
	return len(ids), nil
}

// DeleteMessages removes messages from the actor's mailbox. A nil ids slice
// means every message in the folder. Messages nobody can see any more are
// purged.
func (s *Service) DeleteMessages(actor Actor, ids []int, folder Folder) error {
	if err := actor.valid(); err != nil {
		return err
	}
	if ids != nil {
		ids = uniqueInts(ids)
		if len(ids) == 0 {
			return nil
		}
	}

	where, idArgs := "", []any(nil)
	if ids != nil {
		var in string
		in, idArgs = placeholders(ids)
		where = " AND id_pm IN (" + in + ")"
	}

	if folder == FolderSent || folder == FolderAll {
		args := append([]any{actor.ID}, idArgs...)
		if _, err := s.db.Exec(`
			UPDATE personal_messages SET deleted_by_sender = 1
			WHERE id_member_from = ? AND deleted_by_sender = 0`+where, args...); err != nil {
			return fmt.Errorf("delete sent messages: %w", err)
		}
	}

	if folder == FolderInbox || folder == FolderAll {
		args := append([]any{actor.ID}, idArgs...)
		var total, unread int
		err := s.db.QueryRow(`
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_read & 1 = 0 THEN 1 ELSE 0 END), 0)
			FROM pm_recipients
			WHERE id_member = ? AND deleted = 0`+where, args...).Scan(&total, &unread)
		if err != nil {
			return fmt.Errorf("count deleted messages: %w", err)
		}
		if total > 0 {
			if ids == nil {
				err = s.members.ResetCounts(actor.ID)
			} else {
				err = s.members.ReduceCounts(actor.ID, total, unread)
			}
			if err != nil {
				return fmt.Errorf("update message counts: %w", err)
			}
		}
		if _, err := s.db.Exec(`
			UPDATE pm_recipients SET deleted = 1
			WHERE id_member = ? AND deleted = 0`+where, args...); err != nil {
			return fmt.Errorf("delete received messages: %w", err)
		}
	}

	if err := s.purge(ids); err != nil {
		return err
	}
	s.invalidate(actor.ID)
	return nil
}

// purge removes messages the sender deleted and no recipient still holds.
func (s *Service) purge(ids []int) error {
	where, args := "", []any(nil)
	if ids != nil {
		var in string
		in, args = placeholders(ids)
		where = " AND pm.id_pm IN (" + in + ")"
	}
	rows, err := s.db.Query(`
		SELECT pm.id_pm
		FROM personal_messages AS pm
		WHERE pm.deleted_by_sender = 1`+where+`
			AND NOT EXISTS (
				SELECT 1 FROM pm_recipients AS pmr
				WHERE pmr.id_pm = pm.id_pm AND pmr.deleted = 0
			)
	`, args...)
	if err != nil {
		return fmt.Errorf("find purgeable messages: %w", err)
	}
	var remove []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan purgeable message: %w", err)
		}
		remove = append(remove, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("find purgeable messages: %w", err)
	}
	if len(remove) == 0 {
		return nil
	}

	in, rmArgs := placeholders(remove)
	if _, err := s.db.Exec("DELETE FROM pm_recipients WHERE id_pm IN ("+in+")", rmArgs...); err != nil {
		return fmt.Errorf("purge recipients: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM personal_messages WHERE id_pm IN ("+in+")", rmArgs...); err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	log.Printf("pm: purged %d messages", len(remove))
	return nil
}
