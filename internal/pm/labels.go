package pm

import (
	"fmt"
	"log"
	"strings"
)

// InboxName is the display name of the reserved inbox label.
const InboxName = "Inbox"

// LabelOp is a change applied to one message's label set.
type LabelOp int

const (
	LabelAdd LabelOp = iota
	LabelRemove
	LabelToggle
)

// LabelChange asks for one label to be added, removed or toggled on one message.
type LabelChange struct {
	MessageID int
	LabelID   int
	Op        LabelOp
}

// ownedLabels returns the member's label names keyed by id.
func (s *Service) ownedLabels(memberID int) (map[int]string, error) {
	rows, err := s.db.Query("SELECT id_label, name FROM pm_labels WHERE id_member = ?", memberID)
	if err != nil {
		return nil, fmt.Errorf("load labels for member %d: %w", memberID, err)
	}
	defer rows.Close()

	owned := make(map[int]string)
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		owned[id] = name
	}
	return owned, rows.Err()
}

// GetLabels returns the actor's labels, inbox first, with zeroed counters.
func (s *Service) GetLabels(actor Actor) ([]Label, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT id_label, name FROM pm_labels
		WHERE id_member = ?
		ORDER BY name COLLATE NOCASE, id_label
	`, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	labels := []Label{{ID: InboxLabel, MemberID: actor.ID, Name: InboxName}}
	for rows.Next() {
		l := Label{MemberID: actor.ID}
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// CountLabels returns the actor's labels with message and unread counts.
// Counts come from the cache unless force is set or nothing is cached.
func (s *Service) CountLabels(actor Actor, force bool) ([]Label, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	if !force {
		if v, ok := s.cache.Get(labelCountsKey(actor.ID)); ok {
			if cached, ok := v.([]Label); ok {
				return append([]Label(nil), cached...), nil
			}
		}
	}

	labels, err := s.GetLabels(actor)
	if err != nil {
		return nil, err
	}
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l.ID] = i
	}

	rows, err := s.db.Query(`
		SELECT labels, is_read, COUNT(*) FROM pm_recipients
		WHERE id_member = ? AND deleted = 0
		GROUP BY labels, is_read
	`, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("count labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		var state ReadState
		var n int
		if err := rows.Scan(&raw, &state, &n); err != nil {
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		for _, id := range ParseLabelSet(raw).Normalize() {
			i, ok := index[id]
			if !ok {
				continue
			}
			labels[i].Messages += n
			if !state.IsRead() {
				labels[i].Unread += n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count labels: %w", err)
	}

	s.cache.Put(labelCountsKey(actor.ID), append([]Label(nil), labels...), s.opts.LabelCacheTTL)
	return labels, nil
}

// AddLabels creates one label per non-blank name and returns the new ids.
// Nothing is stored unless every name is valid.
func (s *Service) AddLabels(actor Actor, names []string) ([]int, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	var clean []string
	for _, name := range names {
		name = cleanLabelName(name)
		if name == "" {
			continue
		}
		if err := ValidateLabelName(name); err != nil {
			return nil, err
		}
		clean = append(clean, name)
	}
	if len(clean) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("add labels: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int, 0, len(clean))
	for _, name := range clean {
		res, err := tx.Exec("INSERT INTO pm_labels (id_member, name) VALUES (?, ?)", actor.ID, name)
		if err != nil {
			return nil, fmt.Errorf("add label %q: %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("get label id: %w", err)
		}
		ids = append(ids, int(id))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("add labels: %w", err)
	}
	s.invalidate(actor.ID)
	return ids, nil
}

// UpdateLabels renames the actor's labels. A blank name deletes the label.
// Ids the actor does not own are ignored. Nothing changes unless every new
// name is valid.
func (s *Service) UpdateLabels(actor Actor, names map[int]string) error {
	if err := actor.valid(); err != nil {
		return err
	}
	owned, err := s.ownedLabels(actor.ID)
	if err != nil {
		return err
	}
	var remove []int
	rename := make(map[int]string)
	for id, name := range names {
		if _, ok := owned[id]; !ok {
			continue
		}
		name = cleanLabelName(name)
		if name == "" {
			remove = append(remove, id)
			continue
		}
		if err := ValidateLabelName(name); err != nil {
			return err
		}
		rename[id] = name
	}
	for id, name := range rename {
		if _, err := s.db.Exec("UPDATE pm_labels SET name = ? WHERE id_label = ? AND id_member = ?", name, id, actor.ID); err != nil {
			return fmt.Errorf("rename label %d: %w", id, err)
		}
	}
	if len(remove) > 0 {
		if _, err := s.DeleteLabels(actor, remove); err != nil {
			return err
		}
	}
	s.invalidate(actor.ID)
	return nil
}

// DeleteLabels removes labels, strips them from every message of the actor
// and drops them from the actor's rules. It returns the number of label sets
// that had to be truncated.
func (s *Service) DeleteLabels(actor Actor, ids []int) (int, error) {
	if err := actor.valid(); err != nil {
		return 0, err
	}
	owned, err := s.ownedLabels(actor.ID)
	if err != nil {
		return 0, err
	}
	var mine []int
	for _, id := range uniqueInts(ids) {
		if _, ok := owned[id]; ok {
			mine = append(mine, id)
		}
	}
	if len(mine) == 0 {
		return 0, nil
	}

	in, args := placeholders(mine)
	args = append([]any{actor.ID}, args...)
	if _, err := s.db.Exec("DELETE FROM pm_labels WHERE id_member = ? AND id_label IN ("+in+")", args...); err != nil {
		return 0, fmt.Errorf("delete labels: %w", err)
	}

	truncated, err := s.stripLabels(actor.ID, mine)
	if err != nil {
		return truncated, err
	}
	if err := s.decoupleLabelsFromRules(actor, mine); err != nil {
		return truncated, err
	}
	s.invalidate(actor.ID)
	return truncated, nil
}

// RemoveLabelsFromPMs strips the given label ids from every recipient row of
// the actor. Rows left without labels fall back to the inbox. Ids the actor
// does not own, the inbox included, are ignored.
func (s *Service) RemoveLabelsFromPMs(actor Actor, ids []int) (int, error) {
	if err := actor.valid(); err != nil {
		return 0, err
	}
	owned, err := s.ownedLabels(actor.ID)
	if err != nil {
		return 0, err
	}
	var mine []int
	for _, id := range uniqueInts(ids) {
		if _, ok := owned[id]; ok {
			mine = append(mine, id)
		}
	}
	return s.stripLabels(actor.ID, mine)
}

func (s *Service) stripLabels(memberID int, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	rows, err := s.db.Query("SELECT id_pm, labels FROM pm_recipients WHERE id_member = ? AND labels != '-1'", memberID)
	if err != nil {
		return 0, fmt.Errorf("load labelled messages: %w", err)
	}
	updates := make(map[int]LabelSet)
	for rows.Next() {
		var id int
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan labelled message: %w", err)
		}
		set := ParseLabelSet(raw)
		if next := set.Remove(ids...); !next.Equal(set) {
			updates[id] = next
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("load labelled messages: %w", err)
	}

	truncated, err := s.updatePMLabels(memberID, updates)
	if err != nil {
		return truncated, err
	}
	s.invalidate(memberID)
	return truncated, nil
}

// ChangePMLabels adds, removes or toggles labels on the actor's messages.
// Labels the actor does not own and messages not in the actor's mailbox are
// skipped.
func (s *Service) ChangePMLabels(actor Actor, changes []LabelChange) (int, error) {
	if err := actor.valid(); err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	owned, err := s.ownedLabels(actor.ID)
	if err != nil {
		return 0, err
	}
	dropInbox, err := s.members.RemovesInboxLabel(actor.ID)
	if err != nil {
		return 0, fmt.Errorf("load label preference: %w", err)
	}

	var msgIDs []int
	for _, c := range changes {
		msgIDs = append(msgIDs, c.MessageID)
	}
	current, err := s.loadLabelSets(actor.ID, uniqueInts(msgIDs))
	if err != nil {
		return 0, err
	}

	updates := make(map[int]LabelSet)
	for _, c := range changes {
		if _, ok := owned[c.LabelID]; !ok && c.LabelID != InboxLabel {
			continue
		}
		set, ok := updates[c.MessageID]
		if !ok {
			set, ok = current[c.MessageID]
			if !ok {
				continue
			}
			set = set.Normalize()
		}
		op := c.Op
		if op == LabelToggle {
			op = LabelAdd
			if set.Contains(c.LabelID) {
				op = LabelRemove
			}
		}
		switch op {
		case LabelAdd:
			set = set.Add(c.LabelID)
			if dropInbox && c.LabelID != InboxLabel {
				set = set.Remove(InboxLabel)
			}
		case LabelRemove:
			set = set.Remove(c.LabelID)
		}
		updates[c.MessageID] = set.Normalize()
	}
	for id, set := range updates {
		if set.Equal(current[id]) {
			delete(updates, id)
		}
	}

	truncated, err := s.updatePMLabels(actor.ID, updates)
	if err != nil {
		return truncated, err
	}
	if len(updates) > 0 {
		s.invalidate(actor.ID)
	}
	return truncated, nil
}

// loadLabelSets returns the label sets of the member's undeleted copies of ids.
func (s *Service) loadLabelSets(memberID int, ids []int) (map[int]LabelSet, error) {
	sets := make(map[int]LabelSet)
	if len(ids) == 0 {
		return sets, nil
	}
	in, args := placeholders(ids)
	args = append([]any{memberID}, args...)
	rows, err := s.db.Query("SELECT id_pm, labels FROM pm_recipients WHERE id_member = ? AND deleted = 0 AND id_pm IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load label sets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan label set: %w", err)
		}
		sets[id] = ParseLabelSet(raw)
	}
	return sets, rows.Err()
}

// updatePMLabels writes label sets for one member. Sets whose encoding is
// longer than the column limit are cut at the last whole id and counted.
func (s *Service) updatePMLabels(memberID int, updates map[int]LabelSet) (int, error) {
	truncated := 0
	for id, set := range updates {
		encoded := set.String()
		if limit := s.opts.MaxLabelSetLen; limit > 0 && len(encoded) > limit {
			cut := encoded[:limit]
			if i := strings.LastIndex(cut, ","); i > 0 {
				cut = cut[:i]
			}
			encoded = ParseLabelSet(cut).String()
			truncated++
			log.Printf("pm: label set for message %d of member %d truncated", id, memberID)
		}
		if _, err := s.db.Exec("UPDATE pm_recipients SET labels = ? WHERE id_pm = ? AND id_member = ?", encoded, id, memberID); err != nil {
			return truncated, fmt.Errorf("update labels of message %d: %w", id, err)
		}
	}
	return truncated, nil
}

func cleanLabelName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), ",", "&#044;")
}
