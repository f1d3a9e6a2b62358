package user

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notepid/twilight_pm/internal/db"
	"github.com/notepid/twilight_pm/internal/pm"
)

func foldName(s string) string {
	return db.FoldName(s)
}

func placeholders(ids []int) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

// ResolveNames maps names to member ids. Login names win over display
// names; unknown names are absent from the result.
func (r *Repo) ResolveNames(names []string) (map[string]int, error) {
	resolved := make(map[string]int)
	if len(names) == 0 {
		return resolved, nil
	}
	wanted := make(map[string][]string, len(names))
	marks := make([]string, 0, len(names))
	var args []any
	for _, n := range names {
		f := foldName(n)
		if f == "" {
			continue
		}
		if _, ok := wanted[f]; !ok {
			marks = append(marks, "?")
			args = append(args, f)
		}
		wanted[f] = append(wanted[f], n)
	}
	if len(marks) == 0 {
		return resolved, nil
	}
	in := strings.Join(marks, ", ")
	rows, err := r.db.Query(`
		SELECT id_member, member_name, real_name FROM members
		WHERE name_folded IN (`+in+`) OR real_name_folded IN (`+in+`)
		ORDER BY id_member
	`, append(args, args...)...)
	if err != nil {
		return nil, fmt.Errorf("resolve names: %w", err)
	}
	defer rows.Close()

	byDisplay := make(map[string]int)
	for rows.Next() {
		var id int
		var name, realName string
		if err := rows.Scan(&id, &name, &realName); err != nil {
			return nil, fmt.Errorf("scan member name: %w", err)
		}
		for _, n := range wanted[foldName(name)] {
			resolved[n] = id
		}
		if f := foldName(realName); f != "" {
			if _, ok := byDisplay[f]; !ok {
				byDisplay[f] = id
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve names: %w", err)
	}
	for f, id := range byDisplay {
		for _, n := range wanted[f] {
			if _, ok := resolved[n]; !ok {
				resolved[n] = id
			}
		}
	}
	return resolved, nil
}

// RecipientProfiles loads what delivery needs about each member, as seen by senderID.
func (r *Repo) RecipientProfiles(ids []int, senderID int) ([]pm.RecipientProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := placeholders(ids)
	rows, err := r.db.Query("SELECT "+memberColumns+" FROM members WHERE id_member IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	var profiles []pm.RecipientProfile
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		profiles = append(profiles, pm.RecipientProfile{
			ID:             m.ID,
			Username:       m.Name,
			RealName:       m.DisplayName(),
			Email:          m.Email,
			Language:       m.Language,
			Groups:         m.Groups(),
			Activation:     m.Activation,
			NotifyMode:     m.NotifyMode,
			ReceiveFrom:    m.ReceiveFrom,
			StoredMessages: m.Messages,
			SenderIgnored:  containsID(m.Ignored, senderID),
			SenderIsBuddy:  containsID(m.Buddies, senderID),
		})
	}
	return profiles, rows.Err()
}

// GroupLimits returns the stored-message limit of every membergroup.
func (r *Repo) GroupLimits() (map[int]int, error) {
	rows, err := r.db.Query("SELECT id_group, max_messages FROM membergroups")
	if err != nil {
		return nil, fmt.Errorf("load group limits: %w", err)
	}
	defer rows.Close()
	limits := make(map[int]int)
	for rows.Next() {
		var g, limit int
		if err := rows.Scan(&g, &limit); err != nil {
			return nil, fmt.Errorf("scan group limit: %w", err)
		}
		limits[g] = limit
	}
	return limits, rows.Err()
}

// GroupsCanRead reports whether any of the groups may read personal
// messages. With deny enabled a single deny entry wins over every allow.
func (r *Repo) GroupsCanRead(groups []int, denyEnabled bool) (bool, error) {
	return r.groupsAllowed(groups, pm.PermRead, denyEnabled)
}

func (r *Repo) groupsAllowed(groups []int, permission string, denyEnabled bool) (bool, error) {
	if containsID(groups, pm.AdminGroup) {
		return true, nil
	}
	if len(groups) == 0 {
		return false, nil
	}
	in, args := placeholders(groups)
	args = append([]any{permission}, args...)
	rows, err := r.db.Query("SELECT add_deny FROM permissions WHERE permission = ? AND id_group IN ("+in+")", args...)
	if err != nil {
		return false, fmt.Errorf("check permission %s: %w", permission, err)
	}
	defer rows.Close()
	allowed, denied := false, false
	for rows.Next() {
		var add bool
		if err := rows.Scan(&add); err != nil {
			return false, fmt.Errorf("scan permission: %w", err)
		}
		if add {
			allowed = true
		} else {
			denied = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("check permission %s: %w", permission, err)
	}
	if denyEnabled && denied {
		return false, nil
	}
	return allowed, nil
}

// MemberGroups returns every group of a member. Unknown members have none.
func (r *Repo) MemberGroups(id int) ([]int, error) {
	m, err := r.GetByID(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.Groups(), nil
}

// BuddyList returns the member's buddies.
func (r *Repo) BuddyList(id int) ([]int, error) {
	var raw string
	if err := r.db.QueryRow("SELECT buddy_list FROM members WHERE id_member = ?", id).Scan(&raw); err != nil {
		return nil, fmt.Errorf("load buddies of %d: %w", id, err)
	}
	return parseIDList(raw), nil
}

// IsBuddy reports whether other is on owner's buddy list.
func (r *Repo) IsBuddy(owner, other int) (bool, error) {
	buddies, err := r.BuddyList(owner)
	if err != nil {
		return false, err
	}
	return containsID(buddies, other), nil
}

// RealNames returns display names keyed by member id.
func (r *Repo) RealNames(ids []int) (map[int]string, error) {
	names := make(map[int]string)
	if len(ids) == 0 {
		return names, nil
	}
	in, args := placeholders(ids)
	rows, err := r.db.Query("SELECT id_member, member_name, real_name FROM members WHERE id_member IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var name, realName string
		if err := rows.Scan(&id, &name, &realName); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		if realName == "" {
			realName = name
		}
		names[id] = realName
	}
	return names, rows.Err()
}

// RemovesInboxLabel reports the member's "labelling leaves the inbox" option.
func (r *Repo) RemovesInboxLabel(id int) (bool, error) {
	var remove bool
	if err := r.db.QueryRow("SELECT pm_remove_inbox_label FROM members WHERE id_member = ?", id).Scan(&remove); err != nil {
		return false, fmt.Errorf("load inbox label option of %d: %w", id, err)
	}
	return remove, nil
}

// BumpReceived counts one new unread message for each member.
func (r *Repo) BumpReceived(ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := placeholders(ids)
	if _, err := r.db.Exec(`
		UPDATE members
		SET personal_messages = personal_messages + 1, unread_messages = unread_messages + 1, new_pm = 1
		WHERE id_member IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("bump received counts: %w", err)
	}
	return nil
}

// BumpSent counts one sent message.
func (r *Repo) BumpSent(id int) error {
	if _, err := r.db.Exec("UPDATE members SET sent_messages = sent_messages + 1 WHERE id_member = ?", id); err != nil {
		return fmt.Errorf("bump sent count of %d: %w", id, err)
	}
	return nil
}

// ReduceCounts takes deleted messages off the member's counters, never below zero.
func (r *Repo) ReduceCounts(id, total, unread int) error {
	if _, err := r.db.Exec(`
		UPDATE members
		SET personal_messages = CASE WHEN personal_messages >= ? THEN personal_messages - ? ELSE 0 END,
			unread_messages = CASE WHEN unread_messages >= ? THEN unread_messages - ? ELSE 0 END
		WHERE id_member = ?`, total, total, unread, unread, id); err != nil {
		return fmt.Errorf("reduce counts of %d: %w", id, err)
	}
	return nil
}

// ResetCounts zeroes the received counters after an emptied inbox.
func (r *Repo) ResetCounts(id int) error {
	if _, err := r.db.Exec("UPDATE members SET personal_messages = 0, unread_messages = 0 WHERE id_member = ?", id); err != nil {
		return fmt.Errorf("reset counts of %d: %w", id, err)
	}
	return nil
}

// SetUnreadTotal stores a recomputed unread count.
func (r *Repo) SetUnreadTotal(id, n int) error {
	if _, err := r.db.Exec("UPDATE members SET unread_messages = ? WHERE id_member = ?", n, id); err != nil {
		return fmt.Errorf("set unread total of %d: %w", id, err)
	}
	return nil
}

// HasNewPM reports whether mail arrived since the member last opened the mailbox.
func (r *Repo) HasNewPM(id int) (bool, error) {
	var n bool
	if err := r.db.QueryRow("SELECT new_pm FROM members WHERE id_member = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("load new_pm of %d: %w", id, err)
	}
	return n, nil
}

// ClearNewPM resets the new-mail flag.
func (r *Repo) ClearNewPM(id int) error {
	if _, err := r.db.Exec("UPDATE members SET new_pm = 0 WHERE id_member = ?", id); err != nil {
		return fmt.Errorf("clear new_pm of %d: %w", id, err)
	}
	return nil
}

// LoadActor builds the actor for a member from its groups and their permissions.
func (r *Repo) LoadActor(id int, denyEnabled bool) (pm.Actor, error) {
	m, err := r.GetByID(id)
	if err != nil {
		return pm.Actor{}, err
	}
	groups := m.Groups()
	var perms []string
	for _, p := range []string{pm.PermRead, pm.PermSend, pm.PermModerate} {
		ok, err := r.groupsAllowed(groups, p, denyEnabled)
		if err != nil {
			return pm.Actor{}, err
		}
		if ok {
			perms = append(perms, p)
		}
	}
	return pm.NewActor(m.ID, m.Name, m.DisplayName(), groups, perms)
}

var _ pm.Directory = (*Repo)(nil)
