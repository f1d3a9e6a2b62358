package db

import (
	"fmt"
)

// SiteSettings holds the forum-wide switches the messaging code consults.
type SiteSettings struct {
	Name                 string
	WebmasterEmail       string
	EnableBuddyList      bool
	PermissionEnableDeny bool
	DisallowSendBody     bool
	PMPostsPerHour       int
	UserLanguage         bool
}

// GetSiteSettings retrieves the site settings from the database.
func (db *DB) GetSiteSettings() (*SiteSettings, error) {
	var s SiteSettings
	err := db.QueryRow(`
		SELECT name, webmaster_email, enable_buddylist, permission_enable_deny,
		       disallow_send_body, pm_posts_per_hour, user_language
		FROM site_settings WHERE id = 1
	`).Scan(
		&s.Name,
		&s.WebmasterEmail,
		&s.EnableBuddyList,
		&s.PermissionEnableDeny,
		&s.DisallowSendBody,
		&s.PMPostsPerHour,
		&s.UserLanguage,
	)
	if err != nil {
		return nil, fmt.Errorf("load site settings: %w", err)
	}
	return &s, nil
}

// UpdateSiteSettings updates the site settings in the database.
func (db *DB) UpdateSiteSettings(s *SiteSettings) error {
	if s.PMPostsPerHour < 0 {
		return fmt.Errorf("update site settings: posts per hour cannot be negative")
	}
	_, err := db.Exec(`
		UPDATE site_settings SET name = ?, webmaster_email = ?, enable_buddylist = ?,
		       permission_enable_deny = ?, disallow_send_body = ?, pm_posts_per_hour = ?,
		       user_language = ?
		WHERE id = 1
	`,
		s.Name,
		s.WebmasterEmail,
		s.EnableBuddyList,
		s.PermissionEnableDeny,
		s.DisallowSendBody,
		s.PMPostsPerHour,
		s.UserLanguage,
	)
	if err != nil {
		return fmt.Errorf("update site settings: %w", err)
	}
	return nil
}

// MemberGroup is a membergroup row with its PM quota.
type MemberGroup struct {
	ID          int
	Name        string
	MaxMessages int
	MinPosts    int
}

// ListMemberGroups returns every membergroup ordered by id.
func (db *DB) ListMemberGroups() ([]MemberGroup, error) {
	rows, err := db.Query("SELECT id_group, group_name, max_messages, min_posts FROM membergroups ORDER BY id_group")
	if err != nil {
		return nil, fmt.Errorf("list membergroups: %w", err)
	}
	defer rows.Close()

	var groups []MemberGroup
	for rows.Next() {
		var g MemberGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.MaxMessages, &g.MinPosts); err != nil {
			return nil, fmt.Errorf("scan membergroup: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SetGroupQuota changes the stored-message limit of a membergroup. Zero means unlimited.
func (db *DB) SetGroupQuota(groupID, maxMessages int) error {
	if maxMessages < 0 {
		return fmt.Errorf("set quota for group %d: negative limit", groupID)
	}
	res, err := db.Exec("UPDATE membergroups SET max_messages = ? WHERE id_group = ?", maxMessages, groupID)
	if err != nil {
		return fmt.Errorf("set quota for group %d: %w", groupID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set quota for group %d: no such group", groupID)
	}
	return nil
}

// SetPermission grants (allow) or denies a permission to a group.
func (db *DB) SetPermission(groupID int, permission string, allow bool) error {
	addDeny := 0
	if allow {
		addDeny = 1
	}
	_, err := db.Exec(`
		INSERT INTO permissions (id_group, permission, add_deny) VALUES (?, ?, ?)
		ON CONFLICT(id_group, permission) DO UPDATE SET add_deny = excluded.add_deny
	`, groupID, permission, addDeny)
	if err != nil {
		return fmt.Errorf("set permission %s for group %d: %w", permission, groupID, err)
	}
	return nil
}

// RevokePermission removes a permission row entirely.
func (db *DB) RevokePermission(groupID int, permission string) error {
	if _, err := db.Exec("DELETE FROM permissions WHERE id_group = ? AND permission = ?", groupID, permission); err != nil {
		return fmt.Errorf("revoke permission %s for group %d: %w", permission, groupID, err)
	}
	return nil
}

// GroupPermissions returns the permission rows of a group, true for allow
// and false for deny. Permissions without a row are absent.
func (db *DB) GroupPermissions(groupID int) (map[string]bool, error) {
	rows, err := db.Query("SELECT permission, add_deny FROM permissions WHERE id_group = ?", groupID)
	if err != nil {
		return nil, fmt.Errorf("list permissions for group %d: %w", groupID, err)
	}
	defer rows.Close()

	perms := make(map[string]bool)
	for rows.Next() {
		var name string
		var addDeny int
		if err := rows.Scan(&name, &addDeny); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms[name] = addDeny == 1
	}
	return perms, rows.Err()
}
