package db

import (
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	sql  string
	// fill runs after sql in the same transaction, for data Go must compute.
	fill func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		name: "create members table",
		sql: `
			CREATE TABLE IF NOT EXISTS members (
				id_member INTEGER PRIMARY KEY AUTOINCREMENT,
				member_name TEXT UNIQUE NOT NULL COLLATE NOCASE,
				real_name TEXT NOT NULL DEFAULT '',
				email_address TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL DEFAULT '',
				id_group INTEGER NOT NULL DEFAULT 0,
				id_post_group INTEGER NOT NULL DEFAULT 4,
				additional_groups TEXT NOT NULL DEFAULT '',
				is_activated INTEGER NOT NULL DEFAULT 1,
				lngfile TEXT NOT NULL DEFAULT '',
				pm_email_notify INTEGER NOT NULL DEFAULT 1,
				receive_from INTEGER NOT NULL DEFAULT 1,
				buddy_list TEXT NOT NULL DEFAULT '',
				pm_ignore_list TEXT NOT NULL DEFAULT '',
				personal_messages INTEGER NOT NULL DEFAULT 0,
				unread_messages INTEGER NOT NULL DEFAULT 0,
				sent_messages INTEGER NOT NULL DEFAULT 0,
				new_pm INTEGER NOT NULL DEFAULT 0,
				pm_remove_inbox_label INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`,
	},
	{
		name: "create membergroups and permissions",
		sql: `
			CREATE TABLE IF NOT EXISTS membergroups (
				id_group INTEGER PRIMARY KEY,
				group_name TEXT NOT NULL,
				max_messages INTEGER NOT NULL DEFAULT 0,
				min_posts INTEGER NOT NULL DEFAULT -1
			);
			CREATE TABLE IF NOT EXISTS permissions (
				id_group INTEGER NOT NULL,
				permission TEXT NOT NULL,
				add_deny INTEGER NOT NULL DEFAULT 1,
				PRIMARY KEY (id_group, permission)
			);
		`,
	},
	{
		name: "create personal message tables",
		sql: `
			CREATE TABLE IF NOT EXISTS personal_messages (
				id_pm INTEGER PRIMARY KEY AUTOINCREMENT,
				id_pm_head INTEGER NOT NULL DEFAULT 0,
				id_member_from INTEGER NOT NULL DEFAULT 0,
				deleted_by_sender INTEGER NOT NULL DEFAULT 0,
				from_name TEXT NOT NULL DEFAULT '',
				msgtime INTEGER NOT NULL DEFAULT 0,
				subject TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_pm_head ON personal_messages(id_pm_head);
			CREATE INDEX IF NOT EXISTS idx_pm_sender ON personal_messages(id_member_from, deleted_by_sender);

			CREATE TABLE IF NOT EXISTS pm_recipients (
				id_pm INTEGER NOT NULL REFERENCES personal_messages(id_pm) ON DELETE CASCADE,
				id_member INTEGER NOT NULL,
				labels TEXT NOT NULL DEFAULT '-1',
				bcc INTEGER NOT NULL DEFAULT 0,
				is_read INTEGER NOT NULL DEFAULT 0,
				is_new INTEGER NOT NULL DEFAULT 0,
				deleted INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (id_pm, id_member)
			);
			CREATE INDEX IF NOT EXISTS idx_pmr_member ON pm_recipients(id_member, deleted, id_pm);
		`,
	},
	{
		name: "create pm labels and rules",
		sql: `
			CREATE TABLE IF NOT EXISTS pm_labels (
				id_label INTEGER PRIMARY KEY AUTOINCREMENT,
				id_member INTEGER NOT NULL,
				name TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_pm_labels_member ON pm_labels(id_member);

			CREATE TABLE IF NOT EXISTS pm_rules (
				id_rule INTEGER PRIMARY KEY AUTOINCREMENT,
				id_member INTEGER NOT NULL,
				rule_name TEXT NOT NULL DEFAULT '',
				criteria TEXT NOT NULL DEFAULT '[]',
				actions TEXT NOT NULL DEFAULT '[]',
				delete_pm INTEGER NOT NULL DEFAULT 0,
				is_or INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_pm_rules_member ON pm_rules(id_member);
		`,
	},
	{
		name: "create site settings",
		sql: `
			CREATE TABLE IF NOT EXISTS site_settings (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				name TEXT NOT NULL DEFAULT 'Twilight',
				webmaster_email TEXT NOT NULL DEFAULT '',
				enable_buddylist INTEGER NOT NULL DEFAULT 1,
				permission_enable_deny INTEGER NOT NULL DEFAULT 0,
				disallow_send_body INTEGER NOT NULL DEFAULT 0,
				pm_posts_per_hour INTEGER NOT NULL DEFAULT 0,
				user_language INTEGER NOT NULL DEFAULT 1
			);
			INSERT OR IGNORE INTO site_settings (id) VALUES (1);
		`,
	},
	{
		name: "seed default membergroups",
		sql: `
			INSERT OR IGNORE INTO membergroups (id_group, group_name, max_messages, min_posts) VALUES
				(1, 'Administrator', 0, -1),
				(2, 'Global Moderator', 0, -1),
				(3, 'Moderator', 0, -1),
				(4, 'Newbie', 0, 0);
			INSERT OR IGNORE INTO permissions (id_group, permission, add_deny) VALUES
				(0, 'pm_read', 1), (0, 'pm_send', 1),
				(2, 'pm_read', 1), (2, 'pm_send', 1), (2, 'moderate_forum', 1),
				(3, 'pm_read', 1), (3, 'pm_send', 1),
				(4, 'pm_read', 1), (4, 'pm_send', 1);
		`,
	},
	{
		name: "add folded member names",
		sql: `
			ALTER TABLE members ADD COLUMN name_folded TEXT NOT NULL DEFAULT '';
			ALTER TABLE members ADD COLUMN real_name_folded TEXT NOT NULL DEFAULT '';
			CREATE INDEX IF NOT EXISTS idx_members_name_folded ON members(name_folded);
			CREATE INDEX IF NOT EXISTS idx_members_real_name_folded ON members(real_name_folded);
		`,
		fill: foldMemberNames,
	},
}

func foldMemberNames(tx *sql.Tx) error {
	type names struct {
		id             int
		name, realName string
	}
	rows, err := tx.Query("SELECT id_member, member_name, real_name FROM members")
	if err != nil {
		return fmt.Errorf("load member names: %w", err)
	}
	var all []names
	for rows.Next() {
		var n names
		if err := rows.Scan(&n.id, &n.name, &n.realName); err != nil {
			rows.Close()
			return fmt.Errorf("scan member names: %w", err)
		}
		all = append(all, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load member names: %w", err)
	}

	for _, n := range all {
		if _, err := tx.Exec("UPDATE members SET name_folded = ?, real_name_folded = ? WHERE id_member = ?",
			FoldName(n.name), FoldName(n.realName), n.id); err != nil {
			return fmt.Errorf("fold names of member %d: %w", n.id, err)
		}
	}
	return nil
}
