package db

import (
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	var count int
	if err := d.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), count)
	}

	applied, err := d.AppliedMigrations()
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	for i, m := range applied {
		if m.Version != i+1 || m.Name != migrations[i].name {
			t.Fatalf("migration %d: expected %q, got %+v", i+1, migrations[i].name, m)
		}
	}
}

func TestConnectionPragmas(t *testing.T) {
	d := openTest(t)
	// A second pooled connection must carry the same settings.
	d.SetMaxIdleConns(0)
	var fk bool
	var timeout int
	if err := d.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if err := d.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if !fk || timeout != int(BusyTimeout.Milliseconds()) {
		t.Fatalf("expected foreign keys and %v busy timeout, got %v and %dms", BusyTimeout, fk, timeout)
	}
}

func TestFoldedNamesBackfilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Roll back to the schema before folded names existed.
	last := len(migrations)
	for _, stmt := range []string{
		"DROP INDEX idx_members_name_folded",
		"DROP INDEX idx_members_real_name_folded",
		"ALTER TABLE members DROP COLUMN name_folded",
		"ALTER TABLE members DROP COLUMN real_name_folded",
	} {
		if _, err := d.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	if _, err := d.Exec("DELETE FROM schema_migrations WHERE version = ?", last); err != nil {
		t.Fatalf("forget migration: %v", err)
	}
	if _, err := d.Exec("INSERT INTO members (member_name, real_name) VALUES ('Åsa', 'ÖLOF')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	var name, realName string
	if err := d.QueryRow("SELECT name_folded, real_name_folded FROM members").Scan(&name, &realName); err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "åsa" || realName != "ölof" {
		t.Fatalf("expected folded names, got %q and %q", name, realName)
	}
}

func TestMailStats(t *testing.T) {
	d := openTest(t)
	if _, err := d.Exec(`
		INSERT INTO members (member_name) VALUES ('a'), ('b');
		INSERT INTO personal_messages (id_pm, id_pm_head, id_member_from, subject, body) VALUES (1, 1, 1, 's', 'b');
		INSERT INTO pm_recipients (id_pm, id_member, is_read) VALUES (1, 2, 0);
		INSERT INTO pm_labels (id_member, name) VALUES (2, 'x');
	`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, err := d.GetMailStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := MailStats{Members: 2, Messages: 1, Copies: 1, Unread: 1, Labels: 1}
	if *s != want {
		t.Fatalf("expected %+v, got %+v", want, *s)
	}
}

func TestSiteSettingsRoundTrip(t *testing.T) {
	d := openTest(t)

	s, err := d.GetSiteSettings()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !s.EnableBuddyList || s.PMPostsPerHour != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}

	s.PMPostsPerHour = 12
	s.DisallowSendBody = true
	if err := d.UpdateSiteSettings(s); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := d.GetSiteSettings()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PMPostsPerHour != 12 || !got.DisallowSendBody {
		t.Fatalf("expected updated settings, got %+v", got)
	}

	s.PMPostsPerHour = -1
	if err := d.UpdateSiteSettings(s); err == nil {
		t.Fatal("expected error for negative posts per hour")
	}
}

func TestGroupQuota(t *testing.T) {
	d := openTest(t)

	if err := d.SetGroupQuota(4, 5); err != nil {
		t.Fatalf("set quota: %v", err)
	}
	groups, err := d.ListMemberGroups()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, g := range groups {
		if g.ID == 4 {
			found = true
			if g.MaxMessages != 5 {
				t.Fatalf("expected quota 5, got %d", g.MaxMessages)
			}
		}
	}
	if !found {
		t.Fatal("group 4 not seeded")
	}
	if err := d.SetGroupQuota(99, 1); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestGroupPermissions(t *testing.T) {
	d := openTest(t)

	perms, err := d.GroupPermissions(4)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !perms["pm_send"] || !perms["pm_read"] {
		t.Fatalf("expected seeded pm permissions, got %v", perms)
	}

	if err := d.SetPermission(4, "pm_send", false); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if err := d.RevokePermission(4, "pm_read"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	perms, err = d.GroupPermissions(4)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if allow, ok := perms["pm_send"]; !ok || allow {
		t.Fatalf("expected pm_send denied, got %v", perms)
	}
	if _, ok := perms["pm_read"]; ok {
		t.Fatalf("expected pm_read revoked, got %v", perms)
	}
}
