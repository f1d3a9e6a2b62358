package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/pm"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("paths:\n  data: %s\n  database: %s\n", filepath.Join(dir, "data"), filepath.Join(dir, "data", "pm.db"))
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, cleanup, err := app.New(path)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(cleanup)
	a.Members.SetPasswordCost(4)
	return a
}

func sendOne(t *testing.T, a *app.App, from, to string) {
	t.Helper()
	actor, _, err := a.Actor(from)
	if err != nil {
		t.Fatalf("actor %s: %v", from, err)
	}
	if _, err := a.PM.Send(context.Background(), actor, pm.SendRequest{
		To: []pm.RecipientRef{{Name: to}}, Subject: "hi", Body: "there",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestRootStatusLine(t *testing.T) {
	a := newTestApp(t)
	for _, name := range []string{"alice", "bob"} {
		if _, err := a.Members.Create(name, "secret1", "", ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	sendOne(t, a, "alice", "bob")

	m := NewRootModel(a, Options{}).(*rootModel)
	want := "2 members • 1 messages • 1 in mailboxes, 1 unread"
	if !strings.Contains(m.status, want) {
		t.Fatalf("expected status to contain %q, got %q", want, m.status)
	}
	if m.current != nil {
		t.Fatal("expected the menu without a mailbox option")
	}
}

func TestRootOpensMailbox(t *testing.T) {
	a := newTestApp(t)
	for _, name := range []string{"alice", "bob"} {
		if _, err := a.Members.Create(name, "secret1", "", ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	sendOne(t, a, "alice", "bob")

	m := NewRootModel(a, Options{Mailbox: "bob"}).(*rootModel)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	mb, ok := m.current.(*mailboxesModel)
	if !ok {
		t.Fatalf("expected mailbox screen, got %T", m.current)
	}
	if mb.state != mailboxesStateFolders || mb.actor.Username != "bob" {
		t.Fatalf("expected bob's folders, got state %d actor %q", mb.state, mb.actor.Username)
	}

	// Browsing must not mark anything read.
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.current != nil {
		t.Fatalf("expected to be back on the menu, got %T", m.current)
	}
	if !strings.Contains(m.status, "1 unread") {
		t.Fatalf("expected unread mail untouched, got %q", m.status)
	}
}
