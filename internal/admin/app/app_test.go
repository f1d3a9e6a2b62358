package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notepid/twilight_pm/internal/pm"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("paths:\n  data: %s\n  database: %s\npm:\n  search_per_page: 5\n  label_cache_ttl: 60\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "data", "pm.db"))
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, cleanup, err := New(path)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(cleanup)
	return a
}

func TestOptionsFromConfig(t *testing.T) {
	a := newTestApp(t)
	opts := Options(a.Config)
	if opts.SearchPerPage != 5 {
		t.Fatalf("expected 5 per page, got %d", opts.SearchPerPage)
	}
	if opts.LabelCacheTTL != time.Minute {
		t.Fatalf("expected 1m label ttl, got %v", opts.LabelCacheTTL)
	}
	if opts.MaxBodyLen != pm.DefaultOptions().MaxBodyLen {
		t.Fatalf("expected default body limit, got %d", opts.MaxBodyLen)
	}
}

func TestActorSendsThroughService(t *testing.T) {
	a := newTestApp(t)
	for _, name := range []string{"alice", "bob"} {
		if _, err := a.Members.Create(name, "secret1", "", name+"@example.com"); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	alice, m, err := a.Actor("alice")
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if alice.ID != m.ID || alice.Username != "alice" {
		t.Fatalf("unexpected actor %+v", alice)
	}
	dlog, err := a.PM.Send(context.Background(), alice, pm.SendRequest{
		To:      []pm.RecipientRef{{Name: "bob"}},
		Subject: "hi",
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(dlog.Sent) != 1 {
		t.Fatalf("expected 1 delivery, got %v", dlog.Sent)
	}

	bob, _, err := a.Actor("bob")
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	n, err := a.PM.Count(bob, pm.ListOptions{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inbox message, got %d", n)
	}

	if _, _, err := a.Actor("nobody"); err == nil {
		t.Fatal("expected error for unknown member")
	}
}
