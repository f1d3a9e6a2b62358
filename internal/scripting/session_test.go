package scripting

import (
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/twilight_pm/internal/cache"
	"github.com/notepid/twilight_pm/internal/db"
	"github.com/notepid/twilight_pm/internal/notify"
	"github.com/notepid/twilight_pm/internal/pm"
	"github.com/notepid/twilight_pm/internal/user"
)

func newTestSession(t *testing.T) (*Session, *user.Repo) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "script.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	members := user.NewRepo(d.DB)
	svc := pm.NewService(d.DB, members, d, cache.New(), notify.Log{}, pm.DefaultOptions())
	s := NewSession(members, svc, false)
	t.Cleanup(s.Close)
	return s, members
}

func mustCreate(t *testing.T, r *user.Repo, name string) *user.Member {
	t.Helper()
	m, err := r.Create(name, "secret1", "", name+"@example.com")
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return m
}

func TestScriptSendAndRead(t *testing.T) {
	s, members := newTestSession(t)
	mustCreate(t, members, "alice")
	mustCreate(t, members, "bob")

	err := s.DoString(`
		local me, err = members.login("alice", "secret1")
		assert(me, err)
		local log, err = pm.send("bob, nobody", "Hello", "First message")
		assert(log, err)
		sent_count = #log.sent
		failed_reason = log.failed["nobody"]
		sent_id = log.id
	`)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if got := s.L.GetGlobal("sent_count"); got != lua.LNumber(1) {
		t.Fatalf("expected 1 sent, got %v", got)
	}
	if got := s.L.GetGlobal("failed_reason"); got != lua.LString(pm.ReasonNotFound) {
		t.Fatalf("expected not found reason, got %v", got)
	}

	err = s.DoString(`
		assert(members.login("bob", "secret1"))
		local page = assert(pm.list())
		inbox_total = page.total
		first_read = page.hits[1].read
		local msg = assert(pm.read(page.hits[1].id))
		body = msg.body
		local labels = assert(pm.labels())
		inbox_unread = labels[1].unread
	`)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	for name, want := range map[string]lua.LValue{
		"inbox_total":  lua.LNumber(1),
		"first_read":   lua.LFalse,
		"body":         lua.LString("First message"),
		"inbox_unread": lua.LNumber(0),
	} {
		if got := s.L.GetGlobal(name); got != want {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}
}

func TestScriptRulesAndLabels(t *testing.T) {
	s, members := newTestSession(t)
	mustCreate(t, members, "alice")
	bob := mustCreate(t, members, "bob")

	s.SetMember(bob)
	err := s.DoString(`
		local id = assert(pm.add_label("invoices"))
		assert(pm.add_rule{name = "bills", from = "alice", subject = "invoice", label = id})
		rule_count = #assert(pm.rules())
		label_id = id
	`)
	if err != nil {
		t.Fatalf("script: %v", err)
	}

	if err := s.DoString(`
		assert(members.login("alice", "secret1"))
		assert(pm.send("bob", "invoice #3", "pay"))
		assert(pm.send("bob", "hello", "hi"))
	`); err != nil {
		t.Fatalf("script: %v", err)
	}

	s.SetMember(bob)
	err = s.DoString(`
		local labels = assert(pm.enter())
		for _, l in ipairs(labels) do
			if l.id == label_id then labelled = l.messages end
		end
		local found = assert(pm.search("subject:invoice"))
		search_total = found.total
	`)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if got := s.L.GetGlobal("rule_count"); got != lua.LNumber(1) {
		t.Fatalf("expected 1 rule, got %v", got)
	}
	if got := s.L.GetGlobal("labelled"); got != lua.LNumber(1) {
		t.Fatalf("expected 1 labelled message, got %v", got)
	}
	if got := s.L.GetGlobal("search_total"); got != lua.LNumber(1) {
		t.Fatalf("expected 1 search hit, got %v", got)
	}
}

func TestScriptErrorsAreReturned(t *testing.T) {
	s, members := newTestSession(t)
	mustCreate(t, members, "alice")

	err := s.DoString(`
		local r, err = pm.list()
		logged_out = err
		assert(members.login("alice", "secret1"))
		local r2, err2 = pm.read(12345)
		missing = err2
		local m, err3 = members.register("1234", "secret1")
		bad_name = err3
	`)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if got := s.L.GetGlobal("logged_out"); got != lua.LString("not logged in") {
		t.Fatalf("expected not logged in, got %v", got)
	}
	if got := s.L.GetGlobal("missing"); got == lua.LNil {
		t.Fatal("expected error for missing message")
	}
	if got := s.L.GetGlobal("bad_name"); got == lua.LNil {
		t.Fatal("expected numeric username to be rejected")
	}
}

func TestScriptPruneKeepsRecentMail(t *testing.T) {
	s, members := newTestSession(t)
	mustCreate(t, members, "alice")
	bob := mustCreate(t, members, "bob")

	if err := s.DoString(`
		assert(members.login("alice", "secret1"))
		assert(pm.send("bob", "fresh", "still wanted"))
	`); err != nil {
		t.Fatalf("script: %v", err)
	}
	s.SetMember(bob)
	if err := s.DoString(`
		pruned = assert(pm.prune(30))
		remaining = assert(pm.list()).total
	`); err != nil {
		t.Fatalf("script: %v", err)
	}
	if got := s.L.GetGlobal("pruned"); got != lua.LNumber(0) {
		t.Fatalf("expected nothing pruned, got %v", got)
	}
	if got := s.L.GetGlobal("remaining"); got != lua.LNumber(1) {
		t.Fatalf("expected 1 message left, got %v", got)
	}
	if err := s.DoString(`pm.prune(0)`); err == nil {
		t.Fatal("expected error for non-positive days")
	}
}

func TestHooks(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.DoString(`
		return {
			on_enter = function(n) entered = n end,
		}
	`); err != nil {
		t.Fatalf("script: %v", err)
	}
	if !s.HasHook("on_enter") || s.HasHook("on_exit") {
		t.Fatal("unexpected hook detection")
	}
	if err := s.CallHook("on_enter", lua.LNumber(3)); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := s.CallHook("on_exit"); err != nil {
		t.Fatalf("missing hook must be ignored: %v", err)
	}
	if got := s.L.GetGlobal("entered"); got != lua.LNumber(3) {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestValidateInput(t *testing.T) {
	var v ValidateInput
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"plain name", v.ValidateUsername("Alice B"), false},
		{"comma", v.ValidateUsername("a,b"), true},
		{"numeric", v.ValidateUsername("42"), true},
		{"padded", v.ValidateUsername(" a"), true},
		{"short password", v.ValidatePassword("abc"), true},
		{"empty email", v.ValidateEmail(""), false},
		{"email", v.ValidateEmail("a@example.com"), false},
		{"display email", v.ValidateEmail("A <a@example.com>"), true},
	}
	for _, tt := range tests {
		if (tt.err != nil) != tt.wantErr {
			t.Fatalf("%s: wantErr %v, got %v", tt.name, tt.wantErr, tt.err)
		}
	}
}
