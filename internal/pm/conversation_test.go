package pm_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/notepid/twilight_pm/internal/pm"
)

// thread sends a question from u to a and a's reply, returning both ids.
func (e *testEnv) thread(t *testing.T, u, a pm.Actor) (int, int) {
	t.Helper()
	first := e.send(t, u, "Question", "?", a).MessageID
	reply, err := e.svc.Send(context.Background(), a, pm.SendRequest{
		To:          []pm.RecipientRef{{ID: u.ID}},
		Subject:     "Re: Question",
		Body:        "!",
		StoreOutbox: true,
		ReplyHead:   first,
		ReplyTo:     first,
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	return first, reply.MessageID
}

func TestLoadConversation(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	outsider := e.member(t, "outsider", 0)
	first, reply := e.thread(t, u, a)

	entries, err := e.svc.LoadConversation(a, first, pm.FolderInbox)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []pm.ThreadEntry{{MessageID: first, SenderID: u.ID}, {MessageID: reply, SenderID: a.ID}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("conversation mismatch (-want +got):\n%s", diff)
	}

	if err := e.svc.DeleteMessages(a, []int{reply}, pm.FolderSent); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, _ = e.svc.LoadConversation(a, first, pm.FolderSent)
	if diff := cmp.Diff(want[:1], entries); diff != "" {
		t.Fatalf("sent view mismatch (-want +got):\n%s", diff)
	}

	entries, _ = e.svc.LoadConversation(outsider, first, pm.FolderInbox)
	if len(entries) != 0 {
		t.Fatalf("outsider must see nothing, got %+v", entries)
	}
}

func TestConversationUnreadStatus(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	first, reply := e.thread(t, u, a)
	again, err := e.svc.Send(context.Background(), u, pm.SendRequest{
		To:        []pm.RecipientRef{{ID: a.ID}},
		Subject:   "Re: Question",
		Body:      "and?",
		ReplyHead: first,
		ReplyTo:   reply,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	status, err := e.svc.ConversationUnreadStatus(a, []int{first})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if diff := cmp.Diff(map[int]int{first: again.MessageID}, status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	e.svc.MarkRead(a, nil, nil)
	status, _ = e.svc.ConversationUnreadStatus(a, []int{first})
	if len(status) != 0 {
		t.Fatalf("expected nothing unread, got %v", status)
	}

	pms, err := e.svc.GetPmsFromDiscussion([]int{first})
	if err != nil {
		t.Fatalf("discussion: %v", err)
	}
	if len(pms) != 3 {
		t.Fatalf("expected 3 messages in thread, got %v", pms)
	}
}

func TestDeleteMessagesPurges(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	b := e.member(t, "b", 0)
	msg := e.send(t, u, "s", "b", a, b).MessageID

	if err := e.svc.DeleteMessages(u, []int{msg}, pm.FolderSent); err != nil {
		t.Fatalf("sender delete: %v", err)
	}
	if err := e.svc.DeleteMessages(a, []int{msg}, pm.FolderInbox); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	if m := e.counts(t, a.ID); m.Messages != 0 || m.Unread != 0 {
		t.Fatalf("expected a's counters reduced, got %+v", m)
	}
	if _, ok := e.row(t, msg, b.ID); !ok {
		t.Fatal("b still holds the message, it must survive")
	}

	if err := e.svc.DeleteMessages(b, []int{msg}, pm.FolderInbox); err != nil {
		t.Fatalf("delete b: %v", err)
	}
	var n int
	e.db.QueryRow("SELECT COUNT(*) FROM personal_messages WHERE id_pm = ?", msg).Scan(&n)
	if n != 0 {
		t.Fatal("expected message purged")
	}
	if _, ok := e.row(t, msg, a.ID); ok {
		t.Fatal("expected recipient rows purged")
	}
}

func TestDeleteAllResetsCounts(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	e.send(t, u, "one", "b", a)
	read := e.send(t, u, "two", "b", a).MessageID
	e.svc.MarkRead(a, []int{read}, nil)

	if err := e.svc.DeleteMessages(a, nil, pm.FolderInbox); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if m := e.counts(t, a.ID); m.Messages != 0 || m.Unread != 0 {
		t.Fatalf("expected counters reset, got %+v", m)
	}
	res, err := e.svc.List(a, pm.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected empty inbox, got %d", res.Total)
	}
	// The sender still has outbox copies, so nothing is purged.
	if res, _ := e.svc.List(u, pm.ListOptions{Folder: pm.FolderSent}); res.Total != 2 {
		t.Fatalf("expected 2 sent, got %d", res.Total)
	}
}

func TestPruneOlderThan(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)

	oldIn := e.send(t, u, "old in", "b", a).MessageID
	oldOut := e.send(t, a, "old out", "b", u).MessageID
	quiet, err := e.svc.Send(context.Background(), u, pm.SendRequest{
		To: []pm.RecipientRef{{ID: a.ID}}, Subject: "no outbox", Body: "b",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	e.now = e.now.Add(40 * 24 * time.Hour)
	fresh := e.send(t, u, "fresh", "b", a).MessageID

	cutoff := e.now.Add(-30 * 24 * time.Hour)
	ids, err := e.svc.PMsOlderThan(a, cutoff)
	if err != nil {
		t.Fatalf("older than: %v", err)
	}
	if diff := cmp.Diff([]int{oldIn, oldOut, quiet.MessageID}, ids); diff != "" {
		t.Fatalf("old ids mismatch (-want +got):\n%s", diff)
	}

	n, err := e.svc.PruneOlderThan(a, cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned, got %d", n)
	}
	res, _ := e.svc.List(a, pm.ListOptions{})
	if diff := cmp.Diff([]int{fresh}, hitIDs(res)); diff != "" {
		t.Fatalf("inbox after prune (-want +got):\n%s", diff)
	}
	if res, _ := e.svc.List(a, pm.ListOptions{Folder: pm.FolderSent}); res.Total != 0 {
		t.Fatalf("expected empty outbox, got %d", res.Total)
	}
	if m := e.counts(t, a.ID); m.Messages != 1 || m.Unread != 1 {
		t.Fatalf("expected counters for the fresh message only, got %+v", m)
	}

	// u keeps its copies; the message without an outbox copy is gone.
	if _, ok := e.row(t, oldOut, u.ID); !ok {
		t.Fatal("expected u's copy of the old reply to survive")
	}
	var left int
	e.db.QueryRow("SELECT COUNT(*) FROM personal_messages WHERE id_pm = ?", quiet.MessageID).Scan(&left)
	if left != 0 {
		t.Fatal("expected message without outbox copy purged")
	}

	if n, err := e.svc.PruneOlderThan(a, cutoff); err != nil || n != 0 {
		t.Fatalf("expected nothing left to prune, got %d, %v", n, err)
	}
}
