package pm_test

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/notepid/twilight_pm/internal/cache"
	"github.com/notepid/twilight_pm/internal/db"
	"github.com/notepid/twilight_pm/internal/pm"
	"github.com/notepid/twilight_pm/internal/user"
)

type recorder struct {
	mu    sync.Mutex
	notes []pm.Notification
}

func (r *recorder) Notify(_ context.Context, n pm.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) all() []pm.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pm.Notification(nil), r.notes...)
}

type testEnv struct {
	db      *db.DB
	members *user.Repo
	svc     *pm.Service
	cache   *cache.Cache
	notes   *recorder
	now     time.Time
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "pm.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	e := &testEnv{
		db:      d,
		members: user.NewRepo(d.DB),
		cache:   cache.New(),
		notes:   &recorder{},
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	e.members.SetPasswordCost(4)
	e.svc = pm.NewService(d.DB, e.members, d, e.cache, e.notes, pm.DefaultOptions())
	e.svc.SetClock(func() time.Time { return e.now })
	e.cache.SetClock(func() time.Time { return e.now })
	return e
}

// member creates a member in the given primary group and returns its actor.
func (e *testEnv) member(t *testing.T, name string, group int) pm.Actor {
	t.Helper()
	m, err := e.members.Create(name, "secret", "", name+"@example.com")
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	if group != 0 {
		if err := e.members.SetGroups(m.ID, group, nil); err != nil {
			t.Fatalf("set group of %s: %v", name, err)
		}
	}
	return e.actor(t, m.ID)
}

func (e *testEnv) actor(t *testing.T, id int) pm.Actor {
	t.Helper()
	a, err := e.members.LoadActor(id, false)
	if err != nil {
		t.Fatalf("load actor %d: %v", id, err)
	}
	return a
}

func (e *testEnv) send(t *testing.T, from pm.Actor, subject, body string, to ...pm.Actor) *pm.DeliveryLog {
	t.Helper()
	req := pm.SendRequest{Subject: subject, Body: body, StoreOutbox: true}
	for _, a := range to {
		req.To = append(req.To, pm.RecipientRef{ID: a.ID})
	}
	dlog, err := e.svc.Send(context.Background(), from, req)
	if err != nil {
		t.Fatalf("send %q: %v", subject, err)
	}
	return dlog
}

type recipientRow struct {
	bcc     bool
	deleted bool
	isRead  int
	labels  string
}

func (e *testEnv) row(t *testing.T, msgID, memberID int) (recipientRow, bool) {
	t.Helper()
	var r recipientRow
	err := e.db.QueryRow("SELECT bcc, deleted, is_read, labels FROM pm_recipients WHERE id_pm = ? AND id_member = ?", msgID, memberID).
		Scan(&r.bcc, &r.deleted, &r.isRead, &r.labels)
	if err != nil {
		return r, false
	}
	return r, true
}

func (e *testEnv) counts(t *testing.T, id int) *user.Member {
	t.Helper()
	m, err := e.members.GetByID(id)
	if err != nil {
		t.Fatalf("get member %d: %v", id, err)
	}
	return m
}

func itoa(n int) string { return strconv.Itoa(n) }
