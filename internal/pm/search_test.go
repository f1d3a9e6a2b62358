package pm_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/notepid/twilight_pm/internal/pm"
)

func hitIDs(res *pm.SearchResult) []int {
	var ids []int
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestSearchWordsAndSenders(t *testing.T) {
	e := newEnv(t)
	alice := e.member(t, "alice", 0)
	bob := e.member(t, "bob", 0)
	a := e.member(t, "a", 0)
	report := e.send(t, alice, "Quarterly report", "numbers are up", a).MessageID
	lunch := e.send(t, bob, "Lunch", "the report can wait", a).MessageID
	e.send(t, bob, "Misc", "100% unrelated", a)

	tests := []struct {
		name string
		p    pm.SearchParams
		want []int
	}{
		{"word in subject or body", pm.SearchParams{Query: []string{"REPORT"}}, []int{report, lunch}},
		{"subject only", pm.SearchParams{Query: []string{"report"}, SubjectOnly: true}, []int{report}},
		{"all words", pm.SearchParams{Query: []string{"report", "wait"}}, []int{lunch}},
		{"any word", pm.SearchParams{Query: []string{"numbers", "wait"}, MatchAny: true}, []int{report, lunch}},
		{"by sender name", pm.SearchParams{UserNames: []string{"Alice"}}, []int{report}},
		{"by sender id", pm.SearchParams{Users: []int{bob.ID}, Query: []string{"report"}}, []int{lunch}},
		{"unknown sender", pm.SearchParams{UserNames: []string{"nobody"}}, nil},
		{"literal percent", pm.SearchParams{Query: []string{"1%u"}}, nil},
		{"newest first", pm.SearchParams{Query: []string{"report"}, Desc: true}, []int{lunch, report}},
		{"by subject", pm.SearchParams{Query: []string{"report"}, Sort: pm.SortSubject}, []int{lunch, report}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.svc.Search(a, tt.p)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if diff := cmp.Diff(tt.want, hitIDs(res)); diff != "" {
				t.Fatalf("hits mismatch (-want +got):\n%s", diff)
			}
			if res.Total != len(tt.want) {
				t.Fatalf("expected total %d, got %d", len(tt.want), res.Total)
			}
		})
	}
}

func TestSearchNonASCII(t *testing.T) {
	e := newEnv(t)
	asa := e.member(t, "Åsa", 0)
	a := e.member(t, "a", 0)
	id := e.send(t, asa, "Faktura", strings.Repeat("Ⱥ", 8)+" invoice", a).MessageID

	res, err := e.svc.Search(a, pm.SearchParams{Query: []string{"invoice"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if diff := cmp.Diff([]int{id}, hitIDs(res)); diff != "" {
		t.Fatalf("hits mismatch (-want +got):\n%s", diff)
	}
	if want := strings.Repeat("Ⱥ", 8) + " invoice"; res.Hits[0].Snippet != want {
		t.Fatalf("expected snippet %q, got %q", want, res.Hits[0].Snippet)
	}

	res, err = e.svc.Search(a, pm.SearchParams{UserNames: []string{"ÅSA"}})
	if err != nil {
		t.Fatalf("search by name: %v", err)
	}
	if diff := cmp.Diff([]int{id}, hitIDs(res)); diff != "" {
		t.Fatalf("sender hits mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchLabelsAndDates(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	other := e.member(t, "other", 0)
	ids, _ := e.svc.AddLabels(a, []string{"work"})
	foreign, _ := e.svc.AddLabels(other, []string{"x"})

	old := e.send(t, u, "old", "b", a).MessageID
	e.now = e.now.Add(48 * time.Hour)
	recent := e.send(t, u, "recent", "b", a).MessageID
	e.svc.ChangePMLabels(a, []pm.LabelChange{{MessageID: recent, LabelID: ids[0], Op: pm.LabelAdd}})

	res, _ := e.svc.Search(a, pm.SearchParams{Labels: []int{ids[0]}})
	if diff := cmp.Diff([]int{recent}, hitIDs(res)); diff != "" {
		t.Fatalf("label hits (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pm.LabelSet{-1, ids[0]}, res.Hits[0].Labels); diff != "" {
		t.Fatalf("hit labels (-want +got):\n%s", diff)
	}
	res, _ = e.svc.Search(a, pm.SearchParams{Labels: []int{foreign[0]}})
	if res.Total != 0 {
		t.Fatalf("foreign label must match nothing, got %d", res.Total)
	}

	since := e.now.Add(-24 * time.Hour)
	res, _ = e.svc.Search(a, pm.SearchParams{Since: &since})
	if diff := cmp.Diff([]int{recent}, hitIDs(res)); diff != "" {
		t.Fatalf("since hits (-want +got):\n%s", diff)
	}
	res, _ = e.svc.Search(a, pm.SearchParams{Until: &since})
	if diff := cmp.Diff([]int{old}, hitIDs(res)); diff != "" {
		t.Fatalf("until hits (-want +got):\n%s", diff)
	}
}

func TestSearchSentFolder(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	b := e.member(t, "b", 0)
	toA := e.send(t, u, "for a", "x", a).MessageID
	e.send(t, u, "for b", "x", b)
	e.send(t, a, "from a", "x", u)

	res, err := e.svc.Search(u, pm.SearchParams{SentOnly: true, UserNames: []string{"a"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if diff := cmp.Diff([]int{toA}, hitIDs(res)); diff != "" {
		t.Fatalf("sent hits (-want +got):\n%s", diff)
	}
	if res.Hits[0].Labels != nil {
		t.Fatalf("sent hits carry no labels, got %v", res.Hits[0].Labels)
	}
}

func TestSearchConversations(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	first, reply := e.thread(t, u, a)
	single := e.send(t, u, "Other", "?", a).MessageID

	res, err := e.svc.Search(u, pm.SearchParams{Conversation: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 1 || !cmp.Equal([]int{reply}, hitIDs(res)) {
		t.Fatalf("expected the reply for u, got total %d hits %v", res.Total, hitIDs(res))
	}

	res, _ = e.svc.Search(a, pm.SearchParams{Conversation: true, Desc: true})
	if res.Total != 2 {
		t.Fatalf("expected 2 threads for a, got %d", res.Total)
	}
	if diff := cmp.Diff([]int{single, first}, hitIDs(res)); diff != "" {
		t.Fatalf("thread hits (-want +got):\n%s", diff)
	}
}

func TestListAndCount(t *testing.T) {
	e := newEnv(t)
	u := e.member(t, "u", 0)
	a := e.member(t, "a", 0)
	var sent []int
	for i := 0; i < 5; i++ {
		sent = append(sent, e.send(t, u, "msg "+itoa(i), "b", a).MessageID)
	}

	res, err := e.svc.List(a, pm.ListOptions{Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(sent[2:4], hitIDs(res)); diff != "" {
		t.Fatalf("page 2 (-want +got):\n%s", diff)
	}
	if res.Total != 5 || res.Page != 2 || res.PerPage != 2 {
		t.Fatalf("unexpected paging: %+v", res)
	}
	if res.Hits[0].State.IsRead() {
		t.Fatal("listing must not mark messages read")
	}

	inbox := pm.InboxLabel
	n, err := e.svc.Count(a, pm.ListOptions{Label: &inbox})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5, got %d", n)
	}
	if n, _ := e.svc.Count(u, pm.ListOptions{Folder: pm.FolderSent}); n != 5 {
		t.Fatalf("expected 5 sent, got %d", n)
	}
}
