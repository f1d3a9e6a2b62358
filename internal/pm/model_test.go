package pm

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLabelSetCodec(t *testing.T) {
	tests := []struct {
		in   string
		want LabelSet
		out  string
	}{
		{"", nil, "-1"},
		{"-1", LabelSet{-1}, "-1"},
		{"5,-1,3,5", LabelSet{-1, 3, 5}, "-1,3,5"},
		{" 7 , x, 2", LabelSet{2, 7}, "2,7"},
	}
	for _, tt := range tests {
		got := ParseLabelSet(tt.in)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("parse %q (-want +got):\n%s", tt.in, diff)
		}
		if got.String() != tt.out {
			t.Fatalf("encode %q: expected %q, got %q", tt.in, tt.out, got.String())
		}
	}

	var empty LabelSet
	if !empty.Contains(InboxLabel) {
		t.Fatal("empty set should contain the inbox")
	}
	if !empty.Equal(LabelSet{InboxLabel}) {
		t.Fatal("empty set should equal the inbox set")
	}
	if got := (LabelSet{-1, 4}).Remove(-1, 4); got != nil {
		t.Fatalf("expected nil after removing everything, got %v", got)
	}
}

func TestCriterionJSON(t *testing.T) {
	criteria := []Criterion{SenderIs(4), SenderInGroup(2), SubjectContains(`say "hi"`), BodyContains("x"), SenderIsBuddy()}
	data, err := json.Marshal(criteria)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got []Criterion
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(criteria, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}

	if err := json.Unmarshal([]byte(`[{"t":"zzz","v":"1"}]`), &got); !errors.Is(err, ErrUnknownCriterion) {
		t.Fatalf("expected ErrUnknownCriterion, got %v", err)
	}
	if err := json.Unmarshal([]byte(`[{"t":"mid","v":"abc"}]`), &got); err == nil {
		t.Fatal("expected bad id to fail")
	}
	if _, err := json.Marshal(Criterion{Kind: 42}); !errors.Is(err, ErrUnknownCriterion) {
		t.Fatalf("expected ErrUnknownCriterion on marshal, got %v", err)
	}
}

func TestActionJSON(t *testing.T) {
	var got []Action
	if err := json.Unmarshal([]byte(`[{"t":"lab","v":"9"},{"t":"del","v":""}]`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff([]Action{ApplyLabel(9), DeleteMessage()}, got); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
	if err := json.Unmarshal([]byte(`[{"t":"move","v":"1"}]`), &got); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestMatchRule(t *testing.T) {
	in := matchInput{SenderID: 5, SenderGroups: []int{2, 4}, Subject: "Invoice #3", Body: "pay up"}
	tests := []struct {
		name     string
		criteria []Criterion
		logic    Logic
		want     bool
	}{
		{"no criteria", nil, LogicAnd, false},
		{"no criteria or", nil, LogicOr, false},
		{"and all", []Criterion{SenderIs(5), SubjectContains("Invoice")}, LogicAnd, true},
		{"and one miss", []Criterion{SenderIs(5), SubjectContains("invoice")}, LogicAnd, false},
		{"or one hit", []Criterion{SenderIs(6), BodyContains("pay")}, LogicOr, true},
		{"or none", []Criterion{SenderIs(6), SenderIsBuddy()}, LogicOr, false},
		{"any group", []Criterion{SenderInGroup(4)}, LogicAnd, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchRule(tt.criteria, tt.logic, in); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestQuotaFor(t *testing.T) {
	limits := map[int]int{2: 0, 3: 50, 4: 100}
	tests := []struct {
		groups []int
		want   int
	}{
		{[]int{3}, 50},
		{[]int{3, 4}, 100},
		{[]int{4, 2}, 0},
		{[]int{99}, 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := quotaFor(tt.groups, limits); got != tt.want {
			t.Fatalf("groups %v: expected %d, got %d", tt.groups, tt.want, got)
		}
	}
}

func TestParseSearchQuery(t *testing.T) {
	now := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	tests := []struct {
		query string
		want  SearchParams
	}{
		{
			`from:alice label:3 after:2024-01-01 "quarterly report" foo:bar`,
			SearchParams{UserNames: []string{"alice"}, Labels: []int{3}, Since: day(2024, 1, 1), Query: []string{"quarterly report", "foo:bar"}},
		},
		{
			`to:bob in:sent subject:"big news"`,
			SearchParams{UserNames: []string{"bob"}, SentOnly: true, SubjectOnly: true, Query: []string{"big news"}},
		},
		{
			`newer_than:2w l:inbox before:05/01/2024`,
			SearchParams{Since: day(2024, 5, 1), Labels: []int{InboxLabel}, Until: day(2024, 5, 1)},
		},
		{
			`older_than:3x label:work`,
			SearchParams{},
		},
		{
			`older_than:1m hello`,
			SearchParams{Until: day(2024, 4, 15), Query: []string{"hello"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseSearchQuery(tt.query, now)); diff != "" {
				t.Fatalf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFolderAndRecipient(t *testing.T) {
	for in, want := range map[string]Folder{"": FolderInbox, "Inbox": FolderInbox, "outbox": FolderSent, "all": FolderAll} {
		got, err := ParseFolder(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %v, got %v (%v)", in, want, got, err)
		}
	}
	if _, err := ParseFolder("trash"); err == nil {
		t.Fatal("expected error for unknown folder")
	}

	if diff := cmp.Diff(RecipientRef{ID: 12}, ParseRecipient(" 12 ")); diff != "" {
		t.Fatalf("numeric recipient (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(RecipientRef{Name: "0"}, ParseRecipient("0")); diff != "" {
		t.Fatalf("zero recipient (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(RecipientRef{Name: "Alice B"}, ParseRecipient("Alice B")); diff != "" {
		t.Fatalf("named recipient (-want +got):\n%s", diff)
	}
}

func TestSnippet(t *testing.T) {
	body := "line one\n\nline   two \x07needle here"
	if got := snippet(body, []string{"NEEDLE"}); got != "line one line two needle here" {
		t.Fatalf("unexpected snippet %q", got)
	}
	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	got := snippet(long+"needle", []string{"needle"})
	if len([]rune(got)) > snippetLen+3 || got[:3] != "..." {
		t.Fatalf("expected leading ellipsis and bounded length, got %q", got)
	}

	// Ⱥ lowercases to a longer UTF-8 sequence.
	wide := strings.Repeat("Ⱥ", 40) + " Invoice due"
	got = snippet(wide, []string{"invoice"})
	if !strings.HasSuffix(got, "Invoice due") || !strings.HasPrefix(got, "...") {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := snippet("ⱥȺ", []string{"ⱥⱥ"}); got != "ⱥȺ" {
		t.Fatalf("expected case-insensitive match, got %q", got)
	}
}
