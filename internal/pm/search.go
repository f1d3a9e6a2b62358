package pm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// SortKey selects the ordering of search results and folder listings.
type SortKey int

const (
	SortDate SortKey = iota
	SortSubject
	SortSender
)

// ParseSortKey maps "date", "subject" and "sender" to a SortKey.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(s) {
	case "", "date", "id_pm":
		return SortDate, nil
	case "subject":
		return SortSubject, nil
	case "sender", "from", "name":
		return SortSender, nil
	}
	return SortDate, fmt.Errorf("unknown sort key %q", s)
}

// SearchParams filters a search over one folder of the actor's mailbox.
type SearchParams struct {
	Folder    Folder
	Users     []int
	UserNames []string
	// Labels restricts inbox results to messages carrying any of these labels.
	Labels      []int
	Since       *time.Time
	Until       *time.Time
	SubjectOnly bool
	SentOnly    bool
	// Query holds words and phrases. All must match unless MatchAny is set.
	Query        []string
	MatchAny     bool
	Sort         SortKey
	Desc         bool
	Page         int
	PerPage      int
	Conversation bool
}

// SearchHit is one result row.
type SearchHit struct {
	Message
	State   ReadState
	Labels  LabelSet
	Snippet string
}

// SearchResult is one page of hits plus the total number of matches.
type SearchResult struct {
	Hits    []SearchHit
	Total   int
	Page    int
	PerPage int
}

// mailboxQuery is the FROM and WHERE part shared by the count and page queries.
type mailboxQuery struct {
	from  string
	where []string
	args  []any
}

func (q *mailboxQuery) add(cond string, args ...any) {
	q.where = append(q.where, cond)
	q.args = append(q.args, args...)
}

func (q *mailboxQuery) sql() string {
	return q.from + " WHERE " + strings.Join(q.where, " AND ")
}

func newMailboxQuery(actor Actor, folder Folder) *mailboxQuery {
	q := &mailboxQuery{}
	if folder == FolderSent {
		q.from = "FROM personal_messages AS pm"
		q.add("pm.id_member_from = ?", actor.ID)
		q.add("pm.deleted_by_sender = 0")
		return q
	}
	q.from = "FROM pm_recipients AS pmr INNER JOIN personal_messages AS pm ON pm.id_pm = pmr.id_pm"
	q.add("pmr.id_member = ?", actor.ID)
	q.add("pmr.deleted = 0")
	return q
}

// sortExpr returns the ORDER BY expression. Grouped queries order threads by
// their newest message.
func sortExpr(key SortKey, desc, grouped bool) string {
	var expr string
	switch key {
	case SortSubject:
		expr = "pm.subject COLLATE NOCASE"
		if grouped {
			expr = "MIN(pm.subject) COLLATE NOCASE"
		}
	case SortSender:
		expr = "pm.from_name COLLATE NOCASE"
		if grouped {
			expr = "MIN(pm.from_name) COLLATE NOCASE"
		}
	default:
		expr = "pm.id_pm"
		if grouped {
			expr = "MAX(pm.id_pm)"
		}
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	tie := ", pm.id_pm" + dir
	if grouped {
		tie = ", MAX(pm.id_pm)" + dir
	}
	return expr + dir + tie
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(word string) string {
	return "%" + likeEscaper.Replace(word) + "%"
}

// Search finds messages in the actor's inbox or sent folder. The total is
// counted separately from the page. In conversation mode each thread is
// reported once, by its newest message the actor can still see.
func (s *Service) Search(actor Actor, p SearchParams) (*SearchResult, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	if p.SentOnly {
		p.Folder = FolderSent
	}
	if p.Folder != FolderSent {
		p.Folder = FolderInbox
	}
	if p.PerPage <= 0 {
		p.PerPage = s.opts.SearchPerPage
	}
	if p.PerPage <= 0 {
		p.PerPage = 30
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if err := ValidateQuery(strings.Join(p.Query, " ")); err != nil {
		return nil, err
	}
	result := &SearchResult{Page: p.Page, PerPage: p.PerPage}

	q := newMailboxQuery(actor, p.Folder)

	users := append([]int(nil), p.Users...)
	if len(p.UserNames) > 0 {
		var names []string
		for _, n := range p.UserNames {
			if n = normalizeName(n); n != "" {
				names = append(names, n)
			}
		}
		resolved, err := s.members.ResolveNames(names)
		if err != nil {
			return nil, fmt.Errorf("resolve search users: %w", err)
		}
		for _, n := range names {
			if id, ok := resolved[n]; ok && id > 0 {
				users = append(users, id)
			}
		}
		if len(users) == 0 {
			return result, nil
		}
	}
	if users = uniqueInts(users); len(users) > 0 {
		in, args := placeholders(users)
		if p.Folder == FolderSent {
			q.add("EXISTS (SELECT 1 FROM pm_recipients AS r WHERE r.id_pm = pm.id_pm AND r.id_member IN ("+in+"))", args...)
		} else {
			q.add("pm.id_member_from IN ("+in+")", args...)
		}
	}

	if p.Folder == FolderInbox && len(p.Labels) > 0 {
		owned, err := s.ownedLabels(actor.ID)
		if err != nil {
			return nil, err
		}
		var conds []string
		var args []any
		for _, id := range uniqueInts(p.Labels) {
			if _, ok := owned[id]; !ok && id != InboxLabel {
				continue
			}
			conds = append(conds, labelMatch("pmr.labels"))
			args = append(args, id)
		}
		if len(conds) == 0 {
			return result, nil
		}
		q.add("("+strings.Join(conds, " OR ")+")", args...)
	}

	if p.Since != nil {
		q.add("pm.msgtime >= ?", p.Since.Unix())
	}
	if p.Until != nil {
		q.add("pm.msgtime <= ?", p.Until.Unix())
	}

	var words []string
	var wordArgs []any
	for _, w := range p.Query {
		if w = strings.TrimSpace(w); w == "" {
			continue
		}
		pat := likePattern(w)
		if p.SubjectOnly {
			words = append(words, `pm.subject LIKE ? ESCAPE '\'`)
			wordArgs = append(wordArgs, pat)
		} else {
			words = append(words, `(pm.subject LIKE ? ESCAPE '\' OR pm.body LIKE ? ESCAPE '\')`)
			wordArgs = append(wordArgs, pat, pat)
		}
	}
	if len(words) > 0 {
		join := " AND "
		if p.MatchAny {
			join = " OR "
		}
		q.add("("+strings.Join(words, join)+")", wordArgs...)
	}

	countExpr := "COUNT(*)"
	if p.Conversation {
		countExpr = "COUNT(DISTINCT pm.id_pm_head)"
	}
	if err := s.db.QueryRow("SELECT "+countExpr+" "+q.sql(), q.args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("count search results: %w", err)
	}
	if result.Total == 0 {
		return result, nil
	}

	ids, err := s.searchPage(actor, q, p)
	if err != nil {
		return nil, err
	}
	hits, err := s.hydrate(actor, p.Folder, ids, p.Query)
	if err != nil {
		return nil, err
	}
	result.Hits = hits
	return result, nil
}

// searchPage returns the message ids of one page, in display order.
func (s *Service) searchPage(actor Actor, q *mailboxQuery, p SearchParams) ([]int, error) {
	offset := (p.Page - 1) * p.PerPage
	args := append(append([]any(nil), q.args...), p.PerPage, offset)

	if !p.Conversation {
		rows, err := s.db.Query("SELECT pm.id_pm "+q.sql()+" ORDER BY "+sortExpr(p.Sort, p.Desc, false)+" LIMIT ? OFFSET ?", args...)
		if err != nil {
			return nil, fmt.Errorf("search messages: %w", err)
		}
		return scanIDs(rows)
	}

	rows, err := s.db.Query("SELECT pm.id_pm_head "+q.sql()+" GROUP BY pm.id_pm_head ORDER BY "+sortExpr(p.Sort, p.Desc, true)+" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	heads, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestVisible(actor, p.Folder, heads)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, h := range heads {
		if id, ok := latest[h]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// latestVisible maps each thread head to the newest message in it that the
// actor still holds in the folder.
func (s *Service) latestVisible(actor Actor, folder Folder, heads []int) (map[int]int, error) {
	latest := make(map[int]int)
	if len(heads) == 0 {
		return latest, nil
	}
	in, args := placeholders(heads)
	args = append(args, actor.ID)
	var query string
	if folder == FolderSent {
		query = `
			SELECT pm.id_pm_head, MAX(pm.id_pm) FROM personal_messages AS pm
			WHERE pm.id_pm_head IN (` + in + `) AND pm.id_member_from = ? AND pm.deleted_by_sender = 0
			GROUP BY pm.id_pm_head`
	} else {
		query = `
			SELECT pm.id_pm_head, MAX(pm.id_pm) FROM personal_messages AS pm
				INNER JOIN pm_recipients AS pmr ON pmr.id_pm = pm.id_pm
			WHERE pm.id_pm_head IN (` + in + `) AND pmr.id_member = ? AND pmr.deleted = 0
			GROUP BY pm.id_pm_head`
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation heads: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var head, id int
		if err := rows.Scan(&head, &id); err != nil {
			return nil, fmt.Errorf("scan conversation head: %w", err)
		}
		latest[head] = id
	}
	return latest, rows.Err()
}

// hydrate loads the messages behind ids, keeping the order of ids.
func (s *Service) hydrate(actor Actor, folder Folder, ids []int, words []string) ([]SearchHit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := placeholders(ids)
	rows, err := s.db.Query(`
		SELECT id_pm, id_pm_head, id_member_from, from_name, subject, body, msgtime
		FROM personal_messages WHERE id_pm IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load search results: %w", err)
	}
	byID := make(map[int]*SearchHit, len(ids))
	for rows.Next() {
		h := &SearchHit{}
		var sent int64
		if err := rows.Scan(&h.ID, &h.Head, &h.SenderID, &h.FromName, &h.Subject, &h.Body, &sent); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		h.SentAt = time.Unix(sent, 0)
		h.Snippet = snippet(h.Body, words)
		byID[h.ID] = h
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load search results: %w", err)
	}

	if folder == FolderInbox {
		args = append([]any{actor.ID}, args...)
		rows, err := s.db.Query("SELECT id_pm, is_read, labels FROM pm_recipients WHERE id_member = ? AND id_pm IN ("+in+")", args...)
		if err != nil {
			return nil, fmt.Errorf("load result states: %w", err)
		}
		for rows.Next() {
			var id int
			var state ReadState
			var raw string
			if err := rows.Scan(&id, &state, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan result state: %w", err)
			}
			if h, ok := byID[id]; ok {
				h.State = state
				h.Labels = ParseLabelSet(raw).Normalize()
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("load result states: %w", err)
		}
	}

	hits := make([]SearchHit, 0, len(ids))
	for _, id := range ids {
		if h, ok := byID[id]; ok {
			hits = append(hits, *h)
		}
	}
	return hits, nil
}

const snippetLen = 120

// snippet returns a single-line excerpt of body around the first matching word.
func snippet(body string, words []string) string {
	runes := []rune(strings.Join(strings.Fields(sanitizeForDisplay(body)), " "))
	start := 0
	for _, w := range words {
		if i := indexFold(runes, []rune(w)); i >= 0 {
			start = i - snippetLen/4
			break
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + snippetLen
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

// indexFold returns the rune index of the first case-insensitive match of
// word in s, or -1.
func indexFold(s, word []rune) int {
	if len(word) == 0 {
		return -1
	}
	for i := 0; i+len(word) <= len(s); i++ {
		match := true
		for k, r := range word {
			if unicode.ToLower(s[i+k]) != unicode.ToLower(r) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ListOptions selects a folder listing.
type ListOptions struct {
	Folder Folder
	// Label limits an inbox listing to one label. Nil lists every message.
	Label        *int
	Conversation bool
	Sort         SortKey
	Desc         bool
	Page         int
	PerPage      int
}

func (o ListOptions) params() SearchParams {
	p := SearchParams{
		Folder:       o.Folder,
		Conversation: o.Conversation,
		Sort:         o.Sort,
		Desc:         o.Desc,
		Page:         o.Page,
		PerPage:      o.PerPage,
	}
	if o.Label != nil && o.Folder != FolderSent {
		p.Labels = []int{*o.Label}
	}
	return p
}

// List returns one page of a folder.
func (s *Service) List(actor Actor, opts ListOptions) (*SearchResult, error) {
	return s.Search(actor, opts.params())
}

// Count returns the number of entries a folder listing holds.
func (s *Service) Count(actor Actor, opts ListOptions) (int, error) {
	p := opts.params()
	p.PerPage = 1
	res, err := s.Search(actor, p)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Operators recognized by ParseSearchQuery.
type queryOperator func(p *SearchParams, value string, now time.Time)

var queryOperators = map[string]queryOperator{
	"from": func(p *SearchParams, v string, _ time.Time) {
		p.UserNames = append(p.UserNames, v)
	},
	"to": func(p *SearchParams, v string, _ time.Time) {
		p.SentOnly = true
		p.UserNames = append(p.UserNames, v)
	},
	"label": addLabelOperator,
	"l":     addLabelOperator,
	"subject": func(p *SearchParams, v string, _ time.Time) {
		p.SubjectOnly = true
		p.Query = append(p.Query, v)
	},
	"before": func(p *SearchParams, v string, _ time.Time) {
		if t := parseDate(v); t != nil {
			p.Until = t
		}
	},
	"after": func(p *SearchParams, v string, _ time.Time) {
		if t := parseDate(v); t != nil {
			p.Since = t
		}
	},
	"older_than": func(p *SearchParams, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			p.Until = t
		}
	},
	"newer_than": func(p *SearchParams, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			p.Since = t
		}
	},
	"in": func(p *SearchParams, v string, _ time.Time) {
		switch strings.ToLower(v) {
		case "sent", "outbox":
			p.SentOnly = true
		case "inbox":
			p.Folder = FolderInbox
		}
	},
}

func addLabelOperator(p *SearchParams, v string, _ time.Time) {
	if strings.EqualFold(v, "inbox") {
		p.Labels = append(p.Labels, InboxLabel)
		return
	}
	if id, err := strconv.Atoi(v); err == nil {
		p.Labels = append(p.Labels, id)
	}
}

// ParseSearchQuery reads a Gmail-style query such as
// `from:alice label:3 after:2024-01-01 "quarterly report"` into SearchParams.
// Unknown operators are searched for as plain text.
func ParseSearchQuery(query string, now time.Time) SearchParams {
	var p SearchParams
	for _, tok := range tokenize(query) {
		if i := strings.Index(tok, ":"); i > 0 {
			op := strings.ToLower(tok[:i])
			value := strings.Trim(tok[i+1:], `"`)
			if fn, ok := queryOperators[op]; ok {
				if value != "" {
					fn(&p, value, now)
				}
				continue
			}
		}
		if w := strings.Trim(tok, `"`); w != "" {
			p.Query = append(p.Query, w)
		}
	}
	return p
}

// tokenize splits on spaces, keeping quoted phrases and op:"quoted value"
// together.
func tokenize(query string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range query {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuotes:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

var dateFormats = []string{"2006-01-02", "2006/01/02", "01/02/2006"}

func parseDate(v string) *time.Time {
	for _, f := range dateFormats {
		if t, err := time.ParseInLocation(f, v, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

var relativeDateRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

func parseRelativeDate(v string, now time.Time) *time.Time {
	m := relativeDateRe.FindStringSubmatch(strings.ToLower(v))
	if m == nil {
		return nil
	}
	n, _ := strconv.Atoi(m[1])
	var t time.Time
	switch m[2] {
	case "d":
		t = now.AddDate(0, 0, -n)
	case "w":
		t = now.AddDate(0, 0, -7*n)
	case "m":
		t = now.AddDate(0, -n, 0)
	case "y":
		t = now.AddDate(-n, 0, 0)
	}
	return &t
}
