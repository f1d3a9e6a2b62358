package pm

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notepid/twilight_pm/internal/db"
)

// RecipientProfile is what delivery needs to know about one candidate.
type RecipientProfile struct {
	ID             int
	Username       string
	RealName       string
	Email          string
	Language       string
	Groups         []int
	Activation     int
	NotifyMode     int
	ReceiveFrom    int
	StoredMessages int
	// SenderIgnored is true when the sender is on the member's ignore list.
	SenderIgnored bool
	// SenderIsBuddy is true when the sender is on the member's buddy list.
	SenderIsBuddy bool
}

// Activation states of a member account.
const (
	ActivationActive        = 1
	ActivationPendingDelete = 4
	ActivationBannedFloor   = 10
)

// Values of a member's receive_from setting.
const (
	ReceiveFromEveryone    = 0
	ReceiveFromNotIgnored  = 1
	ReceiveFromBuddiesOnly = 2
	ReceiveFromAdminsOnly  = 3
)

// Values of a member's pm_email_notify setting.
const (
	NotifyNever       = 0
	NotifyAlways      = 1
	NotifyBuddiesOnly = 2
)

// Directory is the read-mostly member store the messaging code consults.
type Directory interface {
	ResolveNames(names []string) (map[string]int, error)
	RecipientProfiles(ids []int, senderID int) ([]RecipientProfile, error)
	GroupLimits() (map[int]int, error)
	GroupsCanRead(groups []int, denyEnabled bool) (bool, error)
	MemberGroups(id int) ([]int, error)
	BuddyList(id int) ([]int, error)
	RealNames(ids []int) (map[int]string, error)
	RemovesInboxLabel(id int) (bool, error)

	BumpReceived(ids []int) error
	BumpSent(id int) error
	ReduceCounts(id, total, unread int) error
	ResetCounts(id int) error
	SetUnreadTotal(id, n int) error
	HasNewPM(id int) (bool, error)
	ClearNewPM(id int) error
}

// SettingsStore provides the forum-wide switches.
type SettingsStore interface {
	GetSiteSettings() (*db.SiteSettings, error)
}

// Cache stores counters between requests.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, value any, ttl time.Duration)
	Delete(key string)
}

// Notification is one language group's new-message email.
type Notification struct {
	Language  string
	To        []string
	Template  string
	Vars      map[string]string
	FromName  string
	ReplyTo   string
	HTML      bool
	Priority  int
	ThreadRef int
}

// Notifier delivers new-message notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Options are the tunables of a Service.
type Options struct {
	LabelCacheTTL   time.Duration
	LimitCacheTTL   time.Duration
	MaxLabelSetLen  int
	MaxSubjectLen   int
	MaxBodyLen      int
	SearchPerPage   int
	SiteURL         string
	DefaultLanguage string
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		LabelCacheTTL:   720 * time.Second,
		LimitCacheTTL:   360 * time.Second,
		MaxLabelSetLen:  60,
		MaxSubjectLen:   100,
		MaxBodyLen:      65534,
		SearchPerPage:   30,
		SiteURL:         "http://localhost",
		DefaultLanguage: "en",
	}
}

// Service implements personal messaging on top of the shared database.
type Service struct {
	db       *sql.DB
	members  Directory
	settings SettingsStore
	cache    Cache
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// NewService creates a messaging service.
func NewService(sqlDB *sql.DB, members Directory, settings SettingsStore, cache Cache, notifier Notifier, opts Options) *Service {
	return &Service{
		db:       sqlDB,
		members:  members,
		settings: settings,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func labelCountsKey(memberID int) string { return "labelCounts__" + strconv.Itoa(memberID) }
func msgLimitKey(memberID int) string    { return "msgLimit__" + strconv.Itoa(memberID) }

// invalidate drops the cached label counters of the given members.
func (s *Service) invalidate(memberIDs ...int) {
	for _, id := range memberIDs {
		s.cache.Delete(labelCountsKey(id))
	}
}

// placeholders returns "?, ?, ?" and the args for an IN clause.
func placeholders(ids []int) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

// labelMatch returns a SQL fragment matching a label id inside a labels column.
func labelMatch(column string) string {
	return "(',' || " + column + " || ',') LIKE ('%,' || ? || ',%')"
}

func (s *Service) exec(query string, args ...any) (int64, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// scanIDs reads a single integer column and closes rows.
func scanIDs(rows *sql.Rows) ([]int, error) {
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
