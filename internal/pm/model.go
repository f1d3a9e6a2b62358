package pm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// InboxLabel is the reserved label id for unfiled messages. It is never stored
// in pm_labels.
const InboxLabel = -1

// Message is a stored personal message. It never changes after Send.
type Message struct {
	ID       int
	Head     int
	SenderID int // 0 for system-authored messages
	FromName string
	Subject  string
	Body     string
	SentAt   time.Time
}

// ReadState is the per-recipient read bitmask.
type ReadState int

const (
	StateRead    ReadState = 1
	StateReplied ReadState = 2
)

// IsRead reports whether the read bit is set.
func (s ReadState) IsRead() bool { return s&StateRead != 0 }

// IsReplied reports whether the replied bit is set.
func (s ReadState) IsReplied() bool { return s&StateReplied != 0 }

// Recipient is one member's copy of a message.
type Recipient struct {
	MessageID int
	MemberID  int
	BCC       bool
	Deleted   bool
	IsNew     bool
	State     ReadState
	Labels    LabelSet
}

// LabelSet is the set of label ids attached to a recipient row. The zero
// value is the inbox.
type LabelSet []int

// ParseLabelSet decodes the comma separated column form. Unparseable
// entries are skipped.
func ParseLabelSet(s string) LabelSet {
	var set LabelSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		set = set.Add(id)
	}
	return set
}

// Contains reports whether id is in the set. An empty set contains the inbox.
func (ls LabelSet) Contains(id int) bool {
	if len(ls) == 0 {
		return id == InboxLabel
	}
	for _, l := range ls {
		if l == id {
			return true
		}
	}
	return false
}

// Add returns the set with id added.
func (ls LabelSet) Add(id int) LabelSet {
	for _, l := range ls {
		if l == id {
			return ls
		}
	}
	out := append(LabelSet{}, ls...)
	out = append(out, id)
	sort.Ints(out)
	return out
}

// Remove returns the set without the given ids.
func (ls LabelSet) Remove(ids ...int) LabelSet {
	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var out LabelSet
	for _, l := range ls {
		if !drop[l] {
			out = append(out, l)
		}
	}
	return out
}

// Normalize maps the empty set to the inbox sentinel.
func (ls LabelSet) Normalize() LabelSet {
	if len(ls) == 0 {
		return LabelSet{InboxLabel}
	}
	return ls
}

// String encodes the set in column form. The empty set encodes as "-1".
func (ls LabelSet) String() string {
	ls = ls.Normalize()
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}

// Equal reports whether both sets hold the same ids after normalization.
func (ls LabelSet) Equal(other LabelSet) bool {
	a, b := ls.Normalize(), other.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Label is a member-defined label with its counters.
type Label struct {
	ID       int
	MemberID int
	Name     string
	Messages int
	Unread   int
}

// Logic is how a rule combines its criteria.
type Logic int

const (
	LogicAnd Logic = iota
	LogicOr
)

func (l Logic) String() string {
	if l == LogicOr {
		return "or"
	}
	return "and"
}

// CriterionKind tags a rule criterion.
type CriterionKind int

const (
	CritSender CriterionKind = iota + 1
	CritGroup
	CritSubject
	CritBody
	CritBuddy
)

var criterionCodes = map[CriterionKind]string{
	CritSender:  "mid",
	CritGroup:   "gid",
	CritSubject: "sub",
	CritBody:    "msg",
	CritBuddy:   "bud",
}

// Criterion is one condition of a rule. ID is used by sender and group
// criteria, Text by subject and body criteria.
type Criterion struct {
	Kind CriterionKind
	ID   int
	Text string
}

// SenderIs matches messages from one member.
func SenderIs(id int) Criterion { return Criterion{Kind: CritSender, ID: id} }

// SenderInGroup matches messages whose sender belongs to a group.
func SenderInGroup(id int) Criterion { return Criterion{Kind: CritGroup, ID: id} }

// SubjectContains matches a case-sensitive substring of the subject.
func SubjectContains(s string) Criterion { return Criterion{Kind: CritSubject, Text: s} }

// BodyContains matches a case-sensitive substring of the body.
func BodyContains(s string) Criterion { return Criterion{Kind: CritBody, Text: s} }

// SenderIsBuddy matches senders on the rule owner's buddy list.
func SenderIsBuddy() Criterion { return Criterion{Kind: CritBuddy} }

func (c Criterion) String() string {
	code := criterionCodes[c.Kind]
	switch c.Kind {
	case CritSender, CritGroup:
		return fmt.Sprintf("%s=%d", code, c.ID)
	case CritSubject, CritBody:
		return fmt.Sprintf("%s=%q", code, c.Text)
	case CritBuddy:
		return code
	}
	return "unknown"
}

type wireItem struct {
	T string `json:"t"`
	V string `json:"v"`
}

// MarshalJSON encodes the criterion as {"t":code,"v":value}.
func (c Criterion) MarshalJSON() ([]byte, error) {
	code, ok := criterionCodes[c.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownCriterion, c.Kind)
	}
	w := wireItem{T: code}
	switch c.Kind {
	case CritSender, CritGroup:
		w.V = strconv.Itoa(c.ID)
	case CritSubject, CritBody:
		w.V = c.Text
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the stored form and rejects unknown codes.
func (c *Criterion) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	for kind, code := range criterionCodes {
		if code != w.T {
			continue
		}
		*c = Criterion{Kind: kind}
		switch kind {
		case CritSender, CritGroup:
			id, err := strconv.Atoi(w.V)
			if err != nil {
				return fmt.Errorf("criterion %s: bad id %q", code, w.V)
			}
			c.ID = id
		case CritSubject, CritBody:
			c.Text = w.V
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCriterion, w.T)
}

// ActionKind tags a rule action.
type ActionKind int

const (
	ActLabel ActionKind = iota + 1
	ActDelete
)

// Action is what a matching rule does to a message.
type Action struct {
	Kind    ActionKind
	LabelID int
}

// ApplyLabel files the message under a label.
func ApplyLabel(id int) Action { return Action{Kind: ActLabel, LabelID: id} }

// DeleteMessage deletes the message from the owner's inbox.
func DeleteMessage() Action { return Action{Kind: ActDelete} }

func (a Action) String() string {
	if a.Kind == ActDelete {
		return "delete"
	}
	return fmt.Sprintf("label=%d", a.LabelID)
}

// MarshalJSON encodes the action as {"t":"lab","v":id} or {"t":"del"}.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ActLabel:
		return json.Marshal(wireItem{T: "lab", V: strconv.Itoa(a.LabelID)})
	case ActDelete:
		return json.Marshal(wireItem{T: "del"})
	}
	return nil, fmt.Errorf("%w: kind %d", ErrUnknownAction, a.Kind)
}

// UnmarshalJSON decodes the stored form and rejects unknown codes.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.T {
	case "lab":
		id, err := strconv.Atoi(w.V)
		if err != nil {
			return fmt.Errorf("action lab: bad label %q", w.V)
		}
		*a = ApplyLabel(id)
	case "del":
		*a = DeleteMessage()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, w.T)
	}
	return nil
}

// Rule is a member's stored filter.
type Rule struct {
	ID       int
	MemberID int
	Name     string
	Criteria []Criterion
	Logic    Logic
	Actions  []Action
}

// Delete reports whether any action deletes the message.
func (r Rule) Delete() bool {
	for _, a := range r.Actions {
		if a.Kind == ActDelete {
			return true
		}
	}
	return false
}

// LabelIDs returns the labels the rule applies, in action order.
func (r Rule) LabelIDs() []int {
	var ids []int
	for _, a := range r.Actions {
		if a.Kind == ActLabel {
			ids = append(ids, a.LabelID)
		}
	}
	return ids
}

// Permission names checked by the messaging code.
const (
	PermRead     = "pm_read"
	PermSend     = "pm_send"
	PermModerate = "moderate_forum"
)

// AdminGroup is the membergroup whose members bypass every check.
const AdminGroup = 1

// Actor is the member on whose behalf an operation runs.
type Actor struct {
	ID          int
	Name        string // display name
	Username    string
	Groups      []int
	Permissions map[string]bool
}

// NewActor validates and builds an actor.
func NewActor(id int, username, name string, groups []int, perms []string) (Actor, error) {
	if id <= 0 {
		return Actor{}, fmt.Errorf("%w: id %d", ErrInvalidActor, id)
	}
	if strings.TrimSpace(username) == "" {
		return Actor{}, fmt.Errorf("%w: empty username", ErrInvalidActor)
	}
	if name == "" {
		name = username
	}
	a := Actor{
		ID:          id,
		Name:        name,
		Username:    username,
		Groups:      append([]int(nil), groups...),
		Permissions: make(map[string]bool, len(perms)),
	}
	for _, p := range perms {
		a.Permissions[p] = true
	}
	return a, nil
}

// IsAdmin reports membership in the administrator group.
func (a Actor) IsAdmin() bool {
	return containsInt(a.Groups, AdminGroup)
}

// AllowedTo reports whether the actor holds a permission. Admins hold all.
func (a Actor) AllowedTo(perm string) bool {
	return a.IsAdmin() || a.Permissions[perm]
}

func (a Actor) valid() error {
	if a.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidActor, a.ID)
	}
	return nil
}

// Folder selects which side of the mailbox an operation looks at.
type Folder int

const (
	FolderInbox Folder = iota
	FolderSent
	// FolderAll covers both sides. Only deletion accepts it.
	FolderAll
)

func (f Folder) String() string {
	switch f {
	case FolderSent:
		return "sent"
	case FolderAll:
		return "all"
	}
	return "inbox"
}

// ParseFolder maps "inbox"/"sent" to a Folder.
func ParseFolder(s string) (Folder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inbox":
		return FolderInbox, nil
	case "sent", "outbox":
		return FolderSent, nil
	case "all":
		return FolderAll, nil
	}
	return FolderInbox, fmt.Errorf("unknown folder %q", s)
}

// DeliveryLog reports the outcome of Send per recipient.
type DeliveryLog struct {
	MessageID   int
	Sent        map[int]string
	Failed      map[int]string
	FailedNames map[string]string
}

func newDeliveryLog() *DeliveryLog {
	return &DeliveryLog{
		Sent:        make(map[int]string),
		Failed:      make(map[int]string),
		FailedNames: make(map[string]string),
	}
}

// Failure reasons recorded in DeliveryLog.
const (
	ReasonNotFound     = "user not found"
	ReasonQuotaReached = "quota reached"
	ReasonCannotRead   = "cannot read"
	ReasonIgnored      = "ignored by user"
	ReasonSent         = "sent"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNoRecipients     = errors.New("no recipients")
	ErrSubjectEmpty     = errors.New("subject is empty")
	ErrBodyEmpty        = errors.New("message body is empty")
	ErrBodyTooLong      = errors.New("message body too long")
	ErrFloodLimit       = errors.New("too many messages sent in the last hour")
	ErrNotAllowed       = errors.New("not allowed")
	ErrInvalidActor     = errors.New("invalid actor")
	ErrUnknownCriterion = errors.New("unknown rule criterion")
	ErrUnknownAction    = errors.New("unknown rule action")
	ErrRuleNoCriteria   = errors.New("rule has no criteria")
	ErrRuleNoActions    = errors.New("rule has no actions")
)

// ValidationError names the input field that failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func uniqueInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	var out []int
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
