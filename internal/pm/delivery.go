package pm

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// RecipientRef names a recipient either by member id or by member name.
type RecipientRef struct {
	ID   int
	Name string
}

// ParseRecipient treats numeric input as a member id and anything else as a name.
func ParseRecipient(s string) RecipientRef {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil && id > 0 {
		return RecipientRef{ID: id}
	}
	return RecipientRef{Name: s}
}

// Sender overrides the author of a message, e.g. for system notices. ID 0
// means no member account.
type Sender struct {
	ID       int
	Name     string
	Username string
}

// SendRequest describes a new personal message.
type SendRequest struct {
	To          []RecipientRef
	BCC         []RecipientRef
	Subject     string
	Body        string
	StoreOutbox bool
	// ReplyHead is the thread head of the message being answered, 0 for a new thread.
	ReplyHead int
	// ReplyTo is the message being answered. Its replied bit is set after delivery.
	ReplyTo int
	From    *Sender
}

var nameCleaner = strings.NewReplacer("<", "", ">", "", "&", "", `"`, "", "'", "", "=", "", `\`, "")

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(nameCleaner.Replace(name)))
}

// Send delivers a message to every eligible recipient. Per-recipient
// failures are reported in the log and never abort the send. Validation and
// storage errors are returned as errors.
func (s *Service) Send(ctx context.Context, actor Actor, req SendRequest) (*DeliveryLog, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	sender := Sender{ID: actor.ID, Name: actor.Name, Username: actor.Username}
	if req.From != nil {
		sender = *req.From
		if sender.Username == "" {
			sender.Username = sender.Name
		}
	} else if !actor.AllowedTo(PermSend) {
		return nil, fmt.Errorf("send: %w", ErrNotAllowed)
	}

	subject, err := s.validateMessage(req.Subject, req.Body)
	if err != nil {
		return nil, err
	}
	if len(req.To)+len(req.BCC) == 0 {
		return nil, ErrNoRecipients
	}

	settings, err := s.settings.GetSiteSettings()
	if err != nil {
		return nil, err
	}
	moderator := actor.AllowedTo(PermModerate)
	if req.From == nil && !moderator && settings.PMPostsPerHour > 0 {
		n, err := s.SentWithin(actor, time.Hour)
		if err != nil {
			return nil, err
		}
		if n >= settings.PMPostsPerHour {
			return nil, ErrFloodLimit
		}
	}

	dlog := newDeliveryLog()
	to, bcc, err := s.resolveRecipients(req.To, req.BCC, dlog)
	if err != nil {
		return nil, err
	}
	all := append(append([]int(nil), to...), bcc...)
	if len(all) == 0 {
		return dlog, nil
	}

	senderGroups := actor.Groups
	if req.From != nil {
		senderGroups = nil
		if sender.ID > 0 {
			if senderGroups, err = s.members.MemberGroups(sender.ID); err != nil {
				return nil, fmt.Errorf("load sender groups: %w", err)
			}
		}
	}
	deletes, err := s.deleteOnReceipt(all, sender.ID, senderGroups, subject, req.Body)
	if err != nil {
		return nil, err
	}

	var limits map[int]int
	if !moderator {
		if limits, err = s.members.GroupLimits(); err != nil {
			return nil, fmt.Errorf("load group limits: %w", err)
		}
	}

	profiles, err := s.members.RecipientProfiles(all, sender.ID)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	byID := make(map[int]RecipientProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	notifications := make(map[string][]string)
	var deliver []int
	for _, id := range all {
		p, ok := byID[id]
		if !ok {
			dlog.Failed[id] = ReasonNotFound
			continue
		}
		if deletes[id] {
			dlog.Sent[id] = ReasonSent
			deliver = append(deliver, id)
			continue
		}
		reason, err := s.checkRecipient(actor, sender.ID, p, limits, settings.PermissionEnableDeny, settings.EnableBuddyList, moderator)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			dlog.Failed[id] = reason
			continue
		}

		if p.Email != "" && p.Activation == ActivationActive &&
			(p.NotifyMode == NotifyAlways || (p.NotifyMode > NotifyAlways && settings.EnableBuddyList && p.SenderIsBuddy)) {
			lang := s.opts.DefaultLanguage
			if settings.UserLanguage && p.Language != "" {
				lang = p.Language
			}
			notifications[lang] = append(notifications[lang], p.Email)
		}
		dlog.Sent[id] = ReasonSent
		deliver = append(deliver, id)
	}

	if len(deliver) == 0 {
		return dlog, nil
	}

	id, err := s.storeMessage(sender, req, subject, deliver, bcc, deletes)
	if err != nil {
		return nil, err
	}
	dlog.MessageID = id

	var counted []int
	for _, rid := range deliver {
		if !deletes[rid] {
			counted = append(counted, rid)
		}
	}
	if len(counted) > 0 {
		if err := s.members.BumpReceived(counted); err != nil {
			return dlog, fmt.Errorf("update recipient counters: %w", err)
		}
	}
	if req.StoreOutbox && sender.ID > 0 {
		if err := s.members.BumpSent(sender.ID); err != nil {
			return dlog, fmt.Errorf("update sender counter: %w", err)
		}
	}
	s.invalidate(deliver...)

	if len(notifications) > 0 {
		s.dispatchNotifications(ctx, sender, req, subject, id, deliver, bcc, notifications, settings.DisallowSendBody)
	}

	if req.ReplyTo > 0 && req.From == nil {
		if err := s.SetRepliedStatus(actor, req.ReplyTo); err != nil {
			return dlog, err
		}
	}
	return dlog, nil
}

// resolveRecipients maps names to ids, removes duplicates from to and drops
// bcc entries already present in to.
func (s *Service) resolveRecipients(toRefs, bccRefs []RecipientRef, dlog *DeliveryLog) ([]int, []int, error) {
	var names []string
	for _, ref := range append(append([]RecipientRef(nil), toRefs...), bccRefs...) {
		if ref.ID == 0 {
			if n := normalizeName(ref.Name); n != "" {
				names = append(names, n)
			}
		}
	}
	resolved := map[string]int{}
	if len(names) > 0 {
		var err error
		if resolved, err = s.members.ResolveNames(names); err != nil {
			return nil, nil, fmt.Errorf("resolve recipients: %w", err)
		}
	}

	toIDs := func(refs []RecipientRef) []int {
		var ids []int
		for _, ref := range refs {
			if ref.ID > 0 {
				ids = append(ids, ref.ID)
				continue
			}
			n := normalizeName(ref.Name)
			if n == "" {
				continue
			}
			if id, ok := resolved[n]; ok && id > 0 {
				ids = append(ids, id)
			} else {
				dlog.FailedNames[n] = ReasonNotFound
			}
		}
		return uniqueInts(ids)
	}

	to := toIDs(toRefs)
	var bcc []int
	for _, id := range toIDs(bccRefs) {
		if !containsInt(to, id) {
			bcc = append(bcc, id)
		}
	}
	return to, bcc, nil
}

// deleteOnReceipt returns the recipients whose delete rules match the
// message. Buddy criteria never match here.
func (s *Service) deleteOnReceipt(recipients []int, senderID int, senderGroups []int, subject, body string) (map[int]bool, error) {
	deletes := make(map[int]bool)
	in, args := placeholders(recipients)
	rows, err := s.db.Query("SELECT id_member, criteria, is_or FROM pm_rules WHERE delete_pm = 1 AND id_member IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load delete rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member int
		var raw string
		var isOr bool
		if err := rows.Scan(&member, &raw, &isOr); err != nil {
			return nil, fmt.Errorf("scan delete rule: %w", err)
		}
		criteria, err := decodeCriteria(raw)
		if err != nil {
			log.Printf("pm: skipping delete rule of member %d: %v", member, err)
			continue
		}
		logic := LogicAnd
		if isOr {
			logic = LogicOr
		}
		input := matchInput{
			SenderID:     senderID,
			SenderGroups: senderGroups,
			Subject:      subject,
			Body:         body,
		}
		if matchRule(criteria, logic, input) {
			deletes[member] = true
		}
	}
	return deletes, rows.Err()
}

// checkRecipient returns the failure reason for one candidate, or "".
func (s *Service) checkRecipient(actor Actor, senderID int, p RecipientProfile, limits map[int]int, denyEnabled, buddyList, moderator bool) (string, error) {
	if !containsInt(p.Groups, AdminGroup) {
		if limit := quotaFor(p.Groups, limits); limit > 0 && limit <= p.StoredMessages {
			return ReasonQuotaReached, nil
		}
		ok, err := s.members.GroupsCanRead(p.Groups, denyEnabled)
		if err != nil {
			return "", fmt.Errorf("check read permission: %w", err)
		}
		if !ok {
			return ReasonCannotRead, nil
		}
	}
	if !moderator && p.ID != senderID && ignoresSender(p, buddyList) {
		return ReasonIgnored, nil
	}
	if p.Activation >= ActivationBannedFloor || (p.Activation == ActivationPendingDelete && !actor.IsAdmin()) {
		return ReasonCannotRead, nil
	}
	return "", nil
}

// quotaFor returns the stored-message limit for a set of groups. A group
// with limit 0 lifts the limit entirely, otherwise the largest limit wins.
// Groups without a membergroup row do not count.
func quotaFor(groups []int, limits map[int]int) int {
	limit := -1
	for _, g := range groups {
		l, ok := limits[g]
		if !ok {
			continue
		}
		if l == 0 {
			return 0
		}
		if l > limit {
			limit = l
		}
	}
	if limit < 0 {
		return 0
	}
	return limit
}

func ignoresSender(p RecipientProfile, buddyList bool) bool {
	if p.ReceiveFrom == ReceiveFromAdminsOnly {
		return true
	}
	if !buddyList {
		return false
	}
	switch p.ReceiveFrom {
	case ReceiveFromBuddiesOnly:
		return !p.SenderIsBuddy
	case ReceiveFromNotIgnored:
		return p.SenderIgnored
	}
	return false
}

// storeMessage writes the message row and its recipient rows.
func (s *Service) storeMessage(sender Sender, req SendRequest, subject string, deliver, bcc []int, deletes map[int]bool) (int, error) {
	deletedBySender := 0
	if !req.StoreOutbox {
		deletedBySender = 1
	}
	res, err := s.db.Exec(`
		INSERT INTO personal_messages (id_pm_head, id_member_from, deleted_by_sender, from_name, msgtime, subject, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, req.ReplyHead, sender.ID, deletedBySender, sender.Username, s.now().Unix(), subject, req.Body)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id64, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get message id: %w", err)
	}
	id := int(id64)

	if req.ReplyHead == 0 {
		if _, err := s.db.Exec("UPDATE personal_messages SET id_pm_head = ? WHERE id_pm = ?", id, id); err != nil {
			return id, fmt.Errorf("set thread head: %w", err)
		}
	}

	if _, err := s.db.Exec("DELETE FROM pm_recipients WHERE id_pm = ?", id); err != nil {
		return id, fmt.Errorf("clear recipients: %w", err)
	}

	values := make([]string, 0, len(deliver))
	args := make([]any, 0, len(deliver)*4)
	for _, rid := range deliver {
		values = append(values, "(?, ?, ?, ?, 1, '-1')")
		args = append(args, id, rid, containsInt(bcc, rid), deletes[rid])
	}
	if _, err := s.db.Exec(`
		INSERT INTO pm_recipients (id_pm, id_member, bcc, deleted, is_new, labels)
		VALUES `+strings.Join(values, ", "), args...); err != nil {
		return id, fmt.Errorf("insert recipients: %w", err)
	}
	return id, nil
}

// dispatchNotifications sends one email per language group. Failures are
// logged and never fail the send.
func (s *Service) dispatchNotifications(ctx context.Context, sender Sender, req SendRequest, subject string, id int, deliver, bcc []int, byLang map[string][]string, disallowBody bool) {
	var toList []int
	for _, rid := range deliver {
		if !containsInt(bcc, rid) {
			toList = append(toList, rid)
		}
	}
	var toNames []string
	if len(toList) > 1 {
		names, err := s.members.RealNames(toList)
		if err != nil {
			log.Printf("pm: load recipient names for message %d: %v", id, err)
		}
		for _, rid := range toList {
			if n, ok := names[rid]; ok {
				toNames = append(toNames, n)
			}
		}
	}

	body := req.Body
	template := "new_pm"
	if disallowBody {
		body = ""
	} else {
		template += "_body"
	}
	if len(toNames) > 0 {
		template += "_tolist"
	}

	base := strings.TrimRight(s.opts.SiteURL, "/")
	vars := map[string]string{
		"SUBJECT":   subject,
		"MESSAGE":   body,
		"SENDER":    sender.Name,
		"READLINK":  fmt.Sprintf("%s/index.php?action=pm;pmsg=%d#msg%d", base, id, id),
		"REPLYLINK": fmt.Sprintf("%s/index.php?action=pm;sa=send;f=inbox;pmsg=%d;quote;u=%d", base, id, sender.ID),
		"TOLIST":    strings.Join(toNames, ", "),
	}

	langs := make([]string, 0, len(byLang))
	for lang := range byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, lang := range langs {
		n := Notification{
			Language:  lang,
			FromName:  sender.Name,
			To:        byLang[lang],
			Template:  template,
			Vars:      vars,
			ReplyTo:   "p" + strconv.Itoa(id),
			Priority:  2,
			ThreadRef: req.ReplyHead,
		}
		g.Go(func() error {
			if err := s.notifier.Notify(gctx, n); err != nil {
				log.Printf("pm: notify %d %s recipients of message %d: %v", len(n.To), n.Language, id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SentWithin counts the messages the actor sent during the last d.
func (s *Service) SentWithin(actor Actor, d time.Duration) (int, error) {
	var n int
	since := s.now().Add(-d).Unix()
	err := s.db.QueryRow("SELECT COUNT(*) FROM personal_messages WHERE id_member_from = ? AND msgtime > ?", actor.ID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent messages: %w", err)
	}
	return n, nil
}

// MessageLimit returns how many messages the actor may store. 0 is unlimited.
func (s *Service) MessageLimit(actor Actor) (int, error) {
	if actor.IsAdmin() {
		return 0, nil
	}
	key := msgLimitKey(actor.ID)
	if v, ok := s.cache.Get(key); ok {
		if n, ok := v.(int); ok {
			return n, nil
		}
	}
	limits, err := s.members.GroupLimits()
	if err != nil {
		return 0, fmt.Errorf("load group limits: %w", err)
	}
	limit := quotaFor(actor.Groups, limits)
	s.cache.Put(key, limit, s.opts.LimitCacheTTL)
	return limit, nil
}

// RecipientList names the people a message was sent to.
type RecipientList struct {
	To       []string
	BCC      []string
	BCCCount int
}

// GetRecipients lists the recipients of a message. Blind copies are only
// named for the sender. Anyone who neither sent nor received the message
// gets ErrNotFound.
func (s *Service) GetRecipients(actor Actor, id int) (*RecipientList, error) {
	var from int
	if err := s.db.QueryRow("SELECT id_member_from FROM personal_messages WHERE id_pm = ?", id).Scan(&from); err != nil {
		return nil, fmt.Errorf("get recipients of %d: %w", id, ErrNotFound)
	}

	rows, err := s.db.Query("SELECT id_member, bcc FROM pm_recipients WHERE id_pm = ? ORDER BY id_member", id)
	if err != nil {
		return nil, fmt.Errorf("get recipients of %d: %w", id, err)
	}
	var to, bcc []int
	received := false
	for rows.Next() {
		var member int
		var isBCC bool
		if err := rows.Scan(&member, &isBCC); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if member == actor.ID {
			received = true
		}
		if isBCC {
			bcc = append(bcc, member)
		} else {
			to = append(to, member)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get recipients of %d: %w", id, err)
	}
	if from != actor.ID && !received {
		return nil, fmt.Errorf("get recipients of %d: %w", id, ErrNotFound)
	}

	names, err := s.members.RealNames(append(append([]int(nil), to...), bcc...))
	if err != nil {
		return nil, fmt.Errorf("load recipient names: %w", err)
	}
	list := &RecipientList{BCCCount: len(bcc)}
	for _, m := range to {
		list.To = append(list.To, names[m])
	}
	if from == actor.ID {
		for _, m := range bcc {
			list.BCC = append(list.BCC, names[m])
		}
	}
	return list, nil
}
