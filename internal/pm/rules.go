package pm

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Scope selects which messages ApplyRules looks at.
type Scope int

const (
	ScopeUnread Scope = iota
	ScopeAll
)

// ApplyResult summarises one ApplyRules run.
type ApplyResult struct {
	Scanned   int
	Labelled  int
	Deleted   int
	Truncated int
}

type matchInput struct {
	SenderID      int
	SenderGroups  []int
	Subject       string
	Body          string
	SenderIsBuddy bool
}

func matchCriterion(c Criterion, in matchInput) bool {
	switch c.Kind {
	case CritSender:
		return c.ID == in.SenderID
	case CritGroup:
		return containsInt(in.SenderGroups, c.ID)
	case CritSubject:
		return strings.Contains(in.Subject, c.Text)
	case CritBody:
		return strings.Contains(in.Body, c.Text)
	case CritBuddy:
		return in.SenderIsBuddy
	}
	return false
}

// matchRule evaluates criteria in order. AND stops at the first miss, OR at
// the first hit. A rule without criteria never matches.
func matchRule(criteria []Criterion, logic Logic, in matchInput) bool {
	if len(criteria) == 0 {
		return false
	}
	for _, c := range criteria {
		ok := matchCriterion(c, in)
		if logic == LogicOr && ok {
			return true
		}
		if logic == LogicAnd && !ok {
			return false
		}
	}
	return logic == LogicAnd
}

func decodeCriteria(raw string) ([]Criterion, error) {
	var criteria []Criterion
	if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
		return nil, fmt.Errorf("decode criteria: %w", err)
	}
	return criteria, nil
}

func decodeActions(raw string) ([]Action, error) {
	var actions []Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return actions, nil
}

// LoadRules returns the actor's rules in stored order. Rules that no longer
// decode are skipped and logged.
func (s *Service) LoadRules(actor Actor) ([]Rule, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT id_rule, rule_name, criteria, actions, delete_pm, is_or
		FROM pm_rules WHERE id_member = ? ORDER BY id_rule
	`, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		r := Rule{MemberID: actor.ID}
		var criteria, actions string
		var deletePM, isOr bool
		if err := rows.Scan(&r.ID, &r.Name, &criteria, &actions, &deletePM, &isOr); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if r.Criteria, err = decodeCriteria(criteria); err != nil {
			log.Printf("pm: rule %d of member %d: %v", r.ID, actor.ID, err)
			continue
		}
		if r.Actions, err = decodeActions(actions); err != nil {
			log.Printf("pm: rule %d of member %d: %v", r.ID, actor.ID, err)
			continue
		}
		if deletePM && !r.Delete() {
			r.Actions = append(r.Actions, DeleteMessage())
		}
		if isOr {
			r.Logic = LogicOr
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// validateRule checks the rule and drops label actions for labels the actor
// does not own.
func (s *Service) validateRule(actor Actor, r *Rule) error {
	if err := ValidateRuleName(r.Name); err != nil {
		return err
	}
	if len(r.Criteria) == 0 {
		return ErrRuleNoCriteria
	}
	for _, c := range r.Criteria {
		if _, ok := criterionCodes[c.Kind]; !ok {
			return fmt.Errorf("%w: kind %d", ErrUnknownCriterion, c.Kind)
		}
		if (c.Kind == CritSubject || c.Kind == CritBody) && c.Text == "" {
			return &ValidationError{Field: "criteria", Err: fmt.Errorf("%s needs a value", c)}
		}
	}
	owned, err := s.ownedLabels(actor.ID)
	if err != nil {
		return err
	}
	var actions []Action
	for _, a := range r.Actions {
		switch a.Kind {
		case ActDelete:
			actions = append(actions, a)
		case ActLabel:
			if _, ok := owned[a.LabelID]; ok {
				actions = append(actions, a)
			}
		default:
			return fmt.Errorf("%w: kind %d", ErrUnknownAction, a.Kind)
		}
	}
	if len(actions) == 0 {
		return ErrRuleNoActions
	}
	r.Actions = actions
	return nil
}

// AddRule stores a new rule for the actor and returns its id.
func (s *Service) AddRule(actor Actor, r Rule) (int, error) {
	if err := actor.valid(); err != nil {
		return 0, err
	}
	if err := s.validateRule(actor, &r); err != nil {
		return 0, err
	}
	criteria, err := json.Marshal(r.Criteria)
	if err != nil {
		return 0, fmt.Errorf("encode criteria: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return 0, fmt.Errorf("encode actions: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO pm_rules (id_member, rule_name, criteria, actions, delete_pm, is_or)
		VALUES (?, ?, ?, ?, ?, ?)
	`, actor.ID, r.Name, string(criteria), string(actions), r.Delete(), r.Logic == LogicOr)
	if err != nil {
		return 0, fmt.Errorf("add rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get rule id: %w", err)
	}
	return int(id), nil
}

// UpdateRule replaces an existing rule of the actor. Rules owned by someone
// else are left alone.
func (s *Service) UpdateRule(actor Actor, r Rule) error {
	if err := s.validateRule(actor, &r); err != nil {
		return err
	}
	criteria, err := json.Marshal(r.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE pm_rules SET rule_name = ?, criteria = ?, actions = ?, delete_pm = ?, is_or = ?
		WHERE id_rule = ? AND id_member = ?
	`, r.Name, string(criteria), string(actions), r.Delete(), r.Logic == LogicOr, r.ID, actor.ID)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	return nil
}

// UpdateRuleActions replaces the actions of one rule.
func (s *Service) UpdateRuleActions(actor Actor, id int, actions []Action) error {
	if err := actor.valid(); err != nil {
		return err
	}
	encoded, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	del := Rule{Actions: actions}.Delete()
	if _, err := s.db.Exec("UPDATE pm_rules SET actions = ?, delete_pm = ? WHERE id_rule = ? AND id_member = ?", string(encoded), del, id, actor.ID); err != nil {
		return fmt.Errorf("update actions of rule %d: %w", id, err)
	}
	return nil
}

// DeleteRules removes rules of the actor.
func (s *Service) DeleteRules(actor Actor, ids []int) error {
	ids = uniqueInts(ids)
	if len(ids) == 0 {
		return nil
	}
	in, args := placeholders(ids)
	args = append([]any{actor.ID}, args...)
	if _, err := s.db.Exec("DELETE FROM pm_rules WHERE id_member = ? AND id_rule IN ("+in+")", args...); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	return nil
}

// decoupleLabelsFromRules drops actions that apply any of the given labels.
// A rule left with no actions is deleted.
func (s *Service) decoupleLabelsFromRules(actor Actor, labelIDs []int) error {
	rules, err := s.LoadRules(actor)
	if err != nil {
		return err
	}
	var remove []int
	for _, r := range rules {
		var kept []Action
		changed := false
		for _, a := range r.Actions {
			if a.Kind == ActLabel && containsInt(labelIDs, a.LabelID) {
				changed = true
				continue
			}
			kept = append(kept, a)
		}
		if !changed {
			continue
		}
		if len(kept) == 0 {
			remove = append(remove, r.ID)
			continue
		}
		if err := s.UpdateRuleActions(actor, r.ID, kept); err != nil {
			return err
		}
	}
	return s.DeleteRules(actor, remove)
}

type candidate struct {
	id       int
	senderID int
	subject  string
	body     string
	labels   LabelSet
}

// ApplyRules runs the actor's rules over their mailbox. Every matching rule
// contributes its actions. A delete beats any label for the same message.
// Running it twice in a row changes nothing the second time.
func (s *Service) ApplyRules(actor Actor, scope Scope) (ApplyResult, error) {
	var result ApplyResult
	rules, err := s.LoadRules(actor)
	if err != nil {
		return result, err
	}
	if len(rules) == 0 {
		return result, nil
	}

	query := `
		SELECT pmr.id_pm, pm.id_member_from, pm.subject, pm.body, pmr.labels
		FROM pm_recipients AS pmr
			INNER JOIN personal_messages AS pm ON pm.id_pm = pmr.id_pm
		WHERE pmr.id_member = ? AND pmr.deleted = 0`
	if scope == ScopeUnread {
		query += " AND (pmr.is_read & 1) = 0"
	}
	rows, err := s.db.Query(query+" ORDER BY pmr.id_pm", actor.ID)
	if err != nil {
		return result, fmt.Errorf("load rule candidates: %w", err)
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var raw string
		if err := rows.Scan(&c.id, &c.senderID, &c.subject, &c.body, &raw); err != nil {
			rows.Close()
			return result, fmt.Errorf("scan rule candidate: %w", err)
		}
		c.labels = ParseLabelSet(raw)
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("load rule candidates: %w", err)
	}
	result.Scanned = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	buddies, err := s.members.BuddyList(actor.ID)
	if err != nil {
		return result, fmt.Errorf("load buddy list: %w", err)
	}
	owned, err := s.ownedLabels(actor.ID)
	if err != nil {
		return result, err
	}
	dropInbox, err := s.members.RemovesInboxLabel(actor.ID)
	if err != nil {
		return result, fmt.Errorf("load label preference: %w", err)
	}

	groupsOf := make(map[int][]int)
	var deletes []int
	updates := make(map[int]LabelSet)
	for _, c := range candidates {
		groups, ok := groupsOf[c.senderID]
		if !ok && c.senderID > 0 {
			if groups, err = s.members.MemberGroups(c.senderID); err != nil {
				return result, fmt.Errorf("load sender groups: %w", err)
			}
			groupsOf[c.senderID] = groups
		}
		input := matchInput{
			SenderID:      c.senderID,
			SenderGroups:  groups,
			Subject:       c.subject,
			Body:          c.body,
			SenderIsBuddy: c.senderID > 0 && containsInt(buddies, c.senderID),
		}

		del := false
		var add []int
		for _, r := range rules {
			if !matchRule(r.Criteria, r.Logic, input) {
				continue
			}
			if r.Delete() {
				del = true
				break
			}
			add = append(add, r.LabelIDs()...)
		}
		if del {
			deletes = append(deletes, c.id)
			continue
		}
		if len(add) == 0 {
			continue
		}

		next := c.labels
		for _, id := range add {
			if _, ok := owned[id]; ok {
				next = next.Add(id)
			}
		}
		if dropInbox && len(next.Remove(InboxLabel)) > 0 {
			next = next.Remove(InboxLabel)
		}
		if !next.Equal(c.labels) {
			updates[c.id] = next.Normalize()
		}
	}

	if len(deletes) > 0 {
		if err := s.DeleteMessages(actor, deletes, FolderInbox); err != nil {
			return result, err
		}
		result.Deleted = len(deletes)
	}
	if len(updates) > 0 {
		truncated, err := s.updatePMLabels(actor.ID, updates)
		result.Truncated = truncated
		if err != nil {
			return result, err
		}
		result.Labelled = len(updates)
		s.invalidate(actor.ID)
	}
	return result, nil
}

// EnterMailbox is run when the actor opens their messages. New mail is put
// through the rules and stops being new. It returns fresh label counts.
func (s *Service) EnterMailbox(actor Actor) ([]Label, error) {
	if err := actor.valid(); err != nil {
		return nil, err
	}
	hasNew, err := s.members.HasNewPM(actor.ID)
	if err != nil {
		return nil, fmt.Errorf("check new messages: %w", err)
	}
	if hasNew {
		if _, err := s.ApplyRules(actor, ScopeUnread); err != nil {
			return nil, err
		}
		if err := s.members.ClearNewPM(actor.ID); err != nil {
			return nil, fmt.Errorf("clear new flag: %w", err)
		}
		if _, err := s.db.Exec("UPDATE pm_recipients SET is_new = 0 WHERE id_member = ? AND is_new = 1", actor.ID); err != nil {
			return nil, fmt.Errorf("toggle new messages: %w", err)
		}
	}
	return s.CountLabels(actor, hasNew)
}
