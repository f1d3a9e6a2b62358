package scripting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/twilight_pm/internal/pm"
)

// NameResolver maps member names to ids.
type NameResolver interface {
	ResolveNames(names []string) (map[string]int, error)
}

// PMAPI exposes the personal message mailbox to Lua.
type PMAPI struct {
	svc     *pm.Service
	members NameResolver
	actor   func() (pm.Actor, error)
	ctx     context.Context
	now     func() time.Time
}

// NewPMAPI creates a Lua messaging API acting for whoever actor returns.
func NewPMAPI(svc *pm.Service, members NameResolver, actor func() (pm.Actor, error)) *PMAPI {
	return &PMAPI{svc: svc, members: members, actor: actor, ctx: context.Background(), now: time.Now}
}

// Register installs messaging functions in the Lua state.
func (api *PMAPI) Register(L *lua.LState) {
	mod := L.NewTable()

	mod.RawSetString("send", L.NewFunction(api.luaSend))
	mod.RawSetString("list", L.NewFunction(api.luaList))
	mod.RawSetString("read", L.NewFunction(api.luaRead))
	mod.RawSetString("recipients", L.NewFunction(api.luaRecipients))
	mod.RawSetString("conversation", L.NewFunction(api.luaConversation))
	mod.RawSetString("search", L.NewFunction(api.luaSearch))
	mod.RawSetString("labels", L.NewFunction(api.luaLabels))
	mod.RawSetString("add_label", L.NewFunction(api.luaAddLabel))
	mod.RawSetString("rename_label", L.NewFunction(api.luaRenameLabel))
	mod.RawSetString("delete_label", L.NewFunction(api.luaDeleteLabel))
	mod.RawSetString("label", L.NewFunction(api.luaLabel))
	mod.RawSetString("mark_read", L.NewFunction(api.luaMarkRead))
	mod.RawSetString("mark_unread", L.NewFunction(api.luaMarkUnread))
	mod.RawSetString("delete", L.NewFunction(api.luaDelete))
	mod.RawSetString("prune", L.NewFunction(api.luaPrune))
	mod.RawSetString("rules", L.NewFunction(api.luaRules))
	mod.RawSetString("add_rule", L.NewFunction(api.luaAddRule))
	mod.RawSetString("delete_rule", L.NewFunction(api.luaDeleteRule))
	mod.RawSetString("apply_rules", L.NewFunction(api.luaApplyRules))
	mod.RawSetString("enter", L.NewFunction(api.luaEnter))

	L.SetGlobal("pm", mod)
}

// pushError pushes nil and an error string.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// pushResult pushes a result and a nil error.
func pushResult(L *lua.LState, v lua.LValue) int {
	L.Push(v)
	L.Push(lua.LNil)
	return 2
}

// recipients reads "a, b", a single id, or a list of names and ids.
func recipients(v lua.LValue) []pm.RecipientRef {
	var refs []pm.RecipientRef
	switch v := v.(type) {
	case lua.LString:
		for _, part := range strings.Split(string(v), ",") {
			if part = strings.TrimSpace(part); part != "" {
				refs = append(refs, pm.ParseRecipient(part))
			}
		}
	case lua.LNumber:
		refs = append(refs, pm.RecipientRef{ID: int(v)})
	case *lua.LTable:
		v.ForEach(func(_, item lua.LValue) {
			refs = append(refs, recipients(item)...)
		})
	}
	return refs
}

// intList reads a single number or a list of numbers. nil stays nil.
func intList(v lua.LValue) []int {
	switch v := v.(type) {
	case lua.LNumber:
		return []int{int(v)}
	case *lua.LTable:
		ids := []int{}
		v.ForEach(func(_, item lua.LValue) {
			if n, ok := item.(lua.LNumber); ok {
				ids = append(ids, int(n))
			}
		})
		return ids
	}
	return nil
}

func folderArg(L *lua.LState, n int) (pm.Folder, error) {
	return pm.ParseFolder(L.OptString(n, "inbox"))
}

// luaSend: pm.send(to, subject, body [, {bcc=, reply_to=, head=, outbox=}])
func (api *PMAPI) luaSend(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	req := pm.SendRequest{
		To:          recipients(L.CheckAny(1)),
		Subject:     L.CheckString(2),
		Body:        L.CheckString(3),
		StoreOutbox: true,
	}
	if opts := L.OptTable(4, nil); opts != nil {
		req.BCC = recipients(opts.RawGetString("bcc"))
		if n, ok := opts.RawGetString("reply_to").(lua.LNumber); ok {
			req.ReplyTo = int(n)
		}
		if n, ok := opts.RawGetString("head").(lua.LNumber); ok {
			req.ReplyHead = int(n)
		}
		if b, ok := opts.RawGetString("outbox").(lua.LBool); ok {
			req.StoreOutbox = bool(b)
		}
	}
	if req.ReplyTo > 0 && req.ReplyHead == 0 {
		heads, err := api.svc.GetDiscussions([]int{req.ReplyTo})
		if err != nil {
			return pushError(L, err)
		}
		req.ReplyHead = heads[req.ReplyTo]
	}

	dlog, err := api.svc.Send(api.ctx, actor, req)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, api.deliveryToTable(L, dlog))
}

// luaList: pm.list([folder [, label [, page]]])
func (api *PMAPI) luaList(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	folder, err := folderArg(L, 1)
	if err != nil {
		return pushError(L, err)
	}
	opts := pm.ListOptions{Folder: folder, Page: L.OptInt(3, 1), Desc: true}
	if n, ok := L.Get(2).(lua.LNumber); ok {
		label := int(n)
		opts.Label = &label
	}
	res, err := api.svc.List(actor, opts)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, api.resultToTable(L, res))
}

// luaRead: pm.read(id)
func (api *PMAPI) luaRead(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	m, err := api.svc.Read(actor, L.CheckInt(1))
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, api.messageToTable(L, m, true))
}

// luaRecipients: pm.recipients(id) lists To and, for the sender, BCC names.
func (api *PMAPI) luaRecipients(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	list, err := api.svc.GetRecipients(actor, L.CheckInt(1))
	if err != nil {
		return pushError(L, err)
	}
	tbl := L.NewTable()
	tbl.RawSetString("to", stringsToTable(L, list.To))
	tbl.RawSetString("bcc", stringsToTable(L, list.BCC))
	return pushResult(L, tbl)
}

// luaConversation: pm.conversation(head [, folder])
func (api *PMAPI) luaConversation(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	folder, err := folderArg(L, 2)
	if err != nil {
		return pushError(L, err)
	}
	entries, err := api.svc.LoadConversation(actor, L.CheckInt(1), folder)
	if err != nil {
		return pushError(L, err)
	}
	tbl := L.NewTable()
	for i, e := range entries {
		et := L.NewTable()
		et.RawSetString("id", lua.LNumber(e.MessageID))
		et.RawSetString("from_id", lua.LNumber(e.SenderID))
		tbl.RawSetInt(i+1, et)
	}
	return pushResult(L, tbl)
}

// luaSearch: pm.search(query [, page])
func (api *PMAPI) luaSearch(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	p := pm.ParseSearchQuery(L.CheckString(1), api.now())
	p.Page = L.OptInt(2, 1)
	p.Desc = true
	res, err := api.svc.Search(actor, p)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, api.resultToTable(L, res))
}

// luaLabels: pm.labels() returns labels with their counters.
func (api *PMAPI) luaLabels(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	labels, err := api.svc.CountLabels(actor, false)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, labelsToTable(L, labels))
}

func (api *PMAPI) luaAddLabel(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	ids, err := api.svc.AddLabels(actor, []string{L.CheckString(1)})
	if err != nil {
		return pushError(L, err)
	}
	if len(ids) == 0 {
		return pushResult(L, lua.LNil)
	}
	return pushResult(L, lua.LNumber(ids[0]))
}

func (api *PMAPI) luaRenameLabel(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	if err := api.svc.UpdateLabels(actor, map[int]string{L.CheckInt(1): L.CheckString(2)}); err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LTrue)
}

func (api *PMAPI) luaDeleteLabel(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	n, err := api.svc.DeleteLabels(actor, intList(L.CheckAny(1)))
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LNumber(n))
}

var labelOps = map[string]pm.LabelOp{
	"add":    pm.LabelAdd,
	"remove": pm.LabelRemove,
	"toggle": pm.LabelToggle,
}

// luaLabel: pm.label(ids, label [, "add"|"remove"|"toggle"])
func (api *PMAPI) luaLabel(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	ids := intList(L.CheckAny(1))
	label := L.CheckInt(2)
	op, found := labelOps[L.OptString(3, "add")]
	if !found {
		L.ArgError(3, "expected add, remove or toggle")
	}
	changes := make([]pm.LabelChange, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, pm.LabelChange{MessageID: id, LabelID: label, Op: op})
	}
	truncated, err := api.svc.ChangePMLabels(actor, changes)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LNumber(truncated))
}

// luaMarkRead: pm.mark_read([ids [, label]]) marks everything when ids is nil.
func (api *PMAPI) luaMarkRead(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	var label *int
	if n, ok := L.Get(2).(lua.LNumber); ok {
		l := int(n)
		label = &l
	}
	n, err := api.svc.MarkRead(actor, intList(L.Get(1)), label)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LNumber(n))
}

func (api *PMAPI) luaMarkUnread(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	n, err := api.svc.MarkUnread(actor, intList(L.CheckAny(1)))
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LNumber(n))
}

// luaDelete: pm.delete(ids [, folder]). Pass nil ids to empty the folder.
func (api *PMAPI) luaDelete(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	folder, err := folderArg(L, 2)
	if err != nil {
		return pushError(L, err)
	}
	if err := api.svc.DeleteMessages(actor, intList(L.Get(1)), folder); err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LTrue)
}

// luaPrune: pm.prune(days) deletes messages older than days and returns the count.
func (api *PMAPI) luaPrune(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	days := L.CheckInt(1)
	if days <= 0 {
		L.ArgError(1, "days must be positive")
	}
	n, err := api.svc.PruneOlderThan(actor, api.now().AddDate(0, 0, -days))
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LNumber(n))
}

func (api *PMAPI) luaRules(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	rules, err := api.svc.LoadRules(actor)
	if err != nil {
		return pushError(L, err)
	}
	tbl := L.NewTable()
	for i, r := range rules {
		rt := L.NewTable()
		rt.RawSetString("id", lua.LNumber(r.ID))
		rt.RawSetString("name", lua.LString(r.Name))
		rt.RawSetString("logic", lua.LString(r.Logic.String()))
		var criteria, actions []string
		for _, c := range r.Criteria {
			criteria = append(criteria, c.String())
		}
		for _, a := range r.Actions {
			actions = append(actions, a.String())
		}
		rt.RawSetString("criteria", stringsToTable(L, criteria))
		rt.RawSetString("actions", stringsToTable(L, actions))
		tbl.RawSetInt(i+1, rt)
	}
	return pushResult(L, tbl)
}

// luaAddRule: pm.add_rule{name=, logic="and"|"or", from=, group=, subject=,
// body=, buddy=true, label=id or {ids}, delete=true}
func (api *PMAPI) luaAddRule(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	def := L.CheckTable(1)
	r := pm.Rule{Name: lua.LVAsString(def.RawGetString("name"))}
	if strings.EqualFold(lua.LVAsString(def.RawGetString("logic")), "or") {
		r.Logic = pm.LogicOr
	}
	for _, ref := range recipients(def.RawGetString("from")) {
		id := ref.ID
		if id == 0 {
			if id, err = api.resolve(ref.Name); err != nil {
				return pushError(L, err)
			}
		}
		r.Criteria = append(r.Criteria, pm.SenderIs(id))
	}
	for _, g := range intList(def.RawGetString("group")) {
		r.Criteria = append(r.Criteria, pm.SenderInGroup(g))
	}
	if s := lua.LVAsString(def.RawGetString("subject")); s != "" {
		r.Criteria = append(r.Criteria, pm.SubjectContains(s))
	}
	if s := lua.LVAsString(def.RawGetString("body")); s != "" {
		r.Criteria = append(r.Criteria, pm.BodyContains(s))
	}
	if lua.LVAsBool(def.RawGetString("buddy")) {
		r.Criteria = append(r.Criteria, pm.SenderIsBuddy())
	}
	for _, l := range intList(def.RawGetString("label")) {
		r.Actions = append(r.Actions, pm.ApplyLabel(l))
	}
	if lua.LVAsBool(def.RawGetString("delete")) {
		r.Actions = append(r.Actions, pm.DeleteMessage())
	}

	id, err := api.svc.AddRule(actor, r)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LNumber(id))
}

// resolve looks up one member by name.
func (api *PMAPI) resolve(name string) (int, error) {
	resolved, err := api.members.ResolveNames([]string{name})
	if err != nil {
		return 0, err
	}
	id, found := resolved[name]
	if !found {
		return 0, fmt.Errorf("%s: %w", name, pm.ErrNotFound)
	}
	return id, nil
}

func (api *PMAPI) luaDeleteRule(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	if err := api.svc.DeleteRules(actor, intList(L.CheckAny(1))); err != nil {
		return pushError(L, err)
	}
	return pushResult(L, lua.LTrue)
}

// luaApplyRules: pm.apply_rules([all])
func (api *PMAPI) luaApplyRules(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	scope := pm.ScopeUnread
	if L.OptBool(1, false) {
		scope = pm.ScopeAll
	}
	res, err := api.svc.ApplyRules(actor, scope)
	if err != nil {
		return pushError(L, err)
	}
	tbl := L.NewTable()
	tbl.RawSetString("scanned", lua.LNumber(res.Scanned))
	tbl.RawSetString("labelled", lua.LNumber(res.Labelled))
	tbl.RawSetString("deleted", lua.LNumber(res.Deleted))
	tbl.RawSetString("truncated", lua.LNumber(res.Truncated))
	return pushResult(L, tbl)
}

// luaEnter: pm.enter() runs rules on new mail and returns label counters.
func (api *PMAPI) luaEnter(L *lua.LState) int {
	actor, err := api.actor()
	if err != nil {
		return pushError(L, err)
	}
	labels, err := api.svc.EnterMailbox(actor)
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, labelsToTable(L, labels))
}

func (api *PMAPI) messageToTable(L *lua.LState, m *pm.Message, includeBody bool) *lua.LTable {
	mt := L.NewTable()
	mt.RawSetString("id", lua.LNumber(m.ID))
	mt.RawSetString("head", lua.LNumber(m.Head))
	mt.RawSetString("from", lua.LString(m.FromName))
	mt.RawSetString("from_id", lua.LNumber(m.SenderID))
	mt.RawSetString("subject", lua.LString(m.Subject))
	mt.RawSetString("date", lua.LString(m.SentAt.Format("2006-01-02 15:04")))
	if includeBody {
		mt.RawSetString("body", lua.LString(m.Body))
	}
	return mt
}

func (api *PMAPI) resultToTable(L *lua.LState, res *pm.SearchResult) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("total", lua.LNumber(res.Total))
	tbl.RawSetString("page", lua.LNumber(res.Page))
	hits := L.NewTable()
	for i, h := range res.Hits {
		mt := api.messageToTable(L, &h.Message, false)
		mt.RawSetString("read", lua.LBool(h.State.IsRead()))
		mt.RawSetString("replied", lua.LBool(h.State.IsReplied()))
		mt.RawSetString("snippet", lua.LString(h.Snippet))
		if h.Labels != nil {
			labels := L.NewTable()
			for j, l := range h.Labels {
				labels.RawSetInt(j+1, lua.LNumber(l))
			}
			mt.RawSetString("labels", labels)
		}
		hits.RawSetInt(i+1, mt)
	}
	tbl.RawSetString("hits", hits)
	return tbl
}

func (api *PMAPI) deliveryToTable(L *lua.LState, dlog *pm.DeliveryLog) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LNumber(dlog.MessageID))
	sent := L.NewTable()
	for _, id := range sortedKeys(dlog.Sent) {
		sent.Append(lua.LNumber(id))
	}
	tbl.RawSetString("sent", sent)
	failed := L.NewTable()
	for id, reason := range dlog.Failed {
		failed.RawSetInt(id, lua.LString(reason))
	}
	for name, reason := range dlog.FailedNames {
		failed.RawSetString(name, lua.LString(reason))
	}
	tbl.RawSetString("failed", failed)
	return tbl
}

func labelsToTable(L *lua.LState, labels []pm.Label) *lua.LTable {
	tbl := L.NewTable()
	for i, l := range labels {
		lt := L.NewTable()
		lt.RawSetString("id", lua.LNumber(l.ID))
		lt.RawSetString("name", lua.LString(l.Name))
		lt.RawSetString("messages", lua.LNumber(l.Messages))
		lt.RawSetString("unread", lua.LNumber(l.Unread))
		tbl.RawSetInt(i+1, lt)
	}
	return tbl
}

func stringsToTable(L *lua.LState, values []string) *lua.LTable {
	tbl := L.NewTable()
	for _, v := range values {
		tbl.Append(lua.LString(v))
	}
	return tbl
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
