package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/pm"
)

// mailboxesModel browses a member's folders without touching read state.
type mailboxesModel struct {
	app *app.App

	width  int
	height int

	Done bool

	state mailboxesState
	list  list.Model
	err   error

	actor  pm.Actor
	folder pm.Folder
	page   int
	pages  int

	detailHeader string
	detailBody   string
}

type mailboxesState int

const (
	mailboxesStateMembers mailboxesState = iota
	mailboxesStateFolders
	mailboxesStateList
	mailboxesStateDetail
)

type mailItem struct {
	id    int
	name  string
	title string
	desc  string
	hit   *pm.SearchHit
}

func (i mailItem) Title() string       { return i.title }
func (i mailItem) Description() string { return i.desc }
func (i mailItem) FilterValue() string { return i.title }

func newMailboxesModel(a *app.App) *mailboxesModel {
	m := &mailboxesModel{app: a, state: mailboxesStateMembers}
	m.reloadMembers()
	return m
}

// open shows the folders of the named member.
func (m *mailboxesModel) open(name string) {
	actor, _, err := m.app.Actor(name)
	if err != nil {
		m.err = err
		return
	}
	m.actor = actor
	m.state = mailboxesStateFolders
	m.reloadFolders()
}

func (m *mailboxesModel) done() bool { return m.Done }

func (m *mailboxesModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *mailboxesModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.state = mailboxesStateMembers
				m.reloadMembers()
			}
		}
		return nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == mailboxesStateMembers {
				m.Done = true
				return nil
			}
		case "esc":
			m.back()
			return nil
		case "n":
			if m.state == mailboxesStateList && m.page < m.pages {
				m.page++
				m.reloadMessages()
				return nil
			}
		case "p":
			if m.state == mailboxesStateList && m.page > 1 {
				m.page--
				m.reloadMessages()
				return nil
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" {
			it, ok := m.list.SelectedItem().(mailItem)
			if !ok {
				return cmd
			}
			switch m.state {
			case mailboxesStateMembers:
				m.open(it.name)
				return nil
			case mailboxesStateFolders:
				m.folder = pm.Folder(it.id)
				m.page = 1
				m.state = mailboxesStateList
				m.reloadMessages()
				return nil
			case mailboxesStateList:
				m.state = mailboxesStateDetail
				m.loadDetail(it.hit)
				return nil
			}
		}
	}

	return cmd
}

func (m *mailboxesModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Mailbox error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case mailboxesStateMembers:
		m.list.Title = "Mailboxes"
		return m.list.View() + "\n(q to quit, enter to select)"
	case mailboxesStateFolders:
		m.list.Title = fmt.Sprintf("Folders of %s", m.actor.Username)
		return m.list.View() + "\n(esc back)"
	case mailboxesStateList:
		m.list.Title = fmt.Sprintf("%s of %s (page %d/%d)", m.folder, m.actor.Username, m.page, m.pages)
		return m.list.View() + "\n(n next page, p prev page, esc back)"
	case mailboxesStateDetail:
		return m.detailHeader + "\n\n" + m.detailBody + "\n\n(esc back)"
	default:
		return "Mailboxes"
	}
}

func (m *mailboxesModel) setItems(items []list.Item, filter bool) {
	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(filter)
	m.list.SetShowHelp(true)
}

func (m *mailboxesModel) reloadMembers() {
	members, err := m.app.Members.List()
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(members))
	for _, u := range members {
		desc := fmt.Sprintf("%d messages • %d unread • %d sent", u.Messages, u.Unread, u.Sent)
		items = append(items, mailItem{id: u.ID, name: u.Name, title: u.Name, desc: desc})
	}
	m.setItems(items, true)
}

func (m *mailboxesModel) reloadFolders() {
	labels, err := m.app.PM.CountLabels(m.actor, false)
	if err != nil {
		m.err = err
		return
	}
	var names []string
	for _, l := range labels {
		names = append(names, fmt.Sprintf("%s %d/%d", l.Name, l.Unread, l.Messages))
	}
	sent, err := m.app.PM.Count(m.actor, pm.ListOptions{Folder: pm.FolderSent})
	if err != nil {
		m.err = err
		return
	}

	items := []list.Item{
		mailItem{id: int(pm.FolderInbox), title: "Inbox", desc: strings.Join(names, " • ")},
		mailItem{id: int(pm.FolderSent), title: "Sent", desc: fmt.Sprintf("%d messages", sent)},
	}
	m.setItems(items, false)
}

func (m *mailboxesModel) reloadMessages() {
	res, err := m.app.PM.List(m.actor, pm.ListOptions{Folder: m.folder, Desc: true, Page: m.page})
	if err != nil {
		m.err = err
		return
	}
	m.pages = (res.Total + res.PerPage - 1) / res.PerPage
	if m.pages == 0 {
		m.pages = 1
	}

	items := make([]list.Item, 0, len(res.Hits))
	for i := range res.Hits {
		h := &res.Hits[i]
		desc := fmt.Sprintf("from %s • %s", h.FromName, h.SentAt.Format("2006-01-02 15:04"))
		if m.folder == pm.FolderInbox && !h.State.IsRead() {
			desc = "[new] " + desc
		}
		items = append(items, mailItem{id: h.ID, title: h.Subject, desc: desc, hit: h})
	}
	m.setItems(items, true)
}

func (m *mailboxesModel) loadDetail(h *pm.SearchHit) {
	if h == nil {
		m.err = fmt.Errorf("no message selected")
		return
	}
	to := "-"
	if r, err := m.app.PM.GetRecipients(m.actor, h.ID); err == nil {
		to = strings.Join(r.To, ", ")
		if len(r.BCC) > 0 {
			to += " (bcc: " + strings.Join(r.BCC, ", ") + ")"
		}
	}
	m.detailHeader = fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\nDate: %s\nThread: %d",
		h.Subject, h.FromName, to, h.SentAt.Format("2006-01-02 15:04"), h.Head,
	)
	m.detailBody = h.Body
}

func (m *mailboxesModel) back() {
	switch m.state {
	case mailboxesStateMembers:
		m.Done = true
	case mailboxesStateFolders:
		m.state = mailboxesStateMembers
		m.reloadMembers()
	case mailboxesStateList:
		m.state = mailboxesStateFolders
		m.reloadFolders()
	case mailboxesStateDetail:
		m.state = mailboxesStateList
		m.reloadMessages()
	}
}
