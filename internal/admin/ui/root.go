package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"github.com/notepid/twilight_pm/internal/admin/app"
)

type screen int

const (
	screenHome screen = iota
	screenSettings
	screenMembers
	screenMailboxes
	screenGroups
	screenQuit
)

// screenModel is one admin screen. It reports done when the operator
// leaves it.
type screenModel interface {
	SetSize(w, h int)
	Update(msg tea.Msg) tea.Cmd
	View() string
	done() bool
}

// Options select where the admin tool starts.
type Options struct {
	// Mailbox opens the named member's mailbox instead of the menu.
	Mailbox string
}

type rootModel struct {
	app *app.App

	width  int
	height int

	homeList list.Model
	status   string
	current  screenModel
}

type menuItem struct {
	title string
	desc  string
	to    screen
}

func (m menuItem) Title() string       { return m.title }
func (m menuItem) Description() string { return m.desc }
func (m menuItem) FilterValue() string { return m.title }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func NewRootModel(a *app.App, opts Options) tea.Model {
	items := []list.Item{
		menuItem{title: "Site Settings", desc: "Forum name, buddy lists, send limits", to: screenSettings},
		menuItem{title: "Members", desc: "Accounts, groups and message preferences", to: screenMembers},
		menuItem{title: "Mailboxes", desc: "Browse a member's labels and folders without marking mail read", to: screenMailboxes},
		menuItem{title: "Membergroups", desc: "Message quotas and pm_read/pm_send permissions", to: screenGroups},
		menuItem{title: "Quit", desc: "Exit", to: screenQuit},
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Twilight PM Admin"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	m := &rootModel{app: a, homeList: l}
	m.refreshStatus()
	if opts.Mailbox != "" {
		mb := newMailboxesModel(a)
		mb.open(opts.Mailbox)
		m.current = mb
	}
	return m
}

// refreshStatus reloads the store totals shown under the menu.
func (m *rootModel) refreshStatus() {
	s, err := m.app.DB.GetMailStats()
	if err != nil {
		m.status = errStyle.Render("stats: ") + err.Error()
		return
	}
	m.status = statusStyle.Render(fmt.Sprintf(
		"%d members • %d messages • %d in mailboxes, %d unread • %d labels • %d rules",
		s.Members, s.Messages, s.Copies, s.Unread, s.Labels, s.Rules))
}

func (m *rootModel) newScreen(s screen) screenModel {
	switch s {
	case screenSettings:
		return newSettingsModel(m.app)
	case screenMembers:
		return newMembersModel(m.app)
	case screenMailboxes:
		return newMailboxesModel(m.app)
	case screenGroups:
		return newGroupsModel(m.app)
	}
	return nil
}

func (m *rootModel) Init() tea.Cmd {
	return nil
}

func (m *rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.homeList.SetSize(msg.Width, msg.Height-3)
		if m.current != nil {
			m.current.SetSize(msg.Width, msg.Height)
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}

	if m.current != nil {
		cmd := m.current.Update(msg)
		if m.current.done() {
			m.current = nil
			// Screens change counts, quotas and members.
			m.refreshStatus()
		}
		return m, cmd
	}
	return m.updateHome(msg)
}

func (m *rootModel) updateHome(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.homeList, cmd = m.homeList.Update(msg)

	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "enter" {
		it, ok := m.homeList.SelectedItem().(menuItem)
		if !ok {
			return m, cmd
		}
		if it.to == screenQuit {
			return m, tea.Quit
		}
		m.current = m.newScreen(it.to)
		if m.current != nil {
			m.current.SetSize(m.width, m.height)
		}
		return m, nil
	}
	return m, cmd
}

func (m *rootModel) View() string {
	if m.current != nil {
		return m.current.View()
	}
	if m.width == 0 {
		return titleStyle.Render("Twilight PM Admin") + "\n" + m.status
	}
	return m.homeList.View() + "\n" + m.status
}
