package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/pm"
	"github.com/notepid/twilight_pm/internal/user"
)

type membersModel struct {
	app *app.App

	width  int
	height int

	Done bool

	state membersState

	list list.Model
	err  error

	selected *user.Member

	form *huh.Form

	createName     string
	createPassword string
	createRealName string
	createEmail    string
	createSave     bool

	editEmail    string
	editLanguage string
	editSave     bool

	newPassword string
	pwConfirm   string
	pwSave      bool

	primaryGroup string
	extraGroups  string
	groupsSave   bool

	notifyMode  int
	receiveFrom int
	activation  int
	prefsSave   bool
}

type membersState int

const (
	membersStateList membersState = iota
	membersStateDetail
	membersStateCreate
	membersStateEditEmail
	membersStateResetPassword
	membersStateSetGroups
	membersStateSetPrefs
)

type memberItem struct {
	id    int
	title string
	desc  string
	kind  string
}

func (i memberItem) Title() string       { return i.title }
func (i memberItem) Description() string { return i.desc }
func (i memberItem) FilterValue() string { return i.title }

func newMembersModel(a *app.App) *membersModel {
	m := &membersModel{app: a, state: membersStateList}
	m.reloadList()
	return m
}

func (m *membersModel) done() bool { return m.Done }

func (m *membersModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *membersModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.state = membersStateList
				m.form = nil
				m.selected = nil
				m.reloadList()
			}
		}
		return nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == membersStateList {
				m.Done = true
				return nil
			}
		case "esc":
			m.back()
			return nil
		}
	}

	switch m.state {
	case membersStateList:
		return m.updateList(msg)
	case membersStateDetail:
		return m.updateDetail(msg)
	default:
		return m.updateForm(msg)
	}
}

func (m *membersModel) updateList(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" {
			it, ok := m.list.SelectedItem().(memberItem)
			if !ok {
				return cmd
			}
			if it.kind == "create" {
				m.startCreate()
				return nil
			}

			u, err := m.app.Members.GetByID(it.id)
			if err != nil {
				m.err = err
				return nil
			}
			m.selected = u
			m.state = membersStateDetail
			m.list = newMemberActionList(m.width, m.height)
			return nil
		}
	}

	return cmd
}

func (m *membersModel) updateDetail(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" {
			it, ok := m.list.SelectedItem().(memberItem)
			if !ok {
				return cmd
			}
			switch it.kind {
			case "edit_email":
				m.startEditEmail()
			case "set_groups":
				m.startSetGroups()
			case "set_prefs":
				m.startSetPrefs()
			case "reset_password":
				m.startResetPassword()
			case "back":
				m.back()
			}
			return nil
		}
	}

	return cmd
}

func (m *membersModel) updateForm(msg tea.Msg) tea.Cmd {
	if m.form == nil {
		m.err = fmt.Errorf("internal error: form not initialized")
		return nil
	}
	var cmd tea.Cmd
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f
	if m.form.State != huh.StateCompleted {
		return cmd
	}

	if m.state == membersStateCreate {
		if m.createSave {
			if _, err := m.app.Members.GetByName(m.createName); err == nil {
				m.err = fmt.Errorf("member name already exists")
				return nil
			}
			if _, err := m.app.Members.Create(strings.TrimSpace(m.createName), m.createPassword, m.createRealName, m.createEmail); err != nil {
				m.err = err
				return nil
			}
		}
		m.form = nil
		m.state = membersStateList
		m.reloadList()
		return nil
	}

	if err := m.saveForm(); err != nil {
		m.err = err
		return nil
	}
	m.refreshSelected()
	m.form = nil
	m.state = membersStateDetail
	m.list = newMemberActionList(m.width, m.height)
	return nil
}

// saveForm applies a completed detail form to the selected member.
func (m *membersModel) saveForm() error {
	if m.selected == nil {
		return nil
	}
	id := m.selected.ID
	switch m.state {
	case membersStateEditEmail:
		if m.editSave {
			return m.app.Members.SetEmail(id, strings.TrimSpace(m.editEmail), strings.TrimSpace(m.editLanguage))
		}
	case membersStateResetPassword:
		if m.pwSave {
			return m.app.Members.UpdatePassword(id, m.newPassword)
		}
	case membersStateSetGroups:
		if m.groupsSave {
			primary, err := strconv.Atoi(m.primaryGroup)
			if err != nil {
				return fmt.Errorf("invalid primary group")
			}
			extra, err := parseGroupList(m.extraGroups)
			if err != nil {
				return err
			}
			return m.app.Members.SetGroups(id, primary, extra)
		}
	case membersStateSetPrefs:
		if m.prefsSave {
			if err := m.app.Members.SetNotify(id, m.notifyMode); err != nil {
				return err
			}
			if err := m.app.Members.SetReceiveFrom(id, m.receiveFrom); err != nil {
				return err
			}
			return m.app.Members.SetActivation(id, m.activation)
		}
	}
	return nil
}

func (m *membersModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Members error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case membersStateList:
		m.list.Title = "Members"
		return m.list.View() + "\n(q to quit, enter to select)"
	case membersStateDetail:
		if m.selected == nil {
			return "No member selected\n\n(esc to go back)"
		}
		s := m.selected
		header := fmt.Sprintf("Member: %s (%s)\n", s.Name, s.DisplayName())
		meta := fmt.Sprintf("Email: %s\nLanguage: %s\nGroups: %v\nMessages: %d (%d unread), sent %d\nNotify: %d  Receive from: %d  Activation: %d\n\n",
			s.Email, s.Language, s.Groups(), s.Messages, s.Unread, s.Sent, s.NotifyMode, s.ReceiveFrom, s.Activation,
		)
		m.list.Title = "Actions"
		return header + meta + m.list.View() + "\n(esc to go back)"
	default:
		return m.form.View() + "\n\n(esc to go back)"
	}
}

func (m *membersModel) reloadList() {
	members, err := m.app.Members.List()
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(members)+1)
	items = append(items, memberItem{title: "+ Create new member", desc: "Add a new account", kind: "create"})
	for _, u := range members {
		desc := fmt.Sprintf("group %d • %d messages, %d unread", u.PrimaryGroup, u.Messages, u.Unread)
		items = append(items, memberItem{id: u.ID, title: u.Name, desc: desc, kind: "member"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
	m.list.Title = "Members"
}

func newMemberActionList(w, h int) list.Model {
	items := []list.Item{
		memberItem{title: "Edit email", desc: "Notification address and language", kind: "edit_email"},
		memberItem{title: "Set groups", desc: "Primary and additional membergroups", kind: "set_groups"},
		memberItem{title: "Message preferences", desc: "Notifications, who may write, activation", kind: "set_prefs"},
		memberItem{title: "Reset password", desc: "Set a new password", kind: "reset_password"},
		memberItem{title: "Back", desc: "Return to member list", kind: "back"},
	}
	l := list.New(items, list.NewDefaultDelegate(), w, h-8)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)
	return l
}

func (m *membersModel) startCreate() {
	m.state = membersStateCreate
	m.createName = ""
	m.createPassword = ""
	m.createRealName = ""
	m.createEmail = ""
	m.createSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Member name").Value(&m.createName).Validate(nonEmpty("member name")),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&m.createPassword).Validate(nonEmpty("password")),
			huh.NewInput().Title("Real name").Value(&m.createRealName),
			huh.NewInput().Title("Email").Value(&m.createEmail),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Create member?").Value(&m.createSave),
		),
	)
}

func (m *membersModel) startEditEmail() {
	m.state = membersStateEditEmail
	m.editEmail = m.selected.Email
	m.editLanguage = m.selected.Language
	m.editSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Email").Value(&m.editEmail),
			huh.NewInput().Title("Language (blank for forum default)").Value(&m.editLanguage),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save changes?").Value(&m.editSave),
		),
	)
}

func (m *membersModel) startResetPassword() {
	m.state = membersStateResetPassword
	m.newPassword = ""
	m.pwConfirm = ""
	m.pwSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("New password").EchoMode(huh.EchoModePassword).Value(&m.newPassword).Validate(nonEmpty("password")),
			huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&m.pwConfirm).Validate(func(s string) error {
				if s != m.newPassword {
					return fmt.Errorf("passwords do not match")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Reset password?").Value(&m.pwSave),
		),
	)
}

func (m *membersModel) startSetGroups() {
	m.state = membersStateSetGroups
	m.primaryGroup = strconv.Itoa(m.selected.PrimaryGroup)
	m.extraGroups = joinGroupList(m.selected.AdditionalGroups)
	m.groupsSave = true

	groups, err := m.app.DB.ListMemberGroups()
	if err != nil {
		m.err = err
		return
	}
	options := []huh.Option[string]{huh.NewOption("Regular member (0)", "0")}
	for _, g := range groups {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%d)", g.Name, g.ID), strconv.Itoa(g.ID)))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Primary group").Options(options...).Value(&m.primaryGroup),
			huh.NewInput().Title("Additional groups (comma separated ids)").Value(&m.extraGroups).Validate(func(s string) error {
				_, err := parseGroupList(s)
				return err
			}),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save groups?").Value(&m.groupsSave),
		),
	)
}

func (m *membersModel) startSetPrefs() {
	m.state = membersStateSetPrefs
	m.notifyMode = m.selected.NotifyMode
	m.receiveFrom = m.selected.ReceiveFrom
	m.activation = m.selected.Activation
	m.prefsSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().Title("Email notifications").Options(
				huh.NewOption("Never", pm.NotifyNever),
				huh.NewOption("Always", pm.NotifyAlways),
				huh.NewOption("Buddies only", pm.NotifyBuddiesOnly),
			).Value(&m.notifyMode),
			huh.NewSelect[int]().Title("Receive messages from").Options(
				huh.NewOption("Everyone", pm.ReceiveFromEveryone),
				huh.NewOption("Everyone not ignored", pm.ReceiveFromNotIgnored),
				huh.NewOption("Buddies only", pm.ReceiveFromBuddiesOnly),
				huh.NewOption("Administrators only", pm.ReceiveFromAdminsOnly),
			).Value(&m.receiveFrom),
			huh.NewSelect[int]().Title("Account state").Options(
				huh.NewOption("Not activated", 0),
				huh.NewOption("Active", pm.ActivationActive),
				huh.NewOption("Pending deletion", pm.ActivationPendingDelete),
				huh.NewOption("Banned", pm.ActivationBannedFloor),
			).Value(&m.activation),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save preferences?").Value(&m.prefsSave),
		),
	)
}

func (m *membersModel) back() {
	switch m.state {
	case membersStateList:
		m.Done = true
	case membersStateDetail:
		m.state = membersStateList
		m.selected = nil
		m.form = nil
		m.reloadList()
	default:
		m.state = membersStateDetail
		m.form = nil
		m.list = newMemberActionList(m.width, m.height)
	}
}

func (m *membersModel) refreshSelected() {
	if m.selected == nil {
		return
	}
	u, err := m.app.Members.GetByID(m.selected.ID)
	if err == nil {
		m.selected = u
	}
}

func parseGroupList(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid group id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func joinGroupList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
