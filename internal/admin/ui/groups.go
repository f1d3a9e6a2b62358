package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/db"
	"github.com/notepid/twilight_pm/internal/pm"
)

// Permission choices shown in the group form.
const (
	permUnset = "unset"
	permAllow = "allow"
	permDeny  = "deny"
)

var groupPermissions = []struct {
	name  string
	title string
}{
	{pm.PermRead, "Read personal messages"},
	{pm.PermSend, "Send personal messages"},
	{pm.PermModerate, "Moderate forum (bypasses quotas)"},
}

type groupsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	editing bool
	list    list.Model
	form    *huh.Form
	err     error

	selected db.MemberGroup
	quota    string
	perms    []string
	save     bool
}

type groupItem struct {
	group db.MemberGroup
	title string
	desc  string
}

func (i groupItem) Title() string       { return i.title }
func (i groupItem) Description() string { return i.desc }
func (i groupItem) FilterValue() string { return i.title }

func newGroupsModel(a *app.App) *groupsModel {
	m := &groupsModel{app: a}
	m.reloadList()
	return m
}

func (m *groupsModel) done() bool { return m.Done }

func (m *groupsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *groupsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.editing = false
				m.form = nil
				m.reloadList()
			}
		}
		return nil
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "q":
			if !m.editing {
				m.Done = true
				return nil
			}
		case "esc":
			if m.editing {
				m.editing = false
				m.form = nil
				m.reloadList()
			} else {
				m.Done = true
			}
			return nil
		}
	}

	if m.editing {
		return m.updateForm(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "enter" {
		it, ok := m.list.SelectedItem().(groupItem)
		if !ok {
			return cmd
		}
		m.startEdit(it.group)
		return nil
	}
	return cmd
}

func (m *groupsModel) updateForm(msg tea.Msg) tea.Cmd {
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

	if m.save {
		if err := m.saveGroup(); err != nil {
			m.err = err
			return nil
		}
	}
	m.editing = false
	m.form = nil
	m.reloadList()
	return nil
}

func (m *groupsModel) saveGroup() error {
	quota, _ := strconv.Atoi(strings.TrimSpace(m.quota))
	if err := m.app.DB.SetGroupQuota(m.selected.ID, quota); err != nil {
		return err
	}
	for i, p := range groupPermissions {
		var err error
		switch m.perms[i] {
		case permAllow:
			err = m.app.DB.SetPermission(m.selected.ID, p.name, true)
		case permDeny:
			err = m.app.DB.SetPermission(m.selected.ID, p.name, false)
		default:
			err = m.app.DB.RevokePermission(m.selected.ID, p.name)
		}
		if err != nil {
			return err
		}
	}
	// Cached message limits were computed from the old quotas.
	m.app.Cache.Clear()
	return nil
}

func (m *groupsModel) startEdit(g db.MemberGroup) {
	current, err := m.app.DB.GroupPermissions(g.ID)
	if err != nil {
		m.err = err
		return
	}

	m.editing = true
	m.selected = g
	m.quota = strconv.Itoa(g.MaxMessages)
	m.save = true
	m.perms = make([]string, len(groupPermissions))

	fields := []huh.Field{
		huh.NewInput().Title("Message quota (0 = unlimited)").Value(&m.quota).Validate(validIntGreaterThan("quota", -1)),
	}
	for i, p := range groupPermissions {
		m.perms[i] = permUnset
		if allow, ok := current[p.name]; ok {
			m.perms[i] = permDeny
			if allow {
				m.perms[i] = permAllow
			}
		}
		fields = append(fields, huh.NewSelect[string]().Title(p.title).Options(
			huh.NewOption("Not set", permUnset),
			huh.NewOption("Allow", permAllow),
			huh.NewOption("Deny", permDeny),
		).Value(&m.perms[i]))
	}

	m.form = huh.NewForm(
		huh.NewGroup(fields...),
		huh.NewGroup(
			huh.NewConfirm().Title("Save group?").Value(&m.save),
		),
	)
}

func (m *groupsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Groups error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	if m.editing {
		return fmt.Sprintf("Group: %s (%d)\n\n", m.selected.Name, m.selected.ID) + m.form.View() + "\n\n(esc to go back)"
	}
	m.list.Title = "Membergroups"
	return m.list.View() + "\n(q to quit, enter to edit)"
}

func (m *groupsModel) reloadList() {
	groups, err := m.app.DB.ListMemberGroups()
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(groups))
	for _, g := range groups {
		quota := "unlimited"
		if g.MaxMessages > 0 {
			quota = strconv.Itoa(g.MaxMessages)
		}
		kind := "post-count group"
		if g.MinPosts < 0 {
			kind = "assigned group"
		}
		items = append(items, groupItem{group: g, title: fmt.Sprintf("%s (%d)", g.Name, g.ID), desc: fmt.Sprintf("%s • quota %s", kind, quota)})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
}
