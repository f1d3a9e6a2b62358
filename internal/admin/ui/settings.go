package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/emersion/go-message/mail"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/db"
)

type settingsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	form *huh.Form
	err  error

	name         string
	webmaster    string
	buddyList    bool
	enableDeny   bool
	disallowBody bool
	postsPerHour string
	userLanguage bool
	save         bool
}

func newSettingsModel(a *app.App) *settingsModel {
	m := &settingsModel{app: a}

	settings, err := a.DB.GetSiteSettings()
	if err != nil {
		m.err = err
		return m
	}

	m.name = settings.Name
	m.webmaster = settings.WebmasterEmail
	m.buddyList = settings.EnableBuddyList
	m.enableDeny = settings.PermissionEnableDeny
	m.disallowBody = settings.DisallowSendBody
	m.postsPerHour = strconv.Itoa(settings.PMPostsPerHour)
	m.userLanguage = settings.UserLanguage

	m.form = m.buildForm()
	return m
}

func (m *settingsModel) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Forum Name").Value(&m.name).Validate(nonEmpty("name")),
			huh.NewInput().Title("Webmaster Email").Value(&m.webmaster).Validate(validAddress("webmaster email")),
			huh.NewInput().Title("Messages Per Hour (0 = unlimited)").Value(&m.postsPerHour).Validate(validIntGreaterThan("messages per hour", -1)),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable buddy lists?").Value(&m.buddyList),
			huh.NewConfirm().Title("Enable deny permissions?").Value(&m.enableDeny),
			huh.NewConfirm().Title("Leave message body out of notifications?").Value(&m.disallowBody),
			huh.NewConfirm().Title("Let members choose their language?").Value(&m.userLanguage),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save changes?").Value(&m.save),
		),
	)
}

func (m *settingsModel) done() bool { return m.Done }

func (m *settingsModel) SetSize(w, h int) {
	m.width, m.height = w, h
}

func (m *settingsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.Done = true
			}
		}
		return nil
	}

	if m.form == nil {
		m.form = m.buildForm()
	}

	var cmd tea.Cmd
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f

	if m.form.State == huh.StateCompleted {
		if m.save {
			perHour, _ := strconv.Atoi(strings.TrimSpace(m.postsPerHour))
			settings := &db.SiteSettings{
				Name:                 strings.TrimSpace(m.name),
				WebmasterEmail:       strings.TrimSpace(m.webmaster),
				EnableBuddyList:      m.buddyList,
				PermissionEnableDeny: m.enableDeny,
				DisallowSendBody:     m.disallowBody,
				PMPostsPerHour:       perHour,
				UserLanguage:         m.userLanguage,
			}
			if err := m.app.DB.UpdateSiteSettings(settings); err != nil {
				m.err = err
				return nil
			}
		}
		m.Done = true
		return nil
	}

	return cmd
}

func (m *settingsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Settings error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	return m.form.View() + "\n\n(esc to go back)"
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

// validAddress accepts a bare address, which notifications use as From.
func validAddress(field string) func(string) error {
	return func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return fmt.Errorf("%s must be a plain address like name@example.com", field)
		}
		return nil
	}
}

func validIntGreaterThan(field string, min int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s must be a number", field)
		}
		if v <= min {
			return fmt.Errorf("%s must be > %d", field, min)
		}
		return nil
	}
}
