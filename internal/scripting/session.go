package scripting

import (
	"github.com/notepid/twilight_pm/internal/pm"
	"github.com/notepid/twilight_pm/internal/user"
)

// Session is a VM with the members and pm modules installed.
type Session struct {
	*VM
	Members *UserAPI
	PM      *PMAPI
}

// NewSession creates a VM whose pm module acts for the member logged in
// through the members module or set with SetMember.
func NewSession(members *user.Repo, svc *pm.Service, denyEnabled bool) *Session {
	s := &Session{
		VM:      NewVM(),
		Members: NewUserAPI(members, denyEnabled),
	}
	s.PM = NewPMAPI(svc, members, s.Members.Actor)
	s.Members.Register(s.L)
	s.PM.Register(s.L)
	return s
}

// SetMember runs subsequent script calls as m.
func (s *Session) SetMember(m *user.Member) {
	s.Members.SetCurrentMember(m)
}
