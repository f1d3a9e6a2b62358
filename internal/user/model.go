package user

import (
	"strconv"
	"strings"
	"time"
)

// Member represents a forum member account.
type Member struct {
	ID               int
	Name             string
	RealName         string
	Email            string
	PasswordHash     string
	PrimaryGroup     int
	PostGroup        int
	AdditionalGroups []int
	Activation       int
	Language         string
	NotifyMode       int
	ReceiveFrom      int
	Buddies          []int
	Ignored          []int
	Messages         int
	Unread           int
	Sent             int
	NewPM            bool
	RemoveInboxLabel bool
	CreatedAt        time.Time
}

// Groups returns the primary, post-count and additional groups, without duplicates.
func (m *Member) Groups() []int {
	groups := []int{m.PrimaryGroup}
	if m.PostGroup != 0 {
		groups = append(groups, m.PostGroup)
	}
	for _, g := range m.AdditionalGroups {
		dup := false
		for _, have := range groups {
			if have == g {
				dup = true
				break
			}
		}
		if !dup {
			groups = append(groups, g)
		}
	}
	return groups
}

// DisplayName is the real name, falling back to the login name.
func (m *Member) DisplayName() string {
	if m.RealName != "" {
		return m.RealName
	}
	return m.Name
}

// parseIDList reads a comma separated id column. Junk entries are skipped.
func parseIDList(s string) []int {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.Atoi(part); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func formatIDList(ids []int) string {
	parts := make([]string, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
