package ui

import "testing"

func TestValidAddress(t *testing.T) {
	check := validAddress("webmaster email")
	for _, s := range []string{"admin@example.com", "  admin@example.com "} {
		if err := check(s); err != nil {
			t.Fatalf("expected %q to be accepted, got %v", s, err)
		}
	}
	for _, s := range []string{"", "admin", "Admin <admin@example.com>", "a@b@c"} {
		if err := check(s); err == nil {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestSettingsLoadsSiteSettings(t *testing.T) {
	a := newTestApp(t)
	m := newSettingsModel(a)
	if m.err != nil {
		t.Fatalf("load settings: %v", m.err)
	}
	s, err := a.DB.GetSiteSettings()
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if m.name != s.Name || m.webmaster != s.WebmasterEmail {
		t.Fatalf("expected form to hold %q/%q, got %q/%q", s.Name, s.WebmasterEmail, m.name, m.webmaster)
	}
}
