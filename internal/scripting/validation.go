package scripting

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
)

// Limits on member input accepted from scripts.
const (
	MaxUsernameLen = 80
	MaxPasswordLen = 128
	MaxRealNameLen = 255
	MaxEmailLen    = 255
)

// ValidateInput checks member fields passed in from scripts.
type ValidateInput struct{}

// ValidateString checks encoding and length in characters.
func (v *ValidateInput) ValidateString(value, fieldName string, maxLen int) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid UTF-8", fieldName)
	}
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%s too long (max %d characters)", fieldName, maxLen)
	}
	return nil
}

// ValidateUsername rejects names that could not be used as a recipient.
func (v *ValidateInput) ValidateUsername(username string) error {
	if err := v.ValidateString(username, "username", MaxUsernameLen); err != nil {
		return err
	}
	if strings.TrimSpace(username) != username || username == "" {
		return fmt.Errorf("username must not be blank or padded")
	}
	if _, err := strconv.Atoi(username); err == nil {
		return fmt.Errorf("username must not be a number")
	}
	for _, r := range username {
		if unicode.IsControl(r) || strings.ContainsRune(`,<>&"'=\`, r) {
			return fmt.Errorf("username contains invalid character %q", r)
		}
	}
	return nil
}

// ValidatePassword checks password requirements.
func (v *ValidateInput) ValidatePassword(password string) error {
	if err := v.ValidateString(password, "password", MaxPasswordLen); err != nil {
		return err
	}
	if len(password) < 6 {
		return fmt.Errorf("password too short (minimum 6 characters)")
	}
	return nil
}

// ValidateEmail accepts an empty address or a single RFC 5322 address.
func (v *ValidateInput) ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if err := v.ValidateString(email, "email", MaxEmailLen); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email format")
	}
	return nil
}
