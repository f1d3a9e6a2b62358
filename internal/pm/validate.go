package pm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Input limits that are not configurable.
const (
	MaxLabelNameLen = 30
	MaxRuleNameLen  = 60
	MaxQueryLen     = 100
)

func validateString(value, field string, maxLen int) error {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Err: fmt.Errorf("invalid UTF-8")}
	}
	if utf8.RuneCountInString(value) > maxLen {
		return &ValidationError{Field: field, Err: fmt.Errorf("too long (max %d characters)", maxLen)}
	}
	return nil
}

// ValidateLabelName checks a label name.
func ValidateLabelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "label", Err: fmt.Errorf("name cannot be empty")}
	}
	return validateString(name, "label", MaxLabelNameLen)
}

// ValidateRuleName checks a rule name.
func ValidateRuleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "rule", Err: fmt.Errorf("name cannot be empty")}
	}
	return validateString(name, "rule", MaxRuleNameLen)
}

// ValidateQuery checks free-text search input.
func ValidateQuery(q string) error {
	return validateString(q, "query", MaxQueryLen)
}

// cleanSubject strips line breaks and tabs and cuts the subject to maxLen runes.
func cleanSubject(subject string, maxLen int) string {
	subject = strings.NewReplacer("\r", "", "\n", "", "\t", "").Replace(subject)
	subject = strings.TrimSpace(subject)
	if utf8.RuneCountInString(subject) > maxLen {
		runes := []rune(subject)
		subject = string(runes[:maxLen])
	}
	return subject
}

// validateMessage checks subject and body before anything is written.
func (s *Service) validateMessage(subject, body string) (string, error) {
	if !utf8.ValidString(subject) {
		return "", &ValidationError{Field: "subject", Err: fmt.Errorf("invalid UTF-8")}
	}
	subject = cleanSubject(subject, s.opts.MaxSubjectLen)
	if subject == "" {
		return "", &ValidationError{Field: "subject", Err: ErrSubjectEmpty}
	}
	if !utf8.ValidString(body) {
		return "", &ValidationError{Field: "body", Err: fmt.Errorf("invalid UTF-8")}
	}
	if strings.TrimSpace(body) == "" {
		return "", &ValidationError{Field: "body", Err: ErrBodyEmpty}
	}
	if len(body) > s.opts.MaxBodyLen {
		return "", &ValidationError{Field: "body", Err: ErrBodyTooLong}
	}
	return subject, nil
}

// sanitizeForDisplay drops control characters other than newlines and tabs.
func sanitizeForDisplay(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= 32 && r != 127 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
