package schema

import (
	"strings"
	"unicode"
)

// ValidateUserID ensures a user id matches [a-z0-9._-] with no normalization.
func ValidateUserID(userID UserID) error {
	raw := string(userID)
	if raw == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidUser
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidUser
	}
	return nil
}

// NormalizeAgentID validates and normalizes an agent identifier.
// Allowed characters: A-Z, a-z, 0-9, '.', '_', '-'.
func NormalizeAgentID(agent string) (AgentID, error) {
	trimmed := strings.TrimSpace(strings.ToLower(agent))
	if trimmed == "" {
		return "", ErrInvalidAgent
	}
	for _, r := range trimmed {
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return "", ErrInvalidAgent
	}
	return AgentID(trimmed), nil
}

// NormalizeTabName trims whitespace and control characters from a tab
// name, returning empty for unusable input.
func NormalizeTabName(name string) TabName {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return TabName(strings.TrimSpace(cleaned))
}
