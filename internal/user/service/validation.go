package service

import (
	"regexp"
	"strings"
	"unicode"

	pkgerrors "ojcore/pkg/errors"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// Usernames start with a letter and are 3-32 chars of letters, digits, dot, underscore or hyphen.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]{2,31}$`)

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return pkgerrors.New(pkgerrors.InvalidUsername)
	}
	return nil
}

// validateLoginPassword only bounds the length, so accounts created under an
// older policy can still sign in.
func validateLoginPassword(password string) error {
	switch {
	case len(password) < minPasswordLength:
		return pkgerrors.New(pkgerrors.PasswordTooWeak)
	case len(password) > maxPasswordLength:
		return pkgerrors.New(pkgerrors.InvalidPassword)
	}
	return nil
}

// validatePassword applies the full policy to a password being set: printable
// ASCII without spaces, at least one letter and one digit.
func validatePassword(password string) error {
	if err := validateLoginPassword(password); err != nil {
		return err
	}
	if strings.IndexFunc(password, func(r rune) bool { return r < '!' || r > '~' }) >= 0 {
		return pkgerrors.New(pkgerrors.InvalidPassword)
	}
	hasLetter := strings.IndexFunc(password, unicode.IsLetter) >= 0
	hasDigit := strings.IndexFunc(password, unicode.IsDigit) >= 0
	if !hasLetter || !hasDigit {
		return pkgerrors.New(pkgerrors.PasswordTooWeak)
	}
	return nil
}
