package valueobject

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidEmail = errors.New("invalid email format")

	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// Email represents a valid, normalized email address
type Email struct {
	value string
}

// NewEmail trims and lower-cases the address before validating it
func NewEmail(email string) (*Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if !isValidEmail(normalized) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return &Email{value: normalized}, nil
}

// String returns the email string
func (e *Email) String() string {
	return e.value
}

// Domain returns the part after the @
func (e *Email) Domain() string {
	return e.value[strings.LastIndex(e.value, "@")+1:]
}

func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	return emailRegex.MatchString(email)
}
