package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Quality bounds for revision grading (SM-2 scale).
const (
	MinQuality = 0
	MaxQuality = 5
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateQuality validates that a revision grade is within 0-5.
func ValidateQuality(quality int) error {
	if quality < MinQuality || quality > MaxQuality {
		return ErrInvalidQuality(quality)
	}
	return nil
}

// ParseQuality parses and validates a revision grade argument.
func ParseQuality(s string) (int, error) {
	q, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, WrapWithSuggestion(
			fmt.Errorf("invalid quality: %q", s),
			"Quality must be a number between 0 and 5",
		)
	}
	return q, ValidateQuality(q)
}

// ValidateUsername checks a username argument before it is sent to the server
// or used as a cache key suffix.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("username cannot be empty")
	}
	err := Validator().Var(username, "min=2,max=32,printascii,excludesall=/#?%")
	if err != nil || strings.ContainsAny(username, " \t") {
		return WrapWithSuggestion(
			fmt.Errorf("invalid username: %q", username),
			"Usernames are 2-32 printable characters without spaces, '/', '#', '?' or '%'",
		)
	}
	return nil
}

// ValidateEmail checks an email address for registration.
func ValidateEmail(email string) error {
	if err := Validator().Var(email, "required,email"); err != nil {
		return WrapWithSuggestion(
			fmt.Errorf("invalid email: %q", email),
			"Use a full address such as name@example.com",
		)
	}
	return nil
}
