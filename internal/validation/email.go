package validation

import (
	"errors"
	"net/mail"
)

// ValidateEmail checks the address an expiry notice would be sent to.
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return errors.New("email address is too long (max 254 characters)")
	}

	if email == "" {
		return errors.New("email address is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email address format")
	}

	return nil
}
