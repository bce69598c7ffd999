package deskhost

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
var pinPattern = regexp.MustCompile(`^[0-9]{6}$`)

// AuthCredentials is the persistent {username, pin} pair: usernames 3-32
// chars [A-Za-z0-9_-]; PIN exactly 6 digits.
type AuthCredentials struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

// Validate checks the credential shape.
func (c AuthCredentials) Validate() error {
	if !usernamePattern.MatchString(c.Username) {
		return ErrUsernameLength
	}
	if !pinPattern.MatchString(c.PIN) {
		return ErrPINLength
	}
	return nil
}

// LoadAuthCredentials reads and validates the single auth.json file in the
// working directory.
func LoadAuthCredentials(path string) (AuthCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AuthCredentials{}, fmt.Errorf("auth: read %s: %w", path, err)
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return AuthCredentials{}, fmt.Errorf("auth: parse %s: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return AuthCredentials{}, fmt.Errorf("auth: %s: %w", path, err)
	}
	return creds, nil
}
