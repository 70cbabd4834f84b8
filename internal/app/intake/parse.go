// Package intake turns the text a requester sends into credentials.
package intake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{5,}$`)
	passwordPattern = regexp.MustCompile(`^[a-zA-Z0-9]{6,}$`)
	fullnamePattern = regexp.MustCompile(`^[a-zA-Z]{6,15}$`)
)

// ParseLine reads one "username,password,fullname" line.
func ParseLine(line string) (model.Credentials, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return model.Credentials{}, errors.New("format must be username,password,fullname")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	username, password, fullname := parts[0], parts[1], parts[2]

	switch {
	case username == "" || password == "" || fullname == "":
		return model.Credentials{}, errors.New("fields cannot be empty")
	case !usernamePattern.MatchString(username):
		return model.Credentials{}, fmt.Errorf("invalid username: %s", username)
	case !passwordPattern.MatchString(password):
		return model.Credentials{}, fmt.Errorf("invalid password for username: %s", username)
	case !fullnamePattern.MatchString(fullname):
		return model.Credentials{}, fmt.Errorf("invalid fullname for username: %s", username)
	}
	return model.Credentials{Username: username, Password: password, Fullname: fullname}, nil
}

// Parse validates every non-blank line. Line numbers count non-blank lines
// only, starting at 1. Invalid lines are reported and skipped.
func Parse(text string) ([]model.Credentials, []*model.ValidationError) {
	var (
		creds []model.Credentials
		errs  []*model.ValidationError
		n     int
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		n++
		c, err := ParseLine(line)
		if err != nil {
			errs = append(errs, &model.ValidationError{Line: n, Input: line, Reason: err.Error()})
			continue
		}
		creds = append(creds, c)
	}
	return creds, errs
}
