package domain

import (
	"fmt"
	"strings"

	"lan-chat/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MaxUserNameLength bounds names so heartbeats stay well inside one datagram.
const MaxUserNameLength = 64

type userName struct {
	Value string `validate:"required,max=64,excludesall=:"`
}

// NormalizeUserName trims the name and checks it can travel inside a colon-delimited command.
func NormalizeUserName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.ErrEmptyUserName
	}
	if strings.ContainsAny(trimmed, "\x00\r\n") {
		return "", errors.ErrInvalidUserName
	}
	if err := validate.Struct(userName{Value: trimmed}); err != nil {
		return "", fmt.Errorf("%w %q: %v", errors.ErrInvalidUserName, trimmed, err)
	}
	return trimmed, nil
}
