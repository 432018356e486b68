package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType = errors.New("unknown login command type")
	ErrMissingType = errors.New("missing field: type")
)

// LoginCommand is the decoded client message. Exactly one of Email, Code is set.
type LoginCommand struct {
	Type  string
	Email *EmailCommand
	Code  *CodeCommand
}

// DecodeLoginCommand strictly decodes a handshake text frame.
// Unknown types and unknown fields are errors.
func DecodeLoginCommand(raw []byte) (LoginCommand, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return LoginCommand{}, err
	}
	if strings.TrimSpace(head.Type) == "" {
		return LoginCommand{}, ErrMissingType
	}

	switch head.Type {
	case TypeEmail:
		var c struct {
			Type string `json:"type"`
			EmailCommand
		}
		if err := decodeStrict(raw, &c); err != nil {
			return LoginCommand{}, err
		}
		return LoginCommand{Type: TypeEmail, Email: &c.EmailCommand}, nil
	case TypeCode:
		var c struct {
			Type string `json:"type"`
			CodeCommand
		}
		if err := decodeStrict(raw, &c); err != nil {
			return LoginCommand{}, err
		}
		return LoginCommand{Type: TypeCode, Code: &c.CodeCommand}, nil
	default:
		return LoginCommand{}, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

// Marshal renders a client command with its type tag.
func (c LoginCommand) Marshal() ([]byte, error) {
	switch {
	case c.Email != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			EmailCommand
		}{TypeEmail, *c.Email})
	case c.Code != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			CodeCommand
		}{TypeCode, *c.Code})
	default:
		return nil, ErrMissingType
	}
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
