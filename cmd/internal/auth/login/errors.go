package login

import (
	"errors"

	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

// Handshake failures. Each one ends the connection.
var (
	ErrBadSignature = errors.New("login: signature failed")
	ErrBadStage     = errors.New("login: message out of order")
	ErrBadEmail     = errors.New("login: invalid email")
	ErrBadCode      = errors.New("login: invalid code")
	ErrBadCommand   = errors.New("login: invalid command")
	ErrTimeout      = errors.New("login: timeout")
	ErrMail         = errors.New("login: mail delivery failed")
	ErrStorage      = errors.New("login: storage failed")
	ErrClosed       = errors.New("login: connection closed")
)

// wireMessage maps a failure to the {"error": ...} text sent before closing.
func wireMessage(err error) string {
	switch {
	case errors.Is(err, ErrBadSignature):
		return v1.ErrMsgSignature
	case errors.Is(err, ErrBadStage):
		return v1.ErrMsgStage
	case errors.Is(err, ErrBadEmail):
		return v1.ErrMsgEmailFormat
	case errors.Is(err, ErrBadCode):
		return v1.ErrMsgCode
	case errors.Is(err, ErrTimeout):
		return v1.ErrMsgTimeout
	case errors.Is(err, ErrMail):
		return v1.ErrMsgEmail
	case errors.Is(err, ErrStorage):
		return v1.ErrMsgStorage
	default:
		return v1.ErrMsgCommandFormat
	}
}

// Outcome is a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrBadStage):
		return "bad_stage"
	case errors.Is(err, ErrBadEmail):
		return "bad_email"
	case errors.Is(err, ErrBadCode):
		return "bad_code"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMail):
		return "mail_error"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "bad_command"
	}
}
