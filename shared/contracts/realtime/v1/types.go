// Package v1 defines the Aguardia realtime protocol v1 contract.
//
// It is shared between the server and clients to keep the wire protocol
// authoritative: login handshake JSON (text frames) and the binary relay
// frame layout.
package v1

// Login command types (client -> server, text frames).
const (
	TypeEmail = "email"
	TypeCode  = "code"
)

// Server actions (server -> client, text frames).
const (
	ActionLogin           = "login"
	ActionCodeSent        = "code_sent"
	ActionCodeAlreadySent = "code_already_sent"
	ActionLoginSuccess    = "login_success"
)

// Handshake error messages sent as {"error": ...} before the server closes.
const (
	ErrMsgSignature     = "Signature failed"
	ErrMsgStage         = "Invalid stage"
	ErrMsgEmailFormat   = "Invalid email format"
	ErrMsgCode          = "Invalid code"
	ErrMsgCommandFormat = "Invalid command format"
	ErrMsgTimeout       = "Timeout"
	ErrMsgEmail         = "Email error"
	ErrMsgStorage       = "DB error"
)

// EmailCommand asks the server to mail a login code.
// Signature is hex Ed25519 over "<hash>/email/<email>".
type EmailCommand struct {
	Email     string `json:"email"`
	Signature string `json:"signature"`
}

// CodeCommand completes the login.
// Signature is hex Ed25519 over "<hash>/code/<code>/<x_public>".
type CodeCommand struct {
	Code      string `json:"code"`
	XPublic   string `json:"x_public"`
	Signature string `json:"signature"`
}

// LoginPrompt opens the handshake and carries the correlator.
type LoginPrompt struct {
	Action string `json:"action"`
	Hash   string `json:"hash"`
}

// LoginSuccess carries the new id and the server's public keys (uppercase hex).
type LoginSuccess struct {
	Action   string `json:"action"`
	MyID     uint32 `json:"my_id"`
	ServerX  string `json:"server_X"`
	ServerEd string `json:"server_ed"`
}

// ErrorReply is the last text frame before a handshake close.
type ErrorReply struct {
	Error string `json:"error"`
}

// EmailSigningPayload is the byte string signed in an EmailCommand.
func EmailSigningPayload(hash, email string) string {
	return hash + "/email/" + email
}

// CodeSigningPayload is the byte string signed in a CodeCommand.
func CodeSigningPayload(hash, code, xPublic string) string {
	return hash + "/code/" + code + "/" + xPublic
}
