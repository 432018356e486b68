package identity

import (
	"context"
	"encoding/json"
	"time"
)

// ID is a principal's numeric address. It is also the relay destination on the wire.
type ID uint32

// Key is a 32-byte public key (X25519 or Ed25519).
type Key = [32]byte

// Identity is Aguardia's canonical principal.
type Identity struct {
	ID       ID
	Email    string // empty for provisioned devices
	PublicX  Key
	PublicEd Key

	Info      json.RawMessage
	AdminInfo json.RawMessage

	TimeReg time.Time
	TimeUpd time.Time
}

// CreateDeviceInput provisions a device on behalf of an existing principal.
type CreateDeviceInput struct {
	CreatedBy ID
	Name      string
	PublicX   Key
	PublicEd  Key
	Now       time.Time
}

// Store is the part of the directory the connection layer depends on.
type Store interface {
	// LookupBySigningKey returns the principal owning ed, or ErrNotFound.
	LookupBySigningKey(ctx context.Context, ed Key) (Identity, error)

	// UpsertByEmail creates the account for email or replaces its keys, returning its id.
	UpsertByEmail(ctx context.Context, email string, x, ed Key) (ID, error)
}

// Directory is the full principal store used by the command layer.
type Directory interface {
	Store

	// IDByKeys resolves the principal holding exactly this key pair.
	IDByKeys(ctx context.Context, x, ed Key) (ID, bool, error)

	// OwnsKeys reports whether id is registered with exactly this key pair.
	OwnsKeys(ctx context.Context, id ID, x, ed Key) (bool, error)

	Profile(ctx context.Context, id ID) (Identity, error)
	UpdateInfo(ctx context.Context, id ID, info json.RawMessage, now time.Time) error

	// CreateDevice returns an ErrConflict error when either key is already registered.
	CreateDevice(ctx context.Context, in CreateDeviceInput) (ID, error)

	// Delete removes the principal. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id ID) error
}
