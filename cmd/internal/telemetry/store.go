// Package telemetry stores the time-series records devices push with command 0x10.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
)

// MaxReadRecords caps a single Read.
const MaxReadRecords = 10_000

var ErrInvalidInput = errors.New("telemetry: invalid input")

// MaxTime is the latest instant accepted as a Read bound.
var MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Record is one stored payload.
type Record struct {
	ID       int64
	DeviceID identity.ID
	Time     time.Time // client-assigned, or receive time
	Sent     time.Time // receive time
	Payload  json.RawMessage
}

// Store is the time-series persistence boundary.
type Store interface {
	Append(ctx context.Context, deviceID identity.ID, at time.Time, payload json.RawMessage) (int64, error)

	// Read returns records with from <= Time <= to ordered by Time, at most limit of them.
	Read(ctx context.Context, deviceID identity.ID, from, to time.Time, limit int) ([]Record, error)

	// Delete removes one record only if it belongs to deviceID.
	Delete(ctx context.Context, dataID int64, deviceID identity.ID) error

	DeleteDevice(ctx context.Context, deviceID identity.ID) error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxReadRecords {
		return MaxReadRecords
	}
	return limit
}
