package command

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/telemetry"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

// request is the union of all 0x00 action fields.
// Typed fields stay raw so a wrong type is reported per field, not as bad JSON.
type request struct {
	Action   string          `json:"action"`
	X        json.RawMessage `json:"x"`
	Ed       json.RawMessage `json:"ed"`
	UserID   json.RawMessage `json:"user_id"`
	DeviceID json.RawMessage `json:"device_id"`
	DataID   json.RawMessage `json:"data_id"`
	Name     json.RawMessage `json:"name"`
	Body     json.RawMessage `json:"body"`
	Info     json.RawMessage `json:"info"`
	TimeFrom json.RawMessage `json:"time_from"`
	TimeTo   json.RawMessage `json:"time_to"`
}

func str(raw json.RawMessage, key string) (string, error) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", failure("Invalid Key '" + key + "'")
	}
	return s, nil
}

func (r request) keys() (x, ed identity.Key, err error) {
	xs, err := str(r.X, "x")
	if err != nil {
		return x, ed, err
	}
	eds, err := str(r.Ed, "ed")
	if err != nil {
		return x, ed, err
	}
	if x, err = envelope.ParseKey(xs); err != nil {
		return x, ed, failure("bad x")
	}
	if ed, err = envelope.ParseKey(eds); err != nil {
		return x, ed, failure("bad ed")
	}
	return x, ed, nil
}

func principal(raw json.RawMessage, key string) (identity.ID, error) {
	var n int64
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil || n < 0 || n > int64(^uint32(0)) {
		return 0, failure("no " + key)
	}
	return identity.ID(n), nil
}

func (r request) dataID() (int64, error) {
	var n int64
	if len(r.DataID) == 0 || json.Unmarshal(r.DataID, &n) != nil {
		return 0, failure("no data_id")
	}
	return n, nil
}

// unixBound reads a unix-seconds bound given as a number or a numeric string.
// Missing or unparsable values fall back to def.
func unixBound(raw json.RawMessage, def time.Time) time.Time {
	if len(raw) == 0 {
		return def
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return def
		}
		if n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
			return def
		}
	}
	if n >= telemetry.MaxTime.Unix() {
		return telemetry.MaxTime
	}
	if n < 0 {
		n = 0
	}
	return time.Unix(n, 0).UTC()
}
