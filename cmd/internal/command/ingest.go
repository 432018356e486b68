package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
)

var unixEpoch = time.Unix(0, 0).UTC()

type ingestReply struct {
	Result bool `json:"result"`
}

// ingest stores one telemetry record for sender.
// The record time is the body's "time" field (unix seconds) when present, else now.
func (d *Dispatcher) ingest(ctx context.Context, sender identity.ID, body []byte) []byte {
	if !json.Valid(body) {
		d.metrics.command("ingest", "error")
		return errorBody("Invalid JSON")
	}

	at := d.now().UTC()
	var probe struct {
		Time *int64 `json:"time"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Time != nil {
		at = time.Unix(*probe.Time, 0).UTC()
	}

	if _, err := d.telemetry.Append(ctx, sender, at, body); err != nil {
		d.metrics.command("ingest", "error")
		d.log.Error("command.ingest.fail", "sender", sender, "err", err)
		return errorBody("db_error: " + err.Error())
	}

	d.metrics.command("ingest", "ok")
	b, _ := json.Marshal(ingestReply{Result: true})
	return b
}
