package command

import (
	"context"
	"encoding/json"
	"math/rand/v2"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/telemetry"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

type action func(ctx context.Context, sender identity.ID, req request) (any, error)

func (d *Dispatcher) actions() map[string]action {
	return map[string]action{
		"status":            d.status,
		"my_id":             d.myID,
		"get_id":            d.getID,
		"is_online":         d.isOnline,
		"send_to":           d.sendTo,
		"my_info":           d.myInfo,
		"update_my_info":    d.updateMyInfo,
		"create_new_device": d.createNewDevice,
		"delete_device":     d.deleteDevice,
		"read_data":         d.readData,
		"delete_data":       d.deleteData,
	}
}

func (d *Dispatcher) status(context.Context, identity.ID, request) (any, error) {
	return true, nil
}

func (d *Dispatcher) myID(_ context.Context, sender identity.ID, _ request) (any, error) {
	return sender, nil
}

func (d *Dispatcher) getID(ctx context.Context, _ identity.ID, req request) (any, error) {
	x, ed, err := req.keys()
	if err != nil {
		return nil, err
	}
	id, ok, err := d.identities.IDByKeys(ctx, x, ed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return false, nil
	}
	return id, nil
}

func (d *Dispatcher) isOnline(_ context.Context, _ identity.ID, req request) (any, error) {
	id, err := principal(req.UserID, "user_id")
	if err != nil {
		return nil, err
	}
	x, ed, err := req.keys()
	if err != nil {
		return nil, err
	}
	return d.presence.IsLive(id, x, ed), nil
}

// sendTo pushes a server-signed message to a live session.
func (d *Dispatcher) sendTo(ctx context.Context, sender identity.ID, req request) (any, error) {
	id, err := principal(req.UserID, "user_id")
	if err != nil {
		return nil, err
	}
	x, ed, err := req.keys()
	if err != nil {
		return nil, err
	}
	if !d.presence.IsLive(id, x, ed) {
		return nil, failure("offline")
	}
	body, err := str(req.Body, "body")
	if err != nil {
		return nil, err
	}

	inner := v1.Inner{
		MessageID: uint16(rand.IntN(0xFFFF) + 1),
		Command:   v1.CommandJSON,
		Body:      []byte(body),
	}
	sealed, err := envelope.Seal(inner.Bytes(), d.keys.XSecret, d.keys.EdSecret, x, envelope.Now())
	if err != nil {
		return nil, failure("send_error")
	}
	if !d.presence.DeliverBinary(ctx, id, v1.Frame(v1.ServerAddress, sealed)) {
		return nil, failure("send_error")
	}
	d.log.Debug("command.send_to", "sender", sender, "to", id, "msg_id", inner.MessageID)
	return true, nil
}

type profile struct {
	Info    json.RawMessage `json:"info"`
	TimeReg int64           `json:"time_reg"`
	TimeUpd int64           `json:"time_upd"`
}

func (d *Dispatcher) myInfo(ctx context.Context, sender identity.ID, _ request) (any, error) {
	it, err := d.identities.Profile(ctx, sender)
	if identity.IsNotFound(err) {
		return nil, failure("user not found")
	}
	if err != nil {
		return nil, err
	}
	info := it.Info
	if len(info) == 0 {
		info = json.RawMessage("null")
	}
	return profile{Info: info, TimeReg: it.TimeReg.Unix(), TimeUpd: it.TimeUpd.Unix()}, nil
}

func (d *Dispatcher) updateMyInfo(ctx context.Context, sender identity.ID, req request) (any, error) {
	if len(req.Info) == 0 {
		return nil, failure("no info")
	}
	if err := d.identities.UpdateInfo(ctx, sender, req.Info, d.now().UTC()); err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) createNewDevice(ctx context.Context, sender identity.ID, req request) (any, error) {
	name, err := str(req.Name, "name")
	if err != nil {
		return nil, err
	}
	x, ed, err := req.keys()
	if err != nil {
		return nil, err
	}

	id, err := d.identities.CreateDevice(ctx, identity.CreateDeviceInput{
		CreatedBy: sender,
		Name:      name,
		PublicX:   x,
		PublicEd:  ed,
		Now:       d.now().UTC(),
	})
	if identity.IsConflict(err) {
		return nil, failure("already_exists")
	}
	if err != nil {
		return nil, err
	}
	d.log.Info("command.device.created", "sender", sender, "device_id", id)
	return id, nil
}

// authorize admits admins, the device itself, and callers presenting the device's own keys.
func (d *Dispatcher) authorize(ctx context.Context, sender, device identity.ID, req request) error {
	if d.isAdmin(sender) || sender == device {
		return nil
	}
	x, ed, err := req.keys()
	if err != nil {
		return failure("bad x/ed")
	}
	ok, err := d.identities.OwnsKeys(ctx, device, x, ed)
	if err != nil {
		return failure("db error")
	}
	if !ok {
		return failure("access denied")
	}
	return nil
}

func (d *Dispatcher) deleteDevice(ctx context.Context, sender identity.ID, req request) (any, error) {
	device, err := principal(req.DeviceID, "device_id")
	if err != nil {
		return nil, err
	}
	if err := d.authorize(ctx, sender, device, req); err != nil {
		return nil, err
	}
	if err := d.identities.Delete(ctx, device); err != nil {
		return nil, err
	}
	if err := d.telemetry.DeleteDevice(ctx, device); err != nil {
		return nil, err
	}
	d.log.Info("command.device.deleted", "sender", sender, "device_id", device)
	return true, nil
}

type dataRecord struct {
	ID      int64           `json:"id"`
	Time    int64           `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

func (d *Dispatcher) readData(ctx context.Context, sender identity.ID, req request) (any, error) {
	device, err := principal(req.DeviceID, "device_id")
	if err != nil {
		return nil, err
	}
	if err := d.authorize(ctx, sender, device, req); err != nil {
		return nil, err
	}

	from := unixBound(req.TimeFrom, unixEpoch)
	to := unixBound(req.TimeTo, telemetry.MaxTime)
	recs, err := d.telemetry.Read(ctx, device, from, to, telemetry.MaxReadRecords)
	if err != nil {
		return nil, err
	}

	out := make([]dataRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, dataRecord{ID: r.ID, Time: r.Time.Unix(), Payload: r.Payload})
	}
	return out, nil
}

func (d *Dispatcher) deleteData(ctx context.Context, sender identity.ID, req request) (any, error) {
	dataID, err := req.dataID()
	if err != nil {
		return nil, err
	}
	device, err := principal(req.DeviceID, "device_id")
	if err != nil {
		return nil, err
	}
	if err := d.authorize(ctx, sender, device, req); err != nil {
		return nil, err
	}
	if err := d.telemetry.Delete(ctx, dataID, device); err != nil {
		return nil, err
	}
	return true, nil
}
