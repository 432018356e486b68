package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is a dev-only Directory used when no database is configured.
// Contents are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID ID
	byID   map[ID]*Identity
}

// NewMemoryStore constructs an empty MemoryStore. Ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		byID:   make(map[ID]*Identity),
	}
}

func (s *MemoryStore) LookupBySigningKey(ctx context.Context, ed Key) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.byID {
		if it.PublicEd == ed {
			return cloneIdentity(it), nil
		}
	}
	return Identity{}, notFound("identity.LookupBySigningKey")
}

func (s *MemoryStore) UpsertByEmail(ctx context.Context, email string, x, ed Key) (ID, error) {
	const op = "identity.UpsertByEmail"
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	email = NormalizeEmail(email)
	if email == "" {
		return 0, invalid(op, "email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Identity
	for _, it := range s.byID {
		if it.Email == email {
			existing = it
			continue
		}
		if it.PublicEd == ed {
			return 0, conflict(op, "public_ed")
		}
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.PublicX = x
		existing.PublicEd = ed
		existing.TimeUpd = now
		return existing.ID, nil
	}

	it := &Identity{
		ID:       s.nextID,
		Email:    email,
		PublicX:  x,
		PublicEd: ed,
		Info:     json.RawMessage(`{}`),
		TimeReg:  now,
		TimeUpd:  now,
	}
	s.byID[it.ID] = it
	s.nextID++
	return it.ID, nil
}

func (s *MemoryStore) IDByKeys(ctx context.Context, x, ed Key) (ID, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.byID {
		if it.PublicX == x && it.PublicEd == ed {
			return it.ID, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) OwnsKeys(ctx context.Context, id ID, x, ed Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.byID[id]
	return ok && it.PublicX == x && it.PublicEd == ed, nil
}

func (s *MemoryStore) Profile(ctx context.Context, id ID) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.byID[id]
	if !ok {
		return Identity{}, notFound("identity.Profile")
	}
	return cloneIdentity(it), nil
}

func (s *MemoryStore) UpdateInfo(ctx context.Context, id ID, info json.RawMessage, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.byID[id]
	if !ok {
		return notFound("identity.UpdateInfo")
	}
	it.Info = bytes.Clone(info)
	it.TimeUpd = now
	return nil
}

func (s *MemoryStore) CreateDevice(ctx context.Context, in CreateDeviceInput) (ID, error) {
	const op = "identity.CreateDevice"
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, adminInfo, err := deviceInfo(in)
	if err != nil {
		return 0, invalid(op, err.Error())
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.byID {
		if it.PublicEd == in.PublicEd {
			return 0, conflict(op, "public_ed")
		}
	}

	it := &Identity{
		ID:        s.nextID,
		PublicX:   in.PublicX,
		PublicEd:  in.PublicEd,
		Info:      info,
		AdminInfo: adminInfo,
		TimeReg:   now,
		TimeUpd:   now,
	}
	s.byID[it.ID] = it
	s.nextID++
	return it.ID, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	return nil
}

func cloneIdentity(it *Identity) Identity {
	out := *it
	out.Info = bytes.Clone(it.Info)
	out.AdminInfo = bytes.Clone(it.AdminInfo)
	return out
}

// deviceInfo builds the public and admin metadata documents stored for a new device.
func deviceInfo(in CreateDeviceInput) (info, adminInfo json.RawMessage, err error) {
	info, err = json.Marshal(struct {
		Name string `json:"name"`
	}{in.Name})
	if err != nil {
		return nil, nil, err
	}
	adminInfo, err = json.Marshal(struct {
		CreatedBy ID     `json:"created_by"`
		Name      string `json:"name"`
	}{in.CreatedBy, in.Name})
	if err != nil {
		return nil, nil, err
	}
	return info, adminInfo, nil
}
