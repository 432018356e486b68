package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
)

// MemoryStore is a dev-only fallback when DB is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[identity.ID][]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		records: make(map[identity.ID][]Record),
	}
}

func (s *MemoryStore) Append(ctx context.Context, deviceID identity.ID, at time.Time, payload json.RawMessage) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !json.Valid(payload) {
		return 0, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:       s.nextID,
		DeviceID: deviceID,
		Time:     at.UTC(),
		Sent:     time.Now().UTC(),
		Payload:  bytes.Clone(payload),
	}
	s.nextID++
	s.records[deviceID] = append(s.records[deviceID], rec)
	return rec.ID, nil
}

func (s *MemoryStore) Read(ctx context.Context, deviceID identity.ID, from, to time.Time, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	s.mu.Lock()
	var out []Record
	for _, r := range s.records[deviceID] {
		if r.Time.Before(from) || r.Time.After(to) {
			continue
		}
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, dataID int64, deviceID identity.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[deviceID]
	for i, r := range recs {
		if r.ID == dataID {
			s.records[deviceID] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, deviceID identity.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, deviceID)
	s.mu.Unlock()
	return nil
}
