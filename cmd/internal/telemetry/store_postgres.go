package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirushik/aguardia-server/cmd/identity"
)

// PostgresStore implements Store over PostgreSQL.
// The pgx pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("telemetry: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("telemetry: nil pool")
	}
	return st, nil
}

// Migrate creates the data table and its lookup index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	data := s.table()
	idx := pgx.Identifier{"ix_data_device_time"}.Sanitize()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  device_id INTEGER NOT NULL,
  time_send TIMESTAMPTZ NOT NULL DEFAULT now(),
  time TIMESTAMPTZ NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %s ON %s (device_id, time);`, data, idx, data))
	if err != nil {
		return fmt.Errorf("telemetry: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, deviceID identity.ID, at time.Time, payload json.RawMessage) (int64, error) {
	if !json.Valid(payload) {
		return 0, ErrInvalidInput
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (device_id, time_send, time, payload) VALUES ($1, now(), $2, $3) RETURNING id`,
		int64(deviceID), at.UTC(), string(payload),
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) Read(ctx context.Context, deviceID identity.ID, from, to time.Time, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, time_send, time, payload
		   FROM `+s.table()+`
		  WHERE device_id = $1 AND time BETWEEN $2 AND $3
		  ORDER BY time
		  LIMIT $4`,
		int64(deviceID), from.UTC(), to.UTC(), clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r := Record{DeviceID: deviceID}
		var payload []byte
		if err := rows.Scan(&r.ID, &r.Sent, &r.Time, &payload); err != nil {
			return nil, err
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, dataID int64, deviceID identity.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1 AND device_id = $2`, dataID, int64(deviceID))
	return err
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID identity.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE device_id = $1`, int64(deviceID))
	return err
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "data"}.Sanitize()
}
