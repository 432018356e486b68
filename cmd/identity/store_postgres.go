package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// Migrate creates the users table when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id SERIAL PRIMARY KEY,
  email TEXT NULL,
  public_x BYTEA NOT NULL,
  public_ed BYTEA NOT NULL,
  info JSONB NOT NULL DEFAULT '{}'::jsonb,
  admin_info JSONB NOT NULL DEFAULT '{}'::jsonb,
  time_reg TIMESTAMPTZ NOT NULL DEFAULT now(),
  time_upd TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_users_email UNIQUE (email),
  CONSTRAINT uq_users_public_ed UNIQUE (public_ed),
  CONSTRAINT chk_users_public_x_len CHECK (octet_length(public_x) = 32),
  CONSTRAINT chk_users_public_ed_len CHECK (octet_length(public_ed) = 32)
);`, users))
	if err != nil {
		return fmt.Errorf("identity: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupBySigningKey(ctx context.Context, ed Key) (Identity, error) {
	const op = "identity.LookupBySigningKey"

	it, err := s.scanOne(ctx, `WHERE public_ed = $1`, ed[:])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, notFound(op)
		}
		return Identity{}, err
	}
	return it, nil
}

func (s *PostgresStore) UpsertByEmail(ctx context.Context, email string, x, ed Key) (ID, error) {
	const op = "identity.UpsertByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return 0, invalid(op, "email is required")
	}

	users := pgIdent(s.schema, "users")
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+users+` (email, public_x, public_ed) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO UPDATE
		   SET public_x = EXCLUDED.public_x, public_ed = EXCLUDED.public_ed, time_upd = now()
		 RETURNING id`,
		email, x[:], ed[:],
	).Scan(&id)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return 0, conflict(op, field)
		}
		return 0, err
	}
	return ID(id), nil
}

func (s *PostgresStore) IDByKeys(ctx context.Context, x, ed Key) (ID, bool, error) {
	users := pgIdent(s.schema, "users")
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM `+users+` WHERE public_x = $1 AND public_ed = $2`,
		x[:], ed[:],
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ID(id), true, nil
}

func (s *PostgresStore) OwnsKeys(ctx context.Context, id ID, x, ed Key) (bool, error) {
	users := pgIdent(s.schema, "users")
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+users+` WHERE id = $1 AND public_x = $2 AND public_ed = $3 LIMIT 1`,
		int64(id), x[:], ed[:],
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Profile(ctx context.Context, id ID) (Identity, error) {
	const op = "identity.Profile"

	it, err := s.scanOne(ctx, `WHERE id = $1`, int64(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, notFound(op)
		}
		return Identity{}, err
	}
	return it, nil
}

func (s *PostgresStore) UpdateInfo(ctx context.Context, id ID, info json.RawMessage, now time.Time) error {
	const op = "identity.UpdateInfo"

	if !json.Valid(info) {
		return invalid(op, "info is not valid JSON")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET info = $1, time_upd = $2 WHERE id = $3`,
		string(info), now, int64(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) CreateDevice(ctx context.Context, in CreateDeviceInput) (ID, error) {
	const op = "identity.CreateDevice"

	info, adminInfo, err := deviceInfo(in)
	if err != nil {
		return 0, invalid(op, err.Error())
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+users+` (public_x, public_ed, info, admin_info, time_reg, time_upd)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		in.PublicX[:], in.PublicEd[:], string(info), string(adminInfo), now,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, conflict(op, "public_ed")
		}
		return 0, err
	}
	return ID(id), nil
}

func (s *PostgresStore) Delete(ctx context.Context, id ID) error {
	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx, `DELETE FROM `+users+` WHERE id = $1`, int64(id))
	return err
}

func (s *PostgresStore) scanOne(ctx context.Context, where string, arg any) (Identity, error) {
	users := pgIdent(s.schema, "users")

	var (
		out       Identity
		id        int64
		email     *string
		x, ed     []byte
		info      []byte
		adminInfo []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, public_x, public_ed, info, admin_info, time_reg, time_upd
		   FROM `+users+` `+where,
		arg,
	).Scan(&id, &email, &x, &ed, &info, &adminInfo, &out.TimeReg, &out.TimeUpd)
	if err != nil {
		return Identity{}, err
	}

	out.ID = ID(id)
	if email != nil {
		out.Email = *email
	}
	copy(out.PublicX[:], x)
	copy(out.PublicEd[:], ed)
	out.Info = json.RawMessage(info)
	out.AdminInfo = json.RawMessage(adminInfo)
	return out, nil
}

// ---- helpers ----

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email":
		return "email", true
	case "uq_users_public_ed":
		return "public_ed", true
	default:
		return "unique", true
	}
}
