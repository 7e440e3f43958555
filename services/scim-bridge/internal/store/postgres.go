package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stoik/mailbridge/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    seq          BIGSERIAL UNIQUE,
    id           UUID PRIMARY KEY,
    mailbox_id   VARCHAR(255) NOT NULL,
    external_id  VARCHAR(255),
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    user_name    VARCHAR(255) NOT NULL UNIQUE,
    display_name VARCHAR(255),
    emails       JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);

CREATE TABLE IF NOT EXISTS metrics (
    name  VARCHAR(64) PRIMARY KEY,
    value BIGINT NOT NULL DEFAULT 0
);

INSERT INTO metrics (name, value) VALUES
    ('users_created', 0),
    ('users_updated', 0),
    ('users_deleted', 0)
ON CONFLICT (name) DO NOTHING;
`

const postgresIdentityColumns = `id::text, mailbox_id, COALESCE(external_id, ''), active, user_name, COALESCE(display_name, ''), emails::text`

// writerLockKey is the advisory lock every write transaction holds, so
// writers run one at a time like they do on SQLite.
const writerLockKey = 0x5c1b

const uniqueViolation = "23505"

// PostgresStore is the Store backend for a shared PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool. The store owns the pool and closes it.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, externalID, userName string) (bool, error) {
	return postgresExists(ctx, s.pool, "", externalID, userName)
}

func (s *PostgresStore) ExistsOther(ctx context.Context, id, externalID, userName string) (bool, error) {
	return postgresExists(ctx, s.pool, id, externalID, userName)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresExists matches userName or a non-empty externalID on any
// identity other than excludeID.
func postgresExists(ctx context.Context, q querier, excludeID, externalID, userName string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE (user_name = $1 OR ($2::text <> '' AND external_id = $2::text))
			  AND id::text <> $3::text
		)`, userName, externalID, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check identity existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, identity *models.Identity) error {
	emails, err := json.Marshal(identity.Emails)
	if err != nil {
		return fmt.Errorf("failed to encode emails: %w", err)
	}

	return s.write(ctx, func(tx pgx.Tx) error {
		taken, err := postgresExists(ctx, tx, "", identity.ExternalID, identity.UserName)
		if err != nil {
			return err
		}
		if taken {
			return conflict(identity.ExternalID, identity.UserName)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO users (id, mailbox_id, external_id, active, user_name, display_name, emails)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
			identity.ID,
			identity.MailboxID,
			nullable(identity.ExternalID),
			identity.Active,
			identity.UserName,
			nullable(identity.DisplayName),
			string(emails),
		)
		if err != nil {
			return postgresWriteError(err, identity)
		}
		return postgresIncrement(ctx, tx, models.CounterUsersCreated)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Identity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, notFound(id)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+postgresIdentityColumns+` FROM users WHERE id = $1`, uid)
	identity, err := scanPostgresIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]models.Identity, int, error) {
	var (
		identities []models.Identity
		total      int
	)
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
			return fmt.Errorf("failed to count identities: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT `+postgresIdentityColumns+` FROM users ORDER BY seq LIMIT $1 OFFSET $2`,
			limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list identities: %w", err)
		}
		defer rows.Close()

		identities = []models.Identity{}
		for rows.Next() {
			identity, err := scanPostgresIdentity(rows)
			if err != nil {
				return fmt.Errorf("failed to scan identity: %w", err)
			}
			identities = append(identities, identity)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return identities, total, nil
}

func (s *PostgresStore) Update(ctx context.Context, identity *models.Identity) error {
	emails, err := json.Marshal(identity.Emails)
	if err != nil {
		return fmt.Errorf("failed to encode emails: %w", err)
	}

	uid, err := uuid.Parse(identity.ID)
	if err != nil {
		return notFound(identity.ID)
	}

	return s.write(ctx, func(tx pgx.Tx) error {
		taken, err := postgresExists(ctx, tx, identity.ID, identity.ExternalID, identity.UserName)
		if err != nil {
			return err
		}
		if taken {
			return conflict(identity.ExternalID, identity.UserName)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET mailbox_id = $1,
			    external_id = $2,
			    active = $3,
			    user_name = $4,
			    display_name = $5,
			    emails = $6::jsonb
			WHERE id = $7`,
			identity.MailboxID,
			nullable(identity.ExternalID),
			identity.Active,
			identity.UserName,
			nullable(identity.DisplayName),
			string(emails),
			uid,
		)
		if err != nil {
			return postgresWriteError(err, identity)
		}
		if tag.RowsAffected() == 0 {
			return notFound(identity.ID)
		}
		return postgresIncrement(ctx, tx, models.CounterUsersUpdated)
	})
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return notFound(id)
	}

	return s.write(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, uid)
		if err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return notFound(id)
		}
		return postgresIncrement(ctx, tx, models.CounterUsersDeleted)
	})
}

func (s *PostgresStore) Counters(ctx context.Context) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, value FROM metrics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var c models.Counter
		if err := rows.Scan(&c.Name, &c.Value); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// write runs fn in a transaction holding the writer lock.
func (s *PostgresStore) write(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(writerLockKey)); err != nil {
			return fmt.Errorf("failed to acquire writer lock: %w", err)
		}
		return fn(tx)
	})
}

func postgresIncrement(ctx context.Context, tx pgx.Tx, name string) error {
	tag, err := tx.Exec(ctx, `UPDATE metrics SET value = value + 1 WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", name, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("counter %s is not bootstrapped", name)
	}
	return nil
}

func postgresWriteError(err error, identity *models.Identity) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return conflict(identity.ExternalID, identity.UserName)
	}
	return fmt.Errorf("failed to write identity: %w", err)
}

func scanPostgresIdentity(row pgx.Row) (models.Identity, error) {
	var (
		identity models.Identity
		emails   string
	)
	err := row.Scan(
		&identity.ID,
		&identity.MailboxID,
		&identity.ExternalID,
		&identity.Active,
		&identity.UserName,
		&identity.DisplayName,
		&emails,
	)
	if err != nil {
		return models.Identity{}, err
	}
	if err := json.Unmarshal([]byte(emails), &identity.Emails); err != nil {
		return models.Identity{}, fmt.Errorf("failed to decode emails of %s: %w", identity.ID, err)
	}
	return identity, nil
}
