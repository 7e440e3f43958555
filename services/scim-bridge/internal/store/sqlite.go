package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stoik/mailbridge/internal/models"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT NOT NULL UNIQUE,
    mailbox_id   TEXT NOT NULL,
    external_id  TEXT,
    active       INTEGER NOT NULL DEFAULT 1,
    user_name    TEXT NOT NULL UNIQUE,
    display_name TEXT,
    emails       TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);

CREATE TABLE IF NOT EXISTS metrics (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);

INSERT INTO metrics (name, value) VALUES ('users_created', 0) ON CONFLICT(name) DO NOTHING;
INSERT INTO metrics (name, value) VALUES ('users_updated', 0) ON CONFLICT(name) DO NOTHING;
INSERT INTO metrics (name, value) VALUES ('users_deleted', 0) ON CONFLICT(name) DO NOTHING;
`

const sqliteIdentityColumns = `id, mailbox_id, COALESCE(external_id, ''), active, user_name, COALESCE(display_name, ''), emails`

// SQLiteStore is the embedded Store backend. Writes take an IMMEDIATE
// transaction, so SQLite serializes writers while WAL readers proceed.
type SQLiteStore struct {
	pool *sqlitex.Pool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open pool. The store owns the pool and closes it.
func NewSQLiteStore(pool *sqlitex.Pool) *SQLiteStore {
	return &SQLiteStore{pool: pool}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, externalID, userName string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return sqliteExists(conn, "", externalID, userName)
}

func (s *SQLiteStore) ExistsOther(ctx context.Context, id, externalID, userName string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return sqliteExists(conn, id, externalID, userName)
}

// sqliteExists matches userName or a non-empty externalID on any identity
// other than excludeID.
func sqliteExists(conn *sqlite.Conn, excludeID, externalID, userName string) (bool, error) {
	found := false
	err := sqlitex.Execute(conn,
		`SELECT 1 FROM users
		WHERE (user_name = ? OR (? <> '' AND external_id = ?)) AND id <> ?
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{userName, externalID, externalID, excludeID},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("failed to check identity existence: %w", err)
	}
	return found, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, identity *models.Identity) (err error) {
	emails, err := json.Marshal(identity.Emails)
	if err != nil {
		return fmt.Errorf("failed to encode emails: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	taken, err := sqliteExists(conn, "", identity.ExternalID, identity.UserName)
	if err != nil {
		return err
	}
	if taken {
		return conflict(identity.ExternalID, identity.UserName)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO users (id, mailbox_id, external_id, active, user_name, display_name, emails)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				identity.ID,
				identity.MailboxID,
				nullable(identity.ExternalID),
				boolInt(identity.Active),
				identity.UserName,
				nullable(identity.DisplayName),
				string(emails),
			},
		})
	if err != nil {
		return sqliteWriteError(err, identity)
	}

	return sqliteIncrement(conn, models.CounterUsersCreated)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Identity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var identity *models.Identity
	err = sqlitex.Execute(conn,
		`SELECT `+sqliteIdentityColumns+` FROM users WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanSQLiteIdentity(stmt)
				if err != nil {
					return err
				}
				identity = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if identity == nil {
		return nil, notFound(id)
	}
	return identity, nil
}

func (s *SQLiteStore) List(ctx context.Context, offset, limit int) (identities []models.Identity, total int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	// page and count come from the same snapshot
	release := sqlitex.Save(conn)
	defer release(&err)

	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM users`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count identities: %w", err)
	}

	identities = []models.Identity{}
	err = sqlitex.Execute(conn,
		`SELECT `+sqliteIdentityColumns+` FROM users ORDER BY seq LIMIT ? OFFSET ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit, offset},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				identity, err := scanSQLiteIdentity(stmt)
				if err != nil {
					return err
				}
				identities = append(identities, identity)
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, total, nil
}

func (s *SQLiteStore) Update(ctx context.Context, identity *models.Identity) (err error) {
	emails, err := json.Marshal(identity.Emails)
	if err != nil {
		return fmt.Errorf("failed to encode emails: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	taken, err := sqliteExists(conn, identity.ID, identity.ExternalID, identity.UserName)
	if err != nil {
		return err
	}
	if taken {
		return conflict(identity.ExternalID, identity.UserName)
	}

	err = sqlitex.Execute(conn, `
		UPDATE users
		SET mailbox_id = ?,
		    external_id = ?,
		    active = ?,
		    user_name = ?,
		    display_name = ?,
		    emails = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				identity.MailboxID,
				nullable(identity.ExternalID),
				boolInt(identity.Active),
				identity.UserName,
				nullable(identity.DisplayName),
				string(emails),
				identity.ID,
			},
		})
	if err != nil {
		return sqliteWriteError(err, identity)
	}
	if conn.Changes() == 0 {
		return notFound(identity.ID)
	}

	return sqliteIncrement(conn, models.CounterUsersUpdated)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `DELETE FROM users WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	if conn.Changes() == 0 {
		return notFound(id)
	}

	return sqliteIncrement(conn, models.CounterUsersDeleted)
}

func (s *SQLiteStore) Counters(ctx context.Context) ([]models.Counter, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var counters []models.Counter
	err = sqlitex.Execute(conn, `SELECT name, value FROM metrics ORDER BY name`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			counters = append(counters, models.Counter{
				Name:  stmt.ColumnText(0),
				Value: stmt.ColumnInt64(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	return counters, nil
}

func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func sqliteIncrement(conn *sqlite.Conn, name string) error {
	err := sqlitex.Execute(conn, `UPDATE metrics SET value = value + 1 WHERE name = ?`,
		&sqlitex.ExecOptions{Args: []any{name}})
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", name, err)
	}
	if conn.Changes() != 1 {
		return fmt.Errorf("counter %s is not bootstrapped", name)
	}
	return nil
}

func sqliteWriteError(err error, identity *models.Identity) error {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return conflict(identity.ExternalID, identity.UserName)
	}
	return fmt.Errorf("failed to write identity: %w", err)
}

func scanSQLiteIdentity(stmt *sqlite.Stmt) (models.Identity, error) {
	identity := models.Identity{
		ID:          stmt.ColumnText(0),
		MailboxID:   stmt.ColumnText(1),
		ExternalID:  stmt.ColumnText(2),
		Active:      stmt.ColumnInt(3) != 0,
		UserName:    stmt.ColumnText(4),
		DisplayName: stmt.ColumnText(5),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(6)), &identity.Emails); err != nil {
		return models.Identity{}, fmt.Errorf("failed to decode emails of %s: %w", identity.ID, err)
	}
	return identity, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
