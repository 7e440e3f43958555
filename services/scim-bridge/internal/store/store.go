// Package store persists the mapping between SCIM identities and remote
// mailboxes together with the provisioning counters.
//
// Every mutation and its counter increment commit in one transaction, so a
// crash never leaves a counter out of step with the users table.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stoik/mailbridge/internal/models"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/db"
)

var (
	// ErrNotFound is returned when no identity has the requested id.
	ErrNotFound = errors.New("identity not found")

	// ErrConflict is returned when externalId or userName is already taken.
	ErrConflict = errors.New("identity already exists")
)

// Store is the durable identity mapping.
type Store interface {
	// Migrate creates tables and bootstraps the counters. It is idempotent.
	Migrate(ctx context.Context) error

	// Exists reports whether any identity matches externalID or userName.
	// An empty externalID matches nothing.
	Exists(ctx context.Context, externalID, userName string) (bool, error)

	// ExistsOther is Exists ignoring the identity with the given id.
	ExistsOther(ctx context.Context, id, externalID, userName string) (bool, error)

	// Insert persists a new identity and increments users_created.
	Insert(ctx context.Context, identity *models.Identity) error

	// Get returns the identity with the given id.
	Get(ctx context.Context, id string) (*models.Identity, error)

	// List returns a page in insertion order plus the total number of identities.
	List(ctx context.Context, offset, limit int) ([]models.Identity, int, error)

	// Update replaces every mutable field of identity.ID and increments
	// users_updated. It fails with ErrConflict when another identity holds
	// the new userName or externalId.
	Update(ctx context.Context, identity *models.Identity) error

	// Delete removes an identity and increments users_deleted.
	Delete(ctx context.Context, id string) error

	// Counters returns the provisioning counters ordered by name.
	Counters(ctx context.Context) ([]models.Counter, error)

	Close() error
}

// Open selects a backend from databaseURL: postgres:// and postgresql://
// URLs use PostgreSQL, anything else is a SQLite file path (an optional
// sqlite:// prefix is stripped).
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (Store, error) {
	if IsPostgresURL(databaseURL) {
		pool, err := db.OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres identity store")
		return NewPostgresStore(pool), nil
	}

	path := strings.TrimPrefix(databaseURL, "sqlite://")
	pool, err := db.OpenSQLite(path, 0, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("using sqlite identity store", "path", path)
	return NewSQLiteStore(pool), nil
}

// IsPostgresURL reports whether databaseURL addresses a PostgreSQL server.
func IsPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}

func notFound(id string) error {
	return fmt.Errorf("identity %q: %w", id, ErrNotFound)
}

func conflict(externalID, userName string) error {
	return fmt.Errorf("identity with externalId %q or userName %q: %w", externalID, userName, ErrConflict)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
