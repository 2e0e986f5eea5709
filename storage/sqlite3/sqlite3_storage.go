// Package sqlite3 persists grants in a SQLite database file, suitable for
// single-node deployments and tests that want durable storage without a
// server.
package sqlite3

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/grantry/grantry"
)

//go:embed migrations/*.sql
var fs embed.FS

func RunMigrations(filepath string) error {
	driver, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	migrations, err := migrate.NewWithSourceInstance("iofs", driver, "sqlite3://"+filepath)
	if err != nil {
		return err
	}
	err = migrations.Up()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

type SQLite3Storage struct {
	db *sql.DB
}

func NewSQLite3Storage(filepath string) (*SQLite3Storage, error) {
	db, err := sql.Open("sqlite3", filepath)
	return &SQLite3Storage{db}, err
}

func (s *SQLite3Storage) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is usable, for health probes.
func (s *SQLite3Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite3Storage) Insert(ctx context.Context, g grantry.Grant) (grantry.Grant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return grantry.Grant{}, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO grants (uuid, action, argument, exclude, principal_kind, principal_id) VALUES (?, ?, ?, ?, ?, ?)",
		id.String(), g.Action, g.Argument, g.Exclude, string(g.Principal.Kind), g.Principal.ID)
	if err != nil {
		return grantry.Grant{}, storageError(err)
	}
	g.ID = id
	return g, nil
}

func (s *SQLite3Storage) Delete(ctx context.Context, id uuid.UUID) (grantry.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return grantry.Grant{}, storageError(err)
	}
	defer tx.Rollback()

	g, err := scanGrant(tx.QueryRowContext(ctx,
		"SELECT uuid, action, argument, exclude, principal_kind, principal_id FROM grants WHERE uuid=?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return grantry.Grant{}, grantry.ErrNotFound
	} else if err != nil {
		return grantry.Grant{}, storageError(err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM grants WHERE uuid=?", id.String()); err != nil {
		return grantry.Grant{}, storageError(err)
	}
	if err := tx.Commit(); err != nil {
		return grantry.Grant{}, storageError(err)
	}
	return g, nil
}

func (s *SQLite3Storage) Update(ctx context.Context, id uuid.UUID, u grantry.GrantUpdate) (grantry.Mutation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return grantry.Mutation{}, storageError(err)
	}
	defer tx.Rollback()

	before, err := scanGrant(tx.QueryRowContext(ctx,
		"SELECT uuid, action, argument, exclude, principal_kind, principal_id FROM grants WHERE uuid=?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return grantry.Mutation{}, grantry.ErrNotFound
	} else if err != nil {
		return grantry.Mutation{}, storageError(err)
	}

	after := u.Apply(before)
	_, err = tx.ExecContext(ctx,
		"UPDATE grants SET action=?, argument=?, principal_kind=?, principal_id=? WHERE uuid=?",
		after.Action, after.Argument, string(after.Principal.Kind), after.Principal.ID, id.String())
	if err != nil {
		return grantry.Mutation{}, storageError(err)
	}
	if err := tx.Commit(); err != nil {
		return grantry.Mutation{}, storageError(err)
	}
	return grantry.Mutation{Before: before, After: after}, nil
}

func (s *SQLite3Storage) FindMatching(ctx context.Context, action, argument string) ([]grantry.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uuid, action, argument, exclude, principal_kind, principal_id FROM grants WHERE action=? AND (argument=? OR argument='')",
		action, argument)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()

	grants := []grantry.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, storageError(err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return grants, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (grantry.Grant, error) {
	g := grantry.Grant{}
	err := row.Scan(&g.ID, &g.Action, &g.Argument, &g.Exclude, &g.Principal.Kind, &g.Principal.ID)
	return g, err
}

// storageError maps unique-violations to ErrDuplicateGrant and tags
// everything else as a retryable availability failure.
func storageError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return grantry.ErrDuplicateGrant
	}
	return errors.Join(grantry.ErrUnavailable, err)
}
