// Package postgres persists grants in PostgreSQL via pgx. Uniqueness of
// the (action, exclude, argument, principal) tuple is enforced by a
// unique index, so concurrent duplicate writes settle in the database.
package postgres

import (
	"context"
	"embed"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantry/grantry"
)

//go:embed migrations/*.sql
var fs embed.FS

func RunMigrations(databaseURL string) error {
	driver, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	migrations, err := migrate.NewWithSourceInstance("iofs", driver, databaseURL)
	if err != nil {
		return err
	}
	err = migrations.Up()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(databaseURL string) (*PostgresStorage, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &PostgresStorage{pool}, nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable, for health probes.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStorage) Insert(ctx context.Context, g grantry.Grant) (grantry.Grant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return grantry.Grant{}, err
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO grants (uuid, action, argument, exclude, principal_kind, principal_id) VALUES ($1, $2, $3, $4, $5, $6)",
		id, g.Action, g.Argument, g.Exclude, string(g.Principal.Kind), g.Principal.ID)
	if err != nil {
		return grantry.Grant{}, storageError(err)
	}
	g.ID = id
	return g, nil
}

func (s *PostgresStorage) Delete(ctx context.Context, id uuid.UUID) (grantry.Grant, error) {
	g := grantry.Grant{}
	err := s.pool.QueryRow(ctx,
		"DELETE FROM grants WHERE uuid=$1 RETURNING uuid, action, argument, exclude, principal_kind, principal_id",
		id).Scan(&g.ID, &g.Action, &g.Argument, &g.Exclude, &g.Principal.Kind, &g.Principal.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return grantry.Grant{}, grantry.ErrNotFound
	} else if err != nil {
		return grantry.Grant{}, storageError(err)
	}
	return g, nil
}

func (s *PostgresStorage) Update(ctx context.Context, id uuid.UUID, u grantry.GrantUpdate) (grantry.Mutation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return grantry.Mutation{}, storageError(err)
	}
	defer tx.Rollback(ctx)

	before := grantry.Grant{}
	err = tx.QueryRow(ctx,
		"SELECT uuid, action, argument, exclude, principal_kind, principal_id FROM grants WHERE uuid=$1 FOR UPDATE",
		id).Scan(&before.ID, &before.Action, &before.Argument, &before.Exclude, &before.Principal.Kind, &before.Principal.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return grantry.Mutation{}, grantry.ErrNotFound
	} else if err != nil {
		return grantry.Mutation{}, storageError(err)
	}

	after := u.Apply(before)
	_, err = tx.Exec(ctx,
		"UPDATE grants SET action=$2, argument=$3, principal_kind=$4, principal_id=$5 WHERE uuid=$1",
		id, after.Action, after.Argument, string(after.Principal.Kind), after.Principal.ID)
	if err != nil {
		return grantry.Mutation{}, storageError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return grantry.Mutation{}, storageError(err)
	}
	return grantry.Mutation{Before: before, After: after}, nil
}

func (s *PostgresStorage) FindMatching(ctx context.Context, action, argument string) ([]grantry.Grant, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT uuid, action, argument, exclude, principal_kind, principal_id FROM grants WHERE action=$1 AND (argument=$2 OR argument='')",
		action, argument)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()

	grants := []grantry.Grant{}
	for rows.Next() {
		g := grantry.Grant{}
		if err := rows.Scan(&g.ID, &g.Action, &g.Argument, &g.Exclude, &g.Principal.Kind, &g.Principal.ID); err != nil {
			return nil, storageError(err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return grants, nil
}

// storageError maps unique-violations to ErrDuplicateGrant and tags
// everything else as a retryable availability failure.
func storageError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return grantry.ErrDuplicateGrant
	}
	return errors.Join(grantry.ErrUnavailable, err)
}
