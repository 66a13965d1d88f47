package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"golang.org/x/exp/slog"

	"travel-blog/schema"
)

const uniqueViolation = "23505"

type PostgreSQLDatabase struct {
	db *sql.DB
}

func NewPostgreSQLDatabase(ctx context.Context, dsn string) (*PostgreSQLDatabase, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	pg := &PostgreSQLDatabase{db: db}
	if err := pg.db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("Database pinged")

	if _, err := pg.db.ExecContext(ctx, schema.SQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create database schema: %w", err)
	}

	slog.Info("Database schema is up to date")

	return pg, nil
}

func (pg *PostgreSQLDatabase) Close() error {
	return pg.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx commits when fn succeeds and rolls back on any error.
func (pg *PostgreSQLDatabase) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Failed to roll back transaction", "error", rbErr)
		}

		return err
	}

	return tx.Commit()
}

func (pg *PostgreSQLDatabase) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	const createUser = `
	INSERT INTO users (username, password)
	VALUES($1, $2)
	ON CONFLICT (username) DO NOTHING
	RETURNING id
	`

	row := pg.db.QueryRowContext(ctx, createUser, username, passwordHash)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, translateError(err, ErrConflict)
	}

	return id, nil
}

func (pg *PostgreSQLDatabase) GetUserByID(ctx context.Context, id int64) (User, error) {
	const getUserByID = `
	SELECT
		id,
		username,
		password
	FROM users
	WHERE id = $1
	`

	row := pg.db.QueryRowContext(ctx, getUserByID, id)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.PasswordHash)

	return i, translateError(err, ErrNotFound)
}

func (pg *PostgreSQLDatabase) GetUserByUsername(ctx context.Context, username string) (User, error) {
	const getUserByUsername = `
	SELECT
		id,
		username,
		password
	FROM users
	WHERE username = $1
	`

	row := pg.db.QueryRowContext(ctx, getUserByUsername, username)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.PasswordHash)

	return i, translateError(err, ErrNotFound)
}

// translateError maps driver errors onto the package sentinels. noRows is
// returned in place of sql.ErrNoRows.
func translateError(err, noRows error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return noRows
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}

	return err
}
