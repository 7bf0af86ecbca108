package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const createUsersTable = `CREATE TABLE IF NOT EXISTS users (
	id           VARCHAR(36)  PRIMARY KEY,
	username     VARCHAR(150) NOT NULL UNIQUE,
	first_name   VARCHAR(150) NOT NULL DEFAULT '',
	last_name    VARCHAR(150) NOT NULL DEFAULT '',
	email        VARCHAR(254) NOT NULL DEFAULT '',
	password     VARCHAR(128) NOT NULL DEFAULT '',
	is_active    BOOLEAN      NOT NULL DEFAULT TRUE,
	is_staff     BOOLEAN      NOT NULL DEFAULT FALSE,
	is_superuser BOOLEAN      NOT NULL DEFAULT FALSE,
	date_joined  BIGINT       NOT NULL,
	last_synced  BIGINT
)`

const userColumns = "id, username, first_name, last_name, email, password, is_active, is_staff, is_superuser, date_joined, last_synced"

// SQLRepository is a Repository backed by database/sql. Timestamps are stored as
// Unix microseconds.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens the database, checks the connection and creates the users table
// when it is missing. driver is "sqlite", or "pgx" (alias "postgres").
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	driver, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}

	repo, err := NewSQLRepository(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wraps an open database and runs the schema migration.
func NewSQLRepository(ctx context.Context, db *sql.DB, driver string) (*SQLRepository, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}

	driver, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}

	r := &SQLRepository{db: db, driver: driver}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func normalizeDriver(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	case DriverPostgres, "postgres", "postgresql":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRowContext(ctx, r.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id.String())

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *SQLRepository) FindBy(ctx context.Context, lookup map[string]any) (*User, error) {
	normalized, err := normalizeLookup(lookup)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + userColumns + " FROM users"
	args := make([]any, 0, len(normalized))
	if len(normalized) > 0 {
		conditions := make([]string, 0, len(normalized))
		// Field names are checked by normalizeLookup and match column names.
		for _, name := range slices.Sorted(maps.Keys(normalized)) {
			conditions = append(conditions, name+" = ?")
			args = append(args, normalized[name])
		}
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " LIMIT 2"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	defer rows.Close()

	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	switch len(users) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, describeLookup(normalized))
	case 1:
		return users[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleUsers, describeLookup(normalized))
	}
}

func (r *SQLRepository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *SQLRepository) Save(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		return errors.New("user ID must be set")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE users SET
		username = ?, first_name = ?, last_name = ?, email = ?, password = ?,
		is_active = ?, is_staff = ?, is_superuser = ?, date_joined = ?, last_synced = ?
		WHERE id = ?`),
		user.Username, user.FirstName, user.LastName, user.Email, user.Password,
		user.IsActive, user.IsStaff, user.IsSuperuser, user.DateJoined.UnixMicro(), nullTime(user.LastSynced),
		user.ID.String(),
	)
	if err != nil {
		return r.saveError(user, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		_, err = tx.ExecContext(ctx, r.rebind("INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
			user.ID.String(), user.Username, user.FirstName, user.LastName, user.Email, user.Password,
			user.IsActive, user.IsStaff, user.IsSuperuser, user.DateJoined.UnixMicro(), nullTime(user.LastSynced),
		)
		if err != nil {
			return r.saveError(user, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM users WHERE id = ?"), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *SQLRepository) saveError(user *User, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", ErrDuplicateUsername, user.Username)
	}
	return fmt.Errorf("failed to save user: %w", err)
}

// rebind rewrites "?" placeholders as "$1", "$2", ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
	}

	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		user       User
		id         string
		dateJoined int64
		lastSynced sql.NullInt64
	)

	err := row.Scan(&id, &user.Username, &user.FirstName, &user.LastName, &user.Email, &user.Password,
		&user.IsActive, &user.IsStaff, &user.IsSuperuser, &dateJoined, &lastSynced)
	if err != nil {
		return nil, err
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID %q: %w", id, err)
	}
	user.DateJoined = time.UnixMicro(dateJoined).UTC()
	if lastSynced.Valid {
		user.LastSynced = time.UnixMicro(lastSynced.Int64).UTC()
	}
	return &user, nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}
