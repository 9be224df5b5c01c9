package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/postgres"
)

const selectColumns = "id, username, email, status, created_at, updated_at, last_active_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new account. Username and email collisions with live
// accounts surface as ErrAlreadyExists.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+selectColumns,
		params.Username, params.Email, params.PasswordHash,
	)

	u, err := scanUser(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// FindByID returns a non-deleted account by ID.
func (r *PGRepository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM users WHERE id = $1 AND status <> 'Deleted'", id,
	)
	return wrapScan(row, "query user by id")
}

// FindByUsername returns a non-deleted account by username, case-insensitive.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM users WHERE lower(username) = lower($1) AND status <> 'Deleted'", username,
	)
	return wrapScan(row, "query user by username")
}

// FindByEmail returns a non-deleted account by email, case-insensitive.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM users WHERE lower(email) = lower($1) AND status <> 'Deleted'", email,
	)
	return wrapScan(row, "query user by email")
}

// GetCredentials resolves a username or email identifier to the account and
// its password hash. Deleted accounts never resolve.
func (r *PGRepository) GetCredentials(ctx context.Context, identifier string) (*Credentials, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+selectColumns+`, password_hash FROM users
		 WHERE (lower(username) = lower($1) OR lower(email) = lower($1)) AND status <> 'Deleted'`,
		identifier,
	)

	var creds Credentials
	err := row.Scan(
		&creds.ID, &creds.Username, &creds.Email, &creds.Status,
		&creds.CreatedAt, &creds.UpdatedAt, &creds.LastActiveAt,
		&creds.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	return &creds, nil
}

// Update persists mutable profile fields and the status.
func (r *PGRepository) Update(ctx context.Context, u *User) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET username = $1, email = $2, status = $3, updated_at = now()
		 WHERE id = $4`,
		u.Username, u.Email, u.Status, u.ID,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastActivity stamps last_active_at with the current time.
func (r *PGRepository) UpdateLastActivity(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx,
		"UPDATE users SET last_active_at = now() WHERE id = $1", id,
	); err != nil {
		return fmt.Errorf("update last activity: %w", err)
	}
	return nil
}

// SoftDelete marks an account Deleted. Already-deleted accounts report
// ErrNotFound.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE users SET status = 'Deleted', updated_at = now() WHERE id = $1 AND status <> 'Deleted'", id,
	)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// sortColumns whitelists the fields a caller may sort by.
var sortColumns = map[string]string{
	"username":   "username",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// Search returns non-deleted accounts matching the params, paginated and
// sorted. The query matches username and email as a case-insensitive
// substring.
func (r *PGRepository) Search(ctx context.Context, params SearchParams, page pagination.Pagination, sort pagination.Sort) ([]User, error) {
	page = page.Clamp()

	column, ok := sortColumns[sort.Field]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if sort.Ascending {
		direction = "ASC"
	}

	where := []string{"status <> 'Deleted'"}
	args := []any{}
	if params.Query != "" {
		args = append(args, "%"+params.Query+"%")
		where = append(where, fmt.Sprintf("(username ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}
	if params.Status != nil {
		args = append(args, *params.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM users WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		selectColumns, strings.Join(where, " AND "), column, direction, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Status, &u.CreatedAt, &u.UpdatedAt, &u.LastActiveAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func wrapScan(row pgx.Row, op string) (*User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
