package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound indicates no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrProfileNotFound indicates the account has no profile row.
	ErrProfileNotFound = errors.New("profile not found")
)

// Repository persists users, profiles and role grants.
type Repository interface {
	Create(ctx context.Context, user User, profile Profile) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLogin(ctx context.Context, id string) error

	Profile(ctx context.Context, userID string) (Profile, error)
	SetVerified(ctx context.Context, userID string, at time.Time) error
	ClearVerified(ctx context.Context, userID string) error

	HasRole(ctx context.Context, userID, role string) (bool, error)
	GrantRole(ctx context.Context, userID, role string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user together with its profile row.
func (r *PostgresRepository) Create(ctx context.Context, user User, profile Profile) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO users (id, email, password_hash, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5)`, userID, user.Email, user.PasswordHash, user.TokenVersion, user.CreatedAt.UTC()); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO profiles (id, first_name, last_name, identity_verified)
        VALUES ($1, $2, $3, false)`, userID, profile.FirstName, profile.LastName); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindByEmail fetches a user by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, email, password_hash, token_version, created_at, COALESCE(last_login, 'epoch'::timestamptz)
        FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, email, password_hash, token_version, created_at, COALESCE(last_login, 'epoch'::timestamptz)
        FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		user      User
		createdAt time.Time
		lastLogin time.Time
	)
	if err := row.Scan(&id, &user.Email, &user.PasswordHash, &user.TokenVersion, &createdAt, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	user.LastLogin = lastLogin.UTC()
	return user, nil
}

// UpdateTokenVersion bumps the version used to invalidate outstanding tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET token_version = $1 WHERE id = $2`, version, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchLogin records the last successful authentication time.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login = now() WHERE id = $1`, id)
	return err
}

// Profile fetches the profile row for a user.
func (r *PostgresRepository) Profile(ctx context.Context, userID string) (Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT id, first_name, last_name, identity_verified, identity_verified_at
        FROM profiles WHERE id = $1`, userID)
	var (
		id         uuid.UUID
		p          Profile
		verifiedAt *time.Time
	)
	if err := row.Scan(&id, &p.FirstName, &p.LastName, &p.IdentityVerified, &verifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	p.UserID = id.String()
	p.IdentityVerifiedAt = verifiedAt
	return p, nil
}

// SetVerified flips the profile verification flag with a timestamp.
func (r *PostgresRepository) SetVerified(ctx context.Context, userID string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE profiles SET identity_verified = true, identity_verified_at = $1 WHERE id = $2`,
		at.UTC(), userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ClearVerified unsets the flag. Only the delete-and-reset path may call this.
func (r *PostgresRepository) ClearVerified(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `UPDATE profiles SET identity_verified = false, identity_verified_at = NULL WHERE id = $1`, userID)
	return err
}

// HasRole reports whether the user holds the given role.
func (r *PostgresRepository) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, role).Scan(&exists)
	return exists, err
}

// GrantRole records a role for the user.
func (r *PostgresRepository) GrantRole(ctx context.Context, userID, role string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
        ON CONFLICT (user_id, role) DO NOTHING`, userID, role)
	return err
}
