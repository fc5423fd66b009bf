package verification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists verification attempts. The "current" attempt for a user
// is the most recently created row regardless of status.
type Repository interface {
	Create(ctx context.Context, a Attempt) (Attempt, error)
	Update(ctx context.Context, a Attempt) error
	LatestByUser(ctx context.Context, userID string) (Attempt, error)
	BySession(ctx context.Context, sessionID string) (Attempt, error)
	RegistrationByToken(ctx context.Context, token string) (Attempt, error)
	ListActive(ctx context.Context) ([]Attempt, error)
	Delete(ctx context.Context, id string) error
}

// PostgresRepository implements Repository using PostgreSQL with the result
// blob stored as JSONB.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed attempt repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const attemptColumns = `id, user_id, status, verification_type, first_name_extracted,
    last_name_extracted, document_type, document_country, document_url,
    verification_result, created_at`

// Create inserts a new attempt and returns it with generated fields populated.
func (r *PostgresRepository) Create(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return Attempt{}, err
	}
	var userID any
	if a.UserID != "" {
		userID = a.UserID
	}
	_, err = r.db.Exec(ctx, `INSERT INTO identity_verifications
        (id, user_id, status, verification_type, first_name_extracted, last_name_extracted,
         document_type, document_country, document_url, verification_result, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, userID, a.Status, a.Type, nullable(a.FirstNameExtracted), nullable(a.LastNameExtracted),
		nullable(a.DocumentType), nullable(a.DocumentCountry), nullable(a.DocumentURL), result, a.CreatedAt.UTC())
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// Update rewrites the mutable columns of an attempt.
func (r *PostgresRepository) Update(ctx context.Context, a Attempt) error {
	result, err := json.Marshal(a.Result)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE identity_verifications SET
        status = $1, first_name_extracted = $2, last_name_extracted = $3,
        document_type = $4, document_country = $5, document_url = $6,
        verification_result = $7
        WHERE id = $8`,
		a.Status, nullable(a.FirstNameExtracted), nullable(a.LastNameExtracted),
		nullable(a.DocumentType), nullable(a.DocumentCountry), nullable(a.DocumentURL),
		result, a.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestByUser returns the most recently created attempt for a user.
func (r *PostgresRepository) LatestByUser(ctx context.Context, userID string) (Attempt, error) {
	row := r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM identity_verifications
        WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	return scanAttempt(row)
}

// BySession matches an attempt by the provider session id stored in the blob.
func (r *PostgresRepository) BySession(ctx context.Context, sessionID string) (Attempt, error) {
	row := r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM identity_verifications
        WHERE verification_result->>'`+ResultSessionID+`' = $1
        ORDER BY created_at DESC LIMIT 1`, sessionID)
	return scanAttempt(row)
}

// RegistrationByToken matches a registration attempt by its client-held token.
func (r *PostgresRepository) RegistrationByToken(ctx context.Context, token string) (Attempt, error) {
	row := r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM identity_verifications
        WHERE verification_type = $1 AND verification_result->>'`+ResultRegToken+`' = $2
        ORDER BY created_at DESC LIMIT 1`, TypeRegistration, token)
	return scanAttempt(row)
}

// ListActive returns every attempt still in a non-terminal status, newest first.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]Attempt, error) {
	rows, err := r.db.Query(ctx, `SELECT `+attemptColumns+` FROM identity_verifications
        WHERE status = ANY($1) ORDER BY created_at DESC`, []string{StatusInitiated, StatusPending})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes an attempt row entirely. Not a soft delete.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM identity_verifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a         Attempt
		userID    *string
		first     *string
		last      *string
		docType   *string
		docCtry   *string
		docURL    *string
		result    []byte
		createdAt time.Time
	)
	if err := row.Scan(&a.ID, &userID, &a.Status, &a.Type, &first, &last,
		&docType, &docCtry, &docURL, &result, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, err
	}
	a.UserID = deref(userID)
	a.FirstNameExtracted = deref(first)
	a.LastNameExtracted = deref(last)
	a.DocumentType = deref(docType)
	a.DocumentCountry = deref(docCtry)
	a.DocumentURL = deref(docURL)
	a.CreatedAt = createdAt.UTC()
	if len(result) > 0 {
		if err := json.Unmarshal(result, &a.Result); err != nil {
			return Attempt{}, err
		}
	}
	return a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
