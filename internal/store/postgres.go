package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

const userColumns = `id, display_name, email, password_hash, tier, language, is_email_verified,
	COALESCE(verification_token, ''), verification_expires_at, deactivated_at, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Tier, &user.Language,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	if user.Tier == "" {
		user.Tier = "free"
	}
	if user.Language == "" {
		user.Language = "en"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, tier, language, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, NULLIF($8, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Tier, user.Language, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE email = LOWER($1) AND deactivated_at IS NULL
	`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET display_name=$2, updated_at=NOW() WHERE id=$1`, userID, displayName)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserLanguage(ctx context.Context, userID, language string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET language=$2, updated_at=NOW() WHERE id=$1`, userID, language)
	if err != nil {
		return fmt.Errorf("update language: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserTier(ctx context.Context, userID, tier string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET tier=$2, updated_at=NOW() WHERE id=$1`, userID, tier)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET deactivated_at=NOW(), updated_at=NOW() WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}

// --- password resets ---

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// --- refresh sessions and token revocation ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- documents ---

const documentColumns = `id, owner_id, title, editor_state, content_text, live_word_cap, trashed_at, created_at, updated_at`

func (s *PostgresStore) scanDocuments(rows *sql.Rows) ([]Document, error) {
	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.Title, &item.EditorState, &item.ContentText,
			&item.LiveWordCap, &item.TrashedAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, ownerID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE owner_id=$1 AND trashed_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return s.scanDocuments(rows)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id=$1
	`, documentID).Scan(
		&item.ID, &item.OwnerID, &item.Title, &item.EditorState, &item.ContentText,
		&item.LiveWordCap, &item.TrashedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, title, editor_state, content_text, live_word_cap)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.OwnerID, item.Title, item.EditorState, item.ContentText, item.LiveWordCap)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, editorState, contentText string, liveWordCap int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET editor_state=$2, content_text=$3, live_word_cap=$4, updated_at=NOW()
		WHERE id=$1
	`, documentID, editorState, contentText, liveWordCap)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	return nil
}

// SaveDocumentText records the plain-text body only, used by the
// save-on-exit path where the client has no editor state to send.
func (s *PostgresStore) SaveDocumentText(ctx context.Context, documentID, contentText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content_text=$2, updated_at=NOW() WHERE id=$1
	`, documentID, contentText)
	if err != nil {
		return fmt.Errorf("save document text: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, documentID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title=$2, updated_at=NOW() WHERE id=$1
	`, documentID, title)
	if err != nil {
		return fmt.Errorf("update document title: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrashDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET trashed_at=NOW(), updated_at=NOW() WHERE id=$1 AND trashed_at IS NULL
	`, documentID)
	if err != nil {
		return fmt.Errorf("trash document: %w", err)
	}
	return nil
}

func (s *PostgresStore) RestoreDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET trashed_at=NULL, updated_at=NOW() WHERE id=$1
	`, documentID)
	if err != nil {
		return fmt.Errorf("restore document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTrashedDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE owner_id=$1 AND trashed_at IS NOT NULL
		ORDER BY trashed_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list trashed documents: %w", err)
	}
	defer rows.Close()
	return s.scanDocuments(rows)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) EmptyTrash(ctx context.Context, ownerID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE owner_id=$1 AND trashed_at IS NOT NULL
	`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("empty trash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("empty trash result: %w", err)
	}
	return int(affected), nil
}

// --- feedback ---

func (s *PostgresStore) InsertFeedback(ctx context.Context, item Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, user_id, category, message)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Category, item.Message)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// IsNotFound reports whether err represents a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
