package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/simple5k/internal/tracker"
)

var (
	ErrNoSession     = errors.New("no valid admin session")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// SessionTTL bounds how long an admin session stays valid.
const SessionTTL = 7 * 24 * time.Hour

type Admin struct {
	ID           int64
	Email        string
	PasswordHash string
}

func (q *Queries) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n)
	return n, err
}

// CreateAdmin stores a bcrypt hash of password for email.
func (q *Queries) CreateAdmin(ctx context.Context, email, password string) (Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Admin{}, fmt.Errorf("%w: email and password", tracker.ErrMissingField)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Admin{}, fmt.Errorf("hashing password: %w", err)
	}
	a := Admin{Email: email, PasswordHash: string(hash)}
	err = q.q.QueryRowContext(ctx, `
		INSERT INTO admins (email, password_hash) VALUES (?, ?) RETURNING id
	`, a.Email, a.PasswordHash).Scan(&a.ID)
	if err != nil {
		return Admin{}, conflict(err, "admin "+email)
	}
	return a, nil
}

func (q *Queries) AdminByEmail(ctx context.Context, email string) (Admin, error) {
	var a Admin
	err := q.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash FROM admins WHERE email = ?
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&a.ID, &a.Email, &a.PasswordHash)
	return a, notFound(err, tracker.ErrNotFound)
}

func (q *Queries) CreateAdminSession(ctx context.Context, adminID int64) (string, error) {
	id, err := randomHex(32)
	if err != nil {
		return "", err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO admin_sessions (id, admin_id, created_at) VALUES (?, ?, ?)
	`, id, adminID, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("creating admin session: %w", err)
	}
	return id, nil
}

func (q *Queries) DeleteAdminSession(ctx context.Context, sessionID string) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM admin_sessions WHERE id = ?`, sessionID)
	return err
}

// AdminFromSession resolves a session cookie value to its admin.
func (q *Queries) AdminFromSession(ctx context.Context, sessionID string) (Admin, error) {
	var a Admin
	err := q.q.QueryRowContext(ctx, `
		SELECT a.id, a.email
		FROM admin_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.id = ? AND s.created_at >= ?
	`, sessionID, formatTime(time.Now().Add(-SessionTTL))).Scan(&a.ID, &a.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Admin{}, ErrNoSession
	}
	return a, err
}

type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Masked is the form of the key shown after creation.
func (k APIKey) Masked() string {
	return apiKeyScheme + k.Prefix + "_…"
}

const apiKeyScheme = "s5k_"

// CreateAPIKey issues a key named name. The plaintext key is returned once
// and only its bcrypt hash is kept.
func (q *Queries) CreateAPIKey(ctx context.Context, name string) (APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return APIKey{}, "", fmt.Errorf("%w: name", tracker.ErrMissingField)
	}
	prefix, err := randomHex(4)
	if err != nil {
		return APIKey{}, "", err
	}
	secret, err := randomHex(16)
	if err != nil {
		return APIKey{}, "", err
	}
	plain := apiKeyScheme + prefix + "_" + secret
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return APIKey{}, "", fmt.Errorf("hashing api key: %w", err)
	}

	k := APIKey{ID: uuid.NewString(), Name: name, Prefix: prefix, Active: true, CreatedAt: time.Now().UTC()}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, prefix, key_hash, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, k.ID, k.Name, k.Prefix, string(hash), formatTime(k.CreatedAt))
	if err != nil {
		return APIKey{}, "", conflict(err, "api key prefix")
	}
	return k, plain, nil
}

func (q *Queries) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, prefix, is_active, created_at FROM api_keys ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var (
			k         APIKey
			createdAt string
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.Active, &createdAt); err != nil {
			return nil, err
		}
		if k.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (q *Queries) DeactivateAPIKey(ctx context.Context, id string) error {
	err := checkAffected(q.q.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE id = ?`, id))
	return err
}

// VerifyAPIKey returns the active key matching plain.
func (q *Queries) VerifyAPIKey(ctx context.Context, plain string) (APIKey, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(plain), apiKeyScheme)
	if !ok {
		return APIKey{}, ErrInvalidAPIKey
	}
	prefix, _, ok := strings.Cut(rest, "_")
	if !ok || prefix == "" {
		return APIKey{}, ErrInvalidAPIKey
	}

	var (
		k               APIKey
		hash, createdAt string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, prefix, is_active, created_at, key_hash
		FROM api_keys WHERE prefix = ? AND is_active = 1
	`, prefix).Scan(&k.ID, &k.Name, &k.Prefix, &k.Active, &createdAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrInvalidAPIKey
	}
	if err != nil {
		return APIKey{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(plain))); err != nil {
		return APIKey{}, ErrInvalidAPIKey
	}
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return APIKey{}, err
	}
	return k, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
