package jobstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// workerTokenRow stores only the bcrypt hash of a worker's seed token, never
// the token itself. The seed token is shown to the operator once, at issue
// time, and is exchanged for short-lived JWTs by internal/api/auth.
type workerTokenRow struct {
	ID        uint `gorm:"primaryKey"`
	WorkerID  string `gorm:"size:255;uniqueIndex;not null"`
	TokenHash string `gorm:"type:text;not null"`
	Revoked   bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (workerTokenRow) TableName() string { return "dtq_worker_tokens" }

// ErrTokenRevoked is returned by VerifyToken for a worker whose token has
// been revoked.
var ErrTokenRevoked = errors.New("worker token revoked")

// WorkerTokenStore issues and verifies the long-lived seed tokens workers
// present once to obtain a short-lived JWT. Shares PostgresJobStore's
// connection since both live in the same database.
type WorkerTokenStore struct {
	db *gorm.DB
}

// NewWorkerTokenStore wraps store's *gorm.DB and auto-migrates the token
// table.
func NewWorkerTokenStore(store *PostgresJobStore) (*WorkerTokenStore, error) {
	if err := store.db.AutoMigrate(&workerTokenRow{}); err != nil {
		return nil, fmt.Errorf("migrate worker token store: %w", err)
	}
	return &WorkerTokenStore{db: store.db}, nil
}

// IssueToken generates a fresh random seed token for workerID, stores its
// bcrypt hash (replacing any prior token for that worker), and returns the
// plaintext token. The caller must hand it to the worker out of band; it is
// never persisted or logged.
func (s *WorkerTokenStore) IssueToken(ctx context.Context, workerID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate seed token: %w", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash seed token: %w", err)
	}

	row := &workerTokenRow{WorkerID: workerID, TokenHash: string(hash)}
	err = s.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Assign(workerTokenRow{TokenHash: string(hash), Revoked: false}).
		FirstOrCreate(row).Error
	if err != nil {
		return "", fmt.Errorf("persist seed token for %s: %w", workerID, err)
	}

	return token, nil
}

// VerifyToken reports whether token is the current, unrevoked seed token
// for workerID.
func (s *WorkerTokenStore) VerifyToken(ctx context.Context, workerID, token string) (bool, error) {
	var row workerTokenRow
	err := s.db.WithContext(ctx).Where("worker_id = ?", workerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup seed token for %s: %w", workerID, err)
	}
	if row.Revoked {
		return false, ErrTokenRevoked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.TokenHash), []byte(token)); err != nil {
		return false, nil
	}
	return true, nil
}

// RevokeToken marks workerID's token unusable for future exchanges.
func (s *WorkerTokenStore) RevokeToken(ctx context.Context, workerID string) error {
	return s.db.WithContext(ctx).
		Model(&workerTokenRow{}).
		Where("worker_id = ?", workerID).
		Update("revoked", true).Error
}
