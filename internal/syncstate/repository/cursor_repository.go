package repository

import (
	"errors"
	"time"

	syncdomain "jobtrail-backend/internal/syncstate/domain"

	"gorm.io/gorm"
)

// ErrCursorConflict means a compare-and-set lost against a newer writer.
var ErrCursorConflict = errors.New("sync cursor was advanced by another writer")

// CursorRepository is the source of truth for idempotent sync resumption.
type CursorRepository interface {
	Get(userID string) (*syncdomain.SyncCursor, error)
	// Seed creates the cursor if absent, leaving an existing one untouched.
	Seed(userID string, historyID uint64) error
	// SetIfUnchanged advances the cursor only if it still holds
	// expectedHistoryID, so a stale sync cannot clobber a newer position.
	SetIfUnchanged(userID string, expectedHistoryID, newHistoryID uint64) error
	// Reset unconditionally rewrites the cursor. Fallback resync only.
	Reset(userID string, historyID uint64) error
}

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Get(userID string) (*syncdomain.SyncCursor, error) {
	var cursor syncdomain.SyncCursor
	err := r.db.Where("user_id = ?", userID).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cursor, nil
}

func (r *cursorRepository) Seed(userID string, historyID uint64) error {
	existing, err := r.Get(userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	now := time.Now()
	return r.db.Create(&syncdomain.SyncCursor{
		UserID:       userID,
		HistoryID:    historyID,
		LastSyncTime: now,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error
}

func (r *cursorRepository) SetIfUnchanged(userID string, expectedHistoryID, newHistoryID uint64) error {
	now := time.Now()
	result := r.db.Model(&syncdomain.SyncCursor{}).
		Where("user_id = ? AND history_id = ?", userID, expectedHistoryID).
		Updates(map[string]interface{}{
			"history_id":     newHistoryID,
			"last_sync_time": now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCursorConflict
	}
	return nil
}

func (r *cursorRepository) Reset(userID string, historyID uint64) error {
	now := time.Now()
	return r.db.Model(&syncdomain.SyncCursor{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"history_id":     historyID,
			"last_sync_time": now,
			"updated_at":     now,
		}).Error
}
