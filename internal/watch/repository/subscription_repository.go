package repository

import (
	"errors"
	"time"

	watchdomain "jobtrail-backend/internal/watch/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionRepository persists watch subscription metadata.
type SubscriptionRepository interface {
	FindActiveByUserID(userID string) (*watchdomain.WatchSubscription, error)
	// Replace deactivates any existing subscription for the user and
	// inserts the new one atomically, keeping at most one active row.
	Replace(sub *watchdomain.WatchSubscription) error
	Update(sub *watchdomain.WatchSubscription) error
	// ListExpiringSoon returns active subscriptions expiring within the
	// given buffer.
	ListExpiringSoon(buffer time.Duration) ([]*watchdomain.WatchSubscription, error)
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) FindActiveByUserID(userID string) (*watchdomain.WatchSubscription, error) {
	var sub watchdomain.WatchSubscription
	err := r.db.Where("user_id = ? AND active = ?", userID, true).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) Replace(sub *watchdomain.WatchSubscription) error {
	now := time.Now()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.Active = true
	sub.CreatedAt = now
	sub.UpdatedAt = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&watchdomain.WatchSubscription{}).
			Where("user_id = ? AND active = ?", sub.UserID, true).
			Updates(map[string]interface{}{"active": false, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
}

func (r *subscriptionRepository) Update(sub *watchdomain.WatchSubscription) error {
	sub.UpdatedAt = time.Now()
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) ListExpiringSoon(buffer time.Duration) ([]*watchdomain.WatchSubscription, error) {
	var subs []*watchdomain.WatchSubscription
	err := r.db.Where("active = ? AND expires_at < ?", true, time.Now().Add(buffer)).
		Order("expires_at ASC").Find(&subs).Error
	return subs, err
}
