package repository

import (
	"errors"
	"time"

	maildomain "jobtrail-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageRepository implements MessageRepository on GORM/Postgres
type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Upsert(msg *maildomain.Message) error {
	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	// Conflict on provider message ID so webhook redelivery stays idempotent.
	// Classification columns are deliberately excluded from the update set:
	// a re-synced message must not wipe an existing result.
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"thread_id", "sender", "recipients", "subject", "body",
			"snippet", "labels", "outbound", "received_at", "updated_at",
		}),
	}).Create(msg).Error
}

func (r *messageRepository) UpdateLabels(userID, providerID, labels string) error {
	return r.db.Model(&maildomain.Message{}).
		Where("user_id = ? AND provider_id = ?", userID, providerID).
		Updates(map[string]interface{}{"labels": labels, "updated_at": time.Now()}).Error
}

func (r *messageRepository) FindByProviderID(userID, providerID string) (*maildomain.Message, error) {
	var msg maildomain.Message
	err := r.db.Where("user_id = ? AND provider_id = ?", userID, providerID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindByProviderIDs(userID string, providerIDs []string) ([]*maildomain.Message, error) {
	var msgs []*maildomain.Message
	err := r.db.Where("user_id = ? AND provider_id IN ?", userID, providerIDs).Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) FindUnprocessed(userID string, limit int) ([]*maildomain.Message, error) {
	var msgs []*maildomain.Message
	q := r.db.Where("user_id = ? AND processing_status = ?", userID, maildomain.StatusUnprocessed).
		Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) FindByThread(userID, threadID string) ([]*maildomain.Message, error) {
	var msgs []*maildomain.Message
	err := r.db.Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("received_at ASC").Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) List(userID string, limit, offset int) ([]*maildomain.Message, int64, error) {
	var total int64
	if err := r.db.Model(&maildomain.Message{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []*maildomain.Message
	err := r.db.Where("user_id = ?", userID).
		Order("received_at DESC").Limit(limit).Offset(offset).Find(&msgs).Error
	return msgs, total, err
}

func (r *messageRepository) ListRecent(userID string, limit int) ([]*maildomain.Message, error) {
	var msgs []*maildomain.Message
	err := r.db.Where("user_id = ?", userID).
		Order("received_at DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) Save(msg *maildomain.Message) error {
	msg.UpdatedAt = time.Now()
	return r.db.Save(msg).Error
}

func (r *messageRepository) MarkThreadJobRelated(userID, threadID string, confidence float64) error {
	now := time.Now()
	return r.db.Model(&maildomain.Message{}).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Updates(map[string]interface{}{
			"is_job_related": true,
			"confidence":     confidence,
			"updated_at":     now,
		}).Error
}
