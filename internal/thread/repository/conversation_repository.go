package repository

import (
	"errors"
	"time"

	threaddomain "jobtrail-backend/internal/thread/domain"

	"gorm.io/gorm"
)

// ListFilters narrows the thread projection for the dashboard.
type ListFilters struct {
	JobID            string
	Company          string
	Stage            string
	RequiresResponse *bool
}

// ConversationRepository persists derived conversation state.
type ConversationRepository interface {
	FindByThreadID(userID, threadID string) (*threaddomain.Conversation, error)
	Save(conv *threaddomain.Conversation) error
	List(userID string, filters ListFilters, limit, offset int) ([]*threaddomain.Conversation, int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) FindByThreadID(userID, threadID string) (*threaddomain.Conversation, error) {
	var conv threaddomain.Conversation
	err := r.db.Where("user_id = ? AND thread_id = ?", userID, threadID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) Save(conv *threaddomain.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	return r.db.Save(conv).Error
}

func (r *conversationRepository) List(userID string, filters ListFilters, limit, offset int) ([]*threaddomain.Conversation, int64, error) {
	q := r.db.Model(&threaddomain.Conversation{}).Where("user_id = ?", userID)

	if filters.JobID != "" {
		q = q.Where("linked_job_id = ?", filters.JobID)
	}
	if filters.Company != "" {
		q = q.Where("company ILIKE ?", "%"+filters.Company+"%")
	}
	if filters.Stage != "" {
		q = q.Where("stage = ?", filters.Stage)
	}
	if filters.RequiresResponse != nil {
		q = q.Where("requires_response = ?", *filters.RequiresResponse)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var convs []*threaddomain.Conversation
	if limit <= 0 {
		limit = 20
	}
	err := q.Order("last_message_at DESC").Limit(limit).Offset(offset).Find(&convs).Error
	return convs, total, err
}
