package repository

import (
	"errors"
	"time"

	jobdomain "jobtrail-backend/internal/job/domain"

	"gorm.io/gorm"
)

// JobRepository exposes the job-application surface the pipeline needs.
type JobRepository interface {
	FindByID(userID, jobID string) (*jobdomain.JobApplication, error)
	// TouchActivity bumps the job's last-activity timestamp when new
	// thread activity is linked to it.
	TouchActivity(userID, jobID string, at time.Time) error
}

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) FindByID(userID, jobID string) (*jobdomain.JobApplication, error) {
	var job jobdomain.JobApplication
	err := r.db.Where("user_id = ? AND id = ?", userID, jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) TouchActivity(userID, jobID string, at time.Time) error {
	return r.db.Model(&jobdomain.JobApplication{}).
		Where("user_id = ? AND id = ?", userID, jobID).
		Updates(map[string]interface{}{"last_activity_at": at, "updated_at": time.Now()}).Error
}
