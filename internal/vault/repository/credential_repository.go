package repository

import (
	"errors"
	"time"

	vaultdomain "jobtrail-backend/internal/vault/domain"

	"gorm.io/gorm"
)

// CredentialRepository persists encrypted OAuth credentials.
type CredentialRepository interface {
	Save(cred *vaultdomain.Credential) error
	FindByUserID(userID string) (*vaultdomain.Credential, error)
	Delete(userID string) error
}

type credentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Save(cred *vaultdomain.Credential) error {
	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	return r.db.Save(cred).Error
}

func (r *credentialRepository) FindByUserID(userID string) (*vaultdomain.Credential, error) {
	var cred vaultdomain.Credential
	err := r.db.Where("user_id = ?", userID).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) Delete(userID string) error {
	return r.db.Where("user_id = ?", userID).Delete(&vaultdomain.Credential{}).Error
}
