package repository

import (
	"path/filepath"
	"testing"
	"time"

	threaddomain "jobtrail-backend/internal/thread/domain"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "threads.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&threaddomain.Conversation{}))
	return db
}

func TestSaveKeepsUsersSharingThreadIDApart(t *testing.T) {
	repo := NewConversationRepository(testDB(t))

	// Provider thread IDs are only unique per mailbox, not globally.
	require.NoError(t, repo.Save(&threaddomain.Conversation{
		UserID:        "user-1",
		ThreadID:      "t1",
		Company:       "Acme",
		LastMessageAt: time.Now(),
	}))
	require.NoError(t, repo.Save(&threaddomain.Conversation{
		UserID:        "user-2",
		ThreadID:      "t1",
		Company:       "Globex",
		LastMessageAt: time.Now(),
	}))

	one, err := repo.FindByThreadID("user-1", "t1")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "Acme", one.Company)

	two, err := repo.FindByThreadID("user-2", "t1")
	require.NoError(t, err)
	require.NotNil(t, two)
	assert.Equal(t, "Globex", two.Company)

	convs, total, err := repo.List("user-1", ListFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, convs, 1)
	assert.Equal(t, "user-1", convs[0].UserID)
}

func TestSaveUpdatesExistingConversation(t *testing.T) {
	repo := NewConversationRepository(testDB(t))

	conv := &threaddomain.Conversation{
		UserID:           "user-1",
		ThreadID:         "t1",
		MessageCount:     1,
		RequiresResponse: true,
		LastMessageAt:    time.Now(),
	}
	require.NoError(t, repo.Save(conv))

	conv.MessageCount = 2
	conv.RequiresResponse = false
	require.NoError(t, repo.Save(conv))

	_, total, err := repo.List("user-1", ListFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	stored, err := repo.FindByThreadID("user-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MessageCount)
	assert.False(t, stored.RequiresResponse)
}

func TestFindByThreadIDUnknownReturnsNil(t *testing.T) {
	repo := NewConversationRepository(testDB(t))

	conv, err := repo.FindByThreadID("user-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, conv)
}
