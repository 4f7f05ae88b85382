package db

import (
	"errors"
	"testing"
	"time"

	"socialchat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestActivePairIndexRejectsSecondActiveEdge(t *testing.T) {
	database, err := ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(database))

	now := time.Now()
	require.NoError(t, database.Create(models.NewFriendRequest(1, 2, now)).Error)

	// встречная заявка по той же паре
	err = database.Create(models.NewFriendRequest(2, 1, now)).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)
}

func TestActivePairIndexAllowsHistory(t *testing.T) {
	database, err := ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(database))

	rejected := models.NewFriendRequest(1, 2, time.Now())
	rejected.Status = models.FriendshipRejected
	require.NoError(t, database.Create(rejected).Error)

	assert.NoError(t, database.Create(models.NewFriendRequest(1, 2, time.Now())).Error)

	var count int64
	require.NoError(t, database.Model(&models.FriendshipEdge{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestReadWriteHelpersWithoutReplicas(t *testing.T) {
	database, err := ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(database))

	assert.False(t, replicated(database))
	require.NoError(t, GetWriteDB(t.Context(), database).Create(&models.User{Nickname: "alice"}).Error)

	var user models.User
	require.NoError(t, GetReadOnlyDB(t.Context(), database).Where("nickname = ?", "alice").First(&user).Error)
	assert.NotZero(t, user.ID)
}
