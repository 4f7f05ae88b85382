package services

import (
	"context"
	"errors"

	"socialchat/db"
	"socialchat/models"

	"gorm.io/gorm"
)

// Directory - справочник пользователей; ядро только читает его
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

type GormDirectory struct {
	orm *gorm.DB
}

func NewGormDirectory(orm *gorm.DB) *GormDirectory {
	return &GormDirectory{orm: orm}
}

// FindByUsername ищет по точному совпадению никнейма
func (d *GormDirectory) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.GetReadOnlyDB(ctx, d.orm).Where("nickname = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("find user by username", err)
	}
	return &user, nil
}

func (d *GormDirectory) FindByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := db.GetReadOnlyDB(ctx, d.orm).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("find user by id", err)
	}
	return &user, nil
}

// FindByIDs возвращает найденных пользователей в порядке id; отсутствующие id пропускаются
func (d *GormDirectory) FindByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	err := db.GetReadOnlyDB(ctx, d.orm).Where("id IN ?", ids).Order("id").Find(&users).Error
	if err != nil {
		return nil, persistenceError("find users by ids", err)
	}
	return users, nil
}
