package services

import (
	"context"
	"errors"
	"slices"
	"time"

	"socialchat/db"
	"socialchat/models"

	"gorm.io/gorm"
)

// Gateway - долговременное хранилище рёбер дружбы, сообщений и состава групп.
// Все ошибки хранилища оборачивают ErrPersistence.
type Gateway interface {
	InsertFriendshipEdge(ctx context.Context, edge *models.FriendshipEdge) error
	// UpdateFriendshipStatus меняет статус только pending-ребра; false - ребро уже не pending
	UpdateFriendshipStatus(ctx context.Context, edgeID int64, status models.FriendshipStatus, at time.Time) (bool, error)
	QueryEdgesForPair(ctx context.Context, a, b int64) ([]models.FriendshipEdge, error)
	QueryEdge(ctx context.Context, edgeID int64) (*models.FriendshipEdge, error)
	QueryPendingFor(ctx context.Context, recipientID int64) ([]models.FriendshipEdge, error)
	QueryFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	HasAcceptedEdge(ctx context.Context, a, b int64) (bool, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	QueryGroupMembers(ctx context.Context, groupID int64) (map[int64]struct{}, error)
	QueryPrivateHistory(ctx context.Context, a, b int64, limit int) ([]models.Message, error)
	QueryGroupHistory(ctx context.Context, groupID int64, limit int) ([]models.Message, error)
	// Transaction выполняет fn в одной транзакции; ошибка fn откатывает всё
	Transaction(ctx context.Context, fn func(tx Gateway) error) error
}

type GormGateway struct {
	orm  *gorm.DB
	inTx bool
}

func NewGormGateway(orm *gorm.DB) *GormGateway {
	return &GormGateway{orm: orm}
}

func (g *GormGateway) reader(ctx context.Context) *gorm.DB {
	if g.inTx {
		return g.orm.WithContext(ctx)
	}
	return db.GetReadOnlyDB(ctx, g.orm)
}

func (g *GormGateway) writer(ctx context.Context) *gorm.DB {
	if g.inTx {
		return g.orm.WithContext(ctx)
	}
	return db.GetWriteDB(ctx, g.orm)
}

func (g *GormGateway) Transaction(ctx context.Context, fn func(tx Gateway) error) error {
	if g.inTx {
		return fn(g)
	}
	return db.GetWriteDB(ctx, g.orm).Transaction(func(tx *gorm.DB) error {
		return fn(&GormGateway{orm: tx, inTx: true})
	})
}

func (g *GormGateway) InsertFriendshipEdge(ctx context.Context, edge *models.FriendshipEdge) error {
	err := g.writer(ctx).Create(edge).Error
	if err != nil {
		// параллельная вставка с другого инстанса упёрлась в индекс активных пар
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateRequest
		}
		return persistenceError("insert friendship edge", err)
	}
	return nil
}

func (g *GormGateway) UpdateFriendshipStatus(ctx context.Context, edgeID int64, status models.FriendshipStatus, at time.Time) (bool, error) {
	res := g.writer(ctx).Model(&models.FriendshipEdge{}).
		Where("id = ? AND status = ?", edgeID, models.FriendshipPending).
		Updates(map[string]any{"status": status, "responded_at": at})
	if res.Error != nil {
		return false, persistenceError("update friendship status", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (g *GormGateway) QueryEdgesForPair(ctx context.Context, a, b int64) ([]models.FriendshipEdge, error) {
	low, high := models.SortedPair(a, b)
	var edges []models.FriendshipEdge
	err := g.reader(ctx).Where("pair_low = ? AND pair_high = ?", low, high).Order("id").Find(&edges).Error
	if err != nil {
		return nil, persistenceError("query edges for pair", err)
	}
	return edges, nil
}

func (g *GormGateway) QueryEdge(ctx context.Context, edgeID int64) (*models.FriendshipEdge, error) {
	var edge models.FriendshipEdge
	err := g.writer(ctx).First(&edge, edgeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("query edge", err)
	}
	return &edge, nil
}

func (g *GormGateway) QueryPendingFor(ctx context.Context, recipientID int64) ([]models.FriendshipEdge, error) {
	var edges []models.FriendshipEdge
	err := g.reader(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, models.FriendshipPending).
		Order("created_at, id").
		Find(&edges).Error
	if err != nil {
		return nil, persistenceError("query pending edges", err)
	}
	return edges, nil
}

// QueryFriendIDs - вторые участники всех accepted-рёбер пользователя
func (g *GormGateway) QueryFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var edges []models.FriendshipEdge
	err := g.reader(ctx).
		Where("(pair_low = ? OR pair_high = ?) AND status = ?", userID, userID, models.FriendshipAccepted).
		Find(&edges).Error
	if err != nil {
		return nil, persistenceError("query friend ids", err)
	}
	ids := make([]int64, 0, len(edges))
	for i := range edges {
		if other := edges[i].Other(userID); other != userID {
			ids = append(ids, other)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// HasAcceptedEdge читает с мастера: accept должен сразу открывать приватную комнату
func (g *GormGateway) HasAcceptedEdge(ctx context.Context, a, b int64) (bool, error) {
	low, high := models.SortedPair(a, b)
	var count int64
	err := g.writer(ctx).Model(&models.FriendshipEdge{}).
		Where("pair_low = ? AND pair_high = ? AND status = ?", low, high, models.FriendshipAccepted).
		Count(&count).Error
	if err != nil {
		return false, persistenceError("check accepted edge", err)
	}
	return count > 0, nil
}

func (g *GormGateway) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := g.writer(ctx).Create(msg).Error; err != nil {
		return persistenceError("insert message", err)
	}
	return nil
}

func (g *GormGateway) QueryGroupMembers(ctx context.Context, groupID int64) (map[int64]struct{}, error) {
	var userIDs []int64
	err := g.reader(ctx).Model(&models.GroupMember{}).Where("group_id = ?", groupID).Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, persistenceError("query group members", err)
	}
	members := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		members[id] = struct{}{}
	}
	return members, nil
}

func (g *GormGateway) QueryPrivateHistory(ctx context.Context, a, b int64, limit int) ([]models.Message, error) {
	return g.roomHistory(ctx, string(PrivateRoomID(a, b)), limit)
}

func (g *GormGateway) QueryGroupHistory(ctx context.Context, groupID int64, limit int) ([]models.Message, error) {
	return g.roomHistory(ctx, string(GroupRoomID(groupID)), limit)
}

// roomHistory - последние limit сообщений чата комнаты в хронологическом порядке (без системных)
func (g *GormGateway) roomHistory(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := g.reader(ctx).
		Where("room_id = ? AND kind = ?", roomID, models.KindChat).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, persistenceError("query room history", err)
	}
	slices.Reverse(messages)
	return messages, nil
}
