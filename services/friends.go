package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"socialchat/models"

	"go.uber.org/zap"
)

// Decision - ответ получателя на заявку
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

func (d Decision) status() (models.FriendshipStatus, bool) {
	switch d {
	case DecisionAccept:
		return models.FriendshipAccepted, true
	case DecisionReject:
		return models.FriendshipRejected, true
	default:
		return "", false
	}
}

// PendingRequest - входящая заявка вместе с данными отправителя
type PendingRequest struct {
	EdgeID    int64       `json:"edge_id"`
	Requester models.User `json:"requester"`
	CreatedAt time.Time   `json:"created_at"`
}

// pairLocks - мьютекс на неупорядоченную пару; независимые пары не мешают друг другу
type pairLocks struct {
	mu    sync.Mutex
	locks map[[2]int64]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[[2]int64]*pairLock)}
}

func (p *pairLocks) lock(a, b int64) (unlock func()) {
	low, high := models.SortedPair(a, b)
	key := [2]int64{low, high}

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// FriendService - машина состояний дружбы: pending -> accepted | rejected
type FriendService struct {
	store     Gateway
	directory Directory
	registry  *Registry
	cache     *FriendCache
	events    EventPublisher
	log       *zap.Logger
	pairs     *pairLocks
	now       func() time.Time
}

func NewFriendService(store Gateway, directory Directory, registry *Registry, log *zap.Logger) *FriendService {
	return &FriendService{
		store:     store,
		directory: directory,
		registry:  registry,
		log:       log,
		pairs:     newPairLocks(),
		now:       time.Now,
	}
}

// WithCache включает кеш списка друзей
func (fs *FriendService) WithCache(cache *FriendCache) *FriendService {
	fs.cache = cache
	return fs
}

// WithEvents включает уведомления о заявках
func (fs *FriendService) WithEvents(events EventPublisher) *FriendService {
	fs.events = events
	return fs
}

// RequestFriend создаёт заявку от requesterID пользователю targetUsername
func (fs *FriendService) RequestFriend(ctx context.Context, requesterID int64, targetUsername string) (int64, error) {
	target, err := fs.directory.FindByUsername(ctx, targetUsername)
	if err != nil {
		return 0, err
	}
	if target.ID == requesterID {
		return 0, ErrSelfReference
	}

	unlock := fs.pairs.lock(requesterID, target.ID)
	defer unlock()

	var edge *models.FriendshipEdge
	err = fs.store.Transaction(ctx, func(tx Gateway) error {
		edges, err := tx.QueryEdgesForPair(ctx, requesterID, target.ID)
		if err != nil {
			return err
		}
		for i := range edges {
			if edges[i].Status.Active() {
				return fmt.Errorf("%w: friendship is already %s", ErrDuplicateRequest, edges[i].Status)
			}
		}
		edge = models.NewFriendRequest(requesterID, target.ID, fs.now())
		return tx.InsertFriendshipEdge(ctx, edge)
	})
	if err != nil {
		return 0, err
	}

	fs.log.Info("friend request created",
		zap.Int64("edge_id", edge.ID),
		zap.Int64("requester_id", requesterID),
		zap.Int64("recipient_id", target.ID))
	fs.publish(ctx, FriendRequestReceived, edge, target.ID, requesterID)
	return edge.ID, nil
}

// RespondToRequest - ответ получателя на заявку. Отвечать может только получатель.
func (fs *FriendService) RespondToRequest(ctx context.Context, edgeID, recipientID int64, decision Decision) error {
	status, ok := decision.status()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	edge, err := fs.store.QueryEdge(ctx, edgeID)
	if err != nil {
		return err
	}
	if edge.RecipientID != recipientID {
		return fmt.Errorf("%w: only the recipient can respond to request %d", ErrUnauthorized, edgeID)
	}
	if edge.Status != models.FriendshipPending {
		return fmt.Errorf("%w: no pending request %d", ErrNotFound, edgeID)
	}

	updated, err := fs.store.UpdateFriendshipStatus(ctx, edgeID, status, fs.now())
	if err != nil {
		return err
	}
	if !updated {
		// параллельный ответ успел раньше
		return fmt.Errorf("%w: no pending request %d", ErrNotFound, edgeID)
	}

	fs.log.Info("friend request answered",
		zap.Int64("edge_id", edgeID),
		zap.String("status", string(status)))

	eventType := FriendRequestRejected
	if status == models.FriendshipAccepted {
		fs.cache.Invalidate(ctx, edge.RequesterID, edge.RecipientID)
		eventType = FriendRequestAccepted
	}
	fs.publish(ctx, eventType, edge, edge.RequesterID, recipientID)
	return nil
}

// ListPending возвращает входящие заявки с данными отправителей
func (fs *FriendService) ListPending(ctx context.Context, userID int64) ([]PendingRequest, error) {
	edges, err := fs.store.QueryPendingFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(edges))
	for i := range edges {
		ids = append(ids, edges[i].RequesterID)
	}
	users, err := fs.directory.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	pending := make([]PendingRequest, 0, len(edges))
	for i := range edges {
		requester, ok := byID[edges[i].RequesterID]
		if !ok {
			fs.log.Warn("pending request from unknown user",
				zap.Int64("edge_id", edges[i].ID),
				zap.Int64("requester_id", edges[i].RequesterID))
			continue
		}
		pending = append(pending, PendingRequest{
			EdgeID:    edges[i].ID,
			Requester: requester,
			CreatedAt: edges[i].CreatedAt,
		})
	}
	return pending, nil
}

func (fs *FriendService) friendIDs(ctx context.Context, userID int64) ([]int64, error) {
	if ids, ok := fs.cache.Get(ctx, userID); ok {
		return ids, nil
	}
	gen := fs.cache.Generation(ctx, userID)
	ids, err := fs.store.QueryFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	fs.cache.Set(ctx, userID, gen, ids)
	return ids, nil
}

// ListFriends возвращает всех, с кем у пользователя принятая дружба
func (fs *FriendService) ListFriends(ctx context.Context, userID int64) ([]models.User, error) {
	ids, err := fs.friendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	users, err := fs.directory.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	friends := users[:0]
	for _, u := range users {
		if u.ID != userID {
			friends = append(friends, u)
		}
	}
	return friends, nil
}

// ListFriendsOnline - друзья, у которых сейчас есть живое соединение
func (fs *FriendService) ListFriendsOnline(ctx context.Context, userID int64) ([]models.User, error) {
	friends, err := fs.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(friends))
	for _, u := range friends {
		ids = append(ids, u.ID)
	}
	onlineIDs := make(map[int64]struct{}, len(ids))
	for _, id := range fs.registry.OnlineUsers(ids) {
		onlineIDs[id] = struct{}{}
	}
	online := make([]models.User, 0, len(onlineIDs))
	for _, u := range friends {
		if _, ok := onlineIDs[u.ID]; ok {
			online = append(online, u)
		}
	}
	return online, nil
}

// AreFriends читает хранилище напрямую, без кеша
func (fs *FriendService) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	return fs.store.HasAcceptedEdge(ctx, a, b)
}

// publish - уведомления не влияют на результат операции
func (fs *FriendService) publish(ctx context.Context, eventType string, edge *models.FriendshipEdge, to, peer int64) {
	if fs.events == nil {
		return
	}
	event := FriendshipEvent{
		Type:      eventType,
		EdgeID:    edge.ID,
		UserID:    to,
		PeerID:    peer,
		CreatedAt: fs.now(),
	}
	if user, err := fs.directory.FindByID(ctx, peer); err == nil {
		event.PeerName = user.Nickname
	}
	if err := fs.events.Publish(ctx, event); err != nil {
		fs.log.Warn("failed to publish friendship event",
			zap.String("type", eventType),
			zap.Int64("edge_id", edge.ID),
			zap.Error(err))
	}
}
