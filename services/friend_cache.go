package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	friendsKeyPrefix = "chat:friends:"
	friendsGenPrefix = "chat:friends:gen:"
	// пустой список друзей храним как {0}, чтобы не ходить в базу на каждый запрос
	emptyFriendsMarker = "0"
	emptyFriendsTTL    = 5 * time.Minute
)

// FriendCache - кеш id друзей в Redis. Используется только списками друзей;
// проверки доступа к комнатам всегда идут в базу.
// nil-кеш или кеш без клиента работает как пустой.
type FriendCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewFriendCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *FriendCache {
	return &FriendCache{client: client, ttl: ttl, log: log}
}

func friendsKey(userID int64) string {
	return fmt.Sprintf("%s%d", friendsKeyPrefix, userID)
}

// friendsGenKey - счётчик инвалидаций; Set пишет только если он не менялся с момента чтения
func friendsGenKey(userID int64) string {
	return fmt.Sprintf("%s%d", friendsGenPrefix, userID)
}

func (c *FriendCache) enabled() bool {
	return c != nil && c.client != nil
}

// Get возвращает id друзей и признак попадания в кеш
func (c *FriendCache) Get(ctx context.Context, userID int64) ([]int64, bool) {
	if !c.enabled() {
		return nil, false
	}
	members, err := c.client.SMembers(ctx, friendsKey(userID)).Result()
	if err != nil {
		c.log.Warn("friend cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, false
	}
	if len(members) == 0 {
		return nil, false
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m == emptyFriendsMarker {
			continue
		}
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, true
}

// Generation читается до запроса в базу и передаётся в Set
func (c *FriendCache) Generation(ctx context.Context, userID int64) int64 {
	if !c.enabled() {
		return 0
	}
	gen, err := c.client.Get(ctx, friendsGenKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("friend cache generation read failed", zap.Int64("user_id", userID), zap.Error(err))
		return -1
	}
	return gen
}

// Set кладёт список в кеш, если с момента Generation не было Invalidate.
// Иначе список мог устареть и не записывается.
func (c *FriendCache) Set(ctx context.Context, userID, gen int64, ids []int64) {
	if !c.enabled() || gen < 0 {
		return
	}
	key := friendsKey(userID)
	genKey := friendsGenKey(userID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return redis.TxFailedErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(ids) == 0 {
				pipe.SAdd(ctx, key, emptyFriendsMarker)
				pipe.Expire(ctx, key, emptyFriendsTTL)
				return nil
			}
			members := make([]any, 0, len(ids))
			for _, id := range ids {
				members = append(members, id)
			}
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		c.log.Debug("friend cache write skipped, list changed", zap.Int64("user_id", userID))
		return
	}
	if err != nil {
		c.log.Warn("friend cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Invalidate сбрасывает кеш для всех переданных пользователей
func (c *FriendCache) Invalidate(ctx context.Context, userIDs ...int64) {
	if !c.enabled() || len(userIDs) == 0 {
		return
	}
	pipe := c.client.TxPipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, friendsGenKey(id))
		pipe.Del(ctx, friendsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("friend cache invalidation failed", zap.Int64s("user_ids", userIDs), zap.Error(err))
	}
}
