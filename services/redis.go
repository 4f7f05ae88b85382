package services

import (
	"context"
	"fmt"

	"socialchat/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient подключается к Redis из секции redis конфига и проверяет соединение
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	if config.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is not loaded")
	}

	redisConfig := config.AppConfig.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	// Тест соединения
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
