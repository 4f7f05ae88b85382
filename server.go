package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialchat/api/handlers"
	"socialchat/api/middleware"
	"socialchat/api/routes"
	"socialchat/config"
	"socialchat/db"
	"socialchat/logger"
	"socialchat/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	conf := config.AppConfig

	if err := logger.InitLogger(conf.Logs.Level, conf.Logs.File); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.ConnectDB(); err != nil {
		log.Fatal("Failed to connect to the database", zap.Error(err))
	}
	if err := db.Migrate(db.ORM); err != nil {
		log.Fatal("Failed to migrate the database", zap.Error(err))
	}

	store := services.NewGormGateway(db.ORM)
	directory := services.NewGormDirectory(db.ORM)
	registry := services.NewRegistry()
	friends := services.NewFriendService(store, directory, registry, log)

	if conf.Redis.Host != "" {
		redisClient, err := services.NewRedisClient(ctx)
		if err != nil {
			log.Warn("Redis unavailable, friend cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			ttl := time.Duration(conf.Redis.FriendsTTL) * time.Second
			friends.WithCache(services.NewFriendCache(redisClient, ttl, log))
		}
	}

	friends.WithEvents(services.NewLocalPublisher(registry))
	if conf.RabbitMQ.URL != "" {
		publisher, err := services.NewRabbitPublisher(conf.RabbitMQ.URL, log)
		if err != nil {
			log.Warn("RabbitMQ unavailable, friendship events stay local", zap.Error(err))
		} else {
			defer publisher.Close()
			hostname, _ := os.Hostname()
			queue := fmt.Sprintf("%s.%s.%d", conf.RabbitMQ.Queue, hostname, os.Getpid())
			if err := publisher.StartConsumer(ctx, queue, registry); err != nil {
				log.Warn("Failed to start friendship consumer", zap.Error(err))
			} else {
				friends.WithEvents(publisher)
			}
		}
	}

	chat := services.NewChatService(store, directory, friends, registry, conf.Chat, log)
	tokens := services.NewTokenStore(db.ORM)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware("socialchat"))

	routes.PublicApi(router, routes.Handlers{
		Friends: handlers.NewFriendHandler(friends),
		Chat:    handlers.NewChatHandler(chat, time.Duration(conf.Chat.PingPeriodSeconds)*time.Second, log),
		Users:   handlers.NewUserHandler(directory),
	}, middleware.AuthMiddleware(tokens, conf.Backend.TrustUserHeader))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Backend.Host, conf.Backend.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
