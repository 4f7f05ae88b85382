package db

import (
	"context"
	"fmt"

	"socialchat/config"
	"socialchat/logger"
	"socialchat/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var ORM *gorm.DB

func dsnFromConfig(dbConf config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName,
	)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		// gorm.ErrDuplicatedKey вместо ошибок конкретного драйвера
		TranslateError: true,
	}
}

func ConnectDB() (err error) {
	if ORM != nil {
		logger.Log.Info("ORM is already initialized")
		return nil
	}

	conf := config.AppConfig
	if conf == nil {
		return fmt.Errorf("AppConfig is not loaded")
	}

	if conf.Databases.SQLite != "" {
		database, err := ConnectSQLite(conf.Databases.SQLite)
		if err != nil {
			return err
		}
		ORM = database
		return nil
	}

	if conf.Databases.Master.Host == "" {
		return fmt.Errorf("master database configuration is missing")
	}

	masterDSN := dsnFromConfig(conf.Databases.Master)
	replicaDSNs := make([]gorm.Dialector, 0, len(conf.Databases.Replicas))
	for _, r := range conf.Databases.Replicas {
		replicaDSNs = append(replicaDSNs, postgres.Open(dsnFromConfig(r)))
	}

	database, err := gorm.Open(postgres.Open(masterDSN), gormConfig())
	if err != nil {
		return err
	}

	if len(replicaDSNs) > 0 {
		err = database.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicaDSNs,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return
		}
		logger.Log.Info("read replicas registered", zap.Int("replicas", len(replicaDSNs)))
	}

	ORM = database
	return nil
}

// ConnectSQLite открывает SQLite (файл или ":memory:").
// Одно соединение: in-memory база живёт в нём, а запись в SQLite всё равно последовательная.
func ConnectSQLite(dsn string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return database, nil
}

// Migrate создаёт таблицы и индекс активных пар
func Migrate(database *gorm.DB) error {
	err := database.AutoMigrate(
		&models.User{},
		&models.Migration{},
		&models.UserTokens{},
		&models.Group{},
		&models.GroupMember{},
		&models.FriendshipEdge{},
		&models.Message{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return CreateActivePairIndex(database)
}

func replicated(database *gorm.DB) bool {
	_, ok := database.Config.Plugins[(&dbresolver.DBResolver{}).Name()]
	return ok
}

// GetReadOnlyDB возвращает подключение для чтения (слейвы)
func GetReadOnlyDB(ctx context.Context, database *gorm.DB) *gorm.DB {
	tx := database.WithContext(ctx)
	if replicated(database) {
		tx = tx.Clauses(dbresolver.Read)
	}
	return tx
}

// GetWriteDB возвращает подключение для записи (мастер)
func GetWriteDB(ctx context.Context, database *gorm.DB) *gorm.DB {
	tx := database.WithContext(ctx)
	if replicated(database) {
		tx = tx.Clauses(dbresolver.Write)
	}
	return tx
}
