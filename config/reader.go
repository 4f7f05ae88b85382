package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// ChatConfig - параметры доставки сообщений в комнаты
type ChatConfig struct {
	// Размер буфера отправки на одно соединение; при переполнении соединение закрывается
	SendBuffer int `yaml:"send_buffer"`
	// Не отправлять эхо отправившему соединению (остальные устройства пользователя получают сообщение)
	SuppressSenderEcho bool    `yaml:"suppress_sender_echo"`
	MaxMessageLength   int     `yaml:"max_message_length"`
	RatePerSecond      float64 `yaml:"rate_per_second"`
	RateBurst          int     `yaml:"rate_burst"`
	HistoryLimit       int     `yaml:"history_limit"`
	PingPeriodSeconds  int     `yaml:"ping_period_seconds"`
}

type ConfigSchema struct {
	Databases struct {
		Master   DBConfig   `yaml:"master"`
		Replicas []DBConfig `yaml:"replicas"`
		// SQLite DSN для локального запуска без PostgreSQL
		SQLite string `yaml:"sqlite"`
	} `yaml:"db"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// TTL кеша списка друзей в секундах
		FriendsTTL int `yaml:"friends_ttl"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"rabbitmq"`
	Backend struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		// Разрешает заголовок X-User-ID (только для тестовых стендов)
		TrustUserHeader bool `yaml:"trust_user_header"`
	} `yaml:"backend"`
	Logs struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logs"`
	Chat ChatConfig `yaml:"chat"`
}

var AppConfig *ConfigSchema

// DefaultChatConfig возвращает значения по умолчанию
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		SendBuffer:        256,
		MaxMessageLength:  5000,
		RatePerSecond:     30,
		RateBurst:         50,
		HistoryLimit:      100,
		PingPeriodSeconds: 54,
	}
}

func (c *ChatConfig) applyDefaults() {
	def := DefaultChatConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = def.MaxMessageLength
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = def.RatePerSecond
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.PingPeriodSeconds <= 0 {
		c.PingPeriodSeconds = def.PingPeriodSeconds
	}
}

func (s *ConfigSchema) applyDefaults() {
	if s.Backend.Port == 0 {
		s.Backend.Port = 8080
	}
	if s.Databases.Master.Port == 0 {
		s.Databases.Master.Port = 5432
	}
	if s.Redis.FriendsTTL <= 0 {
		s.Redis.FriendsTTL = 24 * 60 * 60
	}
	if s.RabbitMQ.Queue == "" {
		s.RabbitMQ.Queue = "friendship_notifications"
	}
	if s.Logs.Level == "" {
		s.Logs.Level = "info"
	}
	s.Chat.applyDefaults()
}

func LoadConfig(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	schema := &ConfigSchema{}
	if err = yaml.Unmarshal(data, schema); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", filePath, err)
	}
	schema.applyDefaults()
	AppConfig = schema
	return nil
}
