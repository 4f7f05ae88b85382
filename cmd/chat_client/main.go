package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"socialchat/logger"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Stats struct {
	Connected    int64
	Sent         int64
	SendFailed   int64
	Delivered    int64
	ServerErrors int64
	TotalLatency int64
}

type Config struct {
	WSURL      string
	Workers    int
	Duration   int
	GroupID    int64
	UserIDFrom int64
	MessagesPS int
	Token      string
}

var stats Stats

type outFrame struct {
	Event  string          `json:"event"`
	Room   json.RawMessage `json:"room,omitempty"`
	RoomID string          `json:"room_id,omitempty"`
	Body   string          `json:"body,omitempty"`
}

type inFrame struct {
	Event     string    `json:"event"`
	RoomID    string    `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

func main() {
	config := parseFlags()
	if err := logger.InitLogger("info", ""); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Log

	log.Info("Starting chat client", zap.Any("config", config))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(config.Duration)*time.Second)
		defer cancel()
	}

	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := worker(ctx, config, config.UserIDFrom+int64(id), log); err != nil {
				log.Warn("worker failed", zap.Int("worker", id), zap.Error(err))
			}
		}(i)
	}

	go printStats(ctx, log)
	wg.Wait()
	printFinalStats(log)
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.WSURL, "url", "ws://localhost:8080/api/v1/ws", "Chat websocket URL")
	flag.IntVar(&config.Workers, "workers", 10, "Number of concurrent connections")
	flag.IntVar(&config.Duration, "duration", 60, "Test duration in seconds (0 for infinite)")
	flag.Int64Var(&config.GroupID, "group", 1, "Group room to join")
	flag.Int64Var(&config.UserIDFrom, "user-from", 1, "First user ID; worker N connects as user-from+N")
	flag.IntVar(&config.MessagesPS, "rps", 1, "Messages per second per connection")
	flag.StringVar(&config.Token, "token", "", "Bearer token; all workers connect as its owner instead of X-User-ID")

	flag.Parse()
	return config
}

// worker подключается как userID (нужен backend.trust_user_header) или по токену,
// входит в группу и пишет в неё
func worker(ctx context.Context, config Config, userID int64, log *zap.Logger) error {
	target := config.WSURL
	header := http.Header{}
	if config.Token != "" {
		target = wsURLWithToken(config.WSURL, config.Token)
	} else {
		header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	atomic.AddInt64(&stats.Connected, 1)

	var writeMu sync.Mutex
	write := func(frame outFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	room, _ := json.Marshal(map[string]any{"kind": "group", "group_id": config.GroupID})
	if err := write(outFrame{Event: "join", Room: room}); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}

	joined := make(chan string, 1)
	go readLoop(conn, userID, joined, log)

	var roomID string
	select {
	case roomID = <-joined:
	case <-ctx.Done():
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("join timeout")
	}

	rps := config.MessagesPS
	if rps <= 0 {
		rps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(rps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			return nil
		case <-ticker.C:
			if err := write(outFrame{Event: "send", RoomID: roomID, Body: gofakeit.Sentence(8)}); err != nil {
				atomic.AddInt64(&stats.SendFailed, 1)
				return err
			}
			atomic.AddInt64(&stats.Sent, 1)
		}
	}
}

func readLoop(conn *websocket.Conn, userID int64, joined chan<- string, log *zap.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case "joined":
			select {
			case joined <- frame.RoomID:
			default:
			}
		case "message":
			atomic.AddInt64(&stats.Delivered, 1)
			if frame.Kind == "chat" && frame.SenderID == userID {
				atomic.AddInt64(&stats.TotalLatency, time.Since(frame.Timestamp).Milliseconds())
			}
		case "error":
			atomic.AddInt64(&stats.ServerErrors, 1)
			log.Debug("server error", zap.Int64("user_id", userID), zap.String("error", frame.Error))
		}
	}
}

func printStats(ctx context.Context, log *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("[STATS]",
				zap.Int64("connected", atomic.LoadInt64(&stats.Connected)),
				zap.Int64("sent", atomic.LoadInt64(&stats.Sent)),
				zap.Int64("delivered", atomic.LoadInt64(&stats.Delivered)),
				zap.Int64("errors", atomic.LoadInt64(&stats.ServerErrors)))
		}
	}
}

func printFinalStats(log *zap.Logger) {
	sent := atomic.LoadInt64(&stats.Sent)
	var avgEcho int64
	if sent > 0 {
		avgEcho = atomic.LoadInt64(&stats.TotalLatency) / sent
	}
	log.Info("========== FINAL STATISTICS ==========",
		zap.Int64("connected", atomic.LoadInt64(&stats.Connected)),
		zap.Int64("sent", sent),
		zap.Int64("send_failed", atomic.LoadInt64(&stats.SendFailed)),
		zap.Int64("delivered", atomic.LoadInt64(&stats.Delivered)),
		zap.Int64("server_errors", atomic.LoadInt64(&stats.ServerErrors)),
		zap.Int64("avg_echo_latency_ms", avgEcho))
}

func wsURLWithToken(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
