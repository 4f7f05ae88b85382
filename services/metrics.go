package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of bound websocket connections",
		},
	)

	chatActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_rooms",
			Help: "Number of rooms with at least one attached connection",
		},
	)

	chatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of room messages processed",
		},
		[]string{"scope", "kind", "status"},
	)

	chatPersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_message_persist_duration_seconds",
			Help:    "Duration of message persistence in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"scope"},
	)

	chatRoomJoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_room_joins_total",
			Help: "Total number of room join attempts",
		},
		[]string{"kind", "result"},
	)

	chatOverflowDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_overflow_disconnects_total",
			Help: "Connections closed because their send buffer was full",
		},
	)

	chatPresenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_persist_failures_total",
			Help: "Presence messages that could not be persisted",
		},
	)
)
