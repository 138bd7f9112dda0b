package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_presence_online_users",
		Help: "Users currently marked online on this instance",
	})
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages persisted, by entry path",
	}, []string{"path"})
	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_status_transitions_total",
		Help: "Message status advances, by target status",
	}, []string{"status"})
	WSEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_events_total",
		Help: "Inbound realtime events, by event name and result",
	}, []string{"event", "result"})
	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_frames_total",
		Help: "Outbound frames dropped because a client buffer was full",
	})
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, OnlineUsers, MessagesSent, StatusTransitions, WSEvents, DroppedFrames)
	})
}

// Handler exposes the default registry to a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
