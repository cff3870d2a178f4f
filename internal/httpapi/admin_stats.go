package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/r3e-network/external-engine-broker/internal/broker"
	"github.com/r3e-network/external-engine-broker/internal/logging"
)

const (
	statsWriteWait  = 10 * time.Second
	statsPingPeriod = 25 * time.Second
	statsPushPeriod = 2 * time.Second
)

var statsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatsHandler streams live broker and host load onto a websocket for the
// admin dashboard (SPEC_FULL §11's operator-visibility surface). It has no
// bearing on job rendezvous; RequireAdminAuth guards it the same as the rest
// of the admin API.
type StatsHandler struct {
	broker *broker.Broker
	logger *logging.Logger
}

// NewStats constructs a StatsHandler over b.
func NewStats(b *broker.Broker, logger *logging.Logger) *StatsHandler {
	return &StatsHandler{broker: b, logger: logger}
}

// Register wires GET /api/external-engine/admin/stats/stream onto router.
func (h *StatsHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/external-engine/admin/stats/stream", h.Stream).Methods(http.MethodGet)
}

type liveStats struct {
	Timestamp       time.Time      `json:"timestamp"`
	SessionsByState map[string]int `json:"sessionsByState"`
	QueueDepth      map[string]int `json:"queueDepth"`
	HostCPUPercent  float64        `json:"hostCpuPercent"`
	HostMemPercent  float64        `json:"hostMemPercent"`
}

// Stream upgrades to a websocket and pushes liveStats every statsPushPeriod
// until the client disconnects.
func (h *StatsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := statsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Warn("stats websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.drainClientMessages(conn, cancel)

	ticker := time.NewTicker(statsPushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.snapshot()
			conn.SetWriteDeadline(time.Now().Add(statsWriteWait))
			data, err := json.Marshal(stats)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// drainClientMessages discards inbound frames (this endpoint is read-only
// from the client's perspective) and cancels ctx once the peer closes.
func (h *StatsHandler) drainClientMessages(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StatsHandler) snapshot() liveStats {
	stats := liveStats{
		Timestamp:       time.Now(),
		SessionsByState: h.broker.SessionCountsByState(),
		QueueDepth:      h.broker.QueueDepths(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.HostCPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostMemPercent = vm.UsedPercent
	}

	return stats
}
