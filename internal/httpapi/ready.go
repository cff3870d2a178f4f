package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/r3e-network/external-engine-broker/internal/httputil"
)

// minMemoryHeadroomPercent is the minimum fraction of system memory that
// must stay free for /ready to report healthy (spec §11.7).
const minMemoryHeadroomPercent = 5.0

// Pinger is satisfied by the registry store; readiness refuses to report
// healthy if the broker can no longer reach its registrations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler backs the /ready endpoint, following the teacher's
// readyHandler shape (db reachability plus a host-resource check) adapted
// to use gopsutil for the resource half instead of a static flag.
type ReadyHandler struct {
	store Pinger
}

// NewReady constructs a ReadyHandler over store.
func NewReady(store Pinger) *ReadyHandler {
	return &ReadyHandler{store: store}
}

// Register wires /ready onto router.
func (h *ReadyHandler) Register(router *mux.Router) {
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
}

// Ready implements GET /ready: not_ready if the registry is unreachable or
// the host is under memory pressure, ready otherwise.
func (h *ReadyHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"details": map[string]any{"registry": "unavailable"},
		})
		return
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"details": map[string]any{"memory": "unavailable"},
		})
		return
	}

	headroom := 100 - vm.UsedPercent
	if headroom < minMemoryHeadroomPercent {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"details": map[string]any{"memory": "low headroom", "headroomPercent": headroom},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"details": map[string]any{"memoryHeadroomPercent": headroom},
	})
}
