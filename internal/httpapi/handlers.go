// Package httpapi adapts the Broker's three operations onto the HTTP
// contract of spec §6: analyse, work (acquire), and work/{id} (submit).
package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
	"github.com/r3e-network/external-engine-broker/internal/broker"
	"github.com/r3e-network/external-engine-broker/internal/httputil"
	"github.com/r3e-network/external-engine-broker/internal/logging"
	"github.com/r3e-network/external-engine-broker/internal/middleware"
	"github.com/r3e-network/external-engine-broker/internal/session"
)

// Handlers wires the Broker to gorilla/mux routes.
type Handlers struct {
	broker *broker.Broker
	logger *logging.Logger
}

// New constructs Handlers over b.
func New(b *broker.Broker, logger *logging.Logger) *Handlers {
	return &Handlers{broker: b, logger: logger}
}

// Register wires the three §6 endpoints onto router. analyse and acquire
// carry both a request body cap and a per-remote-address rate limit
// (spec §11.6); submit does not, since a provider's upload is a long-lived
// streamed body (possibly unbounded for Work.Infinite jobs) read in bounded
// chunks by Submit itself, not buffered by either middleware.
func (h *Handlers) Register(router *mux.Router, bodyLimit *middleware.BodyLimitMiddleware, rateLimiter *middleware.RateLimiter) {
	guard := func(next http.HandlerFunc) http.Handler {
		var handler http.Handler = next
		if bodyLimit != nil {
			handler = bodyLimit.Handler(handler)
		}
		if rateLimiter != nil {
			handler = rateLimiter.Handler(handler)
		}
		return handler
	}

	router.Handle("/api/external-engine/{id}/analyse", guard(h.Analyse)).Methods(http.MethodPost)
	router.Handle("/api/external-engine/work", guard(h.Acquire)).Methods(http.MethodPost)
	router.HandleFunc("/api/external-engine/work/{id}", h.Submit).Methods(http.MethodPost)
}

type analyseRequest struct {
	ClientSecret string      `json:"clientSecret"`
	Work         broker.Work `json:"work"`
}

// Analyse implements POST /api/external-engine/{id}/analyse (spec §6, §4.3).
func (h *Handlers) Analyse(w http.ResponseWriter, r *http.Request) {
	engineID := mux.Vars(r)["id"]

	var req analyseRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	jobID, sess, err := h.broker.Analyse(r.Context(), engineID, req.ClientSecret, req.Work)
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	enc := json.NewEncoder(w)

	clientGone := false
	for {
		chunk, err := sess.NextChunk(r.Context())
		if err != nil {
			// The client's own request context ended (connection dropped);
			// cancel the session and stop writing (spec §4.3 analyse step 5).
			h.broker.CancelClientGone(jobID)
			clientGone = true
			break
		}
		if chunk.Data == nil {
			break // terminal marker: Completed or Cancelled, nothing more to emit.
		}
		if encErr := enc.Encode(json.RawMessage(chunk.Data)); encErr != nil {
			h.broker.CancelClientGone(jobID)
			clientGone = true
			break
		}
		if canFlush {
			flusher.Flush()
		}
	}

	if !clientGone && canFlush {
		flusher.Flush()
	}
}

type acquireRequest struct {
	ProviderSecret string   `json:"providerSecret"`
	EngineIDs      []string `json:"engineIds"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

type acquireResponse struct {
	JobID string      `json:"id"`
	Work  interface{} `json:"work"`
}

// Acquire implements POST /api/external-engine/work (spec §6, §4.3).
func (h *Handlers) Acquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	timeout := 25 * time.Second
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	jobReq, err := h.broker.Acquire(r.Context(), req.ProviderSecret, req.EngineIDs, timeout)
	if err != nil {
		if be, ok := apperrors.As(err); ok && be.Code == apperrors.CodeTimedOut {
			// A timed-out acquire is not an error from the provider's
			// perspective: an empty body means "re-poll" (spec §6, scenario 3).
			w.WriteHeader(http.StatusOK)
			return
		}
		writeBrokerError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, acquireWireFormat(jobReq))
}

func acquireWireFormat(req *broker.JobRequest) map[string]interface{} {
	work := map[string]interface{}{
		"sessionId":  req.Work.SessionID,
		"threads":    req.Work.Threads,
		"hash":       req.Work.HashMB,
		"infinite":   req.Work.Infinite,
		"multiPv":    req.Work.MultiPV,
		"variant":    req.Work.Variant,
		"initialFen": req.Work.InitialFEN,
		"moves":      req.Work.Moves,
		"engineId":   req.EngineID,
	}
	return map[string]interface{}{"id": req.JobID, "work": work}
}

// Submit implements POST /api/external-engine/work/{id} (spec §6, §4.3).
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if err := h.broker.PushSubmitChunk(jobID, line); err != nil {
			if be, ok := apperrors.As(err); ok && be.Code == apperrors.CodeNotFound {
				httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(apperrors.CodeNotFound), "unknown or terminal job", nil)
				return
			}
			// session-gone: the client went away; stop reading without
			// surfacing an error to the provider (spec §7 propagation policy).
			break
		}
	}

	if err := scanner.Err(); err != nil {
		h.broker.CancelSubmit(jobID, session.ReasonProviderGone)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.broker.CompleteSubmit(jobID); err != nil {
		if be, ok := apperrors.As(err); ok && be.Code == apperrors.CodeNotFound {
			httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(apperrors.CodeNotFound), "unknown job", nil)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	be, ok := apperrors.As(err)
	if !ok {
		httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, string(apperrors.CodeInternal), "internal error", nil)
		return
	}
	httputil.WriteErrorResponse(w, r, be.HTTPStatus, string(be.Code), be.Message, be.Details)
}
