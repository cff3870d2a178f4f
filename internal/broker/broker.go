package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
	"github.com/r3e-network/external-engine-broker/internal/chess"
	"github.com/r3e-network/external-engine-broker/internal/jobqueue"
	"github.com/r3e-network/external-engine-broker/internal/logging"
	"github.com/r3e-network/external-engine-broker/internal/metrics"
	"github.com/r3e-network/external-engine-broker/internal/registry"
	"github.com/r3e-network/external-engine-broker/internal/session"
)

// Config bounds the Broker's resource usage (spec §5).
type Config struct {
	// MaxActiveSessions caps total non-terminal sessions; analyse beyond it
	// returns busy before any session is created (§9 Open Question b).
	MaxActiveSessions int
	// SessionBufferChunks is the per-session output buffer capacity (§4.2, §5).
	SessionBufferChunks int
	// MinAcquireTimeout / MaxAcquireTimeout bound the long-poll ceiling a
	// provider may request (§5: "bounded below by a few seconds and above by
	// a value below any intermediate proxy's idle cutoff").
	MinAcquireTimeout time.Duration
	MaxAcquireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxActiveSessions <= 0 {
		c.MaxActiveSessions = 10000
	}
	if c.SessionBufferChunks <= 0 {
		c.SessionBufferChunks = 8
	}
	if c.MinAcquireTimeout <= 0 {
		c.MinAcquireTimeout = 3 * time.Second
	}
	if c.MaxAcquireTimeout <= 0 {
		c.MaxAcquireTimeout = 25 * time.Second
	}
	return c
}

type activeKey struct {
	userID   string
	engineID string
}

// Broker is the top-level coordinator (spec §4.3): it owns the JobQueue, the
// session map keyed by job id, and the secondary (user id, engine id) map
// used for preemption.
type Broker struct {
	cfg      Config
	registry registry.Registry
	logger   *logging.Logger
	metrics  *metrics.Metrics

	queue *jobqueue.Queue[JobRequest]

	mu             sync.Mutex
	sessions       map[string]*session.Session
	active         map[activeKey]string
	jobEngine      map[string]string   // job id -> engine id, for withdraw-on-cancel
	knownEngineIDs map[string]struct{} // every engine id ever offered a job, for QueueDepths
}

// New constructs a Broker. reg is the narrow Registry.Lookup contract the
// core depends on (SPEC_FULL §11.1); metrics may be nil in tests.
func New(reg registry.Registry, logger *logging.Logger, m *metrics.Metrics, cfg Config) *Broker {
	return &Broker{
		cfg:            cfg.withDefaults(),
		registry:       reg,
		logger:         logger,
		metrics:        m,
		queue:          jobqueue.New[JobRequest](),
		sessions:       make(map[string]*session.Session),
		active:         make(map[activeKey]string),
		jobEngine:      make(map[string]string),
		knownEngineIDs: make(map[string]struct{}),
	}
}

// Analyse implements spec §4.3 analyse: validate, preempt, enqueue, and hand
// back the session the caller streams next_chunk from.
func (b *Broker) Analyse(ctx context.Context, engineID, clientSecret string, work Work) (jobID string, sess *session.Session, err error) {
	reg, err := b.registry.Lookup(ctx, engineID)
	if err != nil {
		return "", nil, err
	}
	if !registry.CheckClientSecret(reg, clientSecret) {
		return "", nil, apperrors.Forbidden("client secret does not match")
	}

	if err := validateWork(reg, work); err != nil {
		return "", nil, err
	}

	b.mu.Lock()
	if len(b.sessions) >= b.cfg.MaxActiveSessions {
		b.mu.Unlock()
		return "", nil, apperrors.Busy()
	}

	jobID = uuid.NewString()
	sess = session.New(jobID, b.cfg.SessionBufferChunks)
	b.sessions[jobID] = sess
	b.jobEngine[jobID] = engineID
	b.knownEngineIDs[engineID] = struct{}{}

	key := activeKey{userID: reg.UserID, engineID: engineID}
	if prevJobID, ok := b.active[key]; ok {
		b.preemptLocked(ctx, prevJobID, engineID)
	}
	b.active[key] = jobID
	b.mu.Unlock()

	b.logger.LogSessionTransition(ctx, jobID, "", session.Queued.String(), "")
	go b.releaseOnTerminal(key, jobID, sess)

	b.queue.Offer(engineID, jobID, JobRequest{
		JobID:    jobID,
		EngineID: engineID,
		UserID:   reg.UserID,
		Work:     work,
	})
	if b.metrics != nil {
		b.metrics.QueueDepth.WithLabelValues(engineID).Set(float64(b.queue.Depth(engineID)))
	}

	return jobID, sess, nil
}

// preemptLocked cancels prevJobID's session and withdraws it from the queue
// if still unacquired. Caller must hold b.mu.
func (b *Broker) preemptLocked(ctx context.Context, prevJobID, engineID string) {
	prev, ok := b.sessions[prevJobID]
	if !ok || prev.IsTerminal() {
		return
	}
	prevState := prev.State().String()
	prev.Cancel(session.ReasonPreempted)
	b.queue.Withdraw(engineID, prevJobID)
	b.logger.LogSessionTransition(ctx, prevJobID, prevState, session.Cancelled.String(), session.ReasonPreempted)
	if b.metrics != nil {
		b.metrics.Preemptions.Inc()
	}
}

// releaseOnTerminal removes jobID from the session and active maps once its
// session reaches a terminal state. The caller's own reference to sess keeps
// it alive for draining independent of map membership (design note §9:
// "back-references from the session to the queue are unnecessary once
// acquisition has happened").
func (b *Broker) releaseOnTerminal(key activeKey, jobID string, sess *session.Session) {
	<-sess.Done()

	b.mu.Lock()
	delete(b.sessions, jobID)
	delete(b.jobEngine, jobID)
	if b.active[key] == jobID {
		delete(b.active, key)
	}
	b.mu.Unlock()

	b.logger.LogSessionTransition(context.Background(), jobID, "", sess.State().String(), sess.Reason())
}

// ReportMetrics snapshots current session-by-state counts into the
// SessionsByState gauge. Called periodically by the idle reaper rather than
// on every transition, since a gauge reflecting point-in-time counts only
// needs to be as fresh as the scrape interval.
func (b *Broker) ReportMetrics() {
	if b.metrics == nil {
		return
	}

	b.mu.Lock()
	counts := map[string]int{}
	for _, sess := range b.sessions {
		counts[sess.State().String()]++
	}
	b.mu.Unlock()

	for _, state := range []string{"Queued", "Acquired", "Streaming", "Completed", "Cancelled"} {
		b.metrics.SessionsByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// Acquire implements spec §4.3 acquire: filter eligible engine ids by
// provider secret, long-poll their union, and atomically claim a job.
func (b *Broker) Acquire(ctx context.Context, providerSecret string, engineIDs []string, timeout time.Duration) (*JobRequest, error) {
	timeout = clampAcquireTimeout(timeout, b.cfg)

	eligible := b.filterEligible(ctx, providerSecret, engineIDs)
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.AcquireLatency.Observe(time.Since(start).Seconds())
		}
	}()

	if len(eligible) == 0 {
		// Scenario 6 (spec §8): a wrong secret must be indistinguishable
		// from "no work yet" from the provider's perspective, so we still
		// wait out the full timeout before responding empty.
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		b.logger.LogAcquireAttempt(ctx, engineIDs, false, time.Since(start))
		return nil, apperrors.TimedOut()
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.logger.LogAcquireAttempt(ctx, eligible, false, time.Since(start))
			return nil, apperrors.TimedOut()
		}

		waitCtx, cancel := context.WithTimeout(ctx, remaining)
		engineID, jobID, req, ok := b.queue.TakeAny(waitCtx, eligible)
		cancel()
		if !ok {
			b.logger.LogAcquireAttempt(ctx, eligible, false, time.Since(start))
			return nil, apperrors.TimedOut()
		}

		b.mu.Lock()
		sess, exists := b.sessions[jobID]
		b.mu.Unlock()
		if !exists {
			// Session already released (e.g. preempted between Offer and
			// Take); keep waiting rather than hand back a dead job
			// (invariant: "acquire never returns a job whose session is
			// already terminal").
			continue
		}
		if err := sess.MarkAcquired(); err != nil {
			continue
		}

		b.logger.LogSessionTransition(ctx, jobID, session.Queued.String(), session.Acquired.String(), "")
		b.logger.LogAcquireAttempt(ctx, eligible, true, time.Since(start))
		if b.metrics != nil {
			b.metrics.QueueDepth.WithLabelValues(engineID).Set(float64(b.queue.Depth(engineID)))
		}
		return &req, nil
	}
}

// SessionCountsByState returns a live snapshot of non-terminal session counts
// per state, for the admin stats stream. Unlike ReportMetrics, this never
// touches Prometheus and is safe to call on every websocket tick.
func (b *Broker) SessionCountsByState() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]int, 4)
	for _, sess := range b.sessions {
		counts[sess.State().String()]++
	}
	return counts
}

// QueueDepths returns the current queue depth for every engine id that has
// ever had a job offered to it.
func (b *Broker) QueueDepths() map[string]int {
	b.mu.Lock()
	engineIDs := make([]string, 0, len(b.knownEngineIDs))
	for id := range b.knownEngineIDs {
		engineIDs = append(engineIDs, id)
	}
	b.mu.Unlock()

	depths := make(map[string]int, len(engineIDs))
	for _, id := range engineIDs {
		depths[id] = b.queue.Depth(id)
	}
	return depths
}

func (b *Broker) filterEligible(ctx context.Context, providerSecret string, engineIDs []string) []string {
	eligible := make([]string, 0, len(engineIDs))
	for _, id := range engineIDs {
		reg, err := b.registry.Lookup(ctx, id)
		if err != nil {
			continue
		}
		if registry.CheckProviderSecret(reg, providerSecret) {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

func clampAcquireTimeout(requested time.Duration, cfg Config) time.Duration {
	if requested < cfg.MinAcquireTimeout {
		return cfg.MinAcquireTimeout
	}
	if requested > cfg.MaxAcquireTimeout {
		return cfg.MaxAcquireTimeout
	}
	return requested
}

// PushSubmitChunk implements one chunk of spec §4.3 submit step 2.
func (b *Broker) PushSubmitChunk(jobID string, chunk []byte) error {
	sess, ok := b.lookupSession(jobID)
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	if err := sess.PushChunk(chunk); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.ChunksRelayed.Inc()
	}
	return nil
}

// CompleteSubmit implements the normal end-of-stream path of submit step 2.
func (b *Broker) CompleteSubmit(jobID string) error {
	sess, ok := b.lookupSession(jobID)
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	return sess.Complete()
}

// CancelSubmit implements submit step 3: a mid-stream provider disconnect.
func (b *Broker) CancelSubmit(jobID, reason string) {
	if sess, ok := b.lookupSession(jobID); ok {
		sess.Cancel(reason)
	}
}

// CancelClientGone implements analyse step 5: the client's response
// connection dropped. If the job had not yet been acquired, it is withdrawn
// from its engine's queue (spec §8: "a client disconnecting before any
// provider acquires its job causes the job to be withdrawn from the queue").
func (b *Broker) CancelClientGone(jobID string) {
	b.mu.Lock()
	sess, ok := b.sessions[jobID]
	engineID := b.jobEngine[jobID]
	b.mu.Unlock()
	if !ok {
		return
	}

	sess.Cancel(session.ReasonClientGone)
	if engineID != "" {
		b.queue.Withdraw(engineID, jobID)
	}
}

func (b *Broker) lookupSession(jobID string) (*session.Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[jobID]
	return sess, ok
}

func validateWork(reg *registry.EngineRegistration, work Work) error {
	if work.Variant != "" && reg.Params.Variant != "" && work.Variant != reg.Params.Variant {
		return apperrors.BadRequest("variant does not match the engine registration")
	}
	if reg.Params.MaxMultiPV > 0 && work.MultiPV > reg.Params.MaxMultiPV {
		return apperrors.BadRequest("multiPv exceeds the registration's limit")
	}
	if reg.Params.MaxThreads > 0 && work.Threads > reg.Params.MaxThreads {
		return apperrors.BadRequest("threads exceeds the registration's limit")
	}
	if reg.Params.MaxHashMB > 0 && work.HashMB > reg.Params.MaxHashMB {
		return apperrors.BadRequest("hash exceeds the registration's limit")
	}

	variant := work.Variant
	if variant == "" {
		variant = reg.Params.Variant
	}
	if variant == chess.VariantStandard || variant == "" {
		if err := chess.ValidateSequence(work.InitialFEN, work.Moves); err != nil {
			return apperrors.Wrap(apperrors.CodeBadRequest, "invalid position or move sequence", 400, err)
		}
	} else if _, err := chess.ParseFEN(work.InitialFEN); err != nil {
		return apperrors.Wrap(apperrors.CodeBadRequest, "invalid starting position", 400, err)
	}
	return nil
}
