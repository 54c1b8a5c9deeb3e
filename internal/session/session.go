// Package session implements component I: a single CLI invocation's wiring
// between the file watcher's invalidation stream and the graph engine, its
// cooperative cancellation handle, and the leases it holds open for every
// digest referenced by in-flight work (§4.I "Session & invalidation").
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stratabuild/strata/internal/digest"
	"github.com/stratabuild/strata/internal/events"
	"github.com/stratabuild/strata/internal/events/unordered"
	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/graph"
	"github.com/stratabuild/strata/internal/scheduler"
	"github.com/stratabuild/strata/internal/store"
	"github.com/stratabuild/strata/internal/watch"
)

// Config holds the options a session reads directly (as opposed to the
// per-goal option scopes resolved through the (C) registry).
type Config struct {
	// MaxParallelism bounds the scheduler's worker pool.
	MaxParallelism int64
	// KeepGoing implements §7 "--keep-going semantics": collect every
	// UserError across root requests instead of cancelling on the first.
	KeepGoing bool
	// LeaseTTL is how long a single Hold extends a digest's lease; a
	// session renews leases for everything still in flight on every reap
	// tick, so this only needs to outlast one reap interval.
	LeaseTTL time.Duration
	// ReapInterval schedules (A)'s background reaper; zero disables it.
	ReapInterval time.Duration
	// WorkunitLog, if non-empty, additionally streams every workunit
	// event as newline-delimited JSON to that path (§3 "workunit metadata
	// export").
	WorkunitLog string
}

// DefaultConfig returns the zero-value-safe defaults a session falls back to.
func DefaultConfig() Config {
	return Config{
		MaxParallelism: 4,
		LeaseTTL:       30 * time.Second,
		ReapInterval:   time.Minute,
	}
}

// Session ties one CLI invocation to a single effective option set and a
// single workspace snapshot generation (§4.I). The graph and content store
// outlive the session; only the leases held here and the workunit stream
// are session-local.
type Session struct {
	ID string

	store   *store.Store
	engine  *graph.Engine
	eventer events.Interface
	pool    *scheduler.Pool
	cfg     Config
	log     zerolog.Logger

	cron    *cron.Cron
	watcher *watch.Watcher

	// scopeRetrier lets scope-invalidation handling run unordered: scope
	// fingerprint comparisons commute, so a handler can ack immediately and
	// retry in the background on transient failure instead of blocking the
	// bus's delivery order the way path invalidation (generation-sequenced)
	// must.
	scopeRetrier *unordered.Retrier

	ctx    context.Context
	cancel context.CancelFunc

	leaseMu sync.Mutex
	leases  map[string]heldLease
}

type heldLease struct {
	digest  digest.Digest
	release func()
}

var _ watch.Sink = (*Session)(nil)

// invalidationPayload is the wire shape published to TopicInvalidationPaths.
type invalidationPayload struct {
	Generation uint64   `json:"generation"`
	Paths      []string `json:"paths"`
}

// scopePayload is the wire shape published to TopicInvalidationScope.
type scopePayload struct {
	Scope       string `json:"scope"`
	Fingerprint string `json:"fingerprint"`
}

// New wires a session around an already-constructed store, engine and
// eventer. ctx is the session's parent context; cancelling it cancels the
// session's Context. A delivered signal (see InstallSignalHandler) also
// cancels every in-flight node via the engine; Close does the same and
// stops the background reaper.
func New(ctx context.Context, st *store.Store, eng *graph.Engine, ev events.Interface, reporter scheduler.Reporter, cfg Config) (*Session, error) {
	if cfg.MaxParallelism <= 0 {
		cfg = DefaultConfig()
	}

	sctx, cancel := context.WithCancel(ctx)

	id := uuid.NewString()
	s := &Session{
		ID:      id,
		store:   st,
		engine:  eng,
		eventer: ev,
		cfg:     cfg,
		log:     zerolog.Ctx(ctx).With().Str("component", "session").Str("session_id", id).Logger(),
		ctx:     sctx,
		cancel:  cancel,
		leases:  make(map[string]heldLease),
	}

	if reporter == nil {
		reporter = scheduler.NoopReporter{}
	}
	if cfg.WorkunitLog != "" {
		exporter, err := NewNDJSONExporter(cfg.WorkunitLog)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("session: opening workunit log: %w", err)
		}
		reporter = NewMultiReporter(reporter, exporter)
	}
	s.pool = scheduler.New(cfg.MaxParallelism, reporter)

	if ev != nil {
		ev.Register(events.TopicInvalidationPaths, s.handleInvalidationEvent)
		s.scopeRetrier = unordered.New(ev)
		ev.Register(events.TopicInvalidationScope,
			s.scopeRetrier.Wrap(events.TopicInvalidationScope, s.handleScopeEvent))
	}

	if cfg.ReapInterval > 0 {
		s.cron = cron.New()
		spec := fmt.Sprintf("@every %s", cfg.ReapInterval)
		if _, err := s.cron.AddFunc(spec, s.reapTick); err != nil {
			cancel()
			return nil, fmt.Errorf("session: scheduling reaper: %w", err)
		}
		s.cron.Start()
	}

	return s, nil
}

// Context returns the session's cancellable context; rule bodies and the
// scheduler should derive their own contexts from this one, not from
// context.Background(), so a cancelled session tears down all in-flight work.
func (s *Session) Context() context.Context { return s.ctx }

// Pool returns the session's scheduler pool.
func (s *Session) Pool() *scheduler.Pool { return s.pool }

// AttachWatcher records w so Close stops it; w must already have been
// constructed with this session as its Sink.
func (s *Session) AttachWatcher(w *watch.Watcher) { s.watcher = w }

// Invalidate implements watch.Sink. Rather than calling DrainAndInvalidate
// directly, it republishes onto the eventer bus so every subscriber
// (console, export, the engine wiring below) observes the same event
// stream (§9 domain stack: "in-process invalidation ... pub-sub").
func (s *Session) Invalidate(_ context.Context, ev watch.InvalidationEvent) {
	payload, err := json.Marshal(invalidationPayload{Generation: uint64(ev.Generation), Paths: ev.Paths})
	if err != nil {
		s.log.Error().Err(err).Msg("marshalling invalidation event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(events.GenerationKey, fmt.Sprintf("%d", ev.Generation))
	if s.eventer == nil {
		s.engine.DrainAndInvalidate(ev.Paths)
		return
	}
	if err := s.eventer.Publish(events.TopicInvalidationPaths, msg); err != nil {
		s.log.Error().Err(err).Msg("publishing invalidation event")
	}
}

// PublishScopeChange notifies the bus that scope's fingerprint has changed,
// driving (E)'s InvalidateScope (§4.E "Dirtying" source (ii)).
func (s *Session) PublishScopeChange(scope, fingerprint string) error {
	payload, err := json.Marshal(scopePayload{Scope: scope, Fingerprint: fingerprint})
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if s.eventer == nil {
		s.engine.InvalidateScope(scope, fingerprint)
		return nil
	}
	return s.eventer.Publish(events.TopicInvalidationScope, msg)
}

func (s *Session) handleInvalidationEvent(msg *message.Message) error {
	var p invalidationPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return strataerrors.New(strataerrors.KindEngine, err)
	}
	s.engine.DrainAndInvalidate(p.Paths)
	return nil
}

func (s *Session) handleScopeEvent(msg *message.Message) error {
	var p scopePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return strataerrors.New(strataerrors.KindEngine, err)
	}
	s.engine.InvalidateScope(p.Scope, p.Fingerprint)
	return nil
}

// Hold leases d for the lifetime of one piece of in-flight work, returning a
// release function the caller must invoke once the work no longer
// references d (typically on node completion). The session also renews
// every held lease on each reap tick, so a slow node never loses its lease
// mid-flight.
func (s *Session) Hold(d digest.Digest) func() {
	release := s.store.Lease(d, s.cfg.LeaseTTL)
	id := uuid.NewString()

	s.leaseMu.Lock()
	s.leases[id] = heldLease{digest: d, release: release}
	s.leaseMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.leaseMu.Lock()
			delete(s.leases, id)
			s.leaseMu.Unlock()
			release()
		})
	}
}

func (s *Session) reapTick() {
	s.leaseMu.Lock()
	for id, held := range s.leases {
		held.release()
		s.leases[id] = heldLease{digest: held.digest, release: s.store.Lease(held.digest, s.cfg.LeaseTTL)}
	}
	s.leaseMu.Unlock()

	evicted, err := s.store.Reap(time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("reap failed")
		return
	}
	if evicted > 0 {
		s.log.Debug().Int("evicted", evicted).Msg("reaped content store")
	}
}

// RunGoals drives reqs through the scheduler under this session's
// cancellation and keep-going policy (§3 "--keep-going semantics").
func (s *Session) RunGoals(ctx context.Context, reqs []scheduler.Request) (scheduler.Results, error) {
	return s.pool.RunGoals(ctx, s.engine, reqs, s.cfg.KeepGoing)
}

// Close cancels all outstanding work, releases every held lease, stops the
// reaper and watcher, and closes the eventer. It is safe to call once per
// session, at the end of one CLI invocation.
func (s *Session) Close() error {
	s.cancel()
	s.engine.CancelAll()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.scopeRetrier != nil {
		s.scopeRetrier.Wait()
	}

	s.leaseMu.Lock()
	for id, held := range s.leases {
		held.release()
		delete(s.leases, id)
	}
	s.leaseMu.Unlock()

	if s.eventer != nil {
		return s.eventer.Close()
	}
	return nil
}
