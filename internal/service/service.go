package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/alerting"
	"github.com/mrsadri/xRate/internal/chain"
	"github.com/mrsadri/xRate/internal/engine"
	"github.com/mrsadri/xRate/internal/market"
	"github.com/mrsadri/xRate/internal/ratelimit"
	"github.com/mrsadri/xRate/internal/state"
	"github.com/mrsadri/xRate/internal/storage"
)

// ErrRateLimited is returned when an externally triggered refresh
// exceeds its namespace budget.
var ErrRateLimited = errors.New("service: rate limited")

// Options wire the service dependencies.
type Options struct {
	Chains      []*chain.Chain
	Assembler   *chain.Assembler
	Engine      *engine.Engine
	StateStore  *state.Store
	Notifier    alerting.Notifier
	SampleStore storage.SnapshotSampleStore
	EventStore  storage.BreachEventStore
	Locker      storage.AdvisoryLocker
	LockKey     int64
	Limiter     *ratelimit.Limiter
}

// Service orchestrates polling, snapshot assembly, threshold decisions,
// persistence, and alert dispatch.
type Service struct {
	chains      []*chain.Chain
	assembler   *chain.Assembler
	engine      *engine.Engine
	stateStore  *state.Store
	notifier    alerting.Notifier
	sampleStore storage.SnapshotSampleStore
	eventStore  storage.BreachEventStore
	locker      storage.AdvisoryLocker
	lockKey     int64
	limiter     *ratelimit.Limiter
	expected    int
	logger      zerolog.Logger

	// In-memory breach state is authoritative between decision cycles.
	// stateDirty marks a failed persist so the next cycle retries even
	// when nothing fired.
	stateMu    sync.Mutex
	state      market.BreachState
	stateDirty bool
}

// New constructs the service. LoadState must be called before the first
// decision cycle.
func New(opts Options, logger zerolog.Logger) *Service {
	expected := 0
	for _, ch := range opts.Chains {
		expected += len(ch.Required())
	}
	return &Service{
		expected:    expected,
		chains:      opts.Chains,
		assembler:   opts.Assembler,
		engine:      opts.Engine,
		stateStore:  opts.StateStore,
		notifier:    opts.Notifier,
		sampleStore: opts.SampleStore,
		eventStore:  opts.EventStore,
		locker:      opts.Locker,
		lockKey:     opts.LockKey,
		limiter:     opts.Limiter,
		logger:      logger.With().Str("component", "service").Logger(),
	}
}

// LoadState primes the in-memory breach state from disk.
func (s *Service) LoadState() error {
	st, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load breach state: %w", err)
	}
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
	return nil
}

// ChainFor returns the chain serving the given category, or nil.
func (s *Service) ChainFor(category market.Category) *chain.Chain {
	for _, ch := range s.chains {
		if ch.Category() == category {
			return ch
		}
	}
	return nil
}

// PollCategory runs one fetch pass for a category, warming the shared
// source cache ahead of the next decision cycle. Exhaustion is logged
// and absorbed; stale cached values keep serving.
func (s *Service) PollCategory(ctx context.Context, category market.Category, tick time.Time) error {
	ch := s.ChainFor(category)
	if ch == nil {
		return fmt.Errorf("no chain for category %s", category)
	}

	quote, err := ch.Fetch(ctx)
	if err != nil {
		if errors.Is(err, market.ErrChainExhausted) {
			s.logger.Warn().Str("category", string(category)).Time("tick", tick).
				Msg("category exhausted this poll")
			return nil
		}
		return err
	}

	s.logger.Debug().Str("category", string(category)).Str("source", quote.SourceID).
		Msg("category poll complete")
	return nil
}

// Decide runs one decision cycle: assemble a snapshot across all
// chains, feed it through the threshold engine, persist the audit
// sample and any breach events, dispatch alerts, and save state.
func (s *Service) Decide(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, bucket)
}

func (s *Service) executeCycle(ctx context.Context, bucket time.Time) error {
	snap, err := s.assembler.Assemble(ctx, bucket)
	if err != nil {
		if errors.Is(err, market.ErrChainExhausted) {
			s.logger.Warn().Time("bucket", bucket).Msg("all categories exhausted, skipping cycle")
			s.recordErroredSample(ctx, bucket, err)
			return nil
		}
		return fmt.Errorf("assemble snapshot: %w", err)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	next, events := s.engine.Evaluate(s.state, snap)

	s.recordSample(ctx, bucket, snap)

	for _, event := range events {
		s.recordEvent(ctx, bucket, event)
		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, event); err != nil {
				s.logger.Error().Err(err).Str("instrument", string(event.Instrument)).
					Msg("failed to dispatch alert")
			}
		}
	}

	s.state = next
	if len(events) > 0 || s.stateDirty {
		if err := s.stateStore.Save(s.state); err != nil {
			// Memory stays authoritative; retried next cycle.
			s.stateDirty = true
			s.logger.Error().Err(err).Msg("failed to persist breach state")
		} else {
			s.stateDirty = false
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Int("instruments", len(snap.Values)).
		Int("events", len(events)).
		Strs("providers", snap.ProviderList()).
		Msg("decision cycle complete")
	return nil
}

// TriggerRefresh runs an on-demand decision cycle on behalf of an
// external caller, subject to the namespace rate limit.
func (s *Service) TriggerRefresh(ctx context.Context, namespace, key string) error {
	if s.limiter != nil && !s.limiter.Allow(namespace, key) {
		s.logger.Warn().Str("namespace", namespace).Str("key", key).Msg("refresh rejected by rate limit")
		return fmt.Errorf("%w: namespace %s", ErrRateLimited, namespace)
	}
	return s.Decide(ctx, time.Now().UTC())
}

// CurrentState returns a copy of the in-memory breach state.
func (s *Service) CurrentState() market.BreachState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Clone()
}

func (s *Service) recordSample(ctx context.Context, bucket time.Time, snap market.Snapshot) {
	if s.sampleStore == nil {
		return
	}

	status := "complete"
	if len(snap.Values) < s.expected {
		status = "partial"
	}

	sample := storage.SnapshotSample{
		Bucket:      bucket,
		USDToman:    snapValue(snap, market.InstrumentUSDToman),
		EURToman:    snapValue(snap, market.InstrumentEURToman),
		GoldToman:   snapValue(snap, market.InstrumentGoldToman),
		EURUSD:      snapValue(snap, market.InstrumentEURUSD),
		TetherToman: snapValue(snap, market.InstrumentTetherToman),
		Providers:   snap.ProviderList(),
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.sampleStore.UpsertSnapshotSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert snapshot sample")
	}
}

func (s *Service) recordErroredSample(ctx context.Context, bucket time.Time, cause error) {
	if s.sampleStore == nil {
		return
	}

	msg := cause.Error()
	sample := storage.SnapshotSample{
		Bucket:    bucket,
		Providers: []string{},
		Status:    "errored",
		Error:     &msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.sampleStore.UpsertSnapshotSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to record errored sample")
	}
}

func (s *Service) recordEvent(ctx context.Context, bucket time.Time, event market.BreachEvent) {
	if s.eventStore == nil {
		return
	}

	record := storage.BreachEventRecord{
		Bucket:     bucket,
		Instrument: string(event.Instrument),
		Direction:  string(event.Direction),
		OldValue:   event.OldValue,
		NewValue:   event.NewValue,
		Providers:  event.Providers,
	}
	if _, err := s.eventStore.InsertBreachEvent(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("instrument", string(event.Instrument)).
			Msg("failed to persist breach event")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func snapValue(snap market.Snapshot, inst market.Instrument) *decimal.Decimal {
	v, ok := snap.Values[inst]
	if !ok {
		return nil
	}
	return &v
}
