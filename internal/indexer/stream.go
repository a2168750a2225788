package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"transferScope/internal/metrics"
	"transferScope/internal/model"
	"transferScope/internal/storage"
)

// State is a streaming driver state.
type State string

const (
	StateStarting     State = "starting"
	StateCatchingUp   State = "catching_up"
	StateLive         State = "live"
	StateError        State = "error"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// StreamConfig holds runtime settings for the streaming driver.
type StreamConfig struct {
	Fetch               FetchConfig
	CatchUp             bool
	SubscriptionBuffer  int
	ReconnectBackoff    time.Duration
	ReconnectMaxBackoff time.Duration
}

// Streamer follows the chain head. It resumes from the stored checkpoint,
// replays the gap since then, and ingests live events one at a time.
type Streamer struct {
	source      LiveSource
	ingester    *Ingester
	checkpoints storage.CheckpointStore
	cfg         StreamConfig
	logger      *zap.Logger
	metrics     *metrics.Metrics
	drainer     rangeDrainer

	mu         sync.RWMutex
	state      State
	checkpoint uint64
	seeded     bool
	tally      Tally

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

func NewStreamer(
	source LiveSource,
	ingester *Ingester,
	checkpoints storage.CheckpointStore,
	cfg StreamConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Fetch = cfg.Fetch.withDefaults()
	if cfg.SubscriptionBuffer <= 0 {
		cfg.SubscriptionBuffer = 128
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if cfg.ReconnectMaxBackoff <= 0 {
		cfg.ReconnectMaxBackoff = time.Minute
	}
	if cfg.ReconnectMaxBackoff < cfg.ReconnectBackoff {
		cfg.ReconnectMaxBackoff = cfg.ReconnectBackoff
	}
	return &Streamer{
		source:      source,
		ingester:    ingester,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		drainer: rangeDrainer{
			source:   source,
			ingester: ingester,
			cfg:      cfg.Fetch,
			logger:   logger,
		},
	}
}

// State returns the current driver state.
func (s *Streamer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Checkpoint returns the last checkpoint value this driver has persisted.
func (s *Streamer) Checkpoint() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint, s.seeded
}

// Tally returns the outcomes counted since Run started.
func (s *Streamer) Tally() Tally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tally
}

// Run blocks until ctx is cancelled, which is a clean stop and returns nil.
// Source failures never end Run; they lead to reconnect and catch-up. Failing
// to read or seed the checkpoint is returned.
func (s *Streamer) Run(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("source is nil")
	}
	if s.ingester == nil {
		return fmt.Errorf("ingester is nil")
	}
	if s.checkpoints == nil {
		return fmt.Errorf("checkpoint store is nil")
	}

	s.transition(StateStarting)
	delay := s.cfg.ReconnectBackoff
	for resumed := false; ; resumed = true {
		wentLive, err := s.session(ctx, resumed)
		if ctx.Err() != nil {
			s.transition(StateStopped)
			return nil
		}
		if !errors.Is(err, ErrSourceUnavailable) {
			s.transition(StateStopped)
			return err
		}

		s.transition(StateError)
		cp, _ := s.Checkpoint()
		s.logger.Warn("stream interrupted", zap.Error(err), zap.Uint64("checkpoint", cp))

		// Sessions that never reach live back off harder each time.
		if wentLive {
			delay = s.cfg.ReconnectBackoff
		}
		s.transition(StateReconnecting)
		if err := sleep(ctx, delay); err != nil {
			s.transition(StateStopped)
			return nil
		}
		delay = min(delay*2, s.cfg.ReconnectMaxBackoff)

		if err := s.reconnect(ctx); err != nil {
			s.transition(StateStopped)
			return nil
		}
	}
}

// session runs one connection lifetime: seed if needed, subscribe, catch up,
// then consume live events until the subscription fails or ctx ends. The
// catch-up setting only applies to the first session; a resumed session
// always replays from the checkpoint to cover the time it was disconnected.
func (s *Streamer) session(ctx context.Context, resumed bool) (bool, error) {
	if err := s.ensureCheckpoint(ctx); err != nil {
		return false, err
	}

	// Subscribe before catching up so that events produced during the replay
	// wait in the buffer instead of falling into a gap.
	events := make(chan model.RawEvent, s.cfg.SubscriptionBuffer)
	sub, err := s.source.Subscribe(ctx, events)
	if err != nil {
		return false, fmt.Errorf("%w: subscribe: %v", ErrSourceUnavailable, err)
	}
	defer sub.Unsubscribe()

	if s.cfg.CatchUp || resumed {
		s.transition(StateCatchingUp)
		if err := s.catchUp(ctx); err != nil {
			return false, err
		}
	}

	s.transition(StateLive)
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				err = errors.New("subscription closed")
			}
			return true, fmt.Errorf("%w: subscription: %v", ErrSourceUnavailable, err)
		case ev := <-events:
			s.ingest(ctx, ev)
		}
	}
}

// ensureCheckpoint loads the checkpoint once per process, seeding it from the
// chain head when none has been stored yet.
func (s *Streamer) ensureCheckpoint(ctx context.Context) error {
	if _, seeded := s.Checkpoint(); seeded {
		return nil
	}

	block, ok, err := s.checkpoints.Read(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		s.setCheckpoint(block)
		s.logger.Info("resume from checkpoint", zap.Uint64("checkpoint", block))
		return nil
	}

	height, err := s.source.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("%w: current height: %v", ErrSourceUnavailable, err)
	}
	if err := s.checkpoints.Write(ctx, height); err != nil {
		return fmt.Errorf("seed checkpoint: %w", err)
	}
	s.setCheckpoint(height)
	s.logger.Info("seeded checkpoint from chain head", zap.Uint64("checkpoint", height))
	return nil
}

func (s *Streamer) catchUp(ctx context.Context) error {
	height, err := s.source.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("%w: current height: %v", ErrSourceUnavailable, err)
	}
	cp, _ := s.Checkpoint()
	from := cp + 1
	if from > height {
		s.logger.Info("nothing to catch up", zap.Uint64("checkpoint", cp), zap.Uint64("height", height))
		return nil
	}

	s.logger.Info("catch up", zap.Uint64("from", from), zap.Uint64("to", height))
	var tally Tally
	err = s.drainer.drain(ctx, from, height, &tally, s.advance)
	s.addTally(tally)
	s.logger.Info("catch up finished", zap.Stringer("tally", tally), zap.Error(err))
	return err
}

func (s *Streamer) ingest(ctx context.Context, ev model.RawEvent) {
	var tally Tally
	ingestOne(ctx, s.ingester, ev, &tally, s.advance)
	s.addTally(tally)
}

func (s *Streamer) addTally(t Tally) {
	s.mu.Lock()
	s.tally.Inserted += t.Inserted
	s.tally.DuplicateSkipped += t.DuplicateSkipped
	s.tally.Failed += t.Failed
	s.mu.Unlock()
}

// advance moves the checkpoint to max(block, current). A failed write leaves
// the stored checkpoint behind, which only widens the next catch-up.
func (s *Streamer) advance(ctx context.Context, block uint64) {
	cp, _ := s.Checkpoint()
	if block <= cp {
		return
	}
	if err := s.checkpoints.Write(ctx, block); err != nil {
		s.logger.Error("checkpoint write failed", zap.Error(err), zap.Uint64("block", block))
		return
	}
	s.setCheckpoint(block)
}

func (s *Streamer) setCheckpoint(block uint64) {
	s.mu.Lock()
	s.checkpoint = block
	s.seeded = true
	s.mu.Unlock()
	s.metrics.SetCheckpoint(block)
}

func (s *Streamer) reconnect(ctx context.Context) error {
	return retryUntil(ctx, s.cfg.ReconnectBackoff, s.cfg.ReconnectMaxBackoff, s.source.Reconnect, func(err error, next time.Duration) {
		s.logger.Warn("reconnect failed", zap.Error(err), zap.Duration("retry_in", next))
	})
}

func (s *Streamer) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.metrics.SetStreamState(string(prev), string(next))
	s.logger.Info("stream state", zap.String("from", string(prev)), zap.String("to", string(next)))
	if s.OnTransition != nil {
		s.OnTransition(prev, next)
	}
}
