package producer

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// SyntheticConfig configures a Synthetic source.
type SyntheticConfig struct {
	// Code is the event code stamped on every reading, e.g.
	// codec.CodePMS3003 or codec.CodePMS5003.
	Code uint16
	// Interval is the sampling period. Defaults to 30s when zero.
	Interval time.Duration
	// Rand optionally overrides the PRNG (tests supply a seeded one for
	// reproducibility). Defaults to a rand.Rand with the fixed seed 1.
	Rand *rand.Rand
}

// Synthetic is a ticker-driven Source standing in for sensor hardware this
// repository does not have a driver for. It emits a 12-byte payload of three
// little-endian uint32 particle-count bins (PM1.0/PM2.5/PM10-equivalent)
// randomized around a fixed baseline, in the same opaque-to-the-core shape a
// real PMS3003/PMS5003 driver would produce.
//
// It is not started or stopped concurrently with itself; Start/Stop follow
// the same single-owner discipline as the teacher's NetworkWatcher.
type Synthetic struct {
	cfg    SyntheticConfig
	logger *slog.Logger

	events chan Reading

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynthetic creates a Synthetic source for cfg. The returned source is
// not started; call Start to begin sampling.
func NewSynthetic(cfg SyntheticConfig, logger *slog.Logger) *Synthetic {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthetic{
		cfg:    cfg,
		logger: logger,
		events: make(chan Reading, 8),
	}
}

// Start begins sampling on the configured interval. Calling Start on an
// already-running source is a no-op.
func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("synthetic producer started",
		slog.Int("code", int(s.cfg.Code)),
		slog.Duration("interval", s.cfg.Interval),
	)
	return nil
}

// Stop halts sampling, waits for the sampling goroutine to exit, and closes
// the Events channel. Safe to call multiple times.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	close(s.events)
}

// Events returns the channel readings are published on.
func (s *Synthetic) Events() <-chan Reading {
	return s.events
}

func (s *Synthetic) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(s.sample())
		}
	}
}

func (s *Synthetic) sample() []byte {
	base := [3]uint32{8, 12, 15}
	payload := make([]byte, 12)
	for i, b := range base {
		jitter := uint32(s.cfg.Rand.Intn(5))
		binary.LittleEndian.PutUint32(payload[i*4:i*4+4], b+jitter)
	}
	return payload
}

func (s *Synthetic) emit(payload []byte) {
	select {
	case s.events <- Reading{Code: s.cfg.Code, Payload: payload}:
	default:
		s.logger.Warn("synthetic producer: event channel full, dropping reading",
			slog.Int("code", int(s.cfg.Code)))
	}
}
