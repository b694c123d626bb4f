package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ourair/sensorlog/internal/clock"
	"github.com/ourair/sensorlog/internal/codec"
	"github.com/ourair/sensorlog/internal/flashdev"
	"github.com/ourair/sensorlog/internal/flashring"
	"github.com/ourair/sensorlog/internal/poster"
	"github.com/ourair/sensorlog/internal/producer"
	"github.com/ourair/sensorlog/internal/ramring"
)

// Config carries the parameters needed to assemble a Node. Poster is
// optional: nil or a zero Host means no poster task is started, mirroring the
// firmware behavior of running the RAM->flash pipeline even when the
// collector's address is unconfigured.
type Config struct {
	RAMBuffers    int
	RAMBufferSize int
	RAMHoldoff    uint32

	FlashDevice      flashdev.Device
	FlashFirstSector int
	FlashNumSectors  int
	FlushInterval    time.Duration

	Poster     *poster.Config
	PosterOpts []poster.Option
	ResetInfo  []byte
	Producers  []producer.Source
}

// Node is the central orchestrator wiring the RAM ring, flash ring, poster,
// and producers into one supervised task group.
type Node struct {
	logger *slog.Logger
	clock  clock.Source

	ram   *ramring.Ring
	flash *flashring.Ring
	post  *poster.Poster

	producers []producer.Source

	flushInterval time.Duration
	resetInfo     []byte

	mu        sync.RWMutex
	startTime time.Time
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New assembles a Node from cfg. It recovers the flash ring's write cursor
// (which may read the flash device) before returning, so the RAM ring starts
// at the correct next index.
func New(ctx context.Context, cfg Config, clk clock.Source, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	flashRing := flashring.NewRing(cfg.FlashDevice, cfg.FlashFirstSector, cfg.FlashNumSectors)
	startIndex, err := flashRing.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("node: flash recovery: %w", err)
	}

	ramRing := ramring.NewRing(cfg.RAMBuffers, cfg.RAMBufferSize, startIndex, cfg.RAMHoldoff, clk)

	n := &Node{
		logger:        logger,
		clock:         clk,
		ram:           ramRing,
		flash:         flashRing,
		producers:     cfg.Producers,
		flushInterval: cfg.FlushInterval,
		resetInfo:     cfg.ResetInfo,
	}

	if cfg.Poster != nil && cfg.Poster.Host != "" {
		opts := append([]poster.Option{poster.WithLogger(logger), poster.WithEventSink(ramRing)}, cfg.PosterOpts...)
		n.post = poster.New(*cfg.Poster, clk, flashRing, opts...)
	} else {
		logger.Warn("node: poster not configured, running RAM->flash pipeline only")
	}

	return n, nil
}

// Start launches the flasher, the poster (if configured), and every
// registered producer under one errgroup, and appends the STARTUP event.
// Start returns once every task is running; call Stop to request shutdown
// and wait for task completion.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node: already running")
	}
	n.running = true
	n.startTime = time.Now()
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	n.group = g

	n.emitStartup()

	g.Go(func() error {
		return n.flash.RunFlasher(gctx, n.ram, n.flushInterval, nil)
	})

	if n.post != nil {
		g.Go(func() error {
			return n.post.Run(gctx)
		})
	}

	for _, src := range n.producers {
		src := src
		if err := src.Start(gctx); err != nil {
			cancel()
			return fmt.Errorf("node: producer failed to start: %w", err)
		}
		g.Go(func() error {
			return n.pumpProducer(gctx, src)
		})
	}

	n.logger.Info("node started",
		slog.Int("producers", len(n.producers)),
		slog.Bool("poster_enabled", n.post != nil),
	)
	return nil
}

// pumpProducer forwards readings from src into the RAM ring until src's
// events channel is closed or ctx is done, retrying the append against the
// latest head index whenever a concurrent rotation invalidates the one it
// encoded against.
func (n *Node) pumpProducer(ctx context.Context, src producer.Source) error {
	idx := n.ram.HeadIndex()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-src.Events():
			if !ok {
				return nil
			}
			for {
				newIdx := n.ram.Append(idx, r.Code, r.Payload, codec.LowResTime)
				if newIdx == idx {
					break
				}
				idx = newIdx
			}
		}
	}
}

func (n *Node) emitStartup() {
	payload := codec.StartupPayload{ResetInfo: n.resetInfo, RTCCalib: n.clock.Now()}.Encode()
	idx := n.ram.HeadIndex()
	for {
		newIdx := n.ram.Append(idx, codec.CodeStartup, payload, codec.NoRepeat)
		if newIdx == idx {
			break
		}
		idx = newIdx
	}
}

// Stop cancels all running tasks, stops every producer, and waits for the
// supervised task group to exit.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	for _, src := range n.producers {
		src.Stop()
	}
	if n.group == nil {
		return nil
	}
	err := n.group.Wait()
	n.logger.Info("node stopped")
	return err
}

// HealthStatus is the payload returned by the status API's /healthz
// endpoint.
type HealthStatus struct {
	Status   string  `json:"status"`
	UptimeS  float64 `json:"uptime_s"`
	RAMDepth int     `json:"ram_depth"`
}

// Health returns a snapshot of the node's current state.
func (n *Node) Health() HealthStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return HealthStatus{
		Status:   "ok",
		UptimeS:  time.Since(n.startTime).Seconds(),
		RAMDepth: n.ram.Depth(),
	}
}

// Flash exposes the flash ring so the status API can serve block-size and
// block-range queries directly against it.
func (n *Node) Flash() *flashring.Ring { return n.flash }
