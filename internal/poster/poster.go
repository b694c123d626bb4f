package poster

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ourair/sensorlog/internal/clock"
	"github.com/ourair/sensorlog/internal/codec"
	"github.com/ourair/sensorlog/internal/holdoff"
	"github.com/ourair/sensorlog/internal/signing"
)

// responseBodySize is the fixed size of the five little-endian uint32
// fields read from the response body.
const responseBodySize = 20

var errNothingToPost = errors.New("poster: nothing to post")

// BlockSource is the flash-resident side of the pipeline the poster reads
// confirmed-delivery state from. flashring.Ring satisfies this.
type BlockSource interface {
	GetBufferToPost(buf []byte) (size, index, start uint32)
	NoteBufferPosted(index, size uint32)
	Signal() <-chan struct{}
}

// EventSink is where the poster logs its own POST_TIME correlation event.
// ramring.Ring satisfies this.
type EventSink interface {
	Append(expectedIndex uint32, code uint16, payload []byte, flags codec.Flags) uint32
	HeadIndex() uint32
}

// Config carries the poster's external configuration.
type Config struct {
	SensorID    uint32
	Key         []byte // 287-byte pre-shared secret
	Host        string
	Port        string
	Path        string
	BlockSize   int // sector size the flash ring posts, default 4096
	DialTimeout time.Duration
	// MaybeInterval bounds how long the poster waits for a signal before
	// re-checking anyway.
	MaybeInterval time.Duration
	// PostTimeDedupe is the minimum spacing between POST_TIME events, in
	// clock.Source units (the same counter events are timestamped with).
	PostTimeDedupe uint32
}

// Option configures a Poster at construction time.
type Option func(*Poster)

// WithLogger overrides the poster's logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(p *Poster) { p.log = l }
}

// WithMetrics makes the poster update m (see NewMetrics) instead of the
// metrics shared through the default global registry.
func WithMetrics(m *Metrics) Option {
	return func(p *Poster) { p.metrics = m }
}

// WithEventSink enables POST_TIME correlation-event logging back into the
// RAM ring on every confirmed post.
func WithEventSink(sink EventSink) Option {
	return func(p *Poster) { p.events = sink }
}

// WithRTCHint installs a callback invoked with the server's wall-clock
// response on every confirmed post, to let the host update any external
// time hint it keeps.
func WithRTCHint(f func(sec, usec uint32)) Option {
	return func(p *Poster) { p.rtcHint = f }
}

// WithDialer overrides how the poster opens its TCP connection; used by
// tests to dial a loopback test collector without touching DNS.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(p *Poster) { p.dial = dial }
}

// Poster is the task that durably confirms flash blocks with a remote
// collector.
type Poster struct {
	cfg   Config
	clock clock.Source
	flash BlockSource

	log     *slog.Logger
	metrics *Metrics
	events  EventSink
	rtcHint func(sec, usec uint32)
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	holdoff           holdoff.Holdoff
	lastPostTimeEvent uint32
	havePostTimeEvent bool
}

// New constructs a Poster. cfg.BlockSize, cfg.MaybeInterval, and
// cfg.PostTimeDedupe default to 4096, 120s, and 60s respectively when zero.
func New(cfg Config, clk clock.Source, flash BlockSource, opts ...Option) *Poster {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 4096
	}
	if cfg.MaybeInterval == 0 {
		cfg.MaybeInterval = 120 * time.Second
	}
	if cfg.PostTimeDedupe == 0 {
		cfg.PostTimeDedupe = 60_000_000 // 60s of RTC32's microsecond-denominated counter
	}
	p := &Poster{
		cfg:   cfg,
		clock: clk,
		flash: flash,
		log:   slog.Default(),
	}
	var d net.Dialer
	p.dial = d.DialContext
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		defaultMetricsOnce.Do(func() { defaultMetrics = NewMetrics(prometheus.DefaultRegisterer) })
		p.metrics = defaultMetrics
	}
	return p
}

// defaultMetrics is registered against the default global registry once per
// process and shared by every Poster built without WithMetrics, since
// registering the same metric names twice panics.
var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// Run drains the flash ring whenever it signals or MaybeInterval elapses,
// posting every confirmed-pending block, until ctx is done.
func (p *Poster) Run(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.MaybeInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.flash.Signal():
		case <-timer.C:
		}

		for {
			err := p.attemptOne(ctx)
			if errors.Is(err, errNothingToPost) {
				break
			}
			if err != nil {
				p.log.Warn("post attempt failed", "err", err)
				p.metrics.errors.Inc()
				d := p.holdoff.Fail()
				p.metrics.holdoff.Set(d.Seconds())
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d):
				}
				continue
			}
			p.holdoff.Reset()
			p.metrics.holdoff.Set(0)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.cfg.MaybeInterval)
	}
}

// attemptOne sends at most one block and applies the server's response. It
// returns errNothingToPost if the flash ring currently has nothing pending.
func (p *Poster) attemptOne(ctx context.Context) error {
	buf := make([]byte, p.cfg.BlockSize)
	size, index, start := p.flash.GetBufferToPost(buf)
	if size == 0 {
		return errNothingToPost
	}
	p.metrics.attempts.Inc()

	dialCtx := ctx
	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}
	addr := net.JoinHostPort(p.cfg.Host, p.cfg.Port)
	conn, err := p.dial(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("poster: dial %s: %w", addr, err)
	}
	defer conn.Close()

	sentTime := p.clock.Now()
	slice := buf[:size]
	signed := signing.BuildSignedRecord(p.cfg.SensorID, sentTime, index, start, slice)
	tag := signing.Tag(p.cfg.Key, signed)
	body := append(append([]byte(nil), signed...), tag...)

	req := fmt.Sprintf(
		"POST %s HTTP/1.1\r\n"+
			"Host: %s:%s\r\n"+
			"Connection: close\r\n"+
			"Content-Type: application/octet-stream\r\n"+
			"Content-Length: %d\r\n"+
			"\r\n",
		p.cfg.Path, p.cfg.Host, p.cfg.Port, len(body))

	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("poster: write request: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("poster: write body: %w", err)
	}

	respBody, err := readResponseBody(conn, responseBodySize)
	if err != nil {
		return fmt.Errorf("poster: read response: %w", err)
	}

	recvMagic := binary.LittleEndian.Uint32(respBody[0:4])
	recvSec := binary.LittleEndian.Uint32(respBody[4:8])
	recvUsec := binary.LittleEndian.Uint32(respBody[8:12])
	recvIndex := binary.LittleEndian.Uint32(respBody[12:16])
	recvSize := binary.LittleEndian.Uint32(respBody[16:20])

	if recvMagic != signing.ExpectedMagic(p.cfg.SensorID, sentTime) {
		return fmt.Errorf("poster: response magic mismatch")
	}

	if p.events != nil {
		p.maybeEmitPostTime(sentTime, recvSec, recvUsec)
	}
	if p.rtcHint != nil {
		p.rtcHint(recvSec, recvUsec)
	}
	p.flash.NoteBufferPosted(recvIndex, recvSize)

	p.metrics.successes.Inc()
	p.metrics.bytesPosted.Add(float64(size))
	return nil
}

func (p *Poster) maybeEmitPostTime(sentTime, recvSec, recvUsec uint32) {
	now := p.clock.Now()
	if p.havePostTimeEvent && now-p.lastPostTimeEvent < p.cfg.PostTimeDedupe {
		return
	}
	payload := codec.PostTimePayload{SentTime: sentTime, RecvSec: recvSec, RecvUsec: recvUsec}.Encode()
	idx := p.events.HeadIndex()
	for {
		newIdx := p.events.Append(idx, codec.CodePostTime, payload, codec.NoRepeat)
		if newIdx == idx {
			break
		}
		idx = newIdx
	}
	p.lastPostTimeEvent = now
	p.havePostTimeEvent = true
}

// readResponseBody reads from conn until it has seen the end of the HTTP
// headers ("\r\n\r\n") and then at least minBody bytes of whatever follows,
// returning exactly that many body bytes.
func readResponseBody(conn net.Conn, minBody int) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 256)

	headersEnd := -1
	for headersEnd < 0 {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
				headersEnd = idx + 4
			}
		}
		if err != nil {
			if headersEnd >= 0 {
				break
			}
			return nil, err
		}
	}

	body := buf[headersEnd:]
	for len(body) < minBody {
		n, err := conn.Read(chunk)
		if n > 0 {
			body = append(body, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	if len(body) < minBody {
		return nil, fmt.Errorf("response body too short: got %d bytes, want %d", len(body), minBody)
	}
	return body[:minBody], nil
}
