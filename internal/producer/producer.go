package producer

import (
	"context"
)

// Reading is one sample pulled off a Source: an event code paired with its
// already-encoded payload, ready for ramring.Ring.Append.
type Reading struct {
	Code    uint16
	Payload []byte
}

// Source is implemented by anything that samples a sensor and turns its
// readings into events. Start launches the sampling goroutine(s); Events
// returns the channel readings are published on; Stop releases resources and
// closes the channel once any sampling goroutine has exited.
//
// A Source shaped this way mirrors the watcher interface the rest of this
// module's ambient stack borrows its concurrency idiom from: Start/Stop
// bracket a background goroutine, and the channel it feeds is closed only
// after that goroutine has actually exited.
type Source interface {
	Start(ctx context.Context) error
	Events() <-chan Reading
	Stop()
}
