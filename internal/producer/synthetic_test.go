package producer_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/ourair/sensorlog/internal/codec"
	"github.com/ourair/sensorlog/internal/producer"
)

func TestSyntheticEmitsReadingsUntilStopped(t *testing.T) {
	src := producer.NewSynthetic(producer.SyntheticConfig{
		Code:     codec.CodePMS3003,
		Interval: 5 * time.Millisecond,
		Rand:     rand.New(rand.NewSource(42)),
	}, nil)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case r, ok := <-src.Events():
		if !ok {
			t.Fatal("events channel closed before any reading")
		}
		if r.Code != codec.CodePMS3003 {
			t.Fatalf("Code = %d, want %d", r.Code, codec.CodePMS3003)
		}
		if len(r.Payload) != 12 {
			t.Fatalf("len(Payload) = %d, want 12", len(r.Payload))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a reading")
	}

	src.Stop()

	if _, ok := <-src.Events(); ok {
		t.Fatal("events channel should be closed after Stop")
	}
}

func TestSyntheticStartIsIdempotent(t *testing.T) {
	src := producer.NewSynthetic(producer.SyntheticConfig{Code: codec.CodePMS5003, Interval: time.Hour}, nil)
	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	src.Stop()
}
