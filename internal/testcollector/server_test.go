package testcollector_test

import (
	"context"
	"testing"
	"time"

	"github.com/ourair/sensorlog/internal/clock"
	"github.com/ourair/sensorlog/internal/poster"
	"github.com/ourair/sensorlog/internal/testcollector"
)

type fakeFlash struct {
	slice  []byte
	index  uint32
	served bool
	signal chan struct{}
	posted chan [2]uint32
}

func (f *fakeFlash) GetBufferToPost(buf []byte) (size, index, start uint32) {
	if f.served {
		return 0, 0, 0
	}
	f.served = true
	return uint32(copy(buf, f.slice)), f.index, 0
}

func (f *fakeFlash) NoteBufferPosted(index, size uint32) {
	f.posted <- [2]uint32{index, size}
}

func (f *fakeFlash) Signal() <-chan struct{} { return f.signal }

func TestServerAcceptsAndAcknowledgesAPosterRecord(t *testing.T) {
	key := []byte("shared-secret")
	srv, err := testcollector.Listen(key)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	host, port := srv.Addr()
	flash := &fakeFlash{slice: []byte{10, 20, 30}, index: 3, signal: make(chan struct{}, 1), posted: make(chan [2]uint32, 1)}

	p := poster.New(poster.Config{
		SensorID: 7,
		Key:      key,
		Host:     host,
		Port:     port,
		Path:     "/data",
	}, clock.NewFake(1), flash)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	flash.signal <- struct{}{}

	select {
	case got := <-flash.posted:
		if got[0] != 4 || got[1] != 3 {
			t.Fatalf("NoteBufferPosted(%d, %d), want (4, 3)", got[0], got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NoteBufferPosted")
	}
	cancel()
	<-done

	records := srv.Records()
	if len(records) != 1 {
		t.Fatalf("len(Records()) = %d, want 1", len(records))
	}
	if records[0].SensorID != 7 || records[0].Index != 3 {
		t.Errorf("records[0] = %+v", records[0])
	}
}

func TestServerRejectsBadTag(t *testing.T) {
	srv, err := testcollector.Listen([]byte("correct-key"))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	host, port := srv.Addr()
	flash := &fakeFlash{slice: []byte{1, 2, 3}, index: 1, signal: make(chan struct{}, 1), posted: make(chan [2]uint32, 1)}

	p := poster.New(poster.Config{
		SensorID: 1,
		Key:      []byte("wrong-key"),
		Host:     host,
		Port:     port,
		Path:     "/data",
	}, clock.NewFake(1), flash)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	flash.signal <- struct{}{}
	<-done

	if len(srv.Records()) != 0 {
		t.Fatalf("len(Records()) = %d, want 0 for a bad tag", len(srv.Records()))
	}
}
