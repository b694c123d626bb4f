package ramring_test

import (
	"testing"

	"github.com/ourair/sensorlog/internal/clock"
	"github.com/ourair/sensorlog/internal/codec"
	"github.com/ourair/sensorlog/internal/ramring"
)

func newTestRing(t *testing.T) (*ramring.Ring, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(0)
	r := ramring.NewRing(4, 64, 100, 120, clk)
	return r, clk
}

func TestAppendRoundTrip(t *testing.T) {
	r, clk := newTestRing(t)

	idx := r.HeadIndex()
	if idx != 100 {
		t.Fatalf("HeadIndex() = %d, want 100", idx)
	}

	payload := []byte{0xaa, 0xbb}
	clk.Set(10)
	newIdx := r.Append(idx, 5, payload, 0)
	if newIdx != idx {
		t.Fatalf("Append returned %d, want unchanged index %d", newIdx, idx)
	}

	// Leave the head buffer idle past the ring's holdoff (120) so it is
	// offered for writing.
	clk.Set(10 + 121)
	var dst [64]byte
	size, start, index, ok := r.GetBufferToWrite(dst[:])
	if !ok {
		t.Fatalf("GetBufferToWrite: expected data, got none")
	}
	if index != 100 {
		t.Errorf("index = %d, want 100", index)
	}
	if start != 0 {
		t.Errorf("start = %d, want 0", start)
	}

	events, err := codec.DecodeStream(dst[ramring.IndexHeaderSize:size])
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Code != 5 || events[0].Time != 10 {
		t.Errorf("events[0] = %+v", events[0])
	}
	if string(events[0].Payload) != string(payload) {
		t.Errorf("payload = %x, want %x", events[0].Payload, payload)
	}
}

func TestAppendWrongIndexIsRefused(t *testing.T) {
	r, _ := newTestRing(t)

	got := r.Append(999, 1, []byte{1}, 0)
	if got != 100 {
		t.Fatalf("Append with stale index returned %d, want current head 100", got)
	}

	var dst [64]byte
	_, _, _, ok := r.GetBufferToWrite(dst[:])
	if ok {
		t.Fatalf("GetBufferToWrite: expected nothing written after refused append")
	}
}

func TestAppendNoRepeatDropsDuplicate(t *testing.T) {
	r, clk := newTestRing(t)
	idx := r.HeadIndex()

	clk.Set(1)
	idx = r.Append(idx, 7, []byte{1, 2}, 0)
	clk.Set(2)
	idx = r.Append(idx, 7, []byte{3, 4}, codec.NoRepeat)

	// Leave the head buffer idle past the ring's holdoff (120) so it is
	// offered for writing.
	clk.Set(2 + 121)
	var dst [64]byte
	size, _, _, ok := r.GetBufferToWrite(dst[:])
	if !ok {
		t.Fatalf("expected data")
	}
	events, err := codec.DecodeStream(dst[ramring.IndexHeaderSize:size])
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1 (second append should have been dropped)", len(events))
	}
	_ = idx
}

func TestAppendRotatesOnFullBuffer(t *testing.T) {
	r, clk := newTestRing(t)
	idx := r.HeadIndex()

	big := make([]byte, 40)
	clk.Set(1)
	idx = r.Append(idx, 1, big, 0)

	clk.Set(2)
	next := r.Append(idx, 2, big, 0)
	if next == idx {
		t.Fatalf("expected rotation to a new index, got same index %d", idx)
	}
	if next != idx+1 {
		t.Fatalf("new index = %d, want %d", next, idx+1)
	}
	if r.HeadIndex() != next {
		t.Fatalf("HeadIndex() = %d, want %d", r.HeadIndex(), next)
	}
}

func TestGetBufferToWriteHoldsOffIdleHeadBuffer(t *testing.T) {
	r, clk := newTestRing(t)
	idx := r.HeadIndex()

	clk.Set(1)
	r.Append(idx, 1, []byte{1}, 0)

	var dst [64]byte
	clk.Set(50)
	_, _, _, ok := r.GetBufferToWrite(dst[:])
	if ok {
		t.Fatalf("expected holdoff to suppress an early flush")
	}

	clk.Set(1 + 121)
	_, _, _, ok = r.GetBufferToWrite(dst[:])
	if !ok {
		t.Fatalf("expected the head buffer to become eligible once idle past the holdoff")
	}
}

func TestNoteBufferWrittenRetiresTailBuffers(t *testing.T) {
	r, clk := newTestRing(t)
	idx := r.HeadIndex()

	big := make([]byte, 40)
	clk.Set(1)
	idx = r.Append(idx, 1, big, 0)
	clk.Set(2)
	r.Append(idx, 2, big, 0)

	var dst [64]byte
	size, _, index, ok := r.GetBufferToWrite(dst[:])
	if !ok {
		t.Fatalf("expected a buffer to write")
	}
	if index != 100 {
		t.Fatalf("index = %d, want 100", index)
	}

	r.NoteBufferWritten(index, size)

	// The tail buffer (100) is fully saved and should be retired, exposing
	// the rotated buffer (101) as the new nothing-to-write-yet head.
	_, _, nextIndex, ok := r.GetBufferToWrite(dst[:])
	if ok && nextIndex == index {
		t.Fatalf("retired buffer %d was still offered for writing", index)
	}
}
