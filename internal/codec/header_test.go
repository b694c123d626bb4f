package codec_test

import (
	"bytes"
	"testing"

	"github.com/ourair/sensorlog/internal/codec"
)

// streamBuilder is a tiny harness mirroring ramring.Ring.Append's use of
// PrepareEvent: it threads lastCode/lastSize/lastTime through a sequence of
// events and returns the concatenated encoded stream.
type streamBuilder struct {
	buf      []byte
	lastCode uint16
	lastSize uint32
	lastTime uint32
}

func (b *streamBuilder) append(code uint16, payload []byte, sampledTime uint32, lowRes bool) {
	header, usedTime, _ := codec.PrepareEvent(b.lastCode, b.lastSize, b.lastTime, code, uint32(len(payload)), sampledTime, lowRes)
	b.buf = append(b.buf, header...)
	b.buf = append(b.buf, payload...)
	b.lastCode = code
	b.lastSize = uint32(len(payload))
	b.lastTime = usedTime
}

func TestDecodeStreamRoundTripsDistinctEvents(t *testing.T) {
	var b streamBuilder
	b.append(1, []byte{0xAA}, 1000, false)
	b.append(2, []byte{0xBB, 0xCC}, 1050, false)
	b.append(1, []byte{0xDD}, 2000, false)

	events, err := codec.DecodeStream(b.buf)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	want := []struct {
		code uint16
		time uint32
		pl   []byte
	}{
		{1, 1000, []byte{0xAA}},
		{2, 1050, []byte{0xBB, 0xCC}},
		{1, 2000, []byte{0xDD}},
	}
	for i, w := range want {
		e := events[i]
		if e.Code != w.code || e.Time != w.time || !bytes.Equal(e.Payload, w.pl) {
			t.Errorf("events[%d] = %+v, want code=%d time=%d payload=%v", i, e, w.code, w.time, w.pl)
		}
	}
}

func TestDecodeStreamRoundTripsRepeatForm(t *testing.T) {
	var b streamBuilder
	b.append(5, []byte{1, 2, 3, 4}, 500, false)
	// Same code and size as the previous event: collapses to the repeat
	// header form, which packs the whole delta into the single flag varint.
	b.append(5, []byte{9, 9, 9, 9}, 510, false)
	b.append(5, []byte{7, 7, 7, 7}, 10000, false)

	events, err := codec.DecodeStream(b.buf)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[1].Time != 510 || events[2].Time != 10000 {
		t.Errorf("events[1].Time=%d events[2].Time=%d, want 510 and 10000", events[1].Time, events[2].Time)
	}
	if !bytes.Equal(events[1].Payload, []byte{9, 9, 9, 9}) {
		t.Errorf("events[1].Payload = %v", events[1].Payload)
	}
}

func TestDecodeStreamStopsAtPadding(t *testing.T) {
	var b streamBuilder
	b.append(1, []byte{0x11}, 10, false)
	padded := append(append([]byte(nil), b.buf...), 0xff, 0xff, 0xff)

	events, err := codec.DecodeStream(padded)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
}

func TestDecodeStreamLowResTruncatesDelta(t *testing.T) {
	var b streamBuilder
	b.append(3, []byte{0x01}, 1<<13, true)
	b.append(3, []byte{0x02}, (1<<13)+(1<<14), true)

	events, err := codec.DecodeStream(b.buf)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[1].Time&0x1FFF != 0 {
		t.Errorf("events[1].Time = %d, want low 13 bits clear", events[1].Time)
	}
}
