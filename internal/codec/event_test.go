package codec_test

import (
	"testing"

	"github.com/ourair/sensorlog/internal/codec"
)

func TestPostTimePayloadRoundTrip(t *testing.T) {
	p := codec.PostTimePayload{SentTime: 111, RecvSec: 222, RecvUsec: 333}
	buf := p.Encode()
	if len(buf) != 12 {
		t.Fatalf("len(buf) = %d, want 12", len(buf))
	}
	got, ok := codec.DecodePostTimePayload(buf)
	if !ok {
		t.Fatal("DecodePostTimePayload: ok = false")
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
}

func TestDecodePostTimePayloadWrongLength(t *testing.T) {
	if _, ok := codec.DecodePostTimePayload(make([]byte, 11)); ok {
		t.Fatal("expected ok = false for wrong length")
	}
}

func TestStartupPayloadRoundTrip(t *testing.T) {
	p := codec.StartupPayload{ResetInfo: []byte("power-on"), RTCCalib: 9999}
	buf := p.Encode()
	if len(buf) != len(p.ResetInfo)+4 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), len(p.ResetInfo)+4)
	}
	got, ok := codec.DecodeStartupPayload(buf)
	if !ok {
		t.Fatal("DecodeStartupPayload: ok = false")
	}
	if string(got.ResetInfo) != "power-on" || got.RTCCalib != 9999 {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeStartupPayloadTooShort(t *testing.T) {
	if _, ok := codec.DecodeStartupPayload(make([]byte, 3)); ok {
		t.Fatal("expected ok = false for buffer shorter than 4 bytes")
	}
}

func TestValidCode(t *testing.T) {
	cases := []struct {
		code uint16
		want bool
	}{
		{0, false},
		{1, true},
		{codec.CodeStartup, true},
		{codec.MaxCode, false},
		{codec.MaxCode - 1, true},
		{codec.MaxCode + 1, false},
	}
	for _, c := range cases {
		if got := codec.ValidCode(c.code); got != c.want {
			t.Errorf("ValidCode(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}
