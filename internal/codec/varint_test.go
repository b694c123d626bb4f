package codec_test

import (
	"testing"

	"github.com/ourair/sensorlog/internal/codec"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 127, 128, 300, 1 << 20, 1<<32 - 1, 1 << 40}
	for _, v := range cases {
		buf := codec.AppendUvarint(nil, v)
		got, n, err := codec.DecodeUvarint(buf)
		if err != nil {
			t.Fatalf("v=%d: DecodeUvarint: %v", v, err)
		}
		if got != v {
			t.Errorf("v=%d: got %d", v, got)
		}
		if n != len(buf) {
			t.Errorf("v=%d: consumed %d bytes, want %d", v, n, len(buf))
		}
	}
}

func TestUvarintSingleByteForSmallValues(t *testing.T) {
	for v := uint64(0); v < 0x80; v++ {
		buf := codec.AppendUvarint(nil, v)
		if len(buf) != 1 {
			t.Fatalf("v=%d: len(buf) = %d, want 1", v, len(buf))
		}
	}
}

func TestDecodeUvarintTruncated(t *testing.T) {
	_, _, err := codec.DecodeUvarint([]byte{0x80, 0x80})
	if err != codec.ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 63, -64, 64, -65, 1000, -1000, 1 << 20, -(1 << 20)}
	for _, v := range cases {
		buf := codec.AppendVarint(nil, v)
		got, n, err := codec.DecodeVarint(buf)
		if err != nil {
			t.Fatalf("v=%d: DecodeVarint: %v", v, err)
		}
		if got != v {
			t.Errorf("v=%d: got %d", v, got)
		}
		if n != len(buf) {
			t.Errorf("v=%d: consumed %d bytes, want %d", v, n, len(buf))
		}
	}
}

func TestVarintSingleByteRange(t *testing.T) {
	for v := int32(-64); v <= 63; v++ {
		buf := codec.AppendVarint(nil, v)
		if len(buf) != 1 {
			t.Fatalf("v=%d: len(buf) = %d, want 1", v, len(buf))
		}
	}
	buf := codec.AppendVarint(nil, 64)
	if len(buf) != 2 {
		t.Fatalf("v=64: len(buf) = %d, want 2", len(buf))
	}
}
