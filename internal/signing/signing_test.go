package signing_test

import (
	"testing"

	"github.com/ourair/sensorlog/internal/signing"
)

func TestBuildSignedRecordLayout(t *testing.T) {
	slice := []byte{0xaa, 0xbb, 0xcc}
	rec := signing.BuildSignedRecord(1, 2, 3, 4, slice)
	if len(rec) != 16+len(slice) {
		t.Fatalf("len(rec) = %d, want %d", len(rec), 16+len(slice))
	}
	want := []byte{
		1, 0, 0, 0,
		2, 0, 0, 0,
		3, 0, 0, 0,
		4, 0, 0, 0,
		0xaa, 0xbb, 0xcc,
	}
	for i := range want {
		if rec[i] != want[i] {
			t.Fatalf("rec[%d] = %#x, want %#x", i, rec[i], want[i])
		}
	}
}

func TestTagIsDeterministicAndKeyDependent(t *testing.T) {
	rec := signing.BuildSignedRecord(1, 2, 3, 4, []byte("hello"))

	t1 := signing.Tag([]byte("key-a"), rec)
	t2 := signing.Tag([]byte("key-a"), rec)
	if len(t1) != signing.TagSize {
		t.Fatalf("len(tag) = %d, want %d", len(t1), signing.TagSize)
	}
	if string(t1) != string(t2) {
		t.Fatalf("Tag is not deterministic")
	}

	t3 := signing.Tag([]byte("key-b"), rec)
	if string(t1) == string(t3) {
		t.Fatalf("Tag did not change with a different key")
	}
}

func TestExpectedMagic(t *testing.T) {
	if got := signing.ExpectedMagic(0xdead, 0xbeef); got != 0xdead^0xbeef {
		t.Fatalf("ExpectedMagic = %#x, want %#x", got, 0xdead^0xbeef)
	}
}
