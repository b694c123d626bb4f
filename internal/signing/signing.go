package signing

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// TagSize is the length of a SHA3-224 tag in bytes.
const TagSize = 28

// BuildSignedRecord returns sensorID ‖ time ‖ index ‖ start ‖ slice: the
// exact byte sequence that gets tagged and sent as the body of a block post.
func BuildSignedRecord(sensorID, sentTime, index, start uint32, slice []byte) []byte {
	record := make([]byte, 16+len(slice))
	binary.LittleEndian.PutUint32(record[0:4], sensorID)
	binary.LittleEndian.PutUint32(record[4:8], sentTime)
	binary.LittleEndian.PutUint32(record[8:12], index)
	binary.LittleEndian.PutUint32(record[12:16], start)
	copy(record[16:], slice)
	return record
}

// Tag computes SHA3-224(key ‖ signed): a keyed-hash authentication tag, not
// HMAC. key and signed are concatenated directly, with no block-size padding
// or inner/outer hash compression.
func Tag(key, signed []byte) []byte {
	h := sha3.New224()
	h.Write(key)
	h.Write(signed)
	return h.Sum(nil)
}

// ExpectedMagic is the value the response's first 32-bit field must equal
// for the round-trip to be considered mutually authenticated: proof the
// server derived it from the same sentTime this node just sent.
func ExpectedMagic(sensorID, sentTime uint32) uint32 {
	return sensorID ^ sentTime
}
