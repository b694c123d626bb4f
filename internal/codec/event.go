package codec

import "encoding/binary"

// Flags carries the per-append hints a producer passes to ramring.Ring.Append.
type Flags uint8

const (
	// LowResTime permits dropping the bottom 13 bits of the absolute
	// timestamp when it cannot step the clock backwards.
	LowResTime Flags = 1 << iota
	// NoRepeat drops the event entirely if it would encode as a
	// same-code/same-size repeat of the immediately preceding event.
	NoRepeat
)

// Well-known event codes (spec.md §6). Additional codes for other sensors
// are registered by specification, not negotiated; the core only reserves
// and interprets these four.
const (
	CodePMS3003  uint16 = 1 // PMS3003 particle counts, opaque payload
	CodePMS5003  uint16 = 2 // PMS5003/7003 particle counts, opaque payload
	CodePostTime uint16 = 3 // sent_time, recv_sec, recv_usec
	CodeStartup  uint16 = 4 // reset-info blob + rtc-calibration
)

// MaxCode is the largest event code representable: codes occupy 14 bits
// (0 <= code < 2^14) per the data model, and bit pattern (code<<2)|0b01 or
// 0b11 must retain a zero bit in its low five bits (§4.1) so that 0xFF can
// never be mistaken for a legal header byte.
const MaxCode = 1<<14 - 1

// ValidCode reports whether code is usable as an event code: in range, and
// not all-ones in its low three bits. Such a code would make the low five
// bits of the (code<<2)|0b11 header all ones, so that header would lack the
// zero bit every first header byte must carry there.
func ValidCode(code uint16) bool {
	if code > MaxCode {
		return false
	}
	return code&0x7 != 0x7
}

// PostTimePayload is the fixed 12-byte payload of a POST_TIME event
// (code 3): the RTC counter value at send time, and the server's wall-clock
// response, used offline to correlate monotonic counter values with real
// time.
type PostTimePayload struct {
	SentTime uint32
	RecvSec  uint32
	RecvUsec uint32
}

// Encode returns the 12-byte wire representation of p.
func (p PostTimePayload) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], p.SentTime)
	binary.LittleEndian.PutUint32(buf[4:8], p.RecvSec)
	binary.LittleEndian.PutUint32(buf[8:12], p.RecvUsec)
	return buf
}

// DecodePostTimePayload parses a 12-byte POST_TIME payload.
func DecodePostTimePayload(buf []byte) (PostTimePayload, bool) {
	if len(buf) != 12 {
		return PostTimePayload{}, false
	}
	return PostTimePayload{
		SentTime: binary.LittleEndian.Uint32(buf[0:4]),
		RecvSec:  binary.LittleEndian.Uint32(buf[4:8]),
		RecvUsec: binary.LittleEndian.Uint32(buf[8:12]),
	}, true
}

// StartupPayload is the payload of a STARTUP event (code 4): an opaque
// reset-info blob supplied by the host (crash reason, reset cause, etc.)
// plus a 32-bit RTC calibration reading.
type StartupPayload struct {
	ResetInfo []byte
	RTCCalib  uint32
}

// Encode returns the wire representation of p: the reset-info blob followed
// by the 4-byte little-endian calibration value.
func (p StartupPayload) Encode() []byte {
	buf := make([]byte, len(p.ResetInfo)+4)
	copy(buf, p.ResetInfo)
	binary.LittleEndian.PutUint32(buf[len(p.ResetInfo):], p.RTCCalib)
	return buf
}

// DecodeStartupPayload parses a STARTUP payload, requiring at least 4 bytes.
func DecodeStartupPayload(buf []byte) (StartupPayload, bool) {
	if len(buf) < 4 {
		return StartupPayload{}, false
	}
	n := len(buf) - 4
	return StartupPayload{
		ResetInfo: append([]byte(nil), buf[:n]...),
		RTCCalib:  binary.LittleEndian.Uint32(buf[n:]),
	}, true
}
