package codec

// lowResMask clears the bottom 13 bits of a timestamp, per §4.1's
// truncated-time-delta encoding.
const lowResMask = ^uint32(0x1FFF)

// PrepareEvent computes the header bytes for one event given the ring's
// shared "previous event" state (lastCode/lastSize/lastTime, which live at
// buffer-ring granularity, not per producer — see DESIGN.md) and the event
// being appended. It returns the encoded header, the (possibly truncated)
// timestamp actually used — which becomes the new lastTime — and whether
// this event collapsed to the "same code/size" repeat form.
//
// sampledTime is the raw counter reading; PrepareEvent applies the low-res
// truncation itself when lowRes is set and it is safe to do so (truncating
// must never step the clock backwards relative to lastTime).
func PrepareEvent(lastCode uint16, lastSize uint32, lastTime uint32, code uint16, size uint32, sampledTime uint32, lowRes bool) (header []byte, usedTime uint32, repeat bool) {
	t := sampledTime
	if lowRes {
		if lastTime&0x1FFF == 0 || (lastTime&lowResMask) != (t&lowResMask) {
			t &= lowResMask
		}
	}

	delta := t - lastTime // modular 32-bit subtraction, by design (see DESIGN.md)
	truncated := delta&0x1FFF == 0

	repeat = code == lastCode && size == lastSize

	var h []byte
	if repeat {
		if truncated {
			v := uint64(delta>>13)<<2 | 0b10
			h = AppendUvarint(h, v)
		} else {
			v := uint64(delta)<<2 | 0b00
			h = AppendUvarint(h, v)
		}
	} else {
		if truncated {
			h = AppendUvarint(h, uint64(code)<<2|0b11)
			h = AppendUvarint(h, uint64(size))
			h = AppendUvarint(h, uint64(delta>>13))
		} else {
			h = AppendUvarint(h, uint64(code)<<2|0b01)
			h = AppendUvarint(h, uint64(size))
			h = AppendUvarint(h, uint64(delta))
		}
	}
	return h, t, repeat
}

// DecodedEvent is one event recovered by DecodeStream.
type DecodedEvent struct {
	Code    uint16
	Payload []byte
	Time    uint32
}

// DecodeStream decodes the event stream starting at buf[0] (callers pass
// buf[8:] of a buffer/block, past the leading index words) until it
// encounters a 0xFF header byte (the unused-region terminator) or runs out
// of bytes. Reconstructed times are the running sum of deltas and are not
// clamped on the timestamp-wrap Open Question: see DESIGN.md.
func DecodeStream(buf []byte) ([]DecodedEvent, error) {
	var events []DecodedEvent
	var lastCode uint16
	var lastSize uint32
	var lastTime uint32

	pos := 0
	for pos < len(buf) {
		if buf[pos] == 0xFF {
			break
		}

		first, n, err := DecodeUvarint(buf[pos:])
		if err != nil {
			return events, err
		}
		pos += n

		var code uint16
		var size uint32
		var delta uint32
		bit0 := first & 0b01
		bit1 := first & 0b10

		if bit0 == 0 {
			// Repeat form: the whole varint is (delta << 2) | flags; no
			// separate code/size/delta fields follow.
			code = lastCode
			size = lastSize
			if bit1 != 0 {
				delta = uint32(first>>2) << 13
			} else {
				delta = uint32(first >> 2)
			}
		} else {
			code = uint16(first >> 2)
			sz, n2, err := DecodeUvarint(buf[pos:])
			if err != nil {
				return events, err
			}
			pos += n2
			size = uint32(sz)

			deltaRaw, n3, err := DecodeUvarint(buf[pos:])
			if err != nil {
				return events, err
			}
			pos += n3
			if bit1 != 0 {
				delta = uint32(deltaRaw) << 13
			} else {
				delta = uint32(deltaRaw)
			}
		}

		t := lastTime + delta

		if pos+int(size) > len(buf) {
			return events, ErrTruncated
		}
		payload := buf[pos : pos+int(size)]
		pos += int(size)

		events = append(events, DecodedEvent{Code: code, Payload: payload, Time: t})

		lastCode = code
		lastSize = size
		lastTime = t
	}
	return events, nil
}
