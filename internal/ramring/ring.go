package ramring

import (
	"encoding/binary"
	"sync"

	"github.com/ourair/sensorlog/internal/clock"
	"github.com/ourair/sensorlog/internal/codec"
)

// IndexHeaderSize is the size, in bytes, of the leading index pair written
// into every buffer: a little-endian uint32 index followed by its bitwise
// complement. The complement lets flash recovery detect a buffer whose index
// word was only partially programmed.
const IndexHeaderSize = 8

type buffer struct {
	data      []byte
	size      uint32
	saveSize  uint32
	writeTime uint32
}

func setBufferIndex(data []byte, index uint32) {
	binary.LittleEndian.PutUint32(data[0:4], index)
	binary.LittleEndian.PutUint32(data[4:8], ^index)
}

func bufferIndex(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[0:4])
}

// Ring is the in-RAM FIFO of fixed-size buffers that producers append events
// into. The oldest buffer is discarded if it has not been saved by the time
// the FIFO needs its slot back.
type Ring struct {
	mu sync.Mutex

	bufs       []buffer
	bufferSize int
	head       int
	tail       int

	// holdoff is how long (in clock.Source units) an idle, partially filled
	// head buffer is left before it becomes eligible for a flash write.
	holdoff uint32

	clock clock.Source

	// lastCode/lastSize/lastTime are the header-encoding state of the most
	// recently appended event, shared across every producer and reset
	// whenever the head buffer rotates.
	lastCode uint16
	lastSize uint32
	lastTime uint32

	signal chan struct{}
}

// NewRing allocates a ring of numBuffers buffers, each bufferSize bytes, with
// the head buffer initialized to startIndex. holdoff is the idle time (in
// clk's units) before a partially filled head buffer becomes eligible for a
// flash write.
func NewRing(numBuffers, bufferSize int, startIndex uint32, holdoff uint32, clk clock.Source) *Ring {
	r := &Ring{
		bufs:       make([]buffer, numBuffers),
		bufferSize: bufferSize,
		holdoff:    holdoff,
		clock:      clk,
		signal:     make(chan struct{}, 1),
	}
	for i := range r.bufs {
		r.bufs[i].data = make([]byte, bufferSize)
	}
	r.initBuffer(&r.bufs[r.head], startIndex, clk.Now())
	r.bufs[r.head].size = IndexHeaderSize
	return r
}

func (r *Ring) initBuffer(b *buffer, index uint32, now uint32) {
	for i := range b.data {
		b.data[i] = 0xff
	}
	b.size = 0
	b.saveSize = 0
	b.writeTime = now
	setBufferIndex(b.data, index)
}

func (r *Ring) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Signal fires, edge-triggered, whenever an append may have made a buffer
// eligible for a flash write. It never blocks the appender: a pending signal
// is coalesced rather than queued.
func (r *Ring) Signal() <-chan struct{} {
	return r.signal
}

// HeadIndex returns the index of the buffer currently being written to.
func (r *Ring) HeadIndex() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bufferIndex(r.bufs[r.head].data)
}

// Append encodes one event into the head buffer and returns the index the
// caller should use for its next attempt.
//
// expectedIndex must equal the current head index or the append is refused:
// Append returns the actual head index and writes nothing. This happens when
// a concurrent append has rotated the head buffer; the caller must re-encode
// against the returned index, since delta-encoding state resets at buffer
// boundaries.
//
// If the no-repeat flag is set and this event's code and size match the
// immediately preceding event's, the event is dropped and expectedIndex is
// returned unchanged.
func (r *Ring) Append(expectedIndex uint32, code uint16, payload []byte, flags codec.Flags) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := &r.bufs[r.head]
	currentIndex := bufferIndex(head.data)
	if expectedIndex != currentIndex {
		return currentIndex
	}

	now := r.clock.Now()
	lowRes := flags&codec.LowResTime != 0
	noRepeat := flags&codec.NoRepeat != 0

	if noRepeat && code == r.lastCode && uint32(len(payload)) == r.lastSize {
		return expectedIndex
	}

	header, usedTime, _ := codec.PrepareEvent(r.lastCode, r.lastSize, r.lastTime, code, uint32(len(payload)), now, lowRes)

	total := len(header) + len(payload)
	if total > r.bufferSize-IndexHeaderSize {
		// Cannot ever fit; consume it so the caller does not spin.
		return expectedIndex
	}

	if int(head.size)+total > r.bufferSize {
		newIndex := expectedIndex + 1
		if r.head != r.tail || head.size != head.saveSize {
			r.head = (r.head + 1) % len(r.bufs)
			if r.head == r.tail {
				r.tail = (r.tail + 1) % len(r.bufs)
			}
			head = &r.bufs[r.head]
		}
		r.initBuffer(head, newIndex, now)
		head.size = IndexHeaderSize
		r.lastCode = 0
		r.lastSize = 0
		r.lastTime = 0
		return newIndex
	}

	if head.size <= IndexHeaderSize || head.size == head.saveSize {
		head.writeTime = now
	}

	copy(head.data[head.size:], header)
	copy(head.data[int(head.size)+len(header):], payload)
	head.size += uint32(total)

	r.lastCode = code
	r.lastSize = uint32(len(payload))
	r.lastTime = usedTime

	r.notify()
	return expectedIndex
}

// GetBufferToWrite copies a candidate buffer into dst (which must be at
// least bufferSize long) and reports its total size, the offset already
// saved, and its index. ok is false if there is nothing worth writing right
// now: either every buffer is up to date, or the only pending data is in the
// head buffer and it has not been idle for the configured holdoff.
//
// Buffers are offered oldest-first. The full buffer is always copied,
// trailing 0xff padding included, since a flash write that fails partway
// through may need the whole buffer rewritten to a fresh sector.
func (r *Ring) GetBufferToWrite(dst []byte) (size, start, index uint32, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tail != r.head {
		b := &r.bufs[r.tail]
		if b.size > b.saveSize {
			copy(dst, b.data)
			return b.size, b.saveSize, bufferIndex(b.data), true
		}
		return 0, 0, 0, false
	}

	head := &r.bufs[r.head]
	if head.size > IndexHeaderSize && head.size > head.saveSize {
		if r.clock.Now()-head.writeTime > r.holdoff {
			copy(dst, head.data)
			return head.size, head.saveSize, bufferIndex(head.data), true
		}
	}
	return 0, 0, 0, false
}

// Depth returns the number of buffers currently holding unsaved data,
// including a partially saved head or tail buffer.
func (r *Ring) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tail == r.head {
		if r.bufs[r.head].size > r.bufs[r.head].saveSize {
			return 1
		}
		return 0
	}
	n := r.head - r.tail
	if n < 0 {
		n += len(r.bufs)
	}
	return n + 1
}

// NoteBufferWritten records that size bytes of the buffer identified by
// index have been durably saved, and retires any now-fully-saved buffers
// from the tail. A buffer not found by index is assumed already retired by a
// ring wraparound and is silently ignored.
func (r *Ring) NoteBufferWritten(index uint32, size uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.tail
	for {
		if bufferIndex(r.bufs[i].data) == index {
			break
		}
		if i == r.head {
			return
		}
		i = (i + 1) % len(r.bufs)
	}

	r.bufs[i].saveSize = size
	r.bufs[i].writeTime = r.clock.Now()

	for r.tail != r.head {
		b := &r.bufs[r.tail]
		if b.saveSize == b.size {
			r.tail = (r.tail + 1) % len(r.bufs)
		} else {
			break
		}
	}
}
