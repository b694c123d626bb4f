package flashring

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ourair/sensorlog/internal/flashdev"
)

// maxWriteRetries is the number of further erase/program/verify attempts
// made after the first one fails before a sector is given up on and treated
// as successfully written anyway, to avoid an unbounded retry loop against a
// failing part.
const maxWriteRetries = 32

// lookaheadSectors is how far past the sector with the largest recovered
// index Recover searches for a duplicate of that index, which can happen if
// the most recent write landed on a sector that was since skipped over.
const lookaheadSectors = 128

// BufferSource is the RAM-resident side of the pipeline: the flash ring
// pulls buffers to durably persist from it and reports back what has been
// saved. ramring.Ring satisfies this.
type BufferSource interface {
	GetBufferToWrite(dst []byte) (size, start, index uint32, ok bool)
	NoteBufferWritten(index uint32, size uint32)
	Signal() <-chan struct{}
}

// Ring is the flash-resident ring of sectors. Sectors never logically wrap
// away from monotonically increasing indices: the oldest sector is simply
// overwritten once the ring comes back around to it.
type Ring struct {
	dev         flashdev.Device
	firstSector int
	numSectors  int
	sectorSize  int

	// postSignal is the edge-triggered equivalent of the firmware's
	// post_notify, fired after each durable write.
	postSignal chan struct{}

	// mu guards every field below, mirroring the firmware's flash_state_sem:
	// the flasher goroutine (writeBuffer), the poster goroutine
	// (GetBufferToPost/NoteBufferPosted), and the status API's handlers
	// (BlockSize/BlockRange) all reach into the same Ring concurrently.
	mu sync.Mutex

	sector      int // absolute sector currently being written to
	initialized bool

	lastIndexPosted     uint32
	lastIndexSizePosted uint32
}

// NewRing constructs a flash ring over sectors [firstSector, firstSector+numSectors)
// of dev. Call Recover before using it.
func NewRing(dev flashdev.Device, firstSector, numSectors int) *Ring {
	return &Ring{
		dev:         dev,
		firstSector: firstSector,
		numSectors:  numSectors,
		sectorSize:  dev.SectorSize(),
		postSignal:  make(chan struct{}, 1),
	}
}

// Signal fires, edge-triggered, after RunFlasher has durably written a
// buffer, so the poster can check for new data.
func (r *Ring) Signal() <-chan struct{} {
	return r.postSignal
}

func (r *Ring) wrap(sector int) int {
	if sector >= r.firstSector+r.numSectors {
		return r.firstSector
	}
	if sector < r.firstSector {
		return r.firstSector + r.numSectors - 1
	}
	return sector
}

func decodeSectorIndex(dev flashdev.Device, sectorSize, sector int) (uint32, bool, error) {
	buf := make([]byte, 8)
	if err := dev.ReadAt(buf, int64(sector)*int64(sectorSize)); err != nil {
		return 0, false, err
	}
	a := binary.LittleEndian.Uint32(buf[0:4])
	b := binary.LittleEndian.Uint32(buf[4:8])
	if a != ^b {
		return 0, false, nil
	}
	return a, true, nil
}

// Recover scans every sector for the one with the largest valid index,
// resolves ties from a partially-failed write by looking ahead for a
// duplicate, and returns the index the next sector write should use. A ring
// with no valid sectors recovers to index 0.
func (r *Ring) Recover(ctx context.Context) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mostRecent := -1
	var largest uint32
	for i := 0; i < r.numSectors; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		sector := r.firstSector + i
		index, ok, err := decodeSectorIndex(r.dev, r.sectorSize, sector)
		if err != nil {
			return 0, fmt.Errorf("flashring: recover: read sector %d: %w", sector, err)
		}
		if ok && index >= largest {
			mostRecent = sector
			largest = index
		}
	}

	if mostRecent == -1 {
		r.sector = r.firstSector
		r.initialized = false
		return 0, nil
	}

	sector := r.wrap(mostRecent + 1)
	for i := 0; i < lookaheadSectors; i++ {
		index, ok, err := decodeSectorIndex(r.dev, r.sectorSize, sector)
		if err != nil {
			return 0, fmt.Errorf("flashring: recover: read sector %d: %w", sector, err)
		}
		if ok && index == largest {
			mostRecent = sector
		}
		sector = r.wrap(sector + 1)
	}

	r.sector = r.wrap(mostRecent + 1)
	r.initialized = false
	return largest + 1, nil
}

func (r *Ring) sectorOffset(sector int) int64 {
	return int64(sector) * int64(r.sectorSize)
}

func (r *Ring) verifySector(sector int, want []byte) (bool, error) {
	got := make([]byte, len(want))
	if err := r.dev.ReadAt(got, r.sectorOffset(sector)); err != nil {
		return false, err
	}
	for i := range want {
		if got[i] != want[i] {
			return false, nil
		}
	}
	return true, nil
}

// invalidate best-effort erases the current sector so its index no longer
// decodes as valid, then advances the write head past it.
func (r *Ring) invalidate() {
	r.dev.EraseSector(r.sector)
	r.advance()
}

func (r *Ring) advance() {
	r.sector = r.wrap(r.sector + 1)
	r.initialized = false
}

// writeFreshSector erases (if needed) and writes data to the current
// sector, retrying on verification failure up to maxWriteRetries before
// giving up and accepting the sector as written anyway.
func (r *Ring) writeFreshSector(data []byte) error {
	for retries := 0; ; retries++ {
		erased, err := r.dev.SectorErased(r.sector)
		if err == nil && !erased {
			r.dev.EraseSector(r.sector)
		}
		if err := r.dev.ProgramAt(data, r.sectorOffset(r.sector)); err == nil {
			if ok, _ := r.verifySector(r.sector, data); ok {
				r.initialized = true
				return nil
			}
		}
		if retries >= maxWriteRetries {
			r.initialized = true
			return nil
		}
	}
}

// writeBuffer durably persists data (the first size bytes of a RAM buffer,
// index header included) for the given index, started at byte offset start
// within the sector (everything before start was already saved by an
// earlier call). It rewrites in place when the current sector already holds
// this index, otherwise it moves on to the next sector.
func (r *Ring) writeBuffer(data []byte, start, index uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		curIndex, ok, err := decodeSectorIndex(r.dev, r.sectorSize, r.sector)
		if err == nil && ok && curIndex == index {
			if err := r.dev.ProgramAt(data[start:], r.sectorOffset(r.sector)+int64(start)); err == nil {
				if ok, _ := r.verifySector(r.sector, data); ok {
					return nil
				}
			}
			r.invalidate()
		} else {
			r.advance()
		}
	}
	return r.writeFreshSector(data)
}

// RunFlasher drains src whenever it signals or flushInterval elapses,
// persisting every ready buffer to flash, firing Signal and calling posted
// (if non-nil) after each successful write. It returns only when ctx is done.
func (r *Ring) RunFlasher(ctx context.Context, src BufferSource, flushInterval time.Duration, posted func()) error {
	buf := make([]byte, r.sectorSize)
	timer := time.NewTimer(flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-src.Signal():
		case <-timer.C:
		}

		for {
			size, start, index, ok := src.GetBufferToWrite(buf)
			if !ok {
				break
			}
			if err := r.writeBuffer(buf[:size], start, index); err != nil {
				return err
			}
			src.NoteBufferWritten(index, size)
			select {
			case r.postSignal <- struct{}{}:
			default:
			}
			if posted != nil {
				posted()
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(flushInterval)
	}
}

// trailingSize returns the length of buf with any trailing 0xff bytes
// dropped.
func trailingSize(buf []byte) uint32 {
	n := len(buf)
	for n > 0 && buf[n-1] == 0xff {
		n--
	}
	return uint32(n)
}

// GetBufferToPost returns the next slice of durable data the poster should
// send: size bytes of buf starting at file offset start within the sector
// at index. size is zero if there is nothing new to post. The cursor
// (lastIndexPosted/lastIndexSizePosted) tracks what the remote end has
// confirmed; see NoteBufferPosted.
func (r *Ring) GetBufferToPost(buf []byte) (size, index, start uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sectorToPost = -1
	var indexToPost uint32 = 0xffffffff

	if r.initialized {
		if curIndex, ok, _ := decodeSectorIndex(r.dev, r.sectorSize, r.sector); ok {
			index = curIndex
			r.resetCursorIfImplausible(curIndex)
			if curIndex == r.lastIndexPosted {
				return r.resendFrom(r.sector, buf), curIndex, r.lastIndexSizePosted & ^uint32(3)
			}
			sectorToPost = r.sector
			indexToPost = curIndex
		}
	}

	sector := r.wrap(r.sector - 1)
	for {
		curIndex, ok, err := decodeSectorIndex(r.dev, r.sectorSize, sector)
		if ok && err == nil {
			if indexToPost != 0xffffffff && curIndex != indexToPost-1 {
				break
			}
			r.resetCursorIfImplausible(curIndex)
			if curIndex == r.lastIndexPosted {
				if sz := r.resendFrom(sector, buf); sz > 0 {
					return sz, curIndex, r.lastIndexSizePosted & ^uint32(3)
				}
			}
			if curIndex <= r.lastIndexPosted {
				break
			}
			if curIndex < indexToPost {
				indexToPost = curIndex
				sectorToPost = sector
			}
		}
		sector = r.wrap(sector - 1)
		if sector == r.sector {
			break
		}
	}

	index = indexToPost
	start = 0
	if sectorToPost < 0 {
		return 0, index, 0
	}

	full := make([]byte, r.sectorSize)
	if err := r.dev.ReadAt(full, r.sectorOffset(sectorToPost)); err != nil {
		// Flag the failure to the server: an invalid-looking short record.
		binary.LittleEndian.PutUint32(buf[0:4], indexToPost)
		r.lastIndexPosted = indexToPost
		r.lastIndexSizePosted = uint32(r.sectorSize)
		return 4, indexToPost, 0
	}
	copy(buf, full)
	return trailingSize(full), indexToPost, 0
}

// resendFrom reads the tail of a sector already matching lastIndexPosted,
// starting from the word-aligned position already confirmed, and reports
// how much of it is not yet acknowledged.
func (r *Ring) resendFrom(sector int, buf []byte) uint32 {
	if r.lastIndexSizePosted >= uint32(r.sectorSize) {
		return 0
	}
	start := r.lastIndexSizePosted &^ 3
	n := uint32(r.sectorSize) - start
	if err := r.dev.ReadAt(buf[:n], r.sectorOffset(sector)+int64(start)); err != nil {
		return 0
	}
	size := trailingSize(buf[:n])
	if start+size <= r.lastIndexSizePosted {
		return 0
	}
	return size
}

// resetCursorIfImplausible handles the case where the server's confirmed
// cursor claims to be ahead of data that actually exists on flash: that
// can only be stale/corrupt state, so the cursor is pulled back down to the
// data found.
func (r *Ring) resetCursorIfImplausible(foundIndex uint32) {
	if r.lastIndexPosted > foundIndex {
		r.lastIndexPosted = foundIndex
		r.lastIndexSizePosted = 0
	}
}

// NoteBufferPosted records that the server has confirmed size bytes of the
// sector at index.
func (r *Ring) NoteBufferPosted(index, size uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastIndexPosted = index
	r.lastIndexSizePosted = size
}

// BlockSize returns the size and index of the most recent block with index
// <= requestedIndex, searching back from the head. It returns (0, 0) if no
// such block exists.
func (r *Ring) BlockSize(requestedIndex uint32) (size, index uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lastSector := -1

	if r.initialized {
		if curIndex, ok, derr := decodeSectorIndex(r.dev, r.sectorSize, r.sector); derr == nil && ok {
			lastSector = r.sector
			if curIndex <= requestedIndex {
				return r.readSectorSize(r.sector, curIndex)
			}
		}
	}

	sector := r.wrap(r.sector - 1)
	for {
		curIndex, ok, derr := decodeSectorIndex(r.dev, r.sectorSize, sector)
		if derr != nil {
			return 0, 0, derr
		}
		if ok {
			lastSector = sector
			if curIndex <= requestedIndex {
				return r.readSectorSize(sector, curIndex)
			}
		}
		sector = r.wrap(sector - 1)
		if sector == r.sector {
			break
		}
	}

	if lastSector >= 0 {
		if curIndex, ok, derr := decodeSectorIndex(r.dev, r.sectorSize, lastSector); derr == nil && ok {
			return r.readSectorSize(lastSector, curIndex)
		}
	}
	return 0, 0, nil
}

func (r *Ring) readSectorSize(sector int, index uint32) (uint32, uint32, error) {
	buf := make([]byte, r.sectorSize)
	if err := r.dev.ReadAt(buf, r.sectorOffset(sector)); err != nil {
		return 0, 0, err
	}
	return trailingSize(buf), index, nil
}

// ErrBlockNotFound is returned by BlockRange when no sector on flash
// currently carries the requested index.
var ErrBlockNotFound = errors.New("flashring: block not found")

// BlockRange copies buf[start:end] of the sector carrying index into dst.
// end is clamped to the sector size.
func (r *Ring) BlockRange(index, start, end uint32, dst []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if end > uint32(r.sectorSize) {
		end = uint32(r.sectorSize)
	}
	if start > end {
		return ErrBlockNotFound
	}

	if r.initialized {
		if curIndex, ok, err := decodeSectorIndex(r.dev, r.sectorSize, r.sector); err == nil && ok && curIndex == index {
			return r.dev.ReadAt(dst[:end-start], r.sectorOffset(r.sector)+int64(start))
		}
	}

	sector := r.wrap(r.sector - 1)
	for {
		curIndex, ok, err := decodeSectorIndex(r.dev, r.sectorSize, sector)
		if err == nil && ok && curIndex == index {
			return r.dev.ReadAt(dst[:end-start], r.sectorOffset(sector)+int64(start))
		}
		sector = r.wrap(sector - 1)
		if sector == r.sector {
			break
		}
	}
	return ErrBlockNotFound
}

// EraseAll erases every sector in the ring and resets the write head and
// poster cursor, discarding all stored data.
func (r *Ring) EraseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := 0; i < r.numSectors; i++ {
		sector := r.firstSector + i
		erased, err := r.dev.SectorErased(sector)
		if err == nil && erased {
			continue
		}
		if err := r.dev.EraseSector(sector); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.sector = r.firstSector
	r.initialized = false
	r.lastIndexPosted = 0
	r.lastIndexSizePosted = 0
	return firstErr
}
