package flashdev

import (
	"errors"
	"fmt"
	"os"
)

// ErrNotErased is returned by ProgramAt when the write would require
// flipping a 0 bit back to 1, which no NOR part can do without an erase.
var ErrNotErased = errors.New("flashdev: program would set a bit from 0 to 1")

// Device is an erase-block storage device: reads and programs (1->0 only)
// may happen at any offset, but returning a region to all-ones requires
// erasing the whole sector that contains it.
type Device interface {
	// SectorSize is the erase granularity, in bytes.
	SectorSize() int
	// NumSectors is the number of addressable sectors.
	NumSectors() int
	// ReadAt reads len(p) bytes starting at byte offset off.
	ReadAt(p []byte, off int64) error
	// ProgramAt ORs in zero bits from p at byte offset off: it may only turn
	// 1 bits into 0 bits. It returns ErrNotErased if p would require setting
	// any bit back to 1.
	ProgramAt(p []byte, off int64) error
	// EraseSector resets an entire sector to all-ones.
	EraseSector(sector int) error
	// SectorErased reports whether a sector currently reads as all-ones.
	SectorErased(sector int) (bool, error)
}

// FileDevice is a Device backed by a single file on a regular filesystem,
// used in place of a real SPI NOR chip.
type FileDevice struct {
	f          *os.File
	sectorSize int
	numSectors int
}

// OpenFile opens (creating if necessary) a file-backed Device of the given
// geometry. A freshly created file is initialized to all-ones, matching an
// erased NOR part.
func OpenFile(path string, sectorSize, numSectors int) (*FileDevice, error) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flashdev: open %s: %w", path, err)
	}
	d := &FileDevice{f: f, sectorSize: sectorSize, numSectors: numSectors}
	if os.IsNotExist(statErr) {
		if err := d.eraseAll(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

// Close closes the underlying file.
func (d *FileDevice) Close() error { return d.f.Close() }

func (d *FileDevice) eraseAll() error {
	buf := make([]byte, d.sectorSize)
	for i := range buf {
		buf[i] = 0xff
	}
	for s := 0; s < d.numSectors; s++ {
		if _, err := d.f.WriteAt(buf, int64(s)*int64(d.sectorSize)); err != nil {
			return fmt.Errorf("flashdev: init sector %d: %w", s, err)
		}
	}
	return nil
}

func (d *FileDevice) SectorSize() int { return d.sectorSize }
func (d *FileDevice) NumSectors() int { return d.numSectors }

func (d *FileDevice) ReadAt(p []byte, off int64) error {
	_, err := d.f.ReadAt(p, off)
	return err
}

func (d *FileDevice) ProgramAt(p []byte, off int64) error {
	existing := make([]byte, len(p))
	if _, err := d.f.ReadAt(existing, off); err != nil {
		return err
	}
	for i, b := range p {
		// A bit set in b where existing already reads 0 would require
		// setting a 0 bit back to 1, which no NOR program operation can do.
		if b&^existing[i] != 0 {
			return fmt.Errorf("%w: offset %d byte %d", ErrNotErased, off, i)
		}
		existing[i] &= b
	}
	_, err := d.f.WriteAt(existing, off)
	return err
}

func (d *FileDevice) EraseSector(sector int) error {
	buf := make([]byte, d.sectorSize)
	for i := range buf {
		buf[i] = 0xff
	}
	_, err := d.f.WriteAt(buf, int64(sector)*int64(d.sectorSize))
	return err
}

func (d *FileDevice) SectorErased(sector int) (bool, error) {
	buf := make([]byte, d.sectorSize)
	if err := d.ReadAt(buf, int64(sector)*int64(d.sectorSize)); err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != 0xff {
			return false, nil
		}
	}
	return true, nil
}
