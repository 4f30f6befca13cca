// Package file stores a bond image in a regular file, for host side tooling and
// for targets that expose their storage as a block device.
package file

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb/nvm"
	"github.com/rigado/bonddb/sliceops"
)

// Image is a file backed EEPROM-like medium. Accesses are bracketed by an exclusive
// advisory lock so two tools never interleave on the same image.
type Image struct {
	f      *os.File
	path   string
	size   int64
	locked bool
}

// FlashImage is an Image that also needs sector erases, mirroring a serial flash dump.
type FlashImage struct {
	*Image
	sectorSize int
}

// Open opens or creates the image at path. A missing or short file is padded with
// 0xff up to size, which is how a blank part reads back.
func Open(path string, size int64) (*Image, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid image size %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "can't open image")
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "can't stat image")
	}

	if st.Size() < size {
		pad := make([]byte, size-st.Size())
		sliceops.Fill(pad, 0xff)
		if _, err := f.WriteAt(pad, st.Size()); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "can't extend image")
		}
	}

	return &Image{f: f, path: path, size: size}, nil
}

// OpenFlash opens the image at path as a flash part with the given erase granularity.
func OpenFlash(path string, size int64, sectorSize int) (*FlashImage, error) {
	if sectorSize <= 0 {
		sectorSize = nvm.DefaultSectorSize
	}
	img, err := Open(path, size)
	if err != nil {
		return nil, err
	}
	return &FlashImage{Image: img, sectorSize: sectorSize}, nil
}

func (i *Image) Path() string {
	return i.path
}

func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	return i.f.ReadAt(p, off)
}

func (i *Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > i.size {
		return 0, errors.Wrapf(nvm.ErrOutOfRange, "offset 0x%x len %d", off, len(p))
	}
	n, err := i.f.WriteAt(p, off)
	return n, errors.Wrap(err, "can't write image")
}

// Acquire takes the exclusive lock on the image.
func (i *Image) Acquire() error {
	if i.locked {
		return nil
	}
	if err := lock(i.f); err != nil {
		return errors.Wrap(err, "can't lock image")
	}
	i.locked = true
	return nil
}

// Release flushes the image to disk and drops the lock.
func (i *Image) Release() error {
	if !i.locked {
		return nil
	}
	i.locked = false
	if err := sync(i.f); err != nil {
		unlock(i.f)
		return errors.Wrap(err, "can't sync image")
	}
	return errors.Wrap(unlock(i.f), "can't unlock image")
}

func (i *Image) Close() error {
	if i.locked {
		i.Release()
	}
	return i.f.Close()
}

func (fi *FlashImage) SectorSize() int {
	return fi.sectorSize
}

// EraseSector fills the sector with 0xff. Completes immediately.
func (fi *FlashImage) EraseSector(off int64) error {
	if off%int64(fi.sectorSize) != 0 {
		return errors.Wrapf(nvm.ErrUnaligned, "offset 0x%x", off)
	}
	end := off + int64(fi.sectorSize)
	if end > fi.size {
		end = fi.size
	}
	if off < 0 || off >= end {
		return errors.Wrapf(nvm.ErrOutOfRange, "sector 0x%x", off)
	}
	buf := make([]byte, end-off)
	sliceops.Fill(buf, 0xff)
	_, err := fi.f.WriteAt(buf, off)
	return errors.Wrap(err, "can't erase sector")
}

func (fi *FlashImage) Busy() (bool, error) {
	return false, nil
}
