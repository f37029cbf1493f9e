//go:build linux || darwin

package rawmem

import (
	"os"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/buddypool/memutils"
	"golang.org/x/sys/unix"
)

// Anonymous is a Provider that maps private anonymous pages outside the Go heap. The mapping is
// rounded up to whole pages but the returned slice has exactly the requested length.
type Anonymous struct{}

func (Anonymous) Acquire(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid buffer size: %d", size)
	}

	pageSize := uint(unix.Getpagesize())
	memutils.DebugCheckPow2(pageSize, "page size")

	mapped := memutils.AlignUp(size, pageSize)
	data, err := unix.Mmap(-1, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, cerrors.Wrapf(err, "mmap of %d anonymous bytes failed", mapped)
	}

	return data[:size], nil
}

func (Anonymous) Release(buffer []byte) error {
	// munmap looks the mapping up through the full capacity
	return unix.Munmap(buffer[:cap(buffer)])
}

// FileMapping is a shared read/write mapping of a file. Changes made through Bytes reach the file
// on Sync or Close.
type FileMapping struct {
	file *os.File
	data []byte
}

// MapFile maps the first size bytes of the file at path, creating it or extending it with zeroes
// as needed. Existing contents are preserved.
func MapFile(path string, size int) (*FileMapping, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid mapping size: %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if st.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, cerrors.Wrapf(err, "failed to extend %s to %d bytes", path, size)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, cerrors.Wrapf(err, "mmap of %s failed", path)
	}

	return &FileMapping{file: f, data: data}, nil
}

// Bytes returns the mapped region. It is nil after Close.
func (m *FileMapping) Bytes() []byte {
	return m.data
}

// Sync flushes the mapped region back to the file.
func (m *FileMapping) Sync() error {
	if m.data == nil {
		return errors.New("file mapping is closed")
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close flushes and unmaps the region and closes the file.
func (m *FileMapping) Close() error {
	if m.data == nil {
		return errors.New("file mapping is closed")
	}

	syncErr := unix.Msync(m.data, unix.MS_SYNC)
	unmapErr := unix.Munmap(m.data)
	m.data = nil
	closeErr := m.file.Close()

	return cerrors.CombineErrors(cerrors.CombineErrors(syncErr, unmapErr), closeErr)
}

// Release closes the mapping. It has the shape of a pool release action so that a pool built
// over Bytes can own the mapping.
func (m *FileMapping) Release(buffer []byte) error {
	return m.Close()
}
