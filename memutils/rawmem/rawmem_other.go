//go:build !linux && !darwin

package rawmem

import (
	"io"
	"os"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// Anonymous falls back to the Go heap on platforms where anonymous mappings are not wired up.
type Anonymous struct{}

func (Anonymous) Acquire(size int) ([]byte, error) {
	return Heap{}.Acquire(size)
}

func (Anonymous) Release(buffer []byte) error {
	return nil
}

// FileMapping holds a file's contents in memory. Sync and Close write the buffer back.
type FileMapping struct {
	file *os.File
	data []byte
}

// MapFile loads the first size bytes of the file at path, creating it or extending it with zeroes
// as needed. Existing contents are preserved.
func MapFile(path string, size int) (*FileMapping, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid mapping size: %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		_ = f.Close()
		return nil, cerrors.Wrapf(err, "failed to read %s", path)
	}

	return &FileMapping{file: f, data: data}, nil
}

func (m *FileMapping) Bytes() []byte {
	return m.data
}

func (m *FileMapping) Sync() error {
	if m.data == nil {
		return errors.New("file mapping is closed")
	}
	_, err := m.file.WriteAt(m.data, 0)
	return err
}

func (m *FileMapping) Close() error {
	if m.data == nil {
		return errors.New("file mapping is closed")
	}

	syncErr := m.Sync()
	m.data = nil
	closeErr := m.file.Close()

	return cerrors.CombineErrors(syncErr, closeErr)
}

func (m *FileMapping) Release(buffer []byte) error {
	return m.Close()
}
