// Package rawmem hands out the contiguous byte spans that buddy pools are carved from. Anonymous
// mappings back self-allocated pools, and file mappings back pools whose layout should outlive the
// process.
package rawmem

import "github.com/pkg/errors"

//go:generate mockgen -destination=./mocks/provider.go -package=mock_rawmem . Provider

// Provider acquires and releases raw buffers. Release is always called with the exact slice that
// Acquire returned.
type Provider interface {
	Acquire(size int) ([]byte, error)
	Release(buffer []byte) error
}

// ErrNotSupported is returned by file mapping operations on platforms without mmap
var ErrNotSupported = errors.New("memory mapping is not supported on this platform")

// Default is the provider used by self-allocating pools
var Default Provider = Anonymous{}

// Heap is a Provider backed by the Go heap. Release drops the buffer for the garbage collector.
type Heap struct{}

func (Heap) Acquire(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid buffer size: %d", size)
	}
	return make([]byte, size), nil
}

func (Heap) Release(buffer []byte) error {
	return nil
}
