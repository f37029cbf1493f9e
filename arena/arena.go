// Package arena wraps a buddy pool for use by application code: optional locking, named
// allocations, structured logging, and a teardown that refuses to release memory that is still
// in use.
package arena

import (
	"context"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/buddypool/internal/utils"
	"github.com/vkngwrapper/buddypool/memutils"
	"github.com/vkngwrapper/buddypool/memutils/metadata"
	"golang.org/x/exp/slog"
)

// ErrUnreleasedMemory is returned from Destroy while allocations are still live
var ErrUnreleasedMemory = errors.New("some allocations were not freed before the destruction of this arena")

// Arena owns a single buddy pool. All methods are safe for concurrent use when the arena was
// created with CreateOptions.Synchronized.
type Arena struct {
	logger   *slog.Logger
	mutex    utils.OptionalRWMutex
	metadata *metadata.BuddyBlockMetadata
}

// Alloc reserves at least size bytes and records name against the allocation. ok is false when
// the arena has no free block large enough.
func (a *Arena) Alloc(size int, name string) (offset int, ok bool, err error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	success, request, err := a.metadata.CreateAllocationRequest(size)
	if err != nil || !success {
		a.logger.Debug("Arena::Alloc failed", slog.Int("Size", size), slog.String("Name", name))
		return 0, false, err
	}

	var userData any
	if name != "" {
		userData = name
	}

	err = a.metadata.Alloc(request, userData)
	if err != nil {
		return 0, false, err
	}

	a.logger.Debug("Arena::Alloc",
		slog.Int("Size", size),
		slog.Int("Offset", request.Item.Offset),
		slog.Int("BlockSize", request.Size),
		slog.String("Name", name),
	)
	return request.Item.Offset, true, nil
}

// Free releases the allocation at offset. Invalid frees are logged and returned; the arena is
// left unchanged.
func (a *Arena) Free(offset int) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.metadata.Free(metadata.BlockAllocationHandle(offset))
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "invalid free",
			slog.Int("offset", offset),
			slog.Any("error", err),
		)
		return err
	}

	a.logger.Debug("Arena::Free", slog.Int("Offset", offset))
	return nil
}

// Bytes returns a view of the first size bytes of the allocation at offset
func (a *Arena) Bytes(offset, size int) ([]byte, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.metadata.Pool().Bytes(offset, size)
}

// Name returns the name recorded for the allocation at offset
func (a *Arena) Name(offset int) (string, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	userData, err := a.metadata.AllocationUserData(metadata.BlockAllocationHandle(offset))
	if err != nil {
		return "", err
	}

	name, _ := userData.(string)
	return name, nil
}

// Statistics returns a detailed snapshot of the arena's allocations and free blocks
func (a *Arena) Statistics() memutils.DetailedStatistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.metadata.AddDetailedStatistics(&stats)
	return stats
}

func (a *Arena) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.metadata.Validate()
}

func (a *Arena) CheckCorruption() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.metadata.Pool().CheckCorruption()
}

// PrintDetailedMap writes a json object describing the arena and each of its blocks
func (a *Arena) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	obj := writer.Object()
	defer obj.End()

	a.metadata.BlockJsonData(obj)

	arrayState := obj.Name("Suballocations").Array()
	defer arrayState.End()

	_ = a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		block := arrayState.Object()
		defer block.End()

		block.Name("Offset").Int(offset)
		block.Name("Size").Int(size)
		if free {
			block.Name("Type").String("FREE")
			return nil
		}

		block.Name("Type").String("USED")
		if name, ok := userData.(string); ok {
			block.Name("Name").String(name)
		}
		return nil
	})
}

// Destroy releases the arena's memory. If any allocations are still live, each is logged, the
// memory is kept, and ErrUnreleasedMemory is returned.
func (a *Arena) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.metadata.IsEmpty() {
		err := a.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			a.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			a.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return ErrUnreleasedMemory
	}

	return a.metadata.Pool().Destroy()
}

func (a *Arena) logUnreleasedMemory(offset, size int, userData any) {
	name, _ := userData.(string)
	if name == "" {
		name = "empty"
	}

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("name", name),
	)
}
