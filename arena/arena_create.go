package arena

import (
	"context"

	"github.com/vkngwrapper/buddypool/internal/utils"
	"github.com/vkngwrapper/buddypool/memutils/buddy"
	"github.com/vkngwrapper/buddypool/memutils/metadata"
	"github.com/vkngwrapper/buddypool/memutils/rawmem"
	"golang.org/x/exp/slog"
)

// CreateOptions configures a new Arena
type CreateOptions struct {
	// TotalLevel is log2 of the arena's size in bytes, including the status tree
	TotalLevel int
	// MinLevel is log2 of the smallest block the arena hands out. It must be at least 4.
	MinLevel int
	// Synchronized guards every call with a mutex. Leave it unset when the caller already
	// serializes access to the arena.
	Synchronized bool
	// Provider supplies the arena's memory. rawmem.Default is used when it is nil.
	Provider rawmem.Provider
}

// New creates an Arena over freshly acquired memory. A nil logger logs to slog.Default().
func New(logger *slog.Logger, options CreateOptions) (*Arena, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider := options.Provider
	if provider == nil {
		provider = rawmem.Default
	}

	pool, err := buddy.NewFromProvider(options.TotalLevel, options.MinLevel, provider)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "failed to create arena",
			slog.Int("TotalLevel", options.TotalLevel),
			slog.Int("MinLevel", options.MinLevel),
			slog.Any("error", err),
		)
		return nil, err
	}

	logger.Debug("Arena::New",
		slog.Int("Size", pool.Size()),
		slog.Int("MinBlockSize", pool.MinBlockSize()),
		slog.Int("ReservedSize", pool.ReservedSize()),
	)

	return &Arena{
		logger:   logger,
		mutex:    utils.OptionalRWMutex{UseMutex: options.Synchronized},
		metadata: metadata.NewBuddyBlockMetadata(pool),
	}, nil
}
