package heap

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/pengine/pstd/internal/utils"
	"github.com/pengine/pstd/pages"
	"golang.org/x/exp/slog"
)

const (
	// defaultInitialPoolSize is the value used as InitialPoolSize when none is provided via
	// CreateOptions. It is equal to 1Mb.
	defaultInitialPoolSize int = 1024 * 1024

	// minimumAlignment is the smallest alignment of any allocation, and the granularity of every
	// footprint
	minimumAlignment uint = 8
)

// CreateOptions contains optional settings when creating a Registry
type CreateOptions struct {
	// Flags indicates specific registry behaviors to activate or deactivate
	Flags CreateFlags
	// InitialPoolSize is the size of the first pool, which is reserved by the first allocation.
	// Defaults to 1Mb.
	InitialPoolSize int
	// MinPoolSize is the smallest size of every pool created after the first one, when the existing
	// pools cannot fit an allocation. Defaults to InitialPoolSize.
	MinPoolSize int
}

// NewRegistry creates a Registry that reserves its pools from provider. No memory is reserved until
// the first allocation.
func NewRegistry(logger *slog.Logger, provider *pages.Provider, options CreateOptions) (*Registry, error) {
	if provider == nil {
		return nil, cerrors.New("attempted to create a registry without a page provider")
	}
	if options.InitialPoolSize < 0 {
		return nil, cerrors.Newf("heap.CreateOptions.InitialPoolSize must not be negative, but was %d", options.InitialPoolSize)
	}
	if options.MinPoolSize < 0 {
		return nil, cerrors.Newf("heap.CreateOptions.MinPoolSize must not be negative, but was %d", options.MinPoolSize)
	}

	registry := &Registry{
		logger:          utils.LoggerOrDiscard(logger),
		provider:        provider,
		createFlags:     options.Flags,
		initialPoolSize: options.InitialPoolSize,
		minPoolSize:     options.MinPoolSize,
		live:            swiss.NewMap[uintptr, liveBlock](42),
	}
	registry.owner.Unchecked = options.Flags&RegistryCreateUncheckedOwnership != 0

	if registry.initialPoolSize == 0 {
		registry.initialPoolSize = defaultInitialPoolSize
	}
	if registry.minPoolSize == 0 {
		registry.minPoolSize = registry.initialPoolSize
	}

	return registry, nil
}
