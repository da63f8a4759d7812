package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// EngineFactories contains the adapter constructors for one engine type.
// Each constructor acquires its own pool lease from the registry; the
// returned adapter's Close releases it.
type EngineFactories struct {
	Tester       func(ctx context.Context, registry *Registry, conn *models.Connection, secret string) (ConnectionTester, error)
	Introspector func(ctx context.Context, registry *Registry, conn *models.Connection, secret string) (SchemaIntrospector, error)
	Executor     func(ctx context.Context, registry *Registry, conn *models.Connection, secret string) (QueryExecutor, error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]EngineFactories)
)

// RegisterEngine is called by each engine package's init function.
// Thread-safe for concurrent init calls.
func RegisterEngine(engineType string, f EngineFactories) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[engineType] = f
}

// SupportedEngines returns the registered engine types.
func SupportedEngines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()

	types := make([]string, 0, len(engines))
	for t := range engines {
		types = append(types, t)
	}
	return types
}

func engineFactories(engineType string) (EngineFactories, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()

	f, ok := engines[engineType]
	if !ok {
		return EngineFactories{}, fmt.Errorf("%w: unsupported engine type %q", apperrors.ErrValidation, engineType)
	}
	return f, nil
}

// Factory creates adapters for registered connections. Services depend on
// this interface so tests can substitute fakes.
type Factory interface {
	Tester(ctx context.Context, conn *models.Connection, secret string) (ConnectionTester, error)
	Introspector(ctx context.Context, conn *models.Connection, secret string) (SchemaIntrospector, error)
	Executor(ctx context.Context, conn *models.Connection, secret string) (QueryExecutor, error)
}

type registryFactory struct {
	registry *Registry
}

// NewFactory creates a Factory that acquires pools from the given registry.
func NewFactory(registry *Registry) Factory {
	return &registryFactory{registry: registry}
}

func (f *registryFactory) Tester(ctx context.Context, conn *models.Connection, secret string) (ConnectionTester, error) {
	ef, err := engineFactories(conn.EngineType)
	if err != nil {
		return nil, err
	}
	return ef.Tester(ctx, f.registry, conn, secret)
}

func (f *registryFactory) Introspector(ctx context.Context, conn *models.Connection, secret string) (SchemaIntrospector, error) {
	ef, err := engineFactories(conn.EngineType)
	if err != nil {
		return nil, err
	}
	return ef.Introspector(ctx, f.registry, conn, secret)
}

func (f *registryFactory) Executor(ctx context.Context, conn *models.Connection, secret string) (QueryExecutor, error) {
	ef, err := engineFactories(conn.EngineType)
	if err != nil {
		return nil, err
	}
	return ef.Executor(ctx, f.registry, conn, secret)
}

// Ensure registryFactory implements Factory at compile time.
var _ Factory = (*registryFactory)(nil)
