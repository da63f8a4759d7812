package postgres

import (
	"context"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

func init() {
	datasource.RegisterEngine(models.EnginePostgres, datasource.EngineFactories{
		Tester: func(ctx context.Context, registry *datasource.Registry, conn *models.Connection, secret string) (datasource.ConnectionTester, error) {
			return NewTester(ctx, registry, conn, secret)
		},
		Introspector: func(ctx context.Context, registry *datasource.Registry, conn *models.Connection, secret string) (datasource.SchemaIntrospector, error) {
			return NewIntrospector(ctx, registry, conn, secret)
		},
		Executor: func(ctx context.Context, registry *datasource.Registry, conn *models.Connection, secret string) (datasource.QueryExecutor, error) {
			return NewExecutor(ctx, registry, conn, secret)
		},
	})
}
