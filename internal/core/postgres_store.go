package core

import (
	"entitygraph/internal/infra/persistence/postgres"
	"entitygraph/pkg/domain"
)

// NewPostgresStore constructs a Postgres-backed registry from the provided DSN.
func NewPostgresStore(dsn string, engine *domain.RulesEngine) (*postgres.Store, error) {
	return postgres.NewStore(dsn, engine)
}
